package detector

import (
	"sort"

	flatbush "github.com/bmharper/flatbush-go"

	"github.com/MeKo-Tech/framescan/internal/utils"
)

// Suppress runs greedy non-maximum suppression and returns the kept boxes in
// descending score order.
func Suppress(candidates []Candidate, scoreThreshold float32, iouThreshold float64) []utils.BoundingBox {
	kept := SuppressCandidates(candidates, scoreThreshold, iouThreshold)
	boxes := make([]utils.BoundingBox, len(kept))
	for i, c := range kept {
		boxes[i] = c.Box
	}
	return boxes
}

// SuppressCandidates is Suppress keeping the scores. Candidates below
// scoreThreshold are dropped first; equal scores keep their input order.
// A candidate is removed when its IoU with a kept box is strictly greater
// than iouThreshold.
func SuppressCandidates(candidates []Candidate, scoreThreshold float32, iouThreshold float64) []Candidate {
	pool := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Score >= scoreThreshold {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		return []Candidate{}
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Score > pool[j].Score })

	suppressed := make([]bool, len(pool))
	kept := make([]Candidate, 0, len(pool))

	// With a negative threshold even disjoint boxes suppress each other, so
	// the spatial index cannot narrow the search.
	if iouThreshold < 0 {
		return append(kept, pool[0])
	}

	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(pool))
	for _, c := range pool {
		b := c.Box
		fb.Add(int32(b.X), int32(b.Y), int32(b.Right()), int32(b.Bottom()))
	}
	fb.Finish()

	var near []int
	for i, c := range pool {
		if suppressed[i] {
			continue
		}
		kept = append(kept, c)
		b := c.Box
		near = fb.SearchFast(int32(b.X), int32(b.Y), int32(b.Right()), int32(b.Bottom()), near)
		for _, j := range near {
			if j <= i || suppressed[j] {
				continue
			}
			if utils.IoU(b, pool[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
