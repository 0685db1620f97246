package support

import (
	"fmt"
	"strconv"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/framescan/internal/detector"
	"github.com/MeKo-Tech/framescan/internal/onnx/mock"
	"github.com/MeKo-Tech/framescan/internal/utils"
)

// RegisterDecoderSteps registers the decode and suppression steps. They
// drive the detector's post-processing directly with synthetic network
// output, so no model is needed.
func (testCtx *TestContext) RegisterDecoderSteps(sc *godog.ScenarioContext) {
	var east *mock.EASTOutput

	sc.Step(`^an EAST output of (\d+)x(\d+) cells$`, func(w, h int) error {
		east = mock.NewEASTOutput(w, h)
		return nil
	})
	sc.Step(`^cell (\d+),(\d+) scores ([\d.]+) with distances top (\d+) right (\d+) bottom (\d+) left (\d+)$`,
		func(x, y int, score float64, top, right, bottom, left int) error {
			if east == nil {
				return fmt.Errorf("no EAST output defined")
			}
			east.SetCell(x, y, float32(score), float32(top), float32(right), float32(bottom), float32(left), 0)
			return nil
		})
	sc.Step(`^the output is decoded for a (\d+)x(\d+) frame at threshold ([\d.]+)$`, func(w, h int, threshold float64) error {
		if east == nil {
			return fmt.Errorf("no EAST output defined")
		}
		scores, geometry := east.Tensors()
		candidates, err := detector.Decode(detector.ScoreGeometry{Scores: scores, Geometry: geometry}, w, h, float32(threshold))
		if err != nil {
			return err
		}
		testCtx.Candidates = candidates
		return nil
	})
	sc.Step(`^a candidate box at (\d+),(\d+) of (\d+)x(\d+) with score ([\d.]+)$`, testCtx.aCandidateBox)
	sc.Step(`^the candidates are suppressed at score ([\d.]+) and IoU ([\d.]+)$`, testCtx.theCandidatesAreSuppressed)
	sc.Step(`^(\d+) candidates? (?:was|were) decoded$`, testCtx.candidatesWereDecoded)
	sc.Step(`^the kept boxes are:$`, testCtx.theKeptBoxesAre)
	sc.Step(`^the IoU of the first two candidates is ([\d.]+)$`, testCtx.theIoUOfTheFirstTwoCandidatesIs)
}

func (testCtx *TestContext) aCandidateBox(x, y, w, h int, score float64) error {
	testCtx.Candidates = append(testCtx.Candidates, detector.Candidate{
		Box:   utils.BoundingBox{X: x, Y: y, Width: w, Height: h},
		Score: float32(score),
	})
	return nil
}

func (testCtx *TestContext) theCandidatesAreSuppressed(score, iou float64) error {
	testCtx.Kept = detector.Suppress(testCtx.Candidates, float32(score), iou)
	return nil
}

func (testCtx *TestContext) candidatesWereDecoded(n int) error {
	if len(testCtx.Candidates) != n {
		return fmt.Errorf("decoded %d candidates, want %d: %v", len(testCtx.Candidates), n, testCtx.Candidates)
	}
	return nil
}

func (testCtx *TestContext) theIoUOfTheFirstTwoCandidatesIs(want float64) error {
	if len(testCtx.Candidates) < 2 {
		return fmt.Errorf("need two candidates, have %d", len(testCtx.Candidates))
	}
	got := utils.IoU(testCtx.Candidates[0].Box, testCtx.Candidates[1].Box)
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		return fmt.Errorf("IoU = %v, want %v", got, want)
	}
	return nil
}

// theKeptBoxesAre compares the kept boxes, in order, against a table with
// x, y, width and height columns.
func (testCtx *TestContext) theKeptBoxesAre(table *godog.Table) error {
	if len(table.Rows) == 0 {
		return fmt.Errorf("table has no header")
	}
	var want []utils.BoundingBox
	for _, row := range table.Rows[1:] {
		if len(row.Cells) != 4 {
			return fmt.Errorf("row has %d cells, want 4", len(row.Cells))
		}
		var v [4]int
		for i, c := range row.Cells {
			n, err := strconv.Atoi(c.Value)
			if err != nil {
				return fmt.Errorf("invalid cell %q: %w", c.Value, err)
			}
			v[i] = n
		}
		want = append(want, utils.BoundingBox{X: v[0], Y: v[1], Width: v[2], Height: v[3]})
	}
	if len(testCtx.Kept) != len(want) {
		return fmt.Errorf("kept %v, want %v", testCtx.Kept, want)
	}
	for i := range want {
		if testCtx.Kept[i] != want[i] {
			return fmt.Errorf("kept box %d is %v, want %v", i, testCtx.Kept[i], want[i])
		}
	}
	return nil
}
