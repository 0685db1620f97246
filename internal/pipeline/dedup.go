package pipeline

import "github.com/MeKo-Tech/framescan/internal/utils"

// IsDuplicateOfLast reports whether candidate carries exactly the boxes of
// the last retained detection, in the same order.
func IsDuplicateOfLast(candidate Detection, last *Detection) bool {
	if last == nil {
		return false
	}
	if len(candidate.Boxes) != len(last.Boxes) {
		return false
	}
	for i := range candidate.Boxes {
		if !utils.BoxesEqual(candidate.Boxes[i], last.Boxes[i]) {
			return false
		}
	}
	return true
}
