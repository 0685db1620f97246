package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MeKo-Tech/framescan/internal/utils"
)

func TestIsDuplicateOfLast(t *testing.T) {
	a := utils.BoundingBox{X: 1, Y: 2, Width: 3, Height: 4}
	b := utils.BoundingBox{X: 5, Y: 6, Width: 7, Height: 8}
	det := func(boxes ...utils.BoundingBox) Detection { return NewDetection(1, nil, boxes) }

	tests := []struct {
		name      string
		candidate Detection
		last      *Detection
		want      bool
	}{
		{"no history", det(a), nil, false},
		{"same boxes", det(a, b), ptr(det(a, b)), true},
		{"both empty", det(), ptr(det()), true},
		{"different order", det(a, b), ptr(det(b, a)), false},
		{"candidate longer", det(a, b), ptr(det(a)), false},
		{"last longer", det(a), ptr(det(a, b)), false},
		{"one box moved", det(a), ptr(det(utils.BoundingBox{X: 2, Y: 2, Width: 3, Height: 4})), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDuplicateOfLast(tt.candidate, tt.last))
			if tt.last != nil {
				assert.Equal(t, tt.want, IsDuplicateOfLast(*tt.last, &tt.candidate), "comparison must be symmetric")
			}
		})
	}
}

func ptr(d Detection) *Detection { return &d }
