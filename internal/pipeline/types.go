package pipeline

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/framescan/internal/utils"
)

// ErrAlreadyRunning is returned when a run is started while another one is
// still in progress on the same orchestrator.
var ErrAlreadyRunning = errors.New("a video is already being processed")

// State is the lifecycle state of an orchestrator run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Detection is one retained result: the working frame and the boxes kept
// after suppression. It is not modified after creation.
type Detection struct {
	ID         string              `json:"id"`
	FrameIndex int                 `json:"frame_index"`
	Frame      *image.NRGBA        `json:"-"`
	Boxes      []utils.BoundingBox `json:"boxes"`
	CreatedAt  time.Time           `json:"created_at"`
}

// NewDetection stamps a detection with a fresh ID.
func NewDetection(frameIndex int, frame *image.NRGBA, boxes []utils.BoundingBox) Detection {
	if boxes == nil {
		boxes = []utils.BoundingBox{}
	}
	return Detection{
		ID:         uuid.NewString(),
		FrameIndex: frameIndex,
		Frame:      frame,
		Boxes:      boxes,
		CreatedAt:  time.Now(),
	}
}

func (d Detection) clone() Detection {
	d.Boxes = append([]utils.BoundingBox{}, d.Boxes...)
	return d
}

// Stage names the loop step a frame error happened in.
type Stage string

const (
	StageOpen   Stage = "open"
	StageRead   Stage = "read"
	StageDetect Stage = "detect"
)

// FrameError attributes a run failure to a frame and a loop stage.
type FrameError struct {
	Frame int
	Stage Stage
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d: %s: %v", e.Frame, e.Stage, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Snapshot is a consistent view of the session for status endpoints.
type Snapshot struct {
	State        State         `json:"state"`
	CurrentFrame int           `json:"current_frame"`
	LastFrame    int           `json:"last_frame"`
	Progress     float64       `json:"progress"`
	FPS          float64       `json:"fps"`
	FrameTime    time.Duration `json:"frame_time_ns"`
	ETA          time.Duration `json:"eta_ns"`
	Detections   int           `json:"detections"`
	Message      string        `json:"message"`
	Error        string        `json:"error,omitempty"`
}
