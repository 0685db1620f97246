package support

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/MeKo-Tech/framescan/internal/detector"
	"github.com/MeKo-Tech/framescan/internal/pipeline"
	"github.com/MeKo-Tech/framescan/internal/server"
	"github.com/MeKo-Tech/framescan/internal/utils"
	"github.com/MeKo-Tech/framescan/internal/video"
)

// runTimeout bounds every blocking step so a stuck run fails the scenario
// instead of hanging the suite.
const runTimeout = 10 * time.Second

// TestContext holds the state of one scenario.
type TestContext struct {
	// Pipeline state
	Detector     *StubDetector
	Frames       []image.Image
	ReportTotal  *int
	SequenceDir  string
	Orchestrator *pipeline.Orchestrator
	LastError    error

	// Event capture
	events      []pipeline.Event
	eventsMu    sync.Mutex
	unsubscribe func()
	eventsDone  chan struct{}

	// Decoder state
	Candidates []detector.Candidate
	Kept       []utils.BoundingBox

	// Server state
	Server     *server.Server
	HTTPServer *httptest.Server
	JobID      string
	LastStatus int
	LastBody   []byte

	// Test artifacts
	TempDir string
}

// NewTestContext creates a scenario context with its own temp directory.
func NewTestContext() (*TestContext, error) {
	dir, err := os.MkdirTemp("", "framescan-it-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return &TestContext{
		Detector: &StubDetector{},
		TempDir:  dir,
	}, nil
}

// Cleanup stops servers and removes scenario artifacts.
func (testCtx *TestContext) Cleanup() error {
	var errs []error
	if testCtx.unsubscribe != nil {
		testCtx.unsubscribe()
		testCtx.unsubscribe = nil
	}
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
	if testCtx.Server != nil {
		if err := testCtx.Server.Close(); err != nil {
			errs = append(errs, err)
		}
		testCtx.Server = nil
	}
	if testCtx.TempDir != "" {
		if err := os.RemoveAll(testCtx.TempDir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StubDetector reports one box per frame whose X is the red level of the
// top-left pixel, so frames with different content yield different boxes.
type StubDetector struct {
	mu    sync.Mutex
	err   error
	calls int
}

// FailWith makes every later Detect call return err.
func (d *StubDetector) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// Calls returns how many frames reached the detector.
func (d *StubDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *StubDetector) Detect(ctx context.Context, img image.Image, _ detector.DetectOptions) (*detector.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.calls++
	err := d.err
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	r, _, _, _ := img.At(b.Min.X, b.Min.Y).RGBA()
	box := utils.BoundingBox{X: int(r >> 8), Y: 1, Width: 4, Height: 2}
	return &detector.Result{Boxes: []utils.BoundingBox{box}, Kept: 1, CandidateCount: 1, Frame: utils.ToNRGBA(img)}, nil
}

// memoryOpener serves the scenario frames for any path.
func (testCtx *TestContext) memoryOpener() video.Opener {
	return func(_ context.Context, _ string) (video.Source, error) {
		var opts []video.MemoryOption
		if testCtx.ReportTotal != nil {
			opts = append(opts, video.WithReportedTotal(*testCtx.ReportTotal))
		}
		return video.NewMemorySource(testCtx.Frames, opts...), nil
	}
}

func (testCtx *TestContext) options(opener video.Opener) pipeline.Options {
	return pipeline.Options{
		SimilarityThreshold: pipeline.DefaultSimilarityThreshold,
		Opener:              opener,
	}
}

func (testCtx *TestContext) recordEvents(events <-chan pipeline.Event) {
	done := make(chan struct{})
	testCtx.eventsDone = done
	go func() {
		defer close(done)
		for ev := range events {
			testCtx.eventsMu.Lock()
			testCtx.events = append(testCtx.events, ev)
			testCtx.eventsMu.Unlock()
		}
	}()
}

// Events returns the events seen so far.
func (testCtx *TestContext) Events() []pipeline.Event {
	testCtx.eventsMu.Lock()
	defer testCtx.eventsMu.Unlock()
	return append([]pipeline.Event(nil), testCtx.events...)
}
