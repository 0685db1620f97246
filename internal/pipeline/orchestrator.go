package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/framescan/internal/common"
	"github.com/MeKo-Tech/framescan/internal/detector"
	"github.com/MeKo-Tech/framescan/internal/video"
)

// FrameDetector finds text boxes in one frame. *detector.Detector
// implements it.
type FrameDetector interface {
	Detect(ctx context.Context, img image.Image, opts detector.DetectOptions) (*detector.Result, error)
}

// Options configures an Orchestrator.
type Options struct {
	// SimilarityThreshold is the mean absolute pixel difference (0..255)
	// under which a frame is skipped as unchanged.
	SimilarityThreshold float64
	DrawOverlay         bool
	OverlayColor        color.Color
	OverlayThickness    int
	// ModelPath, when set, is checked for access before every run.
	ModelPath string
	Opener    video.Opener
	Progress  ProgressCallback
	// Clock drives frame timing; nil means the wall clock.
	Clock common.Clock
	// EventTimeout bounds delivery of detection and state events to one
	// subscriber. Zero means DefaultEventTimeout.
	EventTimeout time.Duration
}

// SingleFrameOptions overrides detection settings for ProcessSingleFrame.
type SingleFrameOptions struct {
	Confidence *float32
	Color      color.Color
}

// Orchestrator runs the per-frame detection loop over a video and keeps
// the resulting detection history.
type Orchestrator struct {
	opts     Options
	detector FrameDetector
	session  *session
	events   *broker

	runMu   sync.Mutex
	running bool
}

// NewOrchestrator wires a detector into a new orchestrator.
func NewOrchestrator(det FrameDetector, opts Options) *Orchestrator {
	if opts.Progress == nil {
		opts.Progress = NoOpProgressCallback{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Opener == nil {
		opts.Opener = video.NewOpener(video.Options{})
	}
	return &Orchestrator{
		opts:     opts,
		detector: det,
		session:  newSession(),
		events:   newBroker(opts.EventTimeout),
	}
}

// Run is the handle of a run started with Start.
type Run struct {
	done chan struct{}
	err  error
}

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes and returns its error.
func (r *Run) Wait() error {
	<-r.done
	return r.err
}

// Err returns the run's error once finished, nil before.
func (r *Run) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

func (o *Orchestrator) claim() bool {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	return true
}

func (o *Orchestrator) release() {
	o.runMu.Lock()
	o.running = false
	o.runMu.Unlock()
}

// ProcessVideo opens path and processes it to the end. It returns
// ErrAlreadyRunning if another run is in progress.
func (o *Orchestrator) ProcessVideo(ctx context.Context, path string) error {
	if !o.claim() {
		return ErrAlreadyRunning
	}
	defer o.release()
	return o.processPath(ctx, path)
}

// Start runs ProcessVideo on its own goroutine.
func (o *Orchestrator) Start(ctx context.Context, path string) *Run {
	r := &Run{done: make(chan struct{})}
	if !o.claim() {
		r.err = ErrAlreadyRunning
		close(r.done)
		return r
	}
	go func() {
		defer close(r.done)
		defer o.release()
		r.err = o.processPath(ctx, path)
	}()
	return r
}

// ProcessSource runs the loop over an already opened source. The source is
// not closed.
func (o *Orchestrator) ProcessSource(ctx context.Context, src video.Source) error {
	if !o.claim() {
		return ErrAlreadyRunning
	}
	defer o.release()
	o.begin(ctx, src.TotalFrameCount())
	return o.finish(ctx, o.loop(ctx, src))
}

func (o *Orchestrator) processPath(ctx context.Context, path string) error {
	if o.opts.ModelPath != "" {
		if err := detector.VerifyModelFileAccess(o.opts.ModelPath); err != nil {
			o.begin(ctx, 0)
			return o.finish(ctx, err)
		}
	}
	src, err := o.opts.Opener(ctx, path)
	if err != nil {
		o.begin(ctx, 0)
		return o.finish(ctx, &FrameError{Frame: 0, Stage: StageOpen, Err: err})
	}
	defer func() {
		if err := src.Close(); err != nil {
			slog.Warn("Failed to close video source", "path", path, "error", err)
		}
	}()

	slog.Info("Processing video", "path", path, "total_frames", src.TotalFrameCount())
	o.begin(ctx, src.TotalFrameCount())
	return o.finish(ctx, o.loop(ctx, src))
}

func (o *Orchestrator) begin(ctx context.Context, total int) {
	o.session.begin(total)
	o.publish(ctx, EventStateChanged, nil)
	o.opts.Progress.OnStart(o.session.LastFrame())
}

func (o *Orchestrator) finish(ctx context.Context, err error) error {
	state := o.session.finish(err)
	runsTotal.WithLabelValues(string(state)).Inc()
	if err != nil {
		slog.Error("Video processing failed", "frame", o.session.CurrentFrame(), "error", err)
		o.opts.Progress.OnError(o.session.CurrentFrame(), err)
	} else {
		slog.Info("Video processing completed",
			"frames", o.session.CurrentFrame(),
			"detections", len(o.session.Detections()))
		o.opts.Progress.OnComplete()
	}
	o.publish(context.WithoutCancel(ctx), EventStateChanged, nil)
	return err
}

// loop is the per-frame state machine. previous holds the last frame that
// went through detection; unchanged frames are compared against it and skipped.
func (o *Orchestrator) loop(ctx context.Context, src video.Source) error {
	if src.TotalFrameCount() == 0 {
		return nil
	}
	sw := common.NewStopwatchWithClock("frame", o.opts.Clock)
	var previous *video.Frame

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		sw.Reset()

		frame, err := src.ReadNextFrame(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return &FrameError{Frame: src.CurrentPosition(), Stage: StageRead, Err: err}
		}

		o.session.setCurrent(frame.Index)
		o.publish(ctx, EventProgress, nil)

		if previous == nil || !video.AreSimilar(frame.Image, previous.Image, o.opts.SimilarityThreshold) {
			if err := o.detectFrame(ctx, frame); err != nil {
				return err
			}
			previous = frame
		} else {
			framesTotal.WithLabelValues(frameSkipped).Inc()
		}

		elapsed := sw.Lap()
		iterationDuration.Observe(elapsed.Seconds())
		o.session.setTiming(elapsed)
		o.publish(ctx, EventProgress, nil)
		o.opts.Progress.OnProgress(o.session.CurrentFrame(), o.session.LastFrame())
	}
}

func (o *Orchestrator) detectFrame(ctx context.Context, frame *video.Frame) error {
	res, err := o.detector.Detect(ctx, frame.Image, detector.DetectOptions{
		DrawOverlay: o.opts.DrawOverlay,
		Color:       o.opts.OverlayColor,
		Thickness:   o.opts.OverlayThickness,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &FrameError{Frame: frame.Index, Stage: StageDetect, Err: err}
	}

	det := NewDetection(frame.Index, res.Frame, res.Boxes)
	if IsDuplicateOfLast(det, o.session.last()) {
		framesTotal.WithLabelValues(frameDuplicate).Inc()
		slog.Debug("Duplicate detection dropped", "frame", frame.Index, "boxes", len(det.Boxes))
		return nil
	}

	framesTotal.WithLabelValues(frameProcessed).Inc()
	detectionsTotal.Inc()
	boxesPerDetection.Observe(float64(len(det.Boxes)))
	o.session.append(det)
	slog.Debug("Detection added", "frame", frame.Index, "boxes", len(det.Boxes), "id", det.ID)

	added := det.clone()
	o.publish(ctx, EventDetectionAdded, &added)
	return nil
}

// ProcessSingleFrame detects text in one image. The session history is
// left untouched.
func (o *Orchestrator) ProcessSingleFrame(ctx context.Context, img image.Image, opts SingleFrameOptions) (Detection, error) {
	if img == nil {
		return Detection{}, fmt.Errorf("single frame: %w", video.ErrEmptyFrame)
	}
	col := opts.Color
	if col == nil {
		col = o.opts.OverlayColor
	}
	res, err := o.detector.Detect(ctx, img, detector.DetectOptions{
		Confidence:  opts.Confidence,
		DrawOverlay: true,
		Color:       col,
		Thickness:   o.opts.OverlayThickness,
	})
	if err != nil {
		return Detection{}, fmt.Errorf("single frame: %w", err)
	}
	return NewDetection(0, res.Frame, res.Boxes), nil
}

func (o *Orchestrator) publish(ctx context.Context, typ EventType, det *Detection) {
	if o.events.count() == 0 {
		return
	}
	o.events.publish(ctx, Event{
		Type:      typ,
		Time:      time.Now(),
		Snapshot:  o.session.Snapshot(),
		Detection: det,
	})
}

// Subscribe returns a channel of events and a function that unsubscribes
// and closes it. A subscriber that leaves a detection or state event unread
// for longer than Options.EventTimeout is unsubscribed and its channel
// closed, so a stalled reader never holds up a run.
func (o *Orchestrator) Subscribe(buffer int) (<-chan Event, func()) {
	return o.events.subscribe(buffer)
}

// Detections returns a copy of the retained detections in frame order.
func (o *Orchestrator) Detections() []Detection { return o.session.Detections() }

// Detection looks up a retained detection by ID.
func (o *Orchestrator) Detection(id string) (Detection, bool) { return o.session.Detection(id) }

func (o *Orchestrator) CurrentFrame() int        { return o.session.CurrentFrame() }
func (o *Orchestrator) LastFrame() int           { return o.session.LastFrame() }
func (o *Orchestrator) FPS() float64             { return o.session.FPS() }
func (o *Orchestrator) FrameTime() time.Duration { return o.session.FrameTime() }
func (o *Orchestrator) Progress() float64        { return o.session.Progress() }
func (o *Orchestrator) ETA() time.Duration       { return o.session.ETA() }
func (o *Orchestrator) State() State             { return o.session.State() }
func (o *Orchestrator) Err() error               { return o.session.Err() }
func (o *Orchestrator) StatusMessage() string    { return o.session.StatusMessage() }
func (o *Orchestrator) Snapshot() Snapshot       { return o.session.Snapshot() }
