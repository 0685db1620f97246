// Package batch runs single-frame detection over many still images.
package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MeKo-Tech/framescan/internal/pipeline"
	"github.com/MeKo-Tech/framescan/internal/utils"
)

// ErrNoImages is returned when discovery finds nothing to process.
var ErrNoImages = errors.New("no image files found")

// FrameProcessor detects text in one image. *pipeline.Orchestrator and
// *pipeline.Pipeline implement it.
type FrameProcessor interface {
	ProcessSingleFrame(ctx context.Context, img image.Image, opts pipeline.SingleFrameOptions) (pipeline.Detection, error)
}

// Item is the outcome for one image. Exactly one of Detection and Err is
// meaningful.
type Item struct {
	Path      string
	Detection pipeline.Detection
	Err       error
}

// Result holds the items in discovery order.
type Result struct {
	Items       []Item
	Duration    time.Duration
	WorkerCount int
}

// Succeeded returns the items that produced a detection.
func (r *Result) Succeeded() []Item {
	out := make([]Item, 0, len(r.Items))
	for _, it := range r.Items {
		if it.Err == nil {
			out = append(out, it)
		}
	}
	return out
}

// Err joins the per-image errors, each prefixed with its path.
func (r *Result) Err() error {
	var errs []error
	for _, it := range r.Items {
		if it.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", it.Path, it.Err))
		}
	}
	return errors.Join(errs...)
}

// Process discovers images under args and runs proc on each of them with
// up to cfg.Workers images in flight. A failing image does not stop the
// others; only cancellation of ctx aborts the batch.
func Process(ctx context.Context, proc FrameProcessor, args []string, cfg Config) (*Result, error) {
	files, err := Discover(args, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to discover image files: %w", err)
	}
	if len(files) == 0 {
		return nil, ErrNoImages
	}

	workers := cfg.workers()
	start := time.Now()
	items := make([]Item, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			items[i] = processOne(gctx, proc, path, i+1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Items: items, Duration: time.Since(start), WorkerCount: workers}
	slog.Info("Batch finished",
		"images", len(items),
		"succeeded", len(res.Succeeded()),
		"workers", workers,
		"duration", res.Duration)
	return res, nil
}

// processOne loads and detects one image. index becomes the detection's
// frame index so reports keep the discovery order.
func processOne(ctx context.Context, proc FrameProcessor, path string, index int) Item {
	img, err := utils.LoadImage(path)
	if err != nil {
		return Item{Path: path, Err: err}
	}
	det, err := proc.ProcessSingleFrame(ctx, img, pipeline.SingleFrameOptions{})
	if err != nil {
		slog.Debug("Image failed", "path", path, "error", err)
		return Item{Path: path, Err: err}
	}
	det.FrameIndex = index
	return Item{Path: path, Detection: det}
}
