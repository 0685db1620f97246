package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/framescan/internal/common"
	"github.com/MeKo-Tech/framescan/internal/config"
	"github.com/MeKo-Tech/framescan/internal/pipeline"
)

const (
	progressBar  = "bar"
	progressLog  = "log"
	progressNone = "none"
)

// videoCmd represents the video command.
var videoCmd = &cobra.Command{
	Use:   "video <path>",
	Short: "Detect text in the frames of a video",
	Long: `Process a video file, or a directory of numbered images, frame by frame.
Frames that barely differ from the last analysed frame are skipped; every
other frame goes through the text detector and is kept when boxes are found.

Video files are decoded with ffmpeg, which must be installed.

Examples:
  framescan video talk.mp4
  framescan video talk.mp4 --similarity 2 --format json
  framescan video frames/ --output-dir detections/ --progress log`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, slices.Concat(detectorBindings, []flagBinding{
			{"pipeline.similarity_threshold", "similarity"},
			{"pipeline.draw_overlay", "overlay"},
		}))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if err := cfg.Validate(); err != nil {
			return err
		}
		progressMode, _ := cmd.Flags().GetString("progress")
		progress, err := newProgress(progressMode, cmd, cfg.Verbose)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runVideo(ctx, cmd, cfg, args[0], progress)
	},
}

func runVideo(ctx context.Context, cmd *cobra.Command, cfg *config.Config, path string, progress pipeline.ProgressCallback) error {
	pl, err := pipeline.NewBuilderFromConfig(cfg.ToPipelineConfig()).
		WithProgressCallback(progress).
		Build()
	if err != nil {
		return err
	}
	defer func() {
		if err := pl.Close(); err != nil {
			slog.Warn("Failed to close detector", "error", err)
		}
	}()

	start := time.Now()
	runErr := pl.ProcessVideo(ctx, path)
	dets := pl.Detections()
	summary := common.RunSummary{
		Source:     path,
		Frames:     pl.CurrentFrame(),
		Detections: len(dets),
		Duration:   time.Since(start),
		Memory:     common.GetMemoryStats(),
		Err:        runErr,
	}
	slog.Debug("Run finished", "summary", summary.String(), "memory", summary.Memory.String())

	// Detections found before a failure are still reported.
	reports, err := toReports(dets, cfg.Output.Dir, videoFrameName)
	if err != nil {
		return errors.Join(runErr, err)
	}
	if err := writeRun(cmd.OutOrStdout(), cfg.Output.Format, summary, reports); err != nil {
		return errors.Join(runErr, err)
	}
	if runErr != nil {
		return fmt.Errorf("process %s: %w", path, runErr)
	}
	return nil
}

// newProgress builds the progress reporter for the --progress mode. With
// --verbose the bar is paired with debug progress logs.
func newProgress(mode string, cmd *cobra.Command, verbose bool) (pipeline.ProgressCallback, error) {
	switch mode {
	case progressBar:
		bar := pipeline.NewConsoleProgressCallback(cmd.ErrOrStderr(), "Frames")
		if verbose {
			return pipeline.NewMultiProgressCallback(bar,
				pipeline.NewLogProgressCallback(slog.Default(), slog.LevelDebug, "video").WithInterval(100)), nil
		}
		return bar, nil
	case progressLog:
		return pipeline.NewLogProgressCallback(slog.Default(), slog.LevelInfo, "video").WithInterval(100), nil
	case progressNone, "":
		return pipeline.NoOpProgressCallback{}, nil
	default:
		return nil, fmt.Errorf("invalid progress mode: %s (must be one of: %s, %s, %s)", mode, progressBar, progressLog, progressNone)
	}
}

func init() {
	rootCmd.AddCommand(videoCmd)
	addDetectorFlags(videoCmd)

	d := config.DefaultConfig()
	videoCmd.Flags().Float64("similarity", d.Pipeline.SimilarityThreshold,
		"mean pixel difference (0..255) under which a frame counts as unchanged")
	videoCmd.Flags().Bool("overlay", d.Pipeline.DrawOverlay, "draw detected boxes onto kept frames")
	videoCmd.Flags().String("progress", progressBar, "progress display: bar, log or none")
}
