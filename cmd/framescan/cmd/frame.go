package cmd

import (
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/framescan/internal/batch"
	"github.com/MeKo-Tech/framescan/internal/config"
	"github.com/MeKo-Tech/framescan/internal/pipeline"
)

// frameCmd represents the frame command.
var frameCmd = &cobra.Command{
	Use:   "frame <image|dir>...",
	Short: "Detect text in single images",
	Long: `Run the text detector on still images. Each image is handled on its own;
no similarity filtering takes place. Directories contribute the images they
contain.

Supported formats: JPEG, PNG, BMP

Examples:
  framescan frame slide.png
  framescan frame shots/ --recursive --include 'slide_*' --workers 4
  framescan frame shots/*.png --format json --output-dir annotated/`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, slices.Concat(detectorBindings, batchBindings))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if err := cfg.Validate(); err != nil {
			return err
		}

		pl, err := pipeline.NewBuilderFromConfig(cfg.ToPipelineConfig()).Build()
		if err != nil {
			return err
		}
		defer func() {
			if err := pl.Close(); err != nil {
				slog.Warn("Failed to close detector", "error", err)
			}
		}()

		res, err := batch.Process(cmd.Context(), pl, args, batch.Config{
			Workers:         cfg.Batch.Workers,
			Recursive:       cfg.Batch.Recursive,
			IncludePatterns: cfg.Batch.Include,
			ExcludePatterns: cfg.Batch.Exclude,
		})
		if err != nil {
			return err
		}

		items := res.Succeeded()
		dets := make([]pipeline.Detection, len(items))
		for i, it := range items {
			dets[i] = it.Detection
		}
		reports, err := toReports(dets, cfg.Output.Dir, func(i int, _ pipeline.Detection) string {
			return overlayName(items[i].Path)
		})
		if err != nil {
			return err
		}
		for i := range reports {
			reports[i].Source = items[i].Path
		}
		if err := writeFrames(cmd.OutOrStdout(), cfg.Output.Format, reports); err != nil {
			return err
		}
		return res.Err()
	},
}

// overlayName derives the annotated file name, e.g. slide.png -> slide_overlay.png.
func overlayName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_overlay.png"
}

var batchBindings = []flagBinding{
	{"batch.workers", "workers"},
	{"batch.recursive", "recursive"},
	{"batch.include", "include"},
	{"batch.exclude", "exclude"},
}

func init() {
	rootCmd.AddCommand(frameCmd)
	addDetectorFlags(frameCmd)

	d := config.DefaultConfig().Batch
	frameCmd.Flags().IntP("workers", "w", d.Workers, "images processed in parallel (0 = one per CPU)")
	frameCmd.Flags().BoolP("recursive", "r", d.Recursive, "descend into subdirectories")
	frameCmd.Flags().StringSlice("include", nil, "only process files whose name matches one of these patterns")
	frameCmd.Flags().StringSlice("exclude", nil, "skip files whose name matches one of these patterns")
}
