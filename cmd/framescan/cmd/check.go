package cmd

import (
	"fmt"
	"io"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/framescan/internal/config"
	"github.com/MeKo-Tech/framescan/internal/detector"
	"github.com/MeKo-Tech/framescan/internal/onnx"
)

// checkCmd verifies the runtime environment.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check ONNX Runtime, ffmpeg and model setup",
	Long: `Verify that everything needed for processing is in place:
- the ONNX Runtime shared library can be loaded
- ffmpeg and ffprobe are on the PATH (needed for video files)
- the configured detection model file is readable`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintln(out, cmd.Short)
		_, _ = fmt.Fprintln(out)

		var failed []string
		for _, c := range checks(cfg) {
			detail, err := c.run()
			if err != nil {
				_, _ = fmt.Fprintf(out, "✗ %s: %v\n", c.name, err)
				if c.required {
					failed = append(failed, c.name)
				}
				continue
			}
			_, _ = fmt.Fprintf(out, "✓ %s: %s\n", c.name, detail)
		}
		return reportChecks(out, failed)
	},
}

type envCheck struct {
	name     string
	required bool
	run      func() (string, error)
}

func checks(cfg *config.Config) []envCheck {
	lookPath := func(bin string) func() (string, error) {
		return func() (string, error) { return exec.LookPath(bin) }
	}
	return []envCheck{
		{name: "ONNX Runtime", required: true, run: func() (string, error) {
			info, err := onnx.CheckRuntime(cfg.GPU.Enabled)
			return info.LibraryPath, err
		}},
		{name: "ffmpeg", run: lookPath(cfg.Video.FFmpegPath)},
		{name: "ffprobe", run: lookPath(cfg.Video.FFprobePath)},
		{name: "detection model", required: true, run: func() (string, error) {
			path := cfg.ToPipelineConfig().Detector.ModelPath
			return path, detector.VerifyModelFileAccess(path)
		}},
		{name: "model session", run: func() (string, error) {
			return describeModel(cfg.ToPipelineConfig().Detector)
		}},
	}
}

// describeModel opens a session on the model and reports its declared
// input shape; -1 marks a dynamic dimension.
func describeModel(dc detector.Config) (string, error) {
	engine, err := detector.NewONNXEngine(dc)
	if err != nil {
		return "", err
	}
	defer func() { _ = engine.Close() }()
	return fmt.Sprintf("%s input %v", dc.Variant, engine.InputShape()), nil
}

func reportChecks(out io.Writer, failed []string) error {
	_, _ = fmt.Fprintln(out)
	if len(failed) > 0 {
		return fmt.Errorf("%d required check(s) failed: %v", len(failed), failed)
	}
	_, _ = fmt.Fprintln(out, "All required checks passed.")
	return nil
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
