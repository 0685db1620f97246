package cmd

import (
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/framescan/internal/config"
)

// addDetectorFlags registers the flags shared by the video and frame
// commands. Defaults mirror config.DefaultConfig so unset flags do not
// mask config file values.
func addDetectorFlags(cmd *cobra.Command) {
	d := config.DefaultConfig()
	cmd.Flags().String("variant", d.Detector.Variant, "detector model: east or textboxes")
	cmd.Flags().String("det-model", "", "override detection model path (defaults to the variant's file under models-dir)")
	cmd.Flags().Float64("confidence", float64(d.Detector.ConfidenceThreshold), "minimum detection confidence (0..1)")
	cmd.Flags().Float64("nms-threshold", d.Detector.NMSThreshold, "IoU threshold for non-maximum suppression (0..1)")
	cmd.Flags().Int("threads", d.Detector.NumThreads, "inference threads (0 = runtime default)")
	cmd.Flags().String("overlay-color", d.Pipeline.OverlayColor, "box colour for annotated frames (hex)")
	cmd.Flags().StringP("format", "f", d.Output.Format, "output format (text, json, csv)")
	cmd.Flags().StringP("output-dir", "o", "", "directory to write annotated frames as PNG")

	cmd.Flags().Bool("gpu", false, "enable GPU acceleration using CUDA")
	cmd.Flags().Int("gpu-device", 0, "CUDA device ID to use")
	cmd.Flags().String("gpu-mem-limit", d.GPU.MemoryLimit, "GPU memory limit (e.g. 2GB, 512MB, auto)")
}

var detectorBindings = []flagBinding{
	{"detector.variant", "variant"},
	{"detector.model_path", "det-model"},
	{"detector.confidence_threshold", "confidence"},
	{"detector.nms_threshold", "nms-threshold"},
	{"detector.num_threads", "threads"},
	{"pipeline.overlay_color", "overlay-color"},
	{"output.format", "format"},
	{"output.dir", "output-dir"},
	{"gpu.enabled", "gpu"},
	{"gpu.device", "gpu-device"},
	{"gpu.memory_limit", "gpu-mem-limit"},
}
