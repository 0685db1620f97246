package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/framescan/internal/common"
	"github.com/MeKo-Tech/framescan/internal/pipeline"
	"github.com/MeKo-Tech/framescan/internal/utils"
)

const (
	outputFormatJSON = "json"
	outputFormatText = "text"
	outputFormatCSV  = "csv"
)

// frameReport is the JSON form of one detection.
type frameReport struct {
	Source     string              `json:"source,omitempty"`
	ID         string              `json:"id"`
	FrameIndex int                 `json:"frame_index"`
	Boxes      []utils.BoundingBox `json:"boxes"`
	Overlay    string              `json:"overlay,omitempty"`
}

// runReport is the JSON document written by the video command.
type runReport struct {
	Source     string        `json:"source"`
	Frames     int           `json:"frames"`
	DurationMs int64         `json:"duration_ms"`
	FPS        float64       `json:"fps"`
	Detections []frameReport `json:"detections"`
}

// writeRun prints a video run's detections in the requested format.
func writeRun(w io.Writer, format string, summary common.RunSummary, reports []frameReport) error {
	switch format {
	case outputFormatCSV:
		return writeReportsCSV(w, reports)
	case outputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(runReport{
			Source:     summary.Source,
			Frames:     summary.Frames,
			DurationMs: summary.Duration.Milliseconds(),
			FPS:        summary.FPS(),
			Detections: reports,
		})
	}
	if err := writeReportsText(w, reports); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, summary.String())
	return err
}

// writeFrames prints single-frame detections in the requested format.
func writeFrames(w io.Writer, format string, reports []frameReport) error {
	switch format {
	case outputFormatCSV:
		return writeReportsCSV(w, reports)
	case outputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}
	return writeReportsText(w, reports)
}

// writeReportsCSV writes one row per box. A detection without boxes still
// gets a row with the box columns left empty.
func writeReportsCSV(w io.Writer, reports []frameReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"source", "frame_index", "box_index", "x", "y", "width", "height", "overlay"}); err != nil {
		return err
	}
	for _, r := range reports {
		frame := strconv.Itoa(r.FrameIndex)
		if len(r.Boxes) == 0 {
			if err := cw.Write([]string{r.Source, frame, "", "", "", "", "", r.Overlay}); err != nil {
				return err
			}
			continue
		}
		for i, b := range r.Boxes {
			row := []string{
				r.Source, frame, strconv.Itoa(i),
				strconv.Itoa(b.X), strconv.Itoa(b.Y), strconv.Itoa(b.Width), strconv.Itoa(b.Height),
				r.Overlay,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeReportsText(w io.Writer, reports []frameReport) error {
	for _, r := range reports {
		label := fmt.Sprintf("frame %d", r.FrameIndex)
		if r.Source != "" {
			label = r.Source
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s: %d box(es)", label, len(r.Boxes))
		for _, box := range r.Boxes {
			fmt.Fprintf(&b, " [%d,%d %dx%d]", box.X, box.Y, box.Width, box.Height)
		}
		if r.Overlay != "" {
			fmt.Fprintf(&b, " -> %s", r.Overlay)
		}
		if _, err := fmt.Fprintln(w, b.String()); err != nil {
			return err
		}
	}
	return nil
}

// toReports converts detections and, when dir is set, writes each frame as
// PNG named by name(detection).
func toReports(dets []pipeline.Detection, dir string, name func(int, pipeline.Detection) string) ([]frameReport, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	reports := make([]frameReport, len(dets))
	for i, d := range dets {
		reports[i] = frameReport{ID: d.ID, FrameIndex: d.FrameIndex, Boxes: d.Boxes}
		if dir == "" || d.Frame == nil {
			continue
		}
		path := filepath.Join(dir, name(i, d))
		if err := utils.SavePNG(path, d.Frame); err != nil {
			return nil, fmt.Errorf("write overlay for frame %d: %w", d.FrameIndex, err)
		}
		reports[i].Overlay = path
	}
	return reports, nil
}

func videoFrameName(_ int, d pipeline.Detection) string {
	return fmt.Sprintf("frame_%06d.png", d.FrameIndex)
}
