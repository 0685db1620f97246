package server

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/framescan/internal/pipeline"
	"github.com/MeKo-Tech/framescan/internal/utils"
)

const formatOverlay = "overlay"

// frameRequest is a parsed single-frame upload.
type frameRequest struct {
	img  image.Image
	opts pipeline.SingleFrameOptions
}

// detectFrameHandler runs single-frame detection on an uploaded image. It
// answers with JSON, or with the annotated PNG for format=overlay.
func (s *Server) detectFrameHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, ok := s.parseFrameRequest(w, r)
	if !ok {
		frameRequestsTotal.WithLabelValues("error").Inc()
		return
	}

	start := time.Now()
	det, err := s.single.ProcessSingleFrame(r.Context(), req.img, req.opts)
	duration := time.Since(start)
	if err != nil {
		frameRequestsTotal.WithLabelValues("error").Inc()
		s.writeErrorResponse(w, fmt.Sprintf("Detection failed: %v", err), http.StatusInternalServerError)
		return
	}
	frameRequestsTotal.WithLabelValues("success").Inc()
	frameProcessingDuration.Observe(duration.Seconds())

	format := r.FormValue("format")
	if format == "" {
		format = r.URL.Query().Get("format")
	}
	if format == formatOverlay {
		writePNG(w, det.Frame)
		return
	}

	res := &FrameResult{ID: det.ID, Boxes: det.Boxes}
	if det.Frame != nil {
		res.Width, res.Height = det.Frame.Bounds().Dx(), det.Frame.Bounds().Dy()
	}
	res.Processing.TotalMs = duration.Milliseconds()
	writeJSON(w, http.StatusOK, FrameResponse{Success: true, Result: res})
}

// parseFrameRequest reads the "image" part and the optional "confidence"
// and "color" fields. On failure the error response is already written.
func (s *Server) parseFrameRequest(w http.ResponseWriter, r *http.Request) (frameRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.uploadLimit())

	if err := r.ParseMultipartForm(s.uploadLimit()); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		} else {
			s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		}
		return frameRequest{}, false
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, "No image file provided", http.StatusBadRequest)
		return frameRequest{}, false
	}
	defer func() { _ = file.Close() }()
	uploadSizeBytes.Observe(float64(header.Size))

	img, err := utils.DecodeImage(file)
	if err != nil {
		s.writeErrorResponse(w, "Invalid image format", http.StatusBadRequest)
		return frameRequest{}, false
	}

	req := frameRequest{img: img}
	if v := r.FormValue("confidence"); v != "" {
		conf, err := strconv.ParseFloat(v, 32)
		if err != nil || conf < 0 || conf > 1 {
			s.writeErrorResponse(w, "confidence must be a number between 0 and 1", http.StatusBadRequest)
			return frameRequest{}, false
		}
		c := float32(conf)
		req.opts.Confidence = &c
	}
	if v := r.FormValue("color"); v != "" {
		col, err := utils.ParseHexColor(v)
		if err != nil {
			s.writeErrorResponse(w, "color must be a hex value like #00ff00", http.StatusBadRequest)
			return frameRequest{}, false
		}
		req.opts.Color = color.Color(col)
	}
	return req, true
}

func writePNG(w http.ResponseWriter, img image.Image) {
	if img == nil {
		http.Error(w, "no frame available", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		http.Error(w, "overlay encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
