package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/framescan/internal/detector"
	"github.com/MeKo-Tech/framescan/internal/pipeline"
	"github.com/MeKo-Tech/framescan/internal/utils"
	"github.com/MeKo-Tech/framescan/internal/video"
)

// fakeDetector reports one box whose X is the red level of the top-left
// pixel, so distinct frames yield distinct detections.
type fakeDetector struct {
	mu    sync.Mutex
	err   error
	opts  []detector.DetectOptions
	block chan struct{}
}

func (d *fakeDetector) Detect(ctx context.Context, img image.Image, opts detector.DetectOptions) (*detector.Result, error) {
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	d.opts = append(d.opts, opts)
	err := d.err
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	r, _, _, _ := img.At(img.Bounds().Min.X, img.Bounds().Min.Y).RGBA()
	box := utils.BoundingBox{X: int(r >> 8), Y: 1, Width: 4, Height: 2}
	return &detector.Result{Boxes: []utils.BoundingBox{box}, Frame: utils.ToNRGBA(img)}, nil
}

func (d *fakeDetector) lastOpts() detector.DetectOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts[len(d.opts)-1]
}

var errUnknownVideo = errors.New("unknown video")

// memoryVideos opens in-memory sources by file name, since job paths
// arrive resolved against the media directory. Every open starts a fresh
// source.
func memoryVideos(videos map[string][]uint8) video.Opener {
	return func(_ context.Context, path string) (video.Source, error) {
		levels, ok := videos[filepath.Base(path)]
		if !ok {
			return nil, errUnknownVideo
		}
		imgs := make([]image.Image, len(levels))
		for i, v := range levels {
			imgs[i] = solid(v)
		}
		return video.NewMemorySource(imgs), nil
	}
}

func solid(v uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestServer(t *testing.T, det pipeline.FrameDetector, videos map[string][]uint8, mutate ...func(*Config)) *Server {
	t.Helper()
	cfg := Config{Host: "localhost", Port: 0, CORSOrigin: "*", EventBuffer: 16, MediaDir: t.TempDir()}
	for _, m := range mutate {
		m(&cfg)
	}
	opts := pipeline.Options{
		SimilarityThreshold: pipeline.DefaultSimilarityThreshold,
		DrawOverlay:         true,
		Opener:              memoryVideos(videos),
	}
	s := NewServerWithDetector(det, opts, cfg)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newMux(s *Server) *http.ServeMux {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

// multipartFrame builds a POST /detect/frame request with an image part
// and extra form fields.
func multipartFrame(t *testing.T, target string, img []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if img != nil {
		fw, err := mw.CreateFormFile("image", "frame.png")
		require.NoError(t, err)
		_, err = fw.Write(img)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

// waitForJob blocks until the job's run has ended.
func waitForJob(t *testing.T, s *Server, id string) *job {
	t.Helper()
	j, ok := s.jobs.get(id)
	require.True(t, ok)
	select {
	case <-j.run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}
	return j
}
