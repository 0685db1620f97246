package video

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/MeKo-Tech/framescan/internal/mempool"
)

// StreamInfo is what ffprobe reports about the first video stream.
type StreamInfo struct {
	Width  int
	Height int
	Frames int
	FPS    float64
}

type probeOutput struct {
	Streams []struct {
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		NbReadPackets string `json:"nb_read_packets"`
		NbFrames      string `json:"nb_frames"`
		RFrameRate    string `json:"r_frame_rate"`
	} `json:"streams"`
}

// parseStreamInfo reads `ffprobe -of json` output. Packet counts are preferred
// over the container's nb_frames, which is often missing. Frames is -1 when
// neither is reported.
func parseStreamInfo(data []byte) (StreamInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return StreamInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return StreamInfo{}, errors.New("no video stream found")
	}
	s := out.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return StreamInfo{}, fmt.Errorf("invalid video dimensions %dx%d", s.Width, s.Height)
	}
	info := StreamInfo{Width: s.Width, Height: s.Height, Frames: -1, FPS: parseRate(s.RFrameRate)}
	for _, v := range []string{s.NbReadPackets, s.NbFrames} {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			info.Frames = n
			break
		}
	}
	return info, nil
}

// parseRate parses "30000/1001" or "25".
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// Probe runs ffprobe on path.
func Probe(ctx context.Context, ffprobePath, path string) (StreamInfo, error) {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	bin, err := exec.LookPath(ffprobePath)
	if err != nil {
		return StreamInfo{}, fmt.Errorf("unable to find '%v' in your path (%w)", ffprobePath, err)
	}
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=width,height,nb_read_packets,nb_frames,r_frame_rate",
		"-of", "json",
		path,
	}
	cmd := exec.CommandContext(ctx, bin, args...) //nolint:gosec // G204: arguments are fixed, path is data
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return StreamInfo{}, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return parseStreamInfo(out)
}

// rawReader cuts an RGBA byte stream into frames.
type rawReader struct {
	r      io.Reader
	width  int
	height int
	fps    float64
	pos    int
}

func (rr *rawReader) next() (*Frame, error) {
	size := rr.width * rr.height * 4
	buf := mempool.GetBytes(size)
	defer mempool.PutBytes(buf)

	n, err := io.ReadFull(rr.r, buf)
	switch {
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, fmt.Errorf("%w: frame %d truncated at %d of %d bytes", ErrCorruptFrame, rr.pos+1, n, size)
	case err != nil:
		return nil, fmt.Errorf("read frame %d: %w", rr.pos+1, err)
	}
	rr.pos++

	img := image.NewNRGBA(image.Rect(0, 0, rr.width, rr.height))
	copy(img.Pix, buf)
	return &Frame{Index: rr.pos, Image: img, Timestamp: frameTimestamp(rr.pos, rr.fps)}, nil
}

// stderrBuffer collects ffmpeg's stderr. os/exec writes it from its own
// goroutine while readers may inspect it after a failed frame read.
type stderrBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// maxStderr caps what is kept of a chatty ffmpeg.
const maxStderr = 64 << 10

func (b *stderrBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := maxStderr - b.buf.Len(); room > 0 {
		b.buf.Write(p[:min(len(p), room)])
	}
	return len(p), nil
}

func (b *stderrBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}

// FFmpegSource decodes a video file with an ffmpeg subprocess writing raw
// RGBA frames to a pipe.
type FFmpegSource struct {
	mu     sync.Mutex
	info   StreamInfo
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *stderrBuffer
	reader *rawReader
	closed bool
}

// NewFFmpegSource probes path and starts decoding it. The process is bound
// to ctx.
func NewFFmpegSource(ctx context.Context, path string, opts Options) (*FFmpegSource, error) {
	info, err := Probe(ctx, opts.FFprobePath, path)
	if err != nil {
		return nil, err
	}

	ffmpegPath := opts.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	bin, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("unable to find '%v' in your path (%w)", ffmpegPath, err)
	}
	args := []string{
		"-v", "error",
		"-nostdin",
		"-i", path,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-",
	}
	cmd := exec.CommandContext(ctx, bin, args...) //nolint:gosec // G204: arguments are fixed, path is data
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &stderrBuffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	slog.Debug("Decoding video",
		"path", path,
		"width", info.Width,
		"height", info.Height,
		"frames", info.Frames,
		"fps", info.FPS)

	return &FFmpegSource{
		info:   info,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		reader: &rawReader{
			r:      bufio.NewReaderSize(stdout, 1<<20),
			width:  info.Width,
			height: info.Height,
			fps:    info.FPS,
		},
	}, nil
}

// Info returns the probed stream information.
func (s *FFmpegSource) Info() StreamInfo { return s.info }

func (s *FFmpegSource) ReadNextFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	frame, err := s.reader.next()
	if err != nil && !errors.Is(err, io.EOF) {
		if msg := s.stderr.String(); msg != "" {
			return nil, fmt.Errorf("%w (ffmpeg: %s)", err, msg)
		}
	}
	return frame, err
}

func (s *FFmpegSource) TotalFrameCount() int { return s.info.Frames }

func (s *FFmpegSource) CurrentPosition() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader.pos
}

// Close stops ffmpeg if it is still running and reaps it.
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.stdout.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	// Killed or closed-pipe exits are expected here.
	if err := s.cmd.Wait(); err != nil {
		slog.Debug("ffmpeg exited", "error", err)
	}
	return nil
}
