package support

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/framescan/internal/pipeline"
	"github.com/MeKo-Tech/framescan/internal/server"
	"github.com/MeKo-Tech/framescan/internal/video"
)

// servedVideo is the only file the test server can open.
const servedVideo = "scenes.mp4"

var errNoSuchVideo = errors.New("no such video")

// RegisterServerSteps registers the HTTP job steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the server is running$`, testCtx.theServerIsRunning)
	sc.Step(`^I start a job for "([^"]*)"$`, testCtx.iStartAJobFor)
	sc.Step(`^the response status is (\d+)$`, testCtx.theResponseStatusIs)
	sc.Step(`^the job finishes in state "([^"]*)"$`, testCtx.theJobFinishesInState)
	sc.Step(`^the job lists detections at frames ([\d, ]+)$`, testCtx.theJobListsDetectionsAtFrames)
	sc.Step(`^the frame at detection index (\d+) can be downloaded as PNG$`, testCtx.theJobFrameCanBeDownloaded)
	sc.Step(`^the job error mentions "([^"]*)"$`, testCtx.theJobErrorMentions)
	sc.Step(`^streaming the job ends with (\d+) "([^"]*)" messages?$`, testCtx.streamingTheJobEndsWith)
}

func (testCtx *TestContext) theServerIsRunning() error {
	opener := func(ctx context.Context, path string) (video.Source, error) {
		if filepath.Base(path) != servedVideo {
			return nil, fmt.Errorf("%w: %s", errNoSuchVideo, path)
		}
		return testCtx.memoryOpener()(ctx, path)
	}
	cfg := server.Config{Host: "127.0.0.1", CORSOrigin: "*", EventBuffer: 256, MediaDir: testCtx.TempDir}
	testCtx.Server = server.NewServerWithDetector(testCtx.Detector, testCtx.options(opener), cfg)

	mux := http.NewServeMux()
	testCtx.Server.SetupRoutes(mux)
	testCtx.HTTPServer = httptest.NewServer(mux)
	return nil
}

func (testCtx *TestContext) request(method, path string, body io.Reader) error {
	if testCtx.HTTPServer == nil {
		return errors.New("server is not running")
	}
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, testCtx.HTTPServer.URL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := testCtx.HTTPServer.Client().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	testCtx.LastStatus = resp.StatusCode
	testCtx.LastBody, err = io.ReadAll(resp.Body)
	return err
}

func (testCtx *TestContext) iStartAJobFor(path string) error {
	body, err := json.Marshal(server.JobRequest{Path: path})
	if err != nil {
		return err
	}
	if err := testCtx.request(http.MethodPost, "/jobs", bytes.NewReader(body)); err != nil {
		return err
	}
	var job server.JobResponse
	if err := json.Unmarshal(testCtx.LastBody, &job); err != nil {
		return fmt.Errorf("invalid job response %q: %w", testCtx.LastBody, err)
	}
	testCtx.JobID = job.ID
	return nil
}

func (testCtx *TestContext) theResponseStatusIs(code int) error {
	if testCtx.LastStatus != code {
		return fmt.Errorf("status = %d, want %d: %s", testCtx.LastStatus, code, testCtx.LastBody)
	}
	return nil
}

// waitForJob polls the job until it leaves the running state.
func (testCtx *TestContext) waitForJob() (server.JobResponse, error) {
	deadline := time.Now().Add(runTimeout)
	for {
		if err := testCtx.request(http.MethodGet, "/jobs?id="+testCtx.JobID, nil); err != nil {
			return server.JobResponse{}, err
		}
		var job server.JobResponse
		if err := json.Unmarshal(testCtx.LastBody, &job); err != nil {
			return job, fmt.Errorf("invalid job response %q: %w", testCtx.LastBody, err)
		}
		switch job.Snapshot.State {
		case pipeline.StateCompleted, pipeline.StateFailed:
			return job, nil
		}
		if time.Now().After(deadline) {
			return job, fmt.Errorf("job %s still %s", job.ID, job.Snapshot.State)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (testCtx *TestContext) theJobFinishesInState(want string) error {
	job, err := testCtx.waitForJob()
	if err != nil {
		return err
	}
	if string(job.Snapshot.State) != want {
		return fmt.Errorf("job state = %q, want %q (error: %s)", job.Snapshot.State, want, job.Snapshot.Error)
	}
	return nil
}

func (testCtx *TestContext) theJobErrorMentions(text string) error {
	job, err := testCtx.waitForJob()
	if err != nil {
		return err
	}
	if !strings.Contains(job.Snapshot.Error, text) {
		return fmt.Errorf("job error %q does not mention %q", job.Snapshot.Error, text)
	}
	return nil
}

func (testCtx *TestContext) theJobListsDetectionsAtFrames(list string) error {
	want, err := parseInts(list)
	if err != nil {
		return err
	}
	if err := testCtx.request(http.MethodGet, "/jobs/detections?id="+testCtx.JobID, nil); err != nil {
		return err
	}
	var resp server.DetectionsResponse
	if err := json.Unmarshal(testCtx.LastBody, &resp); err != nil {
		return fmt.Errorf("invalid detections response %q: %w", testCtx.LastBody, err)
	}
	got := frameIndexes(resp.Detections)
	if fmt.Sprint(got) != fmt.Sprint(want) || resp.Count != len(want) {
		return fmt.Errorf("job detections at frames %v (count %d), want %v", got, resp.Count, want)
	}
	return nil
}

func (testCtx *TestContext) theJobFrameCanBeDownloaded(index int) error {
	if err := testCtx.request(http.MethodGet, fmt.Sprintf("/jobs/frame?id=%s&index=%d", testCtx.JobID, index), nil); err != nil {
		return err
	}
	if testCtx.LastStatus != http.StatusOK {
		return fmt.Errorf("status = %d: %s", testCtx.LastStatus, testCtx.LastBody)
	}
	if _, err := png.Decode(bytes.NewReader(testCtx.LastBody)); err != nil {
		return fmt.Errorf("frame is not a PNG: %w", err)
	}
	return nil
}

// streamingTheJobEndsWith reads the job's WebSocket stream until the
// server closes it and counts messages of one type.
func (testCtx *TestContext) streamingTheJobEndsWith(n int, typ string) error {
	if testCtx.HTTPServer == nil {
		return errors.New("server is not running")
	}
	url := "ws" + strings.TrimPrefix(testCtx.HTTPServer.URL, "http") + "/ws/jobs?id=" + testCtx.JobID
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetReadDeadline(time.Now().Add(runTimeout)); err != nil {
		return err
	}
	count := 0
	for {
		var msg server.WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			return fmt.Errorf("read: %w", err)
		}
		if msg.Type == typ {
			count++
		}
	}
	if count != n {
		return fmt.Errorf("saw %d %q messages, want %d", count, typ, n)
	}
	return nil
}
