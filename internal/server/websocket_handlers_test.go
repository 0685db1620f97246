package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/framescan/internal/pipeline"
)

// mockConn records written messages and the deadline each was written
// under.
type mockConn struct {
	mu        sync.Mutex
	messages  [][]byte
	deadline  time.Time
	deadlines []time.Time
	err       error
}

func (m *mockConn) SetWriteDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadline = t
	return nil
}

func (m *mockConn) WriteMessage(_ int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadlines = append(m.deadlines, m.deadline)
	m.deadline = time.Time{}
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, data)
	return nil
}

// wireMessage mirrors WebSocketMessage with a raw payload for decoding.
type wireMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func TestStreamJob_FinishedJobSendsSnapshotOnly(t *testing.T) {
	s := newTestServer(t, &fakeDetector{}, twoScenes)
	j := s.jobs.start(s.detector, s.options, "scenes.mp4", "scenes.mp4")
	<-j.run.Done()

	events, unsubscribe := j.orchestrator.Subscribe(4)
	defer unsubscribe()

	conn := &mockConn{}
	assert.True(t, s.streamJob(conn, j, events, make(chan struct{})))
	require.Len(t, conn.messages, 1)

	var msg wireMessage
	require.NoError(t, json.Unmarshal(conn.messages[0], &msg))
	assert.Equal(t, wsTypeSnapshot, msg.Type)
	var snap JobResponse
	require.NoError(t, json.Unmarshal(msg.Payload, &snap))
	assert.Equal(t, j.ID, snap.ID)
	assert.Equal(t, pipeline.StateCompleted, snap.Snapshot.State)
}

func TestStreamJob_WriteFailure(t *testing.T) {
	det := &fakeDetector{block: make(chan struct{})}
	s := newTestServer(t, det, twoScenes)
	j := s.jobs.start(s.detector, s.options, "scenes.mp4", "scenes.mp4")
	events, unsubscribe := j.orchestrator.Subscribe(4)
	defer unsubscribe()

	conn := &mockConn{err: errors.New("broken pipe")}
	assert.False(t, s.streamJob(conn, j, events, make(chan struct{})))
}

// timeoutError is what a net.Conn write returns once its deadline passes.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestSendWebSocketMessage_SetsWriteDeadline(t *testing.T) {
	conn := &mockConn{}
	before := time.Now()
	require.NoError(t, sendWebSocketMessage(conn, WebSocketMessage{Type: wsTypeSnapshot}))
	require.NoError(t, sendWebSocketMessage(conn, WebSocketMessage{Type: wsTypeSnapshot}))

	require.Len(t, conn.deadlines, 2)
	for _, d := range conn.deadlines {
		assert.False(t, d.IsZero(), "write without a deadline")
		assert.WithinDuration(t, before.Add(wsWriteWait), d, time.Second)
	}
}

func TestStreamJob_StalledClientReleasesRun(t *testing.T) {
	det := &fakeDetector{block: make(chan struct{})}
	s := newTestServer(t, det, twoScenes)
	j := s.jobs.start(s.detector, s.options, "scenes.mp4", "scenes.mp4")
	events, unsubscribe := j.orchestrator.Subscribe(0)

	conn := &mockConn{err: timeoutError{}}
	assert.False(t, s.streamJob(conn, j, events, make(chan struct{})))
	unsubscribe()

	close(det.block)
	select {
	case <-j.run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job blocked on a client that stopped reading")
	}
	assert.Equal(t, pipeline.StateCompleted, j.orchestrator.State())
}

func TestStreamJob_ClientGone(t *testing.T) {
	det := &fakeDetector{block: make(chan struct{})}
	s := newTestServer(t, det, twoScenes)
	j := s.jobs.start(s.detector, s.options, "scenes.mp4", "scenes.mp4")
	events, unsubscribe := j.orchestrator.Subscribe(4)
	defer unsubscribe()

	gone := make(chan struct{})
	close(gone)
	conn := &mockConn{}
	assert.False(t, s.streamJob(conn, j, events, gone))
	assert.NotEmpty(t, conn.messages)
}

func TestJobEventsWebSocket(t *testing.T) {
	det := &fakeDetector{block: make(chan struct{})}
	s := newTestServer(t, det, twoScenes)
	ts := httptest.NewServer(newMux(s))
	defer ts.Close()

	j := s.jobs.start(s.detector, s.options, "scenes.mp4", "scenes.mp4")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/jobs?id=" + j.ID
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = resp.Body.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first wireMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, wsTypeSnapshot, first.Type)

	close(det.block)

	var detections []pipeline.Detection
	var last pipeline.Event
	for {
		var msg wireMessage
		err := conn.ReadJSON(&msg)
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		var ev pipeline.Event
		require.NoError(t, json.Unmarshal(msg.Payload, &ev))
		assert.Equal(t, msg.Type, string(ev.Type))
		if ev.Type == pipeline.EventDetectionAdded {
			require.NotNil(t, ev.Detection)
			detections = append(detections, *ev.Detection)
		}
		last = ev
	}

	assert.Equal(t, pipeline.EventStateChanged, last.Type)
	assert.Equal(t, pipeline.StateCompleted, last.Snapshot.State)
	require.Len(t, detections, 2)
	assert.Equal(t, 1, detections[0].FrameIndex)
	assert.Equal(t, 6, detections[1].FrameIndex)
}

func TestJobEventsWebSocket_UnknownJob(t *testing.T) {
	s := newTestServer(t, &fakeDetector{}, twoScenes)
	ts := httptest.NewServer(newMux(s))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/jobs?id=nope"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
