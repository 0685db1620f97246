package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/framescan/internal/pipeline"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API carries no credentials; origin filtering is left to CORSOrigin
	// on the HTTP endpoints.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsTypeSnapshot = "snapshot"

// WebSocketMessage represents a message sent over WebSocket. Type is
// "snapshot" or one of the pipeline event types.
type WebSocketMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
// Every write is bounded by a deadline so a client that stops reading
// cannot hold the stream open.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

// jobEventsWebSocketHandler streams the events of one job (?id=) until
// the job reaches a terminal state or the client goes away.
func (s *Server) jobEventsWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookupJob(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()
	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr, "job_id", j.ID)

	clientGone := make(chan struct{})
	go readUntilClosed(conn, clientGone)

	stopPing := make(chan struct{})
	defer close(stopPing)
	go pingLoop(conn, stopPing)

	events, unsubscribe := j.orchestrator.Subscribe(s.eventBuffer)
	defer unsubscribe()

	if s.streamJob(conn, j, events, clientGone) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
			time.Now().Add(wsWriteWait))
	}
}

// streamJob sends the current snapshot and then every event until a
// terminal state. It reports whether the stream ended because the job
// finished.
func (s *Server) streamJob(conn WebSocketConnWriter, j *job, events <-chan pipeline.Event, clientGone <-chan struct{}) bool {
	snap := j.response()
	if err := sendWebSocketMessage(conn, WebSocketMessage{Type: wsTypeSnapshot, Payload: snap}); err != nil {
		return false
	}
	if terminal(snap.Snapshot.State) {
		return true
	}

	for {
		select {
		case <-clientGone:
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			if err := sendWebSocketMessage(conn, WebSocketMessage{Type: string(ev.Type), Payload: ev}); err != nil {
				return false
			}
			if ev.Type == pipeline.EventStateChanged && terminal(ev.Snapshot.State) {
				return true
			}
		}
	}
}

func terminal(st pipeline.State) bool {
	return st == pipeline.StateCompleted || st == pipeline.StateFailed
}

// readUntilClosed drains client frames so control messages are handled,
// and closes gone once the connection fails.
func readUntilClosed(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
	}
}

func pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// sendWebSocketMessage marshals msg and writes it as a text frame.
func sendWebSocketMessage(conn WebSocketConnWriter, msg WebSocketMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal WebSocket message", "error", err)
		return fmt.Errorf("marshal %s message: %w", msg.Type, err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			slog.Info("WebSocket client stopped reading", "type", msg.Type)
		} else {
			slog.Debug("Failed to send WebSocket message", "error", err)
		}
		return err
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
	return nil
}
