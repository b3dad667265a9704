package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// wsWriteTimeout bounds every outbound control frame; a client that stops
// reading must not wedge the ingest goroutine.
const wsWriteTimeout = 5 * time.Second

// remoteSource satisfies [capture.Source] for browser-side microphones. The
// actual device acquisition happened on the client before it connected, so
// the server side always grants.
type remoteSource struct{}

func (remoteSource) Acquire(context.Context) error { return nil }
func (remoteSource) Release()                      {}

// controlMessage is an inbound text frame on the capture socket.
type controlMessage struct {
	Type string `json:"type"` // "pause", "resume", "stop", "abort"
}

// socketEvent is an outbound text frame on the capture socket.
type socketEvent struct {
	Type            string `json:"type"` // "started", "paused", "resumed", "stored", "error"
	Path            string `json:"path,omitempty"`
	URL             string `json:"url,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	Error           string `json:"error,omitempty"`
}

// handleCaptureSocket runs one live capture session over a WebSocket. Binary
// frames are audio chunks appended in arrival order; text frames are control
// messages. A "stop" control assembles the recording, uploads it, and
// answers with a "stored" event before closing. Disconnecting without a stop
// discards the session.
func (s *Server) handleCaptureSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	appointmentID := q.Get("appointment_id")
	if clientID == "" || appointmentID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "client_id and appointment_id are required"})
		return
	}
	contentType := q.Get("content_type")
	supersede := q.Get("supersede") == "true"

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("capture socket accept failed", "error", err)
		return
	}

	ctx := r.Context()
	sess, err := s.captures.Start(ctx, clientID, appointmentID, contentType, remoteSource{}, supersede)
	if err != nil {
		s.closeWithError(ctx, conn, err)
		return
	}

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	s.writeEvent(ctx, conn, socketEvent{Type: "started"})
	s.log.Info("capture session started",
		"client_id", clientID, "appointment_id", appointmentID)

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			// Client went away mid-session. The partial recording is
			// unusable without a stop, so release everything.
			s.captures.Release(clientID)
			s.log.Info("capture session dropped",
				"client_id", clientID, "appointment_id", appointmentID, "error", err)
			return
		}

		switch msgType {
		case websocket.MessageBinary:
			if err := sess.AppendChunk(data); err != nil {
				s.captures.Release(clientID)
				s.closeWithError(ctx, conn, err)
				return
			}

		case websocket.MessageText:
			var ctl controlMessage
			if err := json.Unmarshal(data, &ctl); err != nil {
				s.writeEvent(ctx, conn, socketEvent{Type: "error", Error: "malformed control message"})
				continue
			}
			done, err := s.handleControl(ctx, conn, clientID, appointmentID, ctl)
			if err != nil {
				s.captures.Release(clientID)
				s.closeWithError(ctx, conn, err)
				return
			}
			if done {
				return
			}
		}
	}
}

// handleControl applies one control message to the client's session. done is
// true when the socket has been closed and the loop should exit.
func (s *Server) handleControl(ctx context.Context, conn *websocket.Conn, clientID, appointmentID string, ctl controlMessage) (done bool, err error) {
	sess, ok := s.captures.Session(clientID)
	if !ok {
		return false, errors.New("server: no active session")
	}

	switch ctl.Type {
	case "pause":
		if err := sess.Pause(); err != nil {
			return false, err
		}
		s.writeEvent(ctx, conn, socketEvent{Type: "paused"})
		return false, nil

	case "resume":
		if err := sess.Resume(); err != nil {
			return false, err
		}
		s.writeEvent(ctx, conn, socketEvent{Type: "resumed"})
		return false, nil

	case "abort":
		s.captures.Release(clientID)
		conn.Close(websocket.StatusNormalClosure, "aborted")
		return true, nil

	case "stop":
		rec, err := s.captures.Stop(clientID)
		if err != nil {
			return false, err
		}

		event := socketEvent{Type: "stored", DurationSeconds: rec.ElapsedSeconds}
		if s.uploads != nil {
			stored, err := s.uploads.Upload(ctx, appointmentID, rec)
			if err != nil {
				return false, err
			}
			event.Path = stored.Path
			if url, urlErr := s.uploads.PlayableURL(stored.Path); urlErr == nil {
				event.URL = url
			}
		}

		s.writeEvent(ctx, conn, event)
		conn.Close(websocket.StatusNormalClosure, "session stored")
		return true, nil

	default:
		s.writeEvent(ctx, conn, socketEvent{Type: "error", Error: "unknown control type: " + ctl.Type})
		return false, nil
	}
}

// writeEvent sends a text event best-effort; a failed write will surface on
// the next read instead.
func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, ev socketEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, data)
}

// closeWithError reports err to the client and closes the socket.
func (s *Server) closeWithError(ctx context.Context, conn *websocket.Conn, err error) {
	s.writeEvent(ctx, conn, socketEvent{Type: "error", Error: err.Error()})
	conn.Close(websocket.StatusInternalError, "session failed")
}
