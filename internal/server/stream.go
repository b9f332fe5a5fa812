package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loopdeck/loopdeck/internal/eventlog"
	"github.com/loopdeck/loopdeck/internal/hub"
)

const keepaliveInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// workflowEvent is the wire shape streamed to clients.
type workflowEvent struct {
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Iteration int             `json:"iteration,omitempty"`
	Hat       string          `json:"hat,omitempty"`
}

func toWire(e eventlog.Event) workflowEvent {
	return workflowEvent{
		Topic:     e.Topic,
		Payload:   e.Payload,
		Timestamp: e.Timestamp,
		Iteration: e.Iteration,
		Hat:       e.Hat,
	}
}

// handleSessionSSE streams a session's events as server-sent events. Each
// event goes out as an "event: workflow" frame; a gap from a slow consumer
// is surfaced as an "event: lagged" frame instead of being hidden.
func (s *Server) handleSessionSSE(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, ok := s.lookupStream(id)
	if !ok {
		writeError(w, 404, "session_not_streamable")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", 500)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(200)
	flusher.Flush()

	sub := st.tailer.Hub().Subscribe()
	defer sub.Close()

	ctx := r.Context()
	for {
		// Bound each receive so idle streams still get keepalive comments.
		recvCtx, cancel := context.WithTimeout(ctx, keepaliveInterval)
		ev, err := sub.Recv(recvCtx)
		cancel()

		var lag *hub.LagError
		switch {
		case err == nil:
			data, _ := json.Marshal(toWire(ev))
			fmt.Fprintf(w, "event: workflow\ndata: %s\n\n", data)
			flusher.Flush()
		case errors.As(err, &lag):
			fmt.Fprintf(w, "event: lagged\ndata: {\"dropped\":%d}\n\n", lag.Dropped)
			flusher.Flush()
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		default:
			// Client went away or the hub closed.
			return
		}
	}
}

// handleSessionWS streams the same events over a websocket, one JSON text
// frame per event.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, ok := s.lookupStream(id)
	if !ok {
		writeError(w, 404, "session_not_streamable")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := st.tailer.Hub().Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader goroutine only notices the client closing.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		ev, err := sub.Recv(ctx)
		if err != nil {
			var lag *hub.LagError
			if errors.As(err, &lag) {
				msg, _ := json.Marshal(map[string]any{"topic": "stream.lagged", "dropped": lag.Dropped})
				if conn.WriteMessage(websocket.TextMessage, msg) != nil {
					return
				}
				continue
			}
			return
		}
		data, _ := json.Marshal(toWire(ev))
		if conn.WriteMessage(websocket.TextMessage, data) != nil {
			return
		}
	}
}
