package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/codeloft/stagehand/pkg/hub"
)

// handleStream streams a project's events over SSE. The subscription ack
// and snapshot events are delivered through the sink before any live
// event, so the client sees them first.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sink := hub.NewChannelSink(128)
	conn, err := s.hub.Subscribe(r.Context(), projectID, sink)
	if err != nil {
		if errors.Is(err, hub.ErrHubClosed) {
			writeError(w, http.StatusServiceUnavailable, "event hub unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "subscribe failed: "+err.Error())
		return
	}
	defer s.hub.Unsubscribe(conn)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-sink.Events():
			if !open {
				// Dropped by the hub (slow consumer or shutdown)
				return
			}
			data, _ := json.Marshal(event)
			if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// WebSocketMessage represents a message received from WebSocket clients.
type WebSocketMessage struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// handleWebSocket streams the same events as handleStream over a
// WebSocket. Client messages are read only to detect disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}
	defer wsConn.Close(websocket.StatusNormalClosure, "connection closed")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sink := hub.NewChannelSink(128)
	conn, err := s.hub.Subscribe(ctx, projectID, sink)
	if err != nil {
		wsConn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer s.hub.Unsubscribe(conn)

	// Drain client frames so pings and close frames are processed
	go func() {
		for {
			var msg WebSocketMessage
			if err := wsjson.Read(ctx, wsConn, &msg); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-sink.Events():
			if !open {
				return
			}
			if err := wsjson.Write(ctx, wsConn, event); err != nil {
				return
			}
		}
	}
}
