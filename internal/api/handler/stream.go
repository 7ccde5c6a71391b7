package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Rrens/chat-sessions/internal/api/middleware"
	"github.com/Rrens/chat-sessions/internal/api/response"
	"github.com/Rrens/chat-sessions/internal/service"
)

// StreamHandler pushes session change notifications over server-sent events
type StreamHandler struct {
	conversations *service.ConversationService
	heartbeat     time.Duration
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(conversations *service.ConversationService) *StreamHandler {
	return &StreamHandler{
		conversations: conversations,
		heartbeat:     15 * time.Second,
	}
}

// Stream subscribes the client to the conversation's notification feed. The
// first event is the current message list; subsequent events follow every
// change until the client disconnects.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	convID, ok := conversationID(r)
	if !ok {
		response.BadRequest(w, "invalid conversation ID")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		response.InternalError(w, "streaming unsupported")
		return
	}

	ch, cancel, err := h.conversations.Subscribe(r.Context(), userID, convID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case n, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(n)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: messages\ndata: %s\n\n", payload)
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
