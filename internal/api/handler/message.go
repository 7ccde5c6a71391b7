package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Rrens/chat-sessions/internal/api/middleware"
	"github.com/Rrens/chat-sessions/internal/api/response"
	"github.com/Rrens/chat-sessions/internal/service"
	"github.com/Rrens/chat-sessions/internal/session"
	"github.com/go-chi/chi/v5"
)

// MessageHandler handles message endpoints within a conversation
type MessageHandler struct {
	conversations *service.ConversationService
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(conversations *service.ConversationService) *MessageHandler {
	return &MessageHandler{conversations: conversations}
}

func messageID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	return id, err == nil && id > 0
}

// List returns the conversation's messages with their attachments
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
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

	messages, attachments, err := h.conversations.Messages(r.Context(), userID, convID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.OK(w, map[string]any{
		"messages":    messages,
		"attachments": attachments,
	})
}

// Send accepts a draft, appends the user turn and starts inference
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
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

	var draft session.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if draft.Text == "" && len(draft.Attachments) == 0 {
		response.BadRequest(w, "empty draft")
		return
	}

	if err := h.conversations.SendMessage(r.Context(), userID, convID, draft); err != nil {
		writeServiceError(w, err)
		return
	}

	response.JSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
	})
}

// Retry cancels any running inference and resubmits from the given message
func (h *MessageHandler) Retry(w http.ResponseWriter, r *http.Request) {
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

	msgID, ok := messageID(r)
	if !ok {
		response.BadRequest(w, "invalid message ID")
		return
	}

	if err := h.conversations.Retry(r.Context(), userID, convID, msgID); err != nil {
		writeServiceError(w, err)
		return
	}

	response.JSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
	})
}

// UpdateContent replaces the visible content of a message
func (h *MessageHandler) UpdateContent(w http.ResponseWriter, r *http.Request) {
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

	msgID, ok := messageID(r)
	if !ok {
		response.BadRequest(w, "invalid message ID")
		return
	}

	var input struct {
		Content string `json:"content" validate:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(input); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	if err := h.conversations.UpdateMessageContent(r.Context(), userID, convID, msgID, input.Content); err != nil {
		writeServiceError(w, err)
		return
	}

	response.OK(w, map[string]string{"status": "updated"})
}

// Delete removes a single message
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

	msgID, ok := messageID(r)
	if !ok {
		response.BadRequest(w, "invalid message ID")
		return
	}

	if err := h.conversations.DeleteMessage(r.Context(), userID, convID, msgID); err != nil {
		writeServiceError(w, err)
		return
	}

	response.NoContent(w)
}

// DeleteFrom removes the message and everything after it
func (h *MessageHandler) DeleteFrom(w http.ResponseWriter, r *http.Request) {
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

	msgID, ok := messageID(r)
	if !ok {
		response.BadRequest(w, "invalid message ID")
		return
	}

	if err := h.conversations.DeleteMessageAndAfter(r.Context(), userID, convID, msgID); err != nil {
		writeServiceError(w, err)
		return
	}

	response.NoContent(w)
}

// Models returns the resolved model roles for the conversation
func (h *MessageHandler) Models(w http.ResponseWriter, r *http.Request) {
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

	coord, err := h.conversations.Session(r.Context(), userID, convID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.OK(w, coord.ResolveModels(r.Context()))
}
