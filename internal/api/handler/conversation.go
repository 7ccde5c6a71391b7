package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Rrens/chat-sessions/internal/api/middleware"
	"github.com/Rrens/chat-sessions/internal/api/response"
	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/Rrens/chat-sessions/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ConversationHandler handles conversation CRUD endpoints
type ConversationHandler struct {
	conversations *service.ConversationService
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(conversations *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

// conversationID extracts and parses the conversation ID from the URL
func conversationID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	return id, err == nil
}

// writeServiceError maps service errors to HTTP status codes
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrConversationNotFound):
		response.NotFound(w, "conversation not found")
	case errors.Is(err, domain.ErrMessageNotFound):
		response.NotFound(w, "message not found")
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(w, "forbidden")
	default:
		response.InternalError(w, err.Error())
	}
}

// List returns the user's conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	conversations, err := h.conversations.List(r.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.OK(w, map[string]any{
		"conversations": conversations,
		"count":         len(conversations),
	})
}

// Create creates a new conversation
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var input service.ConversationCreate
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := validate.Struct(input); err != nil {
		response.BadRequest(w, validationMessages(err))
		return
	}

	conv, err := h.conversations.Create(r.Context(), userID, input)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Created(w, conv)
}

// Get returns a single conversation
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	id, ok := conversationID(r)
	if !ok {
		response.BadRequest(w, "invalid conversation ID")
		return
	}

	conv, err := h.conversations.Get(r.Context(), userID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.OK(w, conv)
}

// Update applies a partial update to a conversation
func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	id, ok := conversationID(r)
	if !ok {
		response.BadRequest(w, "invalid conversation ID")
		return
	}

	var input service.ConversationUpdate
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	conv, err := h.conversations.Update(r.Context(), userID, id, input)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.OK(w, conv)
}

// GenerateTitle forces a title generation attempt for the conversation
func (h *ConversationHandler) GenerateTitle(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	id, ok := conversationID(r)
	if !ok {
		response.BadRequest(w, "invalid conversation ID")
		return
	}

	title, err := h.conversations.GenerateTitle(r.Context(), userID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.OK(w, map[string]string{"title": title})
}

// Delete removes a conversation and its messages
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	id, ok := conversationID(r)
	if !ok {
		response.BadRequest(w, "invalid conversation ID")
		return
	}

	if err := h.conversations.Delete(r.Context(), userID, id); err != nil {
		writeServiceError(w, err)
		return
	}

	response.NoContent(w)
}
