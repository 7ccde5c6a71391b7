package session

import (
	"context"

	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ModelResolver applies the layered fallback chains for the three model
// roles. Every call evaluates fresh because conversation and process
// configuration may change between calls.
type ModelResolver struct {
	conversations domain.ConversationRepository
	defaults      func() domain.ModelDefaults
}

// NewModelResolver creates a resolver over conversation-level overrides and
// process-wide defaults.
func NewModelResolver(conversations domain.ConversationRepository, defaults func() domain.ModelDefaults) *ModelResolver {
	return &ModelResolver{conversations: conversations, defaults: defaults}
}

// Resolve derives the model selection for a conversation. prev carries the
// session's previously-resolved values, which rank between the
// conversation-level override and the process defaults.
//
// The auxiliary chain runs after the chat chain on purpose: when the
// "auxiliary reuses chat" switch is on it must see the chat value resolved
// in this same call.
func (r *ModelResolver) Resolve(ctx context.Context, conversationID uuid.UUID, prev domain.ModelSelection) domain.ModelSelection {
	def := r.defaults()

	override := ""
	if r.conversations != nil {
		conv, err := r.conversations.Get(ctx, conversationID)
		if err != nil {
			log.Debug().Err(err).Str("conversation_id", conversationID.String()).Msg("no conversation-level model override")
		} else if conv != nil {
			override = conv.ChatModel
		}
	}

	var sel domain.ModelSelection

	// 1. chat: conversation override -> previous value -> process default
	switch {
	case override != "":
		sel.Chat = override
	case prev.Chat != "":
		sel.Chat = prev.Chat
	default:
		sel.Chat = def.Chat
	}

	// 2. auxiliary: reuse switch -> previous value -> process default
	switch {
	case def.AuxiliaryUsesChat:
		sel.Auxiliary = sel.Chat
	case prev.Auxiliary != "":
		sel.Auxiliary = prev.Auxiliary
	default:
		sel.Auxiliary = def.Auxiliary
	}

	// 3. visual auxiliary: previous value -> process default
	if prev.VisualAuxiliary != "" {
		sel.VisualAuxiliary = prev.VisualAuxiliary
	} else {
		sel.VisualAuxiliary = def.VisualAuxiliary
	}

	return sel
}
