package session

import (
	"context"
	"testing"

	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestModelResolver_OverrideAndReuseSwitch(t *testing.T) {
	convID := uuid.New()
	conversations := &stubConversations{conv: &domain.Conversation{ID: convID, ChatModel: "M"}}

	r := NewModelResolver(conversations, func() domain.ModelDefaults {
		return domain.ModelDefaults{
			Chat:              "default-chat",
			Auxiliary:         "default-aux",
			AuxiliaryUsesChat: true,
		}
	})

	sel := r.Resolve(context.Background(), convID, domain.ModelSelection{})
	assert.Equal(t, "M", sel.Chat)
	assert.Equal(t, "M", sel.Auxiliary, "auxiliary reuses the chat model resolved in the same call")
}

func TestModelResolver_AuxiliaryDefaultWhenSwitchOff(t *testing.T) {
	r := NewModelResolver(&stubConversations{}, func() domain.ModelDefaults {
		return domain.ModelDefaults{
			Chat:      "default-chat",
			Auxiliary: "default-aux",
		}
	})

	sel := r.Resolve(context.Background(), uuid.New(), domain.ModelSelection{})
	assert.Equal(t, "default-chat", sel.Chat)
	assert.Equal(t, "default-aux", sel.Auxiliary)
}

func TestModelResolver_PreviousValuesRankAboveDefaults(t *testing.T) {
	r := NewModelResolver(&stubConversations{}, func() domain.ModelDefaults {
		return domain.ModelDefaults{
			Chat:            "default-chat",
			Auxiliary:       "default-aux",
			VisualAuxiliary: "default-visual",
		}
	})

	prev := domain.ModelSelection{Chat: "prev-chat", Auxiliary: "prev-aux", VisualAuxiliary: "prev-visual"}
	sel := r.Resolve(context.Background(), uuid.New(), prev)
	assert.Equal(t, "prev-chat", sel.Chat)
	assert.Equal(t, "prev-aux", sel.Auxiliary)
	assert.Equal(t, "prev-visual", sel.VisualAuxiliary)
}

func TestModelResolver_FreshEvaluation(t *testing.T) {
	defaults := domain.ModelDefaults{Chat: "first"}
	r := NewModelResolver(&stubConversations{}, func() domain.ModelDefaults { return defaults })

	sel := r.Resolve(context.Background(), uuid.New(), domain.ModelSelection{})
	assert.Equal(t, "first", sel.Chat)

	// Configuration may change between calls; the chain re-evaluates.
	defaults.Chat = "second"
	sel = r.Resolve(context.Background(), uuid.New(), domain.ModelSelection{})
	assert.Equal(t, "second", sel.Chat)
}
