package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/Rrens/chat-sessions/internal/security"
	"github.com/Rrens/chat-sessions/internal/session"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedInference answers chat and auxiliary calls differently so the
// title flow can be observed end to end.
type scriptedInference struct {
	mu    sync.Mutex
	calls []inferenceCall
	fn    func(ctx context.Context, model string, messages []domain.PromptMessage) (*domain.InferenceResult, error)
}

type inferenceCall struct {
	ctx   context.Context
	model string
}

func (s *scriptedInference) Infer(ctx context.Context, model string, _ int, messages []domain.PromptMessage, _ map[string]any) (*domain.InferenceResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, inferenceCall{ctx: ctx, model: model})
	s.mu.Unlock()
	return s.fn(ctx, model, messages)
}

func (s *scriptedInference) callsFor(model string) []inferenceCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inferenceCall
	for _, c := range s.calls {
		if c.model == model {
			out = append(out, c)
		}
	}
	return out
}

func testDefaults() domain.ModelDefaults {
	return domain.ModelDefaults{
		Chat:               "chat-model",
		Auxiliary:          "aux-model",
		MaxCompletionToken: 256,
	}
}

func newTestService(t *testing.T, infer domain.InferenceClient) (*ConversationService, *memConversations, *security.Encryptor) {
	t.Helper()

	gateway := newMemGateway()
	conversations := newMemConversations()
	registry := session.NewRegistry(gateway, conversations, infer, testDefaults, session.Options{
		SettleDelay: time.Millisecond,
	})

	encryptor, err := security.NewEncryptor([]byte("12345678901234567890123456789012"))
	require.NoError(t, err)

	svc := NewConversationService(registry, conversations, encryptor, nil)
	t.Cleanup(svc.Close)
	return svc, conversations, encryptor
}

func TestConversationService_CreateDefaultsTitle(t *testing.T) {
	svc, _, encryptor := newTestService(t, &scriptedInference{fn: func(context.Context, string, []domain.PromptMessage) (*domain.InferenceResult, error) {
		return &domain.InferenceResult{Content: "ok"}, nil
	}})

	userID := uuid.New()
	conv, err := svc.Create(context.Background(), userID, ConversationCreate{
		Provider: "anthropic",
		APIKey:   "sk-test-123",
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultTitle, conv.Title)
	require.NotNil(t, conv.UserID)
	assert.Equal(t, userID, *conv.UserID)

	// Key is stored encrypted and round-trips
	assert.NotEmpty(t, conv.EncryptedAPIKey)
	key, err := encryptor.DecryptString(conv.EncryptedAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", key)
}

func TestConversationService_OwnershipEnforced(t *testing.T) {
	svc, _, _ := newTestService(t, &scriptedInference{fn: func(context.Context, string, []domain.PromptMessage) (*domain.InferenceResult, error) {
		return &domain.InferenceResult{Content: "ok"}, nil
	}})

	ctx := context.Background()
	owner := uuid.New()
	conv, err := svc.Create(ctx, owner, ConversationCreate{})
	require.NoError(t, err)

	_, err = svc.Get(ctx, uuid.New(), conv.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	err = svc.SendMessage(ctx, uuid.New(), conv.ID, session.Draft{Text: "hi"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestConversationService_SendMessageProducesExchange(t *testing.T) {
	infer := &scriptedInference{fn: func(_ context.Context, model string, _ []domain.PromptMessage) (*domain.InferenceResult, error) {
		if model == "aux-model" {
			return &domain.InferenceResult{Content: "<conversation><title>Greeting</title></conversation>"}, nil
		}
		return &domain.InferenceResult{Content: "hello there"}, nil
	}}
	svc, conversations, _ := newTestService(t, infer)

	ctx := context.Background()
	userID := uuid.New()
	conv, err := svc.Create(ctx, userID, ConversationCreate{})
	require.NoError(t, err)

	require.NoError(t, svc.SendMessage(ctx, userID, conv.ID, session.Draft{Text: "hi"}))

	assert.Eventually(t, func() bool {
		messages, _, err := svc.Messages(ctx, userID, conv.ID)
		if err != nil || len(messages) != 2 {
			return false
		}
		return messages[1].Role == domain.RoleAssistant && messages[1].Content == "hello there"
	}, time.Second, 10*time.Millisecond)

	// The exchange hook applies the generated title
	assert.Eventually(t, func() bool {
		stored, err := conversations.Get(ctx, conv.ID)
		return err == nil && stored.Title == "Greeting"
	}, time.Second, 10*time.Millisecond)
}

func TestConversationService_CustomTitleIsNotOverwritten(t *testing.T) {
	infer := &scriptedInference{fn: func(_ context.Context, model string, _ []domain.PromptMessage) (*domain.InferenceResult, error) {
		if model == "aux-model" {
			return &domain.InferenceResult{Content: "<conversation><title>Generated</title></conversation>"}, nil
		}
		return &domain.InferenceResult{Content: "sure"}, nil
	}}
	svc, conversations, _ := newTestService(t, infer)

	ctx := context.Background()
	userID := uuid.New()
	conv, err := svc.Create(ctx, userID, ConversationCreate{Title: "My Project Notes"})
	require.NoError(t, err)

	require.NoError(t, svc.SendMessage(ctx, userID, conv.ID, session.Draft{Text: "hi"}))

	assert.Eventually(t, func() bool {
		messages, _, err := svc.Messages(ctx, userID, conv.ID)
		return err == nil && len(messages) == 2 && messages[1].Content == "sure"
	}, time.Second, 10*time.Millisecond)

	// Give the async hook a chance to (incorrectly) fire
	time.Sleep(50 * time.Millisecond)
	stored, err := conversations.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "My Project Notes", stored.Title)
	assert.Empty(t, infer.callsFor("aux-model"))
}

func TestConversationService_ProviderSelectionReachesInference(t *testing.T) {
	infer := &scriptedInference{fn: func(_ context.Context, model string, _ []domain.PromptMessage) (*domain.InferenceResult, error) {
		return &domain.InferenceResult{Content: "answered"}, nil
	}}
	svc, _, _ := newTestService(t, infer)

	ctx := context.Background()
	userID := uuid.New()
	conv, err := svc.Create(ctx, userID, ConversationCreate{
		Provider: "deepseek",
		APIKey:   "sk-user-key",
	})
	require.NoError(t, err)

	require.NoError(t, svc.SendMessage(ctx, userID, conv.ID, session.Draft{Text: "hi"}))

	assert.Eventually(t, func() bool {
		return len(infer.callsFor("chat-model")) == 1
	}, time.Second, 10*time.Millisecond)

	sel := providerFromContext(infer.callsFor("chat-model")[0].ctx)
	assert.Equal(t, "deepseek", sel.Name)
	assert.Equal(t, "sk-user-key", sel.Config["api_key"])
}

func TestConversationService_RetryRebuildsExchange(t *testing.T) {
	var answer string
	var mu sync.Mutex
	infer := &scriptedInference{fn: func(_ context.Context, model string, _ []domain.PromptMessage) (*domain.InferenceResult, error) {
		if model == "aux-model" {
			return &domain.InferenceResult{Content: "Title"}, nil
		}
		mu.Lock()
		defer mu.Unlock()
		return &domain.InferenceResult{Content: answer}, nil
	}}
	svc, _, _ := newTestService(t, infer)

	ctx := context.Background()
	userID := uuid.New()
	conv, err := svc.Create(ctx, userID, ConversationCreate{})
	require.NoError(t, err)

	mu.Lock()
	answer = "first answer"
	mu.Unlock()
	require.NoError(t, svc.SendMessage(ctx, userID, conv.ID, session.Draft{Text: "what is up"}))

	var assistantID int64
	assert.Eventually(t, func() bool {
		messages, _, err := svc.Messages(ctx, userID, conv.ID)
		if err != nil || len(messages) != 2 || messages[1].Content != "first answer" {
			return false
		}
		assistantID = messages[1].ID
		return true
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	answer = "second answer"
	mu.Unlock()
	require.NoError(t, svc.Retry(ctx, userID, conv.ID, assistantID))

	assert.Eventually(t, func() bool {
		messages, _, err := svc.Messages(ctx, userID, conv.ID)
		if err != nil || len(messages) != 2 {
			return false
		}
		// Fresh rows: the original user turn was rebuilt from its draft
		return messages[0].ID > assistantID &&
			messages[0].Content == "what is up" &&
			strings.Contains(messages[1].Content, "second answer")
	}, time.Second, 10*time.Millisecond)
}

func TestConversationService_DeleteTearsDownSession(t *testing.T) {
	infer := &scriptedInference{fn: func(context.Context, string, []domain.PromptMessage) (*domain.InferenceResult, error) {
		return &domain.InferenceResult{Content: "ok"}, nil
	}}
	svc, conversations, _ := newTestService(t, infer)

	ctx := context.Background()
	userID := uuid.New()
	conv, err := svc.Create(ctx, userID, ConversationCreate{})
	require.NoError(t, err)

	_, err = svc.Session(ctx, userID, conv.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, userID, conv.ID))

	_, err = conversations.Get(ctx, conv.ID)
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}
