package session

import (
	"context"
	"testing"

	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() (*Registry, *fakeGateway) {
	gateway := newFakeGateway()
	infer := &funcInference{fn: func(context.Context, string, int, []domain.PromptMessage, map[string]any) (*domain.InferenceResult, error) {
		return &domain.InferenceResult{Content: "ok"}, nil
	}}
	defaults := func() domain.ModelDefaults {
		return domain.ModelDefaults{Chat: "chat-model", MaxCompletionToken: 256}
	}
	return NewRegistry(gateway, &stubConversations{}, infer, defaults, Options{}), gateway
}

func TestRegistry_AcquireDeduplicates(t *testing.T) {
	r, gateway := newTestRegistry()
	convID := uuid.New()
	gateway.seed(convID, domain.RoleUser, "hello")

	first, err := r.Acquire(context.Background(), convID)
	require.NoError(t, err)
	second, err := r.Acquire(context.Background(), convID)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, r.Len())

	// The first acquire already loaded state from storage
	assert.Len(t, first.Messages(), 1)
}

func TestRegistry_DistinctConversationsGetDistinctSessions(t *testing.T) {
	r, _ := newTestRegistry()

	a, err := r.Acquire(context.Background(), uuid.New())
	require.NoError(t, err)
	b, err := r.Acquire(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_ReleaseClosesOnLastReference(t *testing.T) {
	r, _ := newTestRegistry()
	convID := uuid.New()

	first, err := r.Acquire(context.Background(), convID)
	require.NoError(t, err)
	_, err = r.Acquire(context.Background(), convID)
	require.NoError(t, err)

	r.Release(convID)
	assert.Equal(t, 1, r.Len(), "session stays live while a reference remains")

	r.Release(convID)
	assert.Equal(t, 0, r.Len())

	// A fresh acquire constructs a new session
	again, err := r.Acquire(context.Background(), convID)
	require.NoError(t, err)
	assert.NotSame(t, first, again)
}

func TestRegistry_ReleaseUnknownIsNoop(t *testing.T) {
	r, _ := newTestRegistry()
	r.Release(uuid.New())
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_CloseAll(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.Acquire(context.Background(), uuid.New())
	require.NoError(t, err)
	_, err = r.Acquire(context.Background(), uuid.New())
	require.NoError(t, err)

	r.CloseAll()
	assert.Equal(t, 0, r.Len())
}
