package session

import (
	"context"
	"sync"

	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/google/uuid"
)

// Registry is the single construction path for sessions. It deduplicates by
// conversation id: acquiring an id twice hands back the same live
// coordinator, so at most one session per conversation ever exists.
type Registry struct {
	gateway       domain.PersistenceGateway
	conversations domain.ConversationRepository
	infer         domain.InferenceClient
	defaults      func() domain.ModelDefaults
	opts          Options

	mu      sync.Mutex
	entries map[uuid.UUID]*registryEntry
}

type registryEntry struct {
	coord *Coordinator
	refs  int
}

// NewRegistry creates a session registry over the shared collaborators.
func NewRegistry(
	gateway domain.PersistenceGateway,
	conversations domain.ConversationRepository,
	infer domain.InferenceClient,
	defaults func() domain.ModelDefaults,
	opts Options,
) *Registry {
	return &Registry{
		gateway:       gateway,
		conversations: conversations,
		infer:         infer,
		defaults:      defaults,
		opts:          opts,
		entries:       make(map[uuid.UUID]*registryEntry),
	}
}

// Acquire returns the live session for the conversation, constructing and
// loading it on first use. Every Acquire must be paired with a Release.
func (r *Registry) Acquire(ctx context.Context, conversationID uuid.UUID) (*Coordinator, error) {
	r.mu.Lock()
	e, ok := r.entries[conversationID]
	if ok {
		e.refs++
		r.mu.Unlock()
		return e.coord, nil
	}
	coord := NewCoordinator(conversationID, r.gateway, r.conversations, r.infer, r.defaults, r.opts)
	r.entries[conversationID] = &registryEntry{coord: coord, refs: 1}
	r.mu.Unlock()

	if err := coord.RefreshFromStore(ctx); err != nil {
		r.Release(conversationID)
		return nil, err
	}
	return coord, nil
}

// Release drops one reference. When the last holder releases, the session
// is torn down: in-flight task cancelled, timers invalidated.
func (r *Registry) Release(conversationID uuid.UUID) {
	r.mu.Lock()
	e, ok := r.entries[conversationID]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.entries, conversationID)
	r.mu.Unlock()

	e.coord.Close()
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CloseAll tears down every live session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[uuid.UUID]*registryEntry)
	r.mu.Unlock()

	for _, e := range entries {
		e.coord.Close()
	}
}
