package service

import (
	"context"
	"sort"
	"sync"

	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockUserRepository mocks domain.UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

// memConversations is an in-memory domain.ConversationRepository
type memConversations struct {
	mu    sync.Mutex
	items map[uuid.UUID]domain.Conversation
}

func newMemConversations() *memConversations {
	return &memConversations{items: make(map[uuid.UUID]domain.Conversation)}
}

func (r *memConversations) Create(_ context.Context, c *domain.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[c.ID] = *c
	return nil
}

func (r *memConversations) Get(_ context.Context, id uuid.UUID) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	out := c
	return &out, nil
}

func (r *memConversations) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Conversation
	for _, c := range r.items {
		if c.UserID != nil && *c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memConversations) Update(_ context.Context, c *domain.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[c.ID]; !ok {
		return domain.ErrConversationNotFound
	}
	r.items[c.ID] = *c
	return nil
}

func (r *memConversations) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return domain.ErrConversationNotFound
	}
	delete(r.items, id)
	return nil
}

// memGateway is an in-memory domain.PersistenceGateway with monotonic ids
type memGateway struct {
	mu          sync.Mutex
	nextID      int64
	messages    []domain.Message
	attachments map[int64][]domain.Attachment
}

func newMemGateway() *memGateway {
	return &memGateway{attachments: make(map[int64][]domain.Attachment)}
}

func (g *memGateway) ListMessages(_ context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Message
	for _, m := range g.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *memGateway) ListAttachments(_ context.Context, messageID int64) ([]domain.Attachment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.Attachment(nil), g.attachments[messageID]...), nil
}

func (g *memGateway) UpsertMessages(_ context.Context, messages []domain.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range messages {
		replaced := false
		for i := range g.messages {
			if g.messages[i].ID == m.ID {
				g.messages[i] = m
				replaced = true
				break
			}
		}
		if !replaced {
			g.messages = append(g.messages, m)
		}
	}
	return nil
}

func (g *memGateway) UpsertAttachments(_ context.Context, attachments []domain.Attachment) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, a := range attachments {
		list := g.attachments[a.MessageID]
		replaced := false
		for i := range list {
			if list[i].ID == a.ID {
				list[i] = a
				replaced = true
				break
			}
		}
		if !replaced {
			list = append(list, a)
		}
		g.attachments[a.MessageID] = list
	}
	return nil
}

func (g *memGateway) DeleteMessage(_ context.Context, messageID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	kept := g.messages[:0]
	for _, m := range g.messages {
		if m.ID != messageID {
			kept = append(kept, m)
		}
	}
	g.messages = kept
	delete(g.attachments, messageID)
	return nil
}

func (g *memGateway) DeleteMessagesFrom(_ context.Context, conversationID uuid.UUID, messageID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	kept := g.messages[:0]
	for _, m := range g.messages {
		if m.ConversationID == conversationID && m.ID >= messageID {
			delete(g.attachments, m.ID)
			continue
		}
		kept = append(kept, m)
	}
	g.messages = kept
	return nil
}

func (g *memGateway) DeleteSupplementMessage(_ context.Context, nextTo int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	kept := g.messages[:0]
	for _, m := range g.messages {
		if m.Supplement && (m.ID == nextTo-1 || m.ID == nextTo+1) {
			delete(g.attachments, m.ID)
			continue
		}
		kept = append(kept, m)
	}
	g.messages = kept
	return nil
}

func (g *memGateway) MakeMessage(_ context.Context, conversationID uuid.UUID) (*domain.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	m := domain.Message{ID: g.nextID, ConversationID: conversationID}
	g.messages = append(g.messages, m)
	return &m, nil
}

func (g *memGateway) MakeAttachment(_ context.Context, messageID int64) (*domain.Attachment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a := domain.Attachment{ID: uuid.New(), MessageID: messageID}
	g.attachments[messageID] = append(g.attachments[messageID], a)
	return &a, nil
}
