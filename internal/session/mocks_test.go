package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// fakeGateway is an in-memory PersistenceGateway issuing monotonically
// increasing message ids, so coordinator flows run against real storage
// semantics.
type fakeGateway struct {
	mu          sync.Mutex
	nextID      int64
	messages    map[int64]domain.Message
	attachments map[int64][]domain.Attachment
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		messages:    make(map[int64]domain.Message),
		attachments: make(map[int64][]domain.Attachment),
	}
}

func (g *fakeGateway) seed(conversationID uuid.UUID, role domain.MessageRole, content string) domain.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	m := domain.Message{
		ID:             g.nextID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	g.messages[m.ID] = m
	return m
}

func (g *fakeGateway) ListMessages(_ context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
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

func (g *fakeGateway) ListAttachments(_ context.Context, messageID int64) ([]domain.Attachment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.Attachment(nil), g.attachments[messageID]...), nil
}

func (g *fakeGateway) UpsertMessages(_ context.Context, messages []domain.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range messages {
		g.messages[m.ID] = m
	}
	return nil
}

func (g *fakeGateway) UpsertAttachments(_ context.Context, attachments []domain.Attachment) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, a := range attachments {
		list := g.attachments[a.MessageID]
		replaced := false
		for i := range list {
			if list[i].ID == a.ID {
				list[i] = a
				replaced = true
			}
		}
		if !replaced {
			list = append(list, a)
		}
		g.attachments[a.MessageID] = list
	}
	return nil
}

func (g *fakeGateway) DeleteMessage(_ context.Context, messageID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.messages, messageID)
	delete(g.attachments, messageID)
	return nil
}

func (g *fakeGateway) DeleteMessagesFrom(_ context.Context, conversationID uuid.UUID, messageID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, m := range g.messages {
		if m.ConversationID == conversationID && id >= messageID {
			delete(g.messages, id)
			delete(g.attachments, id)
		}
	}
	return nil
}

func (g *fakeGateway) DeleteSupplementMessage(_ context.Context, nextTo int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range []int64{nextTo - 1, nextTo + 1} {
		if m, ok := g.messages[id]; ok && m.Supplement {
			delete(g.messages, id)
			delete(g.attachments, id)
		}
	}
	return nil
}

func (g *fakeGateway) MakeMessage(_ context.Context, conversationID uuid.UUID) (*domain.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	m := domain.Message{
		ID:             g.nextID,
		ConversationID: conversationID,
		CreatedAt:      time.Now(),
	}
	g.messages[m.ID] = m
	return &m, nil
}

func (g *fakeGateway) MakeAttachment(_ context.Context, messageID int64) (*domain.Attachment, error) {
	a := domain.Attachment{ID: uuid.New(), MessageID: messageID}
	g.mu.Lock()
	g.attachments[messageID] = append(g.attachments[messageID], a)
	g.mu.Unlock()
	return &a, nil
}

func (g *fakeGateway) ids(conversationID uuid.UUID) []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []int64
	for id, m := range g.messages {
		if m.ConversationID == conversationID {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// funcInference lets a test script the inference collaborator.
type funcInference struct {
	fn func(ctx context.Context, model string, maxTokens int, messages []domain.PromptMessage, extra map[string]any) (*domain.InferenceResult, error)
}

func (f *funcInference) Infer(ctx context.Context, model string, maxTokens int, messages []domain.PromptMessage, extra map[string]any) (*domain.InferenceResult, error) {
	return f.fn(ctx, model, maxTokens, messages, extra)
}

// MockInferenceClient mocks domain.InferenceClient
type MockInferenceClient struct {
	mock.Mock
}

func (m *MockInferenceClient) Infer(ctx context.Context, model string, maxTokens int, messages []domain.PromptMessage, extra map[string]any) (*domain.InferenceResult, error) {
	args := m.Called(ctx, model, maxTokens, messages, extra)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.InferenceResult), args.Error(1)
}

// MockConversationRepository mocks domain.ConversationRepository
type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) Create(ctx context.Context, conversation *domain.Conversation) error {
	args := m.Called(ctx, conversation)
	return args.Error(0)
}

func (m *MockConversationRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int, offset int) ([]domain.Conversation, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) Update(ctx context.Context, conversation *domain.Conversation) error {
	args := m.Called(ctx, conversation)
	return args.Error(0)
}

func (m *MockConversationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// stubConversations is a ConversationRepository that always returns the
// same conversation.
type stubConversations struct {
	conv *domain.Conversation
}

func (s *stubConversations) Create(context.Context, *domain.Conversation) error { return nil }
func (s *stubConversations) Get(context.Context, uuid.UUID) (*domain.Conversation, error) {
	if s.conv == nil {
		return nil, domain.ErrConversationNotFound
	}
	return s.conv, nil
}
func (s *stubConversations) ListByUser(context.Context, uuid.UUID, int, int) ([]domain.Conversation, error) {
	return nil, nil
}
func (s *stubConversations) Update(context.Context, *domain.Conversation) error { return nil }
func (s *stubConversations) Delete(context.Context, uuid.UUID) error            { return nil }
