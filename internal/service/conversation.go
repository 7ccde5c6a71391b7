package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/Rrens/chat-sessions/internal/repository/redis"
	"github.com/Rrens/chat-sessions/internal/security"
	"github.com/Rrens/chat-sessions/internal/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultTitle is assigned to new conversations until a generated title
// replaces it.
const DefaultTitle = "New Chat"

// ErrForbidden is returned when the caller does not own the conversation
var ErrForbidden = errors.New("forbidden")

// ConversationCreate carries conversation creation input
type ConversationCreate struct {
	Title     string `json:"title" validate:"max=255"`
	ChatModel string `json:"chat_model" validate:"max=255"`
	Provider  string `json:"provider" validate:"max=64"`
	APIKey    string `json:"api_key" validate:"max=512"`
}

// ConversationUpdate carries conversation update input. Nil fields are left
// unchanged.
type ConversationUpdate struct {
	Title     *string `json:"title" validate:"omitempty,max=255"`
	ChatModel *string `json:"chat_model" validate:"omitempty,max=255"`
	Provider  *string `json:"provider" validate:"omitempty,max=64"`
	APIKey    *string `json:"api_key" validate:"omitempty,max=512"`
}

// ConversationService owns conversation CRUD and fronts the per-conversation
// session coordinators. It holds one registry reference per live session so
// an in-flight inference task survives between requests.
type ConversationService struct {
	registry      *session.Registry
	conversations domain.ConversationRepository
	encryptor     *security.Encryptor
	titleAttempts *redis.TitleAttempts

	mu   sync.Mutex
	held map[uuid.UUID]*session.Coordinator
}

// NewConversationService creates a new conversation service. encryptor and
// titleAttempts may be nil; the corresponding features degrade gracefully.
func NewConversationService(
	registry *session.Registry,
	conversations domain.ConversationRepository,
	encryptor *security.Encryptor,
	titleAttempts *redis.TitleAttempts,
) *ConversationService {
	return &ConversationService{
		registry:      registry,
		conversations: conversations,
		encryptor:     encryptor,
		titleAttempts: titleAttempts,
		held:          make(map[uuid.UUID]*session.Coordinator),
	}
}

// Create creates a conversation for the user
func (s *ConversationService) Create(ctx context.Context, userID uuid.UUID, input ConversationCreate) (*domain.Conversation, error) {
	title := input.Title
	if title == "" {
		title = DefaultTitle
	}

	conv := &domain.Conversation{
		ID:        uuid.New(),
		UserID:    &userID,
		Title:     title,
		ChatModel: input.ChatModel,
		Provider:  input.Provider,
	}

	if input.APIKey != "" {
		encrypted, err := s.encryptKey(input.APIKey)
		if err != nil {
			return nil, err
		}
		conv.EncryptedAPIKey = encrypted
	}

	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// List returns the user's conversations, most recently updated first
func (s *ConversationService) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Conversation, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.conversations.ListByUser(ctx, userID, limit, offset)
}

// Get returns a conversation if the user owns it
func (s *ConversationService) Get(ctx context.Context, userID, conversationID uuid.UUID) (*domain.Conversation, error) {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID == nil || *conv.UserID != userID {
		return nil, ErrForbidden
	}
	return conv, nil
}

// Update applies partial changes to a conversation
func (s *ConversationService) Update(ctx context.Context, userID, conversationID uuid.UUID, input ConversationUpdate) (*domain.Conversation, error) {
	conv, err := s.Get(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	if input.Title != nil {
		conv.Title = *input.Title
	}
	if input.ChatModel != nil {
		conv.ChatModel = *input.ChatModel
	}
	if input.Provider != nil {
		conv.Provider = *input.Provider
	}
	if input.APIKey != nil {
		if *input.APIKey == "" {
			conv.EncryptedAPIKey = nil
		} else {
			encrypted, err := s.encryptKey(*input.APIKey)
			if err != nil {
				return nil, err
			}
			conv.EncryptedAPIKey = encrypted
		}
	}

	if err := s.conversations.Update(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Delete tears down the live session (if any) and removes the conversation
func (s *ConversationService) Delete(ctx context.Context, userID, conversationID uuid.UUID) error {
	if _, err := s.Get(ctx, userID, conversationID); err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.held[conversationID]; ok {
		delete(s.held, conversationID)
		s.mu.Unlock()
		s.registry.Release(conversationID)
	} else {
		s.mu.Unlock()
	}

	return s.conversations.Delete(ctx, conversationID)
}

// Session returns the live coordinator for a conversation the user owns,
// acquiring and retaining it on first use.
func (s *ConversationService) Session(ctx context.Context, userID, conversationID uuid.UUID) (*session.Coordinator, error) {
	if _, err := s.Get(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return s.session(ctx, conversationID)
}

func (s *ConversationService) session(ctx context.Context, conversationID uuid.UUID) (*session.Coordinator, error) {
	s.mu.Lock()
	if coord, ok := s.held[conversationID]; ok {
		s.mu.Unlock()
		return coord, nil
	}
	s.mu.Unlock()

	coord, err := s.registry.Acquire(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.held[conversationID]; ok {
		s.mu.Unlock()
		s.registry.Release(conversationID)
		return existing, nil
	}
	s.held[conversationID] = coord
	s.mu.Unlock()

	coord.OnExchangeDone(func() {
		go s.maybeGenerateTitle(context.Background(), conversationID)
	})
	return coord, nil
}

// providerContext attaches the conversation's provider override (and
// decrypted API key, when set) to the context so inference routes there.
func (s *ConversationService) providerContext(ctx context.Context, conv *domain.Conversation) context.Context {
	if conv.Provider == "" {
		return ctx
	}

	var config map[string]any
	if len(conv.EncryptedAPIKey) > 0 && s.encryptor != nil {
		key, err := s.encryptor.DecryptString(conv.EncryptedAPIKey)
		if err != nil {
			log.Error().Err(err).
				Str("conversation_id", conv.ID.String()).
				Msg("failed to decrypt conversation API key, using server credentials")
		} else {
			config = map[string]any{"api_key": key}
		}
	}

	return WithProvider(ctx, conv.Provider, config)
}

// SendMessage appends a user turn built from the draft and starts inference
func (s *ConversationService) SendMessage(ctx context.Context, userID, conversationID uuid.UUID, draft session.Draft) error {
	conv, err := s.Get(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	coord, err := s.session(ctx, conversationID)
	if err != nil {
		return err
	}
	return coord.SendDraft(s.providerContext(ctx, conv), draft)
}

// Retry re-issues the exchange anchored at the given message
func (s *ConversationService) Retry(ctx context.Context, userID, conversationID uuid.UUID, fromMessageID int64) error {
	conv, err := s.Get(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	coord, err := s.session(ctx, conversationID)
	if err != nil {
		return err
	}
	return coord.Retry(s.providerContext(ctx, conv), fromMessageID)
}

// Messages returns the ordered message list with attachments
func (s *ConversationService) Messages(ctx context.Context, userID, conversationID uuid.UUID) ([]domain.Message, domain.AttachmentMap, error) {
	coord, err := s.Session(ctx, userID, conversationID)
	if err != nil {
		return nil, nil, err
	}

	messages := coord.Messages()
	attachments := make(domain.AttachmentMap)
	for _, m := range messages {
		if atts := coord.Attachments(m.ID); len(atts) > 0 {
			attachments[m.ID] = atts
		}
	}
	return messages, attachments, nil
}

// UpdateMessageContent edits a message, cancelling any in-flight inference
func (s *ConversationService) UpdateMessageContent(ctx context.Context, userID, conversationID uuid.UUID, messageID int64, content string) error {
	coord, err := s.Session(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	return coord.UpdateContent(ctx, messageID, content)
}

// DeleteMessage removes one message (and its supplement companion)
func (s *ConversationService) DeleteMessage(ctx context.Context, userID, conversationID uuid.UUID, messageID int64) error {
	coord, err := s.Session(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	return coord.Delete(ctx, messageID)
}

// DeleteMessageAndAfter removes the message and everything after it
func (s *ConversationService) DeleteMessageAndAfter(ctx context.Context, userID, conversationID uuid.UUID, messageID int64) error {
	coord, err := s.Session(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	return coord.DeleteCurrentAndAfter(ctx, messageID, nil)
}

// Subscribe opens a change-notification stream for the conversation. The
// returned cancel func must be called when the consumer goes away.
func (s *ConversationService) Subscribe(ctx context.Context, userID, conversationID uuid.UUID) (<-chan session.Notification, func(), error) {
	coord, err := s.Session(ctx, userID, conversationID)
	if err != nil {
		return nil, nil, err
	}

	id, ch := coord.Feed().Subscribe()
	cancel := func() { coord.Feed().Unsubscribe(id) }
	return ch, cancel, nil
}

// GenerateTitle forces a title attempt for the conversation and returns the
// resulting title. Unlike the opportunistic path it runs even when a custom
// title is already set, since the user asked for it explicitly.
func (s *ConversationService) GenerateTitle(ctx context.Context, userID, conversationID uuid.UUID) (string, error) {
	conv, err := s.Get(ctx, userID, conversationID)
	if err != nil {
		return "", err
	}
	coord, err := s.session(ctx, conversationID)
	if err != nil {
		return "", err
	}

	title := coord.GenerateTitle(s.providerContext(ctx, conv))
	if title == "" {
		return conv.Title, nil
	}

	conv.Title = title
	if err := s.conversations.Update(ctx, conv); err != nil {
		return "", err
	}
	return title, nil
}

// maybeGenerateTitle runs after an assistant turn lands. It claims the
// attempt (when a tracker is configured) so concurrent exchanges do not race,
// generates a candidate from the latest exchange and applies it only while
// the conversation still carries the default title.
func (s *ConversationService) maybeGenerateTitle(ctx context.Context, conversationID uuid.UUID) {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID.String()).
			Msg("failed to load conversation for title generation")
		return
	}
	if conv.Title != "" && conv.Title != DefaultTitle {
		return
	}

	if s.titleAttempts != nil {
		claimed, err := s.titleAttempts.TryClaim(ctx, conversationID)
		if err != nil {
			log.Error().Err(err).Msg("failed to claim title attempt")
		} else if !claimed {
			return
		}
	}

	s.mu.Lock()
	coord := s.held[conversationID]
	s.mu.Unlock()
	if coord == nil {
		return
	}

	title := coord.GenerateTitle(s.providerContext(ctx, conv))
	if title == "" {
		if s.titleAttempts != nil {
			if err := s.titleAttempts.Release(ctx, conversationID); err != nil {
				log.Error().Err(err).Msg("failed to release title attempt")
			}
		}
		return
	}

	conv.Title = title
	if err := s.conversations.Update(ctx, conv); err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID.String()).
			Msg("failed to apply generated title")
		return
	}
	log.Info().Str("conversation_id", conversationID.String()).Str("title", title).
		Msg("applied generated title")
}

// Close releases every held session. Used on shutdown.
func (s *ConversationService) Close() {
	s.mu.Lock()
	held := s.held
	s.held = make(map[uuid.UUID]*session.Coordinator)
	s.mu.Unlock()

	for id := range held {
		s.registry.Release(id)
	}
}

func (s *ConversationService) encryptKey(key string) ([]byte, error) {
	if s.encryptor == nil {
		return nil, fmt.Errorf("api key storage is not configured")
	}
	encrypted, err := s.encryptor.EncryptString(key)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt api key: %w", err)
	}
	return encrypted, nil
}
