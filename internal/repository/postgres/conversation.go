package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ConversationRepository implements domain.ConversationRepository
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// Create inserts a new conversation
func (r *ConversationRepository) Create(ctx context.Context, conversation *domain.Conversation) error {
	query := `
		INSERT INTO conversations (id, user_id, title, chat_model, provider, encrypted_api_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	now := time.Now().UTC()
	if conversation.ID == uuid.Nil {
		conversation.ID = uuid.New()
	}
	conversation.CreatedAt = now
	conversation.UpdatedAt = now

	_, err := r.pool.Exec(ctx, query,
		conversation.ID,
		conversation.UserID,
		conversation.Title,
		conversation.ChatModel,
		conversation.Provider,
		conversation.EncryptedAPIKey,
		conversation.CreatedAt,
		conversation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	return nil
}

// Get retrieves a conversation by ID
func (r *ConversationRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT id, user_id, title, chat_model, provider, encrypted_api_key, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`

	var c domain.Conversation
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.UserID,
		&c.Title,
		&c.ChatModel,
		&c.Provider,
		&c.EncryptedAPIKey,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return &c, nil
}

// ListByUser retrieves conversations for a user, most recently updated first
func (r *ConversationRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int, offset int) ([]domain.Conversation, error) {
	query := `
		SELECT id, user_id, title, chat_model, provider, encrypted_api_key, created_at, updated_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(
			&c.ID,
			&c.UserID,
			&c.Title,
			&c.ChatModel,
			&c.Provider,
			&c.EncryptedAPIKey,
			&c.CreatedAt,
			&c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}

	return conversations, rows.Err()
}

// Update persists title, model and provider changes
func (r *ConversationRepository) Update(ctx context.Context, conversation *domain.Conversation) error {
	query := `
		UPDATE conversations
		SET title = $2, chat_model = $3, provider = $4, encrypted_api_key = $5, updated_at = $6
		WHERE id = $1
	`

	conversation.UpdatedAt = time.Now().UTC()

	tag, err := r.pool.Exec(ctx, query,
		conversation.ID,
		conversation.Title,
		conversation.ChatModel,
		conversation.Provider,
		conversation.EncryptedAPIKey,
		conversation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}

	return nil
}

// Delete removes a conversation. Messages and attachments cascade.
func (r *ConversationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}

	return nil
}
