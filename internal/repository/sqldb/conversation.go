package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/google/uuid"
)

// ConversationRepository implements domain.ConversationRepository
type ConversationRepository struct {
	db *DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create inserts a new conversation
func (r *ConversationRepository) Create(ctx context.Context, conversation *domain.Conversation) error {
	now := time.Now().UTC()
	if conversation.ID == uuid.Nil {
		conversation.ID = uuid.New()
	}
	conversation.CreatedAt = now
	conversation.UpdatedAt = now

	var userID any
	if conversation.UserID != nil {
		userID = conversation.UserID.String()
	}

	_, err := r.db.SQL.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, chat_model, provider, encrypted_api_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conversation.ID.String(),
		userID,
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
	row := r.db.SQL.QueryRowContext(ctx,
		`SELECT id, user_id, title, chat_model, provider, encrypted_api_key, created_at, updated_at
		 FROM conversations WHERE id = ?`,
		id.String(),
	)

	c, err := scanConversation(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return c, nil
}

// ListByUser retrieves conversations for a user, most recently updated first
func (r *ConversationRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int, offset int) ([]domain.Conversation, error) {
	rows, err := r.db.SQL.QueryContext(ctx,
		`SELECT id, user_id, title, chat_model, provider, encrypted_api_key, created_at, updated_at
		 FROM conversations WHERE user_id = ?
		 ORDER BY updated_at DESC
		 LIMIT ? OFFSET ?`,
		userID.String(), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, *c)
	}

	return conversations, rows.Err()
}

// Update persists title, model and provider changes
func (r *ConversationRepository) Update(ctx context.Context, conversation *domain.Conversation) error {
	conversation.UpdatedAt = time.Now().UTC()

	res, err := r.db.SQL.ExecContext(ctx,
		`UPDATE conversations
		 SET title = ?, chat_model = ?, provider = ?, encrypted_api_key = ?, updated_at = ?
		 WHERE id = ?`,
		conversation.Title,
		conversation.ChatModel,
		conversation.Provider,
		conversation.EncryptedAPIKey,
		conversation.UpdatedAt,
		conversation.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return domain.ErrConversationNotFound
	}

	return nil
}

// Delete removes a conversation along with its messages and attachments
func (r *ConversationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.SQL.ExecContext(ctx,
		`DELETE FROM attachments WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = ?)`,
		id.String(),
	); err != nil {
		return fmt.Errorf("failed to delete conversation attachments: %w", err)
	}
	if _, err := r.db.SQL.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ?`, id.String(),
	); err != nil {
		return fmt.Errorf("failed to delete conversation messages: %w", err)
	}

	res, err := r.db.SQL.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return domain.ErrConversationNotFound
	}

	return nil
}

func scanConversation(scan func(dest ...any) error) (*domain.Conversation, error) {
	var c domain.Conversation
	var id string
	var userID sql.NullString

	if err := scan(
		&id,
		&userID,
		&c.Title,
		&c.ChatModel,
		&c.Provider,
		&c.EncryptedAPIKey,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse conversation id: %w", err)
	}
	c.ID = parsed

	if userID.Valid {
		u, err := uuid.Parse(userID.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse user id: %w", err)
		}
		c.UserID = &u
	}

	return &c, nil
}
