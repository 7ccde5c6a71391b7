package postgres

import (
	"context"
	"fmt"

	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Gateway implements domain.PersistenceGateway on top of Postgres.
// Message ids come from a BIGSERIAL column, so they are strictly increasing
// per table.
type Gateway struct {
	pool *pgxpool.Pool
}

// NewGateway creates a new persistence gateway
func NewGateway(pool *pgxpool.Pool) *Gateway {
	return &Gateway{pool: pool}
}

// ListMessages retrieves all messages of a conversation in id order
func (g *Gateway) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, reasoning_content, thinking_seconds, supplement, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY id ASC
	`

	rows, err := g.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		var roleStr string

		if err := rows.Scan(
			&m.ID,
			&m.ConversationID,
			&roleStr,
			&m.Content,
			&m.ReasoningContent,
			&m.ThinkingSeconds,
			&m.Supplement,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = domain.MessageRole(roleStr)
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// ListAttachments retrieves the attachments of a single message
func (g *Gateway) ListAttachments(ctx context.Context, messageID int64) ([]domain.Attachment, error) {
	query := `
		SELECT id, message_id, type, name, preview, image, text, storage_suffix
		FROM attachments
		WHERE message_id = $1
		ORDER BY id ASC
	`

	rows, err := g.pool.Query(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var attachments []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		var typeStr string

		if err := rows.Scan(
			&a.ID,
			&a.MessageID,
			&typeStr,
			&a.Name,
			&a.Preview,
			&a.Image,
			&a.Text,
			&a.StorageSuffix,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		a.Type = domain.AttachmentType(typeStr)
		attachments = append(attachments, a)
	}

	return attachments, rows.Err()
}

// UpsertMessages writes the given messages, overwriting existing rows
func (g *Gateway) UpsertMessages(ctx context.Context, messages []domain.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, role, content, reasoning_content, thinking_seconds, supplement, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			role = EXCLUDED.role,
			content = EXCLUDED.content,
			reasoning_content = EXCLUDED.reasoning_content,
			thinking_seconds = EXCLUDED.thinking_seconds,
			supplement = EXCLUDED.supplement
	`

	for _, m := range messages {
		_, err := g.pool.Exec(ctx, query,
			m.ID,
			m.ConversationID,
			string(m.Role),
			m.Content,
			m.ReasoningContent,
			m.ThinkingSeconds,
			m.Supplement,
			m.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert message %d: %w", m.ID, err)
		}
	}

	return nil
}

// UpsertAttachments writes the given attachments, overwriting existing rows
func (g *Gateway) UpsertAttachments(ctx context.Context, attachments []domain.Attachment) error {
	query := `
		INSERT INTO attachments (id, message_id, type, name, preview, image, text, storage_suffix)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			name = EXCLUDED.name,
			preview = EXCLUDED.preview,
			image = EXCLUDED.image,
			text = EXCLUDED.text,
			storage_suffix = EXCLUDED.storage_suffix
	`

	for _, a := range attachments {
		_, err := g.pool.Exec(ctx, query,
			a.ID,
			a.MessageID,
			string(a.Type),
			a.Name,
			a.Preview,
			a.Image,
			a.Text,
			a.StorageSuffix,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert attachment %s: %w", a.ID, err)
		}
	}

	return nil
}

// DeleteMessage removes a single message. Attachments go with it via the
// ON DELETE CASCADE constraint.
func (g *Gateway) DeleteMessage(ctx context.Context, messageID int64) error {
	_, err := g.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// DeleteMessagesFrom removes every message of the conversation whose id is
// greater than or equal to messageID
func (g *Gateway) DeleteMessagesFrom(ctx context.Context, conversationID uuid.UUID, messageID int64) error {
	_, err := g.pool.Exec(ctx,
		`DELETE FROM messages WHERE conversation_id = $1 AND id >= $2`,
		conversationID, messageID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete messages from %d: %w", messageID, err)
	}
	return nil
}

// DeleteSupplementMessage removes a supplement row directly adjacent to the
// given message id, if one exists
func (g *Gateway) DeleteSupplementMessage(ctx context.Context, nextTo int64) error {
	_, err := g.pool.Exec(ctx,
		`DELETE FROM messages WHERE supplement = TRUE AND id IN ($1, $2)`,
		nextTo-1, nextTo+1,
	)
	if err != nil {
		return fmt.Errorf("failed to delete supplement message: %w", err)
	}
	return nil
}

// MakeMessage inserts a blank message row and returns it with its
// storage-issued id
func (g *Gateway) MakeMessage(ctx context.Context, conversationID uuid.UUID) (*domain.Message, error) {
	query := `
		INSERT INTO messages (conversation_id, role, content, reasoning_content, thinking_seconds, supplement)
		VALUES ($1, '', '', '', 0, FALSE)
		RETURNING id, created_at
	`

	m := domain.Message{ConversationID: conversationID}
	if err := g.pool.QueryRow(ctx, query, conversationID).Scan(&m.ID, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	return &m, nil
}

// MakeAttachment inserts a blank attachment row for the message
func (g *Gateway) MakeAttachment(ctx context.Context, messageID int64) (*domain.Attachment, error) {
	a := domain.Attachment{
		ID:        uuid.New(),
		MessageID: messageID,
	}

	query := `
		INSERT INTO attachments (id, message_id, type, name, preview, image, text, storage_suffix)
		VALUES ($1, $2, '', '', NULL, NULL, '', '')
	`
	if _, err := g.pool.Exec(ctx, query, a.ID, a.MessageID); err != nil {
		return nil, fmt.Errorf("failed to create attachment: %w", err)
	}

	return &a, nil
}
