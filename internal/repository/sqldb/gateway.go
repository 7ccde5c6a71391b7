package sqldb

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/google/uuid"
)

// Gateway implements domain.PersistenceGateway over database/sql.
// Message ids come from the autoincrement column, so they are strictly
// increasing per table.
type Gateway struct {
	db *DB
}

// NewGateway creates a new persistence gateway
func NewGateway(db *DB) *Gateway {
	return &Gateway{db: db}
}

// ListMessages retrieves all messages of a conversation in id order
func (g *Gateway) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, reasoning_content, thinking_seconds, supplement, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY id ASC
	`

	rows, err := g.db.SQL.QueryContext(ctx, query, conversationID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		var convID, roleStr string

		if err := rows.Scan(
			&m.ID,
			&convID,
			&roleStr,
			&m.Content,
			&m.ReasoningContent,
			&m.ThinkingSeconds,
			&m.Supplement,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if m.ConversationID, err = uuid.Parse(convID); err != nil {
			return nil, fmt.Errorf("failed to parse conversation id: %w", err)
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
		WHERE message_id = ?
		ORDER BY id ASC
	`

	rows, err := g.db.SQL.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var attachments []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		var id, typeStr string

		if err := rows.Scan(
			&id,
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
		if a.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("failed to parse attachment id: %w", err)
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			role = excluded.role,
			content = excluded.content,
			reasoning_content = excluded.reasoning_content,
			thinking_seconds = excluded.thinking_seconds,
			supplement = excluded.supplement
	`
	if g.db.dialect == DialectMySQL {
		query = `
			INSERT INTO messages (id, conversation_id, role, content, reasoning_content, thinking_seconds, supplement, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				role = VALUES(role),
				content = VALUES(content),
				reasoning_content = VALUES(reasoning_content),
				thinking_seconds = VALUES(thinking_seconds),
				supplement = VALUES(supplement)
		`
	}

	for _, m := range messages {
		_, err := g.db.SQL.ExecContext(ctx, query,
			m.ID,
			m.ConversationID.String(),
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			preview = excluded.preview,
			image = excluded.image,
			text = excluded.text,
			storage_suffix = excluded.storage_suffix
	`
	if g.db.dialect == DialectMySQL {
		query = `
			INSERT INTO attachments (id, message_id, type, name, preview, image, text, storage_suffix)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				type = VALUES(type),
				name = VALUES(name),
				preview = VALUES(preview),
				image = VALUES(image),
				text = VALUES(text),
				storage_suffix = VALUES(storage_suffix)
		`
	}

	for _, a := range attachments {
		_, err := g.db.SQL.ExecContext(ctx, query,
			a.ID.String(),
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

// DeleteMessage removes a single message and its attachments
func (g *Gateway) DeleteMessage(ctx context.Context, messageID int64) error {
	if _, err := g.db.SQL.ExecContext(ctx, `DELETE FROM attachments WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("failed to delete attachments: %w", err)
	}
	if _, err := g.db.SQL.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, messageID); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// DeleteMessagesFrom removes every message of the conversation whose id is
// greater than or equal to messageID
func (g *Gateway) DeleteMessagesFrom(ctx context.Context, conversationID uuid.UUID, messageID int64) error {
	_, err := g.db.SQL.ExecContext(ctx,
		`DELETE FROM attachments WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = ? AND id >= ?)`,
		conversationID.String(), messageID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete attachments from %d: %w", messageID, err)
	}

	_, err = g.db.SQL.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ? AND id >= ?`,
		conversationID.String(), messageID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete messages from %d: %w", messageID, err)
	}
	return nil
}

// DeleteSupplementMessage removes a supplement row directly adjacent to the
// given message id, if one exists
func (g *Gateway) DeleteSupplementMessage(ctx context.Context, nextTo int64) error {
	_, err := g.db.SQL.ExecContext(ctx,
		`DELETE FROM messages WHERE supplement = TRUE AND id IN (?, ?)`,
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
	m := domain.Message{
		ConversationID: conversationID,
		CreatedAt:      time.Now().UTC(),
	}

	res, err := g.db.SQL.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, reasoning_content, thinking_seconds, supplement, created_at)
		 VALUES (?, '', '', '', 0, FALSE, ?)`,
		conversationID.String(), m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	if m.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to read message id: %w", err)
	}

	return &m, nil
}

// MakeAttachment inserts a blank attachment row for the message
func (g *Gateway) MakeAttachment(ctx context.Context, messageID int64) (*domain.Attachment, error) {
	a := domain.Attachment{
		ID:        uuid.New(),
		MessageID: messageID,
	}

	_, err := g.db.SQL.ExecContext(ctx,
		`INSERT INTO attachments (id, message_id, type, name, preview, image, text, storage_suffix)
		 VALUES (?, ?, '', '', NULL, NULL, '', '')`,
		a.ID.String(), a.MessageID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create attachment: %w", err)
	}

	return &a, nil
}
