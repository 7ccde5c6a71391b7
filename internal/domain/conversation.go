package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Conversation represents a chat thread owned by a user
type Conversation struct {
	ID        uuid.UUID  `json:"id"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	Title     string     `json:"title"`
	// ChatModel overrides the process-wide default chat model when non-empty
	ChatModel string `json:"chat_model,omitempty"`
	// Provider overrides the default inference provider when non-empty
	Provider string `json:"provider,omitempty"`
	// EncryptedAPIKey holds an optional user-supplied provider key,
	// AES-GCM encrypted at rest
	EncryptedAPIKey []byte    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ConversationRepository defines the interface for conversation storage
type ConversationRepository interface {
	Create(ctx context.Context, conversation *Conversation) error
	Get(ctx context.Context, id uuid.UUID) (*Conversation, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int, offset int) ([]Conversation, error)
	Update(ctx context.Context, conversation *Conversation) error
	Delete(ctx context.Context, id uuid.UUID) error
}
