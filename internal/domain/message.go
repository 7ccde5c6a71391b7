package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// MessageRole represents the sender of a message
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// EmptyMessagePlaceholder is rendered when a message has no visible
// content, so the client never shows a blank bubble.
const EmptyMessagePlaceholder = "(empty message)"

var (
	ErrMessageNotFound      = errors.New("message not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNoChatModel          = errors.New("no chat model resolvable")
)

// Message is one entry in a conversation. IDs are issued by storage in
// strictly increasing order, so a later message always compares greater.
type Message struct {
	ID               int64       `json:"id"`
	ConversationID   uuid.UUID   `json:"conversation_id"`
	Role             MessageRole `json:"role"`
	Content          string      `json:"content"`
	ReasoningContent string      `json:"reasoning_content,omitempty"`
	ThinkingSeconds  int         `json:"thinking_seconds"`
	Supplement       bool        `json:"supplement,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// DisplayContent substitutes the placeholder for messages with an empty
// document, whether or not a reasoning trace is present.
func (m *Message) DisplayContent() string {
	if m.Content == "" {
		return EmptyMessagePlaceholder
	}
	return m.Content
}

// PersistenceGateway defines the interface for durable message and
// attachment storage. All calls are synchronous and durable on return.
type PersistenceGateway interface {
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]Message, error)
	ListAttachments(ctx context.Context, messageID int64) ([]Attachment, error)
	UpsertMessages(ctx context.Context, messages []Message) error
	UpsertAttachments(ctx context.Context, attachments []Attachment) error
	DeleteMessage(ctx context.Context, messageID int64) error
	// DeleteMessagesFrom removes every message of the conversation whose id
	// is >= messageID.
	DeleteMessagesFrom(ctx context.Context, conversationID uuid.UUID, messageID int64) error
	// DeleteSupplementMessage removes the provider-injected companion row
	// adjacent to the given message, if one exists.
	DeleteSupplementMessage(ctx context.Context, nextTo int64) error
	// MakeMessage persists a blank message row for the conversation and
	// returns it with its storage-issued id.
	MakeMessage(ctx context.Context, conversationID uuid.UUID) (*Message, error)
	MakeAttachment(ctx context.Context, messageID int64) (*Attachment, error)
}

// PromptMessage is one turn handed to the inference collaborator.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// InferenceResult is what the inference collaborator returns.
type InferenceResult struct {
	Content          string
	ReasoningContent string
	Model            string
	TokensUsed       int
	LatencyMs        int64
}

// InferenceClient performs the actual language-model call.
type InferenceClient interface {
	Infer(ctx context.Context, model string, maxCompletionTokens int, messages []PromptMessage, additionalFields map[string]any) (*InferenceResult, error)
}

// ModelSelection holds the three resolved model roles for a session.
// It is re-derived on demand and never persisted verbatim.
type ModelSelection struct {
	Chat            string `json:"chat"`
	Auxiliary       string `json:"auxiliary"`
	VisualAuxiliary string `json:"visual_auxiliary"`
}

// ModelDefaults are the process-wide fallback models.
type ModelDefaults struct {
	Chat               string
	Auxiliary          string
	VisualAuxiliary    string
	AuxiliaryUsesChat  bool
	MaxCompletionToken int
}
