package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type conversationDoc struct {
	ID              string    `bson:"_id"`
	UserID          string    `bson:"user_id,omitempty"`
	Title           string    `bson:"title"`
	ChatModel       string    `bson:"chat_model"`
	Provider        string    `bson:"provider"`
	EncryptedAPIKey []byte    `bson:"encrypted_api_key,omitempty"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

func (d conversationDoc) toDomain() (*domain.Conversation, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse conversation id: %w", err)
	}

	c := domain.Conversation{
		ID:              id,
		Title:           d.Title,
		ChatModel:       d.ChatModel,
		Provider:        d.Provider,
		EncryptedAPIKey: d.EncryptedAPIKey,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}

	if d.UserID != "" {
		u, err := uuid.Parse(d.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to parse user id: %w", err)
		}
		c.UserID = &u
	}

	return &c, nil
}

func toConversationDoc(c *domain.Conversation) conversationDoc {
	doc := conversationDoc{
		ID:              c.ID.String(),
		Title:           c.Title,
		ChatModel:       c.ChatModel,
		Provider:        c.Provider,
		EncryptedAPIKey: c.EncryptedAPIKey,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
	if c.UserID != nil {
		doc.UserID = c.UserID.String()
	}
	return doc
}

// ConversationRepository implements domain.ConversationRepository
type ConversationRepository struct {
	conversations *mongo.Collection
	gateway       *Gateway
}

// NewConversationRepository creates a new conversation repository.
// The gateway is used to cascade message deletion.
func NewConversationRepository(db *mongo.Database, gateway *Gateway) *ConversationRepository {
	return &ConversationRepository{
		conversations: db.Collection("conversations"),
		gateway:       gateway,
	}
}

// Create inserts a new conversation
func (r *ConversationRepository) Create(ctx context.Context, conversation *domain.Conversation) error {
	now := time.Now().UTC()
	if conversation.ID == uuid.Nil {
		conversation.ID = uuid.New()
	}
	conversation.CreatedAt = now
	conversation.UpdatedAt = now

	if _, err := r.conversations.InsertOne(ctx, toConversationDoc(conversation)); err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	return nil
}

// Get retrieves a conversation by ID
func (r *ConversationRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	var doc conversationDoc
	err := r.conversations.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return doc.toDomain()
}

// ListByUser retrieves conversations for a user, most recently updated first
func (r *ConversationRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int, offset int) ([]domain.Conversation, error) {
	cursor, err := r.conversations.Find(ctx,
		bson.M{"user_id": userID.String()},
		options.Find().
			SetSort(bson.M{"updated_at": -1}).
			SetLimit(int64(limit)).
			SetSkip(int64(offset)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var conversations []domain.Conversation
	for cursor.Next(ctx) {
		var doc conversationDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode conversation: %w", err)
		}
		c, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, *c)
	}

	return conversations, cursor.Err()
}

// Update persists title, model and provider changes
func (r *ConversationRepository) Update(ctx context.Context, conversation *domain.Conversation) error {
	conversation.UpdatedAt = time.Now().UTC()

	res, err := r.conversations.ReplaceOne(ctx,
		bson.M{"_id": conversation.ID.String()},
		toConversationDoc(conversation),
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrConversationNotFound
	}

	return nil
}

// Delete removes a conversation along with its messages and attachments
func (r *ConversationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.gateway.DeleteMessagesFrom(ctx, id, 0); err != nil {
		return err
	}

	res, err := r.conversations.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrConversationNotFound
	}

	return nil
}
