package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type messageDoc struct {
	ID               int64     `bson:"_id"`
	ConversationID   string    `bson:"conversation_id"`
	Role             string    `bson:"role"`
	Content          string    `bson:"content"`
	ReasoningContent string    `bson:"reasoning_content"`
	ThinkingSeconds  int       `bson:"thinking_seconds"`
	Supplement       bool      `bson:"supplement"`
	CreatedAt        time.Time `bson:"created_at"`
}

type attachmentDoc struct {
	ID            string `bson:"_id"`
	MessageID     int64  `bson:"message_id"`
	Type          string `bson:"type"`
	Name          string `bson:"name"`
	Preview       []byte `bson:"preview,omitempty"`
	Image         []byte `bson:"image,omitempty"`
	Text          string `bson:"text"`
	StorageSuffix string `bson:"storage_suffix"`
}

// Gateway implements domain.PersistenceGateway on MongoDB collections
type Gateway struct {
	messages    *mongo.Collection
	attachments *mongo.Collection
	counters    *mongo.Collection
}

// NewGateway creates a new persistence gateway
func NewGateway(db *mongo.Database) *Gateway {
	return &Gateway{
		messages:    db.Collection("messages"),
		attachments: db.Collection("attachments"),
		counters:    db.Collection("counters"),
	}
}

// nextMessageID issues the next strictly increasing message id
func (g *Gateway) nextMessageID(ctx context.Context) (int64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}

	err := g.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "message_id"},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to issue message id: %w", err)
	}

	return counter.Value, nil
}

// ListMessages retrieves all messages of a conversation in id order
func (g *Gateway) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	cursor, err := g.messages.Find(ctx,
		bson.M{"conversation_id": conversationID.String()},
		options.Find().SetSort(bson.M{"_id": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []domain.Message
	for cursor.Next(ctx) {
		var doc messageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}

		convID, err := uuid.Parse(doc.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to parse conversation id: %w", err)
		}

		messages = append(messages, domain.Message{
			ID:               doc.ID,
			ConversationID:   convID,
			Role:             domain.MessageRole(doc.Role),
			Content:          doc.Content,
			ReasoningContent: doc.ReasoningContent,
			ThinkingSeconds:  doc.ThinkingSeconds,
			Supplement:       doc.Supplement,
			CreatedAt:        doc.CreatedAt,
		})
	}

	return messages, cursor.Err()
}

// ListAttachments retrieves the attachments of a single message
func (g *Gateway) ListAttachments(ctx context.Context, messageID int64) ([]domain.Attachment, error) {
	cursor, err := g.attachments.Find(ctx, bson.M{"message_id": messageID})
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer cursor.Close(ctx)

	var attachments []domain.Attachment
	for cursor.Next(ctx) {
		var doc attachmentDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode attachment: %w", err)
		}

		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to parse attachment id: %w", err)
		}

		attachments = append(attachments, domain.Attachment{
			ID:            id,
			MessageID:     doc.MessageID,
			Type:          domain.AttachmentType(doc.Type),
			Name:          doc.Name,
			Preview:       doc.Preview,
			Image:         doc.Image,
			Text:          doc.Text,
			StorageSuffix: doc.StorageSuffix,
		})
	}

	return attachments, cursor.Err()
}

// UpsertMessages writes the given messages, overwriting existing documents
func (g *Gateway) UpsertMessages(ctx context.Context, messages []domain.Message) error {
	for _, m := range messages {
		doc := messageDoc{
			ID:               m.ID,
			ConversationID:   m.ConversationID.String(),
			Role:             string(m.Role),
			Content:          m.Content,
			ReasoningContent: m.ReasoningContent,
			ThinkingSeconds:  m.ThinkingSeconds,
			Supplement:       m.Supplement,
			CreatedAt:        m.CreatedAt,
		}

		_, err := g.messages.ReplaceOne(ctx,
			bson.M{"_id": m.ID},
			doc,
			options.Replace().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert message %d: %w", m.ID, err)
		}
	}

	return nil
}

// UpsertAttachments writes the given attachments, overwriting existing documents
func (g *Gateway) UpsertAttachments(ctx context.Context, attachments []domain.Attachment) error {
	for _, a := range attachments {
		doc := attachmentDoc{
			ID:            a.ID.String(),
			MessageID:     a.MessageID,
			Type:          string(a.Type),
			Name:          a.Name,
			Preview:       a.Preview,
			Image:         a.Image,
			Text:          a.Text,
			StorageSuffix: a.StorageSuffix,
		}

		_, err := g.attachments.ReplaceOne(ctx,
			bson.M{"_id": doc.ID},
			doc,
			options.Replace().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert attachment %s: %w", a.ID, err)
		}
	}

	return nil
}

// DeleteMessage removes a single message and its attachments
func (g *Gateway) DeleteMessage(ctx context.Context, messageID int64) error {
	if _, err := g.attachments.DeleteMany(ctx, bson.M{"message_id": messageID}); err != nil {
		return fmt.Errorf("failed to delete attachments: %w", err)
	}
	if _, err := g.messages.DeleteOne(ctx, bson.M{"_id": messageID}); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// DeleteMessagesFrom removes every message of the conversation whose id is
// greater than or equal to messageID
func (g *Gateway) DeleteMessagesFrom(ctx context.Context, conversationID uuid.UUID, messageID int64) error {
	filter := bson.M{
		"conversation_id": conversationID.String(),
		"_id":             bson.M{"$gte": messageID},
	}

	cursor, err := g.messages.Find(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to find messages from %d: %w", messageID, err)
	}

	var ids []int64
	for cursor.Next(ctx) {
		var doc struct {
			ID int64 `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			cursor.Close(ctx)
			return fmt.Errorf("failed to decode message id: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	cursor.Close(ctx)
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("failed to iterate messages: %w", err)
	}

	if len(ids) > 0 {
		if _, err := g.attachments.DeleteMany(ctx, bson.M{"message_id": bson.M{"$in": ids}}); err != nil {
			return fmt.Errorf("failed to delete attachments from %d: %w", messageID, err)
		}
	}

	if _, err := g.messages.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("failed to delete messages from %d: %w", messageID, err)
	}
	return nil
}

// DeleteSupplementMessage removes a supplement document directly adjacent to
// the given message id, if one exists
func (g *Gateway) DeleteSupplementMessage(ctx context.Context, nextTo int64) error {
	_, err := g.messages.DeleteMany(ctx, bson.M{
		"supplement": true,
		"_id":        bson.M{"$in": []int64{nextTo - 1, nextTo + 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to delete supplement message: %w", err)
	}
	return nil
}

// MakeMessage inserts a blank message document with a freshly issued id
func (g *Gateway) MakeMessage(ctx context.Context, conversationID uuid.UUID) (*domain.Message, error) {
	id, err := g.nextMessageID(ctx)
	if err != nil {
		return nil, err
	}

	m := domain.Message{
		ID:             id,
		ConversationID: conversationID,
		CreatedAt:      time.Now().UTC(),
	}

	doc := messageDoc{
		ID:             m.ID,
		ConversationID: m.ConversationID.String(),
		CreatedAt:      m.CreatedAt,
	}
	if _, err := g.messages.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	return &m, nil
}

// MakeAttachment inserts a blank attachment document for the message
func (g *Gateway) MakeAttachment(ctx context.Context, messageID int64) (*domain.Attachment, error) {
	a := domain.Attachment{
		ID:        uuid.New(),
		MessageID: messageID,
	}

	doc := attachmentDoc{
		ID:        a.ID.String(),
		MessageID: a.MessageID,
	}
	if _, err := g.attachments.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create attachment: %w", err)
	}

	return &a, nil
}
