package domain

import (
	"context"

	"github.com/google/uuid"
)

// AttachmentType tags what kind of payload an attachment carries
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentDocument AttachmentType = "document"
	AttachmentText     AttachmentType = "text"
)

// Attachment belongs to exactly one message and never outlives it.
type Attachment struct {
	ID            uuid.UUID      `json:"id"`
	MessageID     int64          `json:"message_id"`
	Type          AttachmentType `json:"type"`
	Name          string         `json:"name"`
	Preview       []byte         `json:"preview,omitempty"`
	Image         []byte         `json:"image,omitempty"`
	Text          string         `json:"text,omitempty"`
	StorageSuffix string         `json:"storage_suffix,omitempty"`
}

// AttachmentMap keys attachments by their owning message id.
type AttachmentMap map[int64][]Attachment

// ListAttachmentsFor loads attachments for a set of messages.
func ListAttachmentsFor(ctx context.Context, gw PersistenceGateway, messages []Message) (AttachmentMap, error) {
	out := make(AttachmentMap, len(messages))
	for _, m := range messages {
		atts, err := gw.ListAttachments(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		if len(atts) > 0 {
			out[m.ID] = atts
		}
	}
	return out, nil
}
