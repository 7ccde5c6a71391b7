package session

import (
	"context"

	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/google/uuid"
)

// DraftAttachment is the editor-side view of an attachment, used when a
// prior user turn is reconstructed for resubmission.
type DraftAttachment struct {
	ID            uuid.UUID             `json:"id"`
	Type          domain.AttachmentType `json:"type"`
	Name          string                `json:"name"`
	Preview       []byte                `json:"preview,omitempty"`
	Image         []byte                `json:"image,omitempty"`
	Text          string                `json:"text,omitempty"`
	StorageSuffix string                `json:"storage_suffix,omitempty"`
}

// Draft is the reconstructed editable input (text plus attachments) handed
// back to the input layer during retry.
type Draft struct {
	Text        string            `json:"text"`
	Attachments []DraftAttachment `json:"attachments,omitempty"`
}

// BuildDraft reconstructs a draft from a stored user message and its
// attachments.
func BuildDraft(msg *domain.Message, attachments []domain.Attachment) Draft {
	d := Draft{Text: msg.Content}
	for _, a := range attachments {
		d.Attachments = append(d.Attachments, DraftAttachment{
			ID:            a.ID,
			Type:          a.Type,
			Name:          a.Name,
			Preview:       a.Preview,
			Image:         a.Image,
			Text:          a.Text,
			StorageSuffix: a.StorageSuffix,
		})
	}
	return d
}

// AttachmentBinder associates attachments with a message and keeps the
// association synchronized with storage.
type AttachmentBinder struct {
	gateway domain.PersistenceGateway
}

// NewAttachmentBinder creates a binder over the storage collaborator
func NewAttachmentBinder(gateway domain.PersistenceGateway) *AttachmentBinder {
	return &AttachmentBinder{gateway: gateway}
}

// Bind persists the draft attachments against the message and returns the
// stored rows.
func (b *AttachmentBinder) Bind(ctx context.Context, messageID int64, drafts []DraftAttachment) ([]domain.Attachment, error) {
	if len(drafts) == 0 {
		return nil, nil
	}
	out := make([]domain.Attachment, 0, len(drafts))
	for _, d := range drafts {
		att, err := b.gateway.MakeAttachment(ctx, messageID)
		if err != nil {
			return nil, err
		}
		att.Type = d.Type
		att.Name = d.Name
		att.Preview = d.Preview
		att.Image = d.Image
		att.Text = d.Text
		att.StorageSuffix = d.StorageSuffix
		out = append(out, *att)
	}
	if err := b.gateway.UpsertAttachments(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}
