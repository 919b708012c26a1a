package app

import (
	"fmt"
	"math"
	"time"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/domain"
)

// EnvelopeBuilder turns a persisted outgoing message into the wire envelope.
type EnvelopeBuilder struct {
	localProfileKey []byte
}

func NewEnvelopeBuilder(localProfileKey []byte) *EnvelopeBuilder {
	return &EnvelopeBuilder{localProfileKey: localProfileKey}
}

// expireTimerSeconds truncates d to whole seconds and clamps it to the uint32
// wire range.
func expireTimerSeconds(d time.Duration) uint32 {
	secs := int64(d / time.Second)
	switch {
	case secs <= 0:
		return 0
	case secs > math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(secs)
}

// Build assembles the envelope for recipient. Every referenced attachment must
// already carry an uploaded pointer, otherwise the build fails with
// ErrUndeliverable and no envelope is returned.
func (b *EnvelopeBuilder) Build(msg *coreDomain.OutgoingMediaMessage, recipient *coreDomain.Recipient) (*domain.DataMessage, error) {
	env := &domain.DataMessage{
		Body:             msg.Body,
		Timestamp:        msg.SentTimestamp,
		ExpireTimer:      expireTimerSeconds(msg.ExpiresIn),
		ExpirationUpdate: msg.ExpirationUpdate,
	}

	for _, a := range msg.Attachments {
		if a.IsSticker() {
			continue
		}
		ptr, err := pointerOf(a)
		if err != nil {
			return nil, err
		}
		env.Attachments = append(env.Attachments, *ptr)
	}

	if recipient != nil && recipient.ProfileSharing && len(b.localProfileKey) > 0 {
		env.ProfileKey = b.localProfileKey
	}

	if q := msg.Quote; q != nil {
		env.Quote = &domain.QuoteEnvelope{
			ID:          q.ID,
			Author:      q.Author.Serialize(),
			Text:        q.Text,
			Attachments: q.Attachments,
		}
	}

	if s := msg.Sticker; s != nil {
		if s.Attachment == nil {
			return nil, fmt.Errorf("%w: sticker of message %d has no attachment", domain.ErrUndeliverable, msg.ID)
		}
		ptr, err := pointerOf(s.Attachment)
		if err != nil {
			return nil, err
		}
		env.Sticker = &domain.StickerEnvelope{
			PackID:    s.PackID,
			PackKey:   s.PackKey,
			StickerID: s.StickerID,
			Image:     *ptr,
		}
	}

	for _, c := range msg.SharedContacts {
		ce := domain.ContactEnvelope{
			DisplayName:  c.DisplayName,
			Organization: c.Organization,
			Phones:       c.Phones,
			Emails:       c.Emails,
		}
		if c.Avatar != nil && c.Avatar.Attachment != nil {
			ptr, err := pointerOf(c.Avatar.Attachment)
			if err != nil {
				return nil, err
			}
			ce.Avatar = ptr
			ce.AvatarIsProfile = c.Avatar.IsProfile
		}
		env.Contacts = append(env.Contacts, ce)
	}

	for _, p := range msg.LinkPreviews {
		pe := domain.PreviewEnvelope{URL: p.URL, Title: p.Title}
		if p.Thumbnail != nil {
			ptr, err := pointerOf(p.Thumbnail)
			if err != nil {
				return nil, err
			}
			pe.Image = ptr
		}
		env.Previews = append(env.Previews, pe)
	}

	return env, nil
}

func pointerOf(a *coreDomain.Attachment) (*coreDomain.AttachmentPointer, error) {
	if !a.Uploaded() {
		return nil, fmt.Errorf("%w: attachment %d is not uploaded", domain.ErrUndeliverable, a.ID)
	}
	ptr := *a.Pointer
	if ptr.ContentType == "" {
		ptr.ContentType = a.ContentType
	}
	if ptr.Size == 0 {
		ptr.Size = a.Size
	}
	return &ptr, nil
}
