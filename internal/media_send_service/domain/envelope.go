package domain

import (
	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
)

// QuoteEnvelope is the wire form of a quoted message.
type QuoteEnvelope struct {
	ID          int64                         `json:"id"`
	Author      string                        `json:"author"`
	Text        string                        `json:"text,omitempty"`
	Attachments []coreDomain.QuotedAttachment `json:"attachments,omitempty"`
}

// StickerEnvelope is the wire form of a sticker.
type StickerEnvelope struct {
	PackID    string                       `json:"pack_id"`
	PackKey   string                       `json:"pack_key"`
	StickerID int                          `json:"sticker_id"`
	Image     coreDomain.AttachmentPointer `json:"image"`
}

// ContactEnvelope is the wire form of a shared contact.
type ContactEnvelope struct {
	DisplayName     string                        `json:"display_name"`
	Organization    string                        `json:"organization,omitempty"`
	Phones          []coreDomain.ContactPhone     `json:"phones,omitempty"`
	Emails          []string                      `json:"emails,omitempty"`
	Avatar          *coreDomain.AttachmentPointer `json:"avatar,omitempty"`
	AvatarIsProfile bool                          `json:"avatar_is_profile,omitempty"`
}

// PreviewEnvelope is the wire form of a link preview.
type PreviewEnvelope struct {
	URL   string                        `json:"url"`
	Title string                        `json:"title,omitempty"`
	Image *coreDomain.AttachmentPointer `json:"image,omitempty"`
}

// DataMessage is the outbound message envelope handed to the transport.
type DataMessage struct {
	Body             string                         `json:"body,omitempty"`
	Attachments      []coreDomain.AttachmentPointer `json:"attachments,omitempty"`
	Timestamp        int64                          `json:"timestamp"`
	ExpireTimer      uint32                         `json:"expire_timer,omitempty"`
	ProfileKey       []byte                         `json:"profile_key,omitempty"`
	Quote            *QuoteEnvelope                 `json:"quote,omitempty"`
	Sticker          *StickerEnvelope               `json:"sticker,omitempty"`
	Contacts         []ContactEnvelope              `json:"contacts,omitempty"`
	Previews         []PreviewEnvelope              `json:"previews,omitempty"`
	ExpirationUpdate bool                           `json:"expiration_update,omitempty"`
}

// SentTranscript describes a message the local account sent, for its own devices.
type SentTranscript struct {
	Destination              string          `json:"destination"`
	Timestamp                int64           `json:"timestamp"`
	Message                  *DataMessage    `json:"message"`
	ExpirationStartTimestamp int64           `json:"expiration_start_timestamp,omitempty"`
	UnidentifiedStatus       map[string]bool `json:"unidentified_status,omitempty"`
}

// SyncMessage carries a sent transcript to the local account's devices.
type SyncMessage struct {
	Sent *SentTranscript `json:"sent"`
}

// TransportAddress is the transport-level destination derived from a recipient.
type TransportAddress struct {
	Number string `json:"number"`
	Relay  string `json:"relay,omitempty"`
}

// UnidentifiedAccess is one side of a sealed delivery credential.
type UnidentifiedAccess struct {
	AccessKey         []byte `json:"access_key"`
	SenderCertificate []byte `json:"sender_certificate"`
}

// UnidentifiedAccessPair holds the credentials for the target and for the
// local account's other devices.
type UnidentifiedAccessPair struct {
	Target *UnidentifiedAccess `json:"target,omitempty"`
	Self   *UnidentifiedAccess `json:"self,omitempty"`
}

// SendSuccess is the success half of a transport result.
type SendSuccess struct {
	Unidentified bool `json:"unidentified"`
}

// SendMessageResult is what the transport returns for one recipient.
type SendMessageResult struct {
	Success        *SendSuccess    `json:"success,omitempty"`
	TransportError *TransportError `json:"transport_error,omitempty"`
}
