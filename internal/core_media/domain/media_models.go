package domain

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidAddress is returned for empty or malformed recipient addresses.
var ErrInvalidAddress = errors.New("invalid address")

// Address is the string-encoded form of a recipient (phone number or group id).
type Address string

// ParseAddress trims and validates a serialized address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrInvalidAddress
	}
	return Address(s), nil
}

// Serialize returns the durable form stored in job data and tables.
func (a Address) Serialize() string { return string(a) }

func (a Address) String() string { return string(a) }

// MessageStatus is the persisted delivery state of an outgoing message.
type MessageStatus string

const (
	MessageStatusOutbox                  MessageStatus = "outbox"
	MessageStatusSending                 MessageStatus = "sending"
	MessageStatusSent                    MessageStatus = "sent"
	MessageStatusSentFailed              MessageStatus = "sent_failed"
	MessageStatusPendingInsecureFallback MessageStatus = "pending_insecure_fallback"
)

// Value implements driver.Valuer.
func (s MessageStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Scan implements sql.Scanner.
func (s *MessageStatus) Scan(value interface{}) error {
	switch v := value.(type) {
	case string:
		*s = MessageStatus(v)
	case []byte:
		*s = MessageStatus(v)
	case nil:
		*s = ""
	default:
		return fmt.Errorf("failed to scan MessageStatus: unexpected type %T", value)
	}
	return nil
}

// AttachmentKind tags where an attachment is referenced from.
type AttachmentKind string

const (
	AttachmentKindBody                 AttachmentKind = "body"
	AttachmentKindSticker              AttachmentKind = "sticker"
	AttachmentKindLinkPreviewThumbnail AttachmentKind = "link_preview_thumbnail"
	AttachmentKindSharedContactAvatar  AttachmentKind = "shared_contact_avatar"
)

// TransferState tracks the upload progress of an attachment.
type TransferState string

const (
	TransferPending TransferState = "pending"
	TransferStarted TransferState = "started"
	TransferDone    TransferState = "done"
	TransferFailed  TransferState = "failed"
)

// AttachmentPointer is the remote reference returned by an upload.
type AttachmentPointer struct {
	RemoteID    string    `json:"remote_id"`
	Key         []byte    `json:"key"`
	Digest      []byte    `json:"digest,omitempty"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	FileName    string    `json:"file_name,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Attachment is a locally stored binary payload belonging to a message.
type Attachment struct {
	ID            int64              `json:"id"`
	MessageID     int64              `json:"message_id"`
	Kind          AttachmentKind     `json:"kind"`
	ContentType   string             `json:"content_type"`
	FileName      string             `json:"file_name,omitempty"`
	Size          int64              `json:"size"`
	DataPath      string             `json:"-"`
	TransferState TransferState      `json:"transfer_state"`
	Pointer       *AttachmentPointer `json:"pointer,omitempty"`
}

// IsSticker reports whether the attachment is the message's sticker image.
func (a *Attachment) IsSticker() bool { return a.Kind == AttachmentKindSticker }

// Uploaded reports whether a remote pointer is available.
func (a *Attachment) Uploaded() bool { return a.Pointer != nil }

// QuotedAttachment describes an attachment of the quoted message.
type QuotedAttachment struct {
	ContentType string `json:"content_type"`
	FileName    string `json:"file_name,omitempty"`
}

// Quote references an earlier message being replied to.
type Quote struct {
	ID          int64              `json:"id"`
	Author      Address            `json:"author"`
	Text        string             `json:"text,omitempty"`
	Attachments []QuotedAttachment `json:"attachments,omitempty"`
}

// Sticker identifies a sticker from a pack together with its image.
type Sticker struct {
	PackID       string      `json:"pack_id"`
	PackKey      string      `json:"pack_key"`
	StickerID    int         `json:"sticker_id"`
	AttachmentID int64       `json:"attachment_id"`
	Attachment   *Attachment `json:"-"`
}

// ContactPhone is one phone entry of a shared contact.
type ContactPhone struct {
	Number string `json:"number"`
	Label  string `json:"label,omitempty"`
}

// ContactAvatar points at the avatar attachment of a shared contact.
type ContactAvatar struct {
	AttachmentID int64       `json:"attachment_id"`
	IsProfile    bool        `json:"is_profile"`
	Attachment   *Attachment `json:"-"`
}

// SharedContact is a contact card attached to a message.
type SharedContact struct {
	DisplayName  string         `json:"display_name"`
	Organization string         `json:"organization,omitempty"`
	Phones       []ContactPhone `json:"phones,omitempty"`
	Emails       []string       `json:"emails,omitempty"`
	Avatar       *ContactAvatar `json:"avatar,omitempty"`
}

// LinkPreview is a URL preview attached to a message.
type LinkPreview struct {
	URL                   string      `json:"url"`
	Title                 string      `json:"title,omitempty"`
	ThumbnailAttachmentID int64       `json:"thumbnail_attachment_id,omitempty"`
	Thumbnail             *Attachment `json:"-"`
}

// OutgoingMediaMessage is the persisted message a send job reads as its template.
type OutgoingMediaMessage struct {
	ID               int64           `json:"id"`
	Recipient        Address         `json:"recipient"`
	Body             string          `json:"body"`
	Attachments      []*Attachment   `json:"attachments,omitempty"`
	Quote            *Quote          `json:"quote,omitempty"`
	Sticker          *Sticker        `json:"sticker,omitempty"`
	SharedContacts   []SharedContact `json:"shared_contacts,omitempty"`
	LinkPreviews     []LinkPreview   `json:"link_previews,omitempty"`
	ExpiresIn        time.Duration   `json:"expires_in"`
	ExpirationUpdate bool            `json:"expiration_update"`
	SentTimestamp    int64           `json:"sent_timestamp"`
	Status           MessageStatus   `json:"status"`
}

// UnidentifiedAccessMode records what a recipient accepts for anonymous delivery.
type UnidentifiedAccessMode int16

const (
	UnidentifiedAccessUnknown      UnidentifiedAccessMode = 0
	UnidentifiedAccessDisabled     UnidentifiedAccessMode = 1
	UnidentifiedAccessEnabled      UnidentifiedAccessMode = 2
	UnidentifiedAccessUnrestricted UnidentifiedAccessMode = 3
)

func (m UnidentifiedAccessMode) String() string {
	switch m {
	case UnidentifiedAccessUnknown:
		return "unknown"
	case UnidentifiedAccessDisabled:
		return "disabled"
	case UnidentifiedAccessEnabled:
		return "enabled"
	case UnidentifiedAccessUnrestricted:
		return "unrestricted"
	default:
		return fmt.Sprintf("mode(%d)", int16(m))
	}
}

// Recipient is the directory entry for an address.
type Recipient struct {
	Address                Address                `json:"address"`
	ProfileKey             []byte                 `json:"-"`
	ProfileSharing         bool                   `json:"profile_sharing"`
	UnidentifiedAccessMode UnidentifiedAccessMode `json:"unidentified_access_mode"`
	Relay                  string                 `json:"relay,omitempty"`
}

// HasProfileKey reports whether a profile key is known for the recipient.
func (r *Recipient) HasProfileKey() bool { return len(r.ProfileKey) > 0 }

// ExpiringMessage is a sent message whose disappearing timer has started.
type ExpiringMessage struct {
	ID              int64
	ExpireStartedAt time.Time
	ExpiresIn       time.Duration
}

// SyncMessageID identifies a sent message by author and sent timestamp, the
// key receipts are matched on.
type SyncMessageID struct {
	Address   Address `json:"address"`
	Timestamp int64   `json:"timestamp"`
}
