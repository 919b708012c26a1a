package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/domain"
)

// Requester performs a request/reply exchange. *messagebroker.NatsClient
// satisfies it.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// Subjects the transport gateway listens on.
type Subjects struct {
	Send   string
	Sync   string
	Upload string
}

// Reply error codes.
const (
	CodeUnregistered      = "unregistered"
	CodeNotFound          = "not_found"
	CodeUntrustedIdentity = "untrusted_identity"
	CodeTransportError    = "transport_error"
)

// ReplyError is the error half of a gateway reply.
type ReplyError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	IdentityKey []byte `json:"identity_key,omitempty"`
}

type sendRequest struct {
	To      domain.TransportAddress        `json:"to"`
	Access  *domain.UnidentifiedAccessPair `json:"access,omitempty"`
	Message *domain.DataMessage            `json:"message"`
}

type sendReply struct {
	Result *domain.SendMessageResult `json:"result,omitempty"`
	Error  *ReplyError               `json:"error,omitempty"`
}

type syncRequest struct {
	Message *domain.SyncMessage            `json:"message"`
	Access  *domain.UnidentifiedAccessPair `json:"access,omitempty"`
}

type uploadRequest struct {
	AttachmentID int64  `json:"attachment_id"`
	ContentType  string `json:"content_type"`
	FileName     string `json:"file_name,omitempty"`
	Size         int64  `json:"size"`
	Payload      []byte `json:"payload"`
}

type uploadReply struct {
	Pointer *coreDomain.AttachmentPointer `json:"pointer,omitempty"`
	Error   *ReplyError                   `json:"error,omitempty"`
}

// NatsSender talks JSON request/reply with the transport gateway over NATS.
type NatsSender struct {
	requester Requester
	subjects  Subjects
	timeout   time.Duration
	logger    *slog.Logger
}

func NewNatsSender(requester Requester, subjects Subjects, timeout time.Duration, logger *slog.Logger) *NatsSender {
	return &NatsSender{
		requester: requester,
		subjects:  subjects,
		timeout:   timeout,
		logger:    logger.With("component", "nats_sender"),
	}
}

// SendDataMessage delivers msg to one recipient.
func (s *NatsSender) SendDataMessage(ctx context.Context, to domain.TransportAddress, access *domain.UnidentifiedAccessPair, msg *domain.DataMessage) (*domain.SendMessageResult, error) {
	var reply sendReply
	if err := s.call(ctx, s.subjects.Send, sendRequest{To: to, Access: access, Message: msg}, &reply); err != nil {
		return nil, err
	}
	if reply.Error != nil {
		return nil, replyErr(reply.Error, to.Number)
	}
	if reply.Result == nil {
		return nil, fmt.Errorf("send to %s: empty reply", to.Number)
	}
	return reply.Result, nil
}

// SendSyncMessage delivers a transcript to the local account's devices.
func (s *NatsSender) SendSyncMessage(ctx context.Context, msg *domain.SyncMessage, access *domain.UnidentifiedAccessPair) error {
	var reply sendReply
	if err := s.call(ctx, s.subjects.Sync, syncRequest{Message: msg, Access: access}, &reply); err != nil {
		return err
	}
	if reply.Error != nil {
		return replyErr(reply.Error, "")
	}
	return nil
}

// Upload sends the payload to remote storage and returns its pointer.
func (s *NatsSender) Upload(ctx context.Context, attachment *coreDomain.Attachment, payload io.Reader) (*coreDomain.AttachmentPointer, error) {
	data, err := io.ReadAll(payload)
	if err != nil {
		return nil, fmt.Errorf("read attachment %d: %w", attachment.ID, err)
	}
	req := uploadRequest{
		AttachmentID: attachment.ID,
		ContentType:  attachment.ContentType,
		FileName:     attachment.FileName,
		Size:         int64(len(data)),
		Payload:      data,
	}
	var reply uploadReply
	if err := s.call(ctx, s.subjects.Upload, req, &reply); err != nil {
		return nil, err
	}
	if reply.Error != nil {
		if reply.Error.Code == CodeNotFound {
			return nil, fmt.Errorf("upload attachment %d: %s: %w", attachment.ID, reply.Error.Message, domain.ErrUndeliverable)
		}
		return nil, replyErr(reply.Error, "")
	}
	if reply.Pointer == nil {
		return nil, fmt.Errorf("upload attachment %d: empty reply", attachment.ID)
	}
	s.logger.DebugContext(ctx, "Attachment uploaded", "attachment_id", attachment.ID, "remote_id", reply.Pointer.RemoteID)
	return reply.Pointer, nil
}

func (s *NatsSender) call(ctx context.Context, subject string, req, reply any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request for %s: %w", subject, err)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	raw, err := s.requester.Request(ctx, subject, data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, reply); err != nil {
		return fmt.Errorf("unmarshal reply from %s: %w", subject, err)
	}
	return nil
}

func replyErr(e *ReplyError, number string) error {
	switch e.Code {
	case CodeUnregistered:
		return fmt.Errorf("%s: %w", e.Message, domain.ErrUnregisteredUser)
	case CodeNotFound:
		return fmt.Errorf("%s: %w", e.Message, fs.ErrNotExist)
	case CodeUntrustedIdentity:
		return &domain.UntrustedIdentityError{Address: coreDomain.Address(number), IdentityKey: e.IdentityKey}
	case CodeTransportError:
		return &domain.TransportError{Description: e.Message}
	default:
		return fmt.Errorf("gateway error %q: %s", e.Code, e.Message)
	}
}
