package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/domain"
	jobDomain "github.com/aradsms/media_delivery_services/internal/scheduler_service/domain"
	"github.com/stretchr/testify/mock"
)

// --- Mocks ---

type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) GetOutgoingMessage(ctx context.Context, id int64) (*coreDomain.OutgoingMediaMessage, error) {
	args := m.Called(ctx, id)
	if fn, ok := args.Get(0).(func(context.Context, int64) *coreDomain.OutgoingMediaMessage); ok {
		return fn(ctx, id), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*coreDomain.OutgoingMediaMessage), args.Error(1)
}

func (m *MockMessageRepository) IsSent(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockMessageRepository) MarkAsSending(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockMessageRepository) MarkAsSent(ctx context.Context, id int64, secure bool) error {
	return m.Called(ctx, id, secure).Error(0)
}

func (m *MockMessageRepository) MarkUnidentified(ctx context.Context, id int64, unidentified bool) error {
	return m.Called(ctx, id, unidentified).Error(0)
}

func (m *MockMessageRepository) MarkAsSentFailed(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockMessageRepository) MarkAsPendingInsecureSMSFallback(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockMessageRepository) AddMismatchedIdentity(ctx context.Context, id int64, address coreDomain.Address, identityKey []byte) error {
	return m.Called(ctx, id, address, identityKey).Error(0)
}

func (m *MockMessageRepository) SetErrorMessage(ctx context.Context, id int64, description string) error {
	return m.Called(ctx, id, description).Error(0)
}

func (m *MockMessageRepository) MarkExpireStarted(ctx context.Context, id int64, startedAt time.Time) error {
	return m.Called(ctx, id, startedAt).Error(0)
}

func (m *MockMessageRepository) IncrementDeliveryReceiptCount(ctx context.Context, syncID coreDomain.SyncMessageID, at time.Time) (int64, error) {
	args := m.Called(ctx, syncID, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMessageRepository) IncrementReadReceiptCount(ctx context.Context, syncID coreDomain.SyncMessageID, at time.Time) (int64, error) {
	args := m.Called(ctx, syncID, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMessageRepository) DeleteMessage(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockMessageRepository) ListExpiring(ctx context.Context) ([]coreDomain.ExpiringMessage, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]coreDomain.ExpiringMessage), args.Error(1)
}

type MockAttachmentRepository struct {
	mock.Mock
}

func (m *MockAttachmentRepository) GetAttachment(ctx context.Context, id int64) (*coreDomain.Attachment, error) {
	args := m.Called(ctx, id)
	if fn, ok := args.Get(0).(func(context.Context, int64) *coreDomain.Attachment); ok {
		return fn(ctx, id), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*coreDomain.Attachment), args.Error(1)
}

func (m *MockAttachmentRepository) MarkUploaded(ctx context.Context, id int64, pointer *coreDomain.AttachmentPointer) error {
	return m.Called(ctx, id, pointer).Error(0)
}

func (m *MockAttachmentRepository) MarkAttachmentsUploaded(ctx context.Context, messageID int64) error {
	return m.Called(ctx, messageID).Error(0)
}

type MockRecipientRepository struct {
	mock.Mock
}

func (m *MockRecipientRepository) GetRecipient(ctx context.Context, address coreDomain.Address) (*coreDomain.Recipient, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*coreDomain.Recipient), args.Error(1)
}

func (m *MockRecipientRepository) CompareAndSetUnidentifiedAccessMode(ctx context.Context, address coreDomain.Address, expected, next coreDomain.UnidentifiedAccessMode) (bool, error) {
	args := m.Called(ctx, address, expected, next)
	return args.Bool(0), args.Error(1)
}

type MockMessageSender struct {
	mock.Mock
}

func (m *MockMessageSender) SendDataMessage(ctx context.Context, to domain.TransportAddress, access *domain.UnidentifiedAccessPair, msg *domain.DataMessage) (*domain.SendMessageResult, error) {
	args := m.Called(ctx, to, access, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SendMessageResult), args.Error(1)
}

func (m *MockMessageSender) SendSyncMessage(ctx context.Context, msg *domain.SyncMessage, access *domain.UnidentifiedAccessPair) error {
	return m.Called(ctx, msg, access).Error(0)
}

type MockAttachmentUploader struct {
	mock.Mock
}

func (m *MockAttachmentUploader) Upload(ctx context.Context, attachment *coreDomain.Attachment, payload io.Reader) (*coreDomain.AttachmentPointer, error) {
	args := m.Called(ctx, attachment, payload)
	if fn, ok := args.Get(0).(func(context.Context, *coreDomain.Attachment, io.Reader) *coreDomain.AttachmentPointer); ok {
		return fn(ctx, attachment, payload), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*coreDomain.AttachmentPointer), args.Error(1)
}

type MockAccessProvider struct {
	mock.Mock
}

func (m *MockAccessProvider) AccessFor(recipient *coreDomain.Recipient) *domain.UnidentifiedAccessPair {
	args := m.Called(recipient)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*domain.UnidentifiedAccessPair)
}

func (m *MockAccessProvider) AccessForSync() *domain.UnidentifiedAccessPair {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*domain.UnidentifiedAccessPair)
}

type MockFailureNotifier struct {
	mock.Mock
}

func (m *MockFailureNotifier) NotifyFailure(ctx context.Context, notice FailureNotice) error {
	return m.Called(ctx, notice).Error(0)
}

type MockExpirationScheduler struct {
	mock.Mock
}

func (m *MockExpirationScheduler) ScheduleDeletion(ctx context.Context, messageID int64, startedAt time.Time, expiresIn time.Duration) {
	m.Called(ctx, messageID, startedAt, expiresIn)
}

type MockJobScheduler struct {
	mock.Mock
}

func (m *MockJobScheduler) Add(ctx context.Context, job jobDomain.Job) error {
	return m.Called(ctx, job).Error(0)
}

func (m *MockJobScheduler) EnqueueChain(ctx context.Context, first, dependents []jobDomain.Job) error {
	return m.Called(ctx, first, dependents).Error(0)
}

// --- Harness ---

const (
	localAddress  coreDomain.Address = "+15550000000"
	remoteAddress coreDomain.Address = "+15550002222"
)

type pipelineMocks struct {
	messages    *MockMessageRepository
	attachments *MockAttachmentRepository
	recipients  *MockRecipientRepository
	sender      *MockMessageSender
	uploader    *MockAttachmentUploader
	access      *MockAccessProvider
	notifier    *MockFailureNotifier
	expirations *MockExpirationScheduler
}

func (m *pipelineMocks) assertExpectations(t mock.TestingT) {
	m.messages.AssertExpectations(t)
	m.attachments.AssertExpectations(t)
	m.recipients.AssertExpectations(t)
	m.sender.AssertExpectations(t)
	m.uploader.AssertExpectations(t)
	m.access.AssertExpectations(t)
	m.notifier.AssertExpectations(t)
	m.expirations.AssertExpectations(t)
}

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestPipeline(settings Settings) (*Pipeline, *pipelineMocks) {
	m := &pipelineMocks{
		messages:    new(MockMessageRepository),
		attachments: new(MockAttachmentRepository),
		recipients:  new(MockRecipientRepository),
		sender:      new(MockMessageSender),
		uploader:    new(MockAttachmentUploader),
		access:      new(MockAccessProvider),
		notifier:    new(MockFailureNotifier),
		expirations: new(MockExpirationScheduler),
	}
	if settings.LocalAddress == "" {
		settings.LocalAddress = localAddress
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPipeline(Collaborators{
		Messages:    m.messages,
		Attachments: m.attachments,
		Recipients:  m.recipients,
		Sender:      m.sender,
		Uploader:    m.uploader,
		Access:      m.access,
		Notifier:    m.notifier,
		Expirations: m.expirations,
	}, settings, logger)
	p.now = func() time.Time { return fixedNow }
	p.reconciler.now = func() time.Time { return fixedNow }
	return p, m
}

func uploaded(id int64, kind coreDomain.AttachmentKind) *coreDomain.Attachment {
	return &coreDomain.Attachment{
		ID:          id,
		Kind:        kind,
		ContentType: "image/jpeg",
		Size:        1024,
		Pointer:     &coreDomain.AttachmentPointer{RemoteID: fmt.Sprintf("cdn-%d", id), Key: []byte{byte(id)}},
	}
}

func pending(id int64, kind coreDomain.AttachmentKind) *coreDomain.Attachment {
	return &coreDomain.Attachment{ID: id, Kind: kind, ContentType: "image/jpeg", Size: 1024}
}
