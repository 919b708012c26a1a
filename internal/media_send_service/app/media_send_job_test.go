package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/domain"
	jobDomain "github.com/aradsms/media_delivery_services/internal/scheduler_service/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMediaSendJob_Run(t *testing.T) {
	ctx := context.Background()
	recipient := &coreDomain.Recipient{Address: remoteAddress}
	to := domain.TransportAddress{Number: remoteAddress.Serialize()}

	t.Run("AlreadySentIsNoOp", func(t *testing.T) {
		p, m := newTestPipeline(Settings{})
		job := p.NewMediaSendJob(42, 42, remoteAddress)
		m.messages.On("IsSent", mock.Anything, int64(42)).Return(true, nil).Twice()

		require.NoError(t, job.Run(ctx))
		require.NoError(t, job.Run(ctx))
		m.assertExpectations(t)
		m.sender.AssertNotCalled(t, "SendDataMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		m.messages.AssertNotCalled(t, "GetOutgoingMessage", mock.Anything, mock.Anything)
	})

	t.Run("UnregisteredRecipientFallsBack", func(t *testing.T) {
		p, m := newTestPipeline(Settings{UnidentifiedDeliveryEnabled: true})
		job := p.NewMediaSendJob(42, 42, remoteAddress)
		msg := &coreDomain.OutgoingMediaMessage{ID: 42, Recipient: remoteAddress, Body: "hi", SentTimestamp: 1700000000000}

		m.messages.On("IsSent", mock.Anything, int64(42)).Return(false, nil).Once()
		m.messages.On("GetOutgoingMessage", mock.Anything, int64(42)).Return(msg, nil).Once()
		m.recipients.On("GetRecipient", mock.Anything, remoteAddress).Return(recipient, nil).Once()
		m.access.On("AccessFor", recipient).Return(nil).Once()
		m.sender.On("SendDataMessage", mock.Anything, to, mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("send: %w", domain.ErrUnregisteredUser)).Once()
		m.messages.On("MarkAsPendingInsecureSMSFallback", mock.Anything, int64(42)).Return(nil).Once()
		m.notifier.On("NotifyFailure", mock.Anything, mock.MatchedBy(func(n FailureNotice) bool {
			return n.MessageID == 42 && n.Reason == "insecure_fallback"
		})).Return(nil).Once()

		require.NoError(t, job.Run(ctx))
		m.assertExpectations(t)
		m.messages.AssertNotCalled(t, "MarkAsSentFailed", mock.Anything, mock.Anything)
	})

	t.Run("NetworkFailureRetriesLater", func(t *testing.T) {
		p, m := newTestPipeline(Settings{})
		job := p.NewMediaSendJob(42, 42, remoteAddress)
		msg := &coreDomain.OutgoingMediaMessage{ID: 42, Recipient: remoteAddress, Body: "hi"}

		m.messages.On("IsSent", mock.Anything, int64(42)).Return(false, nil).Once()
		m.messages.On("GetOutgoingMessage", mock.Anything, int64(42)).Return(msg, nil).Once()
		m.recipients.On("GetRecipient", mock.Anything, remoteAddress).Return(recipient, nil).Once()
		m.access.On("AccessFor", recipient).Return(nil).Once()
		m.sender.On("SendDataMessage", mock.Anything, to, mock.Anything, mock.Anything).
			Return(nil, errors.New("write: broken pipe")).Once()

		err := job.Run(ctx)
		assert.ErrorIs(t, err, domain.ErrRetryLater)
		m.assertExpectations(t)
		m.notifier.AssertNotCalled(t, "NotifyFailure", mock.Anything, mock.Anything)
		m.messages.AssertNotCalled(t, "MarkAsSentFailed", mock.Anything, mock.Anything)
		m.messages.AssertNotCalled(t, "MarkAsSent", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("BookkeepingRetryDoesNotResend", func(t *testing.T) {
		p, m := newTestPipeline(Settings{})
		job := p.NewMediaSendJob(42, 42, remoteAddress)
		msg := &coreDomain.OutgoingMediaMessage{ID: 42, Recipient: remoteAddress, Body: "hi"}

		m.messages.On("IsSent", mock.Anything, int64(42)).Return(false, nil).Twice()
		m.messages.On("GetOutgoingMessage", mock.Anything, int64(42)).Return(msg, nil).Twice()
		m.recipients.On("GetRecipient", mock.Anything, remoteAddress).Return(recipient, nil).Twice()
		m.access.On("AccessFor", recipient).Return(nil).Once()
		m.sender.On("SendDataMessage", mock.Anything, to, mock.Anything, mock.Anything).
			Return(&domain.SendMessageResult{Success: &domain.SendSuccess{}}, nil).Once()
		m.messages.On("MarkAsSent", mock.Anything, int64(42), true).Return(errors.New("conn reset")).Once()
		m.messages.On("MarkAsSent", mock.Anything, int64(42), true).Return(nil).Once()
		m.attachments.On("MarkAttachmentsUploaded", mock.Anything, int64(42)).Return(nil).Once()
		m.messages.On("MarkUnidentified", mock.Anything, int64(42), false).Return(nil).Once()

		assert.ErrorIs(t, job.Run(ctx), domain.ErrRetryLater)
		require.NoError(t, job.Run(ctx))

		m.assertExpectations(t)
		m.sender.AssertNumberOfCalls(t, "SendDataMessage", 1)
		m.notifier.AssertNotCalled(t, "NotifyFailure", mock.Anything, mock.Anything)
	})

	t.Run("TemplatedSendToSelf", func(t *testing.T) {
		p, m := newTestPipeline(Settings{UnidentifiedDeliveryEnabled: true})
		job := p.NewMediaSendJob(42, 60, localAddress)
		msg := &coreDomain.OutgoingMediaMessage{ID: 42, Recipient: remoteAddress, Body: "hi", SentTimestamp: 1700000001000}
		self := &coreDomain.Recipient{Address: localAddress, UnidentifiedAccessMode: coreDomain.UnidentifiedAccessEnabled}
		syncID := coreDomain.SyncMessageID{Address: localAddress, Timestamp: 1700000001000}
		syncAccess := &domain.UnidentifiedAccessPair{Self: &domain.UnidentifiedAccess{AccessKey: []byte{1}}}

		m.messages.On("IsSent", mock.Anything, int64(60)).Return(false, nil).Once()
		m.messages.On("GetOutgoingMessage", mock.Anything, int64(42)).Return(msg, nil).Once()
		m.recipients.On("GetRecipient", mock.Anything, localAddress).Return(self, nil).Once()
		m.access.On("AccessForSync").Return(syncAccess).Once()
		m.sender.On("SendSyncMessage", mock.Anything, mock.Anything, syncAccess).Return(nil).Once()
		m.messages.On("MarkAsSent", mock.Anything, int64(60), true).Return(nil).Once()
		m.attachments.On("MarkAttachmentsUploaded", mock.Anything, int64(60)).Return(nil).Once()
		m.messages.On("MarkUnidentified", mock.Anything, int64(60), true).Return(nil).Once()
		m.messages.On("IncrementDeliveryReceiptCount", mock.Anything, syncID, fixedNow).Return(int64(1), nil).Once()
		m.messages.On("IncrementReadReceiptCount", mock.Anything, syncID, fixedNow).Return(int64(1), nil).Once()

		require.NoError(t, job.Run(ctx))
		m.assertExpectations(t)
		m.sender.AssertNotCalled(t, "SendDataMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("MissingTemplateIsTerminal", func(t *testing.T) {
		p, m := newTestPipeline(Settings{})
		job := p.NewMediaSendJob(99, 42, remoteAddress)
		m.messages.On("IsSent", mock.Anything, int64(42)).Return(false, nil).Once()
		m.messages.On("GetOutgoingMessage", mock.Anything, int64(99)).Return(nil, fmt.Errorf("message 99: %w", domain.ErrNotFound)).Once()

		err := job.Run(ctx)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NotErrorIs(t, err, domain.ErrRetryLater)
	})

	t.Run("UnuploadedAttachmentIsUndeliverable", func(t *testing.T) {
		p, m := newTestPipeline(Settings{})
		job := p.NewMediaSendJob(43, 43, remoteAddress)
		msg := &coreDomain.OutgoingMediaMessage{ID: 43, Attachments: []*coreDomain.Attachment{pending(1, coreDomain.AttachmentKindBody)}}
		m.messages.On("IsSent", mock.Anything, int64(43)).Return(false, nil).Once()
		m.messages.On("GetOutgoingMessage", mock.Anything, int64(43)).Return(msg, nil).Once()
		m.recipients.On("GetRecipient", mock.Anything, remoteAddress).Return(recipient, nil).Once()

		assert.ErrorIs(t, job.Run(ctx), domain.ErrUndeliverable)
		m.sender.AssertNotCalled(t, "SendDataMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestMediaSendJob_Lifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("OnAddedMarksSending", func(t *testing.T) {
		p, m := newTestPipeline(Settings{})
		m.messages.On("MarkAsSending", mock.Anything, int64(42)).Return(nil).Once()
		p.NewMediaSendJob(42, 42, remoteAddress).OnAdded(ctx)
		m.assertExpectations(t)
	})

	t.Run("OnCanceledMarksFailedAndNotifies", func(t *testing.T) {
		p, m := newTestPipeline(Settings{})
		m.messages.On("MarkAsSentFailed", mock.Anything, int64(42)).Return(nil).Once()
		m.notifier.On("NotifyFailure", mock.Anything, FailureNotice{
			MessageID: 42, Destination: remoteAddress.Serialize(), Reason: "canceled", OccurredAt: fixedNow,
		}).Return(nil).Once()

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		p.NewMediaSendJob(42, 42, remoteAddress).OnCanceled(cctx)
		m.assertExpectations(t)
	})

	t.Run("SyncOnlyJobTouchesNoRow", func(t *testing.T) {
		p, m := newTestPipeline(Settings{})
		job := p.NewMediaSendJob(42, -1, localAddress)
		job.OnAdded(ctx)
		job.OnCanceled(ctx)
		assert.Empty(t, m.messages.Calls)
		assert.Empty(t, m.notifier.Calls)
	})

	t.Run("NeverRetriesGenerically", func(t *testing.T) {
		p, _ := newTestPipeline(Settings{})
		assert.False(t, p.NewMediaSendJob(1, 1, remoteAddress).OnShouldRetry(errors.New("boom")))
	})

	t.Run("ParametersAndRestore", func(t *testing.T) {
		p, _ := newTestPipeline(Settings{SendLifespan: 24 * time.Hour})
		job := p.NewMediaSendJob(42, 60, remoteAddress)

		params := job.Parameters()
		assert.Equal(t, remoteAddress.Serialize(), params.Queue)
		assert.Equal(t, jobDomain.Unlimited, params.MaxAttempts)
		assert.Equal(t, 24*time.Hour, params.Lifespan)
		assert.Equal(t, MediaSendJobKey, job.FactoryKey())

		data, err := job.Serialize()
		require.NoError(t, err)
		restored, err := p.createMediaSendJob(params, data)
		require.NoError(t, err)
		again := restored.(*MediaSendJob)
		assert.Equal(t, int64(42), again.TemplateID())
		assert.Equal(t, SendTarget{MessageID: 60, Destination: remoteAddress}, again.Target())
		assert.Equal(t, params.ID, again.Parameters().ID)

		_, err = p.createMediaSendJob(params, jobDomain.NewDataBuilder().PutLong(keyTemplateMessageID, 1).Build())
		assert.ErrorIs(t, err, jobDomain.ErrMissingKey)
	})
}
