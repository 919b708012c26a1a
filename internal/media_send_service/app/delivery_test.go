package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDeliveryNegotiator_Direct(t *testing.T) {
	ctx := context.Background()
	recipient := &coreDomain.Recipient{Address: remoteAddress, Relay: "relay-1"}
	envelope := &domain.DataMessage{Body: "hi", Timestamp: 1700000000000}
	to := domain.TransportAddress{Number: remoteAddress.Serialize(), Relay: "relay-1"}
	access := &domain.UnidentifiedAccessPair{Target: &domain.UnidentifiedAccess{AccessKey: []byte{1}}}

	t.Run("UnidentifiedFromResult", func(t *testing.T) {
		p, m := newTestPipeline(Settings{})
		m.access.On("AccessFor", recipient).Return(access).Once()
		m.sender.On("SendDataMessage", mock.Anything, to, access, envelope).
			Return(&domain.SendMessageResult{Success: &domain.SendSuccess{Unidentified: true}}, nil).Once()

		unidentified, err := p.negotiator.Deliver(ctx, recipient, envelope, 0)
		require.NoError(t, err)
		assert.True(t, unidentified)
		m.assertExpectations(t)
	})

	t.Run("IdentifiedWithoutCredential", func(t *testing.T) {
		p, m := newTestPipeline(Settings{})
		m.access.On("AccessFor", recipient).Return(nil).Once()
		m.sender.On("SendDataMessage", mock.Anything, to, (*domain.UnidentifiedAccessPair)(nil), envelope).
			Return(&domain.SendMessageResult{Success: &domain.SendSuccess{}}, nil).Once()

		unidentified, err := p.negotiator.Deliver(ctx, recipient, envelope, 0)
		require.NoError(t, err)
		assert.False(t, unidentified)
		m.assertExpectations(t)
	})

	t.Run("TransportErrorInResult", func(t *testing.T) {
		p, m := newTestPipeline(Settings{})
		m.access.On("AccessFor", recipient).Return(nil).Once()
		m.sender.On("SendDataMessage", mock.Anything, to, mock.Anything, envelope).
			Return(&domain.SendMessageResult{TransportError: &domain.TransportError{Description: "rate limited"}}, nil).Once()

		_, err := p.negotiator.Deliver(ctx, recipient, envelope, 0)
		var transportErr *domain.TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.Equal(t, "rate limited", transportErr.Description)
	})

	mapping := []struct {
		name string
		err  error
		want error
	}{
		{"Unregistered", fmt.Errorf("lookup: %w", domain.ErrUnregisteredUser), domain.ErrInsecureFallbackRequired},
		{"PayloadMissing", &fs.PathError{Op: "open", Path: "/data/1.bin", Err: fs.ErrNotExist}, domain.ErrUndeliverable},
		{"NetworkFailure", errors.New("connection reset by peer"), domain.ErrRetryLater},
	}
	for _, tt := range mapping {
		t.Run(tt.name, func(t *testing.T) {
			p, m := newTestPipeline(Settings{})
			m.access.On("AccessFor", recipient).Return(nil).Once()
			m.sender.On("SendDataMessage", mock.Anything, to, mock.Anything, envelope).Return(nil, tt.err).Once()

			_, err := p.negotiator.Deliver(ctx, recipient, envelope, 0)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("UntrustedIdentityPassesThrough", func(t *testing.T) {
		p, m := newTestPipeline(Settings{})
		src := &domain.UntrustedIdentityError{Address: remoteAddress, IdentityKey: []byte{5}}
		m.access.On("AccessFor", recipient).Return(nil).Once()
		m.sender.On("SendDataMessage", mock.Anything, to, mock.Anything, envelope).Return(nil, src).Once()

		_, err := p.negotiator.Deliver(ctx, recipient, envelope, 0)
		assert.Same(t, src, err)
	})
}

func TestDeliveryNegotiator_Self(t *testing.T) {
	ctx := context.Background()
	self := &coreDomain.Recipient{Address: localAddress}
	envelope := &domain.DataMessage{Body: "note to self", Timestamp: 1700000000000}

	t.Run("SuccessFollowsSyncCredential", func(t *testing.T) {
		p, m := newTestPipeline(Settings{})
		syncAccess := &domain.UnidentifiedAccessPair{Self: &domain.UnidentifiedAccess{AccessKey: []byte{9}}}
		m.access.On("AccessForSync").Return(syncAccess).Once()
		m.sender.On("SendSyncMessage", mock.Anything, mock.MatchedBy(func(sm *domain.SyncMessage) bool {
			return sm.Sent != nil &&
				sm.Sent.Destination == localAddress.Serialize() &&
				sm.Sent.Message == envelope &&
				sm.Sent.ExpirationStartTimestamp == envelope.Timestamp &&
				sm.Sent.UnidentifiedStatus[localAddress.Serialize()]
		}), syncAccess).Return(nil).Once()

		unidentified, err := p.negotiator.Deliver(ctx, self, envelope, time.Minute)
		require.NoError(t, err)
		assert.True(t, unidentified)
		m.sender.AssertNotCalled(t, "SendDataMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		m.assertExpectations(t)
	})

	t.Run("NoSyncCredential", func(t *testing.T) {
		p, m := newTestPipeline(Settings{})
		m.access.On("AccessForSync").Return(nil).Once()
		m.sender.On("SendSyncMessage", mock.Anything, mock.Anything, (*domain.UnidentifiedAccessPair)(nil)).Return(nil).Once()

		unidentified, err := p.negotiator.Deliver(ctx, self, envelope, 0)
		require.NoError(t, err)
		assert.False(t, unidentified)
		m.assertExpectations(t)
	})

	t.Run("SyncFailureIsTransient", func(t *testing.T) {
		p, m := newTestPipeline(Settings{})
		m.access.On("AccessForSync").Return(nil).Once()
		m.sender.On("SendSyncMessage", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("nats: timeout")).Once()

		_, err := p.negotiator.Deliver(ctx, self, envelope, 0)
		assert.ErrorIs(t, err, domain.ErrRetryLater)
	})
}
