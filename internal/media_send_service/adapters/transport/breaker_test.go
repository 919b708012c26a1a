package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) SendDataMessage(ctx context.Context, to domain.TransportAddress, access *domain.UnidentifiedAccessPair, msg *domain.DataMessage) (*domain.SendMessageResult, error) {
	args := m.Called(ctx, to, access, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SendMessageResult), args.Error(1)
}

func (m *MockTransport) SendSyncMessage(ctx context.Context, msg *domain.SyncMessage, access *domain.UnidentifiedAccessPair) error {
	return m.Called(ctx, msg, access).Error(0)
}

func (m *MockTransport) Upload(ctx context.Context, attachment *coreDomain.Attachment, payload io.Reader) (*coreDomain.AttachmentPointer, error) {
	args := m.Called(ctx, attachment, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*coreDomain.AttachmentPointer), args.Error(1)
}

func TestBreakingTransport(t *testing.T) {
	ctx := context.Background()
	to := domain.TransportAddress{Number: "+15550002222"}
	msg := &domain.DataMessage{Body: "hi"}
	cfg := BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Hour, ConsecutiveFailures: 2}

	t.Run("PassesResultsThrough", func(t *testing.T) {
		next := new(MockTransport)
		bt := NewBreakingTransport("pass", next, cfg, testLogger())
		want := &domain.SendMessageResult{Success: &domain.SendSuccess{Unidentified: true}}
		next.On("SendDataMessage", mock.Anything, to, (*domain.UnidentifiedAccessPair)(nil), msg).Return(want, nil).Once()

		got, err := bt.SendDataMessage(ctx, to, nil, msg)
		require.NoError(t, err)
		assert.Same(t, want, got)
	})

	t.Run("OpensAfterGatewayFailures", func(t *testing.T) {
		next := new(MockTransport)
		bt := NewBreakingTransport("opens", next, cfg, testLogger())
		netErr := errors.New("nats: no responders available for request")
		next.On("SendDataMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, netErr).Twice()

		for i := 0; i < 2; i++ {
			_, err := bt.SendDataMessage(ctx, to, nil, msg)
			assert.ErrorIs(t, err, netErr)
		}
		assert.Equal(t, "open", bt.State())

		_, err := bt.SendDataMessage(ctx, to, nil, msg)
		assert.ErrorIs(t, err, domain.ErrRetryLater)
		assert.ErrorIs(t, bt.SendSyncMessage(ctx, &domain.SyncMessage{}, nil), domain.ErrRetryLater)
		_, err = bt.Upload(ctx, &coreDomain.Attachment{ID: 1}, strings.NewReader("x"))
		assert.ErrorIs(t, err, domain.ErrRetryLater)
		next.AssertNumberOfCalls(t, "SendDataMessage", 2)
	})

	t.Run("RecipientErrorsDoNotTrip", func(t *testing.T) {
		next := new(MockTransport)
		bt := NewBreakingTransport("recipient", next, cfg, testLogger())
		next.On("SendDataMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("lookup: %w", domain.ErrUnregisteredUser)).Times(3)

		for i := 0; i < 3; i++ {
			_, err := bt.SendDataMessage(ctx, to, nil, msg)
			assert.ErrorIs(t, err, domain.ErrUnregisteredUser)
		}
		assert.Equal(t, "closed", bt.State())
		next.AssertExpectations(t)
	})

	t.Run("UploadPassesThrough", func(t *testing.T) {
		next := new(MockTransport)
		bt := NewBreakingTransport("upload", next, cfg, testLogger())
		ptr := &coreDomain.AttachmentPointer{RemoteID: "cdn-1"}
		next.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return(ptr, nil).Once()

		got, err := bt.Upload(ctx, &coreDomain.Attachment{ID: 1}, strings.NewReader("x"))
		require.NoError(t, err)
		assert.Same(t, ptr, got)
	})
}

func TestIsGatewayFailure(t *testing.T) {
	assert.True(t, isGatewayFailure(errors.New("connection refused")))
	assert.False(t, isGatewayFailure(&domain.TransportError{Description: "rate limited"}))
	assert.False(t, isGatewayFailure(&domain.UntrustedIdentityError{}))
	assert.False(t, isGatewayFailure(fmt.Errorf("x: %w", domain.ErrUndeliverable)))
}
