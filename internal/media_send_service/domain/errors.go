package domain

import (
	"errors"
	"fmt"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	jobDomain "github.com/aradsms/media_delivery_services/internal/scheduler_service/domain"
)

var (
	// ErrNotFound means the message or attachment record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrRetryLater marks a transient failure; the job manager re-runs the job.
	ErrRetryLater = jobDomain.ErrRetryLater
	// ErrUndeliverable marks a permanent failure such as a missing local payload.
	ErrUndeliverable = errors.New("message undeliverable")
	// ErrInsecureFallbackRequired means the recipient is not registered for
	// secure delivery and the message should fall back to an insecure channel.
	ErrInsecureFallbackRequired = errors.New("insecure fallback required")

	// ErrUnregisteredUser is returned by transports for unknown recipients.
	ErrUnregisteredUser = errors.New("recipient is not registered")
)

// UntrustedIdentityError reports that the recipient's identity key changed.
type UntrustedIdentityError struct {
	Address     coreDomain.Address
	IdentityKey []byte
}

func (e *UntrustedIdentityError) Error() string {
	return fmt.Sprintf("untrusted identity for %s", e.Address)
}

// TransportError is an error reported by the remote messaging API.
type TransportError struct {
	Description string `json:"description"`
}

func (e *TransportError) Error() string {
	return "transport error: " + e.Description
}
