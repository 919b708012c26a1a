package domain

import (
	"errors"
	"fmt"
)

// OutcomeKind is the closed set of results of a delivery attempt.
type OutcomeKind int

const (
	OutcomeSent OutcomeKind = iota
	OutcomeRetryLater
	OutcomeUndeliverable
	OutcomeNotFound
	OutcomeInsecureFallback
	OutcomeUntrustedIdentity
	OutcomeTransportError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSent:
		return "sent"
	case OutcomeRetryLater:
		return "retry_later"
	case OutcomeUndeliverable:
		return "undeliverable"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeInsecureFallback:
		return "insecure_fallback"
	case OutcomeUntrustedIdentity:
		return "untrusted_identity"
	case OutcomeTransportError:
		return "transport_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the classified result of one delivery attempt.
type Outcome struct {
	Kind OutcomeKind
	// Unidentified is meaningful for OutcomeSent only.
	Unidentified bool
	// Err is the underlying error for every kind except OutcomeSent.
	Err error
	// Identity is set for OutcomeUntrustedIdentity.
	Identity *UntrustedIdentityError
	// Transport is set for OutcomeTransportError.
	Transport *TransportError
}

// ClassifyOutcome maps the result of a delivery attempt onto an Outcome.
// Unrecognized errors are transient.
func ClassifyOutcome(unidentified bool, err error) Outcome {
	if err == nil {
		return Outcome{Kind: OutcomeSent, Unidentified: unidentified}
	}

	var (
		identityErr  *UntrustedIdentityError
		transportErr *TransportError
	)
	switch {
	case errors.As(err, &identityErr):
		return Outcome{Kind: OutcomeUntrustedIdentity, Err: err, Identity: identityErr}
	case errors.As(err, &transportErr):
		return Outcome{Kind: OutcomeTransportError, Err: err, Transport: transportErr}
	case errors.Is(err, ErrInsecureFallbackRequired):
		return Outcome{Kind: OutcomeInsecureFallback, Err: err}
	case errors.Is(err, ErrNotFound):
		return Outcome{Kind: OutcomeNotFound, Err: err}
	case errors.Is(err, ErrUndeliverable):
		return Outcome{Kind: OutcomeUndeliverable, Err: err}
	case errors.Is(err, ErrRetryLater):
		return Outcome{Kind: OutcomeRetryLater, Err: err}
	default:
		return Outcome{Kind: OutcomeRetryLater, Err: fmt.Errorf("%w: %v", ErrRetryLater, err)}
	}
}
