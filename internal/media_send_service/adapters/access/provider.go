package access

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/domain"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of a derived access key.
const KeySize = 16

var accessKeyInfo = []byte("media-delivery unidentified access key")

// DeriveAccessKey derives the access key a recipient publishes for its
// profile key.
func DeriveAccessKey(profileKey []byte) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, profileKey, nil, accessKeyInfo), key); err != nil {
		return nil, fmt.Errorf("derive access key: %w", err)
	}
	return key, nil
}

// Settings configure a Provider.
type Settings struct {
	Enabled           bool
	LocalProfileKey   []byte
	SenderCertificate []byte
	// UniversalAccess makes the local account accept sealed messages from
	// anyone, so its own devices are addressed with a random key.
	UniversalAccess bool
}

// Provider computes unidentified access credentials from recipient access
// modes, the local profile key and the sender certificate.
type Provider struct {
	settings Settings
	random   io.Reader
	logger   *slog.Logger
}

func NewProvider(s Settings, logger *slog.Logger) *Provider {
	return &Provider{settings: s, random: rand.Reader, logger: logger.With("component", "access_provider")}
}

// AccessFor returns the credentials for a recipient, or nil when the send
// must be identified.
func (p *Provider) AccessFor(recipient *coreDomain.Recipient) *domain.UnidentifiedAccessPair {
	if recipient == nil || !p.available() {
		return nil
	}
	theirKey, err := p.targetKey(recipient)
	if err != nil {
		p.logger.Warn("Failed to compute recipient access key", "error", err, "recipient", recipient.Address)
		return nil
	}
	ourKey, err := p.selfKey()
	if err != nil {
		p.logger.Warn("Failed to compute local access key", "error", err)
		return nil
	}
	if theirKey == nil || ourKey == nil {
		return nil
	}
	return &domain.UnidentifiedAccessPair{
		Target: p.access(theirKey),
		Self:   p.access(ourKey),
	}
}

// AccessForSync returns the credentials for the local account's other
// devices, or nil when they must be addressed identified.
func (p *Provider) AccessForSync() *domain.UnidentifiedAccessPair {
	if !p.available() {
		return nil
	}
	ourKey, err := p.selfKey()
	if err != nil || ourKey == nil {
		if err != nil {
			p.logger.Warn("Failed to compute local access key", "error", err)
		}
		return nil
	}
	self := p.access(ourKey)
	return &domain.UnidentifiedAccessPair{Target: self, Self: self}
}

func (p *Provider) available() bool {
	return p.settings.Enabled && len(p.settings.SenderCertificate) > 0
}

func (p *Provider) access(key []byte) *domain.UnidentifiedAccess {
	return &domain.UnidentifiedAccess{AccessKey: key, SenderCertificate: p.settings.SenderCertificate}
}

func (p *Provider) targetKey(r *coreDomain.Recipient) ([]byte, error) {
	switch r.UnidentifiedAccessMode {
	case coreDomain.UnidentifiedAccessUnknown:
		if !r.HasProfileKey() {
			return p.randomKey()
		}
		return DeriveAccessKey(r.ProfileKey)
	case coreDomain.UnidentifiedAccessEnabled:
		if !r.HasProfileKey() {
			return nil, nil
		}
		return DeriveAccessKey(r.ProfileKey)
	case coreDomain.UnidentifiedAccessUnrestricted:
		return p.randomKey()
	default:
		return nil, nil
	}
}

func (p *Provider) selfKey() ([]byte, error) {
	if p.settings.UniversalAccess {
		return p.randomKey()
	}
	if len(p.settings.LocalProfileKey) == 0 {
		return nil, nil
	}
	return DeriveAccessKey(p.settings.LocalProfileKey)
}

func (p *Provider) randomKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(p.random, key); err != nil {
		return nil, fmt.Errorf("random access key: %w", err)
	}
	return key, nil
}
