package panel

import (
	"context"
	"time"

	"go.uber.org/zap"

	"resellbot/internal/credcache"
	"resellbot/internal/models"
)

// Account statuses reported in snapshots.
const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
	StatusLimited  = "limited"
	StatusExpired  = "expired"
	StatusOnHold   = "on_hold"
)

// CreateRequest describes a new upstream account in domain units.
type CreateRequest struct {
	Identity    string
	VolumeBytes int64 // 0 = unlimited
	ExpireAt    int64 // unix seconds, 0 = never
	Note        string
	Inbound     string // overrides the server's default inbound when set
}

// Account is the result of a successful create.
type Account struct {
	Identity        string `json:"identity"`
	ExternalID      string `json:"external_id"`
	ClientID        string `json:"client_id,omitempty"`
	InboundID       string `json:"inbound_id,omitempty"`
	SubscriptionURL string `json:"subscription_url"`
	ExpireAt        int64  `json:"expire_at"`
}

// Snapshot is a normalized view of an upstream account.
type Snapshot struct {
	Identity        string `json:"identity"`
	ExternalID      string `json:"external_id"`
	Enabled         bool   `json:"enabled"`
	Status          string `json:"status"`
	UsedBytes       int64  `json:"used_bytes"`
	QuotaBytes      int64  `json:"quota_bytes"` // 0 = unlimited
	ExpireAt        int64  `json:"expire_at"`   // 0 = never
	SubscriptionURL string `json:"subscription_url,omitempty"`
}

// UnlimitedVolume reports an account without a traffic quota.
func (s Snapshot) UnlimitedVolume() bool { return s.QuotaBytes <= 0 }

// NoExpiry reports an account without an expiry date.
func (s Snapshot) NoExpiry() bool { return s.ExpireAt <= 0 }

// Remaining returns the traffic left. For unlimited accounts it returns (0, true).
func (s Snapshot) Remaining() (bytes int64, unlimited bool) {
	if s.UnlimitedVolume() {
		return 0, true
	}
	left := s.QuotaBytes - s.UsedBytes
	if left < 0 {
		left = 0
	}
	return left, false
}

// VolumeGB is the quota in whole gigabytes (0 = unlimited).
func (s Snapshot) VolumeGB() int { return BytesToGB(s.QuotaBytes) }

// Delta is a partial update; nil fields are left untouched upstream.
type Delta struct {
	VolumeBytes *int64
	ExpireAt    *int64
	Enabled     *bool
}

// Empty reports a delta that changes nothing.
func (d Delta) Empty() bool {
	return d.VolumeBytes == nil && d.ExpireAt == nil && d.Enabled == nil
}

// Adapter is the uniform account contract over one upstream server.
// Implementations: CookieSessionAdapter, BearerTokenAdapter, APIKeyAdapter.
type Adapter interface {
	Kind() models.PanelType

	// CreateAccount provisions a new account.
	CreateAccount(ctx context.Context, req CreateRequest) (*Account, error)

	// FetchAccount looks an account up by identity. Absence is ErrNotFound.
	FetchAccount(ctx context.Context, identity string) (*Snapshot, error)

	// UpdateAccount applies a partial delta. Absence is ErrNotFound.
	UpdateAccount(ctx context.Context, externalID string, delta Delta) error

	// DeleteAccount removes an account. Absence is ErrNotFound, never success.
	DeleteAccount(ctx context.Context, externalID string) error

	// ListAccounts returns every account, following upstream pagination.
	ListAccounts(ctx context.Context) ([]Snapshot, error)
}

// Options carries the shared collaborators of every adapter.
type Options struct {
	Timeout time.Duration
	Loader  *credcache.Loader
	Logger  *zap.Logger
	Now     func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 20 * time.Second
	}
	if o.Loader == nil {
		o.Loader = credcache.NewLoader(credcache.NewMemory())
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// deriveStatus folds enable flag, quota and expiry into one status.
func deriveStatus(enabled bool, used, quota, expireAt int64, onHold bool, now time.Time) string {
	switch {
	case !enabled:
		return StatusDisabled
	case onHold:
		return StatusOnHold
	case expireAt > 0 && expireAt <= now.Unix():
		return StatusExpired
	case quota > 0 && used >= quota:
		return StatusLimited
	}
	return StatusActive
}
