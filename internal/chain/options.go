package chain

import (
	"time"

	"github.com/wolfeidau/bifrost/internal/keyvault"
	"github.com/wolfeidau/bifrost/internal/telemetry"
)

// Option customises a Chain.
type Option func(*Chain)

// WithKeyVault stores leaf private keys in v so stored leaves can be returned
// with their key. Defaults to an in-memory vault.
func WithKeyVault(v keyvault.Vault) Option {
	return func(c *Chain) {
		c.vault = v
	}
}

// WithRenewBefore reissues a stored certificate once it is within d of its
// NotAfter. Zero, the default, reuses stored certificates regardless of expiry.
func WithRenewBefore(d time.Duration) Option {
	return func(c *Chain) {
		c.renewBefore = d
	}
}

// WithoutRootCoordination lets concurrent callers for the same CA subject each
// generate a root instead of sharing one in-flight generation.
func WithoutRootCoordination() Option {
	return func(c *Chain) {
		c.coordinateRoots = false
	}
}

// WithMetrics records issuance metrics on m instead of the global instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Chain) {
		c.metrics = m
	}
}

// WithClock overrides the time source used for renewal decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) {
		c.now = now
	}
}
