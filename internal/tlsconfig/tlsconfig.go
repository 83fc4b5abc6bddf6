// Package tlsconfig builds TLS configurations backed by on-demand issued
// certificates.
package tlsconfig

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wolfeidau/bifrost/internal/pki"
)

var (
	ErrNoServerName = errors.New("no server name and no default host configured")
	ErrNoPrivateKey = errors.New("certificate has no private key")
)

// CertificateSource issues or returns the leaf for a trust pair.
type CertificateSource interface {
	EnsureIssued(ctx context.Context, tlsSubject, caSubject string) (*pki.ComposedCertificate, error)
}

// Config for a server TLS configuration.
type Config struct {
	// CASubject names the root every served leaf is issued by.
	CASubject string

	// DefaultHost is used when the client sends no SNI name.
	DefaultHost string

	Source CertificateSource

	// CacheTTL bounds how long a resolved certificate is served without asking
	// Source again. Zero caches until the leaf expires.
	CacheTTL time.Duration
}

// ServerConfig returns a tls.Config that resolves the certificate for each
// handshake from cfg.Source. Resolution errors fail the handshake.
func ServerConfig(cfg Config) (*tls.Config, error) {
	if cfg.CASubject == "" {
		return nil, fmt.Errorf("CA subject is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("certificate source is required")
	}

	r := &resolver{
		cfg:   cfg,
		now:   time.Now,
		cache: make(map[string]cachedCertificate),
	}

	return &tls.Config{
		GetCertificate: r.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}, nil
}

type cachedCertificate struct {
	cert    *tls.Certificate
	expires time.Time
}

type resolver struct {
	cfg Config
	now func() time.Time

	mu    sync.Mutex
	cache map[string]cachedCertificate
}

func (r *resolver) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	name := strings.ToLower(strings.TrimSuffix(hello.ServerName, "."))
	if name == "" {
		name = r.cfg.DefaultHost
	}
	if name == "" {
		return nil, ErrNoServerName
	}

	now := r.now()

	r.mu.Lock()
	cached, ok := r.cache[name]
	r.mu.Unlock()
	if ok && now.Before(cached.expires) {
		return cached.cert, nil
	}

	ctx := hello.Context()
	leaf, err := r.cfg.Source.EnsureIssued(ctx, name, r.cfg.CASubject)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("server_name", name).Msg("failed to resolve certificate")
		return nil, fmt.Errorf("failed to resolve certificate for %q: %w", name, err)
	}

	cert, err := KeyPair(leaf)
	if err != nil {
		return nil, err
	}

	expires := leaf.Certificate.NotAfter
	if r.cfg.CacheTTL > 0 && now.Add(r.cfg.CacheTTL).Before(expires) {
		expires = now.Add(r.cfg.CacheTTL)
	}

	r.mu.Lock()
	r.cache[name] = cachedCertificate{cert: cert, expires: expires}
	r.mu.Unlock()

	return cert, nil
}

// KeyPair converts a leaf carrying its private key into a tls.Certificate.
func KeyPair(leaf *pki.ComposedCertificate) (*tls.Certificate, error) {
	if leaf.PrivateKey == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoPrivateKey, leaf.Certificate.Subject.CommonName)
	}

	return &tls.Certificate{
		Certificate: [][]byte{leaf.Certificate.Raw},
		PrivateKey:  leaf.PrivateKey,
		Leaf:        leaf.Certificate,
	}, nil
}

// ClientConfig returns a tls.Config trusting only root.
func ClientConfig(root *x509.Certificate) *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(root)

	return &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}
}
