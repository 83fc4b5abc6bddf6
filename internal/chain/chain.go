// Package chain guarantees a two-level trust chain, a self-signed root and a
// leaf signed by it, exists in a certificate store for a (TLS subject, CA
// subject) pair. Missing certificates are generated and stored; existing ones
// are reused.
package chain

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/wolfeidau/bifrost/internal/keyvault"
	"github.com/wolfeidau/bifrost/internal/pki"
	"github.com/wolfeidau/bifrost/internal/store"
	"github.com/wolfeidau/bifrost/internal/telemetry"
)

const tracerName = "github.com/wolfeidau/bifrost/internal/chain"

const (
	roleRoot = "root"
	roleLeaf = "leaf"
)

// Chain issues and reuses certificates for trust pairs.
//
// Root private keys are held only in memory for the lifetime of the Chain. A
// root found in the store without a retained key cannot sign, so a
// replacement root is generated and becomes the newest entry for its subject.
type Chain struct {
	generator *pki.Generator
	store     store.CertificateStore
	vault     keyvault.Vault
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	now       func() time.Time

	renewBefore     time.Duration
	coordinateRoots bool
	group           singleflight.Group

	mu    sync.Mutex
	roots map[string]*pki.ComposedCertificate
}

// New returns a Chain that generates with gen and persists to st.
func New(gen *pki.Generator, st store.CertificateStore, opts ...Option) *Chain {
	c := &Chain{
		generator:       gen,
		store:           st,
		vault:           keyvault.NewMemoryVault(),
		tracer:          otel.Tracer(tracerName),
		now:             time.Now,
		coordinateRoots: true,
		roots:           make(map[string]*pki.ComposedCertificate),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = telemetry.GetMetrics()
	}
	return c
}

// NewFromConfig validates cfg before anything touches the store.
func NewFromConfig(cfg pki.Config, st store.CertificateStore, opts ...Option) (*Chain, error) {
	gen, err := pki.NewGenerator(cfg)
	if err != nil {
		return nil, err
	}
	return New(gen, st, opts...), nil
}

// EnsureIssued returns the leaf for tlsSubject issued by caSubject, generating
// the root and leaf when they are not already stored. A freshly issued leaf
// always carries its private key; a stored leaf carries it when the key vault
// holds it. A stored leaf is reissued once a newer root replaces its issuer,
// so the result always verifies under Root.
func (c *Chain) EnsureIssued(ctx context.Context, tlsSubject, caSubject string) (_ *pki.ComposedCertificate, err error) {
	ctx, span := c.tracer.Start(ctx, "chain.EnsureIssued", trace.WithAttributes(
		attribute.String("bifrost.subject_tls", tlsSubject),
		attribute.String("bifrost.subject_ca", caSubject),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if tlsSubject == "" || caSubject == "" {
		return nil, pki.ErrEmptySubject
	}

	logger := zerolog.Ctx(ctx).With().
		Str("subject_tls", tlsSubject).
		Str("subject_ca", caSubject).
		Logger()

	existing, err := c.lookup(ctx, tlsSubject, caSubject, store.PartitionPersonal)
	switch {
	case err == nil:
		reuse, err := c.reusable(ctx, logger, existing, caSubject)
		if err != nil {
			return nil, err
		}
		if reuse {
			c.metrics.CertificatesReusedTotal.Add(ctx, 1)
			logger.Debug().Str("serial_number", existing.SerialNumber.Text(16)).Msg("leaf certificate reused")
			return c.withVaultKey(ctx, existing)
		}
	case !errors.Is(err, store.ErrCertNotFound):
		return nil, fmt.Errorf("failed to look up leaf certificate: %w", err)
	}

	root, err := c.resolveRoot(ctx, caSubject)
	if err != nil {
		return nil, err
	}

	leaf, err := c.generate(ctx, roleLeaf, tlsSubject, root.AsParent())
	if err != nil {
		return nil, fmt.Errorf("failed to generate leaf certificate: %w", err)
	}

	if err := c.vault.Put(ctx, store.Fingerprint(leaf.Certificate), leaf.PrivateKey); err != nil {
		return nil, fmt.Errorf("failed to store leaf private key: %w", err)
	}

	if err := c.add(ctx, leaf.Certificate, store.PartitionPersonal); err != nil {
		return nil, fmt.Errorf("failed to store leaf certificate: %w", err)
	}

	logger.Info().
		Str("partition", string(store.PartitionPersonal)).
		Str("serial_number", leaf.Certificate.SerialNumber.Text(16)).
		Msg("leaf certificate issued")

	return leaf, nil
}

// Get returns the stored leaf for the trust pair without generating anything.
// Returns store.ErrCertNotFound when it has not been issued.
func (c *Chain) Get(ctx context.Context, tlsSubject, caSubject string) (*pki.ComposedCertificate, error) {
	leaf, err := c.lookup(ctx, tlsSubject, caSubject, store.PartitionPersonal)
	if err != nil {
		return nil, err
	}
	return c.withVaultKey(ctx, leaf)
}

// Root returns the newest stored root for caSubject.
func (c *Chain) Root(ctx context.Context, caSubject string) (*x509.Certificate, error) {
	return c.lookup(ctx, caSubject, caSubject, store.PartitionRoot)
}

func (c *Chain) resolveRoot(ctx context.Context, caSubject string) (*pki.ComposedCertificate, error) {
	if !c.coordinateRoots {
		return c.lookupOrGenerateRoot(ctx, caSubject)
	}

	// Detached from the leader's cancellation; every waiting caller shares it.
	v, err, shared := c.group.Do(caSubject, func() (any, error) {
		return c.lookupOrGenerateRoot(context.WithoutCancel(ctx), caSubject)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		zerolog.Ctx(ctx).Debug().Str("subject_ca", caSubject).Msg("root resolution shared")
	}
	return v.(*pki.ComposedCertificate), nil
}

func (c *Chain) lookupOrGenerateRoot(ctx context.Context, caSubject string) (*pki.ComposedCertificate, error) {
	logger := zerolog.Ctx(ctx).With().Str("subject_ca", caSubject).Logger()

	stored, err := c.lookup(ctx, caSubject, caSubject, store.PartitionRoot)
	if err != nil && !errors.Is(err, store.ErrCertNotFound) {
		return nil, fmt.Errorf("failed to look up root certificate: %w", err)
	}

	if stored != nil {
		retained := c.retainedRoot(caSubject)
		switch {
		case c.dueForRenewal(stored):
			logger.Info().Time("not_after", stored.NotAfter).Msg("root certificate due for renewal")
		case retained != nil && retained.Certificate.Equal(stored):
			logger.Debug().Str("serial_number", stored.SerialNumber.Text(16)).Msg("root certificate reused")
			return retained, nil
		default:
			logger.Warn().
				Str("serial_number", stored.SerialNumber.Text(16)).
				Msg("stored root has no retained signing key, generating replacement")
		}
	}

	root, err := c.generate(ctx, roleRoot, caSubject, pki.SelfSigned{})
	if err != nil {
		return nil, fmt.Errorf("failed to generate root certificate: %w", err)
	}

	if err := c.add(ctx, root.Certificate, store.PartitionRoot); err != nil {
		return nil, fmt.Errorf("failed to store root certificate: %w", err)
	}

	c.mu.Lock()
	c.roots[caSubject] = root
	c.mu.Unlock()

	logger.Info().
		Str("partition", string(store.PartitionRoot)).
		Str("serial_number", root.Certificate.SerialNumber.Text(16)).
		Msg("root certificate issued")

	return root, nil
}

// reusable reports whether a stored leaf can be returned as is. A leaf inside
// the renewal window, or one that the newest root for caSubject did not sign,
// is reissued. A leaf with no stored root is reused.
func (c *Chain) reusable(ctx context.Context, logger zerolog.Logger, leaf *x509.Certificate, caSubject string) (bool, error) {
	if c.dueForRenewal(leaf) {
		logger.Info().Time("not_after", leaf.NotAfter).Msg("leaf certificate due for renewal")
		return false, nil
	}

	root, err := c.lookup(ctx, caSubject, caSubject, store.PartitionRoot)
	switch {
	case errors.Is(err, store.ErrCertNotFound):
		return true, nil
	case err != nil:
		return false, fmt.Errorf("failed to look up root certificate: %w", err)
	}

	if err := leaf.CheckSignatureFrom(root); err != nil {
		logger.Info().
			Str("serial_number", leaf.SerialNumber.Text(16)).
			Str("root_serial_number", root.SerialNumber.Text(16)).
			Msg("leaf certificate not signed by newest root, reissuing")
		return false, nil
	}
	return true, nil
}

func (c *Chain) retainedRoot(caSubject string) *pki.ComposedCertificate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roots[caSubject]
}

// generate creates a root (setPrivate false) or leaf (setPrivate true).
func (c *Chain) generate(ctx context.Context, role, subject string, parent pki.Parent) (*pki.ComposedCertificate, error) {
	started := time.Now()

	cert, err := c.generator.Generate(role == roleLeaf, subject, parent)
	if err != nil {
		return nil, err
	}

	roleAttr := metric.WithAttributes(attribute.String("role", role))
	c.metrics.GenerateDuration.Record(ctx, float64(time.Since(started).Milliseconds()), roleAttr)
	c.metrics.CertificatesIssuedTotal.Add(ctx, 1, roleAttr)

	return cert, nil
}

func (c *Chain) lookup(ctx context.Context, subjectTLS, subjectCA string, partition store.Partition) (*x509.Certificate, error) {
	cert, err := c.store.GetCertificate(ctx, subjectTLS, subjectCA, partition)
	if err != nil && !errors.Is(err, store.ErrCertNotFound) {
		c.metrics.StoreErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", "get")))
	}
	return cert, err
}

func (c *Chain) add(ctx context.Context, cert *x509.Certificate, partition store.Partition) error {
	err := c.store.AddCertificate(ctx, cert, partition)
	if err != nil {
		c.metrics.StoreErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", "add")))
	}
	return err
}

func (c *Chain) withVaultKey(ctx context.Context, cert *x509.Certificate) (*pki.ComposedCertificate, error) {
	key, err := c.vault.Get(ctx, store.Fingerprint(cert))
	if err != nil {
		if !errors.Is(err, keyvault.ErrKeyNotFound) {
			return nil, fmt.Errorf("failed to load leaf private key: %w", err)
		}
		return pki.NewComposedCertificate(cert, nil)
	}
	return pki.NewComposedCertificate(cert, key)
}

func (c *Chain) dueForRenewal(cert *x509.Certificate) bool {
	if c.renewBefore <= 0 {
		return false
	}
	return !c.now().Add(c.renewBefore).Before(cert.NotAfter)
}
