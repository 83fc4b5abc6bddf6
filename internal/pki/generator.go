package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"net"
	"regexp"
	"time"
)

const (
	DefaultAlgorithm   = "SHA256WithRSA"
	DefaultValidYears  = 10
	DefaultKeyStrength = 2048
)

var hostnamePattern = regexp.MustCompile(`^(\*\.)?[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// Config selects the algorithm, key strength and validity period used for every
// certificate a Generator produces. It is fixed for the generator's lifetime.
type Config struct {
	Algorithm   string
	ValidYears  int
	KeyStrength int
}

// ComposedCertificate is a generated certificate together with its private key.
// PrivateKey is only set when the certificate was generated with setPrivate;
// the generating key is retained either way so the certificate can act as a
// parent for as long as this value is held.
type ComposedCertificate struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.Signer

	key crypto.Signer
}

// NewComposedCertificate pairs a certificate with an existing private key. A nil
// key produces the public view of the certificate.
func NewComposedCertificate(cert *x509.Certificate, key crypto.Signer) (*ComposedCertificate, error) {
	if key != nil {
		if err := verifyCertKeyPair(cert, key); err != nil {
			return nil, fmt.Errorf("certificate and key do not match: %w", err)
		}
	}
	return &ComposedCertificate{Certificate: cert, PrivateKey: key, key: key}, nil
}

// AsParent returns the SignedBy variant that issues children from this
// certificate. The key is nil when the certificate was loaded without one.
func (c *ComposedCertificate) AsParent() SignedBy {
	return SignedBy{Certificate: c.Certificate, Key: c.key}
}

// CanSign reports whether the certificate's key is retained in memory.
func (c *ComposedCertificate) CanSign() bool {
	return c.key != nil
}

// Generator produces self-signed roots and leaves signed by a supplied parent.
type Generator struct {
	algorithm   Algorithm
	validYears  int
	keyStrength int
	random      io.Reader
	now         func() time.Time
}

// Option customises a Generator.
type Option func(*Generator)

// WithClock overrides the time source used for validity windows.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// WithRandom overrides the randomness source for keys and serial numbers.
func WithRandom(r io.Reader) Option {
	return func(g *Generator) {
		g.random = r
	}
}

// NewGenerator validates cfg and returns a Generator. Unsupported algorithms,
// key strengths and validity periods fail with a *ConfigurationError.
func NewGenerator(cfg Config, opts ...Option) (*Generator, error) {
	alg, ok := LookupAlgorithm(cfg.Algorithm)
	if !ok {
		return nil, &ConfigurationError{
			Field:   "algorithm",
			Value:   cfg.Algorithm,
			Message: fmt.Sprintf("supported algorithms are %v", SupportedAlgorithms()),
		}
	}

	if !alg.SupportsStrength(cfg.KeyStrength) {
		return nil, &ConfigurationError{
			Field:   "key strength",
			Value:   cfg.KeyStrength,
			Message: fmt.Sprintf("%s supports %v bits", alg.Name, alg.Strengths),
		}
	}

	if cfg.ValidYears <= 0 {
		return nil, &ConfigurationError{
			Field:   "valid years",
			Value:   cfg.ValidYears,
			Message: "must be positive",
		}
	}

	g := &Generator{
		algorithm:   alg,
		validYears:  cfg.ValidYears,
		keyStrength: cfg.KeyStrength,
		random:      rand.Reader,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// Algorithm returns the generator's signature algorithm.
func (g *Generator) Algorithm() Algorithm {
	return g.algorithm
}

// Generate creates a new key pair and a certificate for subject. A SelfSigned
// parent produces a CA root; a SignedBy parent produces a server leaf whose
// issuer is the parent's subject. PrivateKey is populated only when setPrivate
// is true.
func (g *Generator) Generate(setPrivate bool, subject string, parent Parent) (*ComposedCertificate, error) {
	if subject == "" {
		return nil, ErrEmptySubject
	}

	var (
		signedBy   SignedBy
		selfSigned bool
	)
	switch p := parent.(type) {
	case SelfSigned:
		selfSigned = true
	case SignedBy:
		if err := p.validate(subject); err != nil {
			return nil, err
		}
		signedBy = p
	case nil:
		return nil, &InvalidChainError{Subject: subject, Message: "parent is required, use SelfSigned for a root"}
	default:
		return nil, &InvalidChainError{Subject: subject, Message: fmt.Sprintf("unsupported parent %T", parent)}
	}

	key, err := generateKey(g.random, g.algorithm, g.keyStrength)
	if err != nil {
		return nil, err
	}

	serialNumber, err := rand.Int(g.random, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := g.now()
	template := &x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: subject},
		NotBefore:             now,
		NotAfter:              now.AddDate(g.validYears, 0, 0),
		BasicConstraintsValid: true,
	}

	issuerCert := template
	signingKey := key

	if selfSigned {
		template.IsCA = true
		template.MaxPathLenZero = true
		template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
	} else {
		template.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
		addSubjectAltNames(template, subject)

		issuerCert = signedBy.Certificate
		signingKey = signedBy.Key
	}

	template.SignatureAlgorithm = g.algorithm.signatureFor(signingKey)

	der, err := x509.CreateCertificate(g.random, template, issuerCert, key.Public(), signingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate for %q: %w", subject, err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	composed := &ComposedCertificate{Certificate: cert, key: key}
	if setPrivate {
		composed.PrivateKey = key
	}

	return composed, nil
}

// addSubjectAltNames adds the subject as an IP or DNS SAN when it is one, so
// leaves issued for host names validate under modern TLS clients.
func addSubjectAltNames(template *x509.Certificate, subject string) {
	if ip := net.ParseIP(subject); ip != nil {
		template.IPAddresses = []net.IP{ip}
		return
	}
	if hostnamePattern.MatchString(subject) {
		template.DNSNames = []string{subject}
	}
}
