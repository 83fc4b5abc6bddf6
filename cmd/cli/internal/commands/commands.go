package commands

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"os"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/wolfeidau/bifrost/internal/config"
	"github.com/wolfeidau/bifrost/internal/issuer"
	"github.com/wolfeidau/bifrost/internal/logger"
	"github.com/wolfeidau/bifrost/internal/pki"
)

type Globals struct {
	Debug   bool
	Version string
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// setup returns ctx carrying the command logger.
func setup(ctx context.Context, globals *Globals) (context.Context, zerolog.Logger) {
	log := logger.Setup(globals.Debug)
	return log.WithContext(ctx), log
}

func openIssuer(ctx context.Context, flags *config.Flags) (*issuer.Issuer, error) {
	cfg, err := flags.Load()
	if err != nil {
		return nil, err
	}
	return issuer.Open(ctx, cfg)
}

// fileName turns a subject into a file name stem.
func fileName(subject string) string {
	return unsafeFileChars.ReplaceAllString(subject, "_")
}

func saveCertificate(path string, cert *x509.Certificate) error {
	return os.WriteFile(path, pki.EncodeCertificatePEM(cert), 0600)
}

func savePrivateKey(path string, key crypto.Signer) error {
	keyPEM, err := pki.EncodePrivateKeyPEM(key)
	if err != nil {
		return fmt.Errorf("failed to encode private key: %w", err)
	}
	return os.WriteFile(path, keyPEM, 0600)
}
