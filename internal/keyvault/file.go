package keyvault

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/wolfeidau/bifrost/internal/pki"
)

// FileVault writes one PKCS#8 PEM file per key, readable only by the owner.
type FileVault struct {
	fs  afero.Fs
	dir string
}

// NewFileVault creates dir if needed and returns a vault rooted there.
func NewFileVault(fsys afero.Fs, dir string) (*FileVault, error) {
	if err := fsys.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key vault directory: %w", err)
	}
	return &FileVault{fs: fsys, dir: dir}, nil
}

// NewOSFileVault is NewFileVault on the host filesystem.
func NewOSFileVault(dir string) (*FileVault, error) {
	return NewFileVault(afero.NewOsFs(), dir)
}

func (v *FileVault) path(fingerprint string) string {
	return filepath.Join(v.dir, fingerprint+".key.pem")
}

func (v *FileVault) Put(ctx context.Context, fingerprint string, key crypto.Signer) error {
	if err := validateFingerprint(fingerprint); err != nil {
		return err
	}

	keyPEM, err := pki.EncodePrivateKeyPEM(key)
	if err != nil {
		return fmt.Errorf("failed to encode private key: %w", err)
	}

	if err := afero.WriteFile(v.fs, v.path(fingerprint), keyPEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	log.Debug().Str("fingerprint", fingerprint).Msg("private key stored")

	return nil
}

func (v *FileVault) Get(ctx context.Context, fingerprint string) (crypto.Signer, error) {
	if err := validateFingerprint(fingerprint); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(v.fs, v.path(fingerprint))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	key, err := pki.ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", fingerprint, err)
	}
	return key, nil
}
