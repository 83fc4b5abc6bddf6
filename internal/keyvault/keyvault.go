// Package keyvault persists leaf private keys by certificate fingerprint so a
// certificate read back from a store can be paired with its key again.
package keyvault

import (
	"context"
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrKeyNotFound        = errors.New("private key not found")
	ErrInvalidFingerprint = errors.New("invalid certificate fingerprint")
)

// Vault stores private keys keyed by the hex SHA-256 fingerprint of their
// certificate.
type Vault interface {
	Put(ctx context.Context, fingerprint string, key crypto.Signer) error

	// Get returns ErrKeyNotFound when no key is held for fingerprint.
	Get(ctx context.Context, fingerprint string) (crypto.Signer, error)
}

func validateFingerprint(fingerprint string) error {
	if fingerprint == "" {
		return ErrInvalidFingerprint
	}
	if _, err := hex.DecodeString(fingerprint); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFingerprint, err)
	}
	return nil
}

// MemoryVault holds keys for the lifetime of the process.
type MemoryVault struct {
	mu   sync.RWMutex
	keys map[string]crypto.Signer
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{keys: make(map[string]crypto.Signer)}
}

func (v *MemoryVault) Put(ctx context.Context, fingerprint string, key crypto.Signer) error {
	if err := validateFingerprint(fingerprint); err != nil {
		return err
	}
	if key == nil {
		return fmt.Errorf("key is required")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.keys[fingerprint] = key
	return nil
}

func (v *MemoryVault) Get(ctx context.Context, fingerprint string) (crypto.Signer, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	key, ok := v.keys[fingerprint]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key, nil
}
