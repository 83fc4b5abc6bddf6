// Package file stores certificates as PEM files, one directory per partition,
// in the manner of an operating system certificate repository.
package file

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/wolfeidau/bifrost/internal/pki"
	"github.com/wolfeidau/bifrost/internal/store"
)

const (
	defaultDirPerms = 0700
	certsFilePerms  = 0644
)

// CertificateStore implements store.CertificateStore on an afero filesystem.
type CertificateStore struct {
	mu      sync.RWMutex
	fs      afero.Fs
	rootDir string
	seq     int
}

// NewCertificateStore creates the partition directories under rootDir.
func NewCertificateStore(fs afero.Fs, rootDir string) (*CertificateStore, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("file store: root directory cannot be empty")
	}

	for _, p := range store.Partitions {
		if err := fs.MkdirAll(filepath.Join(rootDir, string(p)), defaultDirPerms); err != nil {
			return nil, store.Unavailable("init", p, fmt.Errorf("failed to create partition directory: %w", err))
		}
	}

	return &CertificateStore{
		fs:      fs,
		rootDir: rootDir,
	}, nil
}

// NewOSCertificateStore creates a store on the local disk.
func NewOSCertificateStore(rootDir string) (*CertificateStore, error) {
	return NewCertificateStore(afero.NewOsFs(), rootDir)
}

// GetCertificate scans the partition newest first and returns the first match.
func (s *CertificateStore) GetCertificate(ctx context.Context, subjectTLS, subjectCA string, partition store.Partition) (*x509.Certificate, error) {
	if err := store.ValidatePartition("get", partition); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := s.partitionDir(partition)

	names, err := s.listPEMFiles(dir)
	if err != nil {
		return nil, store.Unavailable("get", partition, err)
	}

	// File names start with a zero padded timestamp so reverse lexical order is newest first
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names {
		data, err := afero.ReadFile(s.fs, filepath.Join(dir, name))
		if err != nil {
			return nil, store.Unavailable("get", partition, fmt.Errorf("failed to read %s: %w", name, err))
		}

		cert, err := pki.ParseCertificatePEM(data)
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("skipping unreadable certificate file")
			continue
		}

		if cert.Subject.CommonName == subjectTLS && cert.Issuer.CommonName == subjectCA {
			return cert, nil
		}
	}

	return nil, store.ErrCertNotFound
}

// AddCertificate writes the certificate to a new file in the partition.
func (s *CertificateStore) AddCertificate(ctx context.Context, cert *x509.Certificate, partition store.Partition) error {
	if err := store.ValidatePartition("add", partition); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	name := fmt.Sprintf("%020d-%06d-%s.pem", time.Now().UnixNano(), s.seq, cert.SerialNumber.Text(16))
	path := filepath.Join(s.partitionDir(partition), name)

	if err := afero.WriteFile(s.fs, path, pki.EncodeCertificatePEM(cert), certsFilePerms); err != nil {
		return store.Unavailable("add", partition, fmt.Errorf("failed to write certificate: %w", err))
	}

	log.Debug().
		Str("partition", string(partition)).
		Str("subject", cert.Subject.CommonName).
		Str("issuer", cert.Issuer.CommonName).
		Str("path", path).
		Msg("certificate added")

	return nil
}

func (s *CertificateStore) partitionDir(partition store.Partition) string {
	return filepath.Join(s.rootDir, string(partition))
}

func (s *CertificateStore) listPEMFiles(dir string) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("partition directory %s is missing: %w", dir, err)
		}
		return nil, fmt.Errorf("failed to list partition directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pem") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}
