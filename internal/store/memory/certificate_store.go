package memory

import (
	"context"
	"crypto/x509"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/bifrost/internal/store"
)

// CertificateStore is an in-memory implementation of store.CertificateStore for development and testing
type CertificateStore struct {
	mu         sync.RWMutex
	partitions map[store.Partition][]*store.CertRecord // insertion ordered
	inserts    int
}

// NewCertificateStore creates a new in-memory certificate store
func NewCertificateStore() *CertificateStore {
	partitions := make(map[store.Partition][]*store.CertRecord, len(store.Partitions))
	for _, p := range store.Partitions {
		partitions[p] = nil
	}

	return &CertificateStore{
		partitions: partitions,
	}
}

// GetCertificate returns the most recently inserted match for the subject pair.
func (s *CertificateStore) GetCertificate(ctx context.Context, subjectTLS, subjectCA string, partition store.Partition) (*x509.Certificate, error) {
	if err := store.ValidatePartition("get", partition); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.partitions[partition]
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec.SubjectCN == subjectTLS && rec.IssuerCN == subjectCA {
			// Parse a fresh copy to avoid sharing state with callers
			return rec.Certificate()
		}
	}

	return nil, store.ErrCertNotFound
}

// AddCertificate appends the certificate to the partition.
func (s *CertificateStore) AddCertificate(ctx context.Context, cert *x509.Certificate, partition store.Partition) error {
	if err := store.ValidatePartition("add", partition); err != nil {
		return err
	}

	rec := store.NewCertRecord(cert, partition)
	rec.DER = append([]byte(nil), cert.Raw...)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.partitions[partition] = append(s.partitions[partition], rec)
	s.inserts++

	log.Debug().
		Str("partition", string(partition)).
		Str("subject", rec.SubjectCN).
		Str("issuer", rec.IssuerCN).
		Str("serial_number", rec.SerialNumber).
		Msg("certificate added")

	return nil
}

// List returns copies of all records in a partition, oldest first.
func (s *CertificateStore) List(partition store.Partition) []*store.CertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.partitions[partition]
	result := make([]*store.CertRecord, len(records))
	for i, rec := range records {
		copy := *rec
		result[i] = &copy
	}
	return result
}

// Inserts returns the number of successful AddCertificate calls.
func (s *CertificateStore) Inserts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.inserts
}
