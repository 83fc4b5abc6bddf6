package postgres

import (
	"context"
	"crypto/x509"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/bifrost/internal/store"
)

// CertificateStore is a store.CertificateStore backed by the certificates table.
type CertificateStore struct {
	pool *pgxpool.Pool
}

// NewCertificateStore uses pool, which must already be migrated.
func NewCertificateStore(pool *pgxpool.Pool) *CertificateStore {
	return &CertificateStore{pool: pool}
}

// GetCertificate returns the newest row matching the subject and issuer.
func (s *CertificateStore) GetCertificate(ctx context.Context, subjectTLS, subjectCA string, partition store.Partition) (*x509.Certificate, error) {
	if err := store.ValidatePartition("get", partition); err != nil {
		return nil, err
	}

	var id string
	var der []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, der
		FROM certificates
		WHERE partition = $1 AND subject_cn = $2 AND issuer_cn = $3
		ORDER BY inserted_at DESC, seq DESC
		LIMIT 1
	`, string(partition), subjectTLS, subjectCA).Scan(&id, &der)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrCertNotFound
		}
		return nil, store.Unavailable("get", partition, mapPostgresError(err))
	}

	rec := &store.CertRecord{ID: id, DER: der}
	return rec.Certificate()
}

// AddCertificate inserts a new row; existing rows are never touched.
func (s *CertificateStore) AddCertificate(ctx context.Context, cert *x509.Certificate, partition store.Partition) error {
	if err := store.ValidatePartition("add", partition); err != nil {
		return err
	}

	rec := store.NewCertRecord(cert, partition)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO certificates (
			id, partition, subject_cn, issuer_cn, serial_number, fingerprint,
			not_before, not_after, inserted_at, der
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		rec.ID,
		string(rec.Partition),
		rec.SubjectCN,
		rec.IssuerCN,
		rec.SerialNumber,
		rec.Fingerprint,
		rec.NotBefore,
		rec.NotAfter,
		time.Unix(0, rec.InsertedAt),
		rec.DER,
	)
	if err != nil {
		return store.Unavailable("add", partition, mapPostgresError(err))
	}

	log.Debug().
		Str("id", rec.ID).
		Str("partition", string(partition)).
		Str("subject", rec.SubjectCN).
		Str("issuer", rec.IssuerCN).
		Msg("certificate added")

	return nil
}
