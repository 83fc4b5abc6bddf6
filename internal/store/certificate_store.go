package store

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Partition is a named compartment of the certificate store, mirroring the
// "Root" and "My" stores of a platform certificate repository.
type Partition string

const (
	// PartitionRoot holds self-signed CA trust anchors.
	PartitionRoot Partition = "root"

	// PartitionPersonal holds leaf certificates issued by a root.
	PartitionPersonal Partition = "personal"
)

// Partitions lists every known partition.
var Partitions = []Partition{PartitionRoot, PartitionPersonal}

// Errors
var (
	ErrCertNotFound      = errors.New("certificate not found")
	ErrUnknownPartition  = errors.New("unknown certificate store partition")
	ErrStoreUnavailable  = errors.New("certificate store unavailable")
	ErrInvalidCertRecord = errors.New("invalid certificate record")
	ErrThrottled         = errors.New("AWS request throttled")
)

// CertificateStore is a durable, partitioned repository of public certificates.
// It never holds private keys.
type CertificateStore interface {
	// GetCertificate returns the most recently inserted certificate in partition
	// whose subject is subjectTLS and whose issuer is subjectCA.
	// Returns ErrCertNotFound when there is no match.
	GetCertificate(ctx context.Context, subjectTLS, subjectCA string, partition Partition) (*x509.Certificate, error)

	// AddCertificate inserts the certificate into partition. Existing entries are
	// never overwritten; duplicate subjects are allowed.
	AddCertificate(ctx context.Context, cert *x509.Certificate, partition Partition) error
}

// UnavailableError reports a certificate store that could not be read or written.
type UnavailableError struct {
	Op        string
	Partition Partition
	Err       error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("certificate store unavailable: %s %s: %v", e.Op, e.Partition, e.Err)
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Unavailable wraps err as an *UnavailableError unless it is nil or already one.
func Unavailable(op string, partition Partition, err error) error {
	if err == nil {
		return nil
	}
	var unavailable *UnavailableError
	if errors.As(err, &unavailable) {
		return err
	}
	return &UnavailableError{Op: op, Partition: partition, Err: err}
}

// ValidatePartition returns an *UnavailableError wrapping ErrUnknownPartition
// for partitions the store does not have.
func ValidatePartition(op string, partition Partition) error {
	for _, p := range Partitions {
		if p == partition {
			return nil
		}
	}
	return &UnavailableError{Op: op, Partition: partition, Err: ErrUnknownPartition}
}

// CertRecord is the persisted form of a certificate in a partition.
type CertRecord struct {
	ID           string    `dynamodbav:"id"`
	LookupKey    string    `dynamodbav:"lookup_key"`
	Partition    Partition `dynamodbav:"partition"`
	SubjectCN    string    `dynamodbav:"subject_cn"`
	IssuerCN     string    `dynamodbav:"issuer_cn"`
	SerialNumber string    `dynamodbav:"serial_number"`
	Fingerprint  string    `dynamodbav:"fingerprint"`
	NotBefore    time.Time `dynamodbav:"not_before"`
	NotAfter     time.Time `dynamodbav:"not_after"`
	InsertedAt   int64     `dynamodbav:"inserted_at"` // unix nanoseconds
	DER          []byte    `dynamodbav:"der"`
}

// NewCertRecord creates a CertRecord for inserting cert into partition.
func NewCertRecord(cert *x509.Certificate, partition Partition) *CertRecord {
	return &CertRecord{
		ID:           uuid.NewString(),
		LookupKey:    LookupKey(partition, cert.Subject.CommonName, cert.Issuer.CommonName),
		Partition:    partition,
		SubjectCN:    cert.Subject.CommonName,
		IssuerCN:     cert.Issuer.CommonName,
		SerialNumber: cert.SerialNumber.Text(16),
		Fingerprint:  Fingerprint(cert),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		InsertedAt:   time.Now().UnixNano(),
		DER:          cert.Raw,
	}
}

// Certificate parses the stored DER bytes.
func (r *CertRecord) Certificate() (*x509.Certificate, error) {
	if len(r.DER) == 0 {
		return nil, fmt.Errorf("%w: record %s has no certificate data", ErrInvalidCertRecord, r.ID)
	}

	cert, err := x509.ParseCertificate(r.DER)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertRecord, err)
	}
	return cert, nil
}

// LookupKey joins the partition, subject and issuer into a single index key.
func LookupKey(partition Partition, subjectTLS, subjectCA string) string {
	return fmt.Sprintf("%s#%s#%s", partition, subjectTLS, subjectCA)
}

// Fingerprint returns the lowercase hex SHA-256 fingerprint of the certificate.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}
