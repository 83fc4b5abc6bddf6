package pki

import (
	"crypto"
	"crypto/x509"
)

// Parent selects how a generated certificate is signed. It is either
// SelfSigned (a root) or SignedBy (a leaf issued by an existing root).
type Parent interface {
	isParent()
}

// SelfSigned signs the certificate with its own freshly generated key; the
// issuer equals the subject.
type SelfSigned struct{}

func (SelfSigned) isParent() {}

// SignedBy signs the certificate with the parent's key; the issuer is the
// parent certificate's subject.
type SignedBy struct {
	Certificate *x509.Certificate
	Key         crypto.Signer
}

func (SignedBy) isParent() {}

// validate checks that the parent can issue a certificate for subject.
func (p SignedBy) validate(subject string) error {
	if p.Certificate == nil {
		return &InvalidChainError{Subject: subject, Message: "parent certificate is missing"}
	}

	issuer := p.Certificate.Subject.CommonName

	if p.Key == nil {
		return &InvalidChainError{Subject: subject, Issuer: issuer, Message: "parent signing key is missing"}
	}

	if err := verifyCertKeyPair(p.Certificate, p.Key); err != nil {
		return &InvalidChainError{Subject: subject, Issuer: issuer, Message: "parent key does not match parent certificate", Cause: err}
	}

	if !p.Certificate.IsCA {
		return &InvalidChainError{Subject: subject, Issuer: issuer, Message: "parent certificate is not a CA"}
	}

	return nil
}
