package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"strings"
)

// KeyFamily identifies the asymmetric key type behind a signature algorithm.
type KeyFamily string

const (
	KeyFamilyRSA   KeyFamily = "rsa"
	KeyFamilyECDSA KeyFamily = "ecdsa"
)

// Algorithm describes a supported signature algorithm and the key strengths
// that may be used with it.
type Algorithm struct {
	Name      string
	Family    KeyFamily
	Signature x509.SignatureAlgorithm
	Strengths []int
}

// Supported signature algorithms.
var algorithms = []Algorithm{
	{Name: "SHA256WithRSA", Family: KeyFamilyRSA, Signature: x509.SHA256WithRSA, Strengths: []int{2048, 3072, 4096}},
	{Name: "SHA384WithRSA", Family: KeyFamilyRSA, Signature: x509.SHA384WithRSA, Strengths: []int{2048, 3072, 4096}},
	{Name: "SHA512WithRSA", Family: KeyFamilyRSA, Signature: x509.SHA512WithRSA, Strengths: []int{2048, 3072, 4096}},
	{Name: "SHA256WithECDSA", Family: KeyFamilyECDSA, Signature: x509.ECDSAWithSHA256, Strengths: []int{256, 384, 521}},
	{Name: "SHA384WithECDSA", Family: KeyFamilyECDSA, Signature: x509.ECDSAWithSHA384, Strengths: []int{256, 384, 521}},
	{Name: "SHA512WithECDSA", Family: KeyFamilyECDSA, Signature: x509.ECDSAWithSHA512, Strengths: []int{256, 384, 521}},
}

// LookupAlgorithm resolves an algorithm identifier, ignoring case.
func LookupAlgorithm(name string) (Algorithm, bool) {
	for _, alg := range algorithms {
		if strings.EqualFold(alg.Name, name) {
			return alg, true
		}
	}
	return Algorithm{}, false
}

// SupportedAlgorithms returns the names of all supported algorithms.
func SupportedAlgorithms() []string {
	names := make([]string, 0, len(algorithms))
	for _, alg := range algorithms {
		names = append(names, alg.Name)
	}
	return names
}

// SupportsStrength reports whether bits is a valid key strength for the algorithm.
func (a Algorithm) SupportsStrength(bits int) bool {
	for _, s := range a.Strengths {
		if s == bits {
			return true
		}
	}
	return false
}

// signatureFor returns the configured signature algorithm when the signing key
// belongs to the same family, otherwise zero so x509 picks a default for the key.
func (a Algorithm) signatureFor(key crypto.Signer) x509.SignatureAlgorithm {
	switch key.Public().(type) {
	case *rsa.PublicKey:
		if a.Family == KeyFamilyRSA {
			return a.Signature
		}
	case *ecdsa.PublicKey:
		if a.Family == KeyFamilyECDSA {
			return a.Signature
		}
	}
	return x509.UnknownSignatureAlgorithm
}
