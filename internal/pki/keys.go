package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
	"io"
)

// generateKey creates a new key pair for the algorithm family and strength.
func generateKey(random io.Reader, alg Algorithm, bits int) (crypto.Signer, error) {
	switch alg.Family {
	case KeyFamilyRSA:
		key, err := rsa.GenerateKey(random, bits)
		if err != nil {
			return nil, fmt.Errorf("failed to generate RSA key (%d bits): %w", bits, err)
		}
		return key, nil
	case KeyFamilyECDSA:
		curve, err := curveForStrength(bits)
		if err != nil {
			return nil, err
		}
		key, err := ecdsa.GenerateKey(curve, random)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ECDSA key (%s): %w", curve.Params().Name, err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("key generation not implemented for: %s", alg.Family)
	}
}

func curveForStrength(bits int) (elliptic.Curve, error) {
	switch bits {
	case 256:
		return elliptic.P256(), nil
	case 384:
		return elliptic.P384(), nil
	case 521:
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("no curve for key strength %d", bits)
	}
}

// publicKeysEqual reports whether the signer's public key is pub.
func publicKeysEqual(key crypto.Signer, pub crypto.PublicKey) bool {
	k, ok := key.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return false
	}
	return k.Equal(pub)
}
