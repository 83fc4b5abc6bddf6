package keyvault

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/wolfeidau/bifrost/internal/pki"
)

// SSMAPI is the subset of the SSM client used by SSMVault.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// SSMVault stores keys as SecureString parameters named <prefix>/<fingerprint>.
type SSMVault struct {
	client SSMAPI
	prefix string
}

func NewSSMVault(client SSMAPI, prefix string) *SSMVault {
	return &SSMVault{client: client, prefix: prefix}
}

func (v *SSMVault) Put(ctx context.Context, fingerprint string, key crypto.Signer) error {
	if err := validateFingerprint(fingerprint); err != nil {
		return err
	}

	data, err := pki.EncodePrivateKeyPEM(key)
	if err != nil {
		return err
	}

	_, err = v.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(v.parameterName(fingerprint)),
		Value:     aws.String(string(data)),
		Type:      types.ParameterTypeSecureString,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to put key parameter: %w", err)
	}
	return nil
}

func (v *SSMVault) Get(ctx context.Context, fingerprint string) (crypto.Signer, error) {
	if err := validateFingerprint(fingerprint); err != nil {
		return nil, err
	}

	output, err := v.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(v.parameterName(fingerprint)),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get key parameter: %w", err)
	}
	if output.Parameter == nil || output.Parameter.Value == nil {
		return nil, fmt.Errorf("parameter %s has no value", v.parameterName(fingerprint))
	}

	return pki.ParsePrivateKeyPEM([]byte(*output.Parameter.Value))
}

func (v *SSMVault) parameterName(fingerprint string) string {
	return path.Join("/", v.prefix, fingerprint)
}
