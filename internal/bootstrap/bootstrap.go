// Package bootstrap provisions the DynamoDB table used by the certificate
// store, for DynamoDB Local and fresh AWS accounts.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// Config controls table provisioning.
type Config struct {
	DynamoClient *dynamodb.Client

	// Environment prefixes the table name, e.g. "dev" gives "dev_certificates".
	Environment string

	// CleanResources deletes an existing table before creating it. Leave false to
	// keep issued certificates across restarts.
	CleanResources bool
}

// Resources names what Bootstrap created or reused.
type Resources struct {
	CertificatesTable string
}

// Bootstrap creates the certificates table unless it already exists.
func Bootstrap(ctx context.Context, cfg Config) (*Resources, error) {
	if cfg.DynamoClient == nil {
		return nil, fmt.Errorf("DynamoClient is required")
	}
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}

	tableName := CertificatesTableName(cfg.Environment)
	if err := CreateCertificatesTable(ctx, cfg.DynamoClient, tableName, cfg.CleanResources); err != nil {
		return nil, fmt.Errorf("failed to create certificates table: %w", err)
	}

	return &Resources{CertificatesTable: tableName}, nil
}

// Cleanup deletes the resources created by Bootstrap.
func Cleanup(ctx context.Context, cfg Config, res *Resources) error {
	if err := deleteTableIfExists(ctx, cfg.DynamoClient, res.CertificatesTable); err != nil {
		return fmt.Errorf("failed to delete certificates table: %w", err)
	}
	return nil
}

func CertificatesTableName(env string) string {
	return fmt.Sprintf("%s_certificates", env)
}
