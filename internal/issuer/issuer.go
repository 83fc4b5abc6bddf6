// Package issuer opens the certificate chain and terminal store selected by a
// configuration.
package issuer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/bifrost/internal/bootstrap"
	"github.com/wolfeidau/bifrost/internal/chain"
	"github.com/wolfeidau/bifrost/internal/config"
	"github.com/wolfeidau/bifrost/internal/keyvault"
	"github.com/wolfeidau/bifrost/internal/store"
	awsstore "github.com/wolfeidau/bifrost/internal/store/aws"
	filestore "github.com/wolfeidau/bifrost/internal/store/file"
	memorystore "github.com/wolfeidau/bifrost/internal/store/memory"
	postgresstore "github.com/wolfeidau/bifrost/internal/store/postgres"
)

// Issuer bundles the chain with the stores it was opened over.
type Issuer struct {
	Chain     *chain.Chain
	Terminals store.TerminalStore

	closers []func()
}

// Open validates cfg and connects the configured backends. The caller must
// Close the Issuer.
func Open(ctx context.Context, cfg *config.Config, opts ...chain.Option) (*Issuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := zerolog.Ctx(ctx)
	iss := &Issuer{}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := loadAWSConfig(ctx, cfg.Store.Region, cfg.Store.Endpoint)
		if err != nil {
			return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	certStore, err := iss.openStore(ctx, cfg.Store, loadAWS)
	if err != nil {
		iss.Close()
		return nil, err
	}

	vault, err := openVault(cfg.KeyVault, loadAWS)
	if err != nil {
		iss.Close()
		return nil, err
	}

	if iss.Terminals == nil {
		iss.Terminals = memorystore.NewTerminalStore()
	}

	opts = append([]chain.Option{
		chain.WithKeyVault(vault),
		chain.WithRenewBefore(cfg.RenewBefore),
	}, opts...)

	iss.Chain, err = chain.NewFromConfig(cfg.PKI(), certStore, opts...)
	if err != nil {
		iss.Close()
		return nil, err
	}

	logger.Info().
		Str("store", cfg.Store.Backend).
		Str("keyvault", cfg.KeyVault.Backend).
		Str("algorithm", cfg.Algorithm).
		Int("key_strength", cfg.KeyStrength).
		Msg("issuer opened")

	return iss, nil
}

// Close releases backend connections.
func (i *Issuer) Close() {
	for _, c := range i.closers {
		c()
	}
	i.closers = nil
}

func (i *Issuer) openStore(ctx context.Context, cfg config.StoreConfig, loadAWS func() (aws.Config, error)) (store.CertificateStore, error) {
	switch cfg.Backend {
	case config.BackendFile:
		s, err := filestore.NewOSCertificateStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open file store: %w", err)
		}
		return s, nil

	case config.BackendPostgres:
		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:  cfg.ConnString,
			AutoMigrate: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		i.closers = append(i.closers, pool.Close)
		i.Terminals = postgresstore.NewTerminalStore(pool)
		return postgresstore.NewCertificateStore(pool), nil

	case config.BackendDynamoDB:
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, err
		}
		client := dynamodb.NewFromConfig(awsCfg)

		// local endpoints start empty
		if cfg.Endpoint != "" {
			if err := bootstrap.CreateCertificatesTable(ctx, client, cfg.Table, false); err != nil {
				return nil, fmt.Errorf("failed to create certificates table: %w", err)
			}
		}
		return awsstore.NewCertificateStore(client, cfg.Table), nil

	default:
		return memorystore.NewCertificateStore(), nil
	}
}

func openVault(cfg config.KeyVaultConfig, loadAWS func() (aws.Config, error)) (keyvault.Vault, error) {
	switch cfg.Backend {
	case config.BackendFile:
		v, err := keyvault.NewOSFileVault(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open key vault: %w", err)
		}
		return v, nil

	case config.BackendSSM:
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, err
		}
		return keyvault.NewSSMVault(ssm.NewFromConfig(awsCfg), cfg.Prefix), nil

	default:
		return keyvault.NewMemoryVault(), nil
	}
}

func loadAWSConfig(ctx context.Context, region, endpoint string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(endpoint))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}
