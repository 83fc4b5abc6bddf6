package commands

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/wolfeidau/bifrost/internal/bootstrap"
)

// BootstrapCmd provisions the DynamoDB table for the dynamodb store backend.
type BootstrapCmd struct {
	Environment string `help:"environment name (local, dev, prod)" default:"local" enum:"local,dev,prod"`
	AWSRegion   string `help:"AWS region" default:"us-east-1" env:"AWS_REGION"`
	AWSEndpoint string `help:"AWS endpoint (for DynamoDB Local)" env:"AWS_ENDPOINT" default:""`
	Force       bool   `help:"delete and recreate the table" default:"false"`
	Teardown    bool   `help:"delete the table instead of creating it" default:"false"`
}

func (cmd *BootstrapCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, log := setup(ctx, globals)

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cmd.AWSRegion),
	}
	if cmd.AWSEndpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(cmd.AWSEndpoint))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	cfg := bootstrap.Config{
		DynamoClient:   dynamodb.NewFromConfig(awsConfig),
		Environment:    cmd.Environment,
		CleanResources: cmd.Force,
	}

	if cmd.Teardown {
		res := &bootstrap.Resources{CertificatesTable: bootstrap.CertificatesTableName(cmd.Environment)}
		if err := bootstrap.Cleanup(ctx, cfg, res); err != nil {
			return err
		}
		log.Info().Str("table", res.CertificatesTable).Msg("certificates table deleted")
		return nil
	}

	res, err := bootstrap.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}

	log.Info().
		Str("environment", cmd.Environment).
		Str("table", res.CertificatesTable).
		Msg("certificates table ready, use --store=dynamodb --dynamodb-table=" + res.CertificatesTable)

	return nil
}
