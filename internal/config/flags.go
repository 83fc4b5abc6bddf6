package config

import (
	"time"

	"github.com/spf13/afero"
)

// Flags are the command line overrides shared by the binaries. Set fields
// replace the matching file values.
type Flags struct {
	Config string `help:"path to YAML config file" type:"path" env:"BIFROST_CONFIG"`

	Algorithm   string        `help:"signature algorithm, e.g. SHA256WithRSA or SHA256WithECDSA" env:"BIFROST_ALGORITHM"`
	ValidYears  int           `help:"certificate validity in years" env:"BIFROST_VALID_YEARS"`
	KeyStrength int           `help:"key size in bits" env:"BIFROST_KEY_STRENGTH"`
	RenewBefore time.Duration `help:"reissue stored certificates this long before they expire" env:"BIFROST_RENEW_BEFORE"`

	Store          string `help:"certificate store backend (memory, file, postgres, dynamodb)" env:"BIFROST_STORE"`
	StorePath      string `help:"directory for the file store" env:"BIFROST_STORE_PATH"`
	PostgresConn   string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`
	DynamoDBTable  string `help:"DynamoDB certificates table" name:"dynamodb-table" env:"BIFROST_DYNAMODB_TABLE"`
	AWSRegion      string `help:"AWS region" env:"AWS_REGION"`
	AWSEndpoint    string `help:"AWS endpoint (for DynamoDB Local)" env:"AWS_ENDPOINT"`
	KeyVault       string `help:"leaf key vault backend (memory, file, ssm)" env:"BIFROST_KEYVAULT"`
	KeyVaultPath   string `help:"directory for the file key vault" env:"BIFROST_KEYVAULT_PATH"`
	KeyVaultPrefix string `help:"SSM parameter prefix for the ssm key vault" env:"BIFROST_KEYVAULT_PREFIX"`
}

// Load reads f.Config from the host filesystem and applies the overrides.
func (f *Flags) Load() (*Config, error) {
	cfg, err := Load(afero.NewOsFs(), f.Config)
	if err != nil {
		return nil, err
	}
	f.Apply(cfg)
	return cfg, nil
}

// Apply copies every set flag onto cfg.
func (f *Flags) Apply(cfg *Config) {
	setString(&cfg.Algorithm, f.Algorithm)
	setInt(&cfg.ValidYears, f.ValidYears)
	setInt(&cfg.KeyStrength, f.KeyStrength)
	if f.RenewBefore != 0 {
		cfg.RenewBefore = f.RenewBefore
	}

	setString(&cfg.Store.Backend, f.Store)
	setString(&cfg.Store.Path, f.StorePath)
	setString(&cfg.Store.ConnString, f.PostgresConn)
	setString(&cfg.Store.Table, f.DynamoDBTable)
	setString(&cfg.Store.Region, f.AWSRegion)
	setString(&cfg.Store.Endpoint, f.AWSEndpoint)

	setString(&cfg.KeyVault.Backend, f.KeyVault)
	setString(&cfg.KeyVault.Path, f.KeyVaultPath)
	setString(&cfg.KeyVault.Prefix, f.KeyVaultPrefix)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
