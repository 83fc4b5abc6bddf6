// Package config loads the issuer configuration from an optional YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/wolfeidau/bifrost/internal/pki"
)

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
	BackendSSM      = "ssm"
)

// ErrEphemeralKeyVault is returned when a persistent certificate store is
// paired with the memory key vault. Leaves stored by an earlier process would
// come back without their private keys.
var ErrEphemeralKeyVault = errors.New("persistent certificate store requires a persistent key vault")

// Config is the issuer configuration.
type Config struct {
	Algorithm   string         `yaml:"algorithm" validate:"required,algorithm"`
	ValidYears  int            `yaml:"valid_years" validate:"gt=0"`
	KeyStrength int            `yaml:"key_strength" validate:"gt=0"`
	RenewBefore time.Duration  `yaml:"renew_before" validate:"gte=0"`
	Store       StoreConfig    `yaml:"store"`
	KeyVault    KeyVaultConfig `yaml:"keyvault"`
}

// StoreConfig selects the certificate store backend.
type StoreConfig struct {
	Backend    string `yaml:"backend" validate:"required,oneof=memory file postgres dynamodb"`
	Path       string `yaml:"path" validate:"required_if=Backend file"`
	ConnString string `yaml:"conn_string" validate:"required_if=Backend postgres"`
	Table      string `yaml:"table" validate:"required_if=Backend dynamodb"`
	Region     string `yaml:"region"`
	Endpoint   string `yaml:"endpoint" validate:"omitempty,url"`
}

// KeyVaultConfig selects where leaf private keys are kept.
type KeyVaultConfig struct {
	Backend string `yaml:"backend" validate:"required,oneof=memory file ssm"`
	Path    string `yaml:"path" validate:"required_if=Backend file"`
	Prefix  string `yaml:"prefix" validate:"required_if=Backend ssm"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Algorithm:   pki.DefaultAlgorithm,
		ValidYears:  pki.DefaultValidYears,
		KeyStrength: pki.DefaultKeyStrength,
		Store:       StoreConfig{Backend: BackendMemory},
		KeyVault:    KeyVaultConfig{Backend: BackendMemory},
	}
}

// Load reads path from fsys over the defaults. An empty path returns the
// defaults. The result is not validated so callers can apply overrides first.
func Load(fsys afero.Fs, path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks field constraints and that the algorithm supports the
// configured key strength.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Store.Backend != BackendMemory && c.KeyVault.Backend == BackendMemory {
		return fmt.Errorf("invalid configuration: store backend %q: %w", c.Store.Backend, ErrEphemeralKeyVault)
	}

	if _, err := pki.NewGenerator(c.PKI()); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// PKI returns the generator settings.
func (c *Config) PKI() pki.Config {
	return pki.Config{
		Algorithm:   c.Algorithm,
		ValidYears:  c.ValidYears,
		KeyStrength: c.KeyStrength,
	}
}

func newValidator() *validator.Validate {
	validate := validator.New()
	_ = validate.RegisterValidation("algorithm", validateAlgorithm)
	return validate
}

func validateAlgorithm(fl validator.FieldLevel) bool {
	_, ok := pki.LookupAlgorithm(fl.Field().String())
	return ok
}
