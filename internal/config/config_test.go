package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/bifrost/internal/pki"
)

func writeConfig(t *testing.T, body string) afero.Fs {
	t.Helper()

	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/etc/bifrost/config.yaml", []byte(body), 0o600))
	return fsys
}

func TestLoad(t *testing.T) {
	t.Run("defaults without file", func(t *testing.T) {
		cfg, err := Load(afero.NewMemMapFs(), "")
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())
		require.Equal(t, pki.Config{Algorithm: "SHA256WithRSA", ValidYears: 10, KeyStrength: 2048}, cfg.PKI())
		require.Equal(t, BackendMemory, cfg.Store.Backend)
		require.Equal(t, BackendMemory, cfg.KeyVault.Backend)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		fsys := writeConfig(t, `
algorithm: SHA384WithECDSA
key_strength: 384
renew_before: 720h
store:
  backend: postgres
  conn_string: postgres://localhost/bifrost
keyvault:
  backend: file
  path: /var/lib/bifrost/keys
`)
		cfg, err := Load(fsys, "/etc/bifrost/config.yaml")
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())

		require.Equal(t, "SHA384WithECDSA", cfg.Algorithm)
		require.Equal(t, 10, cfg.ValidYears)
		require.Equal(t, 384, cfg.KeyStrength)
		require.Equal(t, 720*time.Hour, cfg.RenewBefore)
		require.Equal(t, "postgres://localhost/bifrost", cfg.Store.ConnString)
		require.Equal(t, "/var/lib/bifrost/keys", cfg.KeyVault.Path)
	})

	t.Run("empty file keeps defaults", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, ""), "/etc/bifrost/config.yaml")
		require.NoError(t, err)
		require.Equal(t, Default(), cfg)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(afero.NewMemMapFs(), "/etc/bifrost/config.yaml")
		require.ErrorContains(t, err, "config file not found")
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := Load(writeConfig(t, "algoritm: SHA256WithRSA\n"), "/etc/bifrost/config.yaml")
		require.Error(t, err)
	})
}

func TestConfig_Validate(t *testing.T) {
	fileVault := func(c *Config) { c.KeyVault = KeyVaultConfig{Backend: BackendFile, Path: "/var/lib/bifrost/keys"} }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errIs   error
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "unknown algorithm", mutate: func(c *Config) { c.Algorithm = "MD5WithRSA" }, wantErr: true},
		{name: "strength not supported by algorithm", mutate: func(c *Config) { c.Algorithm = "SHA256WithECDSA" }, wantErr: true},
		{name: "zero validity", mutate: func(c *Config) { c.ValidYears = 0 }, wantErr: true},
		{name: "negative renew before", mutate: func(c *Config) { c.RenewBefore = -time.Hour }, wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "sqlite" }, wantErr: true},
		{name: "file backend needs path", mutate: func(c *Config) { c.Store.Backend = BackendFile }, wantErr: true},
		{name: "file backend with path", mutate: func(c *Config) {
			c.Store.Backend = BackendFile
			c.Store.Path = "/var/lib/bifrost"
			fileVault(c)
		}},
		{name: "dynamodb needs table", mutate: func(c *Config) { c.Store.Backend = BackendDynamoDB; fileVault(c) }, wantErr: true},
		{name: "dynamodb endpoint must be url", mutate: func(c *Config) {
			c.Store.Backend = BackendDynamoDB
			c.Store.Table = "dev_certificates"
			c.Store.Endpoint = "not a url"
			fileVault(c)
		}, wantErr: true},
		{name: "file store with memory vault", mutate: func(c *Config) {
			c.Store.Backend = BackendFile
			c.Store.Path = "/var/lib/bifrost"
		}, wantErr: true, errIs: ErrEphemeralKeyVault},
		{name: "postgres store with memory vault", mutate: func(c *Config) {
			c.Store.Backend = BackendPostgres
			c.Store.ConnString = "postgres://localhost/bifrost"
		}, wantErr: true, errIs: ErrEphemeralKeyVault},
		{name: "dynamodb store with memory vault", mutate: func(c *Config) {
			c.Store.Backend = BackendDynamoDB
			c.Store.Table = "dev_certificates"
		}, wantErr: true, errIs: ErrEphemeralKeyVault},
		{name: "dynamodb store with ssm vault", mutate: func(c *Config) {
			c.Store.Backend = BackendDynamoDB
			c.Store.Table = "dev_certificates"
			c.KeyVault = KeyVaultConfig{Backend: BackendSSM, Prefix: "bifrost/keys"}
		}},
		{name: "memory store with file vault", mutate: fileVault},
		{name: "ssm vault needs prefix", mutate: func(c *Config) { c.KeyVault.Backend = BackendSSM }, wantErr: true},
		{name: "ssm vault with prefix", mutate: func(c *Config) { c.KeyVault.Backend = BackendSSM; c.KeyVault.Prefix = "bifrost/keys" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				if tt.errIs != nil {
					require.ErrorIs(t, err, tt.errIs)
				}
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestFlags_Apply(t *testing.T) {
	fsys := writeConfig(t, `
algorithm: SHA256WithECDSA
key_strength: 256
store:
  backend: file
  path: /var/lib/bifrost
`)
	cfg, err := Load(fsys, "/etc/bifrost/config.yaml")
	require.NoError(t, err)

	flags := &Flags{
		KeyStrength:    384,
		Store:          BackendDynamoDB,
		DynamoDBTable:  "dev_certificates",
		AWSEndpoint:    "http://localhost:8000",
		KeyVault:       BackendSSM,
		KeyVaultPrefix: "bifrost/keys",
	}
	flags.Apply(cfg)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "SHA256WithECDSA", cfg.Algorithm)
	require.Equal(t, 384, cfg.KeyStrength)
	require.Equal(t, BackendDynamoDB, cfg.Store.Backend)
	require.Equal(t, "/var/lib/bifrost", cfg.Store.Path)
	require.Equal(t, "dev_certificates", cfg.Store.Table)
	require.Equal(t, "http://localhost:8000", cfg.Store.Endpoint)
	require.Equal(t, BackendSSM, cfg.KeyVault.Backend)
	require.Equal(t, "bifrost/keys", cfg.KeyVault.Prefix)
}
