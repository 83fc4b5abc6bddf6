package issuer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/bifrost/internal/config"
	"github.com/wolfeidau/bifrost/internal/store"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := config.Default()
		cfg.Algorithm = "SHA256WithECDSA"
		cfg.KeyStrength = 256

		iss, err := Open(ctx, cfg)
		require.NoError(t, err)
		t.Cleanup(iss.Close)

		leaf, err := iss.Chain.EnsureIssued(ctx, "svc.local", "Local CA")
		require.NoError(t, err)
		require.NotNil(t, leaf.PrivateKey)

		_, err = iss.Terminals.SelectApplication(ctx, "visa", 1)
		require.ErrorIs(t, err, store.ErrTerminalRowNotFound)
	})

	t.Run("file store and vault survive reopen", func(t *testing.T) {
		dir := t.TempDir()

		cfg := config.Default()
		cfg.Algorithm = "SHA256WithECDSA"
		cfg.KeyStrength = 256
		cfg.Store = config.StoreConfig{Backend: config.BackendFile, Path: filepath.Join(dir, "store")}
		cfg.KeyVault = config.KeyVaultConfig{Backend: config.BackendFile, Path: filepath.Join(dir, "keys")}

		first, err := Open(ctx, cfg)
		require.NoError(t, err)
		issued, err := first.Chain.EnsureIssued(ctx, "svc.local", "Local CA")
		require.NoError(t, err)
		first.Close()

		second, err := Open(ctx, cfg)
		require.NoError(t, err)
		t.Cleanup(second.Close)

		again, err := second.Chain.EnsureIssued(ctx, "svc.local", "Local CA")
		require.NoError(t, err)
		require.True(t, issued.Certificate.Equal(again.Certificate))
		require.NotNil(t, again.PrivateKey)

		t.Run("leaves verify under the served root after a new subject", func(t *testing.T) {
			for _, subject := range []string{"other.local", "svc.local"} {
				leaf, err := second.Chain.EnsureIssued(ctx, subject, "Local CA")
				require.NoError(t, err)
				require.NotNil(t, leaf.PrivateKey)

				root, err := second.Chain.Root(ctx, "Local CA")
				require.NoError(t, err)
				require.NoError(t, leaf.Certificate.CheckSignatureFrom(root))
			}
		})
	})

	t.Run("file store with memory vault", func(t *testing.T) {
		cfg := config.Default()
		cfg.Algorithm = "SHA256WithECDSA"
		cfg.KeyStrength = 256
		cfg.Store = config.StoreConfig{Backend: config.BackendFile, Path: filepath.Join(t.TempDir(), "store")}

		_, err := Open(ctx, cfg)
		require.ErrorIs(t, err, config.ErrEphemeralKeyVault)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := config.Default()
		cfg.Algorithm = "MD5WithRSA"

		_, err := Open(ctx, cfg)
		require.Error(t, err)
	})
}
