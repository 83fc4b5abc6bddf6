package keyvault

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const testFingerprint = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func runVaultTests(t *testing.T, newVault func(t *testing.T) Vault) {
	ctx := context.Background()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	t.Run("get missing key", func(t *testing.T) {
		_, err := newVault(t).Get(ctx, testFingerprint)
		require.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		v := newVault(t)
		require.NoError(t, v.Put(ctx, testFingerprint, key))

		got, err := v.Get(ctx, testFingerprint)
		require.NoError(t, err)

		ec, ok := got.(*ecdsa.PrivateKey)
		require.True(t, ok)
		require.True(t, key.Equal(ec))
	})

	t.Run("rejects non hex fingerprint", func(t *testing.T) {
		err := newVault(t).Put(ctx, "../../etc/passwd", key)
		require.ErrorIs(t, err, ErrInvalidFingerprint)

		err = newVault(t).Put(ctx, "", key)
		require.ErrorIs(t, err, ErrInvalidFingerprint)
	})
}

func TestMemoryVault(t *testing.T) {
	runVaultTests(t, func(t *testing.T) Vault {
		return NewMemoryVault()
	})
}

func TestFileVault(t *testing.T) {
	runVaultTests(t, func(t *testing.T) Vault {
		v, err := NewFileVault(afero.NewMemMapFs(), "/var/lib/bifrost/keys")
		require.NoError(t, err)
		return v
	})

	t.Run("key file is owner only", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		v, err := NewFileVault(fsys, "/keys")
		require.NoError(t, err)

		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		require.NoError(t, v.Put(context.Background(), testFingerprint, key))

		info, err := fsys.Stat("/keys/" + testFingerprint + ".key.pem")
		require.NoError(t, err)
		require.Equal(t, "-rw-------", info.Mode().Perm().String())
	})

	t.Run("survives a new vault instance", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		first, err := NewFileVault(fsys, "/keys")
		require.NoError(t, err)

		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		require.NoError(t, first.Put(context.Background(), testFingerprint, key))

		second, err := NewFileVault(fsys, "/keys")
		require.NoError(t, err)

		_, err = second.Get(context.Background(), testFingerprint)
		require.NoError(t, err)
	})

	t.Run("corrupt key file", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		v, err := NewFileVault(fsys, "/keys")
		require.NoError(t, err)
		require.NoError(t, afero.WriteFile(fsys, "/keys/"+testFingerprint+".key.pem", []byte("junk"), 0600))

		_, err = v.Get(context.Background(), testFingerprint)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrKeyNotFound)
	})
}
