// Package storetest provides a conformance suite for store.CertificateStore
// implementations.
package storetest

import (
	"context"
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/bifrost/internal/pki"
	"github.com/wolfeidau/bifrost/internal/store"
)

// Issue returns a root for caSubject and a leaf for tlsSubject signed by it.
func Issue(t *testing.T, tlsSubject, caSubject string) (root, leaf *x509.Certificate) {
	t.Helper()

	gen, err := pki.NewGenerator(pki.Config{Algorithm: "SHA256WithECDSA", ValidYears: 1, KeyStrength: 256})
	require.NoError(t, err)

	r, err := gen.Generate(false, caSubject, pki.SelfSigned{})
	require.NoError(t, err)

	l, err := gen.Generate(true, tlsSubject, r.AsParent())
	require.NoError(t, err)

	return r.Certificate, l.Certificate
}

// RunCertificateStoreTests exercises the lookup and insert contract against the
// store returned by newStore. Each subtest gets a fresh store.
func RunCertificateStoreTests(t *testing.T, newStore func(t *testing.T) store.CertificateStore) {
	ctx := context.Background()

	t.Run("get from empty store returns not found", func(t *testing.T) {
		st := newStore(t)

		_, err := st.GetCertificate(ctx, "svc.local", "Local CA", store.PartitionPersonal)
		require.ErrorIs(t, err, store.ErrCertNotFound)
	})

	t.Run("add then get leaf", func(t *testing.T) {
		st := newStore(t)
		_, leaf := Issue(t, "svc.local", "Local CA")

		require.NoError(t, st.AddCertificate(ctx, leaf, store.PartitionPersonal))

		got, err := st.GetCertificate(ctx, "svc.local", "Local CA", store.PartitionPersonal)
		require.NoError(t, err)
		require.True(t, got.Equal(leaf))
	})

	t.Run("add then get self signed root", func(t *testing.T) {
		st := newStore(t)
		root, _ := Issue(t, "svc.local", "Local CA")

		require.NoError(t, st.AddCertificate(ctx, root, store.PartitionRoot))

		got, err := st.GetCertificate(ctx, "Local CA", "Local CA", store.PartitionRoot)
		require.NoError(t, err)
		require.True(t, got.Equal(root))
	})

	t.Run("partitions are isolated", func(t *testing.T) {
		st := newStore(t)
		root, _ := Issue(t, "svc.local", "Local CA")

		require.NoError(t, st.AddCertificate(ctx, root, store.PartitionRoot))

		_, err := st.GetCertificate(ctx, "Local CA", "Local CA", store.PartitionPersonal)
		require.ErrorIs(t, err, store.ErrCertNotFound)
	})

	t.Run("lookup requires both subject and issuer to match", func(t *testing.T) {
		st := newStore(t)
		_, leaf := Issue(t, "svc.local", "Local CA")

		require.NoError(t, st.AddCertificate(ctx, leaf, store.PartitionPersonal))

		_, err := st.GetCertificate(ctx, "svc.local", "Other CA", store.PartitionPersonal)
		require.ErrorIs(t, err, store.ErrCertNotFound)

		_, err = st.GetCertificate(ctx, "other.local", "Local CA", store.PartitionPersonal)
		require.ErrorIs(t, err, store.ErrCertNotFound)
	})

	t.Run("subjects are compared without normalization", func(t *testing.T) {
		st := newStore(t)
		_, leaf := Issue(t, "svc.local", "Local CA")

		require.NoError(t, st.AddCertificate(ctx, leaf, store.PartitionPersonal))

		_, err := st.GetCertificate(ctx, "SVC.LOCAL", "Local CA", store.PartitionPersonal)
		require.ErrorIs(t, err, store.ErrCertNotFound)
	})

	t.Run("most recent insert wins", func(t *testing.T) {
		st := newStore(t)
		_, first := Issue(t, "svc.local", "Local CA")
		_, second := Issue(t, "svc.local", "Local CA")

		require.NoError(t, st.AddCertificate(ctx, first, store.PartitionPersonal))
		require.NoError(t, st.AddCertificate(ctx, second, store.PartitionPersonal))

		got, err := st.GetCertificate(ctx, "svc.local", "Local CA", store.PartitionPersonal)
		require.NoError(t, err)
		require.True(t, got.Equal(second))
	})

	t.Run("duplicate insert is permitted", func(t *testing.T) {
		st := newStore(t)
		_, leaf := Issue(t, "svc.local", "Local CA")

		require.NoError(t, st.AddCertificate(ctx, leaf, store.PartitionPersonal))
		require.NoError(t, st.AddCertificate(ctx, leaf, store.PartitionPersonal))

		got, err := st.GetCertificate(ctx, "svc.local", "Local CA", store.PartitionPersonal)
		require.NoError(t, err)
		require.True(t, got.Equal(leaf))
	})

	t.Run("unknown partition is unavailable", func(t *testing.T) {
		st := newStore(t)
		_, leaf := Issue(t, "svc.local", "Local CA")

		err := st.AddCertificate(ctx, leaf, store.Partition("trusted-people"))
		require.ErrorIs(t, err, store.ErrStoreUnavailable)
		require.ErrorIs(t, err, store.ErrUnknownPartition)

		_, err = st.GetCertificate(ctx, "svc.local", "Local CA", store.Partition("trusted-people"))
		require.ErrorIs(t, err, store.ErrStoreUnavailable)
	})
}
