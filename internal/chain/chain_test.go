package chain

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/wolfeidau/bifrost/internal/keyvault"
	"github.com/wolfeidau/bifrost/internal/pki"
	"github.com/wolfeidau/bifrost/internal/store"
	"github.com/wolfeidau/bifrost/internal/store/memory"
	"github.com/wolfeidau/bifrost/internal/store/storetest"
	"github.com/wolfeidau/bifrost/internal/telemetry"
)

var testConfig = pki.Config{Algorithm: "SHA256WithECDSA", ValidYears: 1, KeyStrength: 256}

func newTestChain(t *testing.T, st store.CertificateStore, opts ...Option) *Chain {
	t.Helper()

	c, err := NewFromConfig(testConfig, st, opts...)
	require.NoError(t, err)
	return c
}

func verifyChain(t *testing.T, leaf, root *x509.Certificate) {
	t.Helper()

	require.Equal(t, root.Subject.CommonName, leaf.Issuer.CommonName)
	require.NoError(t, leaf.CheckSignatureFrom(root))

	roots := x509.NewCertPool()
	roots.AddCert(root)
	_, err := leaf.Verify(x509.VerifyOptions{Roots: roots, DNSName: leaf.Subject.CommonName})
	require.NoError(t, err)
}

func TestChain_EnsureIssued_EmptyStore(t *testing.T) {
	ctx := context.Background()
	st := memory.NewCertificateStore()
	c := newTestChain(t, st)

	leaf, err := c.EnsureIssued(ctx, "svc.local", "Local CA")
	require.NoError(t, err)
	require.NotNil(t, leaf.PrivateKey)
	require.Equal(t, "svc.local", leaf.Certificate.Subject.CommonName)
	require.Equal(t, 2, st.Inserts())

	root, err := st.GetCertificate(ctx, "Local CA", "Local CA", store.PartitionRoot)
	require.NoError(t, err)
	require.True(t, root.IsCA)
	verifyChain(t, leaf.Certificate, root)

	stored, err := st.GetCertificate(ctx, "svc.local", "Local CA", store.PartitionPersonal)
	require.NoError(t, err)
	require.True(t, stored.Equal(leaf.Certificate))

	t.Run("leaf key matches certificate", func(t *testing.T) {
		pub, ok := leaf.PrivateKey.Public().(interface{ Equal(crypto.PublicKey) bool })
		require.True(t, ok)
		require.True(t, pub.Equal(leaf.Certificate.PublicKey))
	})
}

func TestChain_EnsureIssued_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := memory.NewCertificateStore()
	c := newTestChain(t, st)

	first, err := c.EnsureIssued(ctx, "svc.local", "Local CA")
	require.NoError(t, err)

	second, err := c.EnsureIssued(ctx, "svc.local", "Local CA")
	require.NoError(t, err)

	require.True(t, first.Certificate.Equal(second.Certificate))
	require.NotNil(t, second.PrivateKey)
	require.Equal(t, 2, st.Inserts())
	require.Len(t, st.List(store.PartitionRoot), 1)
	require.Len(t, st.List(store.PartitionPersonal), 1)
}

func TestChain_EnsureIssued_PreSeededLeaf(t *testing.T) {
	ctx := context.Background()
	st := memory.NewCertificateStore()

	_, seeded := storetest.Issue(t, "svc.local", "Local CA")
	require.NoError(t, st.AddCertificate(ctx, seeded, store.PartitionPersonal))

	c := newTestChain(t, st)

	got, err := c.EnsureIssued(ctx, "svc.local", "Local CA")
	require.NoError(t, err)
	require.True(t, got.Certificate.Equal(seeded))
	require.Nil(t, got.PrivateKey)
	require.Equal(t, 1, st.Inserts())
	require.Empty(t, st.List(store.PartitionRoot))
}

func TestChain_EnsureIssued_SubjectBinding(t *testing.T) {
	ctx := context.Background()
	st := memory.NewCertificateStore()
	c := newTestChain(t, st)

	a, err := c.EnsureIssued(ctx, "a.local", "Local CA")
	require.NoError(t, err)

	b, err := c.EnsureIssued(ctx, "b.local", "Local CA")
	require.NoError(t, err)

	require.Equal(t, "a.local", a.Certificate.Subject.CommonName)
	require.Equal(t, "b.local", b.Certificate.Subject.CommonName)
	require.False(t, a.Certificate.Equal(b.Certificate))

	require.Len(t, st.List(store.PartitionRoot), 1)
	root, err := c.Root(ctx, "Local CA")
	require.NoError(t, err)

	verifyChain(t, a.Certificate, root)
	verifyChain(t, b.Certificate, root)
}

func TestChain_EnsureIssued_SeparateCAs(t *testing.T) {
	ctx := context.Background()
	st := memory.NewCertificateStore()
	c := newTestChain(t, st)

	a, err := c.EnsureIssued(ctx, "svc.local", "CA One")
	require.NoError(t, err)

	b, err := c.EnsureIssued(ctx, "svc.local", "CA Two")
	require.NoError(t, err)

	require.Equal(t, "CA One", a.Certificate.Issuer.CommonName)
	require.Equal(t, "CA Two", b.Certificate.Issuer.CommonName)
	require.Len(t, st.List(store.PartitionRoot), 2)
	require.Len(t, st.List(store.PartitionPersonal), 2)
}

func TestChain_UnsupportedAlgorithm(t *testing.T) {
	st := memory.NewCertificateStore()

	c, err := NewFromConfig(pki.Config{Algorithm: "MD5WithRSA", ValidYears: 1, KeyStrength: 2048}, st)
	require.Nil(t, c)
	require.ErrorIs(t, err, pki.ErrConfiguration)

	var cfgErr *pki.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, "algorithm", cfgErr.Field)
	require.Zero(t, st.Inserts())
}

func TestChain_EnsureIssued_EmptySubject(t *testing.T) {
	st := memory.NewCertificateStore()
	c := newTestChain(t, st)

	_, err := c.EnsureIssued(context.Background(), "", "Local CA")
	require.ErrorIs(t, err, pki.ErrEmptySubject)

	_, err = c.EnsureIssued(context.Background(), "svc.local", "")
	require.ErrorIs(t, err, pki.ErrEmptySubject)
	require.Zero(t, st.Inserts())
}

func TestChain_EnsureIssued_ConcurrentCallsShareRoot(t *testing.T) {
	ctx := context.Background()
	st := memory.NewCertificateStore()
	c := newTestChain(t, st)

	const callers = 16

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.EnsureIssued(ctx, fmt.Sprintf("svc%d.local", i), "Local CA")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	require.Len(t, st.List(store.PartitionRoot), 1)
	require.Len(t, st.List(store.PartitionPersonal), callers)
}

func TestChain_EnsureIssued_WithoutRootCoordination(t *testing.T) {
	ctx := context.Background()
	st := memory.NewCertificateStore()
	c := newTestChain(t, st, WithoutRootCoordination())

	leaf, err := c.EnsureIssued(ctx, "svc.local", "Local CA")
	require.NoError(t, err)

	root, err := c.Root(ctx, "Local CA")
	require.NoError(t, err)
	verifyChain(t, leaf.Certificate, root)
}

func TestChain_EnsureIssued_StoredRootWithoutKey(t *testing.T) {
	ctx := context.Background()
	st := memory.NewCertificateStore()

	seededRoot, _ := storetest.Issue(t, "other.local", "Local CA")
	require.NoError(t, st.AddCertificate(ctx, seededRoot, store.PartitionRoot))

	c := newTestChain(t, st)

	leaf, err := c.EnsureIssued(ctx, "svc.local", "Local CA")
	require.NoError(t, err)

	roots := st.List(store.PartitionRoot)
	require.Len(t, roots, 2)

	root, err := c.Root(ctx, "Local CA")
	require.NoError(t, err)
	require.False(t, root.Equal(seededRoot))
	verifyChain(t, leaf.Certificate, root)
}

func TestChain_EnsureIssued_RenewBefore(t *testing.T) {
	ctx := context.Background()
	st := memory.NewCertificateStore()

	now := time.Now()
	clock := now
	c := newTestChain(t, st, WithRenewBefore(30*24*time.Hour), WithClock(func() time.Time { return clock }))

	first, err := c.EnsureIssued(ctx, "svc.local", "Local CA")
	require.NoError(t, err)

	t.Run("reused while outside the window", func(t *testing.T) {
		again, err := c.EnsureIssued(ctx, "svc.local", "Local CA")
		require.NoError(t, err)
		require.True(t, again.Certificate.Equal(first.Certificate))
		require.Equal(t, 2, st.Inserts())
	})

	t.Run("reissued inside the window", func(t *testing.T) {
		clock = first.Certificate.NotAfter.Add(-24 * time.Hour)

		renewed, err := c.EnsureIssued(ctx, "svc.local", "Local CA")
		require.NoError(t, err)
		require.False(t, renewed.Certificate.Equal(first.Certificate))
		require.NotNil(t, renewed.PrivateKey)

		require.Len(t, st.List(store.PartitionPersonal), 2)
		require.Len(t, st.List(store.PartitionRoot), 2)

		stored, err := st.GetCertificate(ctx, "svc.local", "Local CA", store.PartitionPersonal)
		require.NoError(t, err)
		require.True(t, stored.Equal(renewed.Certificate))
	})
}

func TestChain_Get(t *testing.T) {
	ctx := context.Background()
	st := memory.NewCertificateStore()
	c := newTestChain(t, st)

	_, err := c.Get(ctx, "svc.local", "Local CA")
	require.ErrorIs(t, err, store.ErrCertNotFound)
	require.Zero(t, st.Inserts())

	issued, err := c.EnsureIssued(ctx, "svc.local", "Local CA")
	require.NoError(t, err)

	got, err := c.Get(ctx, "svc.local", "Local CA")
	require.NoError(t, err)
	require.True(t, got.Certificate.Equal(issued.Certificate))
	require.NotNil(t, got.PrivateKey)
}

func TestChain_EnsureIssued_ReissuesAfterRootReplacement(t *testing.T) {
	ctx := context.Background()
	st := memory.NewCertificateStore()
	vault := keyvault.NewMemoryVault()

	first := newTestChain(t, st, WithKeyVault(vault))
	original, err := first.EnsureIssued(ctx, "a.local", "Local CA")
	require.NoError(t, err)

	// A second Chain over the same store holds no root keys, as after a restart.
	restarted := newTestChain(t, st, WithKeyVault(vault))

	tests := []struct {
		name      string
		subject   string
		wantReuse bool
		wantRoots int
	}{
		{name: "leaf under the newest root is reused", subject: "a.local", wantReuse: true, wantRoots: 1},
		{name: "new subject replaces the keyless root", subject: "b.local", wantRoots: 2},
		{name: "leaf under the replaced root is reissued", subject: "a.local", wantRoots: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leaf, err := restarted.EnsureIssued(ctx, tt.subject, "Local CA")
			require.NoError(t, err)
			require.NotNil(t, leaf.PrivateKey)
			require.Equal(t, tt.wantReuse, leaf.Certificate.Equal(original.Certificate))
			require.Len(t, st.List(store.PartitionRoot), tt.wantRoots)

			root, err := restarted.Root(ctx, "Local CA")
			require.NoError(t, err)
			verifyChain(t, leaf.Certificate, root)
		})
	}

	t.Run("reissued leaf is reused afterwards", func(t *testing.T) {
		before := st.Inserts()

		leaf, err := restarted.EnsureIssued(ctx, "a.local", "Local CA")
		require.NoError(t, err)
		require.Equal(t, before, st.Inserts())

		root, err := restarted.Root(ctx, "Local CA")
		require.NoError(t, err)
		verifyChain(t, leaf.Certificate, root)
	})
}

// contextStore fails every call made with a done context.
type contextStore struct {
	*memory.CertificateStore
}

func (s *contextStore) GetCertificate(ctx context.Context, subjectTLS, subjectCA string, partition store.Partition) (*x509.Certificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("get", partition, err)
	}
	return s.CertificateStore.GetCertificate(ctx, subjectTLS, subjectCA, partition)
}

func (s *contextStore) AddCertificate(ctx context.Context, cert *x509.Certificate, partition store.Partition) error {
	if err := ctx.Err(); err != nil {
		return store.Unavailable("add", partition, err)
	}
	return s.CertificateStore.AddCertificate(ctx, cert, partition)
}

func TestChain_ResolveRoot_CancelledLeader(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr error
	}{
		{name: "shared resolution ignores cancellation"},
		{name: "uncoordinated resolution honours cancellation", opts: []Option{WithoutRootCoordination()}, wantErr: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &contextStore{CertificateStore: memory.NewCertificateStore()}
			c := newTestChain(t, st, tt.opts...)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			root, err := c.resolveRoot(ctx, "Local CA")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Zero(t, st.Inserts())
				return
			}
			require.NoError(t, err)
			require.True(t, root.CanSign())
			require.Len(t, st.List(store.PartitionRoot), 1)
		})
	}
}

// failingStore fails the configured operations for a partition.
type failingStore struct {
	*memory.CertificateStore
	getErr map[store.Partition]error
	addErr map[store.Partition]error
}

func (s *failingStore) GetCertificate(ctx context.Context, subjectTLS, subjectCA string, partition store.Partition) (*x509.Certificate, error) {
	if err := s.getErr[partition]; err != nil {
		return nil, store.Unavailable("get", partition, err)
	}
	return s.CertificateStore.GetCertificate(ctx, subjectTLS, subjectCA, partition)
}

func (s *failingStore) AddCertificate(ctx context.Context, cert *x509.Certificate, partition store.Partition) error {
	if err := s.addErr[partition]; err != nil {
		return store.Unavailable("add", partition, err)
	}
	return s.CertificateStore.AddCertificate(ctx, cert, partition)
}

func TestChain_EnsureIssued_StoreFailures(t *testing.T) {
	boom := errors.New("disk on fire")

	tests := []struct {
		name        string
		getErr      map[store.Partition]error
		addErr      map[store.Partition]error
		wantInserts int
	}{
		{name: "leaf lookup", getErr: map[store.Partition]error{store.PartitionPersonal: boom}},
		{name: "root lookup", getErr: map[store.Partition]error{store.PartitionRoot: boom}},
		{name: "root insert", addErr: map[store.Partition]error{store.PartitionRoot: boom}},
		{name: "leaf insert", addErr: map[store.Partition]error{store.PartitionPersonal: boom}, wantInserts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := sdkmetric.NewManualReader()
			metrics := telemetry.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

			st := &failingStore{CertificateStore: memory.NewCertificateStore(), getErr: tt.getErr, addErr: tt.addErr}
			c := newTestChain(t, st, WithMetrics(metrics))

			_, err := c.EnsureIssued(context.Background(), "svc.local", "Local CA")
			require.ErrorIs(t, err, store.ErrStoreUnavailable)
			require.ErrorIs(t, err, boom)
			require.Equal(t, tt.wantInserts, st.Inserts())
			require.Equal(t, int64(1), counterTotal(t, reader, "bifrost.store.errors.total"))
		})
	}
}

func TestChain_Metrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	metrics := telemetry.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	c := newTestChain(t, memory.NewCertificateStore(), WithMetrics(metrics))

	_, err := c.EnsureIssued(ctx, "svc.local", "Local CA")
	require.NoError(t, err)
	_, err = c.EnsureIssued(ctx, "svc.local", "Local CA")
	require.NoError(t, err)

	require.Equal(t, int64(2), counterTotal(t, reader, "bifrost.certificates.issued.total"))
	require.Equal(t, int64(1), counterTotal(t, reader, "bifrost.certificates.reused.total"))
	require.Zero(t, counterTotal(t, reader, "bifrost.store.errors.total"))
}

func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}
