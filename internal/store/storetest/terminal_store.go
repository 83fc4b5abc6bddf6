package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/bifrost/internal/store"
)

// RunTerminalStoreTests exercises store.TerminalStore against the store returned
// by newStore. Each subtest gets a fresh store.
func RunTerminalStoreTests(t *testing.T, newStore func(t *testing.T) store.TerminalStore) {
	ctx := context.Background()

	acquirer := store.AcquirerEntry{Number: 1, CryptographyMethod: 3, KeyIndex: 12, SessionKey: "0123456789ABCDEF0123456789ABCDEF", EmvTags: "40706,40707"}
	risk := store.RiskManagementEntry{
		AcquirerNumber:                     1,
		RecordNumber:                       2,
		MustRiskManagement:                 true,
		FloorLimit:                         5000,
		BiasedRandomSelectionPercentage:    10,
		BiasedRandomSelectionThreshold:     2500,
		BiasedRandomSelectionMaxPercentage: 50,
	}

	t.Run("empty tables", func(t *testing.T) {
		st := newStore(t)

		acquirers, err := st.Acquirers(ctx)
		require.NoError(t, err)
		require.Empty(t, acquirers)

		rows, err := st.RiskManagement(ctx)
		require.NoError(t, err)
		require.Empty(t, rows)

		_, err = st.SelectApplication(ctx, "visa", 1)
		require.ErrorIs(t, err, store.ErrTerminalRowNotFound)
	})

	t.Run("store and read rows", func(t *testing.T) {
		st := newStore(t)

		require.NoError(t, st.StoreAcquirer(ctx, acquirer))
		require.NoError(t, st.StoreRiskManagement(ctx, risk))

		acquirers, err := st.Acquirers(ctx)
		require.NoError(t, err)
		require.Equal(t, []store.AcquirerEntry{acquirer}, acquirers)

		rows, err := st.RiskManagement(ctx)
		require.NoError(t, err)
		require.Equal(t, []store.RiskManagementEntry{risk}, rows)
	})

	t.Run("select application returns first match", func(t *testing.T) {
		st := newStore(t)

		require.NoError(t, st.StoreApplication(ctx, store.ApplicationEntry{PaymentMethod: 2, CardBrand: "visa", AcquirerNumber: 1, RecordNumber: 1}))
		require.NoError(t, st.StoreApplication(ctx, store.ApplicationEntry{PaymentMethod: 1, CardBrand: "visa", AcquirerNumber: 1, RecordNumber: 2}))
		require.NoError(t, st.StoreApplication(ctx, store.ApplicationEntry{PaymentMethod: 1, CardBrand: "visa", AcquirerNumber: 4, RecordNumber: 3}))

		app, err := st.SelectApplication(ctx, "visa", 1)
		require.NoError(t, err)
		require.Equal(t, 2, app.RecordNumber)

		_, err = st.SelectApplication(ctx, "mastercard", 1)
		require.ErrorIs(t, err, store.ErrTerminalRowNotFound)

		_, err = st.SelectApplication(ctx, "VISA", 1)
		require.ErrorIs(t, err, store.ErrTerminalRowNotFound)
	})

	t.Run("replace swaps all tables", func(t *testing.T) {
		st := newStore(t)

		require.NoError(t, st.StoreAcquirer(ctx, store.AcquirerEntry{Number: 9, SessionKey: "FEDCBA9876543210FEDCBA9876543210"}))
		require.NoError(t, st.StoreApplication(ctx, store.ApplicationEntry{PaymentMethod: 9, CardBrand: "stale"}))

		app := store.ApplicationEntry{PaymentMethod: 1, CardBrand: "visa", AcquirerNumber: 1, RecordNumber: 2}
		require.NoError(t, st.Replace(ctx, store.TerminalTables{
			Acquirers:      []store.AcquirerEntry{acquirer},
			RiskManagement: []store.RiskManagementEntry{risk},
			Applications:   []store.ApplicationEntry{app},
		}))

		acquirers, err := st.Acquirers(ctx)
		require.NoError(t, err)
		require.Equal(t, []store.AcquirerEntry{acquirer}, acquirers)

		rows, err := st.RiskManagement(ctx)
		require.NoError(t, err)
		require.Equal(t, []store.RiskManagementEntry{risk}, rows)

		got, err := st.SelectApplication(ctx, "visa", 1)
		require.NoError(t, err)
		require.Equal(t, app, *got)

		_, err = st.SelectApplication(ctx, "stale", 9)
		require.ErrorIs(t, err, store.ErrTerminalRowNotFound)
	})

	t.Run("replace with invalid rows keeps previous tables", func(t *testing.T) {
		tests := []struct {
			name   string
			tables store.TerminalTables
		}{
			{
				name: "short session key",
				tables: store.TerminalTables{
					Acquirers: []store.AcquirerEntry{acquirer, {Number: 2, SessionKey: "short"}},
				},
			},
			{
				name: "application without brand",
				tables: store.TerminalTables{
					Acquirers:    []store.AcquirerEntry{acquirer},
					Applications: []store.ApplicationEntry{{PaymentMethod: 1, RecordNumber: 3}},
				},
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				st := newStore(t)

				require.NoError(t, st.StoreRiskManagement(ctx, risk))
				require.NoError(t, st.StoreApplication(ctx, store.ApplicationEntry{PaymentMethod: 1, CardBrand: "visa", RecordNumber: 1}))

				err := st.Replace(ctx, tt.tables)
				require.ErrorIs(t, err, store.ErrInvalidTerminalRow)

				acquirers, err := st.Acquirers(ctx)
				require.NoError(t, err)
				require.Empty(t, acquirers)

				rows, err := st.RiskManagement(ctx)
				require.NoError(t, err)
				require.Equal(t, []store.RiskManagementEntry{risk}, rows)

				app, err := st.SelectApplication(ctx, "visa", 1)
				require.NoError(t, err)
				require.Equal(t, 1, app.RecordNumber)
			})
		}
	})

	t.Run("purge removes all rows", func(t *testing.T) {
		st := newStore(t)

		require.NoError(t, st.StoreAcquirer(ctx, acquirer))
		require.NoError(t, st.StoreRiskManagement(ctx, risk))
		require.NoError(t, st.StoreApplication(ctx, store.ApplicationEntry{PaymentMethod: 1, CardBrand: "visa"}))

		require.NoError(t, st.Purge(ctx))

		acquirers, err := st.Acquirers(ctx)
		require.NoError(t, err)
		require.Empty(t, acquirers)

		rows, err := st.RiskManagement(ctx)
		require.NoError(t, err)
		require.Empty(t, rows)

		_, err = st.SelectApplication(ctx, "visa", 1)
		require.ErrorIs(t, err, store.ErrTerminalRowNotFound)
	})
}
