package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/bifrost/internal/store"
)

// TerminalStore is a store.TerminalStore backed by the terminal_* tables.
type TerminalStore struct {
	pool *pgxpool.Pool
}

func NewTerminalStore(pool *pgxpool.Pool) *TerminalStore {
	return &TerminalStore{pool: pool}
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func (s *TerminalStore) Purge(ctx context.Context) error {
	return purgeTerminalTables(ctx, s.pool)
}

func (s *TerminalStore) StoreAcquirer(ctx context.Context, e store.AcquirerEntry) error {
	return insertAcquirer(ctx, s.pool, e)
}

func (s *TerminalStore) StoreRiskManagement(ctx context.Context, e store.RiskManagementEntry) error {
	return insertRiskManagement(ctx, s.pool, e)
}

func (s *TerminalStore) StoreApplication(ctx context.Context, e store.ApplicationEntry) error {
	return insertApplication(ctx, s.pool, e)
}

// Replace truncates and refills all terminal tables in one transaction.
func (s *TerminalStore) Replace(ctx context.Context, tables store.TerminalTables) error {
	if err := tables.Validate(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapPostgresError(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	if err := purgeTerminalTables(ctx, tx); err != nil {
		return err
	}
	for _, e := range tables.Acquirers {
		if err := insertAcquirer(ctx, tx, e); err != nil {
			return err
		}
	}
	for _, e := range tables.RiskManagement {
		if err := insertRiskManagement(ctx, tx, e); err != nil {
			return err
		}
	}
	for _, e := range tables.Applications {
		if err := insertApplication(ctx, tx, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit terminal tables: %w", mapPostgresError(err))
	}
	return nil
}

func purgeTerminalTables(ctx context.Context, db execer) error {
	_, err := db.Exec(ctx, `TRUNCATE terminal_applications, terminal_acquirers, terminal_risk_management`)
	if err != nil {
		return fmt.Errorf("failed to purge terminal tables: %w", mapPostgresError(err))
	}
	return nil
}

func insertAcquirer(ctx context.Context, db execer, e store.AcquirerEntry) error {
	_, err := db.Exec(ctx, `
		INSERT INTO terminal_acquirers (number, cryptography_method, key_index, session_key, emv_tags)
		VALUES ($1, $2, $3, $4, $5)
	`, e.Number, e.CryptographyMethod, e.KeyIndex, e.SessionKey, e.EmvTags)
	if err != nil {
		return fmt.Errorf("failed to store acquirer %d: %w", e.Number, mapPostgresError(err))
	}
	return nil
}

func insertRiskManagement(ctx context.Context, db execer, e store.RiskManagementEntry) error {
	_, err := db.Exec(ctx, `
		INSERT INTO terminal_risk_management (
			acquirer_number, record_number, must_risk_management, floor_limit,
			biased_random_selection_percentage, biased_random_selection_threshold,
			biased_random_selection_max_percentage
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		e.AcquirerNumber,
		e.RecordNumber,
		e.MustRiskManagement,
		e.FloorLimit,
		e.BiasedRandomSelectionPercentage,
		e.BiasedRandomSelectionThreshold,
		e.BiasedRandomSelectionMaxPercentage,
	)
	if err != nil {
		return fmt.Errorf("failed to store risk management row: %w", mapPostgresError(err))
	}
	return nil
}

func insertApplication(ctx context.Context, db execer, e store.ApplicationEntry) error {
	_, err := db.Exec(ctx, `
		INSERT INTO terminal_applications (payment_method, card_brand, acquirer_number, record_number)
		VALUES ($1, $2, $3, $4)
	`, e.PaymentMethod, e.CardBrand, e.AcquirerNumber, e.RecordNumber)
	if err != nil {
		return fmt.Errorf("failed to store application: %w", mapPostgresError(err))
	}
	return nil
}

func (s *TerminalStore) Acquirers(ctx context.Context) ([]store.AcquirerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT number, cryptography_method, key_index, session_key, emv_tags
		FROM terminal_acquirers
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query acquirers: %w", mapPostgresError(err))
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.AcquirerEntry, error) {
		var e store.AcquirerEntry
		err := row.Scan(&e.Number, &e.CryptographyMethod, &e.KeyIndex, &e.SessionKey, &e.EmvTags)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan acquirers: %w", mapPostgresError(err))
	}
	return entries, nil
}

func (s *TerminalStore) RiskManagement(ctx context.Context) ([]store.RiskManagementEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT acquirer_number, record_number, must_risk_management, floor_limit,
			biased_random_selection_percentage, biased_random_selection_threshold,
			biased_random_selection_max_percentage
		FROM terminal_risk_management
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk management: %w", mapPostgresError(err))
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.RiskManagementEntry, error) {
		var e store.RiskManagementEntry
		err := row.Scan(
			&e.AcquirerNumber,
			&e.RecordNumber,
			&e.MustRiskManagement,
			&e.FloorLimit,
			&e.BiasedRandomSelectionPercentage,
			&e.BiasedRandomSelectionThreshold,
			&e.BiasedRandomSelectionMaxPercentage,
		)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan risk management: %w", mapPostgresError(err))
	}
	return entries, nil
}

func (s *TerminalStore) SelectApplication(ctx context.Context, brand string, paymentMethod int) (*store.ApplicationEntry, error) {
	var e store.ApplicationEntry
	err := s.pool.QueryRow(ctx, `
		SELECT payment_method, card_brand, acquirer_number, record_number
		FROM terminal_applications
		WHERE card_brand = $1 AND payment_method = $2
		ORDER BY seq
		LIMIT 1
	`, brand, paymentMethod).Scan(&e.PaymentMethod, &e.CardBrand, &e.AcquirerNumber, &e.RecordNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrTerminalRowNotFound
		}
		return nil, fmt.Errorf("failed to select application: %w", mapPostgresError(err))
	}
	return &e, nil
}
