package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/wolfeidau/bifrost/internal/store"
)

// TerminalStore is an in-memory store.TerminalStore.
type TerminalStore struct {
	mu           sync.RWMutex
	acquirers    []store.AcquirerEntry
	risk         []store.RiskManagementEntry
	applications []store.ApplicationEntry
}

func NewTerminalStore() *TerminalStore {
	return &TerminalStore{}
}

func (s *TerminalStore) Purge(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.acquirers = nil
	s.risk = nil
	s.applications = nil
	return nil
}

func (s *TerminalStore) StoreAcquirer(ctx context.Context, entry store.AcquirerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.acquirers = append(s.acquirers, entry)
	return nil
}

func (s *TerminalStore) StoreRiskManagement(ctx context.Context, entry store.RiskManagementEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.risk = append(s.risk, entry)
	return nil
}

func (s *TerminalStore) StoreApplication(ctx context.Context, entry store.ApplicationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.applications = append(s.applications, entry)
	return nil
}

func (s *TerminalStore) Replace(ctx context.Context, tables store.TerminalTables) error {
	if err := tables.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.acquirers = slices.Clone(tables.Acquirers)
	s.risk = slices.Clone(tables.RiskManagement)
	s.applications = slices.Clone(tables.Applications)
	return nil
}

func (s *TerminalStore) Acquirers(ctx context.Context) ([]store.AcquirerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.acquirers), nil
}

func (s *TerminalStore) RiskManagement(ctx context.Context) ([]store.RiskManagementEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.risk), nil
}

func (s *TerminalStore) SelectApplication(ctx context.Context, brand string, paymentMethod int) (*store.ApplicationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, app := range s.applications {
		if app.CardBrand == brand && app.PaymentMethod == paymentMethod {
			return &app, nil
		}
	}
	return nil, store.ErrTerminalRowNotFound
}
