// Package tenant reads per-store configuration: gateway credentials and
// notification-strategy settings. The core never writes these records.
package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storefront-notifier/internal/gateway"
)

// Settings is everything the notification core needs to know about a store.
type Settings struct {
	Credentials gateway.Credentials
	// Strategies maps notification kind to its raw strategy configuration.
	// Values are loosely typed legacy data; the strategy resolver owns
	// making sense of them.
	Strategies map[string]map[string]any
}

// StrategyFor returns the raw strategy config for a kind, nil when absent.
func (s Settings) StrategyFor(kind string) map[string]any {
	return s.Strategies[kind]
}

// Store provides read access to tenant settings.
type Store interface {
	Settings(ctx context.Context, storeID string) (Settings, bool, error)
}

// PostgresStore reads store_settings rows over a shared pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Settings(ctx context.Context, storeID string) (Settings, bool, error) {
	var gatewayJSON, strategiesJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT gateway, strategies FROM store_settings WHERE store_id = $1
	`, storeID).Scan(&gatewayJSON, &strategiesJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settings{}, false, nil
	}
	if err != nil {
		return Settings{}, false, fmt.Errorf("query store settings: %w", err)
	}

	var out Settings
	if err := json.Unmarshal(gatewayJSON, &out.Credentials); err != nil {
		return Settings{}, false, fmt.Errorf("unmarshal gateway credentials: %w", err)
	}
	// Strategy rows are legacy data; a row that does not decode is treated
	// as no configuration rather than an error.
	_ = json.Unmarshal(strategiesJSON, &out.Strategies)
	return out, true, nil
}

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	settings map[string]Settings
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{settings: make(map[string]Settings)}
}

func (s *MemoryStore) Put(storeID string, settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[storeID] = settings
}

func (s *MemoryStore) Settings(_ context.Context, storeID string) (Settings, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings, ok := s.settings[storeID]
	return settings, ok, nil
}
