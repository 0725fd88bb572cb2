// Package settings persists structured values (last delivery status, resume
// contexts, version history) under string keys.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/imedwei/offsite-vault/internal/config"
)

// Store is a key-value store for JSON-encodable values. Writers are
// last-writer-wins.
type Store interface {
	// Get decodes the value saved under name into dst. When nothing is
	// saved it returns false and leaves dst untouched, so callers pass dst
	// pre-filled with defaults.
	Get(ctx context.Context, name string, dst any) (bool, error)

	// Save replaces the value under name.
	Save(ctx context.Context, name string, value any) error

	// Delete removes name. Deleting a missing name succeeds.
	Delete(ctx context.Context, name string) error

	// Close releases the underlying resources.
	Close() error
}

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.SettingsConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "starskey":
		return OpenStarskey(cfg.Path, logger)
	case "sqlite", "postgres":
		return OpenSQL(ctx, cfg.Driver, cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unsupported settings driver: %s", cfg.Driver)
	}
}

// MemoryStore keeps values in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, name string, dst any) (bool, error) {
	m.mu.RLock()
	data, ok := m.values[name]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, decode(name, data, dst)
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, name string, value any) error {
	data, err := encode(name, value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.values[name] = data
	m.mu.Unlock()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	delete(m.values, name)
	m.mu.Unlock()
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

func encode(name string, value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode setting %s: %w", name, err)
	}
	return data, nil
}

func decode(name string, data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode setting %s: %w", name, err)
	}
	return nil
}
