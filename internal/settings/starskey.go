package settings

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starskey-io/starskey"
)

// StarskeyStore persists settings in an embedded Starskey LSM tree.
type StarskeyStore struct {
	db *starskey.Starskey
}

// OpenStarskey opens (or creates) a Starskey database in dir.
func OpenStarskey(dir string, logger *slog.Logger) (*StarskeyStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := starskey.Open(&starskey.Config{
		Permission:        0755,
		Directory:         dir,
		FlushThreshold:    1024 * 1024, // settings are small
		MaxLevel:          3,
		SizeFactor:        10,
		BloomFilter:       true,
		SuRF:              false,
		Logging:           false,
		Compression:       true,
		CompressionOption: starskey.SnappyCompression,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database at %s: %w", dir, err)
	}

	logger.Debug("Opened settings store", "driver", "starskey", "path", dir)
	return &StarskeyStore{db: db}, nil
}

// Get implements Store.
func (s *StarskeyStore) Get(ctx context.Context, name string, dst any) (bool, error) {
	value, err := s.db.Get([]byte(name))
	if err != nil {
		return false, fmt.Errorf("failed to read setting %s: %w", name, err)
	}
	if value == nil {
		return false, nil
	}
	return true, decode(name, value, dst)
}

// Save implements Store.
func (s *StarskeyStore) Save(ctx context.Context, name string, value any) error {
	data, err := encode(name, value)
	if err != nil {
		return err
	}

	// txn.Put reports failures through Update.
	return s.db.Update(func(txn *starskey.Txn) error {
		txn.Put([]byte(name), data)
		return nil
	})
}

// Delete implements Store.
func (s *StarskeyStore) Delete(ctx context.Context, name string) error {
	if err := s.db.Delete([]byte(name)); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", name, err)
	}
	return nil
}

// Close implements Store.
func (s *StarskeyStore) Close() error {
	return s.db.Close()
}
