package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
)

const createTable = `CREATE TABLE IF NOT EXISTS vault_settings (
	name       TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at BIGINT NOT NULL
)`

// SQLStore persists settings in a vault_settings table on PostgreSQL or
// SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// OpenSQL connects to dsn with the given dialect ("postgres" or "sqlite")
// and creates the settings table when missing.
func OpenSQL(ctx context.Context, dialect, dsn string, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dialect != "postgres" && dialect != "sqlite" {
		return nil, fmt.Errorf("unsupported SQL dialect: %s", dialect)
	}

	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s settings database: %w", dialect, err)
	}
	if dialect == "sqlite" {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	store, err := NewSQLStore(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("Opened settings store", "driver", dialect)
	return store, nil
}

// NewSQLStore wraps an open database and creates the settings table.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect string) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to settings database: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		return nil, fmt.Errorf("failed to create settings table: %w", err)
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, name string, dst any) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM vault_settings WHERE name = ?`), name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read setting %s: %w", name, err)
	}
	return true, decode(name, []byte(value), dst)
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, name string, value any) error {
	data, err := encode(name, value)
	if err != nil {
		return err
	}

	query := s.rebind(`INSERT INTO vault_settings (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query, name, string(data), time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to save setting %s: %w", name, err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM vault_settings WHERE name = ?`), name); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", name, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
