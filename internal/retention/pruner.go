package retention

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/imedwei/offsite-vault/internal/clock"
	"github.com/imedwei/offsite-vault/internal/metrics"
	"github.com/imedwei/offsite-vault/internal/storage"
)

// Guard protects records that must survive pruning even when the policy
// selects them, such as versions still inside an immutability window.
type Guard interface {
	Protected(rec storage.BackupRecord) bool
}

// GuardFunc adapts a function to Guard.
type GuardFunc func(rec storage.BackupRecord) bool

// Protected implements Guard.
func (f GuardFunc) Protected(rec storage.BackupRecord) bool {
	return f(rec)
}

// Result summarizes one prune run against one store.
type Result struct {
	Region  string
	Listed  int
	Deleted []storage.BackupRecord
	Exempt  []storage.BackupRecord
	Errors  []error
}

// Pruner lists a store, selects records outside the policy and deletes them.
type Pruner struct {
	store  storage.Storage
	policy Policy
	prefix string
	guard  Guard
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures a Pruner.
type Option func(*Pruner)

// WithGuard exempts records the guard protects.
func WithGuard(g Guard) Option {
	return func(p *Pruner) { p.guard = g }
}

// WithClock sets the clock used for age calculations.
func WithClock(c clock.Clock) Option {
	return func(p *Pruner) { p.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pruner) { p.logger = l }
}

// WithPrefix restricts pruning to keys under prefix.
func WithPrefix(prefix string) Option {
	return func(p *Pruner) { p.prefix = prefix }
}

// NewPruner creates a pruner for store.
func NewPruner(store storage.Storage, policy Policy, opts ...Option) *Pruner {
	p := &Pruner{
		store:  store,
		policy: policy,
		clock:  clock.System{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prune removes archives outside the policy. A listing failure aborts the
// run; delete failures are collected in Result.Errors and do not stop the
// remaining deletes.
func (p *Pruner) Prune(ctx context.Context) (*Result, error) {
	result := &Result{Region: p.store.Name()}

	if !p.policy.Enabled() {
		p.logger.Debug("No retention policy configured, skipping prune", "region", result.Region)
		return result, nil
	}

	p.logger.Info("Starting prune",
		"region", result.Region,
		"retain_count", p.policy.RetainByCount,
		"retain_days", p.policy.RetainByAgeDays)

	records, err := storage.Collect(p.store.List(ctx, p.prefix))
	if err != nil {
		metrics.RecordPrune(result.Region, 0, 1)
		return nil, fmt.Errorf("failed to list archives in %s: %w", result.Region, err)
	}
	result.Listed = len(records)

	for _, rec := range SelectForDeletion(records, p.policy, p.clock.Now()) {
		if p.guard != nil && p.guard.Protected(rec) {
			p.logger.Info("Archive is immutable, keeping it", "region", result.Region, "key", rec.Key)
			result.Exempt = append(result.Exempt, rec)
			continue
		}

		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", rec.Key, err))
			continue
		}

		p.logger.Info("Deleting archive",
			"region", result.Region,
			"key", rec.Key,
			"timestamp", rec.Time())

		if err := p.store.Delete(ctx, rec.Key); err != nil {
			p.logger.Error("Failed to delete archive", "region", result.Region, "key", rec.Key, "error", err)
			result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", rec.Key, err))
			continue
		}
		result.Deleted = append(result.Deleted, rec)
	}

	metrics.RecordPrune(result.Region, len(result.Deleted), len(result.Errors))

	p.logger.Info("Prune completed",
		"region", result.Region,
		"listed", result.Listed,
		"deleted", len(result.Deleted),
		"exempt", len(result.Exempt),
		"errors", len(result.Errors))

	return result, nil
}
