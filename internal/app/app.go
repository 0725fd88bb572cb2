// Package app wires configuration into the storage targets, the settings
// store and the replication orchestrator.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/imedwei/offsite-vault/internal/alert"
	"github.com/imedwei/offsite-vault/internal/clock"
	"github.com/imedwei/offsite-vault/internal/config"
	"github.com/imedwei/offsite-vault/internal/metrics"
	"github.com/imedwei/offsite-vault/internal/ratelimit"
	"github.com/imedwei/offsite-vault/internal/replication"
	"github.com/imedwei/offsite-vault/internal/retention"
	"github.com/imedwei/offsite-vault/internal/settings"
	"github.com/imedwei/offsite-vault/internal/storage"
	"github.com/imedwei/offsite-vault/internal/telemetry"
	"github.com/imedwei/offsite-vault/internal/transport"
	"github.com/imedwei/offsite-vault/internal/utils"
)

// progressEvery controls how often upload progress is logged while reading.
const progressEvery = 10 * 1024 * 1024

// App is a fully wired vault.
type App struct {
	config       *config.Config
	orchestrator *replication.Orchestrator
	settings     settings.Store
	limiter      ratelimit.RateLimiter
	clock        clock.Clock
	logger       *slog.Logger
}

// New builds an App from cfg, opening the settings store and one storage
// per target.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tr := transport.NewHTTPTransport(transport.Config{
		Timeout:        cfg.Transport.Timeout,
		RequestsPerSec: cfg.Transport.RequestsPerSec,
		Burst:          cfg.Transport.Burst,
	})

	retry := storage.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Transport.RetryAttempts

	deps := storage.Deps{
		Transport: tr,
		Clock:     clock.System{},
		Logger:    logger,
		Timeout:   cfg.Transport.Timeout,
		Retry:     retry,
	}

	targets := make([]storage.Storage, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		s, err := storage.NewStorage(ctx, t, deps)
		if err != nil {
			return nil, fmt.Errorf("failed to create target %s: %w", t.Name, err)
		}
		targets = append(targets, s)
	}

	store, err := settings.Open(ctx, cfg.Settings, logger)
	if err != nil {
		return nil, err
	}

	a, err := NewWithTargets(cfg, targets, store, clock.System{}, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

// NewWithTargets builds an App over already constructed targets.
func NewWithTargets(cfg *config.Config, targets []storage.Storage, store settings.Store, clk clock.Clock, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.System{}
	}

	orch, err := replication.New(ReplicationConfig(cfg), targets,
		replication.WithSettings(store),
		replication.WithClock(clk),
		replication.WithLogger(logger),
		replication.WithAlertSink(alert.Fanout{alert.NewLogSink(logger), alert.MetricsSink{}}),
	)
	if err != nil {
		return nil, err
	}

	metrics.Info.WithLabelValues(telemetry.Version, cfg.Vault.Primary).Set(1)

	return &App{
		config:       cfg,
		orchestrator: orch,
		settings:     store,
		limiter: ratelimit.NewTimeBasedLimiter(ratelimit.Config{
			MinInterval: cfg.GetRespawnProtectionDuration(),
			Force:       cfg.ForceUpload,
		}, clk),
		clock:  clk,
		logger: logger,
	}, nil
}

// ReplicationConfig maps the vault configuration onto the orchestrator.
func ReplicationConfig(cfg *config.Config) replication.Config {
	return replication.Config{
		Primary:          cfg.Vault.Primary,
		Replicas:         cfg.Vault.Replicas,
		ExpectedCopies:   cfg.Vault.ExpectedCopies,
		LatencyBudget:    cfg.Vault.LatencyBudget,
		Parallelism:      cfg.Vault.Parallelism,
		HistoryLimit:     cfg.Vault.HistoryLimit,
		ResumeTTL:        cfg.Vault.ResumeTTL,
		MaxResumeEntries: cfg.Vault.MaxResumeEntries,
		Retention: retention.Policy{
			RetainByCount:   cfg.Retention.KeepCount,
			RetainByAgeDays: cfg.Retention.KeepDays,
		},
		ImmutabilityDays: cfg.Retention.ImmutabilityDays,
		PruneAfterUpload: cfg.Vault.PruneAfterUpload,
		Prefix:           cfg.FilePrefix,
	}
}

// Orchestrator returns the replication orchestrator.
func (a *App) Orchestrator() *replication.Orchestrator {
	return a.orchestrator
}

// Close releases the settings store.
func (a *App) Close() error {
	return a.settings.Close()
}

// UploadResult describes one UploadFile call.
type UploadResult struct {
	Skipped bool
	Reason  string
	Report  *replication.DeliveryReport
}

// UploadFile reads the archive at path and replicates it. Unless forced,
// the upload is skipped when the primary already holds an archive newer
// than the respawn protection window. Files that already carry an archive
// name keep it; anything else gets a generated timestamped name.
func (a *App) UploadFile(ctx context.Context, path, taskID string) (*UploadResult, error) {
	startTime := a.clock.Now()

	primary, _ := a.orchestrator.Target(a.orchestrator.Regions()[0])
	lastUpload, err := ratelimit.LastUpload(ctx, primary, a.config.FilePrefix)
	if err != nil {
		a.logger.Warn("Failed to get last upload time, proceeding with upload", "error", err)
	} else {
		ok, reason := a.limiter.ShouldUpload(lastUpload)
		a.logger.Info("Rate limiter decision", "should_upload", ok, "reason", reason)
		if !ok {
			a.logger.Info("Skipping upload due to respawn protection", "reason", reason)
			return &UploadResult{Skipped: true, Reason: reason}, nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	pr := utils.NewProgressReader(f, progressEvery, func(bytesRead int64, elapsed time.Duration) {
		rate := float64(bytesRead) / elapsed.Seconds()
		a.logger.Info("Reading archive",
			"read", utils.FormatBytes(bytesRead),
			"total", utils.FormatBytes(info.Size()),
			"rate", utils.FormatRate(rate))
	})
	body, err := utils.ReadAll(pr, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	metrics.ArchiveSize.Set(float64(len(body)))

	key := ArchiveKey(filepath.Base(path), a.config.FilePrefix, startTime)

	a.logger.Info("Uploading archive",
		"file", path,
		"key", key,
		"size", utils.FormatBytes(int64(len(body))))

	report, err := a.orchestrator.Upload(ctx, replication.UploadRequest{
		ObjectKey: key,
		Body:      body,
		Headers:   map[string]string{"Content-Type": "application/zip"},
		TaskID:    taskID,
	})
	if err != nil {
		return &UploadResult{Report: report}, err
	}

	duration := a.clock.Now().Sub(startTime)
	attrs := []any{
		"key", key,
		"status", report.Status,
		"copies", report.AvailableCopies,
		"duration", duration,
	}
	if duration > 0 {
		attrs = append(attrs, "throughput", utils.FormatRate(float64(len(body))/duration.Seconds()))
	}
	a.logger.Info("Upload completed", attrs...)

	return &UploadResult{Report: report}, nil
}

// ArchiveKey returns the object key for a local file name. Timestamped
// archive names are kept as they are.
func ArchiveKey(name, prefix string, now time.Time) string {
	if utils.IsArchive(name) {
		if _, err := utils.ParseArchiveTimestamp(name); err == nil {
			return name
		}
	}
	return utils.GenerateArchiveName(prefix, now)
}

// Resume retries the pending regions of versionID with the archive at path.
func (a *App) Resume(ctx context.Context, versionID, path string) (*replication.DeliveryReport, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	return a.orchestrator.Resume(ctx, versionID, body, map[string]string{"Content-Type": "application/zip"})
}

// Prune applies retention to one region, or to all when region is empty.
func (a *App) Prune(ctx context.Context, region string) ([]*retention.Result, error) {
	if region == "" {
		return a.orchestrator.Prune(ctx)
	}
	res, err := a.orchestrator.PruneRegion(ctx, region)
	if err != nil {
		return nil, err
	}
	return []*retention.Result{res}, nil
}

// List returns the archives stored in region, or in the primary when region
// is empty.
func (a *App) List(ctx context.Context, region string) ([]storage.BackupRecord, error) {
	if region == "" {
		region = a.orchestrator.Regions()[0]
	}
	s, ok := a.orchestrator.Target(region)
	if !ok {
		return nil, fmt.Errorf("unknown region %q", region)
	}
	return storage.Collect(s.List(ctx, a.config.FilePrefix))
}

// ErrNoStatus is returned by Status before the first upload.
var ErrNoStatus = errors.New("no upload recorded yet")

// Status returns the last delivery report and the pending resume contexts.
func (a *App) Status(ctx context.Context) (*replication.DeliveryReport, []replication.ResumeContext, error) {
	report, err := a.orchestrator.LastReport(ctx)
	if err != nil {
		return nil, nil, err
	}
	contexts, err := a.orchestrator.ResumeContexts(ctx)
	if err != nil {
		return nil, nil, err
	}
	if report == nil {
		return nil, contexts, ErrNoStatus
	}
	return report, contexts, nil
}
