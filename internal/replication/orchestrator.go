// Package replication uploads one archive to several regions and tracks
// which copies exist.
package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/imedwei/offsite-vault/internal/alert"
	"github.com/imedwei/offsite-vault/internal/clock"
	"github.com/imedwei/offsite-vault/internal/metrics"
	"github.com/imedwei/offsite-vault/internal/retention"
	"github.com/imedwei/offsite-vault/internal/settings"
	"github.com/imedwei/offsite-vault/internal/storage"
	"github.com/imedwei/offsite-vault/internal/telemetry"
)

// Metadata headers attached to every replica.
const (
	HeaderVersionID = "x-amz-meta-vault-version-id"
	HeaderTaskID    = "x-amz-meta-vault-task-id"
)

// Config controls replication.
type Config struct {
	Primary          string
	Replicas         []string
	ExpectedCopies   int           // 0 means one copy per region
	LatencyBudget    time.Duration // 0 disables latency alerts
	Parallelism      int           // regions uploaded concurrently; <= 1 is sequential
	HistoryLimit     int
	ResumeTTL        time.Duration
	MaxResumeEntries int
	Retention        retention.Policy
	ImmutabilityDays int
	PruneAfterUpload bool
	Prefix           string // listing prefix used when pruning
}

// Orchestrator fans uploads out to every configured region.
type Orchestrator struct {
	cfg      Config
	regions  []string
	targets  map[string]storage.Storage
	settings settings.Store
	alerts   alert.Sink
	clock    clock.Clock
	logger   *slog.Logger

	// stateMu serializes read-modify-write cycles on shared settings keys.
	stateMu sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSettings sets the store used for reports, resume contexts and history.
func WithSettings(s settings.Store) Option {
	return func(o *Orchestrator) { o.settings = s }
}

// WithAlertSink sets where alerts go.
func WithAlertSink(s alert.Sink) Option {
	return func(o *Orchestrator) { o.alerts = s }
}

// WithClock sets the clock.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator over targets, keyed by their Name. The region
// order is the primary followed by the replicas, deduplicated. When neither
// is configured every target is used in the given order.
func New(cfg Config, targets []storage.Storage, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:      cfg,
		targets:  make(map[string]storage.Storage, len(targets)),
		settings: settings.NewMemoryStore(),
		clock:    clock.System{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.alerts == nil {
		o.alerts = alert.NewLogSink(o.logger)
	}

	var order []string
	for _, t := range targets {
		if _, dup := o.targets[t.Name()]; dup {
			return nil, fmt.Errorf("duplicate target %q", t.Name())
		}
		o.targets[t.Name()] = t
		order = append(order, t.Name())
	}

	if cfg.Primary != "" || len(cfg.Replicas) > 0 {
		order = append([]string{cfg.Primary}, cfg.Replicas...)
	}
	for _, region := range order {
		if region == "" || slices.Contains(o.regions, region) {
			continue
		}
		if _, ok := o.targets[region]; !ok {
			return nil, fmt.Errorf("region %q has no configured target", region)
		}
		o.regions = append(o.regions, region)
	}
	if len(o.regions) == 0 {
		return nil, fmt.Errorf("at least one target region is required")
	}

	return o, nil
}

// Regions returns the target regions, primary first.
func (o *Orchestrator) Regions() []string {
	return slices.Clone(o.regions)
}

// Target returns the storage for region.
func (o *Orchestrator) Target(region string) (storage.Storage, bool) {
	s, ok := o.targets[region]
	return s, ok
}

// ExpectedCopies returns the configured copy target, defaulting to the
// number of regions.
func (o *Orchestrator) ExpectedCopies() int {
	if o.cfg.ExpectedCopies > 0 {
		return o.cfg.ExpectedCopies
	}
	return len(o.regions)
}

// UploadRequest describes one upload.
type UploadRequest struct {
	ObjectKey string
	Body      []byte
	Headers   map[string]string
	TaskID    string

	// VersionID identifies the version across retries; generated when empty.
	VersionID string

	// PendingRegions narrows the attempt to regions that failed before.
	// Other regions are recorded as skipped and not contacted.
	PendingRegions []string
}

// Upload stores req.Body in every target region and returns the delivery
// report. Region failures never stop the remaining regions. The call fails
// with *UploadError only when no region holds a copy afterwards; the report
// is returned in every case.
func (o *Orchestrator) Upload(ctx context.Context, req UploadRequest) (*DeliveryReport, error) {
	if req.ObjectKey == "" {
		return nil, fmt.Errorf("object key is required")
	}
	if req.VersionID == "" {
		req.VersionID = uuid.NewString()
	}

	ctx, span := telemetry.StartSpan(ctx, "vault.upload",
		telemetry.AttrVersionID.String(req.VersionID),
		telemetry.AttrObjectKey.String(req.ObjectKey),
		telemetry.AttrSize.Int(len(req.Body)),
	)

	report := &DeliveryReport{
		VersionID:      req.VersionID,
		ObjectKey:      req.ObjectKey,
		TaskID:         req.TaskID,
		Regions:        o.Regions(),
		Outcomes:       make(map[string]ReplicaOutcome, len(o.regions)),
		ExpectedCopies: o.ExpectedCopies(),
		StartedAt:      o.clock.Now(),
	}
	for _, region := range o.regions {
		report.Outcomes[region] = ReplicaOutcome{Region: region, Status: StatusPending}
	}

	attempt := o.attemptSet(req.PendingRegions)
	for _, region := range o.regions {
		if !slices.Contains(attempt, region) {
			report.Outcomes[region] = ReplicaOutcome{
				Region:  region,
				Status:  StatusSkipped,
				Message: "already delivered",
			}
		}
	}

	o.logger.Info("Starting replicated upload",
		"version_id", req.VersionID,
		"object_key", req.ObjectKey,
		"size", len(req.Body),
		"regions", attempt)

	headers := make(map[string]string, len(req.Headers)+2)
	for k, v := range req.Headers {
		headers[k] = v
	}
	headers[HeaderVersionID] = req.VersionID
	if req.TaskID != "" {
		headers[HeaderTaskID] = req.TaskID
	}

	// Outcomes land in per-region slots; nothing is shared until the join.
	outcomes := o.attemptRegions(ctx, attempt, req.ObjectKey, req.Body, headers)

	for _, outcome := range outcomes {
		report.Outcomes[outcome.Region] = outcome
	}
	o.aggregate(report)
	report.CompletedAt = o.clock.Now()

	o.finish(ctx, report, outcomes)

	span.SetAttributes(
		telemetry.AttrStatus.String(string(report.Status)),
		telemetry.AttrCopies.Int(report.AvailableCopies),
	)

	if report.AvailableCopies == 0 {
		err := &UploadError{Report: report}
		telemetry.EndSpan(span, err)
		return report, err
	}
	telemetry.EndSpan(span, nil)
	return report, nil
}

// Resume retries the regions still pending for versionID with the same body.
func (o *Orchestrator) Resume(ctx context.Context, versionID string, body []byte, headers map[string]string) (*DeliveryReport, error) {
	rc, err := o.ResumeContext(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, fmt.Errorf("no resume context for version %s", versionID)
	}

	return o.Upload(ctx, UploadRequest{
		ObjectKey:      rc.ObjectKey,
		Body:           body,
		Headers:        headers,
		TaskID:         rc.TaskID,
		VersionID:      rc.VersionID,
		PendingRegions: rc.PendingRegions,
	})
}

// attemptSet returns the regions to contact, in region order. Unknown
// pending regions are ignored; if none remain, every region is attempted.
func (o *Orchestrator) attemptSet(pending []string) []string {
	if len(pending) == 0 {
		return o.Regions()
	}

	var set []string
	for _, region := range o.regions {
		if slices.Contains(pending, region) {
			set = append(set, region)
		}
	}
	for _, region := range pending {
		if !slices.Contains(o.regions, region) {
			o.logger.Warn("Ignoring unknown pending region", "region", region)
		}
	}

	if len(set) == 0 {
		o.logger.Warn("No pending region is configured, attempting all regions", "pending", pending)
		return o.Regions()
	}
	return set
}

// attemptRegions uploads to each region, sequentially or with bounded
// parallelism, and returns one outcome per region in input order.
func (o *Orchestrator) attemptRegions(ctx context.Context, regions []string, key string, body []byte, headers map[string]string) []ReplicaOutcome {
	outcomes := make([]ReplicaOutcome, len(regions))

	if o.cfg.Parallelism <= 1 || len(regions) == 1 {
		for i, region := range regions {
			outcomes[i] = o.attemptRegion(ctx, region, key, body, headers)
		}
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.Parallelism)
	for i, region := range regions {
		g.Go(func() error {
			outcomes[i] = o.attemptRegion(ctx, region, key, body, headers)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// attemptRegion performs one regional PUT and times it.
func (o *Orchestrator) attemptRegion(ctx context.Context, region, key string, body []byte, headers map[string]string) ReplicaOutcome {
	ctx, span := telemetry.StartSpan(ctx, "vault.replica", telemetry.AttrRegion.String(region))

	store := o.targets[region]
	start := o.clock.Now()

	err := ctx.Err()
	if err == nil {
		err = store.Put(ctx, key, body, headers)
	}
	latency := o.clock.Now().Sub(start)
	telemetry.EndSpan(span, err)

	if err != nil {
		o.logger.Error("Replica upload failed", "region", region, "object_key", key, "error", err)
		metrics.RecordReplicaAttempt(region, string(StatusError), 0)
		return ReplicaOutcome{Region: region, Status: StatusError, Message: err.Error()}
	}

	ms := latency.Milliseconds()
	o.logger.Info("Replica uploaded", "region", region, "object_key", key, "latency_ms", ms)
	metrics.RecordReplicaAttempt(region, string(StatusOK), latency.Seconds())
	return ReplicaOutcome{Region: region, Status: StatusOK, LatencyMs: &ms}
}

// aggregate counts copies and derives the report status. Skipped regions
// already hold the version from an earlier attempt and count as available.
func (o *Orchestrator) aggregate(report *DeliveryReport) {
	report.AvailableCopies = 0
	report.Errors = nil
	for _, region := range report.Regions {
		outcome := report.Outcomes[region]
		switch outcome.Status {
		case StatusOK, StatusSkipped:
			report.AvailableCopies++
		case StatusError:
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", region, outcome.Message))
		}
	}
	report.PendingRegions = report.FailedRegions()
	report.Status = evaluateStatus(report.AvailableCopies, report.ExpectedCopies)
}

// finish runs everything that depends on the aggregate: alerts, resume
// context bookkeeping, pruning, history and the last status.
func (o *Orchestrator) finish(ctx context.Context, report *DeliveryReport, attempted []ReplicaOutcome) {
	if budget := o.cfg.LatencyBudget; budget > 0 {
		for _, outcome := range attempted {
			if outcome.Status == StatusOK && outcome.LatencyMs != nil && *outcome.LatencyMs > budget.Milliseconds() {
				o.emit(ctx, alert.TypeLatencyBudgetExceeded, alert.SeverityWarning,
					fmt.Sprintf("Replica upload to %s took %dms, budget is %dms", outcome.Region, *outcome.LatencyMs, budget.Milliseconds()),
					map[string]any{"region": outcome.Region, "latency_ms": *outcome.LatencyMs, "version_id": report.VersionID})
			}
		}
	}

	if len(report.PendingRegions) > 0 {
		rc := ResumeContext{
			VersionID:      report.VersionID,
			ObjectKey:      report.ObjectKey,
			TaskID:         report.TaskID,
			PendingRegions: report.PendingRegions,
			CreatedAt:      report.CompletedAt,
			UpdatedAt:      report.CompletedAt,
		}
		if err := o.saveResumeContext(ctx, rc); err != nil {
			o.logger.Error("Failed to save resume context", "version_id", report.VersionID, "error", err)
		}

		o.emit(ctx, alert.TypeReplicaDegraded, alert.SeverityCritical,
			fmt.Sprintf("%d of %d copies available for %s", report.AvailableCopies, report.ExpectedCopies, report.ObjectKey),
			map[string]any{
				"version_id":       report.VersionID,
				"pending_regions":  strings.Join(report.PendingRegions, ","),
				"available_copies": report.AvailableCopies,
				"expected_copies":  report.ExpectedCopies,
				"errors":           strings.Join(report.Errors, "; "),
			})

		if report.AvailableCopies == 0 {
			o.emit(ctx, alert.TypeUploadFailed, alert.SeverityCritical,
				fmt.Sprintf("No copy of %s was stored", report.ObjectKey),
				map[string]any{"version_id": report.VersionID, "task_id": report.TaskID})
		}
	} else {
		if err := o.clearResumeContext(ctx, report.VersionID); err != nil {
			o.logger.Error("Failed to clear resume context", "version_id", report.VersionID, "error", err)
		}
		if report.Status != ReportHealthy {
			o.emit(ctx, alert.TypeSLABreach, alert.SeverityWarning,
				fmt.Sprintf("Only %d copies configured, %d expected", report.AvailableCopies, report.ExpectedCopies),
				map[string]any{"version_id": report.VersionID, "available_copies": report.AvailableCopies, "expected_copies": report.ExpectedCopies})
		}
	}

	if err := o.recordVersion(ctx, report); err != nil {
		o.logger.Error("Failed to record version history", "version_id", report.VersionID, "error", err)
	}

	if o.cfg.PruneAfterUpload && o.cfg.Retention.Enabled() {
		for _, outcome := range attempted {
			if outcome.Status != StatusOK {
				continue
			}
			if _, err := o.pruneRegion(ctx, outcome.Region); err != nil {
				o.logger.Warn("Prune after upload failed", "region", outcome.Region, "error", err)
			}
		}
	}

	if err := o.settings.Save(ctx, KeyLastStatus, report); err != nil {
		o.logger.Error("Failed to save last status", "version_id", report.VersionID, "error", err)
	}

	metrics.Uploads.WithLabelValues(string(report.Status)).Inc()
	metrics.UploadDuration.Observe(report.Duration().Seconds())
	metrics.AvailableCopies.Set(float64(report.AvailableCopies))
	if report.Status == ReportHealthy {
		metrics.LastUploadTimestamp.Set(float64(report.CompletedAt.Unix()))
	}

	o.logger.Info("Replicated upload completed",
		"version_id", report.VersionID,
		"status", report.Status,
		"available_copies", report.AvailableCopies,
		"expected_copies", report.ExpectedCopies,
		"duration", report.Duration())
}

// Prune applies the retention policy to every region. Per-region failures
// are collected; the remaining regions are still pruned.
func (o *Orchestrator) Prune(ctx context.Context) ([]*retention.Result, error) {
	var (
		results []*retention.Result
		errs    []error
	)
	for _, region := range o.regions {
		res, err := o.pruneRegion(ctx, region)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// PruneRegion applies the retention policy to a single region.
func (o *Orchestrator) PruneRegion(ctx context.Context, region string) (*retention.Result, error) {
	if _, ok := o.targets[region]; !ok {
		return nil, fmt.Errorf("unknown region %q", region)
	}
	return o.pruneRegion(ctx, region)
}

func (o *Orchestrator) pruneRegion(ctx context.Context, region string) (*retention.Result, error) {
	guard, err := o.immutabilityGuard(ctx)
	if err != nil {
		return nil, err
	}

	pruner := retention.NewPruner(o.targets[region], o.cfg.Retention,
		retention.WithClock(o.clock),
		retention.WithLogger(o.logger),
		retention.WithPrefix(o.cfg.Prefix),
		retention.WithGuard(guard),
	)
	return pruner.Prune(ctx)
}

// immutabilityGuard protects archives whose version was recorded within the
// immutability window.
func (o *Orchestrator) immutabilityGuard(ctx context.Context) (retention.Guard, error) {
	if o.cfg.ImmutabilityDays <= 0 {
		return nil, nil
	}

	history, err := o.History(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load version history: %w", err)
	}

	cutoff := o.clock.Now().Add(-time.Duration(o.cfg.ImmutabilityDays) * 24 * time.Hour)
	locked := make(map[string]bool)
	for _, v := range history {
		if v.Timestamp.After(cutoff) {
			locked[v.ObjectKey] = true
			locked[path.Base(v.ObjectKey)] = true
		}
	}

	return retention.GuardFunc(func(rec storage.BackupRecord) bool {
		return locked[rec.Key] || locked[rec.Name]
	}), nil
}

func (o *Orchestrator) emit(ctx context.Context, typ string, severity alert.Severity, msg string, fields map[string]any) {
	o.alerts.Emit(ctx, alert.Alert{
		Type:     typ,
		Severity: severity,
		Message:  msg,
		Context:  fields,
		At:       o.clock.Now(),
	})
}
