package replication

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"
)

// Settings keys.
const (
	KeyLastStatus     = "vault_last_status"
	KeyResumeContexts = "vault_resume_contexts"
	KeyVersionHistory = "vault_version_history"
)

// LastReport returns the most recently saved delivery report, or nil.
func (o *Orchestrator) LastReport(ctx context.Context) (*DeliveryReport, error) {
	var report DeliveryReport
	found, err := o.settings.Get(ctx, KeyLastStatus, &report)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &report, nil
}

// ResumeContext returns the pending regions saved for versionID, or nil.
func (o *Orchestrator) ResumeContext(ctx context.Context, versionID string) (*ResumeContext, error) {
	contexts, err := o.loadResumeContexts(ctx)
	if err != nil {
		return nil, err
	}
	rc, ok := contexts[versionID]
	if !ok {
		return nil, nil
	}
	return &rc, nil
}

// ResumeContexts returns every saved resume context, oldest first.
func (o *Orchestrator) ResumeContexts(ctx context.Context) ([]ResumeContext, error) {
	contexts, err := o.loadResumeContexts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ResumeContext, 0, len(contexts))
	for _, rc := range contexts {
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// History returns the version history, oldest first.
func (o *Orchestrator) History(ctx context.Context) ([]VersionRecord, error) {
	var history []VersionRecord
	if _, err := o.settings.Get(ctx, KeyVersionHistory, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func (o *Orchestrator) loadResumeContexts(ctx context.Context) (map[string]ResumeContext, error) {
	contexts := make(map[string]ResumeContext)
	if _, err := o.settings.Get(ctx, KeyResumeContexts, &contexts); err != nil {
		return nil, fmt.Errorf("failed to load resume contexts: %w", err)
	}
	return contexts, nil
}

// saveResumeContext stores or replaces the context for rc.VersionID. The
// first failure time is kept so the TTL counts from it. Expired entries are
// dropped and the oldest are evicted beyond the configured cap.
func (o *Orchestrator) saveResumeContext(ctx context.Context, rc ResumeContext) error {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	contexts, err := o.loadResumeContexts(ctx)
	if err != nil {
		return err
	}

	if prev, ok := contexts[rc.VersionID]; ok && !prev.CreatedAt.IsZero() {
		rc.CreatedAt = prev.CreatedAt
	}
	contexts[rc.VersionID] = rc

	evictResumeContexts(contexts, o.clock.Now(), o.cfg.ResumeTTL, o.cfg.MaxResumeEntries)

	return o.settings.Save(ctx, KeyResumeContexts, contexts)
}

// clearResumeContext removes the context for versionID, if any.
func (o *Orchestrator) clearResumeContext(ctx context.Context, versionID string) error {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	contexts, err := o.loadResumeContexts(ctx)
	if err != nil {
		return err
	}
	if _, ok := contexts[versionID]; !ok {
		return nil
	}
	delete(contexts, versionID)
	return o.settings.Save(ctx, KeyResumeContexts, contexts)
}

func evictResumeContexts(contexts map[string]ResumeContext, now time.Time, ttl time.Duration, maxEntries int) {
	if ttl > 0 {
		for id, rc := range contexts {
			if now.Sub(rc.CreatedAt) > ttl {
				delete(contexts, id)
			}
		}
	}

	if maxEntries <= 0 || len(contexts) <= maxEntries {
		return
	}

	ids := make([]string, 0, len(contexts))
	for id := range contexts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := contexts[ids[i]], contexts[ids[j]]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return ids[i] < ids[j]
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	for _, id := range ids[:len(ids)-maxEntries] {
		delete(contexts, id)
	}
}

// recordVersion merges the report into the history. A retry of the same
// version updates its entry; skipped regions keep their earlier outcome.
func (o *Orchestrator) recordVersion(ctx context.Context, report *DeliveryReport) error {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	history, err := o.History(ctx)
	if err != nil {
		return err
	}

	idx := slices.IndexFunc(history, func(v VersionRecord) bool { return v.VersionID == report.VersionID })
	if idx < 0 {
		history = append(history, VersionRecord{
			ObjectKey: report.ObjectKey,
			VersionID: report.VersionID,
			Timestamp: report.CompletedAt,
			Regions:   make(map[string]ReplicaOutcome),
		})
		idx = len(history) - 1
	}

	rec := &history[idx]
	if rec.Regions == nil {
		rec.Regions = make(map[string]ReplicaOutcome)
	}
	for region, outcome := range report.Outcomes {
		if outcome.Status == StatusSkipped {
			if _, ok := rec.Regions[region]; ok {
				continue
			}
		}
		rec.Regions[region] = outcome
	}

	if limit := o.cfg.HistoryLimit; limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	return o.settings.Save(ctx, KeyVersionHistory, history)
}
