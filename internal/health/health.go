// Package health reports service and replication health over HTTP.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/imedwei/offsite-vault/internal/clock"
	"github.com/imedwei/offsite-vault/internal/replication"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component works with reduced redundancy.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
)

// severity orders statuses from best to worst.
func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check represents a health check result.
type Check struct {
	Status    Status         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// CheckFunc produces one check result.
type CheckFunc func(context.Context) Check

// Checker performs health checks.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
	clock  clock.Clock
	logger *slog.Logger
}

// NewChecker creates a new health checker.
func NewChecker(clk clock.Clock, logger *slog.Logger) *Checker {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		checks: make(map[string]CheckFunc),
		clock:  clk,
		logger: logger,
	}
}

// RegisterCheck registers a health check function.
func (c *Checker) RegisterCheck(name string, checkFunc CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = checkFunc
}

// CheckHealth performs all registered health checks.
func (c *Checker) CheckHealth(ctx context.Context) map[string]Check {
	c.mu.RLock()
	defer c.mu.RUnlock()

	results := make(map[string]Check, len(c.checks))
	for name, checkFunc := range c.checks {
		results[name] = checkFunc(ctx)
	}
	return results
}

// Overall returns the worst status among results.
func Overall(results map[string]Check) Status {
	overall := StatusHealthy
	for _, check := range results {
		if check.Status.severity() > overall.severity() {
			overall = check.Status
		}
	}
	return overall
}

// Handler returns an HTTP handler for health checks. Degraded still answers
// 200; only unhealthy answers 503.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := c.CheckHealth(r.Context())
		overallStatus := Overall(results)

		response := struct {
			Status    Status           `json:"status"`
			Checks    map[string]Check `json:"checks"`
			Timestamp time.Time        `json:"timestamp"`
		}{
			Status:    overallStatus,
			Checks:    results,
			Timestamp: c.clock.Now(),
		}

		w.Header().Set("Content-Type", "application/json")
		if overallStatus == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		if err := json.NewEncoder(w).Encode(response); err != nil {
			c.logger.Warn("Failed to write health response", "error", err)
		}
	}
}

// ReportSource returns the last delivery report, or nil before the first
// upload.
type ReportSource interface {
	LastReport(ctx context.Context) (*replication.DeliveryReport, error)
}

// DeliveryCheck maps the last delivery report onto a health status. A report
// older than maxAge is unhealthy; maxAge 0 disables the age check.
func (c *Checker) DeliveryCheck(source ReportSource, maxAge time.Duration) CheckFunc {
	return func(ctx context.Context) Check {
		now := c.clock.Now()

		report, err := source.LastReport(ctx)
		if err != nil {
			return Check{
				Status:    StatusUnhealthy,
				Timestamp: now,
				Details:   map[string]any{"error": err.Error()},
			}
		}
		if report == nil {
			return Check{
				Status:    StatusHealthy,
				Timestamp: now,
				Details:   map[string]any{"message": "no upload recorded yet"},
			}
		}

		details := map[string]any{
			"version_id":       report.VersionID,
			"object_key":       report.ObjectKey,
			"report_status":    string(report.Status),
			"available_copies": report.AvailableCopies,
			"expected_copies":  report.ExpectedCopies,
			"completed_at":     report.CompletedAt,
		}
		if len(report.PendingRegions) > 0 {
			details["pending_regions"] = report.PendingRegions
		}

		status := StatusHealthy
		switch report.Status {
		case replication.ReportDegraded:
			status = StatusDegraded
		case replication.ReportFailed:
			status = StatusUnhealthy
		}

		if maxAge > 0 {
			if age := now.Sub(report.CompletedAt); age > maxAge {
				status = StatusUnhealthy
				details["error"] = fmt.Sprintf("last upload finished %s ago, limit is %s", age.Round(time.Second), maxAge)
			}
		}

		return Check{Status: status, Timestamp: now, Details: details}
	}
}

// ReadinessHandler returns a simple readiness check handler.
func ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	}
}

// LivenessHandler returns a simple liveness check handler.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("alive\n"))
	}
}
