// Package alert delivers fire-and-forget operational notifications.
package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/imedwei/offsite-vault/internal/metrics"
)

// Severity levels.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert types raised by replication.
const (
	TypeLatencyBudgetExceeded = "latency_budget_exceeded"
	TypeReplicaDegraded       = "replica_degraded"
	TypeSLABreach             = "sla_breach"
	TypeUploadFailed          = "upload_failed"
)

// Alert is one notification.
type Alert struct {
	Type     string
	Severity Severity
	Message  string
	Context  map[string]any
	At       time.Time
}

// Sink receives alerts. Emit must not block for long and never fails the
// caller.
type Sink interface {
	Emit(ctx context.Context, a Alert)
}

// LogSink writes alerts to a logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Emit implements Sink.
func (s *LogSink) Emit(ctx context.Context, a Alert) {
	attrs := []any{"type", a.Type, "severity", string(a.Severity)}
	for k, v := range a.Context {
		attrs = append(attrs, k, v)
	}

	level := slog.LevelInfo
	switch a.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, a.Message, attrs...)
}

// MetricsSink counts alerts in Prometheus.
type MetricsSink struct{}

// Emit implements Sink.
func (MetricsSink) Emit(ctx context.Context, a Alert) {
	metrics.Alerts.WithLabelValues(a.Type, string(a.Severity)).Inc()
}

// Fanout forwards every alert to each sink in order.
type Fanout []Sink

// Emit implements Sink.
func (f Fanout) Emit(ctx context.Context, a Alert) {
	for _, s := range f {
		s.Emit(ctx, a)
	}
}

// Recorder keeps emitted alerts in memory.
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

// Emit implements Sink.
func (r *Recorder) Emit(ctx context.Context, a Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

// Alerts returns a copy of everything recorded.
func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}

// OfType returns the recorded alerts with the given type.
func (r *Recorder) OfType(typ string) []Alert {
	var out []Alert
	for _, a := range r.Alerts() {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}
