package alert

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imedwei/offsite-vault/internal/metrics"
)

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	NewLogSink(logger).Emit(context.Background(), Alert{
		Type:     TypeReplicaDegraded,
		Severity: SeverityCritical,
		Message:  "Replica upload failed",
		Context:  map[string]any{"region": "eu-west-1"},
	})

	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "type=replica_degraded")
	assert.Contains(t, out, "region=eu-west-1")
}

func TestFanoutAndRecorder(t *testing.T) {
	first, second := &Recorder{}, &Recorder{}
	sink := Fanout{first, second, MetricsSink{}}

	before := counterValue(t, metrics.Alerts.WithLabelValues(TypeSLABreach, string(SeverityWarning)))
	sink.Emit(context.Background(), Alert{Type: TypeSLABreach, Severity: SeverityWarning})
	sink.Emit(context.Background(), Alert{Type: TypeLatencyBudgetExceeded, Severity: SeverityWarning})

	assert.Len(t, first.Alerts(), 2)
	assert.Len(t, second.OfType(TypeSLABreach), 1)
	assert.Equal(t, before+1, counterValue(t, metrics.Alerts.WithLabelValues(TypeSLABreach, string(SeverityWarning))))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
