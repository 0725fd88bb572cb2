package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imedwei/offsite-vault/internal/clock"
	"github.com/imedwei/offsite-vault/internal/health"
	"github.com/imedwei/offsite-vault/internal/replication"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeStatus struct {
	report   *replication.DeliveryReport
	contexts []replication.ResumeContext
	err      error
}

func (f fakeStatus) LastReport(ctx context.Context) (*replication.DeliveryReport, error) {
	return f.report, f.err
}

func (f fakeStatus) ResumeContexts(ctx context.Context) ([]replication.ResumeContext, error) {
	return f.contexts, f.err
}

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestServer_Routes(t *testing.T) {
	source := fakeStatus{
		report: &replication.DeliveryReport{
			VersionID:       "v1",
			Status:          replication.ReportDegraded,
			AvailableCopies: 1,
			ExpectedCopies:  2,
			CompletedAt:     now,
			PendingRegions:  []string{"west"},
		},
		contexts: []replication.ResumeContext{{VersionID: "v1", PendingRegions: []string{"west"}}},
	}
	checker := health.NewChecker(clock.NewFixed(now), nil)
	s := New(DefaultConfig(), checker, source, nil)
	s.RegisterHealthCheck("delivery", checker.DeliveryCheck(source, 0))

	t.Run("health reports degraded delivery", func(t *testing.T) {
		rr := serve(t, s, "/health")
		assert.Equal(t, http.StatusOK, rr.Code)

		var body struct {
			Status health.Status `json:"status"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, health.StatusDegraded, body.Status)
	})

	t.Run("status", func(t *testing.T) {
		rr := serve(t, s, "/status")
		require.Equal(t, http.StatusOK, rr.Code)

		var body statusResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		require.NotNil(t, body.LastReport)
		assert.Equal(t, "v1", body.LastReport.VersionID)
		assert.Equal(t, []string{"west"}, body.LastReport.PendingRegions)
		require.Len(t, body.ResumeContexts, 1)
	})

	t.Run("metrics", func(t *testing.T) {
		rr := serve(t, s, "/metrics")
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("readiness and liveness", func(t *testing.T) {
		assert.Equal(t, "ready\n", serve(t, s, "/ready").Body.String())
		assert.Equal(t, "alive\n", serve(t, s, "/live").Body.String())
	})
}

func TestServer_StatusErrors(t *testing.T) {
	s := New(DefaultConfig(), nil, fakeStatus{err: errors.New("store closed")}, nil)

	rr := serve(t, s, "/status")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestServer_StatusEmpty(t *testing.T) {
	s := New(DefaultConfig(), nil, fakeStatus{}, nil)

	rr := serve(t, s, "/status")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"last_report":null,"resume_contexts":[]}`, rr.Body.String())
}

func TestServer_NoStatusSource(t *testing.T) {
	s := New(DefaultConfig(), nil, nil, nil)

	rr := serve(t, s, "/status")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
