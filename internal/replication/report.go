package replication

import (
	"fmt"
	"strings"
	"time"
)

// Status is the outcome of one region within an upload attempt.
type Status string

const (
	StatusPending Status = "pending"
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// ReportStatus summarizes a whole upload.
type ReportStatus string

const (
	ReportHealthy  ReportStatus = "healthy"
	ReportDegraded ReportStatus = "degraded"
	ReportFailed   ReportStatus = "failed"
)

// ReplicaOutcome records what happened to one region.
type ReplicaOutcome struct {
	Region    string `json:"region"`
	Status    Status `json:"status"`
	LatencyMs *int64 `json:"latency_ms,omitempty"`
	Message   string `json:"message,omitempty"`
}

// DeliveryReport is the frozen result of one upload attempt.
type DeliveryReport struct {
	VersionID string                    `json:"version_id"`
	ObjectKey string                    `json:"object_key"`
	TaskID    string                    `json:"task_id,omitempty"`
	Regions   []string                  `json:"regions"` // attempt order, primary first
	Outcomes  map[string]ReplicaOutcome `json:"outcomes"`

	// AvailableCopies counts ok and skipped outcomes. A skipped region was
	// delivered by an earlier attempt of the same version, so a retry whose
	// attempted regions all fail again is degraded, not failed.
	AvailableCopies int          `json:"available_copies"`
	ExpectedCopies  int          `json:"expected_copies"`
	Errors          []string     `json:"errors,omitempty"`
	StartedAt       time.Time    `json:"started_at"`
	CompletedAt     time.Time    `json:"completed_at"`
	Status          ReportStatus `json:"status"`
	PendingRegions  []string     `json:"pending_regions,omitempty"`
}

// Duration returns the wall time of the upload.
func (r *DeliveryReport) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// FailedRegions returns the regions whose outcome is error, in attempt order.
func (r *DeliveryReport) FailedRegions() []string {
	var out []string
	for _, region := range r.Regions {
		if r.Outcomes[region].Status == StatusError {
			out = append(out, region)
		}
	}
	return out
}

// VersionRecord is one entry of the rolling upload history.
type VersionRecord struct {
	ObjectKey string                    `json:"object_key"`
	VersionID string                    `json:"version_id"`
	Timestamp time.Time                 `json:"timestamp"`
	Regions   map[string]ReplicaOutcome `json:"regions"`
}

// ResumeContext lists the regions that still need a version after a partial
// failure.
type ResumeContext struct {
	VersionID      string    `json:"version_id"`
	ObjectKey      string    `json:"object_key"`
	TaskID         string    `json:"task_id,omitempty"`
	PendingRegions []string  `json:"pending_regions"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UploadError is returned when no region holds a copy after an upload.
type UploadError struct {
	Report *DeliveryReport
}

func (e *UploadError) Error() string {
	if len(e.Report.Errors) == 0 {
		return fmt.Sprintf("upload of %s failed: no replica succeeded", e.Report.ObjectKey)
	}
	return fmt.Sprintf("upload of %s failed: %s", e.Report.ObjectKey, strings.Join(e.Report.Errors, "; "))
}

// evaluateStatus maps copy counts onto a report status.
func evaluateStatus(available, expected int) ReportStatus {
	switch {
	case available == 0:
		return ReportFailed
	case available >= expected:
		return ReportHealthy
	default:
		return ReportDegraded
	}
}
