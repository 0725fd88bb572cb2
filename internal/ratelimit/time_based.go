package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/imedwei/offsite-vault/internal/clock"
	"github.com/imedwei/offsite-vault/internal/metrics"
	"github.com/imedwei/offsite-vault/internal/storage"
)

// TimeBasedLimiter implements RateLimiter with a minimum interval.
type TimeBasedLimiter struct {
	config Config
	clock  clock.Clock
}

// NewTimeBasedLimiter creates a new time-based rate limiter. A nil clock
// uses the system clock.
func NewTimeBasedLimiter(config Config, clk clock.Clock) *TimeBasedLimiter {
	if clk == nil {
		clk = clock.System{}
	}
	return &TimeBasedLimiter{
		config: config,
		clock:  clk,
	}
}

// ShouldUpload implements RateLimiter.
func (t *TimeBasedLimiter) ShouldUpload(lastUpload time.Time) (bool, string) {
	if t.config.Force {
		return true, "forced upload requested"
	}

	if lastUpload.IsZero() {
		return true, "no previous archive found"
	}

	sinceLast := t.clock.Now().Sub(lastUpload)
	if sinceLast < t.config.MinInterval {
		metrics.RateLimitBlocked.Inc()
		return false, fmt.Sprintf(
			"last archive was stored %s ago, next upload allowed in %s",
			formatDuration(sinceLast),
			formatDuration(t.config.MinInterval-sinceLast),
		)
	}

	return true, fmt.Sprintf("last archive was stored %s ago", formatDuration(sinceLast))
}

// MinInterval implements RateLimiter.
func (t *TimeBasedLimiter) MinInterval() time.Duration {
	return t.config.MinInterval
}

// LastUpload returns the newest archive timestamp in store, or the zero time
// when the store holds no archives.
func LastUpload(ctx context.Context, store storage.Storage, prefix string) (time.Time, error) {
	var latest int64
	for rec, err := range store.List(ctx, prefix) {
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to list archives in %s: %w", store.Name(), err)
		}
		if rec.Timestamp > latest {
			latest = rec.Timestamp
		}
	}
	if latest == 0 {
		return time.Time{}, nil
	}
	return time.Unix(latest, 0).UTC(), nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0f minutes", d.Minutes())
	}
	return fmt.Sprintf("%.1f hours", d.Hours())
}
