// Package ratelimit provides respawn protection for uploads.
package ratelimit

import (
	"time"
)

// RateLimiter controls how often a new archive may be uploaded.
type RateLimiter interface {
	// ShouldUpload reports whether an upload may proceed given the time of
	// the last stored archive. The reason is human-readable in both cases.
	ShouldUpload(lastUpload time.Time) (bool, string)

	// MinInterval returns the minimum time between uploads.
	MinInterval() time.Duration
}

// Config holds configuration for rate limiting.
type Config struct {
	// MinInterval is the minimum time between uploads.
	MinInterval time.Duration

	// Force overrides rate limiting when true.
	Force bool
}
