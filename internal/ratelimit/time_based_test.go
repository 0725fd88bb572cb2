package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imedwei/offsite-vault/internal/clock"
	"github.com/imedwei/offsite-vault/internal/storage"
	"github.com/imedwei/offsite-vault/internal/storage/storagetest"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestTimeBasedLimiter_ShouldUpload(t *testing.T) {
	tests := []struct {
		name           string
		config         Config
		lastUpload     time.Time
		wantAllow      bool
		wantReasonPart string
	}{
		{
			name:           "no previous archive",
			config:         Config{MinInterval: 6 * time.Hour},
			lastUpload:     time.Time{},
			wantAllow:      true,
			wantReasonPart: "no previous archive",
		},
		{
			name:           "forced upload",
			config:         Config{MinInterval: 6 * time.Hour, Force: true},
			lastUpload:     now.Add(-1 * time.Hour),
			wantAllow:      true,
			wantReasonPart: "forced upload",
		},
		{
			name:           "upload too recent",
			config:         Config{MinInterval: 6 * time.Hour},
			lastUpload:     now.Add(-2 * time.Hour),
			wantAllow:      false,
			wantReasonPart: "next upload allowed in 4.0 hours",
		},
		{
			name:           "upload allowed after interval",
			config:         Config{MinInterval: 6 * time.Hour},
			lastUpload:     now.Add(-7 * time.Hour),
			wantAllow:      true,
			wantReasonPart: "stored 7.0 hours ago",
		},
		{
			name:           "zero interval",
			config:         Config{},
			lastUpload:     now.Add(-time.Second),
			wantAllow:      true,
			wantReasonPart: "last archive was stored",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := NewTimeBasedLimiter(tt.config, clock.NewFixed(now))
			gotAllow, gotReason := limiter.ShouldUpload(tt.lastUpload)

			assert.Equal(t, tt.wantAllow, gotAllow)
			assert.Contains(t, gotReason, tt.wantReasonPart)
		})
	}
}

func TestTimeBasedLimiter_MinInterval(t *testing.T) {
	config := Config{
		MinInterval: 8 * time.Hour,
	}
	limiter := NewTimeBasedLimiter(config, nil)

	assert.Equal(t, config.MinInterval, limiter.MinInterval())
}

func TestLastUpload(t *testing.T) {
	ctx := context.Background()

	store := storagetest.NewMemory("east")
	got, err := LastUpload(ctx, store, "")
	require.NoError(t, err)
	assert.True(t, got.IsZero(), "empty store gave %v", got)

	store.Seed(
		storage.BackupRecord{Key: "backup-2024-05-01T12-00-00-000Z.zip", Timestamp: now.AddDate(0, -1, 0).Unix()},
		storage.BackupRecord{Key: "backup-2024-05-31T12-00-00-000Z.zip", Timestamp: now.AddDate(0, 0, -1).Unix()},
		storage.BackupRecord{Key: "notes.txt", Timestamp: now.Unix()},
	)
	got, err = LastUpload(ctx, store, "")
	require.NoError(t, err)
	assert.True(t, got.Equal(now.AddDate(0, 0, -1)), "got %v", got)

	store.FailList(errors.New("denied"))
	_, err = LastUpload(ctx, store, "")
	assert.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		want     string
	}{
		{30 * time.Second, "30 seconds"},
		{90 * time.Second, "2 minutes"},
		{45 * time.Minute, "45 minutes"},
		{90 * time.Minute, "1.5 hours"},
		{25 * time.Hour, "25.0 hours"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatDuration(tt.duration))
		})
	}
}
