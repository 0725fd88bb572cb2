package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imedwei/offsite-vault/internal/clock"
	"github.com/imedwei/offsite-vault/internal/config"
	"github.com/imedwei/offsite-vault/internal/replication"
	"github.com/imedwei/offsite-vault/internal/settings"
	"github.com/imedwei/offsite-vault/internal/storage"
	"github.com/imedwei/offsite-vault/internal/storage/storagetest"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	app  *App
	east *storagetest.Memory
	west *storagetest.Memory
	clk  *clock.Fixed
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := &config.Config{
		Vault: config.VaultConfig{
			Primary:  "east",
			Replicas: []string{"west"},
		},
		RespawnProtectionHours: 6,
		FilePrefix:             "backup",
	}
	if mutate != nil {
		mutate(cfg)
	}

	f := &fixture{
		east: storagetest.NewMemory("east"),
		west: storagetest.NewMemory("west"),
		clk:  clock.NewFixed(testNow),
	}
	a, err := NewWithTargets(cfg, []storage.Storage{f.east, f.west}, settings.NewMemoryStore(), f.clk, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	f.app = a
	return f
}

func writeArchive(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestUploadFile(t *testing.T) {
	f := newFixture(t, nil)
	path := writeArchive(t, "site.zip", "archive-bytes")

	res, err := f.app.UploadFile(context.Background(), path, "task-7")
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.NotNil(t, res.Report)

	const key = "backup-2024-06-01T12-00-00-000Z.zip"
	assert.Equal(t, key, res.Report.ObjectKey)
	assert.Equal(t, "task-7", res.Report.TaskID)
	assert.Equal(t, replication.ReportHealthy, res.Report.Status)
	assert.Equal(t, []string{key}, f.east.Keys())
	assert.Equal(t, []string{key}, f.west.Keys())

	body, ok := f.west.Body(key)
	require.True(t, ok)
	assert.Equal(t, "archive-bytes", string(body))
}

func TestUploadFile_RespawnProtection(t *testing.T) {
	recent := storage.BackupRecord{
		Key:       "backup-2024-06-01T10-00-00-000Z.zip",
		Timestamp: testNow.Add(-2 * time.Hour).Unix(),
	}

	t.Run("skips recent", func(t *testing.T) {
		f := newFixture(t, nil)
		f.east.Seed(recent)

		res, err := f.app.UploadFile(context.Background(), writeArchive(t, "site.zip", "x"), "")
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Contains(t, res.Reason, "next upload allowed in")
		assert.Empty(t, f.west.Keys())
	})

	t.Run("force overrides", func(t *testing.T) {
		f := newFixture(t, func(c *config.Config) { c.ForceUpload = true })
		f.east.Seed(recent)

		res, err := f.app.UploadFile(context.Background(), writeArchive(t, "site.zip", "x"), "")
		require.NoError(t, err)
		assert.False(t, res.Skipped)
		assert.Len(t, f.west.Keys(), 1)
	})

	t.Run("list failure proceeds", func(t *testing.T) {
		f := newFixture(t, nil)
		f.east.FailList(errors.New("denied"))

		res, err := f.app.UploadFile(context.Background(), writeArchive(t, "site.zip", "x"), "")
		require.NoError(t, err)
		assert.False(t, res.Skipped)
	})
}

func TestUploadFile_Errors(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.app.UploadFile(context.Background(), filepath.Join(t.TempDir(), "missing.zip"), "")
	assert.Error(t, err)

	_, err = f.app.UploadFile(context.Background(), t.TempDir(), "")
	assert.Error(t, err)

	f.east.FailPut(errors.New("offline"))
	f.west.FailPut(errors.New("offline"))
	res, err := f.app.UploadFile(context.Background(), writeArchive(t, "site.zip", "x"), "")
	require.Error(t, err)
	var uploadErr *replication.UploadError
	assert.ErrorAs(t, err, &uploadErr)
	require.NotNil(t, res)
	assert.Equal(t, replication.ReportFailed, res.Report.Status)
}

func TestResume(t *testing.T) {
	f := newFixture(t, nil)
	path := writeArchive(t, "backup-2024-06-01T09-00-00-000Z.zip", "x")

	f.west.FailPut(errors.New("offline"))
	res, err := f.app.UploadFile(context.Background(), path, "")
	require.NoError(t, err)
	require.Equal(t, replication.ReportDegraded, res.Report.Status)
	assert.Equal(t, "backup-2024-06-01T09-00-00-000Z.zip", res.Report.ObjectKey)

	f.west.FailPut(nil)
	report, err := f.app.Resume(context.Background(), res.Report.VersionID, path)
	require.NoError(t, err)
	assert.Equal(t, replication.ReportHealthy, report.Status)
	assert.Equal(t, replication.StatusSkipped, report.Outcomes["east"].Status)

	_, contexts, err := f.app.Status(context.Background())
	require.NoError(t, err)
	assert.Empty(t, contexts)
}

func TestListPruneStatus(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Retention.KeepCount = 1 })
	ctx := context.Background()

	_, _, err := f.app.Status(ctx)
	assert.ErrorIs(t, err, ErrNoStatus)

	for _, s := range []*storagetest.Memory{f.east, f.west} {
		s.Seed(
			storage.BackupRecord{Key: "backup-2024-05-01T12-00-00-000Z.zip", Timestamp: testNow.AddDate(0, -1, 0).Unix()},
			storage.BackupRecord{Key: "backup-2024-05-02T12-00-00-000Z.zip", Timestamp: testNow.AddDate(0, -1, 1).Unix()},
			storage.BackupRecord{Key: "other-2024-05-02T12-00-00-000Z.zip", Timestamp: testNow.AddDate(0, -1, 1).Unix()},
		)
	}

	records, err := f.app.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, records, 2, "only archives under the file prefix")

	_, err = f.app.List(ctx, "north")
	assert.Error(t, err)

	results, err := f.app.Prune(ctx, "west")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"backup-2024-05-01T12-00-00-000Z.zip"}, f.west.Deleted())
	assert.Empty(t, f.east.Deleted())

	results, err = f.app.Prune(ctx, "")
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, []string{"backup-2024-05-01T12-00-00-000Z.zip"}, f.east.Deleted())

	_, err = f.app.UploadFile(ctx, writeArchive(t, "site.zip", "x"), "")
	require.NoError(t, err)
	report, _, err := f.app.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, replication.ReportHealthy, report.Status)
}

func TestArchiveKey(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		prefix string
		want   string
	}{
		{"timestamped archive kept", "site-2024-05-31T08-30-00-000Z.zip", "backup", "site-2024-05-31T08-30-00-000Z.zip"},
		{"encrypted archive kept", "site-2024-05-31T08-30-00-000Z.zip.enc", "backup", "site-2024-05-31T08-30-00-000Z.zip.enc"},
		{"plain zip renamed", "site.zip", "backup", "backup-2024-06-01T12-00-00-000Z.zip"},
		{"other file renamed", "dump.sql", "nightly-", "nightly-2024-06-01T12-00-00-000Z.zip"},
		{"empty prefix", "dump.sql", "", "backup-2024-06-01T12-00-00-000Z.zip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ArchiveKey(tt.file, tt.prefix, testNow))
		})
	}
}

func TestReplicationConfig(t *testing.T) {
	cfg := &config.Config{
		Vault: config.VaultConfig{
			Primary:        "east",
			Replicas:       []string{"west"},
			ExpectedCopies: 2,
			LatencyBudget:  time.Second,
			Parallelism:    2,
		},
		Retention:  config.RetentionConfig{KeepCount: 3, KeepDays: 30, ImmutabilityDays: 7},
		FilePrefix: "site",
	}

	rc := ReplicationConfig(cfg)
	assert.Equal(t, "east", rc.Primary)
	assert.Equal(t, 3, rc.Retention.RetainByCount)
	assert.Equal(t, 30, rc.Retention.RetainByAgeDays)
	assert.Equal(t, 7, rc.ImmutabilityDays)
	assert.Equal(t, "site", rc.Prefix)
	assert.Equal(t, 2, rc.Parallelism)
}
