package storage

import (
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGCSStorage_attrsToRecord(t *testing.T) {
	g := &GCSStorage{name: "blob", prefix: keyPrefix("backups"), role: "replica"}
	updated := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	rec, ok := g.attrsToRecord(&storage.ObjectAttrs{
		Name:    "backups/db.zip.enc",
		Size:    99,
		Etag:    "CJ7",
		Updated: updated,
	})
	require.True(t, ok, "archive rejected")
	assert.Equal(t, "db.zip.enc", rec.Key)
	assert.Equal(t, "db.zip.enc", rec.Name)
	assert.Equal(t, updated.Unix(), rec.Timestamp)
	assert.Equal(t, "blob", rec.Region)

	_, ok = g.attrsToRecord(&storage.ObjectAttrs{Name: "backups/db.sql"})
	assert.False(t, ok, "non-archive accepted")
}

func TestValidateServiceAccountJSON(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr bool
	}{
		{
			name:    "valid service account",
			json:    `{"type": "service_account", "project_id": "test"}`,
			wantErr: false,
		},
		{
			name:    "invalid type",
			json:    `{"type": "user", "project_id": "test"}`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			json:    `{invalid json}`,
			wantErr: true,
		},
		{
			name:    "empty json",
			json:    `{}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServiceAccountJSON(tt.json)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBackupRecord_Identifier(t *testing.T) {
	tests := []struct {
		name string
		rec  BackupRecord
		want string
	}{
		{name: "key wins", rec: BackupRecord{Key: "k", ID: "i", Name: "n"}, want: "k"},
		{name: "id when no key", rec: BackupRecord{ID: "i", Name: "n"}, want: "i"},
		{name: "name last", rec: BackupRecord{Name: "n"}, want: "n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.Identifier())
		})
	}

	a := BackupRecord{Timestamp: 1, Size: 2}
	b := BackupRecord{Timestamp: 1, Size: 2}
	c := BackupRecord{Timestamp: 3, Size: 2}
	assert.Equal(t, a.Identifier(), b.Identifier())
	assert.NotEqual(t, a.Identifier(), c.Identifier())
	assert.Len(t, a.Identifier(), 64)
}
