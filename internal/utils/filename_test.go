package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateArchiveName(t *testing.T) {
	timestamp := time.Date(2025, 1, 21, 10, 30, 45, 123000000, time.UTC)

	tests := []struct {
		name   string
		prefix string
		want   string
	}{
		{
			name:   "with prefix",
			prefix: "site",
			want:   "site-2025-01-21T10-30-45-123Z.zip",
		},
		{
			name:   "without prefix",
			prefix: "",
			want:   "backup-2025-01-21T10-30-45-123Z.zip",
		},
		{
			name:   "prefix with trailing dash",
			prefix: "site-",
			want:   "site-2025-01-21T10-30-45-123Z.zip",
		},
		{
			name:   "complex prefix",
			prefix: "my-shop-backup",
			want:   "my-shop-backup-2025-01-21T10-30-45-123Z.zip",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GenerateArchiveName(tt.prefix, timestamp))
		})
	}
}

func TestParseArchiveTimestamp(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     time.Time
		wantErr  bool
	}{
		{
			name:     "valid with prefix",
			filename: "site-2025-01-21T10-30-45-123Z.zip",
			want:     time.Date(2025, 1, 21, 10, 30, 45, 123000000, time.UTC),
		},
		{
			name:     "valid with directory and suffix",
			filename: "backups/site-2025-01-21T10-30-45-123Z.zip.enc",
			want:     time.Date(2025, 1, 21, 10, 30, 45, 123000000, time.UTC),
		},
		{
			name:     "upper case extension",
			filename: "backup-2025-01-21T10-30-45-000Z.ZIP",
			want:     time.Date(2025, 1, 21, 10, 30, 45, 0, time.UTC),
		},
		{
			name:     "too short",
			filename: "backup.zip",
			wantErr:  true,
		},
		{
			name:     "invalid timestamp",
			filename: "backup-invalid-timestamp-here.zip",
			wantErr:  true,
		},
		{
			name:     "not an archive",
			filename: "notes-2025-01-21T10-30-45-123Z.txt",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArchiveTimestamp(tt.filename)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}

func TestIsArchive(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"backup.zip", true},
		{"site/2024/backup.zip", true},
		{"backup.ZIP", true},
		{"backup.zip.gz", true},
		{"backup.zip.enc", true},
		{"backup.Zip.Crypt", true},
		{"backup.tar.gz", false},
		{"backup.zip.part.1", false},
		{"zip", false},
		{".zip", false},
		{"backups/", false},
		{"backup.zipx", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, IsArchive(tt.key))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	prefixes := []string{"", "backup", "shop-db", "my-app"}

	for _, prefix := range prefixes {
		t.Run("prefix="+prefix, func(t *testing.T) {
			original := time.Now().UTC().Truncate(time.Millisecond)
			filename := GenerateArchiveName(prefix, original)

			parsed, err := ParseArchiveTimestamp(filename)
			require.NoError(t, err)
			assert.True(t, parsed.Equal(original), "original=%v, parsed=%v", original, parsed)
		})
	}
}

func TestGenerateArchiveName_Format(t *testing.T) {
	filename := GenerateArchiveName("test", time.Now())

	assert.True(t, IsArchive(filename), filename)
	assert.NotContains(t, filename, ":")
	assert.Regexp(t, `^test-`, filename)
}
