// Package utils provides utility functions for the vault service.
package utils

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

// archivePattern matches archive base names: ".zip" optionally followed by
// one compression or encryption suffix, case-insensitive.
var archivePattern = regexp.MustCompile(`(?i)^.+\.zip(\.[a-z0-9]+)?$`)

// IsArchive reports whether the base name of key looks like a backup archive.
func IsArchive(key string) bool {
	return archivePattern.MatchString(path.Base(key))
}

// GenerateArchiveName creates a timestamped archive name.
func GenerateArchiveName(prefix string, timestamp time.Time) string {
	// Format: prefix-2006-01-02T15-04-05-000Z.zip
	// Using dashes instead of colons for better filesystem compatibility
	t := timestamp.UTC()
	ms := t.Nanosecond() / 1000000
	timeStr := fmt.Sprintf("%s-%03dZ", t.Format("2006-01-02T15-04-05"), ms)

	if prefix != "" {
		// Ensure prefix doesn't end with dash
		prefix = strings.TrimSuffix(prefix, "-")
		return fmt.Sprintf("%s-%s.zip", prefix, timeStr)
	}

	return fmt.Sprintf("backup-%s.zip", timeStr)
}

// ParseArchiveTimestamp extracts the timestamp from an archive name produced
// by GenerateArchiveName. Any directory part and trailing suffix after ".zip"
// are ignored.
func ParseArchiveTimestamp(filename string) (time.Time, error) {
	name := path.Base(filename)

	idx := strings.LastIndex(strings.ToLower(name), ".zip")
	if idx < 0 {
		return time.Time{}, fmt.Errorf("not an archive name: %s", filename)
	}
	name = name[:idx]

	// Find the timestamp part (last 24 characters: 2006-01-02T15-04-05-000Z)
	if len(name) < 24 {
		return time.Time{}, fmt.Errorf("filename too short to contain timestamp")
	}

	timeStr := name[len(name)-24:]
	if !strings.HasSuffix(timeStr, "Z") || timeStr[19] != '-' {
		return time.Time{}, fmt.Errorf("invalid timestamp format")
	}

	datePart := timeStr[:19] // 2006-01-02T15-04-05
	msPart := timeStr[20:23] // 000

	var ms int
	if _, err := fmt.Sscanf(msPart, "%03d", &ms); err != nil {
		return time.Time{}, fmt.Errorf("invalid milliseconds: %w", err)
	}

	t, err := time.Parse("2006-01-02T15-04-05", datePart)
	if err != nil {
		return time.Time{}, err
	}

	return t.Add(time.Duration(ms) * time.Millisecond).UTC(), nil
}
