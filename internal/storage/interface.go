// Package storage defines the remote object store used for backup archives
// and its implementations.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"iter"
	"strings"
	"time"
)

// Storage defines the operations every replica target supports.
type Storage interface {
	// Name identifies the target, usually its region.
	Name() string

	// Put stores body under key.
	Put(ctx context.Context, key string, body []byte, headers map[string]string) error

	// Delete removes key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error

	// List lazily enumerates archives under prefix. A listing error is
	// yielded once and ends the sequence.
	List(ctx context.Context, prefix string) iter.Seq2[BackupRecord, error]
}

// BackupRecord describes one archive found by listing. Stores do not
// guarantee any ordering.
type BackupRecord struct {
	ID        string
	Key       string
	Name      string
	Timestamp int64 // unix seconds
	Size      int64
	Region    string
	Role      string
}

// Identifier returns the first non-empty of Key, ID and Name, falling back
// to a hash of the record contents.
func (r BackupRecord) Identifier() string {
	for _, v := range []string{r.Key, r.ID, r.Name} {
		if v != "" {
			return v
		}
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%d|%s|%s", r.Timestamp, r.Size, r.Region, r.Role)))
	return hex.EncodeToString(sum[:])
}

// Time returns the record timestamp as a time.Time.
func (r BackupRecord) Time() time.Time {
	return time.Unix(r.Timestamp, 0).UTC()
}

// ObjectInfo contains information about a single stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
	Metadata     map[string]string
}

// Collect drains a listing. Any error discards the records gathered so far.
func Collect(seq iter.Seq2[BackupRecord, error]) ([]BackupRecord, error) {
	var records []BackupRecord
	for rec, err := range seq {
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// keyPrefix joins a configured object prefix onto keys.
type keyPrefix string

// full returns key under the prefix. An empty key yields the prefix itself
// with a trailing slash, which is what listings need.
func (p keyPrefix) full(key string) string {
	base := strings.Trim(string(p), "/")
	key = strings.TrimPrefix(key, "/")
	if base == "" {
		return key
	}
	if key == "" {
		return base + "/"
	}
	return base + "/" + key
}

// strip removes the prefix from a stored key.
func (p keyPrefix) strip(key string) string {
	base := strings.Trim(string(p), "/")
	if base == "" {
		return key
	}
	return strings.TrimPrefix(key, base+"/")
}
