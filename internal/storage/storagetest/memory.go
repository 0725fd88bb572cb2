// Package storagetest provides an in-memory Storage for tests.
package storagetest

import (
	"context"
	"iter"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/imedwei/offsite-vault/internal/storage"
	"github.com/imedwei/offsite-vault/internal/utils"
)

// Memory is a Storage holding objects in a map. Failures can be injected per
// operation and key.
type Memory struct {
	mu        sync.Mutex
	name      string
	records   map[string]storage.BackupRecord
	bodies    map[string][]byte
	deleted   []string
	putErr    error
	listErr   error
	deleteErr map[string]error
}

// NewMemory creates an empty store named name.
func NewMemory(name string) *Memory {
	return &Memory{
		name:      name,
		records:   make(map[string]storage.BackupRecord),
		bodies:    make(map[string][]byte),
		deleteErr: make(map[string]error),
	}
}

// Seed adds records without bodies.
func (m *Memory) Seed(records ...storage.BackupRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if r.Region == "" {
			r.Region = m.name
		}
		m.records[r.Key] = r
	}
}

// FailPut makes every Put return err.
func (m *Memory) FailPut(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putErr = err
}

// FailList makes every List yield err.
func (m *Memory) FailList(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// FailDelete makes deleting key return err.
func (m *Memory) FailDelete(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr[key] = err
}

// Name implements storage.Storage.
func (m *Memory) Name() string {
	return m.name
}

// Put implements storage.Storage.
func (m *Memory) Put(ctx context.Context, key string, body []byte, headers map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.bodies[key] = append([]byte(nil), body...)
	rec := storage.BackupRecord{Key: key, Name: path.Base(key), Size: int64(len(body)), Region: m.name}
	if t, err := utils.ParseArchiveTimestamp(key); err == nil {
		rec.Timestamp = t.Unix()
	}
	m.records[key] = rec
	return nil
}

// Delete implements storage.Storage.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.deleteErr[key]; err != nil {
		return err
	}
	delete(m.records, key)
	delete(m.bodies, key)
	m.deleted = append(m.deleted, key)
	return nil
}

// List implements storage.Storage. Records are yielded in key order.
func (m *Memory) List(ctx context.Context, prefix string) iter.Seq2[storage.BackupRecord, error] {
	m.mu.Lock()
	listErr := m.listErr
	var records []storage.BackupRecord
	for key, rec := range m.records {
		if strings.HasPrefix(key, prefix) && utils.IsArchive(key) {
			records = append(records, rec)
		}
	}
	m.mu.Unlock()

	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })

	return func(yield func(storage.BackupRecord, error) bool) {
		if listErr != nil {
			yield(storage.BackupRecord{}, listErr)
			return
		}
		for _, rec := range records {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Keys returns the stored keys in order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Body returns the stored body of key.
func (m *Memory) Body(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bodies[key]
	return b, ok
}

// Deleted returns the keys removed so far, in order.
func (m *Memory) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}
