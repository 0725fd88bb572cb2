package retention

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/imedwei/offsite-vault/internal/storage"
)

var now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func aged(key string, days int) storage.BackupRecord {
	return storage.BackupRecord{
		Key:       key,
		Timestamp: now.Add(-time.Duration(days) * 24 * time.Hour).Unix(),
	}
}

func keys(records []storage.BackupRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Key)
	}
	return out
}

func fiveRecords() []storage.BackupRecord {
	return []storage.BackupRecord{
		aged("d10", 10),
		aged("d20", 20),
		aged("d30", 30),
		aged("d40", 40),
		aged("d50", 50),
	}
}

func TestSelectForDeletion_AgeRule(t *testing.T) {
	got := SelectForDeletion(fiveRecords(), Policy{RetainByAgeDays: 25}, now)
	assert.Equal(t, []string{"d30", "d40", "d50"}, keys(got))
}

func TestSelectForDeletion_CountRule(t *testing.T) {
	records := []storage.BackupRecord{
		aged("d30", 30),
		aged("d10", 10),
		aged("d50", 50),
		aged("d20", 20),
		aged("d40", 40),
	}

	got := SelectForDeletion(records, Policy{RetainByCount: 2}, now)

	// Input order is preserved; the two newest survive.
	assert.Equal(t, []string{"d30", "d50", "d40"}, keys(got))
}

func TestSelectForDeletion_Union(t *testing.T) {
	// Age selects d40/d50, count selects d30/d40/d50; each appears once.
	got := SelectForDeletion(fiveRecords(), Policy{RetainByCount: 2, RetainByAgeDays: 35}, now)
	assert.Equal(t, []string{"d30", "d40", "d50"}, keys(got))

	// Count alone may select records the age rule keeps.
	got = SelectForDeletion(fiveRecords(), Policy{RetainByCount: 1, RetainByAgeDays: 45}, now)
	assert.Equal(t, []string{"d20", "d30", "d40", "d50"}, keys(got))
}

func TestSelectForDeletion_NoPolicyIsNoop(t *testing.T) {
	assert.Empty(t, SelectForDeletion(fiveRecords(), Policy{}, now))
	assert.Empty(t, SelectForDeletion(nil, Policy{RetainByCount: 1, RetainByAgeDays: 1}, now))
}

func TestSelectForDeletion_Idempotent(t *testing.T) {
	records := fiveRecords()
	policy := Policy{RetainByCount: 3, RetainByAgeDays: 15}

	first := SelectForDeletion(records, policy, now)
	second := SelectForDeletion(records, policy, now)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"d10", "d20", "d30", "d40", "d50"}, keys(fiveRecords()), "input must not be reordered")
}

func TestSelectForDeletion_EdgeCases(t *testing.T) {
	t.Run("exactly at the age limit is kept", func(t *testing.T) {
		got := SelectForDeletion([]storage.BackupRecord{aged("edge", 25)}, Policy{RetainByAgeDays: 25}, now)
		assert.Empty(t, got)
	})

	t.Run("zero timestamp is ignored by the age rule", func(t *testing.T) {
		got := SelectForDeletion([]storage.BackupRecord{{Key: "unknown"}}, Policy{RetainByAgeDays: 1}, now)
		assert.Empty(t, got)
	})

	t.Run("count not exceeded", func(t *testing.T) {
		got := SelectForDeletion(fiveRecords(), Policy{RetainByCount: 5}, now)
		assert.Empty(t, got)
	})

	t.Run("equal timestamps keep input order", func(t *testing.T) {
		ts := now.Add(-time.Hour).Unix()
		records := []storage.BackupRecord{
			{Key: "first", Timestamp: ts},
			{Key: "second", Timestamp: ts},
			{Key: "third", Timestamp: ts},
		}
		got := SelectForDeletion(records, Policy{RetainByCount: 1}, now)
		assert.Equal(t, []string{"second", "third"}, keys(got))
	})

	t.Run("duplicates collapse by identifier", func(t *testing.T) {
		records := []storage.BackupRecord{aged("dup", 40), aged("dup", 40), aged("new", 1)}
		got := SelectForDeletion(records, Policy{RetainByAgeDays: 30}, now)
		assert.Equal(t, []string{"dup"}, keys(got))
	})

	t.Run("identifier falls back to id and name", func(t *testing.T) {
		records := []storage.BackupRecord{
			{ID: "id-1", Timestamp: aged("", 40).Timestamp},
			{Name: "name-1", Timestamp: aged("", 40).Timestamp},
		}
		got := SelectForDeletion(records, Policy{RetainByAgeDays: 30}, now)
		assert.Len(t, got, 2)
	})
}

func BenchmarkSelectForDeletion(b *testing.B) {
	records := make([]storage.BackupRecord, 1000)
	for i := range records {
		records[i] = aged(fmt.Sprintf("r%04d", i), i%90)
	}
	policy := Policy{RetainByCount: 30, RetainByAgeDays: 60}

	for b.Loop() {
		SelectForDeletion(records, policy, now)
	}
}
