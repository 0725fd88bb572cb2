// Package retention decides which backup archives fall outside the retention
// policy and removes them from a store.
package retention

import (
	"slices"
	"time"

	"github.com/imedwei/offsite-vault/internal/storage"
)

const secondsPerDay = 86400

// Policy limits how many archives are kept and for how long. A zero field
// disables that rule.
type Policy struct {
	RetainByCount   int
	RetainByAgeDays int
}

// Enabled reports whether either rule is active.
func (p Policy) Enabled() bool {
	return p.RetainByCount > 0 || p.RetainByAgeDays > 0
}

// SelectForDeletion returns the records that violate policy at now. The age
// rule and the count rule are evaluated independently and their matches are
// unioned. Each record appears at most once, keyed by Identifier, in input
// order. With both rules disabled nothing is selected.
func SelectForDeletion(records []storage.BackupRecord, policy Policy, now time.Time) []storage.BackupRecord {
	if !policy.Enabled() || len(records) == 0 {
		return nil
	}

	selected := make(map[string]bool)

	if policy.RetainByAgeDays > 0 {
		maxAge := int64(policy.RetainByAgeDays) * secondsPerDay
		nowUnix := now.Unix()
		for _, rec := range records {
			if rec.Timestamp > 0 && nowUnix-rec.Timestamp > maxAge {
				selected[rec.Identifier()] = true
			}
		}
	}

	if policy.RetainByCount > 0 && len(records) > policy.RetainByCount {
		sorted := slices.Clone(records)
		slices.SortStableFunc(sorted, func(a, b storage.BackupRecord) int {
			switch {
			case a.Timestamp > b.Timestamp:
				return -1
			case a.Timestamp < b.Timestamp:
				return 1
			default:
				return 0
			}
		})
		for _, rec := range sorted[policy.RetainByCount:] {
			selected[rec.Identifier()] = true
		}
	}

	var out []storage.BackupRecord
	seen := make(map[string]bool, len(selected))
	for _, rec := range records {
		id := rec.Identifier()
		if selected[id] && !seen[id] {
			seen[id] = true
			out = append(out, rec)
		}
	}
	return out
}
