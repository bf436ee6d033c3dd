package backup

import (
	"sort"

	"github.com/hashicorp/go-version"

	"spese-desktop/internal/core"
)

// Classify splits backups into forward targets and history.
//
// Backups sharing a timestamp are copies of the same snapshot made by
// successive updates. Only the copy with the highest app version is carried
// forward and migrated; the older copies are history and travel unmodified.
func Classify(backups []core.Backup) (forward, history []core.Backup) {
	groups := make(map[string][]core.Backup)
	var order []string
	for _, b := range backups {
		if _, seen := groups[b.Timestamp]; !seen {
			order = append(order, b.Timestamp)
		}
		groups[b.Timestamp] = append(groups[b.Timestamp], b)
	}

	for _, ts := range order {
		group := groups[ts]
		sort.SliceStable(group, func(i, j int) bool {
			return versionLess(group[i].AppVersion, group[j].AppVersion)
		})
		last := len(group) - 1
		forward = append(forward, group[last])
		history = append(history, group[:last]...)
	}
	return forward, history
}

// versionLess orders semantic versions numerically and falls back to a
// string comparison for tags that do not parse.
func versionLess(a, b string) bool {
	va, errA := version.NewVersion(a)
	vb, errB := version.NewVersion(b)
	if errA == nil && errB == nil {
		return va.LessThan(vb)
	}
	return a < b
}
