package forms

import (
	"strings"

	"github.com/google/uuid"
)

// FoldName normalizes an activity name for dedup: trimmed, lower-cased.
// Empty names fold to "" and occupy one bucket like any other name.
func FoldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// MaxOrder returns the highest order value among the activities, or 0 when
// the slice is empty.
func MaxOrder(activities []Activity) int {
	max := 0
	for i := range activities {
		if activities[i].Order > max {
			max = activities[i].Order
		}
	}
	return max
}

// Merge computes the template activities to append to an existing set.
// Prototypes whose folded name already exists are skipped; the rest are
// deep-copied, given fresh identities, and ordered after the existing
// maximum. Only the copies are returned — an empty result means the caller
// has nothing to persist.
func Merge(existing, source []Activity) []Activity {
	seen := make(map[string]bool, len(existing))
	for i := range existing {
		seen[FoldName(existing[i].Name)] = true
	}

	base := MaxOrder(existing)

	var added []Activity
	for i := range source {
		key := FoldName(source[i].Name)
		if seen[key] {
			continue
		}
		seen[key] = true

		cp := source[i].Clone()
		cp.ID = uuid.New()
		cp.Order = base + len(added) + 1
		added = append(added, cp)
	}
	return added
}
