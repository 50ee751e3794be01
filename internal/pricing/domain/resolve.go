package pricing

import (
	"sort"
	"time"
)

// Match is the outcome of picking the version that applies on a day.
type Match struct {
	Version    Version
	Found      bool
	Candidates []Version
}

// Overlap reports whether more than one usable version covered the day.
func (m Match) Overlap() bool { return len(m.Candidates) > 1 }

// Pick selects the usable version covering day. When several versions cover
// the same day the latest EffectiveFrom wins; ties fall back to the most
// recently created row, then the id, so the choice is deterministic.
func Pick(versions []Version, day time.Time) Match {
	day = Day(day)
	var candidates []Version
	for _, v := range versions {
		if !v.Usable() || !v.Covers(day) {
			continue
		}
		candidates = append(candidates, v)
	}
	if len(candidates) == 0 {
		return Match{}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.EffectiveFrom.Equal(b.EffectiveFrom) {
			return a.EffectiveFrom.After(b.EffectiveFrom)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return Match{Version: candidates[0], Found: true, Candidates: candidates}
}

// FindOverlaps returns every pair of usable versions whose intervals intersect.
func FindOverlaps(versions []Version) [][2]Version {
	usable := make([]Version, 0, len(versions))
	for _, v := range versions {
		if v.Usable() {
			usable = append(usable, v)
		}
	}
	var pairs [][2]Version
	for i := 0; i < len(usable); i++ {
		for j := i + 1; j < len(usable); j++ {
			if usable[i].Key != usable[j].Key {
				continue
			}
			if usable[i].Overlaps(usable[j]) {
				pairs = append(pairs, [2]Version{usable[i], usable[j]})
			}
		}
	}
	return pairs
}
