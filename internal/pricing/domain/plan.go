package pricing

import "time"

// Closure sets the end date of an existing version.
type Closure struct {
	VersionID   string
	EffectiveTo time.Time
}

// UpdatePlan describes the writes needed to open a version at a date while
// keeping the usable versions of a key pairwise disjoint.
type UpdatePlan struct {
	Close       []Closure
	Supersede   []string
	EffectiveTo *time.Time
}

// Merged reports whether a same-day version is being replaced.
func (p UpdatePlan) Merged() bool { return len(p.Supersede) > 0 }

// PlanUpdate computes the plan for opening a new version of one key at from.
//
// Usable versions starting before from that still cover it are closed the day
// before from. A version starting on from is superseded rather than closed, so
// no zero-length predecessor is created. When versions already start after
// from, the new version ends the day before the earliest of them; when it
// replaces or truncates a bounded version it inherits that bound.
func PlanUpdate(existing []Version, from time.Time) UpdatePlan {
	from = Day(from)
	var plan UpdatePlan
	var end *time.Time
	tighten := func(candidate time.Time) {
		candidate = Day(candidate)
		if end == nil || candidate.Before(*end) {
			c := candidate
			end = &c
		}
	}

	for _, v := range existing {
		if !v.Usable() {
			continue
		}
		start := Day(v.EffectiveFrom)
		switch {
		case start.Equal(from):
			plan.Supersede = append(plan.Supersede, v.ID)
			if v.EffectiveTo != nil {
				tighten(*v.EffectiveTo)
			}
		case start.Before(from):
			if !v.Covers(from) {
				continue
			}
			plan.Close = append(plan.Close, Closure{VersionID: v.ID, EffectiveTo: PreviousDay(from)})
			if v.EffectiveTo != nil {
				tighten(*v.EffectiveTo)
			}
		default:
			tighten(PreviousDay(start))
		}
	}
	plan.EffectiveTo = end
	return plan
}
