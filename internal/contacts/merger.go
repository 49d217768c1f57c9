package contacts

import (
	"sort"
	"time"

	"github.com/ewyt/proximity-pipeline/internal/domain"
)

// mergeCandidates collapses candidate intervals into maximal contact events
// and returns them in the canonical output order.
func mergeCandidates(cands []candidate, maxGap time.Duration) []domain.ContactEvent {
	events := make([]domain.ContactEvent, 0, len(cands))
	for _, c := range cands {
		events = append(events, domain.ContactEvent{
			AnimalA:  c.a,
			AnimalB:  c.b,
			Location: c.location,
			Start:    c.start,
			End:      c.end,
		})
	}
	return MergeEvents(events, maxGap)
}

// MergeEvents merges contact events for the same animal pair and location
// whenever they overlap or the gap between them is at most maxGap. The
// result is maximal (no two adjacent output events could merge further under
// the same threshold), non-overlapping per pair and location, and sorted by
// start time with the pair ordering and location as tie-breaks.
//
// Merging is idempotent: applying it to its own output returns the output
// unchanged.
func MergeEvents(events []domain.ContactEvent, maxGap time.Duration) []domain.ContactEvent {
	if len(events) == 0 {
		return nil
	}

	type groupKey struct {
		a, b, location string
	}
	groups := make(map[groupKey][]domain.ContactEvent)
	for _, e := range events {
		k := groupKey{e.AnimalA, e.AnimalB, e.Location}
		groups[k] = append(groups[k], e)
	}

	var out []domain.ContactEvent
	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			if !group[i].Start.Equal(group[j].Start) {
				return group[i].Start.Before(group[j].Start)
			}
			return group[i].End.Before(group[j].End)
		})

		cur := group[0]
		for _, e := range group[1:] {
			// Inclusive threshold: a gap of exactly maxGap still merges.
			if e.Start.Sub(cur.End) <= maxGap {
				if e.End.After(cur.End) {
					cur.End = e.End
				}
				continue
			}
			out = append(out, cur)
			cur = e
		}
		out = append(out, cur)
	}

	SortEvents(out)
	return out
}

// SortEvents puts contact events into the canonical deterministic order:
// start time, then pair, then location.
func SortEvents(events []domain.ContactEvent) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		if events[i].AnimalA != events[j].AnimalA {
			return events[i].AnimalA < events[j].AnimalA
		}
		if events[i].AnimalB != events[j].AnimalB {
			return events[i].AnimalB < events[j].AnimalB
		}
		return events[i].Location < events[j].Location
	})
}
