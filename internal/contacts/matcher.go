package contacts

import (
	"sort"
	"time"

	"github.com/ewyt/proximity-pipeline/internal/domain"
)

// candidate is one pairwise co-presence interval at a location: animal a and
// animal b (canonically ordered) were both sensed there, with their trigger
// timestamps at most the contact window apart.
type candidate struct {
	a, b     string
	location string
	start    time.Time
	end      time.Time
}

// matchLocation scans the triggers recorded at one location and emits every
// candidate pairing. Triggers must all share the location; they are sorted
// here so callers can hand over raw per-location groups.
//
// A sliding active set holds each animal's most recent trigger time. An
// animal stays pairable until maxGap after its trigger; a new trigger for X
// pairs X with every other active animal, spanning from that animal's last
// trigger to now. X pairing with itself is impossible, so repeated triggers
// by a lone animal never produce a contact.
func matchLocation(location string, triggers []domain.Trigger, maxGap time.Duration) []candidate {
	// Time order, with animal ID as tie-break so equal-timestamp runs are
	// processed identically on every run.
	sort.SliceStable(triggers, func(i, j int) bool {
		if !triggers[i].Time.Equal(triggers[j].Time) {
			return triggers[i].Time.Before(triggers[j].Time)
		}
		return triggers[i].AnimalID < triggers[j].AnimalID
	})

	active := make(map[string]time.Time)
	var out []candidate

	for _, tr := range triggers {
		for other, last := range active {
			if other == tr.AnimalID {
				continue
			}
			if tr.Time.Sub(last) > maxGap {
				// Fell out of the window; drop it so the set stays small.
				delete(active, other)
				continue
			}
			a, b := domain.OrderPair(tr.AnimalID, other)
			start, end := last, tr.Time
			if start.After(end) {
				start, end = end, start
			}
			out = append(out, candidate{a: a, b: b, location: location, start: start, end: end})
		}
		active[tr.AnimalID] = tr.Time
	}

	return out
}
