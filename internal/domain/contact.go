package domain

import "time"

// ContactType classifies a contact by the species of the two animals.
type ContactType string

const (
	ContactWithinSpecies  ContactType = "within_species"
	ContactBetweenSpecies ContactType = "between_species"
)

// ContactTypeOf returns the contact type for a pair of species.
func ContactTypeOf(speciesA, speciesB string) ContactType {
	if speciesA == speciesB {
		return ContactWithinSpecies
	}
	return ContactBetweenSpecies
}

// ContactEvent is an inferred period of co-presence between two animals at
// one location. AnimalA sorts strictly before AnimalB, so the symmetric pair
// appears exactly once. Location is the resolved grid cell when a movement
// history was supplied, otherwise the raw logger hardware ID.
type ContactEvent struct {
	ID       string      `json:"id,omitempty" db:"id"`
	AnimalA  string      `json:"animal_a" db:"animal_a"`
	SpeciesA string      `json:"species_a,omitempty" db:"species_a"`
	SexA     Sex         `json:"sex_a,omitempty" db:"sex_a"`
	AnimalB  string      `json:"animal_b" db:"animal_b"`
	SpeciesB string      `json:"species_b,omitempty" db:"species_b"`
	SexB     Sex         `json:"sex_b,omitempty" db:"sex_b"`
	Location string      `json:"location" db:"location"`
	Start    time.Time   `json:"start_time" db:"start_time"`
	End      time.Time   `json:"end_time" db:"end_time"`
	Type     ContactType `json:"contact_type" db:"contact_type"`
}

// Duration returns the span of the event. Zero for a single-instant contact.
func (e ContactEvent) Duration() time.Duration { return e.End.Sub(e.Start) }

// OrderPair returns the two animal IDs in canonical order (lexicographic).
// Every place that keys or stores a pair goes through this function, so the
// same two animals can never produce both (a,b) and (b,a).
func OrderPair(x, y string) (string, string) {
	if x <= y {
		return x, y
	}
	return y, x
}
