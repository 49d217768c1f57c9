package domain

import (
	"errors"
	"time"
)

// ErrMalformedTrigger is returned when a trigger record fails basic shape
// validation. Malformed records are dropped with a warning; they never abort
// a batch.
var ErrMalformedTrigger = errors.New("malformed trigger record")

// Sex enumerates the recorded sex of a tagged animal.
type Sex string

const (
	SexFemale  Sex = "F"
	SexMale    Sex = "M"
	SexUnknown Sex = "U"
)

// Animal is one tagged individual on the study grid. An animal can carry up
// to four PIT tags over its trapping history; any of them identifies it.
type Animal struct {
	ID      string   `json:"id" db:"id"`
	Species string   `json:"species" db:"species"`
	Sex     Sex      `json:"sex" db:"sex"`
	Tags    []string `json:"tags" db:"-"`
}

// Trigger is a single detection: one tagged animal sensed by one logger at
// one instant. Triggers are created once by extraction and never mutated.
type Trigger struct {
	AnimalID string    `json:"animal_id" db:"animal_id"`
	Species  string    `json:"species,omitempty" db:"species"`
	Sex      Sex       `json:"sex,omitempty" db:"sex"`
	LoggerID string    `json:"logger_id" db:"logger_id"`
	Time     time.Time `json:"time" db:"time"`
}

// Validate reports ErrMalformedTrigger if a required field is missing.
func (t Trigger) Validate() error {
	if t.AnimalID == "" || t.LoggerID == "" || t.Time.IsZero() {
		return ErrMalformedTrigger
	}
	return nil
}

// LoggerMove is one reshuffle record: from EffectiveFrom onward the logger
// occupies the given grid cell, until a later record supersedes it.
type LoggerMove struct {
	LoggerID      string    `json:"logger_id" db:"logger_id"`
	GridCell      string    `json:"grid_cell" db:"grid_cell"`
	EffectiveFrom time.Time `json:"effective_from" db:"effective_from"`
}
