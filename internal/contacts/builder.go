package contacts

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ewyt/proximity-pipeline/internal/domain"
	"github.com/ewyt/proximity-pipeline/internal/grid"
	"github.com/ewyt/proximity-pipeline/internal/pkg/logger"
)

var (
	// ErrInvalidThreshold is returned before any processing when the
	// max-contact window is not positive.
	ErrInvalidThreshold = errors.New("max contact time must be positive")

	// ErrNoTriggers is returned when the trigger table is empty; an empty
	// input is an unrecoverable run error, not a valid empty result.
	ErrNoTriggers = errors.New("trigger table is empty")
)

// Options configures a Builder.
type Options struct {
	// Resolver maps logger IDs to grid cells. Nil groups contacts by the
	// raw logger hardware ID instead.
	Resolver *grid.Resolver
	// Workers bounds the per-location parallel fan-out. Values below 2 run
	// the matcher sequentially. Parallelism is safe because locations share
	// no triggers; output order is fixed by the final global sort.
	Workers int
}

// Report summarizes one build run for the diagnostic stream and the CLI.
type Report struct {
	TriggersSeen    int      `json:"triggers_seen"`
	TriggersDropped int      `json:"triggers_dropped"` // malformed records
	TriggersSkipped int      `json:"triggers_skipped"` // unresolvable logger position
	SkippedLoggers  []string `json:"skipped_loggers,omitempty"`
	Events          int      `json:"events"`
}

// Builder derives the Contact table from a trigger table. Each run is a full
// recomputation; outputs are newly constructed and inputs never mutated, so
// re-running with identical inputs reproduces identical output.
type Builder struct {
	maxGap   time.Duration
	resolver *grid.Resolver
	workers  int
}

// NewBuilder validates the threshold and returns a Builder.
func NewBuilder(maxGap time.Duration, opts Options) (*Builder, error) {
	if maxGap <= 0 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidThreshold, maxGap)
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Builder{maxGap: maxGap, resolver: opts.Resolver, workers: workers}, nil
}

// Build runs the full inference over the trigger table and returns the
// contact events in canonical order plus a run report. Malformed triggers
// and triggers at unresolvable loggers are skipped with a warning; only an
// empty input aborts the run.
func (b *Builder) Build(triggers []domain.Trigger) ([]domain.ContactEvent, *Report, error) {
	if len(triggers) == 0 {
		return nil, nil, ErrNoTriggers
	}

	report := &Report{TriggersSeen: len(triggers)}

	// Partition by physical location, resolving logger positions per
	// trigger date: a logger reshuffled mid-deployment contributes to both
	// of its cells.
	byLocation := make(map[string][]domain.Trigger)
	skippedLoggers := make(map[string]bool)
	meta := make(map[string]domain.Trigger)

	for i, tr := range triggers {
		if err := tr.Validate(); err != nil {
			report.TriggersDropped++
			logger.Warn("dropping malformed trigger",
				"record_index", i,
				"animal_id", tr.AnimalID,
				"logger_id", tr.LoggerID)
			continue
		}

		location := tr.LoggerID
		if b.resolver != nil {
			cell, err := b.resolver.Resolve(tr.LoggerID, tr.Time)
			if err != nil {
				report.TriggersSkipped++
				if !skippedLoggers[tr.LoggerID] {
					skippedLoggers[tr.LoggerID] = true
					report.SkippedLoggers = append(report.SkippedLoggers, tr.LoggerID)
				}
				logger.Warn("skipping trigger at unresolvable logger position",
					"logger_id", tr.LoggerID,
					"date", tr.Time.Format("2006-01-02"),
					"record_index", i)
				continue
			}
			location = cell
		}

		byLocation[location] = append(byLocation[location], tr)
		if _, ok := meta[tr.AnimalID]; !ok && tr.Species != "" {
			meta[tr.AnimalID] = tr
		}
	}

	cands := b.matchAll(byLocation)
	events := mergeCandidates(cands, b.maxGap)
	b.enrich(events, meta)
	report.Events = len(events)

	logger.Info("contact build complete",
		"triggers", report.TriggersSeen,
		"dropped", report.TriggersDropped,
		"skipped", report.TriggersSkipped,
		"locations", len(byLocation),
		"events", report.Events)

	return events, report, nil
}

// matchAll runs the per-location matcher, fanning out across workers when
// configured. Candidate order is irrelevant: the merger re-sorts per group
// and the final output is globally sorted.
func (b *Builder) matchAll(byLocation map[string][]domain.Trigger) []candidate {
	if b.workers < 2 || len(byLocation) < 2 {
		var out []candidate
		for location, trs := range byLocation {
			out = append(out, matchLocation(location, trs, b.maxGap)...)
		}
		return out
	}

	type job struct {
		location string
		triggers []domain.Trigger
	}
	jobs := make(chan job)
	results := make(chan []candidate)

	var wg sync.WaitGroup
	for w := 0; w < b.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- matchLocation(j.location, j.triggers, b.maxGap)
			}
		}()
	}
	go func() {
		for location, trs := range byLocation {
			jobs <- job{location: location, triggers: trs}
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	var out []candidate
	for cs := range results {
		out = append(out, cs...)
	}
	return out
}

// enrich fills species, sex and contact type from the animals' trigger
// metadata. Events for animals with no metadata keep empty fields and an
// unclassified type is still derivable from the IDs later.
func (b *Builder) enrich(events []domain.ContactEvent, meta map[string]domain.Trigger) {
	for i := range events {
		if m, ok := meta[events[i].AnimalA]; ok {
			events[i].SpeciesA = m.Species
			events[i].SexA = m.Sex
		}
		if m, ok := meta[events[i].AnimalB]; ok {
			events[i].SpeciesB = m.Species
			events[i].SexB = m.Sex
		}
		events[i].Type = domain.ContactTypeOf(events[i].SpeciesA, events[i].SpeciesB)
	}
}
