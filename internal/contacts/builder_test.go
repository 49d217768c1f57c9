package contacts

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ewyt/proximity-pipeline/internal/domain"
	"github.com/ewyt/proximity-pipeline/internal/grid"
)

var base = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

func at(min float64) time.Time {
	return base.Add(time.Duration(min * float64(time.Minute)))
}

func trig(animal, logger string, min float64) domain.Trigger {
	return domain.Trigger{AnimalID: animal, LoggerID: logger, Time: at(min)}
}

func mustBuilder(t *testing.T, maxGap time.Duration, opts Options) *Builder {
	t.Helper()
	b, err := NewBuilder(maxGap, opts)
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	return b
}

func TestNewBuilder_InvalidThreshold(t *testing.T) {
	for _, gap := range []time.Duration{0, -time.Minute} {
		if _, err := NewBuilder(gap, Options{}); !errors.Is(err, ErrInvalidThreshold) {
			t.Errorf("NewBuilder(%v) error = %v, want ErrInvalidThreshold", gap, err)
		}
	}
}

func TestBuild_EmptyInput(t *testing.T) {
	b := mustBuilder(t, 5*time.Minute, Options{})
	if _, _, err := b.Build(nil); !errors.Is(err, ErrNoTriggers) {
		t.Errorf("Build(nil) error = %v, want ErrNoTriggers", err)
	}
}

func TestBuild_SingleContact(t *testing.T) {
	// A and B meet at L1 within the window; A's later solo trigger starts
	// nothing because nobody else is active by then.
	b := mustBuilder(t, 5*time.Minute, Options{})
	events, report, err := b.Build([]domain.Trigger{
		trig("A", "L1", 0),
		trig("B", "L1", 2),
		trig("A", "L1", 10),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Build() produced %d events, want 1", len(events))
	}
	e := events[0]
	if e.AnimalA != "A" || e.AnimalB != "B" || e.Location != "L1" {
		t.Errorf("event = %s/%s at %s, want A/B at L1", e.AnimalA, e.AnimalB, e.Location)
	}
	if !e.Start.Equal(at(0)) || !e.End.Equal(at(2)) {
		t.Errorf("event spans [%v, %v], want [%v, %v]", e.Start, e.End, at(0), at(2))
	}
	if report.Events != 1 || report.TriggersSeen != 3 {
		t.Errorf("report = %+v, want 3 seen / 1 event", report)
	}
}

func TestBuild_GapExceedsWindow(t *testing.T) {
	b := mustBuilder(t, 5*time.Minute, Options{})
	events, _, err := b.Build([]domain.Trigger{
		trig("A", "L1", 0),
		trig("B", "L1", 6),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Build() produced %d events, want 0 (gap exceeds window)", len(events))
	}
}

func TestBuild_NoSelfContact(t *testing.T) {
	b := mustBuilder(t, 5*time.Minute, Options{})
	events, _, err := b.Build([]domain.Trigger{
		trig("A", "L1", 0),
		trig("A", "L1", 1),
		trig("A", "L1", 2),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Build() produced %d events for a lone animal, want 0", len(events))
	}
}

func TestBuild_DifferentLoggersNeverPair(t *testing.T) {
	b := mustBuilder(t, 5*time.Minute, Options{})
	events, _, err := b.Build([]domain.Trigger{
		trig("A", "L1", 0),
		trig("B", "L2", 1),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Build() produced %d events across loggers, want 0", len(events))
	}
}

func TestBuild_AdjacentContactsMergeIntoOneEvent(t *testing.T) {
	// A and B keep re-triggering within the window: one maximal event
	// spanning first to last pairing.
	b := mustBuilder(t, 5*time.Minute, Options{})
	events, _, err := b.Build([]domain.Trigger{
		trig("A", "L1", 0),
		trig("B", "L1", 3),
		trig("A", "L1", 6),
		trig("B", "L1", 9),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Build() produced %d events, want 1 merged", len(events))
	}
	if !events[0].Start.Equal(at(0)) || !events[0].End.Equal(at(9)) {
		t.Errorf("merged event spans [%v, %v], want [%v, %v]",
			events[0].Start, events[0].End, at(0), at(9))
	}
}

func TestBuild_DuplicateTriggersTolerated(t *testing.T) {
	b := mustBuilder(t, 5*time.Minute, Options{})
	clean, _, err := b.Build([]domain.Trigger{
		trig("A", "L1", 0),
		trig("B", "L1", 2),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	dup, _, err := b.Build([]domain.Trigger{
		trig("A", "L1", 0),
		trig("A", "L1", 0),
		trig("B", "L1", 2),
		trig("B", "L1", 2),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !reflect.DeepEqual(clean, dup) {
		t.Errorf("duplicated input changed output:\nclean = %+v\ndup   = %+v", clean, dup)
	}
}

func TestBuild_MalformedTriggerDroppedNotFatal(t *testing.T) {
	b := mustBuilder(t, 5*time.Minute, Options{})
	events, report, err := b.Build([]domain.Trigger{
		trig("A", "L1", 0),
		{AnimalID: "X", LoggerID: "L1"}, // zero timestamp
		trig("B", "L1", 2),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if report.TriggersDropped != 1 {
		t.Errorf("report.TriggersDropped = %d, want 1", report.TriggersDropped)
	}
	if len(events) != 1 {
		t.Errorf("Build() produced %d events, want 1 after dropping malformed record", len(events))
	}
}

func TestBuild_PairOrderingCanonical(t *testing.T) {
	b := mustBuilder(t, 5*time.Minute, Options{})
	events, _, err := b.Build([]domain.Trigger{
		trig("zulu", "L1", 0),
		trig("alpha", "L1", 1),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Build() produced %d events, want 1", len(events))
	}
	if events[0].AnimalA != "alpha" || events[0].AnimalB != "zulu" {
		t.Errorf("pair = (%s, %s), want (alpha, zulu)", events[0].AnimalA, events[0].AnimalB)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	triggers := []domain.Trigger{
		trig("A", "L1", 0), trig("B", "L1", 1), trig("C", "L1", 2),
		trig("A", "L2", 0), trig("D", "L2", 3),
		trig("B", "L1", 7), trig("C", "L1", 7),
		trig("E", "L3", 1), trig("F", "L3", 1),
	}

	for _, workers := range []int{1, 4} {
		b := mustBuilder(t, 5*time.Minute, Options{Workers: workers})
		first, _, err := b.Build(triggers)
		if err != nil {
			t.Fatalf("Build(workers=%d) error = %v", workers, err)
		}
		for run := 0; run < 5; run++ {
			again, _, err := b.Build(triggers)
			if err != nil {
				t.Fatalf("Build(workers=%d) error = %v", workers, err)
			}
			if !reflect.DeepEqual(first, again) {
				t.Fatalf("workers=%d run %d produced different output", workers, run)
			}
		}
	}

	// Sequential and parallel agree.
	seq, _, _ := mustBuilder(t, 5*time.Minute, Options{Workers: 1}).Build(triggers)
	par, _, _ := mustBuilder(t, 5*time.Minute, Options{Workers: 4}).Build(triggers)
	if !reflect.DeepEqual(seq, par) {
		t.Error("sequential and parallel builds disagree")
	}
}

func TestBuild_OutputInvariants(t *testing.T) {
	triggers := []domain.Trigger{
		trig("A", "L1", 0), trig("B", "L1", 2), trig("A", "L1", 4),
		trig("B", "L1", 12), trig("A", "L1", 13),
		trig("C", "L1", 30), trig("A", "L1", 31),
		trig("C", "L2", 5), trig("D", "L2", 6),
	}
	maxGap := 5 * time.Minute
	b := mustBuilder(t, maxGap, Options{})
	events, _, err := b.Build(triggers)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(events) == 0 {
		t.Fatal("expected events")
	}

	type key struct{ a, b, loc string }
	byPair := make(map[key][]domain.ContactEvent)
	for _, e := range events {
		if e.AnimalA == e.AnimalB {
			t.Errorf("self-contact emitted: %+v", e)
		}
		if e.AnimalA > e.AnimalB {
			t.Errorf("pair not canonically ordered: %+v", e)
		}
		if e.End.Before(e.Start) {
			t.Errorf("end before start: %+v", e)
		}
		byPair[key{e.AnimalA, e.AnimalB, e.Location}] = append(
			byPair[key{e.AnimalA, e.AnimalB, e.Location}], e)
	}

	// Events for one pair and location must neither overlap nor sit within
	// the merge window of each other.
	for k, group := range byPair {
		for i := 1; i < len(group); i++ {
			gap := group[i].Start.Sub(group[i-1].End)
			if gap <= maxGap {
				t.Errorf("pair %v: events %d and %d separated by %v, should have merged",
					k, i-1, i, gap)
			}
		}
	}
}

func TestBuild_ResolverGroupsByCell(t *testing.T) {
	// L1 moves from cell A1 to cell B2 on day 10. L2 sits in A1 throughout.
	// Before the reshuffle the two loggers share a cell, so their triggers
	// pair; afterwards they don't.
	day := func(d int) time.Time {
		return time.Date(2024, time.March, d, 12, 0, 0, 0, time.UTC)
	}
	resolver, err := grid.NewResolver([]domain.LoggerMove{
		{LoggerID: "L1", GridCell: "A1", EffectiveFrom: day(1)},
		{LoggerID: "L2", GridCell: "A1", EffectiveFrom: day(1)},
		{LoggerID: "L1", GridCell: "B2", EffectiveFrom: day(10)},
	}, grid.Options{})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}

	b := mustBuilder(t, 5*time.Minute, Options{Resolver: resolver})
	events, _, err := b.Build([]domain.Trigger{
		{AnimalID: "A", LoggerID: "L1", Time: day(5)},
		{AnimalID: "B", LoggerID: "L2", Time: day(5).Add(time.Minute)},
		{AnimalID: "A", LoggerID: "L1", Time: day(15)},
		{AnimalID: "B", LoggerID: "L2", Time: day(15).Add(time.Minute)},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Build() produced %d events, want 1 (pre-reshuffle only)", len(events))
	}
	if events[0].Location != "A1" {
		t.Errorf("event location = %q, want resolved cell A1", events[0].Location)
	}
	if !events[0].Start.Equal(day(5)) {
		t.Errorf("event start = %v, want %v", events[0].Start, day(5))
	}
}

func TestBuild_UnresolvableLoggerSkippedWithReport(t *testing.T) {
	resolver, err := grid.NewResolver([]domain.LoggerMove{
		{LoggerID: "L1", GridCell: "A1", EffectiveFrom: base},
	}, grid.Options{})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}

	b := mustBuilder(t, 5*time.Minute, Options{Resolver: resolver})
	events, report, err := b.Build([]domain.Trigger{
		trig("A", "L1", 0),
		trig("B", "L1", 2),
		trig("C", "L9", 1), // no movement record: localized skip, not fatal
		trig("D", "L9", 2),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if report.TriggersSkipped != 2 {
		t.Errorf("report.TriggersSkipped = %d, want 2", report.TriggersSkipped)
	}
	if len(report.SkippedLoggers) != 1 || report.SkippedLoggers[0] != "L9" {
		t.Errorf("report.SkippedLoggers = %v, want [L9]", report.SkippedLoggers)
	}
	if len(events) != 1 {
		t.Errorf("Build() produced %d events, want 1 from the resolvable logger", len(events))
	}
}

func TestBuild_SpeciesEnrichment(t *testing.T) {
	b := mustBuilder(t, 5*time.Minute, Options{})
	events, _, err := b.Build([]domain.Trigger{
		{AnimalID: "A", Species: "A. sylvaticus", Sex: domain.SexFemale, LoggerID: "L1", Time: at(0)},
		{AnimalID: "B", Species: "M. glareolus", Sex: domain.SexMale, LoggerID: "L1", Time: at(1)},
		{AnimalID: "C", Species: "A. sylvaticus", Sex: domain.SexMale, LoggerID: "L2", Time: at(0)},
		{AnimalID: "D", Species: "A. sylvaticus", Sex: domain.SexUnknown, LoggerID: "L2", Time: at(1)},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Build() produced %d events, want 2", len(events))
	}
	for _, e := range events {
		switch e.Location {
		case "L1":
			if e.Type != domain.ContactBetweenSpecies {
				t.Errorf("L1 contact type = %q, want between_species", e.Type)
			}
			if e.SpeciesA != "A. sylvaticus" || e.SexA != domain.SexFemale {
				t.Errorf("L1 animal A metadata = %q/%q", e.SpeciesA, e.SexA)
			}
		case "L2":
			if e.Type != domain.ContactWithinSpecies {
				t.Errorf("L2 contact type = %q, want within_species", e.Type)
			}
		default:
			t.Errorf("unexpected location %q", e.Location)
		}
	}
}
