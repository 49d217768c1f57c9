package grid

import (
	"errors"
	"testing"
	"time"

	"github.com/ewyt/proximity-pipeline/internal/domain"
)

func day(d int) time.Time {
	return time.Date(2024, time.March, d, 0, 0, 0, 0, time.UTC)
}

func testHistory(t *testing.T, moves []domain.LoggerMove) *Resolver {
	t.Helper()
	r, err := NewResolver(moves, Options{})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	return r
}

func TestResolve_PicksLatestEffectiveDate(t *testing.T) {
	r := testHistory(t, []domain.LoggerMove{
		{LoggerID: "L041", GridCell: "C7", EffectiveFrom: day(1)},
		{LoggerID: "L041", GridCell: "D2", EffectiveFrom: day(10)},
	})

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"before reshuffle", day(5), "C7"},
		{"on reshuffle day", day(10), "D2"},
		{"after reshuffle", day(20), "D2"},
		{"first effective day", day(1), "C7"},
		{"mid-day timestamp resolves by date", day(10).Add(14 * time.Hour), "D2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve("L041", tt.at)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%v) = %q, want %q", tt.at, got, tt.want)
			}
		})
	}
}

func TestResolve_UnknownLogger(t *testing.T) {
	r := testHistory(t, []domain.LoggerMove{
		{LoggerID: "L041", GridCell: "C7", EffectiveFrom: day(10)},
	})

	if _, err := r.Resolve("L999", day(15)); !errors.Is(err, ErrUnknownLogger) {
		t.Errorf("Resolve(unknown logger) error = %v, want ErrUnknownLogger", err)
	}

	// Known logger but queried before its first record.
	if _, err := r.Resolve("L041", day(5)); !errors.Is(err, ErrUnknownLogger) {
		t.Errorf("Resolve(before first record) error = %v, want ErrUnknownLogger", err)
	}
}

func TestResolve_DuplicateDateLastInInputOrderWins(t *testing.T) {
	r := testHistory(t, []domain.LoggerMove{
		{LoggerID: "L041", GridCell: "C7", EffectiveFrom: day(10)},
		{LoggerID: "L041", GridCell: "E5", EffectiveFrom: day(10)},
	})

	got, err := r.Resolve("L041", day(12))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "E5" {
		t.Errorf("Resolve() = %q, want last record in input order %q", got, "E5")
	}
}

func TestNewResolver_StrictRejectsDuplicateDates(t *testing.T) {
	_, err := NewResolver([]domain.LoggerMove{
		{LoggerID: "L041", GridCell: "C7", EffectiveFrom: day(10)},
		{LoggerID: "L041", GridCell: "E5", EffectiveFrom: day(10)},
	}, Options{Strict: true})

	if !errors.Is(err, ErrAmbiguousHistory) {
		t.Errorf("NewResolver(strict) error = %v, want ErrAmbiguousHistory", err)
	}
}

func TestResolver_Known(t *testing.T) {
	r := testHistory(t, []domain.LoggerMove{
		{LoggerID: "L041", GridCell: "C7", EffectiveFrom: day(1)},
	})
	if !r.Known("L041") {
		t.Error("Known(L041) = false, want true")
	}
	if r.Known("L999") {
		t.Error("Known(L999) = true, want false")
	}
}

func TestResolve_LoggersSwappedBetweenCells(t *testing.T) {
	// Two loggers trade cells on day 10; each must resolve independently.
	r := testHistory(t, []domain.LoggerMove{
		{LoggerID: "L1", GridCell: "A1", EffectiveFrom: day(1)},
		{LoggerID: "L2", GridCell: "B2", EffectiveFrom: day(1)},
		{LoggerID: "L1", GridCell: "B2", EffectiveFrom: day(10)},
		{LoggerID: "L2", GridCell: "A1", EffectiveFrom: day(10)},
	})

	for _, tt := range []struct {
		logger string
		at     time.Time
		want   string
	}{
		{"L1", day(5), "A1"},
		{"L2", day(5), "B2"},
		{"L1", day(10), "B2"},
		{"L2", day(10), "A1"},
	} {
		got, err := r.Resolve(tt.logger, tt.at)
		if err != nil {
			t.Fatalf("Resolve(%s, %v) error = %v", tt.logger, tt.at, err)
		}
		if got != tt.want {
			t.Errorf("Resolve(%s, %v) = %q, want %q", tt.logger, tt.at, got, tt.want)
		}
	}
}
