// Package grid resolves logger hardware IDs to their physical grid cells.
// Loggers are periodically reshuffled across the study grid, so the same
// logger ID maps to different cells on different dates; the movement history
// makes the mapping piecewise-constant in time.
package grid

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ewyt/proximity-pipeline/internal/domain"
	"github.com/ewyt/proximity-pipeline/internal/pkg/logger"
)

var (
	// ErrUnknownLogger is returned when a logger has no recorded position at
	// or before the requested date.
	ErrUnknownLogger = errors.New("logger has no recorded position")

	// ErrAmbiguousHistory is returned in strict mode when two reshuffle
	// records share an effective date for the same logger.
	ErrAmbiguousHistory = errors.New("ambiguous movement history")
)

// Resolver answers (logger, date) -> grid cell queries against a full
// reshuffle history. It is immutable after construction and safe for
// concurrent use.
type Resolver struct {
	moves map[string][]domain.LoggerMove // per logger, sorted by effective date
}

// Options controls history construction.
type Options struct {
	// Strict rejects histories where two records share an effective date for
	// one logger. The default keeps the last record in input order and logs
	// the ambiguity, since it is a data-quality problem in the source sheet.
	Strict bool
}

// NewResolver builds a resolver from reshuffle records in input order.
func NewResolver(moves []domain.LoggerMove, opts Options) (*Resolver, error) {
	byLogger := make(map[string][]domain.LoggerMove)
	for _, m := range moves {
		mm := m
		mm.EffectiveFrom = DateOf(m.EffectiveFrom)
		byLogger[m.LoggerID] = append(byLogger[m.LoggerID], mm)
	}

	for id, ms := range byLogger {
		// Stable sort keeps input order for records sharing a date, so the
		// last one in input order wins resolution.
		sort.SliceStable(ms, func(i, j int) bool {
			return ms[i].EffectiveFrom.Before(ms[j].EffectiveFrom)
		})
		for i := 1; i < len(ms); i++ {
			if ms[i].EffectiveFrom.Equal(ms[i-1].EffectiveFrom) {
				if opts.Strict {
					return nil, fmt.Errorf("%w: logger %s has %d records effective %s",
						ErrAmbiguousHistory, id, 2, ms[i].EffectiveFrom.Format("2006-01-02"))
				}
				logger.Warn("duplicate reshuffle date, keeping last record in input order",
					"logger_id", id,
					"date", ms[i].EffectiveFrom.Format("2006-01-02"),
					"cell_kept", ms[i].GridCell,
					"cell_shadowed", ms[i-1].GridCell)
			}
		}
		byLogger[id] = ms
	}

	return &Resolver{moves: byLogger}, nil
}

// Resolve returns the grid cell the logger occupied on the given date:
// the record with the latest effective date not exceeding it.
func (r *Resolver) Resolve(loggerID string, at time.Time) (string, error) {
	ms := r.moves[loggerID]
	if len(ms) == 0 {
		return "", fmt.Errorf("%w: %s", ErrUnknownLogger, loggerID)
	}

	date := DateOf(at)
	// First index with EffectiveFrom > date; the record before it wins.
	idx := sort.Search(len(ms), func(i int) bool {
		return ms[i].EffectiveFrom.After(date)
	})
	if idx == 0 {
		return "", fmt.Errorf("%w: %s before %s", ErrUnknownLogger,
			loggerID, ms[0].EffectiveFrom.Format("2006-01-02"))
	}

	// Equal-date records are stably ordered, so idx-1 is the last in input
	// order for that date.
	return ms[idx-1].GridCell, nil
}

// Known reports whether the history contains any record for the logger.
func (r *Resolver) Known(loggerID string) bool {
	return len(r.moves[loggerID]) > 0
}

// Loggers returns the distinct logger IDs present in the history, sorted.
func (r *Resolver) Loggers() []string {
	ids := make([]string, 0, len(r.moves))
	for id := range r.moves {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DateOf truncates a timestamp to its calendar date in UTC. Reshuffles are
// recorded at day granularity; triggers carry full timestamps.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
