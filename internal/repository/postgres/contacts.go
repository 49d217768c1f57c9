package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ewyt/proximity-pipeline/internal/domain"
	"github.com/google/uuid"
)

// ContactRepo stores the Contact table.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed contact repository.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

// ReplaceAll atomically replaces the contact table with the given events,
// assigning row IDs to events that don't carry one.
func (r *ContactRepo) ReplaceAll(ctx context.Context, events []domain.ContactEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace contacts: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM contact_events`); err != nil {
		return fmt.Errorf("clear contacts: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO contact_events
			(id, animal_a, species_a, sex_a, animal_b, species_b, sex_b,
			 location, start_time, end_time, contact_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`)
	if err != nil {
		return fmt.Errorf("prepare contact insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		id := e.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx,
			id, e.AnimalA, e.SpeciesA, string(e.SexA),
			e.AnimalB, e.SpeciesB, string(e.SexB),
			e.Location, e.Start, e.End, string(e.Type),
		); err != nil {
			return fmt.Errorf("insert contact %s/%s: %w", e.AnimalA, e.AnimalB, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit contacts: %w", err)
	}
	return nil
}

// ContactFilter narrows List results. Animal matches either side of the pair.
type ContactFilter struct {
	Animal   string
	Location string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// List returns contact events in the canonical output order.
func (r *ContactRepo) List(ctx context.Context, f ContactFilter) ([]domain.ContactEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 10000
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, animal_a, species_a, sex_a, animal_b, species_b, sex_b,
		       location, start_time, end_time, contact_type
		FROM contact_events
		WHERE ($1 = '' OR animal_a = $1 OR animal_b = $1)
		  AND ($2 = '' OR location = $2)
		  AND ($3::timestamptz IS NULL OR start_time >= $3)
		  AND ($4::timestamptz IS NULL OR end_time <= $4)
		ORDER BY start_time, animal_a, animal_b, location
		LIMIT $5 OFFSET $6
	`, f.Animal, f.Location, nullTime(f.From), nullTime(f.To), limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []domain.ContactEvent
	for rows.Next() {
		var e domain.ContactEvent
		var sexA, sexB, ctype string
		if err := rows.Scan(&e.ID, &e.AnimalA, &e.SpeciesA, &sexA,
			&e.AnimalB, &e.SpeciesB, &sexB,
			&e.Location, &e.Start, &e.End, &ctype); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		e.SexA, e.SexB = domain.Sex(sexA), domain.Sex(sexB)
		e.Type = domain.ContactType(ctype)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the contact table size.
func (r *ContactRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contact_events`).Scan(&n)
	return n, err
}

// PairCounts returns the number of events per animal pair, most frequent
// first, for the summary endpoint.
func (r *ContactRepo) PairCounts(ctx context.Context, limit int) (map[string]int, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT animal_a || '/' || animal_b AS pair, COUNT(*)
		FROM contact_events
		GROUP BY pair
		ORDER BY COUNT(*) DESC, pair
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("pair counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var pair string
		var n int
		if err := rows.Scan(&pair, &n); err != nil {
			return nil, fmt.Errorf("scan pair count: %w", err)
		}
		out[pair] = n
	}
	return out, rows.Err()
}

// TypeCounts returns the number of events per contact type.
func (r *ContactRepo) TypeCounts(ctx context.Context) (map[domain.ContactType]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT contact_type, COUNT(*)
		FROM contact_events
		GROUP BY contact_type
	`)
	if err != nil {
		return nil, fmt.Errorf("type counts: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.ContactType]int)
	for rows.Next() {
		var ct string
		var n int
		if err := rows.Scan(&ct, &n); err != nil {
			return nil, fmt.Errorf("scan type count: %w", err)
		}
		out[domain.ContactType(ct)] = n
	}
	return out, rows.Err()
}
