// Package postgres persists the pipeline tables. Both output tables follow
// the same contract: a run replaces the whole table in one transaction, so
// re-running a stage with identical inputs leaves an identical table and a
// crashed run leaves the previous table intact.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ewyt/proximity-pipeline/internal/domain"
)

// TriggerRepo stores the Trigger table.
type TriggerRepo struct{ db *sql.DB }

// NewTriggerRepo creates a Postgres-backed trigger repository.
func NewTriggerRepo(db *sql.DB) *TriggerRepo { return &TriggerRepo{db: db} }

// ReplaceAll atomically replaces the trigger table with the given rows.
func (r *TriggerRepo) ReplaceAll(ctx context.Context, triggers []domain.Trigger) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace triggers: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM triggers`); err != nil {
		return fmt.Errorf("clear triggers: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO triggers (animal_id, species, sex, logger_id, time)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return fmt.Errorf("prepare trigger insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range triggers {
		if _, err := stmt.ExecContext(ctx, t.AnimalID, t.Species, string(t.Sex), t.LoggerID, t.Time); err != nil {
			return fmt.Errorf("insert trigger %s/%s: %w", t.AnimalID, t.LoggerID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit triggers: %w", err)
	}
	return nil
}

// TriggerFilter narrows List results. Zero values match everything.
type TriggerFilter struct {
	AnimalID string
	LoggerID string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// List returns triggers in chronological order.
func (r *TriggerRepo) List(ctx context.Context, f TriggerFilter) ([]domain.Trigger, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 10000
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT animal_id, species, sex, logger_id, time
		FROM triggers
		WHERE ($1 = '' OR animal_id = $1)
		  AND ($2 = '' OR logger_id = $2)
		  AND ($3::timestamptz IS NULL OR time >= $3)
		  AND ($4::timestamptz IS NULL OR time <= $4)
		ORDER BY time, logger_id, animal_id
		LIMIT $5 OFFSET $6
	`, f.AnimalID, f.LoggerID, nullTime(f.From), nullTime(f.To), limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var out []domain.Trigger
	for rows.Next() {
		var t domain.Trigger
		var sex string
		if err := rows.Scan(&t.AnimalID, &t.Species, &sex, &t.LoggerID, &t.Time); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		t.Sex = domain.Sex(sex)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Count returns the trigger table size.
func (r *TriggerRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM triggers`).Scan(&n)
	return n, err
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
