package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ewyt/proximity-pipeline/internal/domain"
)

// MovementRepo stores the logger reshuffle history. Row order matters: when
// two records share an effective date for one logger, resolution keeps the
// later one, so the table carries an explicit sequence column.
type MovementRepo struct{ db *sql.DB }

// NewMovementRepo creates a Postgres-backed movement repository.
func NewMovementRepo(db *sql.DB) *MovementRepo { return &MovementRepo{db: db} }

// ReplaceAll atomically replaces the movement history, preserving input order.
func (r *MovementRepo) ReplaceAll(ctx context.Context, moves []domain.LoggerMove) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace movements: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM logger_movements`); err != nil {
		return fmt.Errorf("clear movements: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO logger_movements (seq, logger_id, grid_cell, effective_from)
		VALUES ($1, $2, $3, $4)
	`)
	if err != nil {
		return fmt.Errorf("prepare movement insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range moves {
		if _, err := stmt.ExecContext(ctx, i, m.LoggerID, m.GridCell, m.EffectiveFrom); err != nil {
			return fmt.Errorf("insert movement %s@%s: %w", m.LoggerID, m.GridCell, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit movements: %w", err)
	}
	return nil
}

// ListAll returns the full history in original input order.
func (r *MovementRepo) ListAll(ctx context.Context) ([]domain.LoggerMove, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT logger_id, grid_cell, effective_from
		FROM logger_movements
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	defer rows.Close()

	var out []domain.LoggerMove
	for rows.Next() {
		var m domain.LoggerMove
		if err := rows.Scan(&m.LoggerID, &m.GridCell, &m.EffectiveFrom); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
