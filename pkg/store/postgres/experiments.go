package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rmax-ai/psyflow/pkg/store"
)

const experimentColumns = `id, name, description, psyexp_data, python_code, psychojs_code,
	version, revision, status, is_active, created_at, updated_at, created_by`

func scanExperiment(row pgx.Row) (*store.Experiment, error) {
	var (
		e    store.Experiment
		data []byte
	)
	err := row.Scan(&e.ID, &e.Name, &e.Description, &data, &e.PythonCode, &e.PsychojsCode,
		&e.Version, &e.Revision, &e.Status, &e.IsActive, &e.CreatedAt, &e.UpdatedAt, &e.CreatedBy)
	if err != nil {
		return nil, err
	}
	e.PsyexpData = data
	return &e, nil
}

// CreateExperiment inserts a new experiment.
func (s *Store) CreateExperiment(ctx context.Context, e *store.Experiment) error {
	store.PrepareNew(e, uuid.NewString(), time.Now().UTC())

	_, err := s.pool.Exec(ctx, `
		INSERT INTO experiments (`+experimentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, e.ID, e.Name, e.Description, []byte(e.PsyexpData), e.PythonCode, e.PsychojsCode,
		e.Version, e.Revision, string(e.Status), e.IsActive, e.CreatedAt, e.UpdatedAt, e.CreatedBy)
	if err != nil {
		return fmt.Errorf("failed to create experiment: %w", err)
	}
	return nil
}

// GetExperiment returns store.ErrNotFound when no experiment has the id.
func (s *Store) GetExperiment(ctx context.Context, id string) (*store.Experiment, error) {
	e, err := scanExperiment(s.pool.QueryRow(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return e, nil
}

// ListExperiments returns experiments newest first.
func (s *Store) ListExperiments(ctx context.Context, limit, offset int) ([]store.Experiment, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+experimentColumns+` FROM experiments
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	out := []store.Experiment{}
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// CountExperiments returns the total number of experiments.
func (s *Store) CountExperiments(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM experiments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count experiments: %w", err)
	}
	return n, nil
}

// UpdateExperiment applies a partial update and bumps the revision. The row
// is locked for the duration so concurrent saves apply one after the other.
func (s *Store) UpdateExperiment(ctx context.Context, id string, u store.ExperimentUpdate) (*store.Experiment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	e, err := scanExperiment(tx.QueryRow(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load experiment: %w", err)
	}

	u.Apply(e)
	e.Revision++
	e.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `
		UPDATE experiments
		SET name = $1, description = $2, psyexp_data = $3, python_code = $4, psychojs_code = $5,
			version = $6, revision = $7, status = $8, is_active = $9, updated_at = $10
		WHERE id = $11
	`, e.Name, e.Description, []byte(e.PsyexpData), e.PythonCode, e.PsychojsCode,
		e.Version, e.Revision, string(e.Status), e.IsActive, e.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update experiment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}
	return e, nil
}

// DeleteExperiment removes an experiment and returns it.
func (s *Store) DeleteExperiment(ctx context.Context, id string) (*store.Experiment, error) {
	e, err := scanExperiment(s.pool.QueryRow(ctx, `DELETE FROM experiments WHERE id = $1 RETURNING `+experimentColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete experiment: %w", err)
	}
	return e, nil
}
