package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const experimentColumns = `id, name, description, psyexp_data, python_code, psychojs_code,
	version, revision, status, is_active, created_at, updated_at, created_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*Experiment, error) {
	var (
		e    Experiment
		data string
	)
	err := row.Scan(&e.ID, &e.Name, &e.Description, &data, &e.PythonCode, &e.PsychojsCode,
		&e.Version, &e.Revision, &e.Status, &e.IsActive, &e.CreatedAt, &e.UpdatedAt, &e.CreatedBy)
	if err != nil {
		return nil, err
	}
	e.PsyexpData = json.RawMessage(data)
	return &e, nil
}

// CreateExperiment inserts a new experiment.
func (s *Store) CreateExperiment(ctx context.Context, e *Experiment) error {
	PrepareNew(e, uuid.NewString(), time.Now().UTC())

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO experiments (`+experimentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Name, e.Description, string(e.PsyexpData), e.PythonCode, e.PsychojsCode,
		e.Version, e.Revision, e.Status, e.IsActive, e.CreatedAt, e.UpdatedAt, e.CreatedBy)
	if err != nil {
		return fmt.Errorf("failed to insert experiment: %w", err)
	}
	return nil
}

// GetExperiment returns ErrNotFound when no experiment has the given id.
func (s *Store) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, id)
	e, err := scanExperiment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return e, nil
}

// ListExperiments returns experiments newest first.
func (s *Store) ListExperiments(ctx context.Context, limit, offset int) ([]Experiment, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+experimentColumns+` FROM experiments
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	out := []Experiment{}
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
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM experiments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count experiments: %w", err)
	}
	return n, nil
}

// UpdateExperiment applies a partial update and bumps the revision.
func (s *Store) UpdateExperiment(ctx context.Context, id string, u ExperimentUpdate) (*Experiment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	e, err := scanExperiment(tx.QueryRowContext(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load experiment: %w", err)
	}

	u.Apply(e)
	e.Revision++
	e.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE experiments
		SET name = ?, description = ?, psyexp_data = ?, python_code = ?, psychojs_code = ?,
			version = ?, revision = ?, status = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`, e.Name, e.Description, string(e.PsyexpData), e.PythonCode, e.PsychojsCode,
		e.Version, e.Revision, e.Status, e.IsActive, e.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update experiment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}
	return e, nil
}

// DeleteExperiment removes an experiment and returns it.
func (s *Store) DeleteExperiment(ctx context.Context, id string) (*Experiment, error) {
	e, err := s.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM experiments WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to delete experiment: %w", err)
	}
	return e, nil
}
