package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when an experiment does not exist.
var ErrNotFound = errors.New("experiment not found")

// Status is the lifecycle stage of an experiment.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusCompiled Status = "compiled"
	StatusDeployed Status = "deployed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusCompiled, StatusDeployed:
		return true
	}
	return false
}

// Experiment is the persisted experiment record.
type Experiment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// PsyexpData is the graph document, stored verbatim.
	PsyexpData   json.RawMessage `json:"psyexp_data"`
	PythonCode   string          `json:"python_code,omitempty"`
	PsychojsCode string          `json:"psychojs_code,omitempty"`
	Version      int             `json:"version"`
	// Revision increases on every write. Concurrent saves are applied in
	// arrival order, last write wins.
	Revision  int64     `json:"revision"`
	Status    Status    `json:"status"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

// ExperimentUpdate is a partial update. Nil fields are left unchanged.
type ExperimentUpdate struct {
	Name         *string          `json:"name,omitempty"`
	Description  *string          `json:"description,omitempty"`
	PsyexpData   *json.RawMessage `json:"psyexp_data,omitempty"`
	PythonCode   *string          `json:"python_code,omitempty"`
	PsychojsCode *string          `json:"psychojs_code,omitempty"`
	Version      *int             `json:"version,omitempty"`
	Status       *Status          `json:"status,omitempty"`
	IsActive     *bool            `json:"is_active,omitempty"`
}

// Apply lays the update over e.
func (u ExperimentUpdate) Apply(e *Experiment) {
	if u.Name != nil {
		e.Name = *u.Name
	}
	if u.Description != nil {
		e.Description = *u.Description
	}
	if u.PsyexpData != nil {
		e.PsyexpData = append(json.RawMessage(nil), (*u.PsyexpData)...)
	}
	if u.PythonCode != nil {
		e.PythonCode = *u.PythonCode
	}
	if u.PsychojsCode != nil {
		e.PsychojsCode = *u.PsychojsCode
	}
	if u.Version != nil {
		e.Version = *u.Version
	}
	if u.Status != nil {
		e.Status = *u.Status
	}
	if u.IsActive != nil {
		e.IsActive = *u.IsActive
	}
}

// Repository persists experiments. Both the SQLite Store and the postgres
// store implement it.
type Repository interface {
	// CreateExperiment inserts e, filling in ID, defaults and timestamps.
	CreateExperiment(ctx context.Context, e *Experiment) error
	GetExperiment(ctx context.Context, id string) (*Experiment, error)
	ListExperiments(ctx context.Context, limit, offset int) ([]Experiment, error)
	CountExperiments(ctx context.Context) (int, error)
	UpdateExperiment(ctx context.Context, id string, u ExperimentUpdate) (*Experiment, error)
	// DeleteExperiment removes the experiment and returns the removed record.
	DeleteExperiment(ctx context.Context, id string) (*Experiment, error)
	Close() error
}

// CompileLock records who is compiling an experiment and until when.
type CompileLock struct {
	ExperimentID string    `json:"experiment_id"`
	Holder       string    `json:"holder"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// CompileLocker serializes compiles of one experiment. A shared backend
// extends that across daemons.
type CompileLocker interface {
	// LockCompile reports false when another holder has an unexpired lock.
	// Locking again as the same holder pushes the expiry out.
	LockCompile(ctx context.Context, experimentID, holder string, ttl time.Duration) (bool, error)

	// UnlockCompile drops the lock. Not holding it is not an error.
	UnlockCompile(ctx context.Context, experimentID, holder string) error

	// CompileLockOf returns the live lock, or nil.
	CompileLockOf(ctx context.Context, experimentID string) (*CompileLock, error)
}

// PrepareNew fills defaults on a record about to be created. Repositories
// call it from CreateExperiment.
func PrepareNew(e *Experiment, id string, now time.Time) {
	if e.ID == "" {
		e.ID = id
	}
	if e.Version == 0 {
		e.Version = 1
	}
	if e.Status == "" {
		e.Status = StatusDraft
	}
	if len(e.PsyexpData) == 0 {
		e.PsyexpData = json.RawMessage(`{}`)
	}
	e.Revision = 1
	e.IsActive = true
	e.CreatedAt = now
	e.UpdatedAt = now
}
