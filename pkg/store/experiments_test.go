package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestExperimentCRUD(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	exp := &Experiment{Name: "Stroop", Description: "colour naming", CreatedBy: "lab"}
	if err := store.CreateExperiment(ctx, exp); err != nil {
		t.Fatalf("CreateExperiment failed: %v", err)
	}
	if exp.ID == "" || exp.Status != StatusDraft || exp.Version != 1 || exp.Revision != 1 || !exp.IsActive {
		t.Fatalf("defaults not applied: %+v", exp)
	}

	got, err := store.GetExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("GetExperiment failed: %v", err)
	}
	if got.Name != "Stroop" || string(got.PsyexpData) != "{}" || got.CreatedBy != "lab" {
		t.Errorf("unexpected record %+v", got)
	}

	doc := json.RawMessage(`{"react_flow":{"nodes":[],"edges":[]},"component_props":{}}`)
	updated, err := store.UpdateExperiment(ctx, exp.ID, ExperimentUpdate{PsyexpData: &doc})
	if err != nil {
		t.Fatalf("UpdateExperiment failed: %v", err)
	}
	if updated.Revision != 2 || updated.Name != "Stroop" {
		t.Errorf("partial update changed too much: %+v", updated)
	}
	if string(updated.PsyexpData) != string(doc) {
		t.Errorf("psyexp_data = %s", updated.PsyexpData)
	}

	code := "print('hi')"
	status := StatusCompiled
	updated, err = store.UpdateExperiment(ctx, exp.ID, ExperimentUpdate{PythonCode: &code, Status: &status})
	if err != nil {
		t.Fatalf("UpdateExperiment failed: %v", err)
	}
	if updated.Revision != 3 || updated.Status != StatusCompiled || string(updated.PsyexpData) != string(doc) {
		t.Errorf("unexpected record after compile update: %+v", updated)
	}

	deleted, err := store.DeleteExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("DeleteExperiment failed: %v", err)
	}
	if deleted.ID != exp.ID {
		t.Errorf("deleted record id = %s", deleted.ID)
	}
	if _, err := store.GetExperiment(ctx, exp.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestExperimentNotFound(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	name := "x"
	if _, err := store.UpdateExperiment(ctx, "missing", ExperimentUpdate{Name: &name}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateExperiment: expected ErrNotFound, got %v", err)
	}
	if _, err := store.DeleteExperiment(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteExperiment: expected ErrNotFound, got %v", err)
	}
}

func TestListExperiments(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		if err := store.CreateExperiment(ctx, &Experiment{Name: name}); err != nil {
			t.Fatalf("CreateExperiment failed: %v", err)
		}
	}

	tests := []struct {
		name          string
		limit, offset int
		want          int
	}{
		{"all", 0, 0, 3},
		{"page", 2, 0, 2},
		{"tail", 2, 2, 1},
		{"past end", 10, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := store.ListExperiments(ctx, tt.limit, tt.offset)
			if err != nil {
				t.Fatalf("ListExperiments failed: %v", err)
			}
			if len(list) != tt.want {
				t.Errorf("got %d experiments, want %d", len(list), tt.want)
			}
		})
	}

	n, err := store.CountExperiments(ctx)
	if err != nil || n != 3 {
		t.Errorf("CountExperiments = %d, %v", n, err)
	}
}
