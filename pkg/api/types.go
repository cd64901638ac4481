package api

import (
	"encoding/json"

	"github.com/rmax-ai/psyflow/pkg/store"
)

// CreateExperimentRequest matches the POST /api/v1/experiments body schema
type CreateExperimentRequest struct {
	Name        string          `json:"name" validate:"required,max=255"`
	Description string          `json:"description,omitempty" validate:"max=4096"`
	PsyexpData  json.RawMessage `json:"psyexp_data,omitempty"`
	CreatedBy   string          `json:"created_by,omitempty" validate:"max=255"`
}

// ListParams are the query parameters of GET /api/v1/experiments
type ListParams struct {
	Skip  int `validate:"gte=0"`
	Limit int `validate:"gte=1,lte=1000"`
}

// ExperimentList matches the response for GET /api/v1/experiments
type ExperimentList struct {
	Data  []store.Experiment `json:"data"`
	Count int                `json:"count"`
}

// ErrorResponse is the body of every non-2xx response. Detail is meant for
// people and is shown in client notifications.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// ArtifactList matches the response for GET /api/v1/experiments/{id}/artifacts
type ArtifactList struct {
	ExperimentID string  `json:"experiment_id"`
	Revisions    []int64 `json:"revisions"`
}

// Artifact is one compiled script. Revision is 0 for the latest copy.
type Artifact struct {
	ExperimentID string `json:"experiment_id"`
	Revision     int64  `json:"revision"`
	PythonCode   string `json:"python_code"`
}
