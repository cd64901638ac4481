package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rmax-ai/psyflow/pkg/store"
)

// Status is the daemon health response.
type Status struct {
	Status string `json:"status"`
}

// ExperimentList is one page of experiments plus the total count.
type ExperimentList struct {
	Data  []store.Experiment `json:"data"`
	Count int                `json:"count"`
}

// CreateRequest is the payload of CreateExperiment.
type CreateRequest struct {
	// Name is required.
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// PsyexpData is the initial graph document. Empty means none.
	PsyexpData json.RawMessage `json:"psyexp_data,omitempty"`
	CreatedBy  string          `json:"created_by,omitempty"`
}

// ArtifactList names the revisions with a stored compiled script.
type ArtifactList struct {
	ExperimentID string  `json:"experiment_id"`
	Revisions    []int64 `json:"revisions"`
}

// Artifact is one stored compiled script. Revision is 0 for the latest copy.
type Artifact struct {
	ExperimentID string `json:"experiment_id"`
	Revision     int64  `json:"revision"`
	PythonCode   string `json:"python_code"`
}

// APIError is a non-2xx response from the daemon. Detail is the
// human-readable message of the error body, when the daemon sent one.
type APIError struct {
	StatusCode int
	Code       string
	Detail     string
}

func (e *APIError) Error() string {
	switch {
	case e.Detail != "":
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Detail)
	case e.Code != "":
		return fmt.Sprintf("api error %d (%s)", e.StatusCode, e.Code)
	default:
		return fmt.Sprintf("api error %d", e.StatusCode)
	}
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	return statusOf(err) == http.StatusNotFound
}

// IsUnauthorized reports whether the daemon rejected the bearer token.
func IsUnauthorized(err error) bool {
	return statusOf(err) == http.StatusUnauthorized
}

// IsConflict reports whether err is a 409 from the daemon, which compile
// returns while another compile of the same experiment runs.
func IsConflict(err error) bool {
	return statusOf(err) == http.StatusConflict
}

// Detail returns the daemon's human-readable message carried by err, or ""
// when there is none.
func Detail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return ""
}

func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
