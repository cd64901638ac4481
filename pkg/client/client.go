// Package client talks to the psyflow daemon's experiment API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rmax-ai/psyflow/pkg/store"
)

// DefaultEndpoint is used when NewClient gets an empty endpoint.
const DefaultEndpoint = "http://127.0.0.1:8090"

// Client is the psyflow API client.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	backoff  Backoff
	retries  int
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithRetries retries idempotent requests (reads and saves) up to n extra
// times on transport errors and 502/503/504 responses.
func WithRetries(n int, b Backoff) Option {
	return func(c *Client) {
		c.retries = n
		if b != nil {
			c.backoff = b
		}
	}
}

// NewClient creates a new psyflow client.
// endpoint defaults to DefaultEndpoint if empty.
func NewClient(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		backoff: DefaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the base URL requests are sent to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Ping checks the health of the daemon.
func (c *Client) Ping(ctx context.Context) (Status, error) {
	var status Status
	err := c.do(ctx, http.MethodGet, "/health", nil, &status, true)
	return status, err
}

// ListExperiments returns one page of experiments, newest first.
func (c *Client) ListExperiments(ctx context.Context, skip, limit int) (ExperimentList, error) {
	q := url.Values{}
	if skip > 0 {
		q.Set("skip", fmt.Sprint(skip))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/api/v1/experiments"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var list ExperimentList
	err := c.do(ctx, http.MethodGet, path, nil, &list, true)
	return list, err
}

// CreateExperiment creates an experiment.
func (c *Client) CreateExperiment(ctx context.Context, req CreateRequest) (*store.Experiment, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.New("experiment name is required")
	}
	var exp store.Experiment
	if err := c.do(ctx, http.MethodPost, "/api/v1/experiments", req, &exp, false); err != nil {
		return nil, err
	}
	return &exp, nil
}

// ReadExperiment fetches one experiment. Its PsyexpData, when present, is
// the document the builder loads.
func (c *Client) ReadExperiment(ctx context.Context, id string) (*store.Experiment, error) {
	var exp store.Experiment
	if err := c.do(ctx, http.MethodGet, experimentPath(id), nil, &exp, true); err != nil {
		return nil, err
	}
	return &exp, nil
}

// UpdateExperiment applies a partial update. Saving a document sends
// ExperimentUpdate{PsyexpData: &doc}. Repeating it with the same document
// yields the same persisted state, so it is retried like a read.
func (c *Client) UpdateExperiment(ctx context.Context, id string, u store.ExperimentUpdate) (*store.Experiment, error) {
	var exp store.Experiment
	if err := c.do(ctx, http.MethodPut, experimentPath(id), u, &exp, true); err != nil {
		return nil, err
	}
	return &exp, nil
}

// CompileExperiment asks the daemon to compile the persisted document. The
// returned record carries the generated code in PythonCode.
func (c *Client) CompileExperiment(ctx context.Context, id string) (*store.Experiment, error) {
	var exp store.Experiment
	if err := c.do(ctx, http.MethodPost, experimentPath(id)+"/compile", nil, &exp, false); err != nil {
		return nil, err
	}
	return &exp, nil
}

// DeleteExperiment deletes an experiment and returns the removed record.
func (c *Client) DeleteExperiment(ctx context.Context, id string) (*store.Experiment, error) {
	var exp store.Experiment
	if err := c.do(ctx, http.MethodDelete, experimentPath(id), nil, &exp, false); err != nil {
		return nil, err
	}
	return &exp, nil
}

// Artifacts lists the revisions that have a stored compiled script.
func (c *Client) Artifacts(ctx context.Context, id string) (ArtifactList, error) {
	var list ArtifactList
	err := c.do(ctx, http.MethodGet, experimentPath(id)+"/artifacts", nil, &list, true)
	return list, err
}

// Artifact fetches the script compiled from revision, or the latest one
// when revision is zero.
func (c *Client) Artifact(ctx context.Context, id string, revision int64) (Artifact, error) {
	ref := "latest"
	if revision > 0 {
		ref = fmt.Sprint(revision)
	}
	var a Artifact
	err := c.do(ctx, http.MethodGet, experimentPath(id)+"/artifacts/"+ref, nil, &a, true)
	return a, err
}

func experimentPath(id string) string {
	return "/api/v1/experiments/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, retry bool) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	attempts := 1
	if retry {
		attempts += c.retries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.once(ctx, method, path, body, out)
		if err == nil || !retryable(err) || ctx.Err() != nil {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error  string          `json:"error"`
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(data, &body) == nil {
		apiErr.Code = body.Error
		apiErr.Detail = detailText(body.Detail)
	}
	return apiErr
}

// detailText accepts a plain string detail or a list of {msg} entries.
func detailText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(raw, &items) == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}

type transportError struct {
	err error
}

func (e *transportError) Error() string { return "daemon unreachable: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	switch statusOf(err) {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
