// Package workflow drives the save and compile round trips of the builder.
//
// A Workflow owns the graph store of the experiment that is currently open.
// Save snapshots the store and persists it; Compile saves and then asks the
// backend to compile the persisted copy, as one user action. Only one request
// is in flight at a time, and a response that arrives after the builder moved
// to another experiment is dropped.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rmax-ai/psyflow/pkg/client"
	"github.com/rmax-ai/psyflow/pkg/document"
	"github.com/rmax-ai/psyflow/pkg/graph"
	"github.com/rmax-ai/psyflow/pkg/store"
)

// State is the position of the workflow state machine.
type State string

const (
	StateIdle          State = "idle"
	StateSaving        State = "saving"
	StateSaved         State = "saved"
	StateSaveFailed    State = "save_failed"
	StateCompiling     State = "compiling"
	StateCompiled      State = "compiled"
	StateCompileFailed State = "compile_failed"
)

// Pending reports whether a request is outstanding in this state.
func (s State) Pending() bool {
	return s == StateSaving || s == StateCompiling
}

var (
	// ErrBusy is returned when save or compile is called while another
	// request for the open experiment is in flight.
	ErrBusy = errors.New("a save or compile is already in progress")
	// ErrStale is returned when the response arrived after a different
	// experiment was opened, or the builder was closed. It was not applied.
	ErrStale = errors.New("response belongs to an experiment that is no longer open")
	// ErrNoExperiment is returned when no experiment is open.
	ErrNoExperiment = errors.New("no experiment is open")
)

// Backend is the remote side of the workflow. *client.Client and
// *client.CachedReader implement it.
type Backend interface {
	ReadExperiment(ctx context.Context, id string) (*store.Experiment, error)
	UpdateExperiment(ctx context.Context, id string, u store.ExperimentUpdate) (*store.Experiment, error)
	CompileExperiment(ctx context.Context, id string) (*store.Experiment, error)
}

// Invalidator drops cached remote copies of an experiment.
type Invalidator interface {
	Invalidate(ctx context.Context, id string)
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithNotifier sets where user-visible notifications go.
func WithNotifier(n Notifier) Option {
	return func(w *Workflow) {
		if n != nil {
			w.notifier = n
		}
	}
}

// WithInvalidator sets the cache invalidated after every successful save or
// compile. When the backend itself is an Invalidator it is used by default.
func WithInvalidator(inv Invalidator) Option {
	return func(w *Workflow) { w.invalidator = inv }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workflow) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithTracer sets the tracer. The default comes from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(w *Workflow) {
		if t != nil {
			w.tracer = t
		}
	}
}

// WithStoreOptions passes options to every graph store the workflow creates.
func WithStoreOptions(opts ...graph.Option) Option {
	return func(w *Workflow) { w.storeOpts = append(w.storeOpts, opts...) }
}

// Workflow is safe for concurrent use. Save and Compile block for the
// round trip; callers that must stay responsive run them in a goroutine.
type Workflow struct {
	backend     Backend
	notifier    Notifier
	invalidator Invalidator
	logger      *slog.Logger
	tracer      trace.Tracer
	storeOpts   []graph.Option

	mu sync.Mutex
	// opens orders Open calls so the latest one wins. session changes only
	// when the open experiment does and tags every request.
	opens    uint64
	session  uint64
	active   *store.Experiment
	graph    *graph.Store
	state    State
	inFlight bool
	code     string
	lastErr  error
}

// New creates a workflow with no experiment open.
func New(backend Backend, opts ...Option) *Workflow {
	w := &Workflow{
		backend:  backend,
		notifier: Discard,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/rmax-ai/psyflow/pkg/workflow"),
		state:    StateIdle,
	}
	if inv, ok := backend.(Invalidator); ok {
		w.invalidator = inv
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Open reads an experiment and loads its document into a new graph store,
// which replaces the previous one. An experiment without a usable document
// opens as an empty graph. When the read fails the open experiment stays as
// it was, including any request in flight.
func (w *Workflow) Open(ctx context.Context, id string) (*graph.Store, error) {
	w.mu.Lock()
	w.opens++
	ticket := w.opens
	w.mu.Unlock()

	ctx, span := w.tracer.Start(ctx, "workflow.open", trace.WithAttributes(attribute.String("experiment.id", id)))
	defer span.End()

	exp, err := w.backend.ReadExperiment(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return nil, fmt.Errorf("failed to read experiment %s: %w", id, err)
	}

	doc, err := document.Parse(exp.PsyexpData)
	if err != nil {
		w.logger.Warn("experiment_document_unreadable", "experiment_id", id, "error", err)
		doc = document.Document{}
	}
	gs := graph.NewStore(w.storeOpts...)
	gs.LoadDocument(doc)

	w.mu.Lock()
	defer w.mu.Unlock()
	if ticket != w.opens {
		span.SetStatus(codes.Error, "stale")
		return nil, ErrStale
	}
	w.session++
	w.active = exp
	w.graph = gs
	w.state = StateIdle
	w.inFlight = false
	w.code = exp.PythonCode
	w.lastErr = nil
	span.SetAttributes(attribute.Int("graph.nodes", len(gs.Nodes())))
	w.logger.Info("experiment_opened", "experiment_id", id, "revision", exp.Revision)
	return gs, nil
}

// Close tears down the open experiment. Responses still in flight are
// dropped when they arrive.
func (w *Workflow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.opens++
	w.session++
	w.active = nil
	w.graph = nil
	w.state = StateIdle
	w.inFlight = false
	w.code = ""
	w.lastErr = nil
}

// Graph returns the store of the open experiment, or nil.
func (w *Workflow) Graph() *graph.Store {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.graph
}

// Experiment returns a copy of the last record received for the open
// experiment, or nil.
func (w *Workflow) Experiment() *store.Experiment {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active == nil {
		return nil
	}
	exp := *w.active
	return &exp
}

// ActiveID returns the ID of the open experiment, or "".
func (w *Workflow) ActiveID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active == nil {
		return ""
	}
	return w.active.ID
}

// State returns the current state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Code returns the generated code of the last successful compile.
func (w *Workflow) Code() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.code
}

// Err returns the error of the last failed save or compile.
func (w *Workflow) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// call is the bookkeeping of one user action.
type call struct {
	session uint64
	id      string
	doc     document.Document
}

// begin claims the in-flight slot and snapshots the graph.
func (w *Workflow) begin() (call, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active == nil {
		return call{}, ErrNoExperiment
	}
	if w.inFlight {
		return call{}, ErrBusy
	}
	w.inFlight = true
	w.state = StateSaving
	w.lastErr = nil
	return call{session: w.session, id: w.active.ID, doc: w.graph.ToDocument()}, nil
}

// Save persists the current graph. The graph store is never modified by a
// save, so a failed save can simply be retried.
func (w *Workflow) Save(ctx context.Context) (*store.Experiment, error) {
	c, err := w.begin()
	if err != nil {
		return nil, err
	}
	exp, err := w.save(ctx, c)
	if err == nil {
		w.finish(c, StateSaved, exp)
	}
	return exp, err
}

// Compile saves the current graph and then compiles the persisted copy. The
// compile step is skipped when the save fails.
func (w *Workflow) Compile(ctx context.Context) (*store.Experiment, error) {
	c, err := w.begin()
	if err != nil {
		return nil, err
	}
	if _, err := w.save(ctx, c); err != nil {
		return nil, err
	}

	w.mu.Lock()
	if c.session != w.session {
		w.mu.Unlock()
		return nil, ErrStale
	}
	w.state = StateCompiling
	w.mu.Unlock()

	ctx, span := w.tracer.Start(ctx, "workflow.compile", trace.WithAttributes(attribute.String("experiment.id", c.id)))
	defer span.End()

	start := time.Now()
	exp, err := w.backend.CompileExperiment(ctx, c.id)
	if w.stale(c) {
		span.SetStatus(codes.Error, "stale")
		w.invalidate(c.id)
		return nil, ErrStale
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compile failed")
		detail := client.Detail(err)
		if detail == "" {
			detail = "Unknown error"
		}
		w.fail(c, StateCompileFailed, err)
		w.logger.Warn("compile_failed", "experiment_id", c.id, "error", err)
		w.notifier.Notify(Notification{Level: LevelError, Title: "Compilation failed.", Description: detail})
		return nil, fmt.Errorf("compile failed: %w", err)
	}

	span.SetAttributes(attribute.Int("compile.code_bytes", len(exp.PythonCode)))
	w.invalidate(c.id)
	w.finish(c, StateCompiled, exp)
	w.logger.Info("experiment_compiled", "experiment_id", c.id, "duration_ms", time.Since(start).Milliseconds())
	w.notifier.Notify(Notification{Level: LevelSuccess, Title: "Experiment compiled."})
	return exp, nil
}

// save runs the save half of an action. On failure it settles the action.
func (w *Workflow) save(ctx context.Context, c call) (*store.Experiment, error) {
	ctx, span := w.tracer.Start(ctx, "workflow.save", trace.WithAttributes(attribute.String("experiment.id", c.id)))
	defer span.End()

	data, err := document.Marshal(c.doc)
	if err != nil {
		w.fail(c, StateSaveFailed, err)
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	raw := json.RawMessage(data)
	span.SetAttributes(attribute.Int("document.bytes", len(raw)))

	exp, err := w.backend.UpdateExperiment(ctx, c.id, store.ExperimentUpdate{PsyexpData: &raw})
	if w.stale(c) {
		span.SetStatus(codes.Error, "stale")
		if err == nil {
			w.invalidate(c.id)
		}
		return nil, ErrStale
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		w.fail(c, StateSaveFailed, err)
		w.logger.Warn("save_failed", "experiment_id", c.id, "error", err)
		w.notifier.Notify(Notification{Level: LevelError, Title: "Failed to save experiment.", Description: client.Detail(err)})
		return nil, fmt.Errorf("save failed: %w", err)
	}

	w.invalidate(c.id)
	w.mu.Lock()
	if c.session == w.session {
		w.active = exp
		w.state = StateSaved
	}
	w.mu.Unlock()
	w.logger.Info("experiment_saved", "experiment_id", c.id, "revision", exp.Revision)
	w.notifier.Notify(Notification{Level: LevelSuccess, Title: "Experiment saved."})
	return exp, nil
}

// stale reports whether the action's experiment is no longer open.
func (w *Workflow) stale(c call) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return c.session != w.session
}

func (w *Workflow) finish(c call, state State, exp *store.Experiment) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c.session != w.session {
		return
	}
	w.inFlight = false
	w.state = state
	if exp != nil {
		w.active = exp
		if state == StateCompiled {
			w.code = exp.PythonCode
		}
	}
}

func (w *Workflow) fail(c call, state State, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c.session != w.session {
		return
	}
	w.inFlight = false
	w.state = state
	w.lastErr = err
}

func (w *Workflow) invalidate(id string) {
	if w.invalidator != nil {
		w.invalidator.Invalidate(context.Background(), id)
	}
}
