// Package editor implements the property editors shown for the selected node.
//
// An Editor keeps a local copy of one node's configuration. The copy is
// seeded from the graph store only when the editor is mounted or the node
// identity it is bound to changes. Store updates for the same node never
// reseed it, and seeding never writes, so an edit cannot echo back into a
// second write.
package editor

import (
	"errors"
	"fmt"

	"github.com/rmax-ai/psyflow/pkg/components"
	"github.com/rmax-ai/psyflow/pkg/graph"
)

// Phase is the synchronisation state of an Editor.
type Phase int

const (
	// PhaseIdle means the editor is not bound to a node.
	PhaseIdle Phase = iota
	// PhaseSeeding means local state was just loaded from the store and the
	// user has not edited it yet.
	PhaseSeeding
	// PhaseEditing means local state carries user edits that were pushed to
	// the store.
	PhaseEditing
)

func (p Phase) String() string {
	switch p {
	case PhaseSeeding:
		return "seeding"
	case PhaseEditing:
		return "editing"
	default:
		return "idle"
	}
}

var (
	// ErrNotBound is returned by Edit when the editor has no node.
	ErrNotBound = errors.New("editor: no node bound")
	// ErrUnknownField is returned by Edit for a field the kind does not have.
	ErrUnknownField = errors.New("editor: unknown field")
	// ErrHiddenField is returned by Edit for a field that is currently hidden.
	ErrHiddenField = errors.New("editor: field is hidden")
)

// Store is the part of the graph store an editor reads and writes.
type Store interface {
	Props(id string) (graph.Props, bool)
	SetNodeProps(id string, partial graph.Props)
}

// Editor edits the configuration of one node kind.
type Editor struct {
	store   Store
	binding Binding

	phase  Phase
	nodeID string
	pos    graph.Position
	local  components.Config
	err    error
}

// New creates an idle editor for binding.
func New(store Store, binding Binding) *Editor {
	return &Editor{store: store, binding: binding}
}

// Kind returns the kind this editor handles.
func (e *Editor) Kind() graph.Kind { return e.binding.Kind }

// Phase returns the current synchronisation state.
func (e *Editor) Phase() Phase { return e.phase }

// NodeID returns the bound node, or "" when idle.
func (e *Editor) NodeID() string { return e.nodeID }

// SeedError returns the decode error of the last seed, if the stored record
// held values that could not be read. Defaults were used for those fields.
func (e *Editor) SeedError() error { return e.err }

// Sync binds the editor to node. It seeds local state when the editor is
// idle or node is a different node than the bound one, and does nothing
// otherwise. It never writes to the store.
func (e *Editor) Sync(node graph.Node) {
	if e.phase != PhaseIdle && node.ID == e.nodeID {
		return
	}
	e.seed(node)
}

// Reload reseeds local state from the store for node. Edits are written as
// they are made, so nothing is lost. Callers use it after changing the node
// out of band, such as dragging it on the canvas. It never writes.
func (e *Editor) Reload(node graph.Node) {
	if node.ID == "" {
		e.Unmount()
		return
	}
	e.seed(node)
}

func (e *Editor) seed(node graph.Node) {
	props, _ := e.store.Props(node.ID)
	cfg, err := components.Decode(e.binding.Kind, node.Position, props)
	if cfg == nil {
		cfg, _ = components.Decode(e.binding.Kind, node.Position, nil)
	}
	e.nodeID = node.ID
	e.pos = node.Position
	e.local = cfg
	e.err = err
	e.phase = PhaseSeeding
}

// Unmount detaches the editor from its node. The next Sync seeds again.
func (e *Editor) Unmount() {
	e.phase = PhaseIdle
	e.nodeID = ""
	e.local = nil
	e.err = nil
}

// Fields renders the visible fields from local state. Visibility is derived
// on every call.
func (e *Editor) Fields() []Field {
	if e.local == nil {
		return nil
	}
	values := e.local.Props()
	out := make([]Field, 0, len(e.binding.Fields))
	for _, d := range e.binding.Fields {
		if d.ShowIf != nil && !d.ShowIf(e.local) {
			continue
		}
		out = append(out, Field{FieldDef: d, Value: values[d.Name]})
	}
	return out
}

// Value returns the local value of a field, visible or not.
func (e *Editor) Value(name string) (any, bool) {
	if e.local == nil {
		return nil, false
	}
	v, ok := e.local.Props()[name]
	return v, ok
}

// Config returns the local configuration record.
func (e *Editor) Config() components.Config { return e.local }

// Edit applies a user edit to one field and writes only that field to the
// store. Numbers are clamped into the field's bounds rather than rejected.
func (e *Editor) Edit(name string, raw any) error {
	if e.phase == PhaseIdle {
		return ErrNotBound
	}
	def, ok := e.binding.Def(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	if def.ShowIf != nil && !def.ShowIf(e.local) {
		return fmt.Errorf("%w: %s", ErrHiddenField, name)
	}
	v, err := def.coerce(raw)
	if err != nil {
		return err
	}

	partial := graph.Props{name: v}
	cfg, err := components.Decode(e.binding.Kind, e.pos, e.local.Props().Merge(partial))
	if err != nil {
		return err
	}
	e.local = cfg
	e.phase = PhaseEditing
	if name == "x" {
		e.pos.X = v.(float64)
	}
	if name == "y" {
		e.pos.Y = v.(float64)
	}
	e.store.SetNodeProps(e.nodeID, partial)
	return nil
}
