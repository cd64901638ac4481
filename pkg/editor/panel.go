package editor

import (
	"github.com/rmax-ai/psyflow/pkg/graph"
)

// Source is the graph store as seen by a Panel.
type Source interface {
	Store
	SelectedNode() (graph.Node, bool)
}

// Panel shows the editor matching the kind of the selected node. It keeps
// one editor per kind; editors of other kinds are unmounted when the
// selection moves away from them.
type Panel struct {
	store   Source
	editors map[graph.Kind]*Editor
	active  *Editor
}

// NewPanel creates a panel over store. A nil bindings map uses
// DefaultBindings.
func NewPanel(store Source, bindings map[graph.Kind]Binding) *Panel {
	if bindings == nil {
		bindings = DefaultBindings()
	}
	p := &Panel{store: store, editors: make(map[graph.Kind]*Editor, len(bindings))}
	for kind, b := range bindings {
		p.editors[kind] = New(store, b)
	}
	return p
}

// Attach syncs the panel after every store event. It returns the
// unsubscribe function.
func (p *Panel) Attach(s *graph.Store) func() {
	p.Sync()
	return s.Subscribe(func(graph.Event) { p.Sync() })
}

// Sync follows the current selection.
func (p *Panel) Sync() {
	node, ok := p.store.SelectedNode()
	if !ok {
		p.switchTo(nil)
		return
	}
	ed := p.editors[node.Kind]
	p.switchTo(ed)
	if ed != nil {
		ed.Sync(node)
	}
}

func (p *Panel) switchTo(ed *Editor) {
	if p.active != nil && p.active != ed {
		p.active.Unmount()
	}
	p.active = ed
}

// Active returns the editor for the selected node, or nil when nothing is
// selected or the kind has no editor.
func (p *Panel) Active() *Editor { return p.active }

// Fields renders the active editor.
func (p *Panel) Fields() []Field {
	if p.active == nil {
		return nil
	}
	return p.active.Fields()
}

// Edit forwards a user edit to the active editor.
func (p *Panel) Edit(name string, raw any) error {
	if p.active == nil {
		return ErrNotBound
	}
	return p.active.Edit(name, raw)
}

// Reload reseeds the active editor from the store.
func (p *Panel) Reload() {
	node, ok := p.store.SelectedNode()
	if !ok || p.active == nil {
		return
	}
	p.active.Reload(node)
}
