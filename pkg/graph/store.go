package graph

import (
	"encoding/json"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// EventKind names the mutation that produced an Event.
type EventKind string

const (
	EventNodesChanged     EventKind = "nodes_changed"
	EventEdgesChanged     EventKind = "edges_changed"
	EventPropsChanged     EventKind = "props_changed"
	EventSelectionChanged EventKind = "selection_changed"
	EventLoaded           EventKind = "loaded"
)

// Event is delivered to listeners after a mutation has been applied in full.
type Event struct {
	Version uint64
	Kind    EventKind
	NodeIDs []string
}

// Listener observes store mutations. Listeners run after the store lock is
// released, so they may read from or write to the store.
type Listener func(Event)

// Store owns the nodes, edges and component props of one experiment graph,
// plus the current selection.
//
// Every exported mutation is applied under a single lock acquisition, so a
// reader never observes a node without its props entry, an edge pointing at a
// removed node, or a selection referring to a deleted node. Mutations never
// fail: input that would break those rules is dropped or cascaded instead.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	order []string
	edges []*Edge
	props map[string]Props

	selected string
	version  uint64

	docExtra   map[string]json.RawMessage
	flowExtra  map[string]json.RawMessage
	propsExtra map[string]json.RawMessage

	newID func() string

	lmu       sync.Mutex
	listeners map[int]Listener
	nextL     int
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides how edge IDs are minted by Connect.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// NewStore creates an empty graph store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		nodes:     make(map[string]*Node),
		props:     make(map[string]Props),
		newID:     uuid.NewString,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers a listener and returns a function that removes it.
func (s *Store) Subscribe(l Listener) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	id := s.nextL
	s.nextL++
	s.listeners[id] = l
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	s.lmu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	ls := make([]Listener, 0, len(ids))
	for _, id := range ids {
		ls = append(ls, s.listeners[id])
	}
	s.lmu.Unlock()

	for _, ev := range events {
		for _, l := range ls {
			l(ev)
		}
	}
}

// bumpLocked records a mutation. Must be called with s.mu held.
func (s *Store) bumpLocked(kind EventKind, ids ...string) Event {
	s.version++
	return Event{Version: s.version, Kind: kind, NodeIDs: ids}
}

// Version returns a counter that increases with every applied mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// AddNode inserts a node together with its props entry. A nil initial record
// seeds an empty one. Adding an ID that already exists is a no-op and returns
// false.
func (s *Store) AddNode(node Node, initial Props) bool {
	s.mu.Lock()
	if node.ID == "" || s.nodes[node.ID] != nil {
		s.mu.Unlock()
		return false
	}
	s.insertLocked(node, initial)
	ev := s.bumpLocked(EventNodesChanged, node.ID)
	s.mu.Unlock()

	s.emit([]Event{ev})
	return true
}

// insertLocked must be called with s.mu held.
func (s *Store) insertLocked(node Node, initial Props) {
	n := node.clone()
	s.nodes[n.ID] = &n
	s.order = append(s.order, n.ID)
	s.props[n.ID] = initial.Clone()
}

// ApplyNodeChanges applies a batch of structural node changes as one unit.
// Removing a node also removes its props entry and every edge touching it,
// and clears the selection if it pointed at the node.
func (s *Store) ApplyNodeChanges(changes []NodeChange) {
	if len(changes) == 0 {
		return
	}

	s.mu.Lock()
	var (
		touched   []string
		selection = s.selected
	)

	for _, ch := range changes {
		switch ch.Type {
		case NodeAdd:
			if ch.Node == nil || ch.Node.ID == "" || s.nodes[ch.Node.ID] != nil {
				continue
			}
			s.insertLocked(*ch.Node, ch.Props)
			touched = append(touched, ch.Node.ID)

		case NodeReplace:
			if ch.Node == nil {
				continue
			}
			id := ch.ID
			if id == "" {
				id = ch.Node.ID
			}
			cur := s.nodes[id]
			if cur == nil {
				continue
			}
			n := ch.Node.clone()
			n.ID = id
			*cur = n
			touched = append(touched, id)

		case NodePosition:
			cur := s.nodes[ch.ID]
			if cur == nil || ch.Position == nil {
				continue
			}
			s.moveLocked(cur, *ch.Position)
			touched = append(touched, ch.ID)

		case NodeSelect:
			if s.nodes[ch.ID] == nil {
				continue
			}
			if ch.Selected {
				s.selected = ch.ID
			} else if s.selected == ch.ID {
				s.selected = ""
			}

		case NodeRemove:
			if s.nodes[ch.ID] == nil {
				continue
			}
			s.removeLocked(ch.ID)
			touched = append(touched, ch.ID)
		}
	}

	var events []Event
	if len(touched) > 0 {
		events = append(events, s.bumpLocked(EventNodesChanged, touched...))
	}
	if s.selected != selection {
		events = append(events, s.bumpLocked(EventSelectionChanged, s.selected))
	}
	s.mu.Unlock()

	s.emit(events)
}

// removeLocked drops a node with its props, its edges and the selection if it
// pointed at the node. Must be called with s.mu held.
func (s *Store) removeLocked(id string) {
	delete(s.nodes, id)
	delete(s.props, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	s.edges = slices.DeleteFunc(s.edges, func(e *Edge) bool { return e.Source == id || e.Target == id })
	if s.selected == id {
		s.selected = ""
	}
}

// moveLocked updates a node position and mirrors it into the reserved x/y
// props keys when the record carries them. Must be called with s.mu held.
func (s *Store) moveLocked(n *Node, pos Position) {
	n.Position = pos
	p := s.props[n.ID]
	if _, ok := p["x"]; ok {
		p["x"] = pos.X
	}
	if _, ok := p["y"]; ok {
		p["y"] = pos.Y
	}
}

// ApplyEdgeChanges applies a batch of edge changes as one unit. Added or
// replacing edges whose endpoints are not in the graph are dropped.
func (s *Store) ApplyEdgeChanges(changes []EdgeChange) {
	if len(changes) == 0 {
		return
	}

	s.mu.Lock()
	changed := false
	for _, ch := range changes {
		switch ch.Type {
		case EdgeAdd:
			if ch.Edge == nil || !s.endpointsLocked(*ch.Edge) || s.edgeIndexLocked(ch.Edge.ID) >= 0 {
				continue
			}
			e := ch.Edge.clone()
			if e.ID == "" {
				e.ID = s.newID()
			}
			s.edges = append(s.edges, &e)
			changed = true

		case EdgeReplace:
			if ch.Edge == nil || !s.endpointsLocked(*ch.Edge) {
				continue
			}
			id := ch.ID
			if id == "" {
				id = ch.Edge.ID
			}
			i := s.edgeIndexLocked(id)
			if i < 0 {
				continue
			}
			e := ch.Edge.clone()
			e.ID = id
			s.edges[i] = &e
			changed = true

		case EdgeRemove:
			edges := s.edges[:0]
			for _, e := range s.edges {
				if e.ID == ch.ID {
					changed = true
					continue
				}
				edges = append(edges, e)
			}
			s.edges = edges
		}
	}
	var events []Event
	if changed {
		events = append(events, s.bumpLocked(EventEdgesChanged))
	}
	s.mu.Unlock()

	s.emit(events)
}

// Connect appends a new edge from source to target and returns it. Existing
// edges are never touched and duplicates between the same pair are allowed.
// If either endpoint is missing nothing happens and ok is false.
func (s *Store) Connect(source, target string, ports Ports) (Edge, bool) {
	s.mu.Lock()
	e := Edge{ID: s.newID(), Source: source, Target: target, Ports: ports}
	if !s.endpointsLocked(e) {
		s.mu.Unlock()
		return Edge{}, false
	}
	s.edges = append(s.edges, &e)
	ev := s.bumpLocked(EventEdgesChanged, source, target)
	s.mu.Unlock()

	s.emit([]Event{ev})
	return e, true
}

// SetNodeProps shallow-merges partial into the node's props. When partial
// carries numeric x or y, the node position follows in the same step. Unknown
// node IDs are ignored.
func (s *Store) SetNodeProps(id string, partial Props) {
	s.mu.Lock()
	n := s.nodes[id]
	if n == nil {
		s.mu.Unlock()
		return
	}
	s.props[id] = s.props[id].Merge(partial)

	pos := n.Position
	if v, ok := partial["x"]; ok {
		if x, ok := toFloat(v); ok {
			pos.X = x
		}
	}
	if v, ok := partial["y"]; ok {
		if y, ok := toFloat(v); ok {
			pos.Y = y
		}
	}
	n.Position = pos
	ev := s.bumpLocked(EventPropsChanged, id)
	s.mu.Unlock()

	s.emit([]Event{ev})
}

// SetSelectedNode selects the node with the given ID. An empty or unknown ID
// clears the selection. Only the identity is kept; SelectedNode resolves it
// against the live node set on every read.
func (s *Store) SetSelectedNode(id string) {
	s.mu.Lock()
	if s.nodes[id] == nil {
		id = ""
	}
	if s.selected == id {
		s.mu.Unlock()
		return
	}
	s.selected = id
	ev := s.bumpLocked(EventSelectionChanged, id)
	s.mu.Unlock()

	s.emit([]Event{ev})
}

// SelectedNode returns the live selected node.
func (s *Store) SelectedNode() (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := s.nodes[s.selected]
	if n == nil {
		return Node{}, false
	}
	return n.clone(), true
}

// SelectedID returns the selected node ID, or "".
func (s *Store) SelectedID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Node returns a copy of the node with the given ID.
func (s *Store) Node(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := s.nodes[id]
	if n == nil {
		return Node{}, false
	}
	return n.clone(), true
}

// Nodes returns copies of all nodes in insertion order.
func (s *Store) Nodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Node, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.nodes[id].clone())
	}
	return out
}

// Edges returns copies of all edges in insertion order.
func (s *Store) Edges() []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Edge, 0, len(s.edges))
	for _, e := range s.edges {
		out = append(out, e.clone())
	}
	return out
}

// Props returns a copy of the props record of a node.
func (s *Store) Props(id string) (Props, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.props[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// AllProps returns a copy of the whole props table.
func (s *Store) AllProps() map[string]Props {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Props, len(s.props))
	for id, p := range s.props {
		out[id] = p.Clone()
	}
	return out
}

// Reset empties the store, as for a new experiment.
func (s *Store) Reset() {
	s.mu.Lock()
	s.resetLocked()
	ev := s.bumpLocked(EventLoaded)
	s.mu.Unlock()

	s.emit([]Event{ev})
}

// resetLocked must be called with s.mu held.
func (s *Store) resetLocked() {
	s.nodes = make(map[string]*Node)
	s.order = nil
	s.edges = nil
	s.props = make(map[string]Props)
	s.selected = ""
	s.docExtra = nil
	s.flowExtra = nil
	s.propsExtra = nil
}

// endpointsLocked must be called with s.mu held.
func (s *Store) endpointsLocked(e Edge) bool {
	return s.nodes[e.Source] != nil && s.nodes[e.Target] != nil
}

// edgeIndexLocked must be called with s.mu held.
func (s *Store) edgeIndexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, e := range s.edges {
		if e.ID == id {
			return i
		}
	}
	return -1
}
