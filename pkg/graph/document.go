package graph

import (
	"github.com/rmax-ai/psyflow/pkg/document"
)

// LoadDocument replaces the whole store with the content of doc in one step.
// A document without a flow loads as an empty graph. Nodes without an ID and
// repeated node IDs after the first are skipped, props entries for unknown
// nodes are dropped, nodes without props get an empty record, and edges whose
// endpoints are missing are dropped. The selection is cleared.
func (s *Store) LoadDocument(doc document.Document) {
	s.mu.Lock()
	s.resetLocked()
	s.docExtra = cloneRaw(doc.Extra)
	s.propsExtra = cloneRaw(doc.PropsExtra)

	if doc.ReactFlow != nil {
		s.flowExtra = cloneRaw(doc.ReactFlow.Extra)
		for _, wn := range doc.ReactFlow.Nodes {
			if wn.ID == "" || s.nodes[wn.ID] != nil {
				continue
			}
			s.insertLocked(nodeFromWire(wn), Props(doc.ComponentProps[wn.ID]))
		}
		for _, we := range doc.ReactFlow.Edges {
			e := Edge{
				ID:     we.ID,
				Source: we.Source,
				Target: we.Target,
				Ports:  Ports{SourceHandle: we.SourceHandle, TargetHandle: we.TargetHandle},
				Extra:  cloneRaw(we.Extra),
			}
			if !s.endpointsLocked(e) {
				continue
			}
			if e.ID == "" {
				e.ID = s.newID()
			}
			s.edges = append(s.edges, &e)
		}
	}
	ev := s.bumpLocked(EventLoaded)
	s.mu.Unlock()

	s.emit([]Event{ev})
}

// ToDocument snapshots the store as a persistable document. Wire fields the
// store did not interpret on load are written back.
func (s *Store) ToDocument() document.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flow := &document.Flow{
		Nodes: make([]document.Node, 0, len(s.order)),
		Edges: make([]document.Edge, 0, len(s.edges)),
		Extra: cloneRaw(s.flowExtra),
	}
	props := make(map[string]map[string]any, len(s.props))
	for _, id := range s.order {
		n := s.nodes[id]
		flow.Nodes = append(flow.Nodes, nodeToWire(*n))
		props[id] = map[string]any(s.props[id].Clone())
	}
	for _, e := range s.edges {
		flow.Edges = append(flow.Edges, document.Edge{
			ID:           e.ID,
			Source:       e.Source,
			Target:       e.Target,
			SourceHandle: e.SourceHandle,
			TargetHandle: e.TargetHandle,
			Extra:        cloneRaw(e.Extra),
		})
	}
	return document.Document{
		ReactFlow:      flow,
		ComponentProps: props,
		PropsExtra:     cloneRaw(s.propsExtra),
		Extra:          cloneRaw(s.docExtra),
	}
}

func nodeFromWire(wn document.Node) Node {
	n := Node{
		ID:       wn.ID,
		Kind:     Kind(wn.Type),
		Position: Position{X: wn.Position.X, Y: wn.Position.Y},
		Extra:    cloneRaw(wn.Extra),
	}
	data := Props(wn.Data).Clone()
	if label, ok := data["label"].(string); ok {
		n.Label = label
		delete(data, "label")
	}
	kind, ok := data["type"].(string)
	if ok && n.Kind == "" {
		n.Kind = Kind(kind)
	}
	// A label or type that cannot be read stays in Data as it was.
	if ok && Kind(kind) == n.Kind {
		delete(data, "type")
	}
	if len(data) > 0 {
		n.Data = data
	}
	return n
}

func nodeToWire(n Node) document.Node {
	data := n.Data.Clone()
	if _, kept := data["label"]; !kept || n.Label != "" {
		data["label"] = n.Label
	}
	if _, kept := data["type"]; !kept {
		data["type"] = string(n.Kind)
	}
	return document.Node{
		ID:       n.ID,
		Type:     string(n.Kind),
		Position: document.Position{X: n.Position.X, Y: n.Position.Y},
		Data:     map[string]any(data),
		Extra:    cloneRaw(n.Extra),
	}
}
