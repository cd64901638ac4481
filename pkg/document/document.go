package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Document is the persisted form of an experiment graph, exchanged with the
// backend as the experiment's psyexp_data field.
//
// Readers are lenient: a missing or malformed react_flow section decodes as a
// nil Flow, and a malformed component_props section decodes as empty. Keys this
// package does not know about are kept in Extra and written back unchanged.
// component_props entries that are not objects land in PropsExtra and are
// written back the same way.
type Document struct {
	ReactFlow      *Flow                      `json:"react_flow,omitempty"`
	ComponentProps map[string]map[string]any  `json:"component_props"`
	PropsExtra     map[string]json.RawMessage `json:"-"`
	Extra          map[string]json.RawMessage `json:"-"`
}

// Flow holds the canvas layer of the document.
type Flow struct {
	Nodes []Node                     `json:"nodes"`
	Edges []Edge                     `json:"edges"`
	Extra map[string]json.RawMessage `json:"-"`
}

// Position is a point in graph space.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is the wire shape of a placed component.
type Node struct {
	ID       string                     `json:"id"`
	Type     string                     `json:"type"`
	Position Position                   `json:"position"`
	Data     map[string]any             `json:"data"`
	Extra    map[string]json.RawMessage `json:"-"`
}

// Edge is the wire shape of a directed connection.
type Edge struct {
	ID           string                     `json:"id"`
	Source       string                     `json:"source"`
	Target       string                     `json:"target"`
	SourceHandle string                     `json:"sourceHandle,omitempty"`
	TargetHandle string                     `json:"targetHandle,omitempty"`
	Extra        map[string]json.RawMessage `json:"-"`
}

// ErrNotObject is returned by Parse when the input is not a JSON object.
var ErrNotObject = errors.New("document: top level is not a JSON object")

var (
	documentKeys = []string{"react_flow", "component_props"}
	flowKeys     = []string{"nodes", "edges"}
	nodeKeys     = []string{"id", "type", "position", "data"}
	edgeKeys     = []string{"id", "source", "target", "sourceHandle", "targetHandle"}
)

// New returns an empty document with an empty flow.
func New() Document {
	return Document{
		ReactFlow:      &Flow{Nodes: []Node{}, Edges: []Edge{}},
		ComponentProps: map[string]map[string]any{},
	}
}

// Parse decodes raw psyexp_data. Empty input, "null" and "{}" all yield an
// empty document with a nil Flow.
func Parse(data []byte) (Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Document{ComponentProps: map[string]map[string]any{}}, nil
	}
	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Marshal encodes the document as JSON.
func Marshal(doc Document) ([]byte, error) {
	return json.Marshal(doc)
}

// IsEmpty reports whether the document carries no graph content.
func (d Document) IsEmpty() bool {
	return (d.ReactFlow == nil || len(d.ReactFlow.Nodes) == 0) && len(d.ComponentProps) == 0
}

// MarshalJSON implements json.Marshaler.
func (d Document) MarshalJSON() ([]byte, error) {
	out := copyRaw(d.Extra)
	if d.ReactFlow != nil {
		raw, err := json.Marshal(d.ReactFlow)
		if err != nil {
			return nil, fmt.Errorf("failed to encode react_flow: %w", err)
		}
		out["react_flow"] = raw
	}
	props := copyRaw(d.PropsExtra)
	for id, p := range d.ComponentProps {
		if p == nil {
			p = map[string]any{}
		}
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode component_props %s: %w", id, err)
		}
		props[id] = raw
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("failed to encode component_props: %w", err)
	}
	out["component_props"] = raw
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Document) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return ErrNotObject
	}

	*d = Document{ComponentProps: map[string]map[string]any{}}

	if raw, ok := fields["react_flow"]; ok && !isNull(raw) {
		var flow Flow
		if err := json.Unmarshal(raw, &flow); err == nil {
			d.ReactFlow = &flow
		}
	}
	if raw, ok := fields["component_props"]; ok && !isNull(raw) {
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(raw, &entries); err == nil {
			for id, entry := range entries {
				var p map[string]any
				if err := json.Unmarshal(entry, &p); err != nil || p == nil {
					if d.PropsExtra == nil {
						d.PropsExtra = make(map[string]json.RawMessage)
					}
					d.PropsExtra[id] = append(json.RawMessage(nil), entry...)
					continue
				}
				d.ComponentProps[id] = p
			}
		}
	}
	d.Extra = extras(fields, documentKeys)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f Flow) MarshalJSON() ([]byte, error) {
	out := copyRaw(f.Extra)
	nodes := f.Nodes
	if nodes == nil {
		nodes = []Node{}
	}
	edges := f.Edges
	if edges == nil {
		edges = []Edge{}
	}
	var err error
	if out["nodes"], err = json.Marshal(nodes); err != nil {
		return nil, err
	}
	if out["edges"], err = json.Marshal(edges); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. Missing nodes or edges decode as
// empty slices.
func (f *Flow) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errors.New("react_flow is not an object")
	}
	*f = Flow{Nodes: []Node{}, Edges: []Edge{}}
	if raw, ok := fields["nodes"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &f.Nodes); err != nil {
			return fmt.Errorf("invalid nodes: %w", err)
		}
	}
	if raw, ok := fields["edges"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &f.Edges); err != nil {
			return fmt.Errorf("invalid edges: %w", err)
		}
	}
	f.Extra = extras(fields, flowKeys)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (n Node) MarshalJSON() ([]byte, error) {
	type wire struct {
		ID       string         `json:"id"`
		Type     string         `json:"type"`
		Position Position       `json:"position"`
		Data     map[string]any `json:"data"`
	}
	data := n.Data
	if data == nil {
		data = map[string]any{}
	}
	return mergeExtra(wire{ID: n.ID, Type: n.Type, Position: n.Position, Data: data}, n.Extra)
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Node) UnmarshalJSON(data []byte) error {
	type wire struct {
		ID       string         `json:"id"`
		Type     string         `json:"type"`
		Position Position       `json:"position"`
		Data     map[string]any `json:"data"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*n = Node{ID: w.ID, Type: w.Type, Position: w.Position, Data: w.Data, Extra: extras(fields, nodeKeys)}
	if n.Data == nil {
		n.Data = map[string]any{}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (e Edge) MarshalJSON() ([]byte, error) {
	type wire struct {
		ID           string `json:"id"`
		Source       string `json:"source"`
		Target       string `json:"target"`
		SourceHandle string `json:"sourceHandle,omitempty"`
		TargetHandle string `json:"targetHandle,omitempty"`
	}
	return mergeExtra(wire{e.ID, e.Source, e.Target, e.SourceHandle, e.TargetHandle}, e.Extra)
}

// UnmarshalJSON implements json.Unmarshaler. Null handles decode as empty.
func (e *Edge) UnmarshalJSON(data []byte) error {
	var w struct {
		ID           string  `json:"id"`
		Source       string  `json:"source"`
		Target       string  `json:"target"`
		SourceHandle *string `json:"sourceHandle"`
		TargetHandle *string `json:"targetHandle"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*e = Edge{ID: w.ID, Source: w.Source, Target: w.Target, Extra: extras(fields, edgeKeys)}
	if w.SourceHandle != nil {
		e.SourceHandle = *w.SourceHandle
	}
	if w.TargetHandle != nil {
		e.TargetHandle = *w.TargetHandle
	}
	return nil
}

// mergeExtra encodes v and lays the extra keys underneath it. Known keys win.
func mergeExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	known, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return known, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	out := copyRaw(extra)
	for k, raw := range fields {
		out[k] = raw
	}
	return json.Marshal(out)
}

func extras(fields map[string]json.RawMessage, known []string) map[string]json.RawMessage {
	var out map[string]json.RawMessage
	for k, raw := range fields {
		if contains(known, k) {
			continue
		}
		if out == nil {
			out = make(map[string]json.RawMessage)
		}
		out[k] = append(json.RawMessage(nil), raw...)
	}
	return out
}

func copyRaw(in map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func contains(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
