package graph

import "encoding/json"

// Kind is the component type of a node.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindKeyboard Kind = "keyboard"
	KindSound    Kind = "sound"
	KindGPIO     Kind = "gpio"
)

// Position is a point on the canvas in graph coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Props is the open, kind-dependent configuration record of a node.
type Props map[string]any

// Node is a placed component on the canvas.
//
// Behavioural configuration is not stored on the node; it lives in the
// store's props table under the same ID.
type Node struct {
	ID       string   `json:"id"`
	Kind     Kind     `json:"type"`
	Position Position `json:"position"`
	Label    string   `json:"label"`

	// Data holds the canvas-layer data record other than label and type.
	Data Props `json:"data,omitempty"`
	// Extra holds wire fields the store does not interpret (width, selected...).
	Extra map[string]json.RawMessage `json:"-"`
}

// Ports names the optional connection handles of an edge.
type Ports struct {
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Edge represents a directed connection between two nodes.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Ports

	Extra map[string]json.RawMessage `json:"-"`
}

// Merge returns a copy of p with partial laid over it. Keys in partial win,
// keys absent from partial are kept.
func (p Props) Merge(partial Props) Props {
	out := make(Props, len(p)+len(partial))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	for k, v := range partial {
		out[k] = cloneValue(v)
	}
	return out
}

// Clone returns a deep copy of p. A nil record clones to an empty one.
func (p Props) Clone() Props {
	return Props{}.Merge(p)
}

func (n Node) clone() Node {
	n.Data = n.Data.Clone()
	n.Extra = cloneRaw(n.Extra)
	return n
}

func (e Edge) clone() Edge {
	e.Extra = cloneRaw(e.Extra)
	return e
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Props:
		return t.Clone()
	case map[string]any:
		return map[string]any(Props(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case json.RawMessage:
		return append(json.RawMessage(nil), t...)
	default:
		return v
	}
}

func cloneRaw(in map[string]json.RawMessage) map[string]json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// toFloat reads a numeric props value. Numbers arrive as float64 from JSON
// and as ints or json.Number from Go callers.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
