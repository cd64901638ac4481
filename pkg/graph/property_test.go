package graph

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// op is a randomly generated store mutation.
type op struct {
	Code int
	A, B int
}

func genOps() gopter.Gen {
	return gen.SliceOf(gen.Struct(reflect.TypeOf(op{}), map[string]gopter.Gen{
		"Code": gen.IntRange(0, 7),
		"A":    gen.IntRange(0, 5),
		"B":    gen.IntRange(0, 5),
	}))
}

func applyOp(s *Store, o op) {
	a, b := fmt.Sprintf("n%d", o.A), fmt.Sprintf("n%d", o.B)
	switch o.Code {
	case 0, 1:
		s.AddNode(Node{ID: a, Kind: KindText, Label: "text"}, Props{"text": a, "x": 0.0, "y": 0.0})
	case 2:
		s.Connect(a, b, Ports{})
	case 3:
		s.ApplyNodeChanges(RemoveNodes(a))
	case 4:
		s.SetSelectedNode(a)
	case 5:
		s.SetNodeProps(a, Props{"x": float64(o.B)})
	case 6:
		s.ApplyNodeChanges([]NodeChange{MoveNode(a, Position{X: float64(o.B), Y: 1})})
	case 7:
		s.ApplyNodeChanges(RemoveNodes(a, b))
	}
}

// patch is a randomly generated SetNodeProps argument. The reserved position
// keys only ever carry numbers.
type patch struct {
	HasX, HasY bool
	X, Y       float64
	Fields     map[string]string
}

func genPatch() gopter.Gen {
	return gen.Struct(reflect.TypeOf(patch{}), map[string]gopter.Gen{
		"HasX":   gen.Bool(),
		"HasY":   gen.Bool(),
		"X":      gen.Float64Range(-1000, 1000),
		"Y":      gen.Float64Range(-1000, 1000),
		"Fields": gen.MapOf(gen.AlphaString(), gen.AlphaString()),
	})
}

func (p patch) props() Props {
	out := Props{}
	for k, v := range p.Fields {
		if k != "x" && k != "y" {
			out[k] = v
		}
	}
	if p.HasX {
		out["x"] = p.X
	}
	if p.HasY {
		out["y"] = p.Y
	}
	return out
}

// integrityHolds is the boolean form of checkIntegrity.
func integrityHolds(s *Store) bool {
	ids := make(map[string]bool)
	for _, n := range s.Nodes() {
		ids[n.ID] = true
		p, ok := s.Props(n.ID)
		if !ok {
			return false
		}
		if x, ok := p["x"].(float64); ok && x != n.Position.X {
			return false
		}
	}
	if len(s.AllProps()) != len(ids) {
		return false
	}
	for _, e := range s.Edges() {
		if !ids[e.Source] || !ids[e.Target] {
			return false
		}
	}
	sel := s.SelectedID()
	return sel == "" || ids[sel]
}

func TestStoreInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("referential integrity survives any mutation sequence", prop.ForAll(
		func(ops []op) bool {
			s := NewStore()
			for _, o := range ops {
				applyOp(s, o)
				if !integrityHolds(s) {
					return false
				}
			}
			return true
		},
		genOps(),
	))

	properties.Property("document round trip reproduces the graph", prop.ForAll(
		func(ops []op) bool {
			s := NewStore()
			for _, o := range ops {
				applyOp(s, o)
			}
			again := NewStore()
			again.LoadDocument(s.ToDocument())
			return reflect.DeepEqual(s.Nodes(), again.Nodes()) &&
				reflect.DeepEqual(s.Edges(), again.Edges()) &&
				reflect.DeepEqual(s.AllProps(), again.AllProps())
		},
		genOps(),
	))

	properties.Property("merge keeps untouched keys", prop.ForAll(
		func(base, partial map[string]string) bool {
			p, q := Props{}, Props{}
			for k, v := range base {
				p[k] = v
			}
			for k, v := range partial {
				q[k] = v
			}
			merged := p.Merge(q)
			for k, v := range p {
				if _, overwritten := q[k]; !overwritten && merged[k] != v {
					return false
				}
			}
			for k, v := range q {
				if merged[k] != v {
					return false
				}
			}
			return len(merged) <= len(p)+len(q)
		},
		gen.MapOf(gen.AlphaString(), gen.AlphaString()),
		gen.MapOf(gen.AlphaString(), gen.AlphaString()),
	))

	properties.Property("two updates equal one merged update", prop.ForAll(
		func(p, q patch) bool {
			seq, once := newPropStore(), newPropStore()
			seq.SetNodeProps("n", p.props())
			seq.SetNodeProps("n", q.props())
			once.SetNodeProps("n", p.props().Merge(q.props()))

			seqProps, _ := seq.Props("n")
			onceProps, _ := once.Props("n")
			seqNode, _ := seq.Node("n")
			onceNode, _ := once.Node("n")
			return reflect.DeepEqual(seqProps, onceProps) &&
				seqNode.Position == onceNode.Position &&
				seqNode.Position == Position{X: seqProps["x"].(float64), Y: seqProps["y"].(float64)}
		},
		genPatch(),
		genPatch(),
	))

	properties.TestingRun(t)
}

func newPropStore() *Store {
	s := NewStore()
	s.AddNode(Node{ID: "n", Kind: KindText, Position: Position{X: 3, Y: 4}}, Props{"text": "Hello World", "x": 3.0, "y": 4.0})
	return s
}
