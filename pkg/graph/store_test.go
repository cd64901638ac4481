package graph

import (
	"fmt"
	"testing"
)

func seqIDs() Option {
	n := 0
	return WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("e%d", n)
	})
}

func newTestStore(t *testing.T, ids ...string) *Store {
	t.Helper()
	s := NewStore(seqIDs())
	for i, id := range ids {
		node := Node{ID: id, Kind: KindText, Label: "text", Position: Position{X: float64(i * 10), Y: 5}}
		if !s.AddNode(node, Props{"text": "Hello World", "x": float64(i * 10), "y": 5.0}) {
			t.Fatalf("AddNode(%s) returned false", id)
		}
	}
	return s
}

// checkIntegrity fails the test when a store invariant is broken.
func checkIntegrity(t *testing.T, s *Store) {
	t.Helper()
	nodes := s.Nodes()
	ids := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		ids[n.ID] = true
		if _, ok := s.Props(n.ID); !ok {
			t.Errorf("node %s has no props entry", n.ID)
		}
	}
	for id := range s.AllProps() {
		if !ids[id] {
			t.Errorf("props entry %s has no node", id)
		}
	}
	for _, e := range s.Edges() {
		if !ids[e.Source] || !ids[e.Target] {
			t.Errorf("edge %s dangles: %s -> %s", e.ID, e.Source, e.Target)
		}
	}
	if sel := s.SelectedID(); sel != "" && !ids[sel] {
		t.Errorf("selection %s does not exist", sel)
	}
}

func TestStore_AddNode(t *testing.T) {
	s := NewStore()

	if !s.AddNode(Node{ID: "a", Kind: KindKeyboard}, nil) {
		t.Fatal("expected first add to succeed")
	}
	if s.AddNode(Node{ID: "a", Kind: KindText}, Props{"text": "x"}) {
		t.Fatal("expected duplicate add to be rejected")
	}

	n, _ := s.Node("a")
	if n.Kind != KindKeyboard {
		t.Errorf("expected original node kept, got kind %s", n.Kind)
	}
	p, ok := s.Props("a")
	if !ok || len(p) != 0 {
		t.Errorf("expected empty props record, got %v (ok=%v)", p, ok)
	}
}

func TestStore_RemoveCascades(t *testing.T) {
	s := newTestStore(t, "a", "b", "c")
	s.Connect("a", "b", Ports{})
	s.Connect("b", "c", Ports{})
	s.Connect("a", "c", Ports{})
	s.SetSelectedNode("b")

	s.ApplyNodeChanges(RemoveNodes("b"))

	if _, ok := s.Node("b"); ok {
		t.Fatal("node b still present")
	}
	if _, ok := s.Props("b"); ok {
		t.Error("props for b still present")
	}
	edges := s.Edges()
	if len(edges) != 1 || edges[0].Source != "a" || edges[0].Target != "c" {
		t.Errorf("expected only a->c to remain, got %+v", edges)
	}
	if s.SelectedID() != "" {
		t.Errorf("expected selection cleared, got %q", s.SelectedID())
	}
	checkIntegrity(t, s)
}

func TestStore_RemoveThenAddSameID(t *testing.T) {
	s := newTestStore(t, "a", "b")
	s.Connect("a", "b", Ports{})
	s.SetSelectedNode("a")

	s.ApplyNodeChanges([]NodeChange{
		{Type: NodeRemove, ID: "a"},
		{Type: NodeAdd, Node: &Node{ID: "a", Kind: KindKeyboard}, Props: Props{"allowed_keys": "space"}},
	})

	nodes := s.Nodes()
	if len(nodes) != 2 || nodes[0].ID != "b" || nodes[1].ID != "a" {
		t.Fatalf("expected [b a], got %+v", nodes)
	}
	if nodes[1].Kind != KindKeyboard {
		t.Errorf("expected the re-added node, got kind %s", nodes[1].Kind)
	}
	if edges := s.Edges(); len(edges) != 0 {
		t.Errorf("edge of the removed node survived: %+v", edges)
	}
	if p, _ := s.Props("a"); p["allowed_keys"] != "space" || len(p) != 1 {
		t.Errorf("expected fresh props, got %v", p)
	}
	if s.SelectedID() != "" {
		t.Errorf("expected selection cleared, got %q", s.SelectedID())
	}
	if doc := s.ToDocument(); len(doc.ReactFlow.Nodes) != 2 {
		t.Errorf("expected 2 document nodes, got %d", len(doc.ReactFlow.Nodes))
	}
	checkIntegrity(t, s)
}

func TestStore_RemoveKeepsOtherSelection(t *testing.T) {
	s := newTestStore(t, "a", "b")
	s.SetSelectedNode("a")
	s.ApplyNodeChanges(RemoveNodes("b"))

	n, ok := s.SelectedNode()
	if !ok || n.ID != "a" {
		t.Fatalf("expected a to stay selected, got %+v (ok=%v)", n, ok)
	}
}

func TestStore_SetNodeProps(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		partial Props
		want    Props
		wantPos Position
	}{
		{
			name:    "shallow merge",
			id:      "a",
			partial: Props{"duration": 2.5},
			want:    Props{"text": "Hello World", "x": 0.0, "y": 5.0, "duration": 2.5},
			wantPos: Position{X: 0, Y: 5},
		},
		{
			name:    "x moves node",
			id:      "a",
			partial: Props{"x": 42.0},
			want:    Props{"text": "Hello World", "x": 42.0, "y": 5.0},
			wantPos: Position{X: 42, Y: 5},
		},
		{
			name:    "integer y moves node",
			id:      "a",
			partial: Props{"y": 7},
			want:    Props{"text": "Hello World", "x": 0.0, "y": 7},
			wantPos: Position{X: 0, Y: 7},
		},
		{
			name:    "non numeric x leaves position",
			id:      "a",
			partial: Props{"x": "left"},
			want:    Props{"text": "Hello World", "x": "left", "y": 5.0},
			wantPos: Position{X: 0, Y: 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, "a")
			s.SetNodeProps(tt.id, tt.partial)

			got, _ := s.Props(tt.id)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("props = %v, want %v", got, tt.want)
			}
			n, _ := s.Node(tt.id)
			if n.Position != tt.wantPos {
				t.Errorf("position = %+v, want %+v", n.Position, tt.wantPos)
			}
		})
	}
}

func TestStore_SetNodePropsUnknownNode(t *testing.T) {
	s := newTestStore(t, "a")
	before := s.Version()
	s.SetNodeProps("ghost", Props{"text": "boo"})

	if _, ok := s.Props("ghost"); ok {
		t.Fatal("props created for unknown node")
	}
	if s.Version() != before {
		t.Error("unknown node write counted as mutation")
	}
	checkIntegrity(t, s)
}

func TestStore_PropsAreCopies(t *testing.T) {
	s := newTestStore(t, "a")
	p, _ := s.Props("a")
	p["text"] = "mutated"

	again, _ := s.Props("a")
	if again["text"] != "Hello World" {
		t.Errorf("caller mutation leaked into store: %v", again["text"])
	}
}

func TestStore_PositionChangeMirrorsProps(t *testing.T) {
	s := newTestStore(t, "a")
	s.AddNode(Node{ID: "k", Kind: KindKeyboard}, Props{"allowed_keys": "space"})

	s.ApplyNodeChanges([]NodeChange{
		MoveNode("a", Position{X: 300, Y: 200}),
		MoveNode("k", Position{X: 1, Y: 2}),
	})

	p, _ := s.Props("a")
	if p["x"] != 300.0 || p["y"] != 200.0 {
		t.Errorf("expected x/y mirrored, got %v", p)
	}
	kp, _ := s.Props("k")
	if _, ok := kp["x"]; ok {
		t.Errorf("x added to keyboard props: %v", kp)
	}
}

func TestStore_Connect(t *testing.T) {
	s := newTestStore(t, "a", "b")

	e, ok := s.Connect("a", "b", Ports{SourceHandle: "out"})
	if !ok || e.ID != "e1" || e.SourceHandle != "out" {
		t.Fatalf("unexpected edge %+v (ok=%v)", e, ok)
	}
	if _, ok := s.Connect("a", "b", Ports{}); !ok {
		t.Fatal("duplicate connection rejected")
	}
	if _, ok := s.Connect("a", "ghost", Ports{}); ok {
		t.Fatal("connection to missing node accepted")
	}
	if got := len(s.Edges()); got != 2 {
		t.Errorf("expected 2 edges, got %d", got)
	}
}

func TestStore_ApplyEdgeChanges(t *testing.T) {
	s := newTestStore(t, "a", "b")
	s.ApplyEdgeChanges([]EdgeChange{
		{Type: EdgeAdd, Edge: &Edge{ID: "x", Source: "a", Target: "b"}},
		{Type: EdgeAdd, Edge: &Edge{ID: "y", Source: "a", Target: "ghost"}},
		{Type: EdgeAdd, Edge: &Edge{ID: "x", Source: "b", Target: "a"}},
	})

	edges := s.Edges()
	if len(edges) != 1 || edges[0].ID != "x" || edges[0].Source != "a" {
		t.Fatalf("unexpected edges %+v", edges)
	}

	s.ApplyEdgeChanges(RemoveEdges("x"))
	if len(s.Edges()) != 0 {
		t.Fatal("edge not removed")
	}
}

func TestStore_Selection(t *testing.T) {
	s := newTestStore(t, "a", "b")

	s.SetSelectedNode("a")
	s.SetNodeProps("a", Props{"text": "Goodbye"})
	s.ApplyNodeChanges([]NodeChange{{Type: NodeReplace, ID: "a", Node: &Node{ID: "a", Kind: KindText, Label: "renamed"}}})

	n, ok := s.SelectedNode()
	if !ok || n.Label != "renamed" {
		t.Fatalf("selected node not resolved live: %+v", n)
	}

	s.SetSelectedNode("ghost")
	if s.SelectedID() != "" {
		t.Errorf("unknown id should clear selection, got %q", s.SelectedID())
	}

	s.ApplyNodeChanges([]NodeChange{{Type: NodeSelect, ID: "b", Selected: true}})
	if s.SelectedID() != "b" {
		t.Errorf("select change ignored")
	}
	s.ApplyNodeChanges([]NodeChange{{Type: NodeSelect, ID: "a", Selected: false}})
	if s.SelectedID() != "b" {
		t.Errorf("deselecting another node cleared selection")
	}
	s.ApplyNodeChanges([]NodeChange{{Type: NodeSelect, ID: "b", Selected: false}})
	if s.SelectedID() != "" {
		t.Errorf("deselect did not clear")
	}
}

func TestStore_Subscribe(t *testing.T) {
	s := newTestStore(t, "a")

	var got []Event
	unsubscribe := s.Subscribe(func(ev Event) {
		// Listeners may read the store.
		if _, ok := s.Props("a"); !ok {
			t.Error("props unreadable inside listener")
		}
		got = append(got, ev)
	})

	s.SetNodeProps("a", Props{"text": "x"})
	s.SetSelectedNode("a")
	s.SetSelectedNode("a")
	unsubscribe()
	s.SetNodeProps("a", Props{"text": "y"})

	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(got), got)
	}
	if got[0].Kind != EventPropsChanged || got[1].Kind != EventSelectionChanged {
		t.Errorf("unexpected event kinds %+v", got)
	}
	if got[1].Version <= got[0].Version {
		t.Errorf("versions not increasing: %+v", got)
	}
}

func TestStore_Reset(t *testing.T) {
	s := newTestStore(t, "a", "b")
	s.Connect("a", "b", Ports{})
	s.SetSelectedNode("a")

	s.Reset()

	if len(s.Nodes()) != 0 || len(s.Edges()) != 0 || len(s.AllProps()) != 0 || s.SelectedID() != "" {
		t.Fatal("store not empty after reset")
	}
}
