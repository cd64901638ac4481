package main

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rmax-ai/psyflow/pkg/client"
	"github.com/rmax-ai/psyflow/pkg/graph"
	"github.com/rmax-ai/psyflow/pkg/store"
)

type memBackend struct {
	exps       map[string]*store.Experiment
	order      []string
	compileErr error
}

func newMemBackend(names ...string) *memBackend {
	b := &memBackend{exps: map[string]*store.Experiment{}}
	for i, name := range names {
		id := string(rune('a'+i)) + "-exp"
		b.exps[id] = &store.Experiment{ID: id, Name: name, Status: store.StatusDraft, Revision: 1}
		b.order = append(b.order, id)
	}
	return b
}

func (b *memBackend) get(id string) (*store.Experiment, error) {
	e, ok := b.exps[id]
	if !ok {
		return nil, &client.APIError{StatusCode: 404, Code: "not_found", Detail: "Experiment not found"}
	}
	return e, nil
}

func (b *memBackend) ReadExperiment(_ context.Context, id string) (*store.Experiment, error) {
	e, err := b.get(id)
	if err != nil {
		return nil, err
	}
	cp := *e
	return &cp, nil
}

func (b *memBackend) UpdateExperiment(_ context.Context, id string, u store.ExperimentUpdate) (*store.Experiment, error) {
	e, err := b.get(id)
	if err != nil {
		return nil, err
	}
	u.Apply(e)
	e.Revision++
	cp := *e
	return &cp, nil
}

func (b *memBackend) CompileExperiment(_ context.Context, id string) (*store.Experiment, error) {
	e, err := b.get(id)
	if err != nil {
		return nil, err
	}
	if b.compileErr != nil {
		return nil, b.compileErr
	}
	e.PythonCode = "# compiled " + e.Name + "\n"
	e.Status = store.StatusCompiled
	cp := *e
	return &cp, nil
}

func (b *memBackend) ListExperiments(_ context.Context, skip, limit int) (client.ExperimentList, error) {
	list := client.ExperimentList{Count: len(b.order)}
	for _, id := range b.order {
		list.Data = append(list.Data, *b.exps[id])
	}
	return list, nil
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "shift+tab":
		return tea.KeyMsg{Type: tea.KeyShiftTab}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func step(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(model), cmd
}

func press(t *testing.T, m model, keys ...string) model {
	t.Helper()
	for _, k := range keys {
		m, _ = step(t, m, key(k))
	}
	return m
}

func open(t *testing.T, b *memBackend, id string) model {
	t.Helper()
	m := newModel(b, id)
	m, _ = step(t, m, m.openCmd(id)())
	if m.mode != modeBuilder || m.gs == nil {
		t.Fatalf("expected builder mode, err=%v", m.err)
	}
	return m
}

func fieldIndex(t *testing.T, m model, name string) int {
	t.Helper()
	for i, f := range m.panel.Fields() {
		if f.Name == name {
			return i
		}
	}
	t.Fatalf("field %s not shown", name)
	return -1
}

func TestModel_ListAndOpen(t *testing.T) {
	b := newMemBackend("Stroop", "Flanker")
	m := newModel(b, "")

	m, _ = step(t, m, m.listCmd()())
	if len(m.experiments) != 2 {
		t.Fatalf("expected 2 experiments, got %d", len(m.experiments))
	}
	view := m.View()
	if !strings.Contains(view, "Stroop") || !strings.Contains(view, "Flanker") {
		t.Errorf("list view missing names:\n%s", view)
	}

	m = press(t, m, "j", "j")
	if m.listCursor != 1 {
		t.Errorf("expected cursor clamped at 1, got %d", m.listCursor)
	}
	m, cmd := step(t, m, key("enter"))
	if cmd == nil || m.openID != "b-exp" {
		t.Fatalf("expected open command for b-exp, got %q", m.openID)
	}
	m, _ = step(t, m, cmd())
	if m.mode != modeBuilder {
		t.Fatalf("expected builder mode, err=%v", m.err)
	}
	if !strings.Contains(m.View(), "Flanker") {
		t.Errorf("builder header missing name")
	}
}

func TestModel_OpenMissing(t *testing.T) {
	b := newMemBackend()
	m := newModel(b, "nope")
	m, _ = step(t, m, m.openCmd("nope")())
	if m.mode != modeList || m.err == nil {
		t.Fatalf("expected an error in list mode, got mode=%v err=%v", m.mode, m.err)
	}
}

func TestModel_BuildEditSaveCompile(t *testing.T) {
	b := newMemBackend("Stroop")
	m := open(t, b, "a-exp")

	// Palette: add a text node and a keyboard node.
	m = press(t, m, "shift+tab", "enter", "j", "j", "enter")
	nodes := m.gs.Nodes()
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
	text, kb := nodes[0], nodes[1]
	if text.Kind != graph.KindText || kb.Kind != graph.KindKeyboard {
		t.Fatalf("unexpected kinds %s %s", text.Kind, kb.Kind)
	}
	if kb.Position != (graph.Position{X: 140, Y: 140}) {
		t.Errorf("expected staggered drop, got %+v", kb.Position)
	}
	if m.gs.SelectedID() != kb.ID {
		t.Errorf("expected the new node selected")
	}

	// Nodes: connect text → keyboard.
	m = press(t, m, "tab", "k", "c", "j", "c")
	edges := m.gs.Edges()
	if len(edges) != 1 || edges[0].Source != text.ID || edges[0].Target != kb.ID {
		t.Fatalf("unexpected edges %+v", edges)
	}

	// Move the text node; the editor follows the new x.
	m = press(t, m, "k", "L")
	if props, _ := m.gs.Props(text.ID); props["x"] != 120.0 {
		t.Errorf("expected x=120 in props, got %v", props["x"])
	}
	if v := m.panel.Fields()[fieldIndex(t, m, "x")].Value; v != 120.0 {
		t.Errorf("expected editor x=120 after move, got %v", v)
	}

	// Properties: edit the text.
	m = press(t, m, "tab", "enter")
	if !m.editing {
		t.Fatal("expected edit mode")
	}
	m.input.SetValue("Ready?")
	m = press(t, m, "enter")
	if props, _ := m.gs.Props(text.ID); props["text"] != "Ready?" {
		t.Errorf("expected edited text, got %v", props["text"])
	}

	// Toggle a bool on the keyboard node.
	m = press(t, m, "shift+tab", "j", "tab")
	m.fieldCursor = fieldIndex(t, m, "store_correct")
	m = press(t, m, "enter")
	if props, _ := m.gs.Props(kb.ID); props["store_correct"] != true {
		t.Errorf("expected store_correct toggled, got %v", props["store_correct"])
	}

	// Save.
	m, cmd := step(t, m, key("s"))
	if cmd == nil || !m.busy {
		t.Fatal("expected save to start")
	}
	m, _ = step(t, m, cmd())
	if m.status != "Experiment saved." {
		t.Errorf("unexpected status %q (err=%v)", m.status, m.err)
	}
	if !strings.Contains(string(b.exps["a-exp"].PsyexpData), "Ready?") {
		t.Errorf("saved document missing edit: %s", b.exps["a-exp"].PsyexpData)
	}

	// Compile, then view the code.
	m, cmd = step(t, m, key("p"))
	m, _ = step(t, m, cmd())
	if m.status != "Experiment compiled." {
		t.Errorf("unexpected status %q (err=%v)", m.status, m.err)
	}
	m = press(t, m, "v")
	if !m.showCode || !strings.Contains(m.View(), "# compiled Stroop") {
		t.Errorf("expected code view:\n%s", m.View())
	}
	m = press(t, m, "esc")
	if m.showCode {
		t.Error("expected esc to leave code view")
	}
}

func TestModel_CompileFailureShowsDetail(t *testing.T) {
	b := newMemBackend("Loud")
	b.compileErr = &client.APIError{StatusCode: 422, Code: "compile_failed", Detail: "Volume must be between 0 and 1"}
	m := open(t, b, "a-exp")

	m, cmd := step(t, m, key("p"))
	m, tick := step(t, m, cmd())
	if m.err == nil || m.err.Error() != "Compilation failed. Volume must be between 0 and 1" {
		t.Fatalf("unexpected error %v", m.err)
	}
	if tick == nil {
		t.Fatal("expected a timer to clear the notification")
	}

	m, _ = step(t, m, clearStatusMsg{seq: m.statusSeq})
	if m.err != nil {
		t.Errorf("expected the notification cleared, got %v", m.err)
	}
}

func TestModel_DeleteAndCancelConnect(t *testing.T) {
	b := newMemBackend("Edits")
	m := open(t, b, "a-exp")
	m = press(t, m, "shift+tab", "enter", "enter", "tab")
	if len(m.gs.Nodes()) != 2 {
		t.Fatalf("expected 2 nodes")
	}

	m = press(t, m, "c", "esc")
	if m.connectFrom != "" || m.gs.SelectedID() != "" {
		t.Errorf("expected esc to cancel connect and clear selection")
	}

	m = press(t, m, "d")
	if len(m.gs.Nodes()) != 1 {
		t.Fatalf("expected 1 node after delete, got %d", len(m.gs.Nodes()))
	}
	if m.nodeCursor != 0 {
		t.Errorf("expected cursor on the remaining node, got %d", m.nodeCursor)
	}
}
