package compiler

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rmax-ai/psyflow/pkg/document"
)

func mustCompiler(t *testing.T) *Compiler {
	t.Helper()
	c, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func parse(t *testing.T, raw string) document.Document {
	t.Helper()
	doc, err := document.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return doc
}

func TestCompile_TextNode(t *testing.T) {
	c := mustCompiler(t)
	doc := parse(t, `{"react_flow": {"nodes": [{"id": "1", "type": "text", "data": {"label": "Test Node"}}]}}`)

	code, err := c.Compile("stroop", doc)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	for _, want := range []string{
		"expName = 'stroop'",
		"# Node: Test Node (text)",
		"TestNode = visual.TextStim(win=win, name='TestNode', text='Hello World', pos=(0.0, 0.0))",
		"core.wait(1.0)",
	} {
		if !strings.Contains(code, want) {
			t.Errorf("generated code missing %q:\n%s", want, code)
		}
	}
	if strings.Contains(code, "import RPi.GPIO") || strings.Contains(code, "import sound") {
		t.Error("unused imports emitted")
	}
}

func TestCompile_EmptyDocument(t *testing.T) {
	c := mustCompiler(t)
	code, err := c.Compile("blank", parse(t, `{}`))
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if !strings.Contains(code, "expName = 'blank'") || strings.Contains(code, "# Node:") {
		t.Errorf("unexpected output:\n%s", code)
	}
}

func TestCompile_AllKinds(t *testing.T) {
	c := mustCompiler(t)
	doc := parse(t, `{
	  "react_flow": {
	    "nodes": [
	      {"id": "k", "type": "keyboard", "data": {"label": "resp"}},
	      {"id": "t", "type": "text", "position": {"x": 100, "y": 100}, "data": {"label": "fixation"}},
	      {"id": "s", "type": "sound", "data": {"label": "beep"}},
	      {"id": "g", "type": "gpio", "data": {"label": "trigger"}},
	      {"id": "i", "type": "image", "data": {"label": "face"}},
	      {"id": "e", "type": "eyetracker", "data": {"label": "et"}}
	    ],
	    "edges": [{"id": "e1", "source": "t", "target": "k"}]
	  },
	  "component_props": {
	    "k": {"allowed_keys": "left, right", "duration": 2, "store_correct": true, "correct_answer": "left"},
	    "g": {"pin": 4, "state": "low", "duration": 0.1}
	  }
	}`)

	code, err := c.Compile("all", doc)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	for _, want := range []string{
		"from psychopy import sound",
		"import RPi.GPIO as GPIO",
		"resp_keys = event.waitKeys(maxWait=2.0, keyList=['left', 'right'], timeStamped=resp_clock)",
		"thisExp.addData('resp.corr', int(resp_keys[0][0] == 'left'))",
		"beep = sound.Sound('A', secs=1.0, volume=1.0, name='beep')",
		"GPIO.output(4, GPIO.LOW)",
		"face = visual.ImageStim(win=win, name='face', image=None",
		"# Node: et (eyetracker) skipped: unsupported component",
	} {
		if !strings.Contains(code, want) {
			t.Errorf("generated code missing %q", want)
		}
	}
	if strings.Index(code, "# Node: fixation") > strings.Index(code, "# Node: resp") {
		t.Error("edge order not respected")
	}
}

func TestCompile_InvalidProps(t *testing.T) {
	c := mustCompiler(t)
	doc := parse(t, `{
	  "react_flow": {"nodes": [{"id": "n1", "type": "text", "data": {"label": "bad"}}]},
	  "component_props": {"n1": {"duration": -1}}
	}`)

	_, err := c.Compile("x", doc)
	if !errors.Is(err, ErrInvalidComponent) {
		t.Fatalf("expected ErrInvalidComponent, got %v", err)
	}
	var ce *ComponentError
	if !errors.As(err, &ce) || ce.NodeID != "n1" {
		t.Errorf("expected ComponentError for n1, got %v", err)
	}
	if !strings.Contains(err.Error(), "Duration") {
		t.Errorf("detail missing from %q", err.Error())
	}
}

func TestCompile_Deterministic(t *testing.T) {
	c := mustCompiler(t)
	doc := parse(t, `{"react_flow": {"nodes": [
		{"id": "a", "type": "text", "data": {"label": "text"}},
		{"id": "b", "type": "text", "data": {"label": "text"}}
	]}}`)
	first, err := c.Compile("d", doc)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	second, _ := c.Compile("d", doc)
	if first != second {
		t.Error("output differs between runs")
	}
	if !strings.Contains(first, "text_2 = visual.TextStim") {
		t.Error("duplicate labels not disambiguated")
	}
}

func TestIdentifier(t *testing.T) {
	tests := map[string]string{
		"Test Node":  "TestNode",
		"1st trial":  "component_1sttrial",
		"":           "component_",
		"!!!":        "component_",
		"go_signal":  "go_signal",
		"réponse-1":  "réponse1",
	}
	for in, want := range tests {
		if got := Identifier(in); got != want {
			t.Errorf("Identifier(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOrder(t *testing.T) {
	nodes := []document.Node{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	ids := func(ns []document.Node) []string {
		var out []string
		for _, n := range ns {
			out = append(out, n.ID)
		}
		return out
	}

	tests := []struct {
		name  string
		edges []document.Edge
		want  []string
	}{
		{"no edges", nil, []string{"a", "b", "c", "d"}},
		{"chain reversed", []document.Edge{{Source: "d", Target: "c"}, {Source: "c", Target: "b"}, {Source: "b", Target: "a"}}, []string{"d", "c", "b", "a"}},
		{"cycle falls back", []document.Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "a"}}, []string{"c", "d", "a", "b"}},
		{"dangling ignored", []document.Edge{{Source: "x", Target: "a"}}, []string{"a", "b", "c", "d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ids(Order(nodes, tt.edges)); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Order() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPyLiteral(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "None"},
		{true, "True"},
		{1.0, "1.0"},
		{0.5, "0.5"},
		{17, "17"},
		{"it's", `'it\'s'`},
		{"a\nb", `'a\nb'`},
		{[]string{"space"}, "['space']"},
	}
	for _, tt := range tests {
		if got := pyLiteral(tt.in); got != tt.want {
			t.Errorf("pyLiteral(%#v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
