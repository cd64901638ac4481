// Package compiler turns a saved experiment document into a PsychoPy script.
package compiler

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/template"
	"unicode"

	"github.com/rmax-ai/psyflow/pkg/components"
	"github.com/rmax-ai/psyflow/pkg/document"
	"github.com/rmax-ai/psyflow/pkg/graph"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// ErrInvalidComponent is returned when a node's props fail validation.
var ErrInvalidComponent = errors.New("invalid component")

// ComponentError names the node that failed to compile.
type ComponentError struct {
	NodeID string
	Label  string
	Kind   graph.Kind
	Err    error
}

func (e *ComponentError) Error() string {
	return fmt.Sprintf("component %q (%s, node %s): %v", e.Label, e.Kind, e.NodeID, e.Err)
}

func (e *ComponentError) Unwrap() []error {
	return []error{ErrInvalidComponent, e.Err}
}

// Compiler renders experiment documents. It is safe for concurrent use.
type Compiler struct {
	tmpl *template.Template
}

// New parses the embedded templates.
func New() (*Compiler, error) {
	tmpl, err := template.New("psyflow").Funcs(template.FuncMap{"py": pyLiteral}).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &Compiler{tmpl: tmpl}, nil
}

// block is the data handed to a component template.
type block struct {
	Label  string
	Var    string
	Config components.Config
	Keys   []string
}

type script struct {
	Name      string
	Blocks    []string
	UsesSound bool
	UsesGPIO  bool
}

// Compile renders the document as a runnable script named after the
// experiment. Output is deterministic for a given document.
func (c *Compiler) Compile(name string, doc document.Document) (string, error) {
	s := script{Name: name}
	if doc.ReactFlow != nil {
		vars := newNamer()
		for _, n := range Order(doc.ReactFlow.Nodes, doc.ReactFlow.Edges) {
			code, err := c.renderNode(n, doc.ComponentProps[n.ID], vars)
			if err != nil {
				return "", err
			}
			switch graph.Kind(n.Type) {
			case graph.KindSound:
				s.UsesSound = true
			case graph.KindGPIO:
				s.UsesGPIO = true
			}
			s.Blocks = append(s.Blocks, code)
		}
	}

	var buf bytes.Buffer
	if err := c.tmpl.ExecuteTemplate(&buf, "experiment.py.tmpl", s); err != nil {
		return "", fmt.Errorf("failed to render experiment: %w", err)
	}
	return buf.String(), nil
}

func (c *Compiler) renderNode(n document.Node, props map[string]any, vars *namer) (string, error) {
	kind := graph.Kind(n.Type)
	label, _ := n.Data["label"].(string)
	if label == "" {
		label = "component_" + n.ID
	}
	if !components.Known(kind) {
		return fmt.Sprintf("# Node: %s (%s) skipped: unsupported component", oneLine(label), n.Type), nil
	}

	cfg, err := components.Decode(kind, graph.Position{X: n.Position.X, Y: n.Position.Y}, graph.Props(props))
	if err == nil {
		err = components.Validate(cfg)
	}
	if err != nil {
		return "", &ComponentError{NodeID: n.ID, Label: label, Kind: kind, Err: err}
	}

	b := block{Label: oneLine(label), Var: vars.name(label), Config: cfg}
	if kb, ok := cfg.(components.KeyboardConfig); ok {
		b.Keys = kb.Keys()
	}

	var buf bytes.Buffer
	if err := c.tmpl.ExecuteTemplate(&buf, string(kind)+".py.tmpl", b); err != nil {
		return "", fmt.Errorf("failed to render node %s: %w", n.ID, err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// Identifier reduces a label to a Python identifier: letters, digits and
// underscores only, prefixed with component_ when empty or starting with a
// digit.
func Identifier(label string) string {
	var b strings.Builder
	for _, r := range label {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	id := b.String()
	if id == "" || unicode.IsDigit([]rune(id)[0]) {
		id = "component_" + id
	}
	return id
}

// namer hands out unique identifiers.
type namer struct {
	used map[string]int
}

func newNamer() *namer {
	return &namer{used: make(map[string]int)}
}

func (n *namer) name(label string) string {
	id := Identifier(label)
	n.used[id]++
	if c := n.used[id]; c > 1 {
		return fmt.Sprintf("%s_%d", id, c)
	}
	return id
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// pyLiteral renders a Go value as a Python literal.
func pyLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	case string:
		return pyString(t)
	case int:
		return strconv.Itoa(t)
	case float64:
		return pyFloat(t)
	case []string:
		parts := make([]string, len(t))
		for i, s := range t {
			parts[i] = pyString(s)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return pyString(fmt.Sprint(t))
	}
}

func pyFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "float('inf')"
	case math.IsInf(f, -1):
		return "float('-inf')"
	case math.IsNaN(f):
		return "float('nan')"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func pyString(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\x%02x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('\'')
	return b.String()
}
