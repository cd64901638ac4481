package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rmax-ai/psyflow/pkg/canvas"
	"github.com/rmax-ai/psyflow/pkg/client"
	"github.com/rmax-ai/psyflow/pkg/components"
	"github.com/rmax-ai/psyflow/pkg/editor"
	"github.com/rmax-ai/psyflow/pkg/graph"
	"github.com/rmax-ai/psyflow/pkg/store"
	"github.com/rmax-ai/psyflow/pkg/workflow"
)

const (
	requestTimeout = 30 * time.Second
	moveStep       = 20.0
	dropStep       = 40.0
	codeHeight     = 20
)

// backend is the daemon as seen by the TUI. *client.Client implements it.
type backend interface {
	workflow.Backend
	ListExperiments(ctx context.Context, skip, limit int) (client.ExperimentList, error)
}

type mode int

const (
	modeList mode = iota
	modeBuilder
)

type focus int

const (
	focusPalette focus = iota
	focusNodes
	focusProps
)

type experimentsMsg struct {
	list client.ExperimentList
	err  error
}

type openedMsg struct {
	gs  *graph.Store
	err error
}

type workflowMsg struct {
	op  string
	exp *store.Experiment
	err error
}

// clearStatusMsg hides a notification once it has been shown for
// workflow.NotificationDuration.
type clearStatusMsg struct {
	seq int
}

type model struct {
	api backend
	wf  *workflow.Workflow
	rec *workflow.Recorder

	mode  mode
	focus focus

	experiments []store.Experiment
	listCursor  int
	openID      string

	gs     *graph.Store
	ctrl   *canvas.Controller
	panel  *editor.Panel
	detach func()

	paletteCursor int
	nodeCursor    int
	fieldCursor   int
	connectFrom   string

	input   textinput.Model
	editing bool

	spinner  spinner.Model
	busy     bool
	code     viewport.Model
	showCode bool

	status    string
	statusSeq int
	seen      int
	err       error
	width     int
}

func newModel(api backend, experimentID string) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	in := textinput.New()
	in.Prompt = "› "
	in.CharLimit = 512

	rec := &workflow.Recorder{}
	return model{
		api:     api,
		rec:     rec,
		wf:      workflow.New(api, workflow.WithNotifier(rec), workflow.WithLogger(discardLogger)),
		openID:  experimentID,
		spinner: s,
		input:   in,
		code:    newCodeViewport(100),
		width:   100,
	}
}

func (m model) Init() tea.Cmd {
	if m.openID != "" {
		return tea.Batch(m.spinner.Tick, m.openCmd(m.openID))
	}
	return tea.Batch(m.spinner.Tick, m.listCmd())
}

// Commands

func (m model) listCmd() tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		list, err := api.ListExperiments(ctx, 0, 100)
		return experimentsMsg{list: list, err: err}
	}
}

func (m model) openCmd(id string) tea.Cmd {
	wf := m.wf
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		gs, err := wf.Open(ctx, id)
		return openedMsg{gs: gs, err: err}
	}
}

func (m model) saveCmd() tea.Cmd {
	wf := m.wf
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		exp, err := wf.Save(ctx)
		return workflowMsg{op: "save", exp: exp, err: err}
	}
}

func (m model) compileCmd() tea.Cmd {
	wf := m.wf
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		exp, err := wf.Compile(ctx)
		return workflowMsg{op: "compile", exp: exp, err: err}
	}
}

// Update

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.close()
			return m, tea.Quit
		}
		if m.editing {
			return m.updateEditing(msg)
		}
		if m.mode == modeList {
			return m.updateList(msg)
		}
		return m.updateBuilder(msg)

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.code.Width = msg.Width
		m.input.Width = msg.Width / 3
		return m, nil

	case experimentsMsg:
		m.busy = false
		m.err = msg.err
		if msg.err == nil {
			m.experiments = msg.list.Data
			if m.listCursor >= len(m.experiments) {
				m.listCursor = max(len(m.experiments)-1, 0)
			}
		}
		return m, nil

	case openedMsg:
		m.busy = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.attach(msg.gs)
		m.mode = modeBuilder
		m.focus = focusNodes
		m.err = nil
		m.status = fmt.Sprintf("Opened %s", m.experimentName())
		return m, nil

	case workflowMsg:
		m.busy = false
		if msg.err == nil && msg.op == "compile" {
			m.code.SetContent(m.wf.Code())
			m.code.GotoTop()
		}
		if !m.report() && msg.err != nil {
			m.err = msg.err
		}
		seq := m.statusSeq
		return m, tea.Tick(workflow.NotificationDuration, func(time.Time) tea.Msg {
			return clearStatusMsg{seq: seq}
		})

	case clearStatusMsg:
		if msg.seq == m.statusSeq {
			m.status = ""
			m.err = nil
		}
		return m, nil
	}

	return m, nil
}

func (m model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "up", "k":
		if m.listCursor > 0 {
			m.listCursor--
		}
	case "down", "j":
		if m.listCursor < len(m.experiments)-1 {
			m.listCursor++
		}
	case "r":
		m.busy = true
		return m, m.listCmd()
	case "enter":
		if len(m.experiments) == 0 {
			return m, nil
		}
		m.openID = m.experiments[m.listCursor].ID
		m.busy = true
		return m, m.openCmd(m.openID)
	}
	return m, nil
}

func (m model) updateBuilder(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showCode {
		switch msg.String() {
		case "v", "esc", "q":
			m.showCode = false
			return m, nil
		}
		var cmd tea.Cmd
		m.code, cmd = m.code.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.close()
		return m, tea.Quit
	case "tab":
		m.focus = (m.focus + 1) % 3
		return m, nil
	case "shift+tab":
		m.focus = (m.focus + 2) % 3
		return m, nil
	case "s":
		return m.runWorkflow(m.saveCmd())
	case "p":
		return m.runWorkflow(m.compileCmd())
	case "v":
		m.code.SetContent(m.wf.Code())
		m.showCode = true
		return m, nil
	case "b":
		m.close()
		m.mode = modeList
		m.busy = true
		return m, m.listCmd()
	}

	switch m.focus {
	case focusPalette:
		m.updatePalette(msg)
	case focusNodes:
		m.updateNodes(msg)
	case focusProps:
		return m.updateProps(msg)
	}
	return m, nil
}

func (m model) runWorkflow(cmd tea.Cmd) (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	m.busy = true
	m.err = nil
	return m, cmd
}

func (m *model) updatePalette(msg tea.KeyMsg) {
	palette := components.Palette()
	switch msg.String() {
	case "up", "k":
		if m.paletteCursor > 0 {
			m.paletteCursor--
		}
	case "down", "j":
		if m.paletteCursor < len(palette)-1 {
			m.paletteCursor++
		}
	case "enter":
		n := float64(len(m.gs.Nodes()))
		pos := graph.Position{
			X: canvas.DefaultDropPosition.X + n*dropStep,
			Y: canvas.DefaultDropPosition.Y + n*dropStep,
		}
		node := m.ctrl.Drop(palette[m.paletteCursor].Kind, &pos)
		m.ctrl.Click(node.ID)
		m.nodeCursor = len(m.gs.Nodes()) - 1
		m.fieldCursor = 0
		m.status = fmt.Sprintf("Added %s", node.ID)
	}
}

func (m *model) updateNodes(msg tea.KeyMsg) {
	nodes := m.gs.Nodes()
	if len(nodes) == 0 {
		return
	}
	if m.nodeCursor >= len(nodes) {
		m.nodeCursor = len(nodes) - 1
	}
	current := nodes[m.nodeCursor]

	switch msg.String() {
	case "up", "k":
		if m.nodeCursor > 0 {
			m.nodeCursor--
		}
		m.selectCursor()
	case "down", "j":
		if m.nodeCursor < len(nodes)-1 {
			m.nodeCursor++
		}
		m.selectCursor()
	case "enter", " ":
		m.selectCursor()
	case "esc":
		m.connectFrom = ""
		m.ctrl.ClickPane()
	case "c":
		if m.connectFrom == "" {
			m.connectFrom = current.ID
			m.status = fmt.Sprintf("Connecting from %s: pick a target and press c", current.ID)
			return
		}
		if _, ok := m.ctrl.Connect(m.connectFrom, current.ID, graph.Ports{}); ok {
			m.status = fmt.Sprintf("Connected %s → %s", m.connectFrom, current.ID)
		} else {
			m.status = "Connection rejected"
		}
		m.connectFrom = ""
	case "d", "delete", "backspace":
		m.ctrl.Delete(current.ID)
		if m.connectFrom == current.ID {
			m.connectFrom = ""
		}
		if m.nodeCursor > 0 && m.nodeCursor >= len(nodes)-1 {
			m.nodeCursor--
		}
		m.status = fmt.Sprintf("Deleted %s", current.ID)
	case "H", "J", "K", "L":
		pos := current.Position
		switch msg.String() {
		case "H":
			pos.X -= moveStep
		case "L":
			pos.X += moveStep
		case "K":
			pos.Y -= moveStep
		case "J":
			pos.Y += moveStep
		}
		m.ctrl.Drag(current.ID, pos)
		// A move writes x/y into props behind the editor's back.
		m.panel.Reload()
	}
}

func (m *model) selectCursor() {
	nodes := m.gs.Nodes()
	if m.nodeCursor < len(nodes) {
		m.ctrl.Click(nodes[m.nodeCursor].ID)
		m.fieldCursor = 0
	}
}

func (m model) updateProps(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	fields := m.panel.Fields()
	if len(fields) == 0 {
		return m, nil
	}
	if m.fieldCursor >= len(fields) {
		m.fieldCursor = len(fields) - 1
	}
	field := fields[m.fieldCursor]

	switch msg.String() {
	case "up", "k":
		if m.fieldCursor > 0 {
			m.fieldCursor--
		}
	case "down", "j":
		if m.fieldCursor < len(fields)-1 {
			m.fieldCursor++
		}
	case "enter":
		if field.Type == editor.FieldBool {
			v, _ := field.Value.(bool)
			m.applyEdit(field.Name, !v)
			return m, nil
		}
		m.editing = true
		m.input.SetValue(fmt.Sprint(field.Value))
		m.input.CursorEnd()
		return m, m.input.Focus()
	}
	return m, nil
}

func (m model) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.editing = false
		m.input.Blur()
		return m, nil
	case "enter":
		fields := m.panel.Fields()
		if m.fieldCursor < len(fields) {
			m.applyEdit(fields[m.fieldCursor].Name, m.input.Value())
		}
		m.editing = false
		m.input.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) applyEdit(name string, raw any) {
	if err := m.panel.Edit(name, raw); err != nil {
		m.err = err
		return
	}
	m.err = nil
	m.status = fmt.Sprintf("Set %s", name)
}

// attach binds the model to a freshly opened graph store.
func (m *model) attach(gs *graph.Store) {
	if m.detach != nil {
		m.detach()
	}
	m.gs = gs
	m.ctrl = canvas.NewController(gs)
	m.panel = editor.NewPanel(gs, nil)
	m.detach = m.panel.Attach(gs)
	m.nodeCursor, m.fieldCursor, m.connectFrom = 0, 0, ""
	m.code.SetContent(m.wf.Code())
}

func (m *model) close() {
	if m.detach != nil {
		m.detach()
		m.detach = nil
	}
	m.wf.Close()
	m.gs, m.ctrl, m.panel = nil, nil, nil
	m.showCode, m.editing = false, false
}

// report shows the newest unseen workflow notification in the status line.
// It returns false when the workflow raised none.
func (m *model) report() bool {
	all := m.rec.All()
	if len(all) <= m.seen {
		return false
	}
	m.seen = len(all)
	n := all[len(all)-1]
	m.statusSeq++
	text := n.Title
	if n.Description != "" {
		text += " " + n.Description
	}
	if n.Level == workflow.LevelError {
		m.err = errors.New(text)
		m.status = ""
	} else {
		m.err = nil
		m.status = text
	}
	return true
}

func (m model) experimentName() string {
	if exp := m.wf.Experiment(); exp != nil {
		return exp.Name
	}
	return m.openID
}

func newCodeViewport(width int) viewport.Model {
	vp := viewport.New(width, codeHeight)
	vp.Style = codeStyle
	return vp
}
