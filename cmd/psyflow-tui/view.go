package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rmax-ai/psyflow/pkg/components"
	"github.com/rmax-ai/psyflow/pkg/editor"
	"github.com/rmax-ai/psyflow/pkg/workflow"
)

// Styles
var (
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cursorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	selectStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	titleStyle   = lipgloss.NewStyle().Bold(true).Underline(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	focusedPaneStyle = paneStyle.BorderForeground(lipgloss.Color("63"))

	codeStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			PaddingRight(2)

	stateStyles = map[workflow.State]lipgloss.Style{
		workflow.StateSaved:         okStyle,
		workflow.StateCompiled:      okStyle,
		workflow.StateSaveFailed:    errorStyle,
		workflow.StateCompileFailed: errorStyle,
	}
)

func (m model) View() string {
	if m.mode == modeList {
		return m.listView()
	}
	if m.gs == nil {
		return fmt.Sprintf("\n%s Opening...", m.spinner.View())
	}
	if m.showCode {
		header := headerStyle.Width(m.width).Render("Generated script: " + m.experimentName())
		footer := subtleStyle.Render("↑/↓ scroll • v/esc back")
		return lipgloss.JoinVertical(lipgloss.Left, header, m.code.View(), footer)
	}
	return m.builderView()
}

func (m model) listView() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Experiments") + "\n\n")

	switch {
	case m.busy && len(m.experiments) == 0:
		sb.WriteString(m.spinner.View() + " Loading...")
	case len(m.experiments) == 0:
		sb.WriteString(subtleStyle.Render("No experiments. Create one with `psyflow experiment create <name>`."))
	default:
		for i, e := range m.experiments {
			line := fmt.Sprintf("%-36s  %-10s  %s", e.ID, e.Status, e.Name)
			if i == m.listCursor {
				sb.WriteString(cursorStyle.Render("▸ "+line) + "\n")
			} else {
				sb.WriteString("  " + line + "\n")
			}
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		paneStyle.Render(sb.String()),
		m.statusLine(),
		subtleStyle.Render("↑/↓ move • enter open • r refresh • q quit"),
	)
}

func (m model) builderView() string {
	state := m.wf.State()
	stateText := string(state)
	if style, ok := stateStyles[state]; ok {
		stateText = style.Render(stateText)
	}
	if state.Pending() || m.busy {
		stateText = m.spinner.View() + " " + stateText
	}
	header := headerStyle.Render(fmt.Sprintf("psyflow • %s • %s", m.experimentName(), stateText))

	colWidth := max((m.width-8)/3, 24)
	panes := lipgloss.JoinHorizontal(lipgloss.Top,
		m.pane(focusPalette, colWidth/2+4, m.paletteView()),
		m.pane(focusNodes, colWidth+colWidth/2-4, m.nodesView()),
		m.pane(focusProps, colWidth, m.propsView()),
	)

	help := "tab focus • enter add/select/edit • c connect • d delete • H/J/K/L move • s save • p compile • v code • b back • q quit"
	return lipgloss.JoinVertical(lipgloss.Left, header, panes, m.statusLine(), subtleStyle.Render(help))
}

func (m model) pane(f focus, width int, body string) string {
	style := paneStyle
	if m.focus == f {
		style = focusedPaneStyle
	}
	return style.Width(width).Render(body)
}

func (m model) paletteView() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Components") + "\n\n")
	var category components.Category
	for i, spec := range components.Palette() {
		if spec.Category != category {
			category = spec.Category
			sb.WriteString(subtleStyle.Render(strings.ToUpper(string(category))) + "\n")
		}
		if m.focus == focusPalette && i == m.paletteCursor {
			sb.WriteString(cursorStyle.Render("▸ "+spec.Title) + "\n")
		} else {
			sb.WriteString("  " + spec.Title + "\n")
		}
	}
	return sb.String()
}

func (m model) nodesView() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Timeline") + "\n\n")

	nodes := m.gs.Nodes()
	if len(nodes) == 0 {
		sb.WriteString(subtleStyle.Render("Empty graph. Add a component from the palette."))
		return sb.String()
	}

	selected := m.gs.SelectedID()
	for i, n := range nodes {
		marker := "  "
		if m.focus == focusNodes && i == m.nodeCursor {
			marker = cursorStyle.Render("▸ ")
		}
		line := fmt.Sprintf("%s [%s] (%.0f, %.0f)", n.Label, n.Kind, n.Position.X, n.Position.Y)
		switch {
		case n.ID == m.connectFrom:
			line = cursorStyle.Render(line + " ⇢")
		case n.ID == selected:
			line = selectStyle.Render(line)
		}
		sb.WriteString(marker + line + "\n")
	}

	edges := m.gs.Edges()
	if len(edges) > 0 {
		sb.WriteString("\n" + subtleStyle.Render("Edges") + "\n")
		for _, e := range edges {
			sb.WriteString(subtleStyle.Render(fmt.Sprintf("  %s → %s", e.Source, e.Target)) + "\n")
		}
	}
	return sb.String()
}

func (m model) propsView() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Properties") + "\n\n")

	ed := m.panel.Active()
	if ed == nil {
		sb.WriteString(subtleStyle.Render("Select a node to edit its properties."))
		return sb.String()
	}
	if err := ed.SeedError(); err != nil {
		sb.WriteString(errorStyle.Render(err.Error()) + "\n\n")
	}

	for i, f := range m.panel.Fields() {
		marker := "  "
		if m.focus == focusProps && i == m.fieldCursor {
			marker = cursorStyle.Render("▸ ")
		}
		value := formatValue(f)
		if m.editing && i == m.fieldCursor {
			value = m.input.View()
		}
		sb.WriteString(fmt.Sprintf("%s%s: %s\n", marker, f.Label, value))
		if m.focus == focusProps && i == m.fieldCursor && f.Help != "" {
			sb.WriteString(subtleStyle.Render("    "+f.Help) + "\n")
		}
	}
	return sb.String()
}

func formatValue(f editor.Field) string {
	switch v := f.Value.(type) {
	case bool:
		if v {
			return "[x]"
		}
		return "[ ]"
	case float64:
		return fmt.Sprintf("%g", v)
	case string:
		if v == "" {
			return subtleStyle.Render("(empty)")
		}
		return v
	default:
		return fmt.Sprint(v)
	}
}

func (m model) statusLine() string {
	switch {
	case m.err != nil:
		return errorStyle.Render(m.err.Error())
	case m.status != "":
		return okStyle.Render(m.status)
	default:
		return ""
	}
}
