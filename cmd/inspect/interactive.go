package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/wippyai/wasi-bootstrap/internal/report"
)

const pageSize = 20

type interactiveModel struct {
	res      *inspection
	printer  *report.Printer
	visible  []report.Status
	filter   textinput.Model
	selected int
	offset   int
	failOnly bool
}

func newInteractiveModel(res *inspection) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = "namespace or field"
	ti.Prompt = "filter: "
	ti.Width = 40
	ti.Focus()

	m := &interactiveModel{
		res:     res,
		printer: report.New(nil, true),
		filter:  ti,
	}
	m.applyFilter()
	return m
}

func (m *interactiveModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *interactiveModel) applyFilter() {
	q := strings.ToLower(strings.TrimSpace(m.filter.Value()))
	m.visible = m.visible[:0]
	for _, s := range m.res.statuses {
		if m.failOnly && s.Satisfied() {
			continue
		}
		key := strings.ToLower(s.Import.Module + "." + s.Import.Name)
		if q == "" || strings.Contains(key, q) {
			m.visible = append(m.visible, s)
		}
	}
	if m.selected >= len(m.visible) {
		m.selected = max(len(m.visible)-1, 0)
	}
	m.scroll()
}

func (m *interactiveModel) scroll() {
	if m.selected < m.offset {
		m.offset = m.selected
	}
	if m.selected >= m.offset+pageSize {
		m.offset = m.selected - pageSize + 1
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "up":
			if m.selected > 0 {
				m.selected--
				m.scroll()
			}
			return m, nil

		case "down":
			if m.selected < len(m.visible)-1 {
				m.selected++
				m.scroll()
			}
			return m, nil

		case "tab":
			m.failOnly = !m.failOnly
			m.applyFilter()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	m.applyFilter()
	return m, cmd
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(report.TitleStyle.Render("Imports"))
	b.WriteString(" ")
	b.WriteString(m.res.path)
	b.WriteString("\n\n")
	b.WriteString(m.filter.View())
	b.WriteString("\n\n")

	if len(m.visible) == 0 {
		b.WriteString(report.HelpStyle.Render("no matching imports"))
		b.WriteString("\n")
	}

	end := min(m.offset+pageSize, len(m.visible))
	for i := m.offset; i < end; i++ {
		line := m.printer.FormatStatus(m.visible[i])
		if i == m.selected {
			b.WriteString("> ")
		} else {
			b.WriteString("  ")
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(m.visible) > 0 {
		b.WriteString("\n")
		b.WriteString(m.detail(m.visible[m.selected]))
	}

	b.WriteString("\n\n")
	mode := "all"
	if m.failOnly {
		mode = "unsatisfied"
	}
	b.WriteString(report.HelpStyle.Render(fmt.Sprintf("↑/↓ select • tab %s • esc quit", mode)))
	return b.String()
}

func (m *interactiveModel) detail(s report.Status) string {
	if s.Satisfied() {
		e, _ := m.res.table.Lookup(s.Import.Module, s.Import.Name)
		return report.OKStyle.Render("provided: " + e.String())
	}
	text := fmt.Sprintf("%s: want %s", s.Issue.Kind, s.Type)
	if s.Issue.Have != "" {
		text += ", have " + s.Issue.Have
	}
	if !m.res.table.HasNamespace(s.Import.Module) {
		text += " (namespace not provided)"
	}
	return report.ErrorStyle.Render(text)
}

func runInteractive(res *inspection) error {
	p := tea.NewProgram(newInteractiveModel(res), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
