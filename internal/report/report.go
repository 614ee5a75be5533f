// Package report renders import tables and module imports for humans.
// Output is styled with lipgloss when written to a terminal.
package report

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/wippyai/wasi-bootstrap/errors"
	"github.com/wippyai/wasi-bootstrap/internal/memfs"
	"github.com/wippyai/wasi-bootstrap/runtime"
	"github.com/wippyai/wasi-bootstrap/wasm"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	NamespaceStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA"))

	FuncStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	TypeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	OKStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#90EE90"))

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	HelpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Printer writes reports, styled or plain.
type Printer struct {
	w     io.Writer
	color bool
}

// New creates a printer. Color enables lipgloss styling.
func New(w io.Writer, color bool) *Printer {
	return &Printer{w: w, color: color}
}

// ForFile creates a printer that styles output only when f is a terminal.
func ForFile(f *os.File) *Printer {
	return New(f, IsTerminal(f))
}

func (p *Printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

// Imports writes the import table grouped by namespace. Empty namespaces
// are listed explicitly.
func (p *Printer) Imports(t *runtime.ImportTable) {
	fmt.Fprintf(p.w, "%s %d entries\n", p.style(TitleStyle, "Imports"), t.Len())
	for _, ns := range t.Namespaces() {
		entries := t.Entries(ns)
		fmt.Fprintf(p.w, "\n%s", p.style(NamespaceStyle, ns))
		if len(entries) == 0 {
			fmt.Fprintf(p.w, " %s\n", p.style(HelpStyle, "(empty)"))
			continue
		}
		fmt.Fprintln(p.w)
		for _, e := range entries {
			fmt.Fprintf(p.w, "  %s %s %s %s\n",
				p.style(FuncStyle, e.Field),
				wasm.KindName(e.Kind),
				p.style(TypeStyle, e.Type()),
				p.style(HelpStyle, "["+string(e.Source)+"]"))
		}
	}
}

// Status is one declared import and whether the table satisfies it.
type Status struct {
	Import wasm.Import
	Type   string
	Issue  *errors.ImportIssue
	Source runtime.Source
}

// Satisfied reports whether the import resolved.
func (s Status) Satisfied() bool {
	return s.Issue == nil
}

// Resolve matches every import m declares against t.
func Resolve(m *wasm.Module, t *runtime.ImportTable) []Status {
	issues := make(map[string]errors.ImportIssue)
	var mismatch *errors.ImportMismatchError
	if err := t.Check(m); stderrors.As(err, &mismatch) {
		for _, issue := range mismatch.Issues {
			issues[issue.Namespace+"#"+issue.Field] = issue
		}
	}

	out := make([]Status, 0, len(m.Imports))
	for _, imp := range m.Imports {
		st := Status{Import: imp, Type: importType(m, imp)}
		if issue, bad := issues[imp.Key()]; bad {
			st.Issue = &issue
		} else if e, ok := t.Lookup(imp.Module, imp.Name); ok {
			st.Source = e.Source
		}
		out = append(out, st)
	}
	return out
}

func importType(m *wasm.Module, imp wasm.Import) string {
	switch imp.Desc.Kind {
	case wasm.KindFunc:
		if ft, ok := m.ImportFuncType(imp); ok {
			return ft.String()
		}
	case wasm.KindMemory:
		return imp.Desc.Memory.String()
	}
	return wasm.KindName(imp.Desc.Kind)
}

// FormatStatus renders a single status line without a trailing newline.
func (p *Printer) FormatStatus(s Status) string {
	mark := p.style(OKStyle, "ok  ")
	detail := p.style(HelpStyle, "["+string(s.Source)+"]")
	if !s.Satisfied() {
		mark = p.style(ErrorStyle, "FAIL")
		detail = p.style(ErrorStyle, string(s.Issue.Kind))
		if s.Issue.Have != "" {
			detail += p.style(HelpStyle, " have "+s.Issue.Have)
		}
	}
	return fmt.Sprintf("%s %s.%s %s %s",
		mark,
		s.Import.Module,
		p.style(FuncStyle, s.Import.Name),
		p.style(TypeStyle, s.Type),
		detail)
}

// Statuses writes one line per declared import and a summary.
func (p *Printer) Statuses(statuses []Status) {
	failed := 0
	for _, s := range statuses {
		if !s.Satisfied() {
			failed++
		}
		fmt.Fprintln(p.w, p.FormatStatus(s))
	}
	summary := fmt.Sprintf("%d imports, %d unsatisfied", len(statuses), failed)
	if failed > 0 {
		fmt.Fprintln(p.w, p.style(ErrorStyle, summary))
	} else {
		fmt.Fprintln(p.w, p.style(OKStyle, summary))
	}
}

// Files lists files the module left in the in-memory filesystem.
func (p *Printer) Files(mount string, files []memfs.File) {
	if len(files) == 0 {
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.style(TitleStyle, "Files"), mount)
	for _, f := range files {
		fmt.Fprintf(p.w, "  %s %s\n",
			strings.TrimSuffix(mount, "/")+f.Path,
			p.style(HelpStyle, fmt.Sprintf("%d bytes", f.Size)))
	}
}
