// Package tui implements tapectl's read-only tape browser: a
// bubbletea program listing every tape in a store, with the selected
// tape's exchanges shown in a detail pane below the list.
package tui

import (
	"fmt"
	"sort"
	"strings"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"github.com/rivo/uniseg"

	"github.com/termvcr/termvcr/internal/store"
	"github.com/termvcr/termvcr/internal/tape"
)

var (
	rowStyle         = lipgloss.NewStyle().PaddingLeft(1)
	selectedRowStyle = rowStyle.Bold(true).Foreground(lipgloss.Color("212"))
	headerStyle      = lipgloss.NewStyle().Bold(true).Underline(true)
	detailStyle      = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("245"))
)

type row struct {
	path string
	tp   *tape.Tape
}

// Model is the browse screen's bubbletea model.
type Model struct {
	rows     []row
	cursor   int
	quitting bool
}

// New builds a Model listing every tape currently loaded in st.
func New(st *store.Store) Model {
	tapes := st.Tapes()
	rows := make([]row, 0, len(tapes))
	for p, t := range tapes {
		rows = append(rows, row{path: p, tp: t})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].path < rows[j].path })
	return Model{rows: rows}
}

// Init satisfies tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update satisfies tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	return m.handleKey(keyMsg.String())
}

// handleKey applies one decoded key name to the model. Split out from
// Update so the navigation logic is testable without constructing a
// tea.KeyMsg literal.
func (m Model) handleKey(key string) (Model, tea.Cmd) {
	switch key {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}
	}
	return m, nil
}

// View satisfies tea.Model.
func (m Model) View() tea.View {
	return tea.NewView(m.render())
}

// render builds the screen content as plain text.
func (m Model) render() string {
	if m.quitting {
		return ""
	}
	if len(m.rows) == 0 {
		return "no tapes loaded.\n"
	}

	pathWidth := maxPathWidth(m.rows)

	var list strings.Builder
	list.WriteString(headerStyle.Render("tapes") + "\n")
	for i, r := range m.rows {
		line := fmt.Sprintf("%s (%d exchanges)", padToWidth(r.path, pathWidth), len(r.tp.Exchanges))
		style := rowStyle
		if i == m.cursor {
			line = "> " + line
			style = selectedRowStyle
		} else {
			line = "  " + line
		}
		list.WriteString(style.Render(line) + "\n")
	}

	return list.String() + "\n" + m.renderDetail()
}

// maxPathWidth returns the display width (in grapheme clusters, not
// bytes) of the widest tape path, used to align the exchange-count
// column regardless of multi-byte program names.
func maxPathWidth(rows []row) int {
	max := 0
	for _, r := range rows {
		if w := uniseg.StringWidth(r.path); w > max {
			max = w
		}
	}
	return max
}

// padToWidth right-pads s with spaces to width display columns,
// measured with uniseg so combining marks and wide runes don't throw
// off alignment the way len(s) would.
func padToWidth(s string, width int) string {
	w := uniseg.StringWidth(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

func (m Model) renderDetail() string {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return ""
	}
	r := m.rows[m.cursor]
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s %v", r.tp.Meta.Program, r.tp.Meta.Args)) + "\n")
	for i, ex := range r.tp.Exchanges {
		text := ""
		if ex.Input.Text != nil {
			text = *ex.Input.Text
		}
		b.WriteString(detailStyle.Render(fmt.Sprintf("[%d] prompt=%q input=%q chunks=%d", i, ex.Pre.Prompt, text, len(ex.Output.Chunks))) + "\n")
	}
	return b.String()
}

// Run starts the bubbletea program in the terminal, blocking until the
// user quits.
func Run(st *store.Store) error {
	p := tea.NewProgram(New(st))
	_, err := p.Run()
	return err
}
