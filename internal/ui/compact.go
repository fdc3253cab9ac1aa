package ui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"daylist/internal/config"
	"daylist/internal/viewstore"
)

// CompactModel is the minimal always-on-top style view: the next actionable
// task plus a count of the rest. It holds no task list of its own; every
// render reads through the view store's accessors, and state messages only
// surface errors and trigger a redraw.
type CompactModel struct {
	view   *viewstore.Store
	cfg    config.Config
	status string
}

// RunCompact starts the compact view pinned to today.
func RunCompact(view *viewstore.Store, cfg config.Config) error {
	if err := view.Load(context.Background(), ""); err != nil {
		return err
	}

	m := CompactModel{view: view, cfg: cfg}

	program := tea.NewProgram(m)
	stop := forwardStates(view, program.Send)
	defer stop()

	_, err := program.Run()
	return err
}

func (m CompactModel) Init() tea.Cmd {
	return nil
}

func (m CompactModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateMsg:
		if msg.Err != nil {
			m.status = msg.Err.Error()
		} else {
			m.status = ""
		}
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", m.cfg.Keys.Quit:
			return m, tea.Quit
		case m.cfg.Keys.Toggle:
			next, ok := m.view.FirstIncomplete()
			if !ok {
				return m, nil
			}
			if _, err := m.view.Toggle(context.Background(), next.ID); err != nil {
				m.status = fmt.Sprintf("toggle failed: %v", err)
			}
			return m, nil
		}
	}
	return m, nil
}

func (m CompactModel) View() string {
	var b strings.Builder

	next, ok := m.view.FirstIncomplete()
	if !ok {
		b.WriteString(titleStyle.Render("All done for today"))
	} else {
		incomplete, _ := m.view.Counts()
		b.WriteString(titleStyle.Render("▶ " + next.Text))
		if remaining := incomplete - 1; remaining > 0 {
			b.WriteString(statusStyle.Render(fmt.Sprintf("  +%d more", remaining)))
		}
	}
	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(errorStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(statusStyle.Render(fmt.Sprintf("%s done • %s quit", m.cfg.Keys.Toggle, m.cfg.Keys.Quit)))
	return b.String()
}
