// Package ui renders the two views of the task list: the full day view and
// the compact next-task view. Both are thin consumers of the view store;
// every mutation goes through it and every refresh arrives as a state
// message, so the models never talk to the database directly.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"daylist/internal/config"
	"daylist/internal/task"
	"daylist/internal/viewstore"
)

// DateNavigator lists the date scopes that exist around the displayed one.
// Satisfied by *storage.Store.
type DateNavigator interface {
	ListDatesOnOrBefore(ctx context.Context, date string) ([]string, error)
	ListDatesAfter(ctx context.Context, date string) ([]string, error)
}

// stateMsg carries a view store snapshot into the bubbletea loop.
type stateMsg viewstore.State

type mode int

const (
	modeList mode = iota
	modeAdd
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	doneStyle   = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	statusStyle = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type Model struct {
	view       *viewstore.Store
	nav        DateNavigator
	cfg        config.Config
	date       string
	tasks      []task.Task
	cursor     int
	mode       mode
	input      textinput.Model
	status     string
	confirmDel bool
	pendingDel *task.Task
	loadErr    error
}

// Run starts the full view pinned to date (today when empty).
func Run(view *viewstore.Store, nav DateNavigator, cfg config.Config, date string) error {
	if date == "" {
		date = task.Today()
	}
	if err := view.Load(context.Background(), date); err != nil {
		return err
	}

	ti := textinput.New()
	ti.Placeholder = "Task text"
	ti.CharLimit = 256
	ti.Width = 40

	m := Model{
		view:   view,
		nav:    nav,
		cfg:    cfg,
		date:   date,
		tasks:  view.State().Tasks,
		input:  ti,
		status: "Press 'a' to add, space to toggle, 'd' to delete.",
	}

	program := tea.NewProgram(m)
	stop := forwardStates(view, program.Send)
	defer stop()

	_, err := program.Run()
	return err
}

// forwardStates relays view store snapshots into the bubbletea message loop.
// Listeners fire on whatever goroutine performed the mutation, and during a
// keypress that is the event loop itself, still inside Update; Send blocks
// until the loop is reading again, so the listener must never call it
// directly. Snapshots instead pass through a latest-wins queue drained by a
// separate goroutine. Reloads are full replaces, so coalescing to the newest
// snapshot loses nothing.
func forwardStates(view *viewstore.Store, send func(tea.Msg)) (stop func()) {
	queue := make(chan viewstore.State, 8)
	unsubscribe := view.Subscribe(func(st viewstore.State) {
		for {
			select {
			case queue <- st:
				return
			default:
			}
			select {
			case <-queue: // evict the oldest pending snapshot
			default:
			}
		}
	})

	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case st := <-queue:
				send(stateMsg(st))
			case <-quit:
				return
			}
		}
	}()
	return func() {
		unsubscribe()
		close(quit)
		<-done
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateMsg:
		m.tasks = msg.Tasks
		m.loadErr = msg.Err
		m.cursor = clampCursor(m.cursor, len(m.tasks))
		return m, nil
	case tea.KeyMsg:
		if m.confirmDel {
			return m.updateDeleteConfirm(msg.String())
		}
		if m.mode == modeAdd {
			return m.updateAddMode(msg.String(), msg)
		}
		return m.updateListMode(msg.String())
	case tea.WindowSizeMsg:
		m.input.Width = msg.Width - 10
	}
	return m, nil
}

func (m Model) updateAddMode(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case m.cfg.Keys.Cancel:
		m.mode = modeList
		m.input.SetValue("")
		m.input.Blur()
		m.status = "Cancelled"
		return m, nil
	case m.cfg.Keys.Confirm:
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			m.status = "Text cannot be empty"
			return m, nil
		}
		if _, err := m.view.Add(context.Background(), text); err != nil {
			m.status = fmt.Sprintf("add failed: %v", err)
			return m, nil
		}
		m.status = "Added task"
		m.input.SetValue("")
		m.input.Blur()
		m.mode = modeList
		return m, nil
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m Model) updateListMode(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "ctrl+c", m.cfg.Keys.Quit:
		return m, tea.Quit
	case m.cfg.Keys.Down, "down":
		if len(m.tasks) > 0 {
			m.cursor = clampCursor(m.cursor+1, len(m.tasks))
		}
	case m.cfg.Keys.Up, "up":
		if m.cursor > 0 {
			m.cursor = clampCursor(m.cursor-1, len(m.tasks))
		}
	case m.cfg.Keys.Add:
		m.mode = modeAdd
		m.input.Focus()
		m.status = "Add mode: type the task and press Enter"
	case m.cfg.Keys.Toggle:
		if len(m.tasks) == 0 {
			return m, nil
		}
		t := m.tasks[m.cursor]
		if _, err := m.view.Toggle(context.Background(), t.ID); err != nil {
			m.status = fmt.Sprintf("toggle failed: %v", err)
			return m, nil
		}
		m.status = "Toggled task"
	case m.cfg.Keys.Delete:
		if len(m.tasks) == 0 {
			return m, nil
		}
		t := m.tasks[m.cursor]
		m.confirmDel = true
		m.pendingDel = &t
		m.status = fmt.Sprintf("Delete %q? y/n", t.Text)
	case m.cfg.Keys.MoveUp:
		return m.moveTask(-1)
	case m.cfg.Keys.MoveDown:
		return m.moveTask(1)
	case m.cfg.Keys.PrevDay:
		return m.gotoPrevDay()
	case m.cfg.Keys.NextDay:
		return m.gotoNextDay()
	case m.cfg.Keys.Postpone:
		if len(m.tasks) == 0 {
			return m, nil
		}
		t := m.tasks[m.cursor]
		target := nextCalendarDay(m.date)
		if _, err := m.view.MoveToDate(context.Background(), t.ID, target, "end"); err != nil {
			m.status = fmt.Sprintf("postpone failed: %v", err)
			return m, nil
		}
		m.status = "Moved to " + target
	case m.cfg.Keys.PullToToday:
		if len(m.tasks) == 0 {
			return m, nil
		}
		t := m.tasks[m.cursor]
		today := task.Today()
		if t.DateScope == today {
			m.status = "Already filed under today"
			return m, nil
		}
		if _, err := m.view.MoveToDate(context.Background(), t.ID, today, "front"); err != nil {
			m.status = fmt.Sprintf("move failed: %v", err)
			return m, nil
		}
		m.status = "Moved to the top of today"
	case m.cfg.Keys.ClearCompleted:
		n, err := m.view.ClearCompleted(context.Background())
		if err != nil {
			m.status = fmt.Sprintf("clear failed: %v", err)
			return m, nil
		}
		// ClearCompleted emits no event; our own reload already ran, other
		// windows pick the change up on their next mutation or load.
		m.status = fmt.Sprintf("Cleared %d completed", n)
	}
	return m, nil
}

// moveTask swaps the cursor task with its neighbor inside its own partition
// and submits the partition's new order as one reorder.
func (m Model) moveTask(delta int) (tea.Model, tea.Cmd) {
	if len(m.tasks) == 0 {
		return m, nil
	}
	current := m.tasks[m.cursor]

	var ids []int64
	pos := -1
	for _, t := range m.tasks {
		if t.Completed != current.Completed {
			continue
		}
		if t.ID == current.ID {
			pos = len(ids)
		}
		ids = append(ids, t.ID)
	}
	next := pos + delta
	if pos < 0 || next < 0 || next >= len(ids) {
		return m, nil
	}
	ids[pos], ids[next] = ids[next], ids[pos]

	if err := m.view.Reorder(context.Background(), ids); err != nil {
		m.status = fmt.Sprintf("reorder failed: %v", err)
		return m, nil
	}
	m.cursor = clampCursor(m.cursor+delta, len(m.tasks))
	m.status = "Reordered"
	return m, nil
}

func (m Model) gotoPrevDay() (tea.Model, tea.Cmd) {
	dates, err := m.nav.ListDatesOnOrBefore(context.Background(), m.date)
	if err != nil {
		m.status = fmt.Sprintf("navigation failed: %v", err)
		return m, nil
	}
	for _, d := range dates {
		if d < m.date {
			return m.gotoDate(d)
		}
	}
	m.status = "No earlier days"
	return m, nil
}

func (m Model) gotoNextDay() (tea.Model, tea.Cmd) {
	dates, err := m.nav.ListDatesAfter(context.Background(), m.date)
	if err != nil {
		m.status = fmt.Sprintf("navigation failed: %v", err)
		return m, nil
	}
	if len(dates) == 0 {
		// Fall back to tomorrow so tasks can be planned ahead.
		return m.gotoDate(nextCalendarDay(m.date))
	}
	return m.gotoDate(dates[0])
}

func (m Model) gotoDate(date string) (tea.Model, tea.Cmd) {
	if err := m.view.Load(context.Background(), date); err != nil {
		m.status = fmt.Sprintf("load failed: %v", err)
		return m, nil
	}
	m.date = date
	m.cursor = 0
	m.status = "Showing " + date
	return m, nil
}

func (m Model) updateDeleteConfirm(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "n", "N", m.cfg.Keys.Cancel:
		m.status = "Delete cancelled"
		m.confirmDel = false
		m.pendingDel = nil
		return m, nil
	case "y", "Y":
		if m.pendingDel == nil {
			m.confirmDel = false
			return m, nil
		}
		if _, err := m.view.Delete(context.Background(), m.pendingDel.ID); err != nil {
			m.status = fmt.Sprintf("delete failed: %v", err)
		} else {
			m.status = "Deleted task"
		}
		m.confirmDel = false
		m.pendingDel = nil
		return m, nil
	default:
		return m, nil
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("daylist — " + m.date))
	b.WriteString("\n\n")

	if len(m.tasks) == 0 {
		b.WriteString("Nothing for this day. Press 'a' to add a task.")
		b.WriteString("\n")
	} else {
		b.WriteString(m.renderTaskList())
	}

	if m.mode == modeAdd {
		b.WriteString("\nAdd: ")
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.loadErr != nil {
		b.WriteString(errorStyle.Render("error: " + m.loadErr.Error()))
		b.WriteString("\n")
	}
	b.WriteString(m.status)
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(renderHelp(m.cfg.Keys)))
	return b.String()
}

func (m Model) renderTaskList() string {
	var b strings.Builder
	lastCompleted := false
	for i, t := range m.tasks {
		if t.Completed && !lastCompleted && i > 0 {
			b.WriteString("\n")
		}
		lastCompleted = t.Completed

		cursor := " "
		if m.cursor == i && m.mode == modeList {
			cursor = cursorStyle.Render(">")
		}
		checkbox := "[ ]"
		text := t.Text
		if t.Completed {
			checkbox = "[x]"
			text = doneStyle.Render(text)
		}
		b.WriteString(fmt.Sprintf("%s %s %s\n", cursor, checkbox, text))
	}
	return b.String()
}

func renderHelp(k config.Keymap) string {
	return fmt.Sprintf("%s/%s move • %s add • %s toggle • %s delete • %s/%s reorder • %s/%s day • %s postpone • %s today • %s clear done • %s quit",
		k.Up, k.Down, k.Add, k.Toggle, k.Delete, k.MoveUp, k.MoveDown,
		k.PrevDay, k.NextDay, k.Postpone, k.PullToToday, k.ClearCompleted, k.Quit)
}

func nextCalendarDay(date string) string {
	d, err := time.Parse(task.DateLayout, date)
	if err != nil {
		return date
	}
	return d.AddDate(0, 0, 1).Format(task.DateLayout)
}

func clampCursor(cur, n int) int {
	if n <= 0 {
		return 0
	}
	if cur < 0 {
		return 0
	}
	if cur >= n {
		return n - 1
	}
	return cur
}
