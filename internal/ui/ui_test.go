package ui

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daylist/internal/config"
	"daylist/internal/storage"
	"daylist/internal/task"
	"daylist/internal/viewstore"
)

const testDate = "2025-03-10"

func openTestStorage(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func defaultTestConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.LoadOrCreate(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	return cfg
}

func TestClampCursor(t *testing.T) {
	assert.Equal(t, 0, clampCursor(0, 0))
	assert.Equal(t, 0, clampCursor(5, 0))
	assert.Equal(t, 0, clampCursor(-1, 3))
	assert.Equal(t, 2, clampCursor(2, 3))
	assert.Equal(t, 2, clampCursor(7, 3))
}

func TestNextCalendarDay(t *testing.T) {
	assert.Equal(t, "2025-03-11", nextCalendarDay("2025-03-10"))
	assert.Equal(t, "2025-03-01", nextCalendarDay("2025-02-28"))
	assert.Equal(t, "2026-01-01", nextCalendarDay("2025-12-31"))
	// Malformed input is returned unchanged rather than guessed at.
	assert.Equal(t, "not-a-date", nextCalendarDay("not-a-date"))
}

func TestStateMsgReplacesTasksAndClampsCursor(t *testing.T) {
	m := Model{
		cursor: 4,
		tasks: []task.Task{
			{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}, {ID: 5},
		},
	}

	updated, _ := m.Update(stateMsg(viewstore.State{
		Tasks: []task.Task{{ID: 1, Text: "only one left"}},
	}))
	got, ok := updated.(Model)
	require.True(t, ok)

	assert.Len(t, got.tasks, 1)
	assert.Equal(t, 0, got.cursor)
}

// A mutating keypress runs the storage call inside Update while the view
// store listener pushes the resulting snapshot back at the program; the
// forwarding queue must keep the event loop live through that round trip.
func TestMutatingKeypressKeepsEventLoopLive(t *testing.T) {
	st := openTestStorage(t)
	ctx := context.Background()

	_, err := st.Add(ctx, "stretch", testDate)
	require.NoError(t, err)

	view := viewstore.New(st)
	require.NoError(t, view.Load(ctx, testDate))

	m := Model{
		view:  view,
		cfg:   defaultTestConfig(t),
		date:  testDate,
		tasks: view.State().Tasks,
		input: textinput.New(),
	}

	program := tea.NewProgram(m, tea.WithInput(nil), tea.WithoutRenderer())
	stop := forwardStates(view, program.Send)
	defer stop()

	done := make(chan error, 1)
	go func() {
		_, err := program.Run()
		done <- err
	}()

	program.Send(tea.KeyMsg{Type: tea.KeySpace})
	program.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("event loop stalled processing a mutating keypress")
	}

	list, err := st.ListByDate(ctx, testDate)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Completed, "the toggle behind the keypress must have been applied")
}

func TestForwardStatesCoalescesToNewestSnapshot(t *testing.T) {
	st := openTestStorage(t)
	view := viewstore.New(st)
	require.NoError(t, view.Load(context.Background(), testDate))

	// Sized above the total notification count so the forwarder can always
	// hand off and stop() never waits on a stuck goroutine.
	received := make(chan tea.Msg, 256)
	stop := forwardStates(view, func(msg tea.Msg) { received <- msg })
	defer stop()

	// More notifications than the queue holds; the listener must not block
	// and the last snapshot must still come through.
	for i := 0; i < 50; i++ {
		_, err := view.Add(context.Background(), "burst")
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		for {
			select {
			case msg := <-received:
				if st, ok := msg.(stateMsg); ok && len(st.Tasks) == 50 {
					return true
				}
			default:
				return false
			}
		}
	}, 3*time.Second, 10*time.Millisecond)
}

func TestCompactViewReadsThroughViewStore(t *testing.T) {
	st := openTestStorage(t)
	ctx := context.Background()

	finished, err := st.Add(ctx, "done already", testDate)
	require.NoError(t, err)
	_, err = st.Add(ctx, "next up", testDate)
	require.NoError(t, err)
	_, err = st.Add(ctx, "later", testDate)
	require.NoError(t, err)
	_, err = st.Toggle(ctx, finished.ID)
	require.NoError(t, err)

	view := viewstore.New(st)
	require.NoError(t, view.Load(ctx, testDate))

	m := CompactModel{view: view, cfg: defaultTestConfig(t)}

	out := m.View()
	assert.Contains(t, out, "next up")
	assert.Contains(t, out, "+1 more")
	assert.NotContains(t, out, "done already")

	// The toggle key completes whatever the view store says is next.
	_, _ = m.Update(tea.KeyMsg{Type: tea.KeySpace})
	next, ok := view.FirstIncomplete()
	require.True(t, ok)
	assert.Equal(t, "later", next.Text)
}
