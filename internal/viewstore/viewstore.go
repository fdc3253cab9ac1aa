// Package viewstore holds the task list currently relevant to one view: the
// tasks of a single date scope, kept fresh by reloading from persistence
// whenever the event bus signals a change. Reloads are full replaces, never
// incremental merges, so duplicate or out-of-order notifications are
// harmless.
package viewstore

import (
	"context"
	"log/slog"
	"sync"

	"daylist/internal/eventbus"
	"daylist/internal/task"
)

// Storage is the persistence surface the view store consumes. Satisfied by
// *storage.Store.
type Storage interface {
	ListByDate(ctx context.Context, date string) ([]task.Task, error)
	Add(ctx context.Context, text, date string) (task.Task, error)
	Toggle(ctx context.Context, id int64) (task.Task, error)
	Delete(ctx context.Context, id int64) (bool, error)
	ClearCompleted(ctx context.Context) (int, error)
	Reorder(ctx context.Context, ids []int64) error
	MoveToDate(ctx context.Context, id int64, date, position string) (task.Task, error)
}

// Subscriber is the bus surface the view store consumes. Satisfied by
// *eventbus.Bus.
type Subscriber interface {
	Subscribe(name string, fn eventbus.Handler) (func(), error)
}

// State is the observable snapshot handed to listeners. On error the
// previously held tasks are preserved so the view can keep showing
// stale-but-valid data instead of going blank.
type State struct {
	Tasks   []task.Task
	Loading bool
	Err     error
}

// Store is one view's projection of the persistence store. The current
// scope is explicit per-instance state: an empty scope means the view has
// deliberately not pinned a date, and implicit reloads are skipped so the
// caller decides when and what to reload.
type Store struct {
	storage Storage
	logger  *slog.Logger
	today   func() string

	mu        sync.Mutex
	scope     string
	tasks     []task.Task
	loading   bool
	err       error
	listeners map[int64]func(State)
	nextID    int64
	unsubs    []func()
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the view store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithToday overrides the default-scope clock, for tests.
func WithToday(fn func() string) Option {
	return func(s *Store) { s.today = fn }
}

// New creates a view store over the given persistence surface. The scope
// starts unset; call Load to pin one.
func New(st Storage, opts ...Option) *Store {
	s := &Store{
		storage:   st,
		logger:    slog.Default(),
		today:     task.Today,
		listeners: make(map[int64]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Watch subscribes the store to every task event on the bus; each
// notification triggers an idempotent reload of the current scope.
func (s *Store) Watch(bus Subscriber) error {
	names := []string{task.EventAdded, task.EventUpdated, task.EventDeleted, task.EventReordered}
	for _, name := range names {
		unsubscribe, err := bus.Subscribe(name, func(eventbus.Envelope) {
			s.reloadCurrent(context.Background())
		})
		if err != nil {
			s.Unwatch()
			return err
		}
		s.mu.Lock()
		s.unsubs = append(s.unsubs, unsubscribe)
		s.mu.Unlock()
	}
	return nil
}

// Unwatch removes the store's bus subscriptions.
func (s *Store) Unwatch() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
}

// Load fetches the tasks for date (today when empty), replaces the held
// list, and records date as the current scope for implicit reloads.
func (s *Store) Load(ctx context.Context, date string) error {
	if date == "" {
		date = s.today()
	}
	s.mu.Lock()
	s.scope = date
	s.loading = true
	s.mu.Unlock()
	s.notify()

	tasks, err := s.storage.ListByDate(ctx, date)

	s.mu.Lock()
	s.loading = false
	s.err = err
	if err == nil {
		s.tasks = tasks
	}
	s.mu.Unlock()
	s.notify()
	return err
}

// ClearScope marks the view as deliberately unpinned: subsequent mutations
// skip the implicit reload until the next Load.
func (s *Store) ClearScope() {
	s.mu.Lock()
	s.scope = ""
	s.mu.Unlock()
}

// Scope returns the currently pinned date, empty when unset.
func (s *Store) Scope() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// State returns a snapshot of the held list and load status.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Tasks:   append([]task.Task(nil), s.tasks...),
		Loading: s.loading,
		Err:     s.err,
	}
}

// Subscribe registers a listener invoked after every state change; the
// returned function removes it.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Add creates a task in the current scope (today when unset) and reloads.
func (s *Store) Add(ctx context.Context, text string) (task.Task, error) {
	added, err := s.storage.Add(ctx, text, s.Scope())
	s.finishMutation(ctx, err)
	return added, err
}

// Toggle flips a task and reloads the current scope.
func (s *Store) Toggle(ctx context.Context, id int64) (task.Task, error) {
	toggled, err := s.storage.Toggle(ctx, id)
	s.finishMutation(ctx, err)
	return toggled, err
}

// Delete removes a task and reloads the current scope.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	existed, err := s.storage.Delete(ctx, id)
	s.finishMutation(ctx, err)
	return existed, err
}

// Reorder applies a dragged id sequence and reloads the current scope.
func (s *Store) Reorder(ctx context.Context, ids []int64) error {
	err := s.storage.Reorder(ctx, ids)
	s.finishMutation(ctx, err)
	return err
}

// ClearCompleted removes every completed task and reloads the current scope
// (there is no per-row event to rely on).
func (s *Store) ClearCompleted(ctx context.Context) (int, error) {
	n, err := s.storage.ClearCompleted(ctx)
	s.finishMutation(ctx, err)
	return n, err
}

// MoveToDate refiles a task under another date and reloads the current scope.
func (s *Store) MoveToDate(ctx context.Context, id int64, date, position string) (task.Task, error) {
	moved, err := s.storage.MoveToDate(ctx, id, date, position)
	s.finishMutation(ctx, err)
	return moved, err
}

// finishMutation records a failed mutation in the observable state, or
// reloads the current scope after a successful one. Either way the held
// list is never left half-updated: on failure it is untouched.
func (s *Store) finishMutation(ctx context.Context, err error) {
	if err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.notify()
		return
	}
	s.reloadCurrent(ctx)
}

// reloadCurrent refreshes the pinned scope; skipped when the scope is unset.
func (s *Store) reloadCurrent(ctx context.Context) {
	scope := s.Scope()
	if scope == "" {
		return
	}
	if err := s.Load(ctx, scope); err != nil {
		s.logger.Error("view reload failed", "scope", scope, "error", err)
	}
}

// FirstIncomplete returns the first task of the incomplete partition of the
// held list; ok is false when everything is done (or the list is empty).
func (s *Store) FirstIncomplete() (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if !t.Completed {
			return t, true
		}
	}
	return task.Task{}, false
}

// Counts returns how many held tasks are incomplete and completed.
func (s *Store) Counts() (incomplete, completed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.Completed {
			completed++
		} else {
			incomplete++
		}
	}
	return incomplete, completed
}

// notify invokes every listener with the current snapshot, outside the lock.
func (s *Store) notify() {
	s.mu.Lock()
	listeners := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	state := s.State()
	for _, fn := range listeners {
		fn(state)
	}
}
