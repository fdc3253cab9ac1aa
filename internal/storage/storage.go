// Package storage is the task persistence and ordering engine. It owns the
// single tasks table, applies every mutation inside one immediate-mode
// transaction, and keeps the gapped sort keys of each (date scope, completed)
// partition unique. Change notifications go out through an optional publisher
// after the transaction commits.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"daylist/internal/order"
	"daylist/internal/task"
)

// Publisher delivers a named, JSON-serializable notification. Satisfied by
// eventbus.Bus; nil disables notifications entirely.
type Publisher interface {
	Publish(ctx context.Context, name string, payload any) error
}

// Store wraps the sqlite database. All mutations are funneled through writeMu
// so at most one logical write per process is in flight, on top of the
// immediate-mode transaction lock that serializes writers across processes.
type Store struct {
	db      *sql.DB
	pub     Publisher
	logger  *slog.Logger
	now     func() time.Time
	writeMu sync.Mutex
}

// Option configures a Store at Open time.
type Option func(*Store)

// WithPublisher sets the notification sink for committed mutations.
func WithPublisher(p Publisher) Option {
	return func(s *Store) { s.pub = p }
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithNow overrides the clock, for tests.
func WithNow(fn func() time.Time) Option {
	return func(s *Store) { s.now = fn }
}

// Open opens (creating if necessary) the database at dbPath, ensures the
// schema, and repacks every partition once to normalize legacy or
// externally-edited sort keys.
func Open(dbPath string, opts ...Option) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("db path is empty")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.normalize(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	text TEXT NOT NULL,
	completed INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	date_scope TEXT NOT NULL,
	sort_order INTEGER NOT NULL,
	UNIQUE (date_scope, completed, sort_order)
);
CREATE INDEX IF NOT EXISTS idx_tasks_scope_order ON tasks (date_scope, sort_order);`
	_, err := s.db.Exec(ddl)
	return err
}

// normalize repacks every partition so keys start out evenly spaced.
func (s *Store) normalize(ctx context.Context) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT DISTINCT date_scope, completed FROM tasks;`)
		if err != nil {
			return err
		}
		defer rows.Close()

		type part struct {
			scope     string
			completed bool
		}
		var parts []part
		for rows.Next() {
			var p part
			var completed int
			if err := rows.Scan(&p.scope, &completed); err != nil {
				return err
			}
			p.completed = completed == 1
			parts = append(parts, p)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for _, p := range parts {
			if err := repackPartition(ctx, tx, p.scope, p.completed); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListAll returns every task, grouped by date scope, incomplete before
// completed, manual order within the group.
func (s *Store) ListAll(ctx context.Context) ([]task.Task, error) {
	if s.db == nil {
		return nil, task.ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, text, completed, created_at, date_scope, sort_order
FROM tasks
ORDER BY date_scope, completed, sort_order, created_at DESC;`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListByDate returns the tasks filed under one date scope in display order.
func (s *Store) ListByDate(ctx context.Context, date string) ([]task.Task, error) {
	if s.db == nil {
		return nil, task.ErrStoreClosed
	}
	if !task.ValidScope(date) {
		return nil, fmt.Errorf("%w: %q", task.ErrInvalidDate, date)
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, text, completed, created_at, date_scope, sort_order
FROM tasks
WHERE date_scope = ?
ORDER BY completed, sort_order, created_at DESC;`, date)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListDatesOnOrBefore returns the distinct date scopes at or before date,
// newest first. Used for historical navigation.
func (s *Store) ListDatesOnOrBefore(ctx context.Context, date string) ([]string, error) {
	return s.listDates(ctx, `SELECT DISTINCT date_scope FROM tasks WHERE date_scope <= ? ORDER BY date_scope DESC;`, date)
}

// ListDatesAfter returns the distinct date scopes after date, oldest first.
func (s *Store) ListDatesAfter(ctx context.Context, date string) ([]string, error) {
	return s.listDates(ctx, `SELECT DISTINCT date_scope FROM tasks WHERE date_scope > ? ORDER BY date_scope ASC;`, date)
}

func (s *Store) listDates(ctx context.Context, query, date string) ([]string, error) {
	if s.db == nil {
		return nil, task.ErrStoreClosed
	}
	if !task.ValidScope(date) {
		return nil, fmt.Errorf("%w: %q", task.ErrInvalidDate, date)
	}
	rows, err := s.db.QueryContext(ctx, query, date)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// Add creates a task at the end of the incomplete partition for date
// (today when date is empty) and emits task-added.
func (s *Store) Add(ctx context.Context, text, date string) (task.Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return task.Task{}, task.ErrEmptyText
	}
	now := s.now()
	if date == "" {
		date = task.Scope(now)
	} else if !task.ValidScope(date) {
		return task.Task{}, fmt.Errorf("%w: %q", task.ErrInvalidDate, date)
	}

	t := task.Task{
		Text:      text,
		CreatedAt: now.UTC(),
		DateScope: date,
	}
	err := s.write(ctx, func(tx *sql.Tx) error {
		max, ok, err := boundKey(ctx, tx, date, false, "MAX")
		if err != nil {
			return err
		}
		t.SortOrder = order.NextAppendKey(max, ok)
		res, err := tx.ExecContext(ctx, `
INSERT INTO tasks (text, completed, created_at, date_scope, sort_order)
VALUES (?, 0, ?, ?, ?);`,
			t.Text, t.CreatedAt.Format(time.RFC3339), t.DateScope, t.SortOrder)
		if err != nil {
			return err
		}
		t.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return task.Task{}, err
	}
	s.publish(ctx, task.EventAdded, task.AddedPayload{Task: t})
	return t, nil
}

// Toggle flips a task's completed flag and re-appends it to the end of its
// new partition; the old sort key is not kept. Emits task-updated.
func (s *Store) Toggle(ctx context.Context, id int64) (task.Task, error) {
	var t task.Task
	err := s.write(ctx, func(tx *sql.Tx) error {
		cur, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		t = cur
		t.Completed = !t.Completed
		max, ok, err := boundKey(ctx, tx, t.DateScope, t.Completed, "MAX")
		if err != nil {
			return err
		}
		t.SortOrder = order.NextAppendKey(max, ok)
		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET completed = ?, sort_order = ? WHERE id = ?;`,
			boolInt(t.Completed), t.SortOrder, id)
		return err
	})
	if err != nil {
		return task.Task{}, err
	}
	s.publish(ctx, task.EventUpdated, task.UpdatedPayload{Task: t, Action: "toggled"})
	return t, nil
}

// Delete removes a task. A missing id is reported as false, not an error.
// Emits task-deleted when a row was actually removed.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	var existed bool
	err := s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?;`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		existed = n > 0
		return err
	})
	if err != nil {
		return false, err
	}
	if existed {
		s.publish(ctx, task.EventDeleted, task.DeletedPayload{ID: id})
	}
	return existed, nil
}

// ClearCompleted removes every completed task across all dates and returns
// how many were removed. No event is emitted; callers reload.
func (s *Store) ClearCompleted(ctx context.Context) (int, error) {
	var count int64
	err := s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE completed = 1;`)
		if err != nil {
			return err
		}
		count, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// Reorder applies a dragged id sequence. Ids are grouped by their current
// partition; within each touched partition the requested ids lead in the
// requested order and untouched siblings follow in their prior order, all
// renumbered to fresh evenly-spaced keys in one transaction. Any unknown id
// fails the whole call and leaves every partition untouched.
// Emits tasks-reordered.
func (s *Store) Reorder(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.write(ctx, func(tx *sql.Tx) error {
		type part struct {
			scope     string
			completed bool
		}
		requested := make(map[part][]int64)
		var touched []part
		for _, id := range ids {
			cur, err := getTask(ctx, tx, id)
			if err != nil {
				return err
			}
			p := part{cur.DateScope, cur.Completed}
			if _, seen := requested[p]; !seen {
				touched = append(touched, p)
			}
			requested[p] = append(requested[p], id)
		}
		for _, p := range touched {
			existing, err := partitionIDs(ctx, tx, p.scope, p.completed)
			if err != nil {
				return err
			}
			seq := order.MergeReorder(requested[p], existing)
			if err := applyKeys(ctx, tx, seq, order.Repack(len(seq))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, task.EventReordered, task.ReorderedPayload{IDs: ids})
	return nil
}

// Placement of a moved task within its destination partition.
const (
	PositionFront = "front"
	PositionEnd   = "end"
)

// MoveToDate files a task under a different date scope, keeping its
// completed state and creation time, placed at the front or end of the
// destination partition. A front insert is followed by a repack of the
// destination so keys stay bounded. Emits tasks-reordered.
func (s *Store) MoveToDate(ctx context.Context, id int64, date, position string) (task.Task, error) {
	if !task.ValidScope(date) {
		return task.Task{}, fmt.Errorf("%w: %q", task.ErrInvalidDate, date)
	}
	switch position {
	case PositionFront, PositionEnd:
	case "":
		position = PositionEnd
	default:
		return task.Task{}, fmt.Errorf("invalid position %q", position)
	}

	var t task.Task
	err := s.write(ctx, func(tx *sql.Tx) error {
		cur, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		t = cur
		t.DateScope = date

		var key int64
		if position == PositionFront {
			min, ok, err := boundKey(ctx, tx, date, t.Completed, "MIN")
			if err != nil {
				return err
			}
			key = order.NextPrependKey(min, ok)
		} else {
			max, ok, err := boundKey(ctx, tx, date, t.Completed, "MAX")
			if err != nil {
				return err
			}
			key = order.NextAppendKey(max, ok)
		}
		t.SortOrder = key
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET date_scope = ?, sort_order = ? WHERE id = ?;`,
			t.DateScope, t.SortOrder, id); err != nil {
			return err
		}
		if position == PositionFront {
			return repackPartition(ctx, tx, date, t.Completed)
		}
		return nil
	})
	if err != nil {
		return task.Task{}, err
	}
	s.publish(ctx, task.EventReordered, task.ReorderedPayload{IDs: []int64{id}})
	return t, nil
}

// write runs fn inside one transaction under the process-wide write funnel.
// Any failure rolls back before the error is surfaced.
func (s *Store) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.db == nil {
		return task.ErrStoreClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return mapErr(err)
	}
	return nil
}

func (s *Store) publish(ctx context.Context, name string, payload any) {
	if s.pub == nil {
		return
	}
	// The mutation is already committed, so the notification outlives a
	// canceled request context.
	if err := s.pub.Publish(context.WithoutCancel(ctx), name, payload); err != nil {
		s.logger.Error("event publish failed", "event", name, "error", err)
	}
}

// repackPartition renumbers one partition to canonical keys, preserving the
// current relative order. Other partitions are never touched.
func repackPartition(ctx context.Context, tx *sql.Tx, scope string, completed bool) error {
	ids, err := partitionIDs(ctx, tx, scope, completed)
	if err != nil {
		return err
	}
	return applyKeys(ctx, tx, ids, order.Repack(len(ids)))
}

// tempKeyBase is a key band no live partition can reach; renumbering parks
// rows there first so the unique constraint never trips mid-repack.
const tempKeyBase int64 = -1 << 48

// applyKeys assigns keys[i] to ids[i] in two passes.
func applyKeys(ctx context.Context, tx *sql.Tx, ids []int64, keys []int64) error {
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET sort_order = ? WHERE id = ?;`, tempKeyBase-int64(i), id); err != nil {
			return err
		}
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET sort_order = ? WHERE id = ?;`, keys[i], id); err != nil {
			return err
		}
	}
	return nil
}

// partitionIDs returns a partition's ids in display order.
func partitionIDs(ctx context.Context, tx *sql.Tx, scope string, completed bool) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT id FROM tasks
WHERE date_scope = ? AND completed = ?
ORDER BY sort_order, created_at DESC;`, scope, boolInt(completed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// boundKey returns the MIN or MAX sort key of a partition; ok is false when
// the partition is empty.
func boundKey(ctx context.Context, tx *sql.Tx, scope string, completed bool, agg string) (int64, bool, error) {
	var bound sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT `+agg+`(sort_order) FROM tasks WHERE date_scope = ? AND completed = ?;`,
		scope, boolInt(completed)).Scan(&bound)
	if err != nil {
		return 0, false, err
	}
	return bound.Int64, bound.Valid, nil
}

func getTask(ctx context.Context, tx *sql.Tx, id int64) (task.Task, error) {
	row := tx.QueryRowContext(ctx, `
SELECT id, text, completed, created_at, date_scope, sort_order
FROM tasks WHERE id = ?;`, id)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, fmt.Errorf("%w: id %d", task.ErrNotFound, id)
	}
	return t, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (task.Task, error) {
	var t task.Task
	var completed int
	var createdStr string
	if err := row.Scan(&t.ID, &t.Text, &completed, &createdStr, &t.DateScope, &t.SortOrder); err != nil {
		return task.Task{}, err
	}
	t.Completed = completed == 1
	if created, err := time.Parse(time.RFC3339, createdStr); err == nil {
		t.CreatedAt = created
	}
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]task.Task, error) {
	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// mapErr folds driver-level lock contention into the busy error class.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return fmt.Errorf("%w: %v", task.ErrBusy, err)
	}
	return err
}

// sqliteDSN builds a file DSN for modernc.org/sqlite. mode=rwc creates the
// database if missing; _txlock=immediate takes the write lock at BEGIN so a
// reader never observes a partially-updated partition; the busy timeout
// bounds lock waits instead of failing immediately.
func sqliteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?_txlock=immediate&_pragma=busy_timeout(5000)"
	}
	if strings.HasPrefix(path, "file:") {
		return path
	}
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	u := url.URL{
		Scheme: "file",
		Path:   path,
	}
	q := u.Query()
	q.Set("mode", "rwc")
	q.Set("_txlock", "immediate")
	q.Set("_pragma", "busy_timeout(5000)")
	u.RawQuery = q.Encode()
	return u.String()
}
