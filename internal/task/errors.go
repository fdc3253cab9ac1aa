package task

import "errors"

// Failure classes surfaced by the storage and event layers. Callers match
// with errors.Is; wrapped context is added at the layer that fails.
var (
	// ErrEmptyText rejects an add whose text is empty after trimming.
	ErrEmptyText = errors.New("task text is empty")

	// ErrInvalidDate rejects a date scope that is not a calendar date.
	ErrInvalidDate = errors.New("invalid date scope")

	// ErrNotFound reports a mutation against an id that does not exist.
	ErrNotFound = errors.New("task not found")

	// ErrStoreClosed reports use of a store that was never opened or has
	// been closed.
	ErrStoreClosed = errors.New("store is closed")

	// ErrBusy reports that the write lock could not be acquired within the
	// busy timeout. Retryable at the caller's discretion.
	ErrBusy = errors.New("database is busy")

	// ErrUnserializable reports an event payload that cannot be represented
	// as JSON. This is a logic bug, not a runtime condition.
	ErrUnserializable = errors.New("payload is not serializable")
)
