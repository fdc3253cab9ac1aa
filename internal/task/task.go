// Package task defines the core task entity shared by the storage, event and
// view layers, along with the date-scope helpers and the error taxonomy used
// across them.
package task

import (
	"time"
)

// DateLayout is the calendar-date form of a scope, e.g. "2025-01-02".
const DateLayout = "2006-01-02"

// Task is the persisted entity. SortOrder is meaningful only relative to
// other tasks sharing the same (DateScope, Completed) pair.
type Task struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"createdAt"`
	DateScope string    `json:"dateScope"`
	SortOrder int64     `json:"sortOrder"`
}

// Scope derives the date scope for a creation timestamp.
func Scope(t time.Time) string {
	return t.Format(DateLayout)
}

// Today returns the current date scope.
func Today() string {
	return Scope(time.Now())
}

// ValidScope reports whether s is a well-formed date scope.
func ValidScope(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}
