package task

// Event names published on the bus whenever the stored task set changes.
// Every payload is JSON-serializable so it can cross a process boundary.
const (
	EventAdded     = "task-added"
	EventUpdated   = "task-updated"
	EventDeleted   = "task-deleted"
	EventReordered = "tasks-reordered"
)

// AddedPayload accompanies EventAdded.
type AddedPayload struct {
	Task Task `json:"task"`
}

// UpdatedPayload accompanies EventUpdated. Action tags what changed,
// e.g. "toggled".
type UpdatedPayload struct {
	Task   Task   `json:"task"`
	Action string `json:"action"`
}

// DeletedPayload accompanies EventDeleted.
type DeletedPayload struct {
	ID int64 `json:"id"`
}

// ReorderedPayload accompanies EventReordered with the ids involved.
type ReorderedPayload struct {
	IDs []int64 `json:"ids"`
}
