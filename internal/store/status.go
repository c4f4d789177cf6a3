package store

// Status is the lifecycle state of an item or task.
type Status string

const (
	StatusQueued     Status = "Queued"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"
	StatusFailed     Status = "Failed"

	// StatusNotFound is reported on lookups for unknown ids.
	StatusNotFound Status = "not_found"
)

// Terminal reports whether the status admits no further pipeline mutation.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}
