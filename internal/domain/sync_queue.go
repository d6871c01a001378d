package domain

import "time"

type SyncOperation string

const (
	OpEdit   SyncOperation = "edit"
	OpCreate SyncOperation = "create"
	OpDelete SyncOperation = "delete"
)

type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueSynced    QueueStatus = "synced"
	QueueConflict  QueueStatus = "conflict"
	QueueDuplicate QueueStatus = "duplicate"
	QueueFailed    QueueStatus = "failed"
)

// SyncQueueItem is a pending operation awaiting confirmation against the
// durable store. Items are processed in enqueue order per user.
type SyncQueueItem struct {
	ID            string        `json:"id"`
	Operation     SyncOperation `json:"operation"`
	NoteID        string        `json:"note_id"`
	VersionID     string        `json:"version_id"`
	UserID        string        `json:"user_id"`
	DeviceID      string        `json:"device_id"`
	EnqueuedAt    time.Time     `json:"enqueued_at"`
	Attempts      int           `json:"attempts"`
	MaxAttempts   int           `json:"max_attempts"`
	NextAttemptAt time.Time     `json:"next_attempt_at"`
	Status        QueueStatus   `json:"status"`
	LastError     string        `json:"last_error,omitempty"`
}

// Terminal reports whether the item has reached a state that will never be
// retried.
func (i *SyncQueueItem) Terminal() bool {
	switch i.Status {
	case QueueSynced, QueueDuplicate, QueueFailed:
		return true
	}
	return false
}

type SyncStatus struct {
	Counts     map[QueueStatus]int `json:"counts"`
	Online     bool                `json:"online"`
	InProgress bool                `json:"in_progress"`
}

type OfflineEditRequest struct {
	NoteID   string `json:"note_id" validate:"required"`
	Title    string `json:"title" validate:"required,max=512"`
	Content  string `json:"content"`
	DeviceID string `json:"device_id" validate:"required"`
	// BaseVersionID is the version the device last saw before it went
	// offline. Empty means the edit applies to whatever is current.
	BaseVersionID string `json:"base_version_id"`
}
