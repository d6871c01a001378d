package domain

import "time"

type HistoryAction string

const (
	ActionOfflineEdit      HistoryAction = "offline_edit"
	ActionSyncComplete     HistoryAction = "sync_complete"
	ActionSyncFailed       HistoryAction = "sync_failed"
	ActionConflictDetected HistoryAction = "conflict_detected"
	ActionConflictResolved HistoryAction = "conflict_resolved"
	ActionVersionPromoted  HistoryAction = "version_promoted"
	ActionNoteForked       HistoryAction = "note_forked"
	ActionNoteDeleted      HistoryAction = "note_deleted"
)

// HistoryEntry is an append-only audit record. Entries are never updated or
// deleted by normal operation.
type HistoryEntry struct {
	ID          string         `json:"id"`
	NoteID      string         `json:"note_id"`
	VersionID   string         `json:"version_id,omitempty"`
	UserID      string         `json:"user_id"`
	Action      HistoryAction  `json:"action"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Seq         int64          `json:"seq"` // insertion order, ties on timestamp
}
