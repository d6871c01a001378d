package domain

import "time"

type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionInactive SessionStatus = "inactive"
)

// EditingSession represents transient presence: one session per
// (note, user) pair, created on start-editing and closed on stop-editing,
// disconnect or inactivity timeout.
type EditingSession struct {
	ID           string        `json:"id"`
	NoteID       string        `json:"note_id"`
	UserID       string        `json:"user_id"`
	DeviceID     string        `json:"device_id"`
	Status       SessionStatus `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	LastActivity time.Time     `json:"last_activity"`
}

// DeviceSession tracks a live transport endpoint, not domain data.
type DeviceSession struct {
	ID            string    `json:"id"`
	DeviceID      string    `json:"device_id"`
	UserID        string    `json:"user_id"`
	LastConnected time.Time `json:"last_connected"`
}
