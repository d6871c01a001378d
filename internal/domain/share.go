package domain

import "time"

// Share grants a collaborator access to a note. Grants are written by the
// external sharing layer; this core reads them to scope broadcasts.
type Share struct {
	ID        string    `json:"id"`
	NoteID    string    `json:"note_id"`
	UserID    string    `json:"user_id"`
	GrantedBy string    `json:"granted_by"`
	CreatedAt time.Time `json:"created_at"`
}

type GrantShareRequest struct {
	UserID string `json:"user_id" validate:"required"`
}
