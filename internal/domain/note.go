package domain

import "time"

type SharingStatus string

const (
	SharingPrivate SharingStatus = "private"
	SharingShared  SharingStatus = "shared"
)

type Note struct {
	ID               string        `json:"id"`
	OwnerID          string        `json:"owner_id"`
	Title            string        `json:"title"`
	Content          string        `json:"content"`
	CurrentVersionID string        `json:"current_version_id"`
	Sharing          SharingStatus `json:"sharing"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	IsDeleted        bool          `json:"is_deleted"`
}

type CreateNoteRequest struct {
	Title    string `json:"title" validate:"required,max=512"`
	Content  string `json:"content"`
	DeviceID string `json:"device_id" validate:"required"`
}

type UpdateNoteRequest struct {
	Title    string `json:"title" validate:"required,max=512"`
	Content  string `json:"content"`
	DeviceID string `json:"device_id" validate:"required"`
	// BaseVersionID is the version the client edited from. Empty means
	// the edit applies to whatever is current.
	BaseVersionID string `json:"base_version_id"`
}

type NoteResponse struct {
	ID               string        `json:"id"`
	OwnerID          string        `json:"owner_id"`
	Title            string        `json:"title"`
	Content          string        `json:"content"`
	CurrentVersionID string        `json:"current_version_id"`
	Sharing          SharingStatus `json:"sharing"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	IsDeleted        bool          `json:"is_deleted"`
}

func (n *Note) ToResponse() *NoteResponse {
	return &NoteResponse{
		ID:               n.ID,
		OwnerID:          n.OwnerID,
		Title:            n.Title,
		Content:          n.Content,
		CurrentVersionID: n.CurrentVersionID,
		Sharing:          n.Sharing,
		CreatedAt:        n.CreatedAt,
		UpdatedAt:        n.UpdatedAt,
		IsDeleted:        n.IsDeleted,
	}
}
