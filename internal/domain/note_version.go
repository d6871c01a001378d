package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

type VersionStatus string

const (
	VersionPending    VersionStatus = "pending"
	VersionSynced     VersionStatus = "synced"
	VersionConflict   VersionStatus = "conflict"
	VersionSuperseded VersionStatus = "superseded"
)

// NoteVersion is an immutable snapshot of a note's title and content.
// ParentVersionID references the version that was current when the edit
// was made; it is the lineage anchor used for conflict detection.
type NoteVersion struct {
	ID              string        `json:"id"`
	NoteID          string        `json:"note_id"`
	AuthorID        string        `json:"author_id"`
	DeviceID        string        `json:"device_id"`
	ParentVersionID string        `json:"parent_version_id"`
	Title           string        `json:"title"`
	Content         string        `json:"content"`
	ContentHash     string        `json:"content_hash"`
	Status          VersionStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
}

type VersionResponse struct {
	ID              string        `json:"id"`
	NoteID          string        `json:"note_id"`
	AuthorID        string        `json:"author_id"`
	DeviceID        string        `json:"device_id"`
	ParentVersionID string        `json:"parent_version_id"`
	Title           string        `json:"title"`
	ContentHash     string        `json:"content_hash"`
	Status          VersionStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
}

func (v *NoteVersion) ToResponse() *VersionResponse {
	return &VersionResponse{
		ID:              v.ID,
		NoteID:          v.NoteID,
		AuthorID:        v.AuthorID,
		DeviceID:        v.DeviceID,
		ParentVersionID: v.ParentVersionID,
		Title:           v.Title,
		ContentHash:     v.ContentHash,
		Status:          v.Status,
		CreatedAt:       v.CreatedAt,
	}
}

// HashContent computes the content hash stored on every version. Title and
// content are separated by a NUL byte so ("ab","c") and ("a","bc") differ.
func HashContent(title, content string) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}
