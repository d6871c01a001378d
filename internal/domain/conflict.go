package domain

import "time"

type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
)

type ResolutionType string

const (
	ResolutionKeepLocal        ResolutionType = "keep_local"
	ResolutionKeepRemote       ResolutionType = "keep_remote"
	ResolutionManualMerge      ResolutionType = "manual_merge"
	ResolutionSeparateVersions ResolutionType = "create_separate_versions"
)

// ConflictComplexity classifies how far two divergent versions are apart.
type ConflictComplexity string

const (
	ComplexityIdentical ConflictComplexity = "identical"
	ComplexityTitleOnly ConflictComplexity = "title_only"
	ComplexityLocalized ConflictComplexity = "localized"
	ComplexityRewrite   ConflictComplexity = "rewrite"
)

// Conflict pairs two versions that diverged concurrently from the same
// ancestor. LocalVersionID is the pending edit, RemoteVersionID the version
// that was current when the divergence was detected.
type Conflict struct {
	ID              string         `json:"id"`
	NoteID          string         `json:"note_id"`
	NoteOwnerID     string         `json:"note_owner_id"`
	LocalVersionID  string         `json:"local_version_id"`
	RemoteVersionID string         `json:"remote_version_id"`
	DetectedAt      time.Time      `json:"detected_at"`
	Status          ConflictStatus `json:"status"`
	Resolution      ResolutionType `json:"resolution,omitempty"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy      string         `json:"resolved_by,omitempty"`
}

type MergeData struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type ResolveConflictRequest struct {
	Resolution ResolutionType `json:"resolution" validate:"required,oneof=keep_local keep_remote manual_merge create_separate_versions"`
	MergeData  *MergeData     `json:"merge_data,omitempty"`
}

// ResolutionSuggestion is a ranked candidate resolution with a human
// readable rationale. Suggestions never mutate state.
type ResolutionSuggestion struct {
	Resolution ResolutionType     `json:"resolution"`
	Complexity ConflictComplexity `json:"complexity"`
	Rationale  string             `json:"rationale"`
}
