package service

import (
	"errors"
	"time"

	"notesync-server/internal/domain"
	"notesync-server/internal/repository"

	"github.com/google/uuid"
)

// ConflictResolver applies a chosen resolution to a detected conflict.
// Each conflict resolves exactly once; changing the outcome afterwards
// requires a new edit, not a re-resolution.
type ConflictResolver struct {
	conflictRepo repository.ConflictRepository
	noteRepo     repository.NoteRepository
	versionRepo  repository.VersionRepository
	versions     *VersionService
	detector     *ConflictDetector
	history      *HistoryService
	broadcaster  Broadcaster
}

func NewConflictResolver(
	conflictRepo repository.ConflictRepository,
	noteRepo repository.NoteRepository,
	versionRepo repository.VersionRepository,
	versions *VersionService,
	detector *ConflictDetector,
	history *HistoryService,
	broadcaster Broadcaster,
) *ConflictResolver {
	return &ConflictResolver{
		conflictRepo: conflictRepo,
		noteRepo:     noteRepo,
		versionRepo:  versionRepo,
		versions:     versions,
		detector:     detector,
		history:      history,
		broadcaster:  broadcaster,
	}
}

func (r *ConflictResolver) ResolveConflict(conflictID string, resolution domain.ResolutionType, mergeData *domain.MergeData, actorID string) error {
	conflict, err := r.conflictRepo.FindByID(conflictID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &NotFoundError{Kind: "conflict", ID: conflictID}
		}
		return &StorageError{Op: "conflict.resolve", Err: err}
	}
	if conflict.Status == domain.ConflictResolved {
		return &NotFoundError{Kind: "unresolved conflict", ID: conflictID}
	}

	var promotedVersionID string

	switch resolution {
	case domain.ResolutionKeepLocal:
		promotedVersionID, err = r.keepLocal(conflict, actorID)
	case domain.ResolutionKeepRemote:
		promotedVersionID, err = r.keepRemote(conflict, actorID)
	case domain.ResolutionManualMerge:
		if mergeData == nil || (mergeData.Title == "" && mergeData.Content == "") {
			return &ValidationError{Field: "merge_data", Msg: "required for manual_merge"}
		}
		promotedVersionID, err = r.manualMerge(conflict, mergeData, actorID)
	case domain.ResolutionSeparateVersions:
		promotedVersionID, err = r.separateVersions(conflict, actorID)
	default:
		return &ValidationError{Field: "resolution", Msg: "unrecognized resolution type"}
	}
	if err != nil {
		return err
	}

	if err := r.conflictRepo.MarkResolved(conflict.ID, resolution, actorID); err != nil {
		return &StorageError{Op: "conflict.resolve", Err: err}
	}

	if err := r.history.AddEntry(conflict.NoteID, promotedVersionID, actorID, domain.ActionConflictResolved,
		"conflict resolved: "+string(resolution),
		map[string]any{
			"conflict_id":       conflict.ID,
			"resolution":        resolution,
			"local_version_id":  conflict.LocalVersionID,
			"remote_version_id": conflict.RemoteVersionID,
		}); err != nil {
		return err
	}

	if r.broadcaster != nil && promotedVersionID != "" {
		if version, verr := r.versionRepo.FindByID(promotedVersionID); verr == nil {
			r.broadcaster.NoteUpdated(conflict.NoteID, version.ID, version.Title, version.Content, version.ContentHash, actorID, version.DeviceID)
		}
	}

	return nil
}

// keepLocal promotes the pending local version; the remote version stays
// in history untouched.
func (r *ConflictResolver) keepLocal(conflict *domain.Conflict, actorID string) (string, error) {
	if err := r.versions.MarkSynchronized(conflict.LocalVersionID); err != nil {
		return "", err
	}
	if err := r.versions.SetCurrentVersion(conflict.NoteID, conflict.LocalVersionID, actorID); err != nil {
		return "", err
	}
	return conflict.LocalVersionID, nil
}

// keepRemote keeps the current version in place; the local version's
// status is left unchanged so it stays retrievable in history.
func (r *ConflictResolver) keepRemote(conflict *domain.Conflict, actorID string) (string, error) {
	note, err := r.noteRepo.FindByID(conflict.NoteID)
	if err != nil {
		return "", &StorageError{Op: "conflict.resolve", Err: err}
	}

	if note.CurrentVersionID != conflict.RemoteVersionID {
		if err := r.versions.MarkSynchronized(conflict.RemoteVersionID); err != nil {
			return "", err
		}
		if err := r.versions.SetCurrentVersion(conflict.NoteID, conflict.RemoteVersionID, actorID); err != nil {
			return "", err
		}
	}

	return conflict.RemoteVersionID, nil
}

// manualMerge creates a fresh version from caller-supplied merged content,
// promotes it, and supersedes both source versions.
func (r *ConflictResolver) manualMerge(conflict *domain.Conflict, mergeData *domain.MergeData, actorID string) (string, error) {
	local, err := r.versionRepo.FindByID(conflict.LocalVersionID)
	if err != nil {
		return "", &StorageError{Op: "conflict.resolve", Err: err}
	}

	merged, err := r.versions.CreateVersion(conflict.NoteID, actorID, mergeData.Title, mergeData.Content, local.DeviceID)
	if err != nil {
		return "", err
	}
	if err := r.versions.MarkSynchronized(merged.ID); err != nil {
		return "", err
	}
	if err := r.versions.SetCurrentVersion(conflict.NoteID, merged.ID, actorID); err != nil {
		return "", err
	}

	for _, sourceID := range []string{conflict.LocalVersionID, conflict.RemoteVersionID} {
		if err := r.versionRepo.UpdateStatus(sourceID, domain.VersionSuperseded); err != nil {
			return "", &StorageError{Op: "conflict.resolve", Err: err}
		}
	}

	return merged.ID, nil
}

// separateVersions forks the local edit into a new note owned by its
// author; both original versions stay intact and non-current.
func (r *ConflictResolver) separateVersions(conflict *domain.Conflict, actorID string) (string, error) {
	local, err := r.versionRepo.FindByID(conflict.LocalVersionID)
	if err != nil {
		return "", &StorageError{Op: "conflict.resolve", Err: err}
	}

	now := time.Now()
	fork := &domain.Note{
		ID:        uuid.New().String(),
		OwnerID:   local.AuthorID,
		Title:     local.Title,
		Content:   local.Content,
		Sharing:   domain.SharingPrivate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.noteRepo.Create(fork); err != nil {
		return "", &StorageError{Op: "conflict.resolve", Err: err}
	}

	forkVersion, err := r.versions.CreateVersion(fork.ID, local.AuthorID, local.Title, local.Content, local.DeviceID)
	if err != nil {
		return "", err
	}
	if err := r.versions.MarkSynchronized(forkVersion.ID); err != nil {
		return "", err
	}
	if err := r.versions.SetCurrentVersion(fork.ID, forkVersion.ID, actorID); err != nil {
		return "", err
	}

	if err := r.history.AddEntry(conflict.NoteID, conflict.LocalVersionID, actorID, domain.ActionNoteForked,
		"divergent edit forked into a separate note",
		map[string]any{"fork_note_id": fork.ID}); err != nil {
		return "", err
	}

	// Neither original version is promoted on the source note.
	return "", nil
}

// GetResolutionSuggestions ranks candidate resolutions by divergence
// complexity. Read-only.
func (r *ConflictResolver) GetResolutionSuggestions(conflictID string) ([]*domain.ResolutionSuggestion, error) {
	complexity, err := r.detector.AnalyzeConflictComplexity(conflictID)
	if err != nil {
		return nil, err
	}

	suggest := func(res domain.ResolutionType, rationale string) *domain.ResolutionSuggestion {
		return &domain.ResolutionSuggestion{Resolution: res, Complexity: complexity, Rationale: rationale}
	}

	switch complexity {
	case domain.ComplexityIdentical:
		return []*domain.ResolutionSuggestion{
			suggest(domain.ResolutionKeepRemote, "both versions have identical content; keeping the current version loses nothing"),
			suggest(domain.ResolutionKeepLocal, "promote the local copy if its metadata should win"),
		}, nil
	case domain.ComplexityTitleOnly:
		return []*domain.ResolutionSuggestion{
			suggest(domain.ResolutionManualMerge, "only the titles differ; pick one title and keep the shared content"),
			suggest(domain.ResolutionKeepLocal, "keep the local title"),
			suggest(domain.ResolutionKeepRemote, "keep the current title"),
		}, nil
	case domain.ComplexityLocalized:
		return []*domain.ResolutionSuggestion{
			suggest(domain.ResolutionManualMerge, "the edits touch a small part of the document; merging by hand is cheap"),
			suggest(domain.ResolutionKeepLocal, "discard the current version's change"),
			suggest(domain.ResolutionKeepRemote, "discard the offline edit"),
		}, nil
	default:
		return []*domain.ResolutionSuggestion{
			suggest(domain.ResolutionSeparateVersions, "both sides rewrote the document; forking preserves both"),
			suggest(domain.ResolutionKeepLocal, "replace the current version wholesale"),
			suggest(domain.ResolutionKeepRemote, "drop the offline rewrite"),
		}, nil
	}
}
