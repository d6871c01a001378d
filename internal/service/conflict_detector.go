package service

import (
	"errors"
	"time"

	"notesync-server/internal/domain"
	"notesync-server/internal/repository"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// localizedThreshold separates a localized change from a whole-document
// rewrite: edits touching at most this share of the larger content.
const localizedThreshold = 0.3

// ConflictDetector decides whether pending versions diverged concurrently
// from the note's current version. Divergence always produces a conflict
// record; timestamps are never used to pick a silent winner.
type ConflictDetector struct {
	noteRepo     repository.NoteRepository
	versionRepo  repository.VersionRepository
	conflictRepo repository.ConflictRepository
	shareRepo    repository.ShareRepository
	history      *HistoryService
	broadcaster  Broadcaster
}

func NewConflictDetector(
	noteRepo repository.NoteRepository,
	versionRepo repository.VersionRepository,
	conflictRepo repository.ConflictRepository,
	shareRepo repository.ShareRepository,
	history *HistoryService,
	broadcaster Broadcaster,
) *ConflictDetector {
	return &ConflictDetector{
		noteRepo:     noteRepo,
		versionRepo:  versionRepo,
		conflictRepo: conflictRepo,
		shareRepo:    shareRepo,
		history:      history,
		broadcaster:  broadcaster,
	}
}

// DetectConflicts examines all pending versions of the note against the
// current version. A pending version whose parent is not the current
// version was edited concurrently with whatever became current; it is
// flagged rather than silently ordered. At most one conflict exists per
// version pair.
func (d *ConflictDetector) DetectConflicts(noteID string) ([]*domain.Conflict, error) {
	note, err := d.noteRepo.FindByID(noteID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Kind: "note", ID: noteID}
		}
		return nil, &StorageError{Op: "conflict.detect", Err: err}
	}

	pending, err := d.versionRepo.ListPendingByNote(noteID)
	if err != nil {
		return nil, &StorageError{Op: "conflict.detect", Err: err}
	}

	var conflicts []*domain.Conflict

	for _, version := range pending {
		if version.ID == note.CurrentVersionID {
			continue
		}
		// A pending version parented at the current version is a plain
		// fast-forward, not a divergence.
		if version.ParentVersionID == note.CurrentVersionID {
			continue
		}

		existing, err := d.conflictRepo.FindByVersionPair(version.ID, note.CurrentVersionID)
		if err == nil {
			conflicts = append(conflicts, existing)
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, &StorageError{Op: "conflict.detect", Err: err}
		}

		conflict := &domain.Conflict{
			ID:              uuid.New().String(),
			NoteID:          note.ID,
			NoteOwnerID:     note.OwnerID,
			LocalVersionID:  version.ID,
			RemoteVersionID: note.CurrentVersionID,
			DetectedAt:      time.Now(),
			Status:          domain.ConflictPending,
		}

		if err := d.conflictRepo.Create(conflict); err != nil {
			return nil, &StorageError{Op: "conflict.detect", Err: err}
		}

		if err := d.versionRepo.UpdateStatus(version.ID, domain.VersionConflict); err != nil {
			return nil, &StorageError{Op: "conflict.detect", Err: err}
		}

		if d.history != nil {
			if err := d.history.AddEntry(note.ID, version.ID, version.AuthorID, domain.ActionConflictDetected,
				"concurrent edit diverged from current version",
				map[string]any{"conflict_id": conflict.ID, "remote_version_id": note.CurrentVersionID}); err != nil {
				return nil, err
			}
		}

		if d.broadcaster != nil {
			d.broadcaster.ConflictDetected(note.ID, "concurrent_edit", version.AuthorID)
		}

		conflicts = append(conflicts, conflict)
	}

	return conflicts, nil
}

// AnalyzeConflictComplexity classifies how far the two sides of a conflict
// diverged. Pure read: no state is mutated, and the classification is
// symmetric in its two inputs.
func (d *ConflictDetector) AnalyzeConflictComplexity(conflictID string) (domain.ConflictComplexity, error) {
	conflict, err := d.conflictRepo.FindByID(conflictID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", &NotFoundError{Kind: "conflict", ID: conflictID}
		}
		return "", &StorageError{Op: "conflict.analyze", Err: err}
	}

	local, err := d.versionRepo.FindByID(conflict.LocalVersionID)
	if err != nil {
		return "", &StorageError{Op: "conflict.analyze", Err: err}
	}
	remote, err := d.versionRepo.FindByID(conflict.RemoteVersionID)
	if err != nil {
		return "", &StorageError{Op: "conflict.analyze", Err: err}
	}

	return ClassifyDivergence(local, remote), nil
}

// ClassifyDivergence compares two versions' content. The result is the
// same whichever side is passed first.
func ClassifyDivergence(a, b *domain.NoteVersion) domain.ConflictComplexity {
	if a.ContentHash == b.ContentHash {
		return domain.ComplexityIdentical
	}
	if a.Content == b.Content {
		return domain.ComplexityTitleOnly
	}

	longest := len(a.Content)
	if len(b.Content) > longest {
		longest = len(b.Content)
	}
	if longest == 0 {
		return domain.ComplexityTitleOnly
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a.Content, b.Content, false)
	distance := dmp.DiffLevenshtein(diffs)

	if float64(distance)/float64(longest) <= localizedThreshold {
		return domain.ComplexityLocalized
	}
	return domain.ComplexityRewrite
}

// GetPendingConflicts returns unresolved conflicts on notes the user owns
// or has been granted access to. Fresh snapshot per call.
func (d *ConflictDetector) GetPendingConflicts(userID string) ([]*domain.Conflict, error) {
	conflicts, err := d.conflictRepo.ListPendingByOwner(userID)
	if err != nil {
		return nil, &StorageError{Op: "conflict.pending", Err: err}
	}

	seen := make(map[string]bool, len(conflicts))
	for _, c := range conflicts {
		seen[c.ID] = true
	}

	if d.shareRepo != nil {
		noteIDs, err := d.shareRepo.ListNoteIDs(userID)
		if err != nil {
			return nil, &StorageError{Op: "conflict.pending", Err: err}
		}
		for _, noteID := range noteIDs {
			shared, err := d.conflictRepo.ListPendingByNote(noteID)
			if err != nil {
				return nil, &StorageError{Op: "conflict.pending", Err: err}
			}
			for _, c := range shared {
				if !seen[c.ID] {
					seen[c.ID] = true
					conflicts = append(conflicts, c)
				}
			}
		}
	}

	return conflicts, nil
}

func (d *ConflictDetector) Get(conflictID string) (*domain.Conflict, error) {
	conflict, err := d.conflictRepo.FindByID(conflictID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Kind: "conflict", ID: conflictID}
		}
		return nil, &StorageError{Op: "conflict.get", Err: err}
	}
	return conflict, nil
}
