package service

import (
	"errors"
	"sort"
	"time"
	"unicode/utf8"

	"notesync-server/internal/domain"
	"notesync-server/internal/repository"

	"github.com/google/uuid"
)

const (
	maxTitleRunes   = 512
	maxContentBytes = 1 << 20 // 1 MiB
)

// VersionService creates, stores and promotes note versions. Versions are
// immutable once created; edits always produce new versions.
type VersionService struct {
	noteRepo    repository.NoteRepository
	versionRepo repository.VersionRepository
	history     *HistoryService
}

func NewVersionService(noteRepo repository.NoteRepository, versionRepo repository.VersionRepository, history *HistoryService) *VersionService {
	return &VersionService{
		noteRepo:    noteRepo,
		versionRepo: versionRepo,
		history:     history,
	}
}

// CreateVersion records a new pending version of the note, branching from
// the note's current version. The note's current pointer is untouched;
// promotion happens separately once the version is synchronized.
func (s *VersionService) CreateVersion(noteID, authorID, title, content, deviceID string) (*domain.NoteVersion, error) {
	return s.createVersion(noteID, authorID, title, content, deviceID, "")
}

// CreateVersionFrom records a pending version branching from the version
// the editing client last saw. A base behind the current version keeps the
// edit's lineage intact so a concurrent change is detected instead of
// silently rebased.
func (s *VersionService) CreateVersionFrom(noteID, authorID, title, content, deviceID, baseVersionID string) (*domain.NoteVersion, error) {
	return s.createVersion(noteID, authorID, title, content, deviceID, baseVersionID)
}

func (s *VersionService) createVersion(noteID, authorID, title, content, deviceID, baseVersionID string) (*domain.NoteVersion, error) {
	if title == "" {
		return nil, &ValidationError{Field: "title", Msg: "must not be empty"}
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		return nil, &ValidationError{Field: "title", Msg: "exceeds maximum length"}
	}
	if len(content) > maxContentBytes {
		return nil, &ValidationError{Field: "content", Msg: "exceeds maximum size"}
	}

	note, err := s.noteRepo.FindByID(noteID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &ValidationError{Field: "note_id", Msg: "unknown note"}
		}
		return nil, &StorageError{Op: "version.create", Err: err}
	}

	parent := note.CurrentVersionID
	if baseVersionID != "" {
		base, err := s.versionRepo.FindByID(baseVersionID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, &ValidationError{Field: "base_version_id", Msg: "unknown version"}
			}
			return nil, &StorageError{Op: "version.create", Err: err}
		}
		if base.NoteID != note.ID {
			return nil, &ValidationError{Field: "base_version_id", Msg: "version belongs to a different note"}
		}
		parent = base.ID
	}

	version := &domain.NoteVersion{
		ID:              uuid.New().String(),
		NoteID:          note.ID,
		AuthorID:        authorID,
		DeviceID:        deviceID,
		ParentVersionID: parent,
		Title:           title,
		Content:         content,
		ContentHash:     domain.HashContent(title, content),
		Status:          domain.VersionPending,
		CreatedAt:       time.Now(),
	}

	if err := s.versionRepo.Create(version); err != nil {
		return nil, &StorageError{Op: "version.create", Err: err}
	}

	return version, nil
}

// MarkSynchronized transitions a version to synced. Calling it on an
// already synced version is a no-op.
func (s *VersionService) MarkSynchronized(versionID string) error {
	version, err := s.versionRepo.FindByID(versionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &NotFoundError{Kind: "version", ID: versionID}
		}
		return &StorageError{Op: "version.mark_synchronized", Err: err}
	}

	switch version.Status {
	case domain.VersionSynced:
		return nil
	case domain.VersionSuperseded:
		return &InvalidStateError{Msg: "superseded version cannot be synchronized"}
	}

	if err := s.versionRepo.UpdateStatus(versionID, domain.VersionSynced); err != nil {
		return &StorageError{Op: "version.mark_synchronized", Err: err}
	}

	return nil
}

// SetCurrentVersion promotes a synced version to be the note's current
// version, copying its title and content onto the note in a single
// document write.
func (s *VersionService) SetCurrentVersion(noteID, versionID, actorID string) error {
	note, err := s.noteRepo.FindByID(noteID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &NotFoundError{Kind: "note", ID: noteID}
		}
		return &StorageError{Op: "version.set_current", Err: err}
	}

	version, err := s.versionRepo.FindByID(versionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &NotFoundError{Kind: "version", ID: versionID}
		}
		return &StorageError{Op: "version.set_current", Err: err}
	}

	if version.NoteID != note.ID {
		return &ValidationError{Field: "version_id", Msg: "version belongs to a different note"}
	}
	if version.Status != domain.VersionSynced {
		return &InvalidStateError{Msg: "only synced versions can become current"}
	}

	if note.CurrentVersionID == version.ID {
		return nil
	}

	note.Title = version.Title
	note.Content = version.Content
	note.CurrentVersionID = version.ID
	note.UpdatedAt = time.Now()

	if err := s.noteRepo.Update(note); err != nil {
		return &StorageError{Op: "version.set_current", Err: err}
	}

	if s.history != nil {
		if err := s.history.AddEntry(note.ID, version.ID, actorID, domain.ActionVersionPromoted, "version promoted to current", nil); err != nil {
			return err
		}
	}

	return nil
}

// GetPendingSyncVersions returns the author's pending versions in creation
// order. The result is a fresh snapshot on every call.
func (s *VersionService) GetPendingSyncVersions(userID string) ([]*domain.NoteVersion, error) {
	versions, err := s.versionRepo.ListPendingByAuthor(userID)
	if err != nil {
		return nil, &StorageError{Op: "version.pending", Err: err}
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].CreatedAt.Before(versions[j].CreatedAt)
	})

	return versions, nil
}

func (s *VersionService) Get(versionID string) (*domain.NoteVersion, error) {
	version, err := s.versionRepo.FindByID(versionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Kind: "version", ID: versionID}
		}
		return nil, &StorageError{Op: "version.get", Err: err}
	}
	return version, nil
}

func (s *VersionService) ListByNote(noteID string) ([]*domain.NoteVersion, error) {
	versions, err := s.versionRepo.ListByNote(noteID)
	if err != nil {
		return nil, &StorageError{Op: "version.list", Err: err}
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].CreatedAt.Before(versions[j].CreatedAt)
	})

	return versions, nil
}
