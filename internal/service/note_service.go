package service

import (
	"errors"
	"time"

	"notesync-server/internal/domain"
	"notesync-server/internal/repository"

	"github.com/google/uuid"
)

// NoteService is the thin CRUD surface that outer layers call; every edit
// flows through the version manager so history and conflict detection see
// it.
type NoteService struct {
	noteRepo    repository.NoteRepository
	shareRepo   repository.ShareRepository
	versions    *VersionService
	detector    *ConflictDetector
	history     *HistoryService
	broadcaster Broadcaster
}

func NewNoteService(
	noteRepo repository.NoteRepository,
	shareRepo repository.ShareRepository,
	versions *VersionService,
	detector *ConflictDetector,
	history *HistoryService,
	broadcaster Broadcaster,
) *NoteService {
	return &NoteService{
		noteRepo:    noteRepo,
		shareRepo:   shareRepo,
		versions:    versions,
		detector:    detector,
		history:     history,
		broadcaster: broadcaster,
	}
}

func (s *NoteService) Create(userID string, req *domain.CreateNoteRequest) (*domain.NoteResponse, error) {
	now := time.Now()
	note := &domain.Note{
		ID:        uuid.New().String(),
		OwnerID:   userID,
		Title:     req.Title,
		Content:   req.Content,
		Sharing:   domain.SharingPrivate,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.noteRepo.Create(note); err != nil {
		return nil, &StorageError{Op: "note.create", Err: err}
	}

	version, err := s.versions.CreateVersion(note.ID, userID, req.Title, req.Content, req.DeviceID)
	if err != nil {
		return nil, err
	}
	if err := s.versions.MarkSynchronized(version.ID); err != nil {
		return nil, err
	}
	if err := s.versions.SetCurrentVersion(note.ID, version.ID, userID); err != nil {
		return nil, err
	}

	note.CurrentVersionID = version.ID
	return note.ToResponse(), nil
}

func (s *NoteService) Get(userID, noteID string) (*domain.NoteResponse, error) {
	note, err := s.findAuthorized(userID, noteID)
	if err != nil {
		return nil, err
	}
	return note.ToResponse(), nil
}

func (s *NoteService) List(userID string) ([]*domain.NoteResponse, error) {
	notes, err := s.noteRepo.ListByOwner(userID)
	if err != nil {
		return nil, &StorageError{Op: "note.list", Err: err}
	}

	responses := make([]*domain.NoteResponse, 0, len(notes))
	for _, note := range notes {
		if note.IsDeleted {
			continue
		}
		responses = append(responses, note.ToResponse())
	}

	return responses, nil
}

// Update creates a new version from the edit and promotes it when it fast
// forwards the current version; a divergent edit surfaces as a
// ConflictDetectedError instead of overwriting anything.
func (s *NoteService) Update(userID, noteID string, req *domain.UpdateNoteRequest) (*domain.NoteResponse, error) {
	note, err := s.findAuthorized(userID, noteID)
	if err != nil {
		return nil, err
	}

	version, err := s.versions.CreateVersionFrom(note.ID, userID, req.Title, req.Content, req.DeviceID, req.BaseVersionID)
	if err != nil {
		return nil, err
	}

	conflicts, err := s.detector.DetectConflicts(note.ID)
	if err != nil {
		return nil, err
	}
	for _, conflict := range conflicts {
		if conflict.LocalVersionID == version.ID {
			return nil, &ConflictDetectedError{Conflicts: conflicts}
		}
	}

	if err := s.versions.MarkSynchronized(version.ID); err != nil {
		return nil, err
	}
	if err := s.versions.SetCurrentVersion(note.ID, version.ID, userID); err != nil {
		return nil, err
	}

	if s.broadcaster != nil {
		s.broadcaster.NoteUpdated(note.ID, version.ID, version.Title, version.Content, version.ContentHash, userID, req.DeviceID)
	}

	updated, err := s.noteRepo.FindByID(note.ID)
	if err != nil {
		return nil, &StorageError{Op: "note.update", Err: err}
	}
	return updated.ToResponse(), nil
}

func (s *NoteService) Delete(userID, noteID string) error {
	note, err := s.findNote(noteID)
	if err != nil {
		return err
	}
	if note.OwnerID != userID {
		return &ValidationError{Field: "note_id", Msg: "note does not belong to user"}
	}

	if err := s.noteRepo.Delete(noteID); err != nil {
		return &StorageError{Op: "note.delete", Err: err}
	}

	if err := s.history.AddEntry(noteID, "", userID, domain.ActionNoteDeleted, "note deleted", nil); err != nil {
		return err
	}

	return nil
}

func (s *NoteService) Versions(userID, noteID string) ([]*domain.VersionResponse, error) {
	if _, err := s.findAuthorized(userID, noteID); err != nil {
		return nil, err
	}

	versions, err := s.versions.ListByNote(noteID)
	if err != nil {
		return nil, err
	}

	responses := make([]*domain.VersionResponse, len(versions))
	for i, v := range versions {
		responses[i] = v.ToResponse()
	}
	return responses, nil
}

func (s *NoteService) History(userID, noteID string, limit int) ([]*domain.HistoryEntry, error) {
	if _, err := s.findAuthorized(userID, noteID); err != nil {
		return nil, err
	}
	return s.history.ListByNote(noteID, limit)
}

// Share grants a collaborator access; only the owner may grant.
func (s *NoteService) Share(ownerID, noteID, collaboratorID string) error {
	note, err := s.findNote(noteID)
	if err != nil {
		return err
	}
	if note.OwnerID != ownerID {
		return &ValidationError{Field: "note_id", Msg: "only the owner can share a note"}
	}

	share := &domain.Share{
		ID:        uuid.New().String(),
		NoteID:    noteID,
		UserID:    collaboratorID,
		GrantedBy: ownerID,
		CreatedAt: time.Now(),
	}
	if err := s.shareRepo.Grant(share); err != nil {
		return &StorageError{Op: "note.share", Err: err}
	}

	if note.Sharing != domain.SharingShared {
		note.Sharing = domain.SharingShared
		if err := s.noteRepo.Update(note); err != nil {
			return &StorageError{Op: "note.share", Err: err}
		}
	}

	return nil
}

func (s *NoteService) Unshare(ownerID, noteID, collaboratorID string) error {
	note, err := s.findNote(noteID)
	if err != nil {
		return err
	}
	if note.OwnerID != ownerID {
		return &ValidationError{Field: "note_id", Msg: "only the owner can revoke a share"}
	}

	if err := s.shareRepo.Revoke(noteID, collaboratorID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &NotFoundError{Kind: "share", ID: collaboratorID}
		}
		return &StorageError{Op: "note.unshare", Err: err}
	}

	return nil
}

func (s *NoteService) findNote(noteID string) (*domain.Note, error) {
	note, err := s.noteRepo.FindByID(noteID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Kind: "note", ID: noteID}
		}
		return nil, &StorageError{Op: "note.find", Err: err}
	}
	if note.IsDeleted {
		return nil, &NotFoundError{Kind: "note", ID: noteID}
	}
	return note, nil
}

func (s *NoteService) findAuthorized(userID, noteID string) (*domain.Note, error) {
	note, err := s.findNote(noteID)
	if err != nil {
		return nil, err
	}
	if note.OwnerID == userID {
		return note, nil
	}

	collaborators, err := s.shareRepo.ListUserIDs(noteID)
	if err != nil {
		return nil, &StorageError{Op: "note.access", Err: err}
	}
	for _, id := range collaborators {
		if id == userID {
			return note, nil
		}
	}

	return nil, &NotFoundError{Kind: "note", ID: noteID}
}
