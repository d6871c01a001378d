package service

import (
	"sync/atomic"
	"time"

	"notesync-server/internal/domain"
	"notesync-server/internal/repository"

	"github.com/google/uuid"
)

// HistoryService appends audit records. Entries are immutable and ordered
// by timestamp, insertion order breaking ties. Storage failures are
// surfaced, never retried here: the caller decides.
type HistoryService struct {
	repo repository.HistoryRepository
	seq  atomic.Int64
}

func NewHistoryService(repo repository.HistoryRepository) *HistoryService {
	s := &HistoryService{repo: repo}
	// Seed from the clock so sequence numbers keep climbing across
	// process restarts instead of starting over at one.
	s.seq.Store(time.Now().UnixNano())
	return s
}

func (s *HistoryService) AddEntry(noteID, versionID, userID string, action domain.HistoryAction, description string, metadata map[string]any) error {
	entry := &domain.HistoryEntry{
		ID:          uuid.New().String(),
		NoteID:      noteID,
		VersionID:   versionID,
		UserID:      userID,
		Action:      action,
		Description: description,
		Metadata:    metadata,
		CreatedAt:   time.Now(),
		Seq:         s.seq.Add(1),
	}

	if err := s.repo.Append(entry); err != nil {
		return &StorageError{Op: "history.append", Err: err}
	}

	return nil
}

func (s *HistoryService) ListByNote(noteID string, limit int) ([]*domain.HistoryEntry, error) {
	entries, err := s.repo.ListByNote(noteID, limit)
	if err != nil {
		return nil, &StorageError{Op: "history.list", Err: err}
	}
	return entries, nil
}
