package service

import (
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"notesync-server/internal/config"
	"notesync-server/internal/domain"
	"notesync-server/internal/repository"

	"github.com/google/uuid"
)

// SyncService is the offline/online bridge: it queues edits made while
// disconnected, replays them against server state on reconnect, retries
// transient failures with exponential backoff, and absorbs duplicate
// offline creates. Queue processing is single-flight per process.
type SyncService struct {
	queueRepo   repository.QueueRepository
	noteRepo    repository.NoteRepository
	versionRepo repository.VersionRepository
	versions    *VersionService
	detector    *ConflictDetector
	history     *HistoryService
	broadcaster Broadcaster
	cfg         config.SyncConfig

	online  atomic.Bool
	syncing atomic.Bool
}

func NewSyncService(
	queueRepo repository.QueueRepository,
	noteRepo repository.NoteRepository,
	versionRepo repository.VersionRepository,
	versions *VersionService,
	detector *ConflictDetector,
	history *HistoryService,
	broadcaster Broadcaster,
	cfg config.SyncConfig,
) *SyncService {
	s := &SyncService{
		queueRepo:   queueRepo,
		noteRepo:    noteRepo,
		versionRepo: versionRepo,
		versions:    versions,
		detector:    detector,
		history:     history,
		broadcaster: broadcaster,
		cfg:         cfg,
	}
	s.online.Store(true)
	return s
}

// SetOnline toggles the connectivity flag. Coming back online triggers a
// queue pass.
func (s *SyncService) SetOnline(online bool) {
	was := s.online.Swap(online)
	if online && !was {
		if err := s.ProcessSyncQueue(); err != nil {
			log.Printf("[sync] queue pass after reconnect failed: %v", err)
		}
	}
}

func (s *SyncService) Online() bool {
	return s.online.Load()
}

// SaveOfflineEdit records an edit made while disconnected: a pending
// version plus a queue item to replay it. baseVersionID is the version the
// device last saw; it anchors the edit's lineage so replaying it detects
// anything that landed in the meantime. If the service is online the queue
// is processed immediately.
func (s *SyncService) SaveOfflineEdit(noteID, userID, title, content, deviceID, baseVersionID string) (*domain.NoteVersion, error) {
	version, err := s.versions.CreateVersionFrom(noteID, userID, title, content, deviceID, baseVersionID)
	if err != nil {
		return nil, err
	}

	if err := s.enqueue(domain.OpEdit, noteID, version.ID, userID, deviceID, s.cfg.MaxAttempts); err != nil {
		return nil, err
	}

	if err := s.history.AddEntry(noteID, version.ID, userID, domain.ActionOfflineEdit,
		"edit saved while offline", map[string]any{"device_id": deviceID}); err != nil {
		log.Printf("[sync] history append failed for offline edit: %v", err)
	}

	if s.online.Load() {
		if err := s.ProcessSyncQueue(); err != nil {
			log.Printf("[sync] immediate queue pass failed: %v", err)
		}
	}

	return version, nil
}

// SaveOfflineCreate records a note created while disconnected. The note and
// its initial version exist immediately; the queue item confirms it against
// the store and absorbs double-submissions.
func (s *SyncService) SaveOfflineCreate(userID, title, content, deviceID string) (*domain.Note, error) {
	now := time.Now()
	note := &domain.Note{
		ID:        uuid.New().String(),
		OwnerID:   userID,
		Title:     title,
		Content:   content,
		Sharing:   domain.SharingPrivate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.noteRepo.Create(note); err != nil {
		return nil, &StorageError{Op: "sync.offline_create", Err: err}
	}

	version, err := s.versions.CreateVersion(note.ID, userID, title, content, deviceID)
	if err != nil {
		return nil, err
	}

	if err := s.enqueue(domain.OpCreate, note.ID, version.ID, userID, deviceID, s.cfg.MaxAttempts); err != nil {
		return nil, err
	}

	if s.online.Load() {
		if err := s.ProcessSyncQueue(); err != nil {
			log.Printf("[sync] immediate queue pass failed: %v", err)
		}
	}

	return note, nil
}

// SaveOfflineDelete queues a note deletion performed while disconnected.
func (s *SyncService) SaveOfflineDelete(noteID, userID, deviceID string) error {
	if err := s.enqueue(domain.OpDelete, noteID, "", userID, deviceID, s.cfg.MaxAttempts); err != nil {
		return err
	}

	if s.online.Load() {
		if err := s.ProcessSyncQueue(); err != nil {
			log.Printf("[sync] immediate queue pass failed: %v", err)
		}
	}

	return nil
}

func (s *SyncService) enqueue(op domain.SyncOperation, noteID, versionID, userID, deviceID string, maxAttempts int) error {
	item := &domain.SyncQueueItem{
		ID:            uuid.New().String(),
		Operation:     op,
		NoteID:        noteID,
		VersionID:     versionID,
		UserID:        userID,
		DeviceID:      deviceID,
		EnqueuedAt:    time.Now(),
		MaxAttempts:   maxAttempts,
		NextAttemptAt: time.Now(),
		Status:        domain.QueuePending,
	}

	if err := s.queueRepo.Create(item); err != nil {
		return &StorageError{Op: "sync.enqueue", Err: err}
	}

	return nil
}

// ProcessSyncQueue replays pending items in enqueue order. Re-entrant
// calls while a pass is in progress are no-ops. A user whose item is
// waiting on backoff has the rest of their queue held so retries are never
// reordered behind newer edits.
func (s *SyncService) ProcessSyncQueue() error {
	if !s.syncing.CompareAndSwap(false, true) {
		return nil
	}
	defer s.syncing.Store(false)

	items, err := s.queueRepo.ListPending()
	if err != nil {
		return &StorageError{Op: "sync.process", Err: err}
	}

	now := time.Now()
	held := make(map[string]bool)

	for _, item := range items {
		if held[item.UserID] {
			continue
		}
		if item.NextAttemptAt.After(now) {
			held[item.UserID] = true
			continue
		}

		if err := s.processItem(item); err != nil {
			if IsStorage(err) {
				s.HandleSyncError(item, err)
				held[item.UserID] = true
				continue
			}
			// Non-transient failures are terminal immediately.
			item.Status = domain.QueueFailed
			item.LastError = err.Error()
			if uerr := s.queueRepo.Update(item); uerr != nil {
				log.Printf("[sync] failed to fail item %s: %v", item.ID, uerr)
			}
			s.logFailure(item, err)
		}
	}

	return nil
}

func (s *SyncService) processItem(item *domain.SyncQueueItem) error {
	switch item.Operation {
	case domain.OpEdit:
		return s.processEdit(item)
	case domain.OpCreate:
		return s.processCreate(item)
	case domain.OpDelete:
		return s.processDelete(item)
	default:
		return &ValidationError{Field: "operation", Msg: fmt.Sprintf("unknown operation %q", item.Operation)}
	}
}

func (s *SyncService) processEdit(item *domain.SyncQueueItem) error {
	conflicts, err := s.detector.DetectConflicts(item.NoteID)
	if err != nil {
		return err
	}

	for _, conflict := range conflicts {
		if conflict.LocalVersionID == item.VersionID {
			return s.holdForResolution(item)
		}
	}

	// Detection only scans pending versions: if an earlier pass already
	// flagged this one, the conflict is on record but absent from the
	// result above. A flagged version must never be promoted here.
	version, err := s.versions.Get(item.VersionID)
	if err != nil {
		return err
	}
	if version.Status == domain.VersionConflict {
		return s.holdForResolution(item)
	}

	if err := s.versions.MarkSynchronized(item.VersionID); err != nil {
		return err
	}
	if err := s.versions.SetCurrentVersion(item.NoteID, item.VersionID, item.UserID); err != nil {
		return err
	}

	return s.finishItem(item)
}

// holdForResolution parks the item until its conflict is resolved by hand.
func (s *SyncService) holdForResolution(item *domain.SyncQueueItem) error {
	item.Status = domain.QueueConflict
	if err := s.queueRepo.Update(item); err != nil {
		return &StorageError{Op: "sync.process_edit", Err: err}
	}
	return nil
}

func (s *SyncService) processCreate(item *domain.SyncQueueItem) error {
	version, err := s.versions.Get(item.VersionID)
	if err != nil {
		return err
	}

	note, err := s.noteRepo.FindByID(item.NoteID)
	if err != nil {
		return &StorageError{Op: "sync.process_create", Err: err}
	}

	cutoff := time.Now().Add(-s.cfg.DedupWindow)
	recent, err := s.noteRepo.FindRecentByTitle(item.UserID, version.Title, cutoff)
	if err != nil {
		return &StorageError{Op: "sync.process_create", Err: err}
	}

	for _, other := range recent {
		if other.ID == item.NoteID {
			continue
		}
		// Only an earlier creation makes this one the double-submission.
		if other.CreatedAt.After(note.CreatedAt) {
			continue
		}
		// Same user, same title, inside the dedup window: a retried
		// offline create, not a new note.
		item.Status = domain.QueueDuplicate
		if uerr := s.queueRepo.Update(item); uerr != nil {
			return &StorageError{Op: "sync.process_create", Err: uerr}
		}
		if derr := s.noteRepo.Delete(item.NoteID); derr != nil {
			log.Printf("[sync] failed to absorb duplicate note %s: %v", item.NoteID, derr)
		}
		return nil
	}

	if err := s.versions.MarkSynchronized(item.VersionID); err != nil {
		return err
	}
	if err := s.versions.SetCurrentVersion(item.NoteID, item.VersionID, item.UserID); err != nil {
		return err
	}

	return s.finishItem(item)
}

func (s *SyncService) processDelete(item *domain.SyncQueueItem) error {
	note, err := s.noteRepo.FindByID(item.NoteID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Already gone; deletion is idempotent.
			item.Status = domain.QueueSynced
			if uerr := s.queueRepo.Update(item); uerr != nil {
				return &StorageError{Op: "sync.process_delete", Err: uerr}
			}
			return nil
		}
		return &StorageError{Op: "sync.process_delete", Err: err}
	}

	if !note.IsDeleted {
		if err := s.noteRepo.Delete(item.NoteID); err != nil {
			return &StorageError{Op: "sync.process_delete", Err: err}
		}
		if err := s.history.AddEntry(item.NoteID, "", item.UserID, domain.ActionNoteDeleted,
			"note deleted through sync", nil); err != nil {
			log.Printf("[sync] history append failed for delete: %v", err)
		}
	}

	item.Status = domain.QueueSynced
	if err := s.queueRepo.Update(item); err != nil {
		return &StorageError{Op: "sync.process_delete", Err: err}
	}

	return nil
}

func (s *SyncService) finishItem(item *domain.SyncQueueItem) error {
	item.Status = domain.QueueSynced
	if err := s.queueRepo.Update(item); err != nil {
		return &StorageError{Op: "sync.finish", Err: err}
	}

	if err := s.history.AddEntry(item.NoteID, item.VersionID, item.UserID, domain.ActionSyncComplete,
		"queued "+string(item.Operation)+" synchronized", nil); err != nil {
		log.Printf("[sync] history append failed: %v", err)
	}

	if s.broadcaster != nil {
		if version, err := s.versions.Get(item.VersionID); err == nil {
			s.broadcaster.NoteUpdated(item.NoteID, version.ID, version.Title, version.Content, version.ContentHash, item.UserID, item.DeviceID)
		}
	}

	return nil
}

// HandleSyncError schedules a retry with exponential backoff, or marks the
// item failed once the retry budget is exhausted.
func (s *SyncService) HandleSyncError(item *domain.SyncQueueItem, cause error) {
	item.Attempts++
	item.LastError = cause.Error()

	if item.Attempts >= item.MaxAttempts {
		item.Status = domain.QueueFailed
		s.logFailure(item, cause)
	} else {
		delay := s.cfg.BackoffBase * time.Duration(1<<uint(item.Attempts))
		item.NextAttemptAt = time.Now().Add(delay)
	}

	if err := s.queueRepo.Update(item); err != nil {
		log.Printf("[sync] failed to update item %s after error: %v", item.ID, err)
	}
}

func (s *SyncService) logFailure(item *domain.SyncQueueItem, cause error) {
	if err := s.history.AddEntry(item.NoteID, item.VersionID, item.UserID, domain.ActionSyncFailed,
		"sync gave up: "+cause.Error(),
		map[string]any{"attempts": item.Attempts, "max_attempts": item.MaxAttempts}); err != nil {
		log.Printf("[sync] history append failed for failure: %v", err)
	}
}

// ForceSyncNote re-enqueues the user's pending versions for the note with
// a single-attempt budget and processes the queue immediately.
func (s *SyncService) ForceSyncNote(noteID, userID string) error {
	pending, err := s.versionRepo.ListPendingByNote(noteID)
	if err != nil {
		return &StorageError{Op: "sync.force", Err: err}
	}

	queued, err := s.queueRepo.ListByUser(userID)
	if err != nil {
		return &StorageError{Op: "sync.force", Err: err}
	}
	byVersion := make(map[string]*domain.SyncQueueItem, len(queued))
	for _, item := range queued {
		if !item.Terminal() {
			byVersion[item.VersionID] = item
		}
	}

	now := time.Now()
	for _, version := range pending {
		if version.AuthorID != userID {
			continue
		}

		if item, ok := byVersion[version.ID]; ok {
			item.MaxAttempts = 1
			item.NextAttemptAt = now
			if err := s.queueRepo.Update(item); err != nil {
				return &StorageError{Op: "sync.force", Err: err}
			}
			continue
		}

		if err := s.enqueue(domain.OpEdit, noteID, version.ID, userID, version.DeviceID, 1); err != nil {
			return err
		}
	}

	return s.ProcessSyncQueue()
}

// GetSyncStatus aggregates queue counts by status for a user, or across
// all users when userID is empty. Every status is counted, terminal ones
// included.
func (s *SyncService) GetSyncStatus(userID string) (*domain.SyncStatus, error) {
	var (
		items []*domain.SyncQueueItem
		err   error
	)
	if userID != "" {
		items, err = s.queueRepo.ListByUser(userID)
	} else {
		items, err = s.queueRepo.ListAll()
	}
	if err != nil {
		return nil, &StorageError{Op: "sync.status", Err: err}
	}

	counts := make(map[domain.QueueStatus]int)
	for _, item := range items {
		counts[item.Status]++
	}

	return &domain.SyncStatus{
		Counts:     counts,
		Online:     s.online.Load(),
		InProgress: s.syncing.Load(),
	}, nil
}

// CleanupSyncHistory purges synced and duplicate queue items older than
// the threshold. Failed items and the history log are untouched.
func (s *SyncService) CleanupSyncHistory(maxAgeDays int) (int, error) {
	if maxAgeDays <= 0 {
		return 0, &ValidationError{Field: "max_age_days", Msg: "must be positive"}
	}

	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
	purged, err := s.queueRepo.PurgeTerminalBefore(cutoff)
	if err != nil {
		return 0, &StorageError{Op: "sync.cleanup", Err: err}
	}

	return purged, nil
}
