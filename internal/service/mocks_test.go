package service

import (
	"sync"
	"time"

	"notesync-server/internal/domain"
	"notesync-server/internal/repository"
)

type mockNoteRepo struct {
	notes map[string]*domain.Note
	// next Update/FindByID calls fail with this error until cleared
	failWith error
}

func newMockNoteRepo() *mockNoteRepo {
	return &mockNoteRepo{notes: make(map[string]*domain.Note)}
}

func (m *mockNoteRepo) Create(note *domain.Note) error {
	if m.failWith != nil {
		return m.failWith
	}
	m.notes[note.ID] = note
	return nil
}

func (m *mockNoteRepo) FindByID(id string) (*domain.Note, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	if n, exists := m.notes[id]; exists {
		return n, nil
	}
	return nil, repository.ErrNotFound
}

func (m *mockNoteRepo) ListByOwner(ownerID string) ([]*domain.Note, error) {
	var notes []*domain.Note
	for _, n := range m.notes {
		if n.OwnerID == ownerID {
			notes = append(notes, n)
		}
	}
	return notes, nil
}

func (m *mockNoteRepo) FindRecentByTitle(ownerID, title string, since time.Time) ([]*domain.Note, error) {
	var notes []*domain.Note
	for _, n := range m.notes {
		if n.OwnerID == ownerID && n.Title == title && !n.IsDeleted && n.CreatedAt.After(since) {
			notes = append(notes, n)
		}
	}
	return notes, nil
}

func (m *mockNoteRepo) Update(note *domain.Note) error {
	if m.failWith != nil {
		return m.failWith
	}
	if _, exists := m.notes[note.ID]; !exists {
		return repository.ErrNotFound
	}
	m.notes[note.ID] = note
	return nil
}

func (m *mockNoteRepo) Delete(id string) error {
	if n, exists := m.notes[id]; exists {
		n.IsDeleted = true
		return nil
	}
	return repository.ErrNotFound
}

type mockVersionRepo struct {
	versions map[string]*domain.NoteVersion
	seq      int
}

func newMockVersionRepo() *mockVersionRepo {
	return &mockVersionRepo{versions: make(map[string]*domain.NoteVersion)}
}

func (m *mockVersionRepo) Create(version *domain.NoteVersion) error {
	// keep creation order observable even when timestamps collide
	m.seq++
	version.CreatedAt = version.CreatedAt.Add(time.Duration(m.seq) * time.Microsecond)
	m.versions[version.ID] = version
	return nil
}

func (m *mockVersionRepo) FindByID(id string) (*domain.NoteVersion, error) {
	if v, exists := m.versions[id]; exists {
		return v, nil
	}
	return nil, repository.ErrNotFound
}

func (m *mockVersionRepo) ListByNote(noteID string) ([]*domain.NoteVersion, error) {
	var versions []*domain.NoteVersion
	for _, v := range m.versions {
		if v.NoteID == noteID {
			versions = append(versions, v)
		}
	}
	return versions, nil
}

func (m *mockVersionRepo) ListPendingByNote(noteID string) ([]*domain.NoteVersion, error) {
	var versions []*domain.NoteVersion
	for _, v := range m.versions {
		if v.NoteID == noteID && v.Status == domain.VersionPending {
			versions = append(versions, v)
		}
	}
	return versions, nil
}

func (m *mockVersionRepo) ListPendingByAuthor(authorID string) ([]*domain.NoteVersion, error) {
	var versions []*domain.NoteVersion
	for _, v := range m.versions {
		if v.AuthorID == authorID && v.Status == domain.VersionPending {
			versions = append(versions, v)
		}
	}
	return versions, nil
}

func (m *mockVersionRepo) UpdateStatus(id string, status domain.VersionStatus) error {
	v, exists := m.versions[id]
	if !exists {
		return repository.ErrNotFound
	}
	v.Status = status
	return nil
}

type mockQueueRepo struct {
	items []*domain.SyncQueueItem
}

func newMockQueueRepo() *mockQueueRepo {
	return &mockQueueRepo{}
}

func (m *mockQueueRepo) Create(item *domain.SyncQueueItem) error {
	m.items = append(m.items, item)
	return nil
}

func (m *mockQueueRepo) FindByID(id string) (*domain.SyncQueueItem, error) {
	for _, item := range m.items {
		if item.ID == id {
			return item, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockQueueRepo) ListPending() ([]*domain.SyncQueueItem, error) {
	var pending []*domain.SyncQueueItem
	for _, item := range m.items {
		if item.Status == domain.QueuePending {
			pending = append(pending, item)
		}
	}
	return pending, nil
}

func (m *mockQueueRepo) ListAll() ([]*domain.SyncQueueItem, error) {
	return append([]*domain.SyncQueueItem(nil), m.items...), nil
}

func (m *mockQueueRepo) ListByUser(userID string) ([]*domain.SyncQueueItem, error) {
	var items []*domain.SyncQueueItem
	for _, item := range m.items {
		if item.UserID == userID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (m *mockQueueRepo) Update(item *domain.SyncQueueItem) error {
	for i, existing := range m.items {
		if existing.ID == item.ID {
			m.items[i] = item
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *mockQueueRepo) PurgeTerminalBefore(cutoff time.Time) (int, error) {
	var kept []*domain.SyncQueueItem
	purged := 0
	for _, item := range m.items {
		terminal := item.Status == domain.QueueSynced || item.Status == domain.QueueDuplicate
		if terminal && item.EnqueuedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, item)
	}
	m.items = kept
	return purged, nil
}

type mockConflictRepo struct {
	conflicts map[string]*domain.Conflict
}

func newMockConflictRepo() *mockConflictRepo {
	return &mockConflictRepo{conflicts: make(map[string]*domain.Conflict)}
}

func (m *mockConflictRepo) Create(conflict *domain.Conflict) error {
	m.conflicts[conflict.ID] = conflict
	return nil
}

func (m *mockConflictRepo) FindByID(id string) (*domain.Conflict, error) {
	if c, exists := m.conflicts[id]; exists {
		return c, nil
	}
	return nil, repository.ErrNotFound
}

func (m *mockConflictRepo) FindByVersionPair(localVersionID, remoteVersionID string) (*domain.Conflict, error) {
	for _, c := range m.conflicts {
		if c.LocalVersionID == localVersionID && c.RemoteVersionID == remoteVersionID {
			return c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockConflictRepo) ListPendingByNote(noteID string) ([]*domain.Conflict, error) {
	var conflicts []*domain.Conflict
	for _, c := range m.conflicts {
		if c.NoteID == noteID && c.Status == domain.ConflictPending {
			conflicts = append(conflicts, c)
		}
	}
	return conflicts, nil
}

func (m *mockConflictRepo) ListPendingByOwner(ownerID string) ([]*domain.Conflict, error) {
	var conflicts []*domain.Conflict
	for _, c := range m.conflicts {
		if c.NoteOwnerID == ownerID && c.Status == domain.ConflictPending {
			conflicts = append(conflicts, c)
		}
	}
	return conflicts, nil
}

func (m *mockConflictRepo) MarkResolved(id string, resolution domain.ResolutionType, resolvedBy string) error {
	c, exists := m.conflicts[id]
	if !exists {
		return repository.ErrNotFound
	}
	now := time.Now()
	c.Status = domain.ConflictResolved
	c.Resolution = resolution
	c.ResolvedAt = &now
	c.ResolvedBy = resolvedBy
	return nil
}

type mockHistoryRepo struct {
	mu      sync.Mutex
	entries []*domain.HistoryEntry
}

func newMockHistoryRepo() *mockHistoryRepo {
	return &mockHistoryRepo{}
}

func (m *mockHistoryRepo) Append(entry *domain.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockHistoryRepo) ListByNote(noteID string, limit int) ([]*domain.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []*domain.HistoryEntry
	for _, e := range m.entries {
		if e.NoteID == noteID {
			entries = append(entries, e)
		}
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *mockHistoryRepo) byAction(action domain.HistoryAction) []*domain.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []*domain.HistoryEntry
	for _, e := range m.entries {
		if e.Action == action {
			entries = append(entries, e)
		}
	}
	return entries
}

type mockShareRepo struct {
	// noteID -> userIDs
	grants map[string][]string
}

func newMockShareRepo() *mockShareRepo {
	return &mockShareRepo{grants: make(map[string][]string)}
}

func (m *mockShareRepo) Grant(share *domain.Share) error {
	m.grants[share.NoteID] = append(m.grants[share.NoteID], share.UserID)
	return nil
}

func (m *mockShareRepo) Revoke(noteID, userID string) error {
	users := m.grants[noteID]
	for i, id := range users {
		if id == userID {
			m.grants[noteID] = append(users[:i], users[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *mockShareRepo) ListUserIDs(noteID string) ([]string, error) {
	return m.grants[noteID], nil
}

func (m *mockShareRepo) ListNoteIDs(userID string) ([]string, error) {
	var noteIDs []string
	for noteID, users := range m.grants {
		for _, id := range users {
			if id == userID {
				noteIDs = append(noteIDs, noteID)
			}
		}
	}
	return noteIDs, nil
}

type broadcastEvent struct {
	kind      string
	noteID    string
	versionID string
	userID    string
}

type mockBroadcaster struct {
	mu     sync.Mutex
	events []broadcastEvent
}

func (m *mockBroadcaster) NoteUpdated(noteID, versionID, title, content, contentHash, originUserID, originDeviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, broadcastEvent{kind: "note_updated", noteID: noteID, versionID: versionID, userID: originUserID})
}

func (m *mockBroadcaster) ConflictDetected(noteID, conflictType, detectedBy string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, broadcastEvent{kind: "conflict_detected", noteID: noteID, userID: detectedBy})
}

func (m *mockBroadcaster) byKind(kind string) []broadcastEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var events []broadcastEvent
	for _, e := range m.events {
		if e.kind == kind {
			events = append(events, e)
		}
	}
	return events
}
