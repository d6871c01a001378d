package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"notesync-server/internal/domain"
	"notesync-server/internal/repository"
)

type stubSessionRepo struct {
	editing map[string]*domain.EditingSession
	devices map[string]*domain.DeviceSession
	upserts int
}

func newStubSessionRepo() *stubSessionRepo {
	return &stubSessionRepo{
		editing: make(map[string]*domain.EditingSession),
		devices: make(map[string]*domain.DeviceSession),
	}
}

func editingKey(noteID, userID string) string {
	return noteID + "/" + userID
}

func (s *stubSessionRepo) UpsertEditing(session *domain.EditingSession) error {
	s.upserts++
	s.editing[editingKey(session.NoteID, session.UserID)] = session
	return nil
}

func (s *stubSessionRepo) FindEditing(noteID, userID string) (*domain.EditingSession, error) {
	session, ok := s.editing[editingKey(noteID, userID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return session, nil
}

func (s *stubSessionRepo) ListActiveEditing() ([]*domain.EditingSession, error) {
	var sessions []*domain.EditingSession
	for _, session := range s.editing {
		if session.Status == domain.SessionActive {
			sessions = append(sessions, session)
		}
	}
	return sessions, nil
}

func (s *stubSessionRepo) ListActiveEditingByNote(noteID string) ([]*domain.EditingSession, error) {
	var sessions []*domain.EditingSession
	for _, session := range s.editing {
		if session.NoteID == noteID && session.Status == domain.SessionActive {
			sessions = append(sessions, session)
		}
	}
	return sessions, nil
}

func (s *stubSessionRepo) CloseEditing(noteID, userID string) error {
	session, ok := s.editing[editingKey(noteID, userID)]
	if !ok {
		return repository.ErrNotFound
	}
	session.Status = domain.SessionInactive
	return nil
}

func (s *stubSessionRepo) CloseEditingForDevice(deviceID string) ([]*domain.EditingSession, error) {
	var closed []*domain.EditingSession
	for _, session := range s.editing {
		if session.DeviceID == deviceID && session.Status == domain.SessionActive {
			session.Status = domain.SessionInactive
			closed = append(closed, session)
		}
	}
	return closed, nil
}

func (s *stubSessionRepo) UpsertDevice(session *domain.DeviceSession) error {
	s.devices[session.DeviceID] = session
	return nil
}

func (s *stubSessionRepo) RemoveDevice(deviceID string) error {
	delete(s.devices, deviceID)
	return nil
}

type stubNoteRepo struct {
	notes map[string]*domain.Note
}

func (s *stubNoteRepo) Create(note *domain.Note) error { return nil }

func (s *stubNoteRepo) FindByID(id string) (*domain.Note, error) {
	note, ok := s.notes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return note, nil
}

func (s *stubNoteRepo) ListByOwner(ownerID string) ([]*domain.Note, error) { return nil, nil }

func (s *stubNoteRepo) FindRecentByTitle(ownerID, title string, since time.Time) ([]*domain.Note, error) {
	return nil, nil
}

func (s *stubNoteRepo) Update(note *domain.Note) error { return nil }
func (s *stubNoteRepo) Delete(id string) error         { return nil }

type stubShareRepo struct {
	userIDs map[string][]string
}

func (s *stubShareRepo) Grant(share *domain.Share) error    { return nil }
func (s *stubShareRepo) Revoke(noteID, userID string) error { return nil }

func (s *stubShareRepo) ListUserIDs(noteID string) ([]string, error) {
	return s.userIDs[noteID], nil
}

func (s *stubShareRepo) ListNoteIDs(userID string) ([]string, error) { return nil, nil }

type managerFixture struct {
	sessions *stubSessionRepo
	notes    *stubNoteRepo
	shares   *stubShareRepo
	manager  *Manager
}

// newManagerFixture wires a manager over stub stores with note n1 owned by
// user1 and shared with user2. The run loop is not started; tests drive the
// manager directly.
func newManagerFixture() *managerFixture {
	f := &managerFixture{
		sessions: newStubSessionRepo(),
		notes: &stubNoteRepo{notes: map[string]*domain.Note{
			"n1": {ID: "n1", OwnerID: "user1"},
		}},
		shares: &stubShareRepo{userIDs: map[string][]string{
			"n1": {"user2"},
		}},
	}
	f.manager = NewManager(2, 1<<20, 10*time.Second, 60*time.Second, 54*time.Second, 5*time.Minute,
		f.sessions, f.notes, f.shares)
	return f
}

func (f *managerFixture) connect(t *testing.T, id, userID, deviceID string) *Client {
	t.Helper()
	client := NewClient(id, userID, deviceID, nil, f.manager)
	f.manager.registerClient(client)
	return client
}

// drain empties a client's send buffer and decodes every queued message.
func drain(t *testing.T, c *Client) []*Message {
	t.Helper()
	var msgs []*Message
	for {
		select {
		case raw, ok := <-c.Send:
			if !ok {
				return msgs
			}
			var msg Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatalf("unmarshal queued message: %v", err)
			}
			msgs = append(msgs, &msg)
		default:
			return msgs
		}
	}
}

func TestManager_RegisterSendsConnectionEstablished(t *testing.T) {
	f := newManagerFixture()
	client := f.connect(t, "c1", "user1", "deviceA")

	msgs := drain(t, client)
	if len(msgs) != 1 || msgs[0].Type != TypeConnectionEstablished {
		t.Fatalf("expected a connection_established message, got %v", msgs)
	}

	var payload ConnectionEstablishedPayload
	if err := msgs[0].UnmarshalData(&payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ClientID != "c1" || payload.UserID != "user1" {
		t.Errorf("unexpected payload: %+v", payload)
	}

	if _, ok := f.sessions.devices["deviceA"]; !ok {
		t.Error("expected device session persisted")
	}
}

func TestManager_MaxConnectionsPerUser(t *testing.T) {
	f := newManagerFixture()
	f.connect(t, "c1", "user1", "deviceA")
	f.connect(t, "c2", "user1", "deviceB")

	third := f.connect(t, "c3", "user1", "deviceC")

	select {
	case _, ok := <-third.Send:
		if ok {
			t.Fatal("expected no message for a rejected connection")
		}
	default:
		t.Fatal("expected the rejected connection's channel closed")
	}

	if got := f.manager.GetUserConnections("user1"); got != 2 {
		t.Errorf("expected 2 connections, got %d", got)
	}
}

func TestManager_StartEditingDeduplicates(t *testing.T) {
	f := newManagerFixture()
	editor := f.connect(t, "c1", "user1", "deviceA")
	watcher := f.connect(t, "c2", "user2", "deviceB")
	drain(t, editor)
	drain(t, watcher)

	if err := f.manager.StartEditing(editor, "n1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	msgs := drain(t, watcher)
	if len(msgs) != 1 || msgs[0].Type != TypeUserEditing {
		t.Fatalf("expected one user_editing message, got %v", msgs)
	}
	var payload UserEditingPayload
	msgs[0].UnmarshalData(&payload)
	if payload.UserID != "user1" || !payload.Editing {
		t.Errorf("unexpected payload: %+v", payload)
	}

	// A second start from the same user folds into the open session.
	if err := f.manager.StartEditing(editor, "n1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if msgs := drain(t, watcher); len(msgs) != 0 {
		t.Errorf("expected no announcement for a repeated start, got %v", msgs)
	}

	editors := f.manager.EditorsForNote("n1")
	if len(editors) != 1 {
		t.Fatalf("expected 1 editing session, got %d", len(editors))
	}
	if f.sessions.upserts != 2 {
		t.Errorf("expected the session refreshed in the store, got %d upserts", f.sessions.upserts)
	}

	// Starting from another device moves the session, it does not fork it.
	second := f.connect(t, "c3", "user1", "deviceC")
	drain(t, second)
	if err := f.manager.StartEditing(second, "n1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	editors = f.manager.EditorsForNote("n1")
	if len(editors) != 1 {
		t.Fatalf("expected 1 editing session, got %d", len(editors))
	}
	if editors[0].DeviceID != "deviceC" {
		t.Errorf("expected session moved to deviceC, got %s", editors[0].DeviceID)
	}
}

func TestManager_StopEditingAnnounces(t *testing.T) {
	f := newManagerFixture()
	editor := f.connect(t, "c1", "user1", "deviceA")
	watcher := f.connect(t, "c2", "user2", "deviceB")

	f.manager.StartEditing(editor, "n1")
	drain(t, watcher)

	if err := f.manager.StopEditing(editor, "n1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if editors := f.manager.EditorsForNote("n1"); len(editors) != 0 {
		t.Errorf("expected no editors left, got %d", len(editors))
	}
	session := f.sessions.editing[editingKey("n1", "user1")]
	if session == nil || session.Status != domain.SessionInactive {
		t.Error("expected the stored session closed")
	}

	msgs := drain(t, watcher)
	if len(msgs) != 1 || msgs[0].Type != TypeUserEditing {
		t.Fatalf("expected one user_editing message, got %v", msgs)
	}
	var payload UserEditingPayload
	msgs[0].UnmarshalData(&payload)
	if payload.Editing {
		t.Error("expected an editing=false announcement")
	}
}

func TestManager_StopEditingWithoutSession(t *testing.T) {
	f := newManagerFixture()
	editor := f.connect(t, "c1", "user1", "deviceA")

	if err := f.manager.StopEditing(editor, "n1"); err != nil {
		t.Fatalf("expected a stop without a session to be a no-op, got %v", err)
	}
}

func TestManager_RestorePresence(t *testing.T) {
	f := newManagerFixture()
	f.sessions.editing[editingKey("n1", "user1")] = &domain.EditingSession{
		ID: "s1", NoteID: "n1", UserID: "user1", DeviceID: "deviceA",
		Status: domain.SessionActive, LastActivity: time.Now(),
	}
	f.sessions.editing[editingKey("n1", "user2")] = &domain.EditingSession{
		ID: "s2", NoteID: "n1", UserID: "user2", DeviceID: "deviceB",
		Status: domain.SessionInactive, LastActivity: time.Now(),
	}

	if err := f.manager.RestorePresence(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	editors := f.manager.EditorsForNote("n1")
	if len(editors) != 1 {
		t.Fatalf("expected only the active session restored, got %d", len(editors))
	}
	if editors[0].UserID != "user1" {
		t.Errorf("expected user1's session, got %s", editors[0].UserID)
	}
}

func TestManager_SweepInactiveClosesStaleSessions(t *testing.T) {
	f := newManagerFixture()
	editor := f.connect(t, "c1", "user1", "deviceA")
	watcher := f.connect(t, "c2", "user2", "deviceB")

	f.manager.StartEditing(editor, "n1")
	drain(t, watcher)

	session := f.sessions.editing[editingKey("n1", "user1")]
	session.LastActivity = time.Now().Add(-time.Hour)

	f.manager.SweepInactive()

	if editors := f.manager.EditorsForNote("n1"); len(editors) != 0 {
		t.Errorf("expected the stale session swept, got %d", len(editors))
	}
	if session.Status != domain.SessionInactive {
		t.Error("expected the stored session closed")
	}

	msgs := drain(t, watcher)
	if len(msgs) != 1 || msgs[0].Type != TypeUserEditing {
		t.Fatalf("expected one user_editing message, got %v", msgs)
	}
	var payload UserEditingPayload
	msgs[0].UnmarshalData(&payload)
	if payload.Editing {
		t.Error("expected an editing=false announcement")
	}
}

func TestManager_TouchEditingKeepsSessionAlive(t *testing.T) {
	f := newManagerFixture()
	editor := f.connect(t, "c1", "user1", "deviceA")

	f.manager.StartEditing(editor, "n1")
	session := f.sessions.editing[editingKey("n1", "user1")]
	session.LastActivity = time.Now().Add(-time.Hour)

	f.manager.TouchEditing("n1", "user1")
	f.manager.SweepInactive()

	if editors := f.manager.EditorsForNote("n1"); len(editors) != 1 {
		t.Errorf("expected a touched session to survive the sweep, got %d editors", len(editors))
	}
}

func TestManager_UnregisterClosesEditing(t *testing.T) {
	f := newManagerFixture()
	editor := f.connect(t, "c1", "user1", "deviceA")
	watcher := f.connect(t, "c2", "user2", "deviceB")

	f.manager.StartEditing(editor, "n1")
	drain(t, watcher)

	f.manager.unregisterClient(editor)

	if editors := f.manager.EditorsForNote("n1"); len(editors) != 0 {
		t.Errorf("expected the editor's session closed on disconnect, got %d", len(editors))
	}
	if _, ok := f.sessions.devices["deviceA"]; ok {
		t.Error("expected the device session removed with the last connection")
	}

	msgs := drain(t, watcher)
	if len(msgs) != 1 || msgs[0].Type != TypeUserEditing {
		t.Fatalf("expected one user_editing message, got %v", msgs)
	}
	var payload UserEditingPayload
	msgs[0].UnmarshalData(&payload)
	if payload.Editing {
		t.Error("expected an editing=false announcement")
	}
}

func TestManager_NoteUpdatedSkipsOrigin(t *testing.T) {
	f := newManagerFixture()
	origin := f.connect(t, "c1", "user1", "deviceA")
	other := f.connect(t, "c2", "user2", "deviceB")
	drain(t, origin)
	drain(t, other)

	f.manager.NoteUpdated("n1", "v1", "title", "content", "hash", "user1", "deviceA")

	if msgs := drain(t, origin); len(msgs) != 0 {
		t.Errorf("expected the origin user skipped, got %v", msgs)
	}

	msgs := drain(t, other)
	if len(msgs) != 1 || msgs[0].Type != TypeNoteUpdated {
		t.Fatalf("expected one note_updated message, got %v", msgs)
	}
	var payload NoteUpdatedPayload
	msgs[0].UnmarshalData(&payload)
	if payload.VersionID != "v1" || payload.UserID != "user1" {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestManager_ConflictDetectedReachesEveryone(t *testing.T) {
	f := newManagerFixture()
	origin := f.connect(t, "c1", "user1", "deviceA")
	other := f.connect(t, "c2", "user2", "deviceB")
	drain(t, origin)
	drain(t, other)

	f.manager.ConflictDetected("n1", "concurrent_edit", "user1")

	for _, client := range []*Client{origin, other} {
		msgs := drain(t, client)
		if len(msgs) != 1 || msgs[0].Type != TypeConflictDetected {
			t.Fatalf("expected one conflict_detected message for %s, got %v", client.UserID, msgs)
		}
	}
}
