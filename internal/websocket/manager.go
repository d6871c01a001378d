package websocket

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"notesync-server/internal/domain"
	"notesync-server/internal/repository"

	"github.com/google/uuid"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

type MessageHandler interface {
	HandleWebSocketMessage(client *Client, msg *Message) error
}

// Manager owns the live connections and the editing-presence registry.
// Presence is an in-memory index over the session store: the store is the
// source of truth and the registry is rebuilt from it on restart.
type Manager struct {
	clients      map[string]*Client
	userIndex    map[string]map[string]bool
	clientsMutex sync.RWMutex

	// noteID -> userID -> session
	editors    map[string]map[string]*domain.EditingSession
	editorsMux sync.RWMutex

	Register      chan *Client
	Unregister    chan *Client
	HandleMessage chan *ClientMessage

	maxConnPerUser    int
	maxMessageSize    int64
	writeWait         time.Duration
	pongWait          time.Duration
	pingPeriod        time.Duration
	inactivityTimeout time.Duration

	sessionRepo repository.SessionRepository
	noteRepo    repository.NoteRepository
	shareRepo   repository.ShareRepository

	messageHandler MessageHandler
}

func NewManager(
	maxConnPerUser int,
	maxMessageSize int64,
	writeWait, pongWait, pingPeriod, inactivityTimeout time.Duration,
	sessionRepo repository.SessionRepository,
	noteRepo repository.NoteRepository,
	shareRepo repository.ShareRepository,
) *Manager {
	return &Manager{
		clients:           make(map[string]*Client),
		userIndex:         make(map[string]map[string]bool),
		editors:           make(map[string]map[string]*domain.EditingSession),
		Register:          make(chan *Client),
		Unregister:        make(chan *Client),
		HandleMessage:     make(chan *ClientMessage),
		maxConnPerUser:    maxConnPerUser,
		maxMessageSize:    maxMessageSize,
		writeWait:         writeWait,
		pongWait:          pongWait,
		pingPeriod:        pingPeriod,
		inactivityTimeout: inactivityTimeout,
		sessionRepo:       sessionRepo,
		noteRepo:          noteRepo,
		shareRepo:         shareRepo,
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

// RestorePresence rebuilds the editing registry from the session store.
// Call before Run.
func (m *Manager) RestorePresence() error {
	sessions, err := m.sessionRepo.ListActiveEditing()
	if err != nil {
		return err
	}

	m.editorsMux.Lock()
	defer m.editorsMux.Unlock()

	for _, session := range sessions {
		if m.editors[session.NoteID] == nil {
			m.editors[session.NoteID] = make(map[string]*domain.EditingSession)
		}
		m.editors[session.NoteID][session.UserID] = session
	}

	log.Printf("restored %d editing sessions", len(sessions))
	return nil
}

func (m *Manager) Run() {
	for {
		select {
		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(clientMsg)
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()

	if m.userIndex[client.UserID] == nil {
		m.userIndex[client.UserID] = make(map[string]bool)
	}

	if len(m.userIndex[client.UserID]) >= m.maxConnPerUser {
		m.clientsMutex.Unlock()
		log.Printf("max connections reached for user %s", client.UserID)
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	m.userIndex[client.UserID][client.ID] = true
	m.clientsMutex.Unlock()

	if err := m.sessionRepo.UpsertDevice(&domain.DeviceSession{
		ID:            uuid.New().String(),
		DeviceID:      client.DeviceID,
		UserID:        client.UserID,
		LastConnected: time.Now(),
	}); err != nil {
		log.Printf("failed to persist device session: %v", err)
	}

	if msg, err := NewMessage(TypeConnectionEstablished, ConnectionEstablishedPayload{
		ClientID: client.ID,
		UserID:   client.UserID,
	}); err == nil {
		m.send(client, msg)
	}

	log.Printf("client registered: %s (user: %s, device: %s)", client.ID, client.UserID, client.DeviceID)
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	if _, ok := m.clients[client.ID]; !ok {
		m.clientsMutex.Unlock()
		return
	}

	delete(m.clients, client.ID)
	delete(m.userIndex[client.UserID], client.ID)
	lastConn := len(m.userIndex[client.UserID]) == 0
	if lastConn {
		delete(m.userIndex, client.UserID)
	}
	m.clientsMutex.Unlock()

	close(client.Send)

	// A disconnect ends whatever the device was editing.
	closed, err := m.sessionRepo.CloseEditingForDevice(client.DeviceID)
	if err != nil {
		log.Printf("failed to close editing sessions for device %s: %v", client.DeviceID, err)
	}
	for _, session := range closed {
		m.dropEditor(session.NoteID, session.UserID)
		m.announceEditing(session.NoteID, session.UserID, false)
	}

	if lastConn {
		if err := m.sessionRepo.RemoveDevice(client.DeviceID); err != nil {
			log.Printf("failed to remove device session: %v", err)
		}
	}

	log.Printf("client unregistered: %s", client.ID)
}

func (m *Manager) processMessage(clientMsg *ClientMessage) {
	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		log.Printf("error unmarshaling message: %v", err)
		return
	}

	if m.messageHandler != nil {
		if err := m.messageHandler.HandleWebSocketMessage(clientMsg.Client, &msg); err != nil {
			log.Printf("error handling %s message: %v", msg.Type, err)
		}
	}
}

// StartEditing opens (or refreshes) the editing session for the client on
// the note. A second start from the same user is absorbed into the existing
// session; only a genuinely new session is announced.
func (m *Manager) StartEditing(client *Client, noteID string) error {
	now := time.Now()

	m.editorsMux.Lock()
	existing := m.editors[noteID][client.UserID]
	if existing != nil {
		existing.DeviceID = client.DeviceID
		existing.LastActivity = now
		m.editorsMux.Unlock()
		return m.sessionRepo.UpsertEditing(existing)
	}

	session := &domain.EditingSession{
		ID:           uuid.New().String(),
		NoteID:       noteID,
		UserID:       client.UserID,
		DeviceID:     client.DeviceID,
		Status:       domain.SessionActive,
		StartedAt:    now,
		LastActivity: now,
	}
	if m.editors[noteID] == nil {
		m.editors[noteID] = make(map[string]*domain.EditingSession)
	}
	m.editors[noteID][client.UserID] = session
	m.editorsMux.Unlock()

	if err := m.sessionRepo.UpsertEditing(session); err != nil {
		return err
	}

	m.announceEditing(noteID, client.UserID, true)
	return nil
}

func (m *Manager) StopEditing(client *Client, noteID string) error {
	m.dropEditor(noteID, client.UserID)

	if err := m.sessionRepo.CloseEditing(noteID, client.UserID); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return nil
	}

	m.announceEditing(noteID, client.UserID, false)
	return nil
}

// TouchEditing bumps the activity clock of an open session, if any.
func (m *Manager) TouchEditing(noteID, userID string) {
	m.editorsMux.Lock()
	session := m.editors[noteID][userID]
	if session != nil {
		session.LastActivity = time.Now()
	}
	m.editorsMux.Unlock()

	if session != nil {
		if err := m.sessionRepo.UpsertEditing(session); err != nil {
			log.Printf("failed to refresh editing session: %v", err)
		}
	}
}

func (m *Manager) EditorsForNote(noteID string) []*domain.EditingSession {
	m.editorsMux.RLock()
	defer m.editorsMux.RUnlock()

	sessions := make([]*domain.EditingSession, 0, len(m.editors[noteID]))
	for _, session := range m.editors[noteID] {
		sessions = append(sessions, session)
	}
	return sessions
}

// SweepInactive closes editing sessions idle past the timeout and drops
// connections that stopped responding. Run it on a ticker.
func (m *Manager) SweepInactive() {
	cutoff := time.Now().Add(-m.inactivityTimeout)

	var stale []*domain.EditingSession
	m.editorsMux.Lock()
	for noteID, byUser := range m.editors {
		for userID, session := range byUser {
			if session.LastActivity.Before(cutoff) {
				stale = append(stale, session)
				delete(byUser, userID)
			}
		}
		if len(byUser) == 0 {
			delete(m.editors, noteID)
		}
	}
	m.editorsMux.Unlock()

	for _, session := range stale {
		if err := m.sessionRepo.CloseEditing(session.NoteID, session.UserID); err != nil {
			log.Printf("failed to close stale editing session: %v", err)
		}
		m.announceEditing(session.NoteID, session.UserID, false)
		log.Printf("closed inactive editing session: note %s user %s", session.NoteID, session.UserID)
	}

	m.clientsMutex.RLock()
	var dead []*Client
	for _, client := range m.clients {
		if client.LastActive().Before(cutoff) {
			dead = append(dead, client)
		}
	}
	m.clientsMutex.RUnlock()

	for _, client := range dead {
		log.Printf("dropping unresponsive client: %s", client.ID)
		m.Unregister <- client
	}
}

// NoteUpdated implements [service.Broadcaster]: every user with access to
// the note hears about the new version except the one who produced it.
func (m *Manager) NoteUpdated(noteID, versionID, title, content, contentHash, originUserID, originDeviceID string) {
	msg, err := NewMessage(TypeNoteUpdated, NoteUpdatedPayload{
		NoteID:      noteID,
		VersionID:   versionID,
		Title:       title,
		Content:     content,
		ContentHash: contentHash,
		UserID:      originUserID,
		DeviceID:    originDeviceID,
	})
	if err != nil {
		log.Printf("failed to build note_updated message: %v", err)
		return
	}

	for _, userID := range m.accessUserIDs(noteID) {
		if userID == originUserID {
			continue
		}
		m.broadcastToUser(userID, msg, "")
	}
}

// ConflictDetected implements [service.Broadcaster]: the whole audience is
// told, including the detecting user's other devices.
func (m *Manager) ConflictDetected(noteID, conflictType, detectedBy string) {
	msg, err := NewMessage(TypeConflictDetected, ConflictDetectedPayload{
		NoteID:       noteID,
		ConflictType: conflictType,
		DetectedBy:   detectedBy,
	})
	if err != nil {
		log.Printf("failed to build conflict_detected message: %v", err)
		return
	}

	for _, userID := range m.accessUserIDs(noteID) {
		m.broadcastToUser(userID, msg, "")
	}
}

func (m *Manager) announceEditing(noteID, userID string, editing bool) {
	msg, err := NewMessage(TypeUserEditing, UserEditingPayload{
		NoteID:  noteID,
		UserID:  userID,
		Editing: editing,
	})
	if err != nil {
		return
	}

	for _, audienceID := range m.accessUserIDs(noteID) {
		if audienceID == userID {
			continue
		}
		m.broadcastToUser(audienceID, msg, "")
	}
}

// accessUserIDs is the note's audience: the owner plus every collaborator.
func (m *Manager) accessUserIDs(noteID string) []string {
	var ids []string

	note, err := m.noteRepo.FindByID(noteID)
	if err == nil {
		ids = append(ids, note.OwnerID)
	} else if !errors.Is(err, repository.ErrNotFound) {
		log.Printf("failed to resolve note audience: %v", err)
	}

	shared, err := m.shareRepo.ListUserIDs(noteID)
	if err != nil {
		log.Printf("failed to list note collaborators: %v", err)
		return ids
	}

	for _, id := range shared {
		if note != nil && id == note.OwnerID {
			continue
		}
		ids = append(ids, id)
	}

	return ids
}

func (m *Manager) broadcastToUser(userID string, message *Message, excludeDeviceID string) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		log.Printf("failed to marshal message: %v", err)
		return
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	for clientID := range m.userIndex[userID] {
		client := m.clients[clientID]
		if excludeDeviceID != "" && client.DeviceID == excludeDeviceID {
			continue
		}
		select {
		case client.Send <- messageBytes:
		default:
			// the write pump or sweeper reaps it; never block a broadcast
			log.Printf("client %s send buffer full, dropping message", clientID)
		}
	}
}

func (m *Manager) send(client *Client, message *Message) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return
	}

	select {
	case client.Send <- messageBytes:
	default:
		log.Printf("client %s send buffer full", client.ID)
	}
}

// Send delivers a message to one client; handlers use it for replies.
func (m *Manager) Send(client *Client, message *Message) {
	m.send(client, message)
}

func (m *Manager) dropEditor(noteID, userID string) {
	m.editorsMux.Lock()
	defer m.editorsMux.Unlock()

	if byUser, ok := m.editors[noteID]; ok {
		delete(byUser, userID)
		if len(byUser) == 0 {
			delete(m.editors, noteID)
		}
	}
}

func (m *Manager) GetUserConnections(userID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	return len(m.userIndex[userID])
}
