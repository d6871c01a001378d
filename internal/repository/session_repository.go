package repository

import (
	"context"
	"fmt"
	"time"

	"notesync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// SessionRepository persists editing and device sessions. The in-memory
// presence registry is an index over these records and is rebuilt from them
// on restart; the store stays the source of truth.
type SessionRepository interface {
	UpsertEditing(session *domain.EditingSession) error
	FindEditing(noteID, userID string) (*domain.EditingSession, error)
	ListActiveEditing() ([]*domain.EditingSession, error)
	ListActiveEditingByNote(noteID string) ([]*domain.EditingSession, error)
	CloseEditing(noteID, userID string) error
	CloseEditingForDevice(deviceID string) ([]*domain.EditingSession, error)

	UpsertDevice(session *domain.DeviceSession) error
	RemoveDevice(deviceID string) error
}

type sessionRepository struct {
	client *kivik.Client
	dbName string
}

func NewSessionRepository(client *kivik.Client, dbName string) SessionRepository {
	return &sessionRepository{client: client, dbName: dbName}
}

func editingDocID(noteID, userID string) string {
	return fmt.Sprintf("editsession:%s:%s", noteID, userID)
}

func (r *sessionRepository) UpsertEditing(session *domain.EditingSession) error {
	db := r.client.DB(r.dbName)
	docID := editingDocID(session.NoteID, session.UserID)

	doc := map[string]interface{}{
		"id":            session.ID,
		"note_id":       session.NoteID,
		"user_id":       session.UserID,
		"device_id":     session.DeviceID,
		"status":        session.Status,
		"started_at":    session.StartedAt,
		"last_activity": session.LastActivity,
	}

	var existing map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existing); err == nil {
		doc["_rev"] = existing["_rev"]
	}

	if _, err := db.Put(context.Background(), docID, doc); err != nil {
		return fmt.Errorf("failed to upsert editing session: %w", err)
	}

	return nil
}

func (r *sessionRepository) FindEditing(noteID, userID string) (*domain.EditingSession, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(context.Background(), editingDocID(noteID, userID))

	var session domain.EditingSession
	if err := row.ScanDoc(&session); err != nil {
		return nil, notFoundOr(err, "failed to find editing session")
	}

	return &session, nil
}

func (r *sessionRepository) ListActiveEditing() ([]*domain.EditingSession, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"status":        domain.SessionActive,
			"last_activity": map[string]interface{}{"$exists": true},
		},
	}

	return r.findEditing(query, "failed to list active editing sessions")
}

func (r *sessionRepository) ListActiveEditingByNote(noteID string) ([]*domain.EditingSession, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"note_id": noteID,
			"status":  domain.SessionActive,
		},
	}

	return r.findEditing(query, "failed to list editing sessions by note")
}

func (r *sessionRepository) findEditing(query map[string]interface{}, wrap string) ([]*domain.EditingSession, error) {
	db := r.client.DB(r.dbName)

	rows := db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", wrap, err)
	}
	defer rows.Close()

	var sessions []*domain.EditingSession
	for rows.Next() {
		var session domain.EditingSession
		if err := rows.ScanDoc(&session); err != nil {
			continue
		}
		sessions = append(sessions, &session)
	}

	return sessions, nil
}

func (r *sessionRepository) CloseEditing(noteID, userID string) error {
	db := r.client.DB(r.dbName)
	docID := editingDocID(noteID, userID)

	var existingDoc map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existingDoc); err != nil {
		return notFoundOr(err, "failed to fetch editing session")
	}

	existingDoc["status"] = domain.SessionInactive
	existingDoc["last_activity"] = time.Now()

	if _, err := db.Put(context.Background(), docID, existingDoc); err != nil {
		return fmt.Errorf("failed to close editing session: %w", err)
	}

	return nil
}

func (r *sessionRepository) CloseEditingForDevice(deviceID string) ([]*domain.EditingSession, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"device_id": deviceID,
			"status":    domain.SessionActive,
		},
	}

	sessions, err := r.findEditing(query, "failed to list editing sessions by device")
	if err != nil {
		return nil, err
	}

	for _, session := range sessions {
		if err := r.CloseEditing(session.NoteID, session.UserID); err != nil {
			continue
		}
	}

	return sessions, nil
}

func (r *sessionRepository) UpsertDevice(session *domain.DeviceSession) error {
	db := r.client.DB(r.dbName)
	docID := fmt.Sprintf("devsession:%s", session.DeviceID)

	doc := map[string]interface{}{
		"id":             session.ID,
		"device_id":      session.DeviceID,
		"user_id":        session.UserID,
		"last_connected": session.LastConnected,
	}

	var existing map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existing); err == nil {
		doc["_rev"] = existing["_rev"]
	}

	if _, err := db.Put(context.Background(), docID, doc); err != nil {
		return fmt.Errorf("failed to upsert device session: %w", err)
	}

	return nil
}

func (r *sessionRepository) RemoveDevice(deviceID string) error {
	db := r.client.DB(r.dbName)
	docID := fmt.Sprintf("devsession:%s", deviceID)

	var doc map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&doc); err != nil {
		return nil // already gone
	}

	rev, _ := doc["_rev"].(string)
	if _, err := db.Delete(context.Background(), docID, rev); err != nil {
		return fmt.Errorf("failed to remove device session: %w", err)
	}

	return nil
}
