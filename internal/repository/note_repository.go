package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"notesync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// ErrNotFound is returned when a document does not exist in the store.
var ErrNotFound = errors.New("document not found")

func notFoundOr(err error, wrap string) error {
	if kivik.HTTPStatus(err) == http.StatusNotFound {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", wrap, err)
}

type NoteRepository interface {
	Create(note *domain.Note) error
	FindByID(id string) (*domain.Note, error)
	ListByOwner(ownerID string) ([]*domain.Note, error)
	// FindRecentByTitle returns non-deleted notes with the same owner and
	// title created after the cutoff. Used for duplicate-create absorption.
	FindRecentByTitle(ownerID, title string, since time.Time) ([]*domain.Note, error)
	Update(note *domain.Note) error
	Delete(id string) error
}

type noteRepository struct {
	client *kivik.Client
	dbName string
}

func NewNoteRepository(client *kivik.Client, dbName string) NoteRepository {
	return &noteRepository{client: client, dbName: dbName}
}

func (r *noteRepository) Create(note *domain.Note) error {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("note:%s", note.ID)
	if _, err := db.Put(context.Background(), docID, note); err != nil {
		return fmt.Errorf("failed to create note: %w", err)
	}

	return nil
}

func (r *noteRepository) FindByID(id string) (*domain.Note, error) {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("note:%s", id)
	row := db.Get(context.Background(), docID)

	var note domain.Note
	if err := row.ScanDoc(&note); err != nil {
		return nil, notFoundOr(err, "failed to find note")
	}

	return &note, nil
}

func (r *noteRepository) ListByOwner(ownerID string) ([]*domain.Note, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"owner_id":           ownerID,
			"current_version_id": map[string]interface{}{"$exists": true},
		},
	}

	return r.find(query, "failed to list notes")
}

func (r *noteRepository) FindRecentByTitle(ownerID, title string, since time.Time) ([]*domain.Note, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"owner_id":   ownerID,
			"title":      title,
			"is_deleted": false,
			"created_at": map[string]interface{}{"$gte": since},
		},
	}

	return r.find(query, "failed to find notes by title")
}

func (r *noteRepository) find(query map[string]interface{}, wrap string) ([]*domain.Note, error) {
	db := r.client.DB(r.dbName)

	rows := db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", wrap, err)
	}
	defer rows.Close()

	var notes []*domain.Note
	for rows.Next() {
		var note domain.Note
		if err := rows.ScanDoc(&note); err != nil {
			continue
		}
		notes = append(notes, &note)
	}

	return notes, nil
}

func (r *noteRepository) Update(note *domain.Note) error {
	db := r.client.DB(r.dbName)
	docID := fmt.Sprintf("note:%s", note.ID)

	var existingDoc map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existingDoc); err != nil {
		return notFoundOr(err, "failed to fetch note for update")
	}

	existingDoc["title"] = note.Title
	existingDoc["content"] = note.Content
	existingDoc["current_version_id"] = note.CurrentVersionID
	existingDoc["sharing"] = note.Sharing
	existingDoc["updated_at"] = time.Now()
	existingDoc["is_deleted"] = note.IsDeleted

	if _, err := db.Put(context.Background(), docID, existingDoc); err != nil {
		return fmt.Errorf("failed to update note: %w", err)
	}

	return nil
}

func (r *noteRepository) Delete(id string) error {
	db := r.client.DB(r.dbName)
	docID := fmt.Sprintf("note:%s", id)

	var existingDoc map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existingDoc); err != nil {
		return notFoundOr(err, "failed to fetch note for delete")
	}

	existingDoc["is_deleted"] = true
	existingDoc["updated_at"] = time.Now()

	if _, err := db.Put(context.Background(), docID, existingDoc); err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}

	return nil
}
