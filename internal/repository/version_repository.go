package repository

import (
	"context"
	"fmt"
	"time"

	"notesync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type VersionRepository interface {
	Create(version *domain.NoteVersion) error
	FindByID(id string) (*domain.NoteVersion, error)
	ListByNote(noteID string) ([]*domain.NoteVersion, error)
	ListPendingByNote(noteID string) ([]*domain.NoteVersion, error)
	ListPendingByAuthor(authorID string) ([]*domain.NoteVersion, error)
	UpdateStatus(id string, status domain.VersionStatus) error
}

type versionRepository struct {
	client *kivik.Client
	dbName string
}

func NewVersionRepository(client *kivik.Client, dbName string) VersionRepository {
	return &versionRepository{client: client, dbName: dbName}
}

func (r *versionRepository) Create(version *domain.NoteVersion) error {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("version:%s", version.ID)
	if _, err := db.Put(context.Background(), docID, version); err != nil {
		return fmt.Errorf("failed to create version: %w", err)
	}

	return nil
}

func (r *versionRepository) FindByID(id string) (*domain.NoteVersion, error) {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("version:%s", id)
	row := db.Get(context.Background(), docID)

	var version domain.NoteVersion
	if err := row.ScanDoc(&version); err != nil {
		return nil, notFoundOr(err, "failed to find version")
	}

	return &version, nil
}

func (r *versionRepository) ListByNote(noteID string) ([]*domain.NoteVersion, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"note_id":      noteID,
			"content_hash": map[string]interface{}{"$exists": true},
		},
	}

	return r.find(query, "failed to list versions")
}

func (r *versionRepository) ListPendingByNote(noteID string) ([]*domain.NoteVersion, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"note_id": noteID,
			"status":  domain.VersionPending,
		},
	}

	return r.find(query, "failed to list pending versions")
}

func (r *versionRepository) ListPendingByAuthor(authorID string) ([]*domain.NoteVersion, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"author_id": authorID,
			"status":    domain.VersionPending,
		},
	}

	return r.find(query, "failed to list pending versions by author")
}

func (r *versionRepository) find(query map[string]interface{}, wrap string) ([]*domain.NoteVersion, error) {
	db := r.client.DB(r.dbName)

	rows := db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", wrap, err)
	}
	defer rows.Close()

	var versions []*domain.NoteVersion
	for rows.Next() {
		var version domain.NoteVersion
		if err := rows.ScanDoc(&version); err != nil {
			continue
		}
		versions = append(versions, &version)
	}

	return versions, nil
}

func (r *versionRepository) UpdateStatus(id string, status domain.VersionStatus) error {
	db := r.client.DB(r.dbName)
	docID := fmt.Sprintf("version:%s", id)

	var existingDoc map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existingDoc); err != nil {
		return notFoundOr(err, "failed to fetch version for status update")
	}

	existingDoc["status"] = status
	existingDoc["updated_at"] = time.Now()

	if _, err := db.Put(context.Background(), docID, existingDoc); err != nil {
		return fmt.Errorf("failed to update version status: %w", err)
	}

	return nil
}
