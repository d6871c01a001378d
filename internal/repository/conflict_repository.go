package repository

import (
	"context"
	"fmt"
	"time"

	"notesync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type ConflictRepository interface {
	Create(conflict *domain.Conflict) error
	FindByID(id string) (*domain.Conflict, error)
	// FindByVersionPair deduplicates detection: at most one conflict exists
	// per (local, remote) version pair.
	FindByVersionPair(localVersionID, remoteVersionID string) (*domain.Conflict, error)
	ListPendingByNote(noteID string) ([]*domain.Conflict, error)
	ListPendingByOwner(ownerID string) ([]*domain.Conflict, error)
	MarkResolved(id string, resolution domain.ResolutionType, resolvedBy string) error
}

type conflictRepository struct {
	client *kivik.Client
	dbName string
}

func NewConflictRepository(client *kivik.Client, dbName string) ConflictRepository {
	return &conflictRepository{client: client, dbName: dbName}
}

func (r *conflictRepository) Create(conflict *domain.Conflict) error {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("conflict:%s", conflict.ID)
	if _, err := db.Put(context.Background(), docID, conflict); err != nil {
		return fmt.Errorf("failed to create conflict: %w", err)
	}

	return nil
}

func (r *conflictRepository) FindByID(id string) (*domain.Conflict, error) {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("conflict:%s", id)
	row := db.Get(context.Background(), docID)

	var conflict domain.Conflict
	if err := row.ScanDoc(&conflict); err != nil {
		return nil, notFoundOr(err, "failed to find conflict")
	}

	return &conflict, nil
}

func (r *conflictRepository) FindByVersionPair(localVersionID, remoteVersionID string) (*domain.Conflict, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"local_version_id":  localVersionID,
			"remote_version_id": remoteVersionID,
		},
	}

	conflicts, err := r.find(query, "failed to find conflict by version pair")
	if err != nil {
		return nil, err
	}
	if len(conflicts) == 0 {
		return nil, ErrNotFound
	}

	return conflicts[0], nil
}

func (r *conflictRepository) ListPendingByNote(noteID string) ([]*domain.Conflict, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"note_id": noteID,
			"status":  domain.ConflictPending,
		},
	}

	return r.find(query, "failed to list pending conflicts by note")
}

func (r *conflictRepository) ListPendingByOwner(ownerID string) ([]*domain.Conflict, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"note_owner_id": ownerID,
			"status":        domain.ConflictPending,
		},
	}

	return r.find(query, "failed to list pending conflicts by owner")
}

func (r *conflictRepository) find(query map[string]interface{}, wrap string) ([]*domain.Conflict, error) {
	db := r.client.DB(r.dbName)

	rows := db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", wrap, err)
	}
	defer rows.Close()

	var conflicts []*domain.Conflict
	for rows.Next() {
		var conflict domain.Conflict
		if err := rows.ScanDoc(&conflict); err != nil {
			continue
		}
		conflicts = append(conflicts, &conflict)
	}

	return conflicts, nil
}

func (r *conflictRepository) MarkResolved(id string, resolution domain.ResolutionType, resolvedBy string) error {
	db := r.client.DB(r.dbName)
	docID := fmt.Sprintf("conflict:%s", id)

	var existingDoc map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existingDoc); err != nil {
		return notFoundOr(err, "failed to fetch conflict for resolve")
	}

	existingDoc["status"] = domain.ConflictResolved
	existingDoc["resolution"] = resolution
	existingDoc["resolved_at"] = time.Now()
	existingDoc["resolved_by"] = resolvedBy

	if _, err := db.Put(context.Background(), docID, existingDoc); err != nil {
		return fmt.Errorf("failed to mark conflict resolved: %w", err)
	}

	return nil
}
