package repository

import (
	"context"
	"fmt"

	"notesync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// ShareRepository stores collaborator grants. The sharing layer writes
// them; this core reads them to decide who sees a note's broadcasts.
type ShareRepository interface {
	Grant(share *domain.Share) error
	Revoke(noteID, userID string) error
	// ListUserIDs returns the collaborators for a note, owner excluded.
	ListUserIDs(noteID string) ([]string, error)
	ListNoteIDs(userID string) ([]string, error)
}

type shareRepository struct {
	client *kivik.Client
	dbName string
}

func NewShareRepository(client *kivik.Client, dbName string) ShareRepository {
	return &shareRepository{client: client, dbName: dbName}
}

func shareDocID(noteID, userID string) string {
	return fmt.Sprintf("share:%s:%s", noteID, userID)
}

func (r *shareRepository) Grant(share *domain.Share) error {
	db := r.client.DB(r.dbName)
	docID := shareDocID(share.NoteID, share.UserID)

	doc := map[string]interface{}{
		"id":         share.ID,
		"note_id":    share.NoteID,
		"user_id":    share.UserID,
		"granted_by": share.GrantedBy,
		"created_at": share.CreatedAt,
	}

	var existing map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existing); err == nil {
		doc["_rev"] = existing["_rev"]
	}

	if _, err := db.Put(context.Background(), docID, doc); err != nil {
		return fmt.Errorf("failed to grant share: %w", err)
	}

	return nil
}

func (r *shareRepository) Revoke(noteID, userID string) error {
	db := r.client.DB(r.dbName)
	docID := shareDocID(noteID, userID)

	var doc map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&doc); err != nil {
		return notFoundOr(err, "failed to fetch share for revoke")
	}

	rev, _ := doc["_rev"].(string)
	if _, err := db.Delete(context.Background(), docID, rev); err != nil {
		return fmt.Errorf("failed to revoke share: %w", err)
	}

	return nil
}

func (r *shareRepository) ListUserIDs(noteID string) ([]string, error) {
	return r.listField("note_id", noteID, "user_id")
}

func (r *shareRepository) ListNoteIDs(userID string) ([]string, error) {
	return r.listField("user_id", userID, "note_id")
}

func (r *shareRepository) listField(key, value, want string) ([]string, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			key:          value,
			"granted_by": map[string]interface{}{"$exists": true},
		},
	}

	rows := db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var share domain.Share
		if err := rows.ScanDoc(&share); err != nil {
			continue
		}
		if want == "user_id" {
			ids = append(ids, share.UserID)
		} else {
			ids = append(ids, share.NoteID)
		}
	}

	return ids, nil
}
