package repository

import (
	"context"
	"fmt"
	"sort"

	"notesync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// HistoryRepository is append-only: entries are never updated or deleted
// through this interface.
type HistoryRepository interface {
	Append(entry *domain.HistoryEntry) error
	// ListByNote returns entries ordered by timestamp, insertion order
	// breaking ties. limit <= 0 means no limit.
	ListByNote(noteID string, limit int) ([]*domain.HistoryEntry, error)
}

type historyRepository struct {
	client *kivik.Client
	dbName string
}

func NewHistoryRepository(client *kivik.Client, dbName string) HistoryRepository {
	return &historyRepository{client: client, dbName: dbName}
}

func (r *historyRepository) Append(entry *domain.HistoryEntry) error {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("history:%s", entry.ID)
	if _, err := db.Put(context.Background(), docID, entry); err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}

	return nil
}

func (r *historyRepository) ListByNote(noteID string, limit int) ([]*domain.HistoryEntry, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"note_id": noteID,
			"action":  map[string]interface{}{"$exists": true},
		},
	}

	rows := db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var entries []*domain.HistoryEntry
	for rows.Next() {
		var entry domain.HistoryEntry
		if err := rows.ScanDoc(&entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].Seq < entries[j].Seq
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	return entries, nil
}
