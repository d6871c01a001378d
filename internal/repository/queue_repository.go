package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"notesync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type QueueRepository interface {
	Create(item *domain.SyncQueueItem) error
	FindByID(id string) (*domain.SyncQueueItem, error)
	// ListPending returns non-terminal items in enqueue order.
	ListPending() ([]*domain.SyncQueueItem, error)
	// ListAll returns every item regardless of status.
	ListAll() ([]*domain.SyncQueueItem, error)
	ListByUser(userID string) ([]*domain.SyncQueueItem, error)
	Update(item *domain.SyncQueueItem) error
	// PurgeTerminalBefore removes synced and duplicate items enqueued
	// before the cutoff. Failed items are kept: they need user attention.
	PurgeTerminalBefore(cutoff time.Time) (int, error)
}

type queueRepository struct {
	client *kivik.Client
	dbName string
}

func NewQueueRepository(client *kivik.Client, dbName string) QueueRepository {
	return &queueRepository{client: client, dbName: dbName}
}

func (r *queueRepository) Create(item *domain.SyncQueueItem) error {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("queue:%s", item.ID)
	if _, err := db.Put(context.Background(), docID, item); err != nil {
		return fmt.Errorf("failed to enqueue sync item: %w", err)
	}

	return nil
}

func (r *queueRepository) FindByID(id string) (*domain.SyncQueueItem, error) {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("queue:%s", id)
	row := db.Get(context.Background(), docID)

	var item domain.SyncQueueItem
	if err := row.ScanDoc(&item); err != nil {
		return nil, notFoundOr(err, "failed to find sync item")
	}

	return &item, nil
}

func (r *queueRepository) ListPending() ([]*domain.SyncQueueItem, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"status": domain.QueuePending,
		},
	}

	items, err := r.find(query, "failed to list pending sync items")
	if err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].EnqueuedAt.Before(items[j].EnqueuedAt)
	})

	return items, nil
}

func (r *queueRepository) ListAll() ([]*domain.SyncQueueItem, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"enqueued_at": map[string]interface{}{"$exists": true},
		},
	}

	return r.find(query, "failed to list sync items")
}

func (r *queueRepository) ListByUser(userID string) ([]*domain.SyncQueueItem, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"user_id":     userID,
			"enqueued_at": map[string]interface{}{"$exists": true},
		},
	}

	return r.find(query, "failed to list sync items by user")
}

func (r *queueRepository) find(query map[string]interface{}, wrap string) ([]*domain.SyncQueueItem, error) {
	db := r.client.DB(r.dbName)

	rows := db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", wrap, err)
	}
	defer rows.Close()

	var items []*domain.SyncQueueItem
	for rows.Next() {
		var item domain.SyncQueueItem
		if err := rows.ScanDoc(&item); err != nil {
			continue
		}
		items = append(items, &item)
	}

	return items, nil
}

func (r *queueRepository) Update(item *domain.SyncQueueItem) error {
	db := r.client.DB(r.dbName)
	docID := fmt.Sprintf("queue:%s", item.ID)

	var existingDoc map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existingDoc); err != nil {
		return notFoundOr(err, "failed to fetch sync item for update")
	}

	existingDoc["status"] = item.Status
	existingDoc["attempts"] = item.Attempts
	existingDoc["max_attempts"] = item.MaxAttempts
	existingDoc["next_attempt_at"] = item.NextAttemptAt
	existingDoc["last_error"] = item.LastError

	if _, err := db.Put(context.Background(), docID, existingDoc); err != nil {
		return fmt.Errorf("failed to update sync item: %w", err)
	}

	return nil
}

func (r *queueRepository) PurgeTerminalBefore(cutoff time.Time) (int, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"status":      map[string]interface{}{"$in": []domain.QueueStatus{domain.QueueSynced, domain.QueueDuplicate}},
			"enqueued_at": map[string]interface{}{"$lt": cutoff},
		},
	}

	items, err := r.find(query, "failed to list sync items for purge")
	if err != nil {
		return 0, err
	}

	db := r.client.DB(r.dbName)
	purged := 0

	for _, item := range items {
		docID := fmt.Sprintf("queue:%s", item.ID)

		var doc map[string]interface{}
		row := db.Get(context.Background(), docID)
		if err := row.ScanDoc(&doc); err != nil {
			continue
		}

		rev, _ := doc["_rev"].(string)
		if _, err := db.Delete(context.Background(), docID, rev); err != nil {
			continue
		}
		purged++
	}

	return purged, nil
}
