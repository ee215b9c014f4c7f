package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"calsync-agent/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// EventRepository is the local durable cache: the record of what this device
// last knew about every event, per source.
type EventRepository interface {
	FetchAll() ([]domain.CacheEntry, error)
	FetchBySource(source domain.EventSource) ([]domain.CacheEntry, error)
	Get(source domain.EventSource, id string) (*domain.CacheEntry, error)
	Save(event domain.UnifiedEvent, status domain.SyncStatus) error
	MarkForSync(source domain.EventSource, id string, status domain.SyncStatus) error
	PermanentlyDelete(source domain.EventSource, id string) error
	CleanupOlderThan(cutoff time.Time) (int, error)
}

type eventRepository struct {
	client *kivik.Client
	dbName string
}

func NewEventRepository(client *kivik.Client, dbName string) EventRepository {
	return &eventRepository{
		client: client,
		dbName: dbName,
	}
}

func eventDocID(source domain.EventSource, id string) string {
	return fmt.Sprintf("event:%s", domain.EventKey(source, id))
}

func (r *eventRepository) FetchAll() ([]domain.CacheEntry, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"event": map[string]interface{}{"$exists": true},
		},
	}
	return r.find(query)
}

func (r *eventRepository) FetchBySource(source domain.EventSource) ([]domain.CacheEntry, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"event.source": string(source),
		},
	}
	return r.find(query)
}

func (r *eventRepository) find(query map[string]interface{}) ([]domain.CacheEntry, error) {
	db := r.client.DB(r.dbName)

	rows := db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var entries []domain.CacheEntry
	for rows.Next() {
		var entry domain.CacheEntry
		if err := rows.ScanDoc(&entry); err != nil {
			continue // Skip malformed docs
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func (r *eventRepository) Get(source domain.EventSource, id string) (*domain.CacheEntry, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(context.Background(), eventDocID(source, id))

	var entry domain.CacheEntry
	if err := row.ScanDoc(&entry); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get event %s: %w", domain.EventKey(source, id), err)
	}

	return &entry, nil
}

func (r *eventRepository) Save(event domain.UnifiedEvent, status domain.SyncStatus) error {
	db := r.client.DB(r.dbName)
	docID := eventDocID(event.Source, event.ID)

	doc := map[string]interface{}{
		"event":       event,
		"sync_status": status,
	}

	var existing map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existing); err == nil {
		doc["_rev"] = existing["_rev"]
	}

	if _, err := db.Put(context.Background(), docID, doc); err != nil {
		return fmt.Errorf("failed to save event %s: %w", event.Key(), err)
	}

	return nil
}

func (r *eventRepository) MarkForSync(source domain.EventSource, id string, status domain.SyncStatus) error {
	db := r.client.DB(r.dbName)
	docID := eventDocID(source, id)

	var existing map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existing); err != nil {
		return fmt.Errorf("failed to fetch event for status change: %w", err)
	}

	existing["sync_status"] = status

	if _, err := db.Put(context.Background(), docID, existing); err != nil {
		return fmt.Errorf("failed to mark event %s: %w", domain.EventKey(source, id), err)
	}

	return nil
}

func (r *eventRepository) PermanentlyDelete(source domain.EventSource, id string) error {
	db := r.client.DB(r.dbName)
	docID := eventDocID(source, id)

	row := db.Get(context.Background(), docID)
	var existing map[string]interface{}
	if err := row.ScanDoc(&existing); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("failed to fetch event for delete: %w", err)
	}

	rev, _ := existing["_rev"].(string)
	if _, err := db.Delete(context.Background(), docID, rev); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", domain.EventKey(source, id), err)
	}

	return nil
}

// CleanupOlderThan removes events that ended before the cutoff. Returns the
// number of removed entries.
func (r *eventRepository) CleanupOlderThan(cutoff time.Time) (int, error) {
	entries, err := r.FetchAll()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if entry.Event.EndTime.Before(cutoff) {
			if err := r.PermanentlyDelete(entry.Event.Source, entry.Event.ID); err != nil {
				continue
			}
			removed++
		}
	}

	return removed, nil
}
