package repository

import (
	"context"
	"fmt"
	"net/http"

	"calsync-agent/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// HashIndexRepository persists the content digest last seen for each
// (source, id). It survives restarts so delta classification stays idempotent
// across process lifetimes. Keys are namespaced by source so incidental id
// collisions between sources cannot cross-contaminate.
type HashIndexRepository interface {
	Get(source domain.EventSource, id string) (string, bool, error)
	Put(source domain.EventSource, id, digest string) error
	Delete(source domain.EventSource, id string) error
}

type hashIndexRepository struct {
	client *kivik.Client
	dbName string
}

func NewHashIndexRepository(client *kivik.Client, dbName string) HashIndexRepository {
	return &hashIndexRepository{
		client: client,
		dbName: dbName,
	}
}

func hashDocID(source domain.EventSource, id string) string {
	return fmt.Sprintf("hash:%s", domain.EventKey(source, id))
}

func (r *hashIndexRepository) Get(source domain.EventSource, id string) (string, bool, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(context.Background(), hashDocID(source, id))

	var doc struct {
		Digest string `json:"digest"`
	}
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get digest for %s: %w", domain.EventKey(source, id), err)
	}

	return doc.Digest, true, nil
}

func (r *hashIndexRepository) Put(source domain.EventSource, id, digest string) error {
	db := r.client.DB(r.dbName)
	docID := hashDocID(source, id)

	doc := map[string]interface{}{
		"digest": digest,
	}

	var existing map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existing); err == nil {
		doc["_rev"] = existing["_rev"]
	}

	if _, err := db.Put(context.Background(), docID, doc); err != nil {
		return fmt.Errorf("failed to store digest for %s: %w", domain.EventKey(source, id), err)
	}

	return nil
}

func (r *hashIndexRepository) Delete(source domain.EventSource, id string) error {
	db := r.client.DB(r.dbName)
	docID := hashDocID(source, id)

	row := db.Get(context.Background(), docID)
	var existing map[string]interface{}
	if err := row.ScanDoc(&existing); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("failed to fetch digest for delete: %w", err)
	}

	rev, _ := existing["_rev"].(string)
	if _, err := db.Delete(context.Background(), docID, rev); err != nil {
		return fmt.Errorf("failed to delete digest for %s: %w", domain.EventKey(source, id), err)
	}

	return nil
}
