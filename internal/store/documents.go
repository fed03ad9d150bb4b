package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/photofeed/internal/gateway"
	"github.com/gocql/gocql"
)

// --- Document operations ---

// GetDocument returns the fields of a single document, or gateway.ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, collection, id string) (gateway.Fields, error) {
	var raw string
	err := s.Session.Query(
		`SELECT fields FROM documents WHERE collection = ? AND doc_id = ?`,
		collection, id,
	).WithContext(ctx).Scan(&raw)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, gateway.ErrNotFound)
		}
		logg.Error("store", "Failed to read document", err)
		return nil, err
	}
	return decodeFields(collection, id, raw)
}

// SetDocument creates or replaces a document.
func (s *Store) SetDocument(ctx context.Context, collection, id string, fields gateway.Fields) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: encode %s/%s: %v", gateway.ErrWrite, collection, id, err)
	}

	if err := s.Session.Query(`
		INSERT INTO documents (collection, doc_id, fields, updated_at)
		VALUES (?, ?, ?, ?)`,
		collection, id, string(data), time.Now(),
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to write document", err)
		return fmt.Errorf("%w: %s/%s: %v", gateway.ErrWrite, collection, id, err)
	}

	logg.Debug("store", "Document written to "+collection)
	return nil
}

// ListDocuments returns every document of a collection ordered by id.
func (s *Store) ListDocuments(ctx context.Context, collection string) ([]gateway.Document, error) {
	iter := s.Session.Query(
		`SELECT doc_id, fields FROM documents WHERE collection = ?`,
		collection,
	).WithContext(ctx).Iter()

	var res []gateway.Document
	var id, raw string
	for iter.Scan(&id, &raw) {
		fields, err := decodeFields(collection, id, raw)
		if err != nil {
			logg.Warn("store", "Skipping undecodable document in "+collection, err)
			continue
		}
		res = append(res, gateway.Document{ID: id, Fields: fields})
	}

	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to list documents", err)
		return nil, err
	}
	return res, nil
}

// DeleteDocument removes a document. Deleting a missing document succeeds.
func (s *Store) DeleteDocument(ctx context.Context, collection, id string) error {
	if err := s.Session.Query(
		`DELETE FROM documents WHERE collection = ? AND doc_id = ?`,
		collection, id,
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to delete document", err)
		return fmt.Errorf("%w: delete %s/%s: %v", gateway.ErrWrite, collection, id, err)
	}
	return nil
}

func decodeFields(collection, id, raw string) (gateway.Fields, error) {
	var fields gateway.Fields
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", gateway.ErrMalformedData, collection, id, err)
	}
	return fields, nil
}
