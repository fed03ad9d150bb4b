// Package gateway declares the remote collaborators the feed core talks to:
// a document store organised as collection paths and a blob store addressed
// by path strings.
package gateway

import (
	"context"
	"errors"
)

// Error taxonomy shared by the store, blob, feed and relay packages.
var (
	ErrNotFound        = errors.New("not found")
	ErrWrite           = errors.New("write failed")
	ErrPartialBatch    = errors.New("partial batch")
	ErrMalformedData   = errors.New("malformed data")
	ErrPartialFetch    = errors.New("relationship lookup failed")
	ErrOwnerFetch      = errors.New("owner posts fetch failed")
	ErrHalfWrittenEdge = errors.New("relationship edge half written")
)

// Fields is the field map of a single document.
type Fields map[string]any

// Document is a listed document with its id.
type Document struct {
	ID     string
	Fields Fields
}

// DocumentStore is a document-store-like API. Collection paths follow the
// "users/{username}/posts" convention.
type DocumentStore interface {
	GetDocument(ctx context.Context, collection, id string) (Fields, error)
	SetDocument(ctx context.Context, collection, id string, fields Fields) error
	ListDocuments(ctx context.Context, collection string) ([]Document, error)
	DeleteDocument(ctx context.Context, collection, id string) error
	Close()
}

// BlobStore uploads binary objects and resolves retrievable URLs for them.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte) error
	GetDownloadURL(ctx context.Context, path string) (string, error)
}

// URLResolver resolves a blob path into a URL. BlobStore satisfies it, and so
// does the profile URL cache.
type URLResolver interface {
	GetDownloadURL(ctx context.Context, path string) (string, error)
}
