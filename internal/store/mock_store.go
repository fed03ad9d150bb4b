package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"example.com/photofeed/internal/gateway"
)

// Op names a DocumentStore operation for failure injection.
type Op string

const (
	OpGet    Op = "get"
	OpSet    Op = "set"
	OpList   Op = "list"
	OpDelete Op = "delete"
)

// WriteRecord is one successful SetDocument call seen by the mock.
type WriteRecord struct {
	Collection string
	ID         string
	Fields     gateway.Fields
}

type failRule struct {
	op     Op
	prefix string
}

// MockStore simulates the Cassandra document table for testing. Fields are
// stored JSON-encoded, so reads decode the same way the real store does.
type MockStore struct {
	mu         sync.Mutex
	docs       map[string]map[string][]byte
	fails      []failRule
	Writes     []WriteRecord
	ShouldFail bool // flag to simulate failures
}

var _ gateway.DocumentStore = (*MockStore)(nil)

// NewMock initializes a new mock store
func NewMock() *MockStore {
	return &MockStore{
		docs: make(map[string]map[string][]byte),
	}
}

func (m *MockStore) Close() {}

// FailOn makes op fail for every collection starting with prefix.
func (m *MockStore) FailOn(op Op, prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fails = append(m.fails, failRule{op: op, prefix: prefix})
}

// ClearFailures removes all injected failures.
func (m *MockStore) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fails = nil
	m.ShouldFail = false
}

func (m *MockStore) failing(op Op, collection string) error {
	if m.ShouldFail {
		return fmt.Errorf("mock: %s %s failed", op, collection)
	}
	for _, r := range m.fails {
		if r.op == op && strings.HasPrefix(collection, r.prefix) {
			return fmt.Errorf("mock: %s %s failed", op, collection)
		}
	}
	return nil
}

// GetDocument simulates a point read
func (m *MockStore) GetDocument(ctx context.Context, collection, id string) (gateway.Fields, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failing(OpGet, collection); err != nil {
		return nil, err
	}
	raw, ok := m.docs[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, gateway.ErrNotFound)
	}
	return decodeMock(raw)
}

// SetDocument simulates an upsert
func (m *MockStore) SetDocument(ctx context.Context, collection, id string, fields gateway.Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failing(OpSet, collection); err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrWrite, err)
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrWrite, err)
	}
	if m.docs[collection] == nil {
		m.docs[collection] = make(map[string][]byte)
	}
	m.docs[collection][id] = raw

	stored, _ := decodeMock(raw)
	m.Writes = append(m.Writes, WriteRecord{Collection: collection, ID: id, Fields: stored})
	return nil
}

// ListDocuments returns documents ordered by id, like a clustering key would.
func (m *MockStore) ListDocuments(ctx context.Context, collection string) ([]gateway.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failing(OpList, collection); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(m.docs[collection]))
	for id := range m.docs[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	res := make([]gateway.Document, 0, len(ids))
	for _, id := range ids {
		fields, err := decodeMock(m.docs[collection][id])
		if err != nil {
			continue
		}
		res = append(res, gateway.Document{ID: id, Fields: fields})
	}
	return res, nil
}

// DeleteDocument simulates a delete
func (m *MockStore) DeleteDocument(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failing(OpDelete, collection); err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrWrite, err)
	}
	delete(m.docs[collection], id)
	return nil
}

// Has reports whether a document exists, bypassing failure injection.
func (m *MockStore) Has(collection, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.docs[collection][id]
	return ok
}

// PutRaw stores raw bytes as a document, used to seed malformed data.
func (m *MockStore) PutRaw(collection, id string, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[collection] == nil {
		m.docs[collection] = make(map[string][]byte)
	}
	m.docs[collection][id] = raw
}

// WritesTo returns the recorded writes for a collection.
func (m *MockStore) WritesTo(collection string) []WriteRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []WriteRecord
	for _, w := range m.Writes {
		if w.Collection == collection {
			res = append(res, w)
		}
	}
	return res
}

func decodeMock(raw []byte) (gateway.Fields, error) {
	var f gateway.Fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedData, err)
	}
	return f, nil
}

// ---------------------------------------------
// MockStoreFail always returns errors for negative tests
type MockStoreFail struct{}

var _ gateway.DocumentStore = (*MockStoreFail)(nil)

func (m *MockStoreFail) Close() {}

func (m *MockStoreFail) GetDocument(ctx context.Context, collection, id string) (gateway.Fields, error) {
	return nil, errors.New("mock store get document failed")
}

func (m *MockStoreFail) SetDocument(ctx context.Context, collection, id string, fields gateway.Fields) error {
	return fmt.Errorf("%w: mock store set document failed", gateway.ErrWrite)
}

func (m *MockStoreFail) ListDocuments(ctx context.Context, collection string) ([]gateway.Document, error) {
	return nil, errors.New("mock store list documents failed")
}

func (m *MockStoreFail) DeleteDocument(ctx context.Context, collection, id string) error {
	return fmt.Errorf("%w: mock store delete document failed", gateway.ErrWrite)
}
