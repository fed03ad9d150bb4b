package blob

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"example.com/photofeed/internal/gateway"
)

// MemStore is an in-memory gateway.BlobStore for tests and local runs.
type MemStore struct {
	mu         sync.Mutex
	baseURL    string
	objects    map[string][]byte
	failUpload []string
	failURL    []string
	URLCalls   int
}

var _ gateway.BlobStore = (*MemStore)(nil)

// NewMem creates a MemStore whose URLs are baseURL + "/" + path.
func NewMem(baseURL string) *MemStore {
	return &MemStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string][]byte),
	}
}

// FailUploads makes uploads under prefix fail.
func (m *MemStore) FailUploads(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUpload = append(m.failUpload, prefix)
}

// FailURLs makes URL resolution under prefix fail.
func (m *MemStore) FailURLs(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failURL = append(m.failURL, prefix)
}

func (m *MemStore) Upload(ctx context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hasPrefix(path, m.failUpload) {
		return fmt.Errorf("%w: mem upload %s failed", gateway.ErrWrite, path)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[path] = buf
	return nil
}

func (m *MemStore) GetDownloadURL(ctx context.Context, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.URLCalls++
	if hasPrefix(path, m.failURL) {
		return "", fmt.Errorf("mem url %s failed", path)
	}
	if _, ok := m.objects[path]; !ok {
		return "", fmt.Errorf("%s: %w", path, gateway.ErrNotFound)
	}
	return m.baseURL + "/" + path, nil
}

// Has reports whether an object exists at path.
func (m *MemStore) Has(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok
}

// Len returns the number of stored objects.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func hasPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
