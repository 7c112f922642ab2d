package objstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store for testing. It also
// backs the promotion orchestrator's tests, where interrupted rotations are
// staged by mutating Content directly.
type MemoryStore struct {
	// Content maps object path to content bytes.
	Content map[string][]byte
	// ModTimes maps object path to its last write time.
	ModTimes map[string]time.Time

	mu sync.RWMutex
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Content:  make(map[string][]byte),
		ModTimes: make(map[string]time.Time),
	}
}

func (m *MemoryStore) Provider() string { return "memory" }

func (m *MemoryStore) SignGet(path string, d time.Duration) (string, error) {
	return "memory:///" + path, nil
}

func (m *MemoryStore) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var _, exists = m.Content[path]
	return exists, nil
}

func (m *MemoryStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var content, exists = m.Content[path]
	if !exists {
		return nil, fmt.Errorf("path not found: %s", path)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (m *MemoryStore) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentType string) error {
	var buf = make([]byte, contentLength)
	if contentLength != 0 {
		if _, err := content.ReadAt(buf, 0); err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Content[path] = buf
	m.ModTimes[path] = time.Now()
	return nil
}

func (m *MemoryStore) Copy(ctx context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var content, exists = m.Content[src]
	if !exists {
		return fmt.Errorf("path not found: %s", src)
	}
	m.Content[dst] = append([]byte(nil), content...)
	m.ModTimes[dst] = time.Now()
	return nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string, callback func(ObjectInfo) error) error {
	m.mu.RLock()
	var paths = make([]string, 0, len(m.Content))
	for path := range m.Content {
		if strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}
	m.mu.RUnlock()

	// Real backends list in key order; match that for deterministic tests.
	sort.Strings(paths)

	for _, path := range paths {
		m.mu.RLock()
		var content, ok = m.Content[path]
		var modTime = m.ModTimes[path]
		m.mu.RUnlock()
		if !ok {
			continue // Removed while listing.
		}
		var sum = sha256.Sum256(content)
		var err = callback(ObjectInfo{
			Path:    strings.TrimPrefix(path, prefix),
			Size:    int64(len(content)),
			ETag:    hex.EncodeToString(sum[:]),
			ModTime: modTime,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.Content, path)
	delete(m.ModTimes, path)
	return nil
}

func (m *MemoryStore) EnsureBucket(ctx context.Context) error { return nil }

func (m *MemoryStore) IsAuthError(error) bool { return false }

func (m *MemoryStore) IsTransient(error) bool { return false }
