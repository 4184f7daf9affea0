package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	KeyAuthToken = "auth_token"
	KeyAPIKey    = "api_key"
	KeyTheme     = "theme"
)

// Store is a small persistent string map. Missing keys return "", false.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	return nil
}

// FileStore keeps values in a JSON object on disk. Every write replaces the
// file through a temp file and rename.
type FileStore struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// OpenFile loads path, or starts empty when it does not exist yet.
func OpenFile(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("credentials: empty path")
	}

	fs := &FileStore{path: path, values: make(map[string]string)}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fs, nil
	case err != nil:
		return nil, fmt.Errorf("credentials: read %s: %w", path, err)
	}

	if len(strings.TrimSpace(string(raw))) == 0 {
		return fs, nil
	}
	if err := json.Unmarshal(raw, &fs.values); err != nil {
		return nil, fmt.Errorf("credentials: decode %s: %w", path, err)
	}
	if fs.values == nil {
		fs.values = make(map[string]string)
	}
	return fs, nil
}

func (f *FileStore) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.values[key]
	return v, ok
}

func (f *FileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, had := f.values[key]
	f.values[key] = value
	if err := f.flushLocked(); err != nil {
		if had {
			f.values[key] = prev
		} else {
			delete(f.values, key)
		}
		return err
	}
	return nil
}

func (f *FileStore) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, had := f.values[key]
	if !had {
		return nil
	}
	delete(f.values, key)
	if err := f.flushLocked(); err != nil {
		f.values[key] = prev
		return err
	}
	return nil
}

// Keys lists the stored keys in sorted order.
func (f *FileStore) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, 0, len(f.values))
	for k := range f.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *FileStore) flushLocked() error {
	raw, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return fmt.Errorf("credentials: encode: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("credentials: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("credentials: temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("credentials: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("credentials: close: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("credentials: chmod: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("credentials: rename: %w", err)
	}
	return nil
}

type scoped struct {
	inner  Store
	prefix string
}

// Scoped prefixes every key with namespace, so several users can share one
// backing store.
func Scoped(inner Store, namespace string) Store {
	return &scoped{inner: inner, prefix: namespace + "/"}
}

func (s *scoped) Get(key string) (string, bool) {
	return s.inner.Get(s.prefix + key)
}

func (s *scoped) Set(key, value string) error {
	return s.inner.Set(s.prefix+key, value)
}

func (s *scoped) Delete(key string) error {
	return s.inner.Delete(s.prefix + key)
}
