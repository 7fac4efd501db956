package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Durable storage keys, cleared together as a set.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
)

// Store is the durable client-side key-value storage holding the
// session tokens and the serialized user profile.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool)

	// Set stores a value under key.
	Set(key, value string) error

	// Delete removes a key. Deleting an absent key is a no-op.
	Delete(key string) error

	// Clear removes all keys.
	Clear() error
}

// FileStore persists the key-value set as a single JSON file, written
// atomically via a temp file and rename.
type FileStore struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// NewFileStore opens or creates the store at path. A corrupt existing
// file is treated as absence, never as an error.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		data: make(map[string]string),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read session store: %w", err)
	}

	if err := json.Unmarshal(raw, &s.data); err != nil {
		s.data = make(map[string]string)
	}
	return s, nil
}

// Get returns the value for key
func (s *FileStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores a value under key
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return s.persist()
}

// Delete removes a key
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.persist()
}

// Clear removes all keys
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]string)
	return s.persist()
}

// persist writes the current map atomically. Caller holds the lock.
func (s *FileStore) persist() error {
	raw, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("failed to encode session store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write session store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace session store: %w", err)
	}
	return nil
}
