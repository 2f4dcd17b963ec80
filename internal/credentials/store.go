package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amaumene/mediasync/internal/models"
	"github.com/pelletier/go-toml/v2"
)

const lastSyncMarker = "_last_sync_"

// Store is a flat key/value file holding tokens and per-source sync timestamps
type Store struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// Open loads the store at path. A missing file yields an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	if err := toml.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	return s, nil
}

// Get returns the value of key
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	return value, ok
}

// Set stores key and writes the file
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.save()
}

// SetMany stores several keys with one write
func (s *Store) SetMany(values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.values[k] = v
	}
	return s.save()
}

// Delete removes keys and writes the file
func (s *Store) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
	}
	return s.save()
}

// Keys returns every stored key, sorted
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LastSyncKey returns the key of a source's last successful push of a collection
func LastSyncKey(source string, dataType models.DataType) string {
	return source + lastSyncMarker + string(dataType)
}

// LastSync returns the last successful push time of a collection, if any
func (s *Store) LastSync(source string, dataType models.DataType) (time.Time, bool) {
	value, ok := s.Get(LastSyncKey(source, dataType))
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SetLastSync records a successful push
func (s *Store) SetLastSync(source string, dataType models.DataType, t time.Time) error {
	return s.Set(LastSyncKey(source, dataType), t.UTC().Format(time.RFC3339))
}

// ClearTimestamps removes every last-sync key, forcing the next run to be full
func (s *Store) ClearTimestamps() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.values {
		if strings.Contains(k, lastSyncMarker) {
			delete(s.values, k)
		}
	}
	return s.save()
}

// Clear removes everything
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]string)
	return s.save()
}

func (s *Store) save() error {
	data, err := toml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace credentials: %w", err)
	}
	return nil
}

// ClearTokens removes every key except the last-sync timestamps
func (s *Store) ClearTokens() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.values {
		if !strings.Contains(k, lastSyncMarker) {
			delete(s.values, k)
		}
	}
	return s.save()
}
