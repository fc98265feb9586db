package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store is a durable key/value store. Values are JSON documents replaced as a whole.
type Store interface {
	// Get returns the raw values for the requested keys; missing keys are absent from the map
	Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)

	// Set writes all values at once
	Set(ctx context.Context, values map[string]any) error
}

const storeFileVersion = 1

// storeFile is the on-disk layout
type storeFile struct {
	Version int                        `json:"version"`
	Values  map[string]json.RawMessage `json:"values"`
}

// FileStore keeps every key in one JSON file.
// Writes go to a temp file that is renamed over the original, so a crash
// leaves either the previous or the new content, never a partial one.
type FileStore struct {
	path   string
	mu     sync.RWMutex
	values map[string]json.RawMessage
}

// Open loads the store at path, creating an empty one if the file doesn't exist
func Open(path string) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		values: make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}

	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse store file: %w", err)
	}
	if f.Version > storeFileVersion {
		return nil, fmt.Errorf("store file version %d is newer than supported version %d", f.Version, storeFileVersion)
	}
	for k, v := range f.Values {
		s.values[k] = v
	}
	return s, nil
}

// Path returns the backing file path
func (s *FileStore) Path() string {
	return s.path
}

// Get implements Store
func (s *FileStore) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := s.values[k]; ok {
			cp := make(json.RawMessage, len(v))
			copy(cp, v)
			out[k] = cp
		}
	}
	return out, nil
}

// Set implements Store. The in-memory view is only updated once the file is written.
func (s *FileStore) Set(ctx context.Context, values map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	encoded := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal key %q: %w", k, err)
		}
		encoded[k] = data
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]json.RawMessage, len(s.values)+len(encoded))
	for k, v := range s.values {
		next[k] = v
	}
	for k, v := range encoded {
		next[k] = v
	}

	if err := s.write(next); err != nil {
		return err
	}
	s.values = next
	return nil
}

func (s *FileStore) write(values map[string]json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	data, err := json.MarshalIndent(storeFile{Version: storeFileVersion, Values: values}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize store file: %w", err)
	}
	return nil
}

// GetJSON decodes a single key into out. It returns false if the key is absent.
func GetJSON(ctx context.Context, s Store, key string, out any) (bool, error) {
	values, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	raw, ok := values[key]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to decode key %q: %w", key, err)
	}
	return true, nil
}

// EnsureDefaults writes each default whose key is not present yet, leaving existing data untouched
func EnsureDefaults(ctx context.Context, s Store, defaults map[string]any) error {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	existing, err := s.Get(ctx, keys...)
	if err != nil {
		return err
	}

	missing := make(map[string]any)
	for k, v := range defaults {
		if _, ok := existing[k]; !ok {
			missing[k] = v
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return s.Set(ctx, missing)
}
