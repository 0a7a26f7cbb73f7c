// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"go.astrophena.name/gptbot/internal/atomicio"
)

// fileBackups is the number of previous versions kept next to the file.
const fileBackups = 5

// FileStore is a [Store] backed by a single JSON file holding an object of
// records. Every Set rewrites the file atomically.
type FileStore struct {
	path string

	mu   sync.Mutex
	data map[string]json.RawMessage
}

// NewFileStore opens the JSON file at path, creating its directory if needed.
// A missing file is treated as empty.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	s := &FileStore{path: path, data: make(map[string]json.RawMessage)}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(b, &s.data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

// Get retrieves a value for a given key.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	return slices.Clone([]byte(v)), nil
}

// Set stores a value for a given key. The value must be valid JSON.
func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("value for %q is not valid JSON", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.data[key]
	s.data[key] = slices.Clone(value)
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err == nil {
		err = atomicio.WriteFile(s.path, append(b, '\n'), 0o600, fileBackups)
	}
	if err != nil {
		// Keep memory consistent with disk.
		if existed {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		return err
	}
	return nil
}

// Close is a no-op for FileStore.
func (s *FileStore) Close() error { return nil }
