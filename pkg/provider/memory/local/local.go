// Package local provides a file-backed memory store. All device summaries
// live in one YAML file (by default data/.memory.yaml) as a flat map keyed by
// device id, so memories survive restarts without any external service.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/voxwire/voxwire/pkg/provider/memory"
)

// Compile-time interface assertion.
var _ memory.Store = (*Store)(nil)

// DefaultPath is the memory file location relative to the working directory.
const DefaultPath = "data/.memory.yaml"

// Store implements memory.Store on a single YAML file. The whole file is
// rewritten on every Save; summaries are small and writes are rare.
type Store struct {
	mu   sync.Mutex
	path string
}

// New creates a Store backed by the YAML file at path. An empty path selects
// DefaultPath. The parent directory is created on first Save.
func New(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

// Load implements memory.Store.
func (s *Store) Load(_ context.Context, deviceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return "", err
	}
	return entries[deviceID], nil
}

// Save implements memory.Store.
func (s *Store) Save(_ context.Context, deviceID, summary string) error {
	if deviceID == "" {
		return errors.New("local: deviceID must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	entries[deviceID] = summary

	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("local: marshal memory file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("local: create memory dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("local: write %s: %w", s.path, err)
	}
	return nil
}

// Close implements memory.Store.
func (s *Store) Close() error { return nil }

// read loads the full device→summary map, treating a missing file as empty.
func (s *Store) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("local: read %s: %w", s.path, err)
	}

	entries := map[string]string{}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("local: parse %s: %w", s.path, err)
	}
	if entries == nil {
		entries = map[string]string{}
	}
	return entries, nil
}
