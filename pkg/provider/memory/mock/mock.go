// Package mock provides an in-memory test double for the memory.Store interface.
package mock

import (
	"context"
	"sync"

	"github.com/voxwire/voxwire/pkg/provider/memory"
)

// Store is a mock implementation of memory.Store backed by a map.
type Store struct {
	mu sync.Mutex

	// Entries holds the device→summary map. It may be pre-populated by tests.
	Entries map[string]string

	// LoadErr, if non-nil, is returned by every Load call.
	LoadErr error

	// SaveErr, if non-nil, is returned by every Save call.
	SaveErr error

	// SaveCalls records every (deviceID, summary) pair passed to Save.
	SaveCalls [][2]string
}

// Load returns the stored summary for deviceID.
func (s *Store) Load(_ context.Context, deviceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return "", s.LoadErr
	}
	return s.Entries[deviceID], nil
}

// Save records the call and stores the summary.
func (s *Store) Save(_ context.Context, deviceID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaveCalls = append(s.SaveCalls, [2]string{deviceID, summary})
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if s.Entries == nil {
		s.Entries = map[string]string{}
	}
	s.Entries[deviceID] = summary
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Ensure Store implements memory.Store at compile time.
var _ memory.Store = (*Store)(nil)
