// Package memory defines the Store interface for short summary memory.
//
// A store persists one summary string per device. The summary is either
// free-form text or the structured JSON produced by the memory-summarization
// prompt; the store does not interpret it. Stores are process-wide singletons
// shared by all connections and must be safe for concurrent use.
package memory

import "context"

// Store persists per-device conversation summaries.
type Store interface {
	// Load returns the stored summary for deviceID, or "" when the device has
	// no memory yet.
	Load(ctx context.Context, deviceID string) (string, error)

	// Save replaces the stored summary for deviceID.
	Save(ctx context.Context, deviceID, summary string) error

	// Close releases store resources.
	Close() error
}
