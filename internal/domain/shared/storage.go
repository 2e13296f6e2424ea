package shared

import "context"

// KeyValueStore is the durable storage backend a window persists its state
// to. The core treats it as synchronous and always available.
type KeyValueStore interface {
	// Get returns the value stored under key. found is false when the key
	// has never been written or was removed.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases the backend's resources.
	Close() error
}
