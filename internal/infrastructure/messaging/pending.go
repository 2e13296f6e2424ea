package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mfshop/storefront/internal/domain/shared"
	"go.uber.org/zap"
)

// PendingKeySuffix is appended to a basket's storage key to form the key of
// its pending queue
const PendingKeySuffix = ":pending"

// PendingSchemaVersion is the version written into the persisted queue
const PendingSchemaVersion = 1

// persistedPending is the storage representation of a queue. Queues written
// before versioning are a bare JSON array and are still read.
type persistedPending struct {
	Version int       `json:"version"`
	Entries []Message `json:"entries"`
}

func decodePending(raw []byte) ([]Message, error) {
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []Message
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, err
		}
		return entries, nil
	}

	var p persistedPending
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if p.Version > PendingSchemaVersion {
		return nil, fmt.Errorf("unsupported pending queue version %d", p.Version)
	}
	return p.Entries, nil
}

// PendingQueue is a durable FIFO of messages that could not be delivered
// yet. Every change is written through to the key/value store.
type PendingQueue struct {
	mu      sync.Mutex
	kv      shared.KeyValueStore
	key     string
	entries []Message
}

// NewPendingQueue loads the queue stored under key. A storage read error is
// returned; an unreadable payload is logged and yields an empty queue.
func NewPendingQueue(ctx context.Context, kv shared.KeyValueStore, key string, l *zap.Logger) (*PendingQueue, error) {
	q := &PendingQueue{kv: kv, key: key}

	raw, found, err := kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending queue %q: %w", key, err)
	}
	if !found {
		return q, nil
	}
	entries, err := decodePending(raw)
	if err != nil {
		if l != nil {
			l.Warn("Discarding unreadable pending queue", zap.String("storage_key", key), zap.Error(err))
		}
		return q, nil
	}
	q.entries = entries
	return q, nil
}

// Key returns the storage key of the queue
func (q *PendingQueue) Key() string {
	return q.key
}

// Len returns the number of queued messages
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Append adds msg to the tail of the queue
func (q *PendingQueue) Append(ctx context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(q.entries, msg)
	return q.save(ctx)
}

// Entries returns a copy of the queued messages in order
func (q *PendingQueue) Entries() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Message, len(q.entries))
	copy(out, q.entries)
	return out
}

// DropFirst removes the n oldest messages
func (q *PendingQueue) DropFirst(ctx context.Context, n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 {
		return nil
	}
	if n > len(q.entries) {
		n = len(q.entries)
	}
	q.entries = append([]Message(nil), q.entries[n:]...)
	return q.save(ctx)
}

// Clear empties the queue
func (q *PendingQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = nil
	return q.kv.Remove(ctx, q.key)
}

// save is called with q.mu held
func (q *PendingQueue) save(ctx context.Context) error {
	if len(q.entries) == 0 {
		return q.kv.Remove(ctx, q.key)
	}
	data, err := json.Marshal(persistedPending{Version: PendingSchemaVersion, Entries: q.entries})
	if err != nil {
		return fmt.Errorf("failed to encode pending queue: %w", err)
	}
	if err := q.kv.Set(ctx, q.key, data); err != nil {
		return fmt.Errorf("failed to persist pending queue: %w", err)
	}
	return nil
}
