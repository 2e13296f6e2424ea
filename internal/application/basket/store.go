// Package basket provides the observable, persisted basket store each
// storefront application owns.
package basket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mfshop/storefront/internal/domain/basket"
	"github.com/mfshop/storefront/internal/domain/shared"
	"github.com/mfshop/storefront/internal/infrastructure/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SchemaVersion is the version written into every persisted snapshot
const SchemaVersion = 1

// persistedBasket is the storage representation of a basket
type persistedBasket struct {
	Version int               `json:"version"`
	Items   []basket.LineItem `json:"items"`
}

// legacyBasket is the layout the browser applications persisted. The basket
// application wrote {"state":{"basketItems":[...]},"version":1}; the host and
// products applications wrote {"state":{"selectedProducts":[...],"ui":{...}}}.
type legacyBasket struct {
	State *struct {
		BasketItems      []basket.LineItem `json:"basketItems"`
		SelectedProducts []basket.LineItem `json:"selectedProducts"`
	} `json:"state"`
}

func (l legacyBasket) items() []basket.LineItem {
	if l.State == nil {
		return nil
	}
	if l.State.BasketItems != nil {
		return l.State.BasketItems
	}
	return l.State.SelectedProducts
}

// Store is the single source of truth for one application's basket. It is
// safe for concurrent use. Every mutation is persisted before observers are
// notified; observers must not mutate the store synchronously.
type Store struct {
	mu     sync.RWMutex
	basket *basket.Basket
	kv     shared.KeyValueStore
	key    string
	logger *zap.Logger

	// notifyMu keeps notifications in mutation order
	notifyMu  sync.Mutex
	obsMu     sync.Mutex
	observers []subscription
	nextSubID uint64
}

type subscription struct {
	id uint64
	fn basket.Observer
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore creates a store persisted under key and rehydrates it from kv.
// A storage read error is returned; an unreadable payload is logged and the
// store starts empty.
func NewStore(ctx context.Context, kv shared.KeyValueStore, key string, opts ...Option) (*Store, error) {
	s := &Store{
		basket: basket.New(),
		kv:     kv,
		key:    key,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("storage_key", key))

	raw, found, err := kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load basket %q: %w", key, err)
	}
	if !found {
		return s, nil
	}

	items, err := decodePersisted(raw)
	if err != nil {
		logger.WithLogger(ctx, s.logger).Warn("Discarding unreadable persisted basket", zap.Error(err))
		return s, nil
	}
	s.basket.Replace(items)
	logger.WithLogger(ctx, s.logger).Debug("Basket rehydrated", zap.Int("items", s.basket.Len()))
	return s, nil
}

func decodePersisted(raw []byte) ([]basket.LineItem, error) {
	var head struct {
		Version *int            `json:"version"`
		Items   json.RawMessage `json:"items"`
		State   json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	switch {
	case head.State != nil:
		var legacy legacyBasket
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return nil, err
		}
		return legacy.items(), nil
	case head.Version != nil && *head.Version > SchemaVersion:
		return nil, fmt.Errorf("unsupported basket schema version %d", *head.Version)
	default:
		var p persistedBasket
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p.Items, nil
	}
}

// Key returns the storage key the store persists under
func (s *Store) Key() string {
	return s.key
}

// Add increments the quantity of p, inserting it with quantity 1 when
// absent. Only a product without a valid id or with a negative price is
// rejected.
func (s *Store) Add(ctx context.Context, p basket.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.apply(ctx, basket.AddMutation(p), "")
	return nil
}

// Remove deletes the item with id; absent ids are a no-op
func (s *Store) Remove(ctx context.Context, id basket.ProductID) {
	s.apply(ctx, basket.RemoveMutation(id), "")
}

// SetQuantity sets the quantity of an existing item; quantity <= 0 removes it
// and an absent id is left absent
func (s *Store) SetQuantity(ctx context.Context, id basket.ProductID, quantity int) {
	s.apply(ctx, basket.SetQuantityMutation(id, quantity), "")
}

// Clear empties the basket
func (s *Store) Clear(ctx context.Context) {
	s.apply(ctx, basket.ClearMutation(), "")
}

// ApplyRemote applies a mutation received from a counterpart. source names
// the messenger that applied it and is carried on the resulting Change.
func (s *Store) ApplyRemote(ctx context.Context, m basket.Mutation, source string) bool {
	return s.apply(ctx, m, source)
}

func (s *Store) apply(ctx context.Context, m basket.Mutation, source string) bool {
	s.mu.Lock()
	changed := s.basket.Apply(m)
	items := s.basket.Items()
	if changed {
		s.persist(ctx, items)
	}
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	s.notify(ctx, basket.Change{
		Mutation: m,
		Source:   source,
		Changed:  changed,
		Items:    items,
	})
	return changed
}

// persist writes the snapshot; failures are logged only
func (s *Store) persist(ctx context.Context, items []basket.LineItem) {
	if items == nil {
		items = []basket.LineItem{}
	}
	data, err := json.Marshal(persistedBasket{Version: SchemaVersion, Items: items})
	if err != nil {
		logger.WithLogger(ctx, s.logger).Error("Failed to encode basket", zap.Error(err))
		return
	}
	if err := s.kv.Set(ctx, s.key, data); err != nil {
		logger.WithLogger(ctx, s.logger).Error("Failed to persist basket", zap.Error(err))
	}
}

func (s *Store) notify(ctx context.Context, change basket.Change) {
	s.obsMu.Lock()
	subs := make([]subscription, len(s.observers))
	copy(subs, s.observers)
	s.obsMu.Unlock()

	for _, sub := range subs {
		s.safeNotify(ctx, sub.fn, change)
	}
}

func (s *Store) safeNotify(ctx context.Context, fn basket.Observer, change basket.Change) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithLogger(ctx, s.logger).Error("Basket observer panicked",
				zap.Any("panic", r),
				zap.String("mutation", string(change.Mutation.Kind)),
			)
		}
	}()
	fn(ctx, change)
}

// Subscribe registers fn for every subsequent mutation, in subscription
// order. The returned func unsubscribes.
func (s *Store) Subscribe(fn basket.Observer) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()

	s.nextSubID++
	id := s.nextSubID
	s.observers = append(s.observers, subscription{id: id, fn: fn})

	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		for i, sub := range s.observers {
			if sub.id == id {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

// Items returns a copy of the current line items
func (s *Store) Items() []basket.LineItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.basket.Items()
}

// TotalItemCount is the sum of all quantities
func (s *Store) TotalItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.basket.TotalItemCount()
}

// TotalPrice is the sum of price × quantity, unformatted
func (s *Store) TotalPrice() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.basket.TotalPrice()
}

// Contains reports whether id is in the basket
func (s *Store) Contains(id basket.ProductID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.basket.Contains(id)
}

// QuantityOf returns the quantity of id, 0 when absent
func (s *Store) QuantityOf(id basket.ProductID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.basket.QuantityOf(id)
}
