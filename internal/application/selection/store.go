// Package selection implements the products application's own store: its
// selected products (basket semantics, separate storage key) plus the
// filter and layout preferences of the product listing.
package selection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	appbasket "github.com/mfshop/storefront/internal/application/basket"
	"github.com/mfshop/storefront/internal/domain/catalog"
	"github.com/mfshop/storefront/internal/domain/shared"
	"github.com/mfshop/storefront/internal/infrastructure/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Storage keys of the products application
const (
	BasketKey      = "products-remote-basket"
	PreferencesKey = "products-remote-preferences"
)

// PreferencesVersion is the current schema version of persisted preferences
const PreferencesVersion = 1

// ViewMode is the product listing layout
type ViewMode string

const (
	ViewGrid ViewMode = "grid"
	ViewList ViewMode = "list"
)

// Page size bounds
const (
	DefaultPageSize = 12
	MaxPageSize     = 100
)

var (
	ErrInvalidViewMode = shared.NewDomainError("INVALID_VIEW_MODE", "View mode must be grid or list")
	ErrInvalidPageSize = shared.NewDomainError("INVALID_PAGE_SIZE", fmt.Sprintf("Page size must be between 1 and %d", MaxPageSize))
	ErrInvalidPage     = shared.NewDomainError("INVALID_PAGE", "Page must be at least 1")
	ErrInvalidSort     = shared.NewDomainError("INVALID_SORT", "Unknown sort order")
	ErrInvalidRange    = shared.NewDomainError("INVALID_PRICE_RANGE", "Price range must satisfy 0 <= min <= max")
)

// UI holds the listing layout state
type UI struct {
	ViewMode    ViewMode `json:"view_mode"`
	PageSize    int      `json:"page_size"`
	CurrentPage int      `json:"current_page"`
}

// DefaultUI returns the initial layout
func DefaultUI() UI {
	return UI{ViewMode: ViewGrid, PageSize: DefaultPageSize, CurrentPage: 1}
}

// FiltersPatch is a partial filter update; nil fields are left unchanged
type FiltersPatch struct {
	Category   *string             `json:"category,omitempty"`
	SortBy     *catalog.SortBy     `json:"sort_by,omitempty"`
	PriceRange *catalog.PriceRange `json:"price_range,omitempty"`
	SearchTerm *string             `json:"search_term,omitempty"`
}

// persistedPreferences is the storage representation. Filters and the
// current page are session state and are not persisted.
type persistedPreferences struct {
	Version int `json:"version"`
	UI      *struct {
		ViewMode ViewMode `json:"view_mode"`
		PageSize int      `json:"page_size"`
	} `json:"ui,omitempty"`
}

// Store is the products application's selection store. The embedded basket
// store carries the selected products and is what the messenger bridges.
type Store struct {
	*appbasket.Store

	mu      sync.RWMutex
	filters catalog.Filters
	ui      UI
	kv      shared.KeyValueStore
	logger  *zap.Logger
}

// NewStore creates the selection store and rehydrates both the selected
// products and the UI preferences from kv
func NewStore(ctx context.Context, kv shared.KeyValueStore, l *zap.Logger) (*Store, error) {
	if l == nil {
		l = zap.NewNop()
	}
	items, err := appbasket.NewStore(ctx, kv, BasketKey, appbasket.WithLogger(l))
	if err != nil {
		return nil, err
	}

	s := &Store{
		Store:   items,
		filters: catalog.DefaultFilters(),
		ui:      DefaultUI(),
		kv:      kv,
		logger:  l.With(zap.String("storage_key", PreferencesKey)),
	}

	raw, found, err := kv.Get(ctx, PreferencesKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}
	if found {
		if err := s.loadPreferences(raw); err != nil {
			logger.WithLogger(ctx, s.logger).Warn("Discarding unreadable preferences", zap.Error(err))
			s.ui = DefaultUI()
		}
		return s, nil
	}
	if err := s.migrateLegacyPreferences(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// legacyPreferences is the ui part of the browser layout stored under
// BasketKey: {"state":{"selectedProducts":[...],"ui":{...}},"version":1}
type legacyPreferences struct {
	Version int `json:"version"`
	State   *struct {
		UI *struct {
			ViewMode ViewMode `json:"viewMode"`
			PageSize int      `json:"pageSize"`
		} `json:"ui"`
	} `json:"state"`
}

// migrateLegacyPreferences moves the layout preferences out of a legacy
// basket payload into PreferencesKey. Version 0 payloads carry no usable
// preferences and keep the defaults.
func (s *Store) migrateLegacyPreferences(ctx context.Context) error {
	raw, found, err := s.kv.Get(ctx, BasketKey)
	if err != nil {
		return fmt.Errorf("failed to load preferences: %w", err)
	}
	if !found {
		return nil
	}
	var legacy legacyPreferences
	if err := json.Unmarshal(raw, &legacy); err != nil || legacy.State == nil || legacy.State.UI == nil {
		return nil
	}
	if legacy.Version < 1 {
		return nil
	}

	ui := DefaultUI()
	if mode := legacy.State.UI.ViewMode; mode == ViewGrid || mode == ViewList {
		ui.ViewMode = mode
	}
	if size := legacy.State.UI.PageSize; size >= 1 && size <= MaxPageSize {
		ui.PageSize = size
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ui = ui
	s.persistPreferences(ctx)
	logger.WithLogger(ctx, s.logger).Info("Migrated legacy preferences",
		zap.String("view_mode", string(ui.ViewMode)),
		zap.Int("page_size", ui.PageSize),
	)
	return nil
}

func (s *Store) loadPreferences(raw []byte) error {
	var p persistedPreferences
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	// v0 carried no UI preferences; v1 starts from the defaults
	if p.Version < PreferencesVersion || p.UI == nil {
		s.ui = DefaultUI()
		return nil
	}
	if p.Version > PreferencesVersion {
		return fmt.Errorf("unsupported preferences version %d", p.Version)
	}
	ui := DefaultUI()
	if p.UI.ViewMode == ViewGrid || p.UI.ViewMode == ViewList {
		ui.ViewMode = p.UI.ViewMode
	}
	if p.UI.PageSize >= 1 && p.UI.PageSize <= MaxPageSize {
		ui.PageSize = p.UI.PageSize
	}
	s.ui = ui
	return nil
}

// persistPreferences is called with s.mu held
func (s *Store) persistPreferences(ctx context.Context) {
	p := persistedPreferences{Version: PreferencesVersion}
	p.UI = &struct {
		ViewMode ViewMode `json:"view_mode"`
		PageSize int      `json:"page_size"`
	}{ViewMode: s.ui.ViewMode, PageSize: s.ui.PageSize}

	data, err := json.Marshal(p)
	if err != nil {
		logger.WithLogger(ctx, s.logger).Error("Failed to encode preferences", zap.Error(err))
		return
	}
	if err := s.kv.Set(ctx, PreferencesKey, data); err != nil {
		logger.WithLogger(ctx, s.logger).Error("Failed to persist preferences", zap.Error(err))
	}
}

// Filters returns the current filters
func (s *Store) Filters() catalog.Filters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters
}

// SetFilters merges patch into the current filters
func (s *Store) SetFilters(patch FiltersPatch) (catalog.Filters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.filters
	if patch.Category != nil {
		next.Category = *patch.Category
		if next.Category == "" {
			next.Category = catalog.CategoryAll
		}
	}
	if patch.SortBy != nil {
		if !patch.SortBy.Valid() {
			return s.filters, ErrInvalidSort
		}
		next.SortBy = *patch.SortBy
	}
	if patch.PriceRange != nil {
		r := *patch.PriceRange
		if r.Min.LessThan(decimal.Zero) || r.Max.LessThan(r.Min) {
			return s.filters, ErrInvalidRange
		}
		next.PriceRange = r
	}
	if patch.SearchTerm != nil {
		next.SearchTerm = *patch.SearchTerm
	}
	s.filters = next
	return next, nil
}

// ResetFilters restores the default filters
func (s *Store) ResetFilters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = catalog.DefaultFilters()
}

// HasActiveFilters reports whether any filter differs from its default
func (s *Store) HasActiveFilters() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters.Active()
}

// UI returns the current layout state
func (s *Store) UI() UI {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ui
}

// SetViewMode switches between grid and list layout
func (s *Store) SetViewMode(ctx context.Context, mode ViewMode) error {
	if mode != ViewGrid && mode != ViewList {
		return ErrInvalidViewMode
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ui.ViewMode = mode
	s.persistPreferences(ctx)
	return nil
}

// SetPageSize changes the page size and returns to the first page
func (s *Store) SetPageSize(ctx context.Context, size int) error {
	if size < 1 || size > MaxPageSize {
		return ErrInvalidPageSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ui.PageSize = size
	s.ui.CurrentPage = 1
	s.persistPreferences(ctx)
	return nil
}

// SetCurrentPage moves to page
func (s *Store) SetCurrentPage(page int) error {
	if page < 1 {
		return ErrInvalidPage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ui.CurrentPage = page
	return nil
}

// View is the product listing as the products application renders it
type View struct {
	Products     []catalog.Product       `json:"products"`
	Pagination   catalog.Pagination      `json:"pagination"`
	Statistics   catalog.Statistics      `json:"statistics"`
	Prices       catalog.PriceStatistics `json:"prices"`
	Distribution []catalog.CategoryShare `json:"distribution"`
	Filters      catalog.Filters         `json:"filters"`
	UI           UI                      `json:"ui"`
	InBasket     map[string]int          `json:"in_basket"`
}

// View applies the current filters, ordering and page to products
func (s *Store) View(products []catalog.Product) View {
	s.mu.RLock()
	filters, ui := s.filters, s.ui
	s.mu.RUnlock()

	filtered := catalog.Apply(products, filters)
	page, pagination := catalog.Paginate(filtered, ui.CurrentPage, ui.PageSize)

	inBasket := make(map[string]int)
	for _, p := range page {
		if q := s.QuantityOf(p.ID); q > 0 {
			inBasket[p.ID.String()] = q
		}
	}

	return View{
		Products:     page,
		Pagination:   pagination,
		Statistics:   catalog.ComputeStatistics(products, filtered),
		Prices:       catalog.ComputePriceStatistics(filtered),
		Distribution: catalog.CategoryDistribution(filtered),
		Filters:      filters,
		UI:           ui,
		InBasket:     inBasket,
	}
}
