package catalog

import (
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// CategoryAll disables category filtering
const CategoryAll = "all"

// SortBy selects the product ordering
type SortBy string

const (
	SortDefault   SortBy = "default"
	SortPriceAsc  SortBy = "price-asc"
	SortPriceDesc SortBy = "price-desc"
	SortNameAsc   SortBy = "name-asc"
	SortNameDesc  SortBy = "name-desc"
	SortRating    SortBy = "rating"
)

// Valid reports whether s is a known ordering
func (s SortBy) Valid() bool {
	switch s {
	case SortDefault, SortPriceAsc, SortPriceDesc, SortNameAsc, SortNameDesc, SortRating:
		return true
	}
	return false
}

// PriceRange is an inclusive price interval
type PriceRange struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// DefaultPriceRange is the unfiltered range used by the products app
func DefaultPriceRange() PriceRange {
	return PriceRange{Min: decimal.Zero, Max: decimal.NewFromInt(1000)}
}

// Filters is the products app's filter state
type Filters struct {
	Category   string     `json:"category"`
	SortBy     SortBy     `json:"sort_by"`
	PriceRange PriceRange `json:"price_range"`
	SearchTerm string     `json:"search_term"`
}

// DefaultFilters returns filters that let every product through
func DefaultFilters() Filters {
	return Filters{
		Category:   CategoryAll,
		SortBy:     SortDefault,
		PriceRange: DefaultPriceRange(),
	}
}

// Active reports whether any filter differs from its default
func (f Filters) Active() bool {
	def := DefaultPriceRange()
	return f.Category != CategoryAll ||
		f.SortBy != SortDefault ||
		f.SearchTerm != "" ||
		!f.PriceRange.Min.Equal(def.Min) ||
		!f.PriceRange.Max.Equal(def.Max)
}

// FilterProducts returns the products matching the category, price range and
// search term of f. The input slice is not modified.
func FilterProducts(products []Product, f Filters) []Product {
	term := strings.ToLower(strings.TrimSpace(f.SearchTerm))
	out := make([]Product, 0, len(products))
	for _, p := range products {
		if f.Category != "" && f.Category != CategoryAll && p.Category != f.Category {
			continue
		}
		if p.Price.LessThan(f.PriceRange.Min) || p.Price.GreaterThan(f.PriceRange.Max) {
			continue
		}
		if term != "" &&
			!strings.Contains(strings.ToLower(p.Title), term) &&
			!strings.Contains(strings.ToLower(p.Description), term) &&
			!strings.Contains(strings.ToLower(p.Category), term) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// SortProducts returns a sorted copy of products. Unknown orderings keep the
// input order.
func SortProducts(products []Product, by SortBy) []Product {
	out := make([]Product, len(products))
	copy(out, products)

	var less func(a, b Product) bool
	switch by {
	case SortPriceAsc:
		less = func(a, b Product) bool { return a.Price.LessThan(b.Price) }
	case SortPriceDesc:
		less = func(a, b Product) bool { return a.Price.GreaterThan(b.Price) }
	case SortNameAsc:
		less = func(a, b Product) bool { return strings.ToLower(a.Title) < strings.ToLower(b.Title) }
	case SortNameDesc:
		less = func(a, b Product) bool { return strings.ToLower(a.Title) > strings.ToLower(b.Title) }
	case SortRating:
		less = func(a, b Product) bool { return a.Rating.Rate > b.Rating.Rate }
	default:
		return out
	}

	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// Apply filters then sorts products
func Apply(products []Product, f Filters) []Product {
	return SortProducts(FilterProducts(products, f), f.SortBy)
}

// Pagination describes one page of a product list
type Pagination struct {
	Current    int `json:"current"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// Paginate returns the 1-based page of products. Pages past the end are
// empty; page and pageSize below 1 are clamped to 1.
func Paginate(products []Product, page, pageSize int) ([]Product, Pagination) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	total := len(products)
	meta := Pagination{
		Current:    page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}

	start := (page - 1) * pageSize
	if start >= total {
		return []Product{}, meta
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	out := make([]Product, end-start)
	copy(out, products[start:end])
	return out, meta
}

// Statistics summarises a catalog and how much of it survives filtering
type Statistics struct {
	TotalProducts int        `json:"total_products"`
	FilteredCount int        `json:"filtered_count"`
	PriceRange    PriceRange `json:"price_range"`
	Categories    []string   `json:"categories"`
}

// ComputeStatistics summarises all against the filtered subset
func ComputeStatistics(all, filtered []Product) Statistics {
	stats := Statistics{
		TotalProducts: len(all),
		FilteredCount: len(filtered),
		PriceRange:    PriceRange{Min: decimal.Zero, Max: decimal.Zero},
		Categories:    []string{},
	}
	if len(all) == 0 {
		return stats
	}

	seen := make(map[string]struct{})
	stats.PriceRange = PriceRange{Min: all[0].Price, Max: all[0].Price}
	for _, p := range all {
		if p.Price.LessThan(stats.PriceRange.Min) {
			stats.PriceRange.Min = p.Price
		}
		if p.Price.GreaterThan(stats.PriceRange.Max) {
			stats.PriceRange.Max = p.Price
		}
		if _, ok := seen[p.Category]; !ok {
			seen[p.Category] = struct{}{}
			stats.Categories = append(stats.Categories, p.Category)
		}
	}
	sort.Strings(stats.Categories)
	return stats
}

// PriceStatistics describes the price distribution of a product list
type PriceStatistics struct {
	Min     decimal.Decimal `json:"min"`
	Max     decimal.Decimal `json:"max"`
	Average decimal.Decimal `json:"average"`
	Median  decimal.Decimal `json:"median"`
}

// ComputePriceStatistics returns min, max, average and median price, the
// last two rounded to 2 decimal places. An empty list yields zeros.
func ComputePriceStatistics(products []Product) PriceStatistics {
	if len(products) == 0 {
		return PriceStatistics{Min: decimal.Zero, Max: decimal.Zero, Average: decimal.Zero, Median: decimal.Zero}
	}

	prices := make([]decimal.Decimal, len(products))
	total := decimal.Zero
	for i, p := range products {
		prices[i] = p.Price
		total = total.Add(p.Price)
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })

	n := len(prices)
	var median decimal.Decimal
	if n%2 == 0 {
		median = prices[n/2-1].Add(prices[n/2]).Div(decimal.NewFromInt(2))
	} else {
		median = prices[n/2]
	}

	return PriceStatistics{
		Min:     prices[0],
		Max:     prices[n-1],
		Average: total.Div(decimal.NewFromInt(int64(n))).Round(2),
		Median:  median.Round(2),
	}
}

// CategoryShare is the number and share of products in one category
type CategoryShare struct {
	Category   string  `json:"category"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// CategoryDistribution counts products per category in first-seen order.
// Percentages are rounded to one decimal place.
func CategoryDistribution(products []Product) []CategoryShare {
	order := make([]string, 0)
	counts := make(map[string]int)
	for _, p := range products {
		if _, ok := counts[p.Category]; !ok {
			order = append(order, p.Category)
		}
		counts[p.Category]++
	}

	out := make([]CategoryShare, 0, len(order))
	for _, c := range order {
		pct := float64(counts[c]) / float64(len(products)) * 100
		out = append(out, CategoryShare{
			Category:   c,
			Count:      counts[c],
			Percentage: math.Round(pct*10) / 10,
		})
	}
	return out
}
