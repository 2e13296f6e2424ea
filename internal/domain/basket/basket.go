// Package basket holds the line-item model shared by every window's basket
// and the operations that keep it consistent.
package basket

import "github.com/shopspring/decimal"

// Basket is an ordered list of line items keyed by product id.
//
// Invariants: ids are unique and every quantity is >= 1. All methods keep
// them; callers never need to check.
type Basket struct {
	items []LineItem
}

// New returns a basket holding items, normalised the same way Replace does.
func New(items ...LineItem) *Basket {
	b := &Basket{}
	b.Replace(items)
	return b
}

// Items returns a copy of the line items in insertion order
func (b *Basket) Items() []LineItem {
	out := make([]LineItem, len(b.items))
	copy(out, b.items)
	return out
}

// Len returns the number of distinct line items
func (b *Basket) Len() int {
	return len(b.items)
}

func (b *Basket) index(id ProductID) int {
	for i := range b.items {
		if b.items[i].ID == id {
			return i
		}
	}
	return -1
}

// Add increments the quantity of the item with p.ID, or inserts p with
// quantity 1. Products with an invalid id are ignored.
func (b *Basket) Add(p Product) bool {
	if !p.ID.Valid() {
		return false
	}
	if i := b.index(p.ID); i >= 0 {
		b.items[i].Quantity++
		return true
	}
	b.items = append(b.items, LineItem{Product: p, Quantity: 1})
	return true
}

// Remove deletes the item with id. Missing ids are a no-op.
func (b *Basket) Remove(id ProductID) bool {
	i := b.index(id)
	if i < 0 {
		return false
	}
	b.items = append(b.items[:i], b.items[i+1:]...)
	return true
}

// SetQuantity sets the quantity of an existing item. quantity <= 0 removes
// the item. Setting the quantity of a missing id does not insert it.
func (b *Basket) SetQuantity(id ProductID, quantity int) bool {
	if quantity <= 0 {
		return b.Remove(id)
	}
	i := b.index(id)
	if i < 0 || b.items[i].Quantity == quantity {
		return false
	}
	b.items[i].Quantity = quantity
	return true
}

// Clear empties the basket
func (b *Basket) Clear() bool {
	if len(b.items) == 0 {
		return false
	}
	b.items = nil
	return true
}

// Replace discards the current content and bulk-inserts items. Entries
// without a valid id or with a non-positive quantity are skipped, and only
// the first entry for a given id is kept.
func (b *Basket) Replace(items []LineItem) bool {
	next := make([]LineItem, 0, len(items))
	seen := make(map[ProductID]struct{}, len(items))
	for _, it := range items {
		if !it.ID.Valid() || it.Quantity < 1 {
			continue
		}
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		next = append(next, it)
	}
	changed := !equalItems(b.items, next)
	b.items = next
	return changed
}

// Apply runs m against the basket and reports whether the content changed.
func (b *Basket) Apply(m Mutation) bool {
	switch m.Kind {
	case MutationAdd:
		return b.Add(m.Product)
	case MutationRemove:
		return b.Remove(m.ProductID)
	case MutationSetQuantity:
		return b.SetQuantity(m.ProductID, m.Quantity)
	case MutationClear:
		return b.Clear()
	case MutationReplace:
		return b.Replace(m.Items)
	default:
		return false
	}
}

// TotalItemCount is the sum of all quantities
func (b *Basket) TotalItemCount() int {
	total := 0
	for _, it := range b.items {
		total += it.Quantity
	}
	return total
}

// TotalPrice is the sum of price × quantity. No rounding or currency
// formatting is applied.
func (b *Basket) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, it := range b.items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// Contains reports whether an item with id is present
func (b *Basket) Contains(id ProductID) bool {
	return b.index(id) >= 0
}

// QuantityOf returns the quantity of id, or 0 when absent
func (b *Basket) QuantityOf(id ProductID) int {
	if i := b.index(id); i >= 0 {
		return b.items[i].Quantity
	}
	return 0
}

func equalItems(a, b []LineItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID ||
			a[i].Quantity != b[i].Quantity ||
			a[i].Title != b[i].Title ||
			a[i].Image != b[i].Image ||
			!a[i].Price.Equal(b[i].Price) {
			return false
		}
	}
	return true
}
