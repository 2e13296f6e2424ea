package basket

import "context"

// MutationKind names one of the canonical basket operations
type MutationKind string

const (
	MutationAdd         MutationKind = "add"
	MutationRemove      MutationKind = "remove"
	MutationSetQuantity MutationKind = "set_quantity"
	MutationClear       MutationKind = "clear"
	// MutationReplace swaps the whole item list; it is only produced by
	// snapshot reconciliation.
	MutationReplace MutationKind = "replace"
)

// Mutation describes a single operation on a basket. Only the fields
// relevant to Kind are set.
type Mutation struct {
	Kind      MutationKind
	Product   Product
	ProductID ProductID
	Quantity  int
	Items     []LineItem
}

// AddMutation builds an add operation
func AddMutation(p Product) Mutation {
	return Mutation{Kind: MutationAdd, Product: p, ProductID: p.ID}
}

// RemoveMutation builds a remove operation
func RemoveMutation(id ProductID) Mutation {
	return Mutation{Kind: MutationRemove, ProductID: id}
}

// SetQuantityMutation builds a set-quantity operation
func SetQuantityMutation(id ProductID, quantity int) Mutation {
	return Mutation{Kind: MutationSetQuantity, ProductID: id, Quantity: quantity}
}

// ClearMutation builds a clear operation
func ClearMutation() Mutation {
	return Mutation{Kind: MutationClear}
}

// ReplaceMutation builds a full replacement of the item list
func ReplaceMutation(items []LineItem) Mutation {
	return Mutation{Kind: MutationReplace, Items: items}
}

// Change is delivered to observers after every mutation of a store.
type Change struct {
	Mutation Mutation
	// Source is empty for mutations issued by the local presentation layer
	// and carries the applying messenger's id for mutations received from a
	// counterpart.
	Source string
	// Changed is false when the mutation was a no-op (e.g. removing a
	// missing id).
	Changed bool
	// Items is the store content after the mutation.
	Items []LineItem
}

// Local reports whether the change originated in this window
func (c Change) Local() bool {
	return c.Source == ""
}

// Observer is notified of store changes
type Observer func(ctx context.Context, change Change)
