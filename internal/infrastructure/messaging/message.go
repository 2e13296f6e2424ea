// Package messaging keeps the baskets of the storefront applications in step
// by exchanging basket operations between an application and its
// counterparts.
package messaging

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mfshop/storefront/internal/domain/basket"
	"github.com/shopspring/decimal"
)

// Kind is the type tag of a cross-window message
type Kind string

const (
	KindAdd          Kind = "ADD"
	KindRemove       Kind = "REMOVE"
	KindSetQuantity  Kind = "SET_QUANTITY"
	KindClear        Kind = "CLEAR"
	KindReady        Kind = "READY"
	KindRequestState Kind = "REQUEST_STATE"
	KindSnapshot     Kind = "STATE_SNAPSHOT"
)

// kinds lists every canonical kind
var kinds = map[Kind]struct{}{
	KindAdd:          {},
	KindRemove:       {},
	KindSetQuantity:  {},
	KindClear:        {},
	KindReady:        {},
	KindRequestState: {},
	KindSnapshot:     {},
}

// legacyKinds maps the type names used by the first browser release
var legacyKinds = map[string]Kind{
	"ADD_TO_BASKET":      KindAdd,
	"REMOVE_FROM_BASKET": KindRemove,
	"UPDATE_QUANTITY":    KindSetQuantity,
	"CLEAR_BASKET":       KindClear,
	"BASKET_READY":       KindReady,
	"GET_BASKET_STATE":   KindRequestState,
	"BASKET_STATE":       KindSnapshot,
}

var (
	// ErrMalformedMessage is returned for data that is not a JSON object
	ErrMalformedMessage = errors.New("malformed message")
	// ErrMissingKind is returned when a message carries no kind
	ErrMissingKind = errors.New("message has no kind")
	// ErrUnknownKind is returned for unrecognised kinds
	ErrUnknownKind = errors.New("unknown message kind")
	// ErrInvalidPayload is returned when a payload does not fit its kind
	ErrInvalidPayload = errors.New("invalid message payload")
)

// Message is one cross-window message: {"kind": ..., "payload": ...}
type Message struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SetQuantityPayload is the payload of SET_QUANTITY
type SetQuantityPayload struct {
	ID       basket.ProductID `json:"id"`
	Quantity int              `json:"quantity"`
}

// SnapshotPayload is the payload of STATE_SNAPSHOT. The totals are
// informational; receivers only use Items.
type SnapshotPayload struct {
	Items      []basket.LineItem `json:"items"`
	TotalItems int               `json:"total_items"`
	TotalPrice decimal.Decimal   `json:"total_price"`
}

// ParseKind resolves a canonical or legacy kind name
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := kinds[k]; ok {
		return k, true
	}
	if k, ok := legacyKinds[string(k)]; ok {
		return k, true
	}
	return "", false
}

// Decode parses data into a message with a canonical kind. The legacy "type"
// field is accepted in place of "kind".
func Decode(data []byte) (Message, error) {
	var raw struct {
		Kind    *string         `json:"kind"`
		Type    *string         `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	name := raw.Kind
	if name == nil || *name == "" {
		name = raw.Type
	}
	if name == nil || *name == "" {
		return Message{}, ErrMissingKind
	}

	kind, ok := ParseKind(*name)
	if !ok {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, *name)
	}

	payload := raw.Payload
	if bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		payload = nil
	}
	return Message{Kind: kind, Payload: payload}, nil
}

// Encode serialises m
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func newMessage(kind Kind, payload any) (Message, error) {
	if payload == nil {
		return Message{Kind: kind}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	return Message{Kind: kind, Payload: data}, nil
}

// NewAddMessage builds an ADD message for p
func NewAddMessage(p basket.Product) (Message, error) {
	return newMessage(KindAdd, p)
}

// NewRemoveMessage builds a REMOVE message; the payload is the bare id
func NewRemoveMessage(id basket.ProductID) (Message, error) {
	return newMessage(KindRemove, id)
}

// NewSetQuantityMessage builds a SET_QUANTITY message
func NewSetQuantityMessage(id basket.ProductID, quantity int) (Message, error) {
	return newMessage(KindSetQuantity, SetQuantityPayload{ID: id, Quantity: quantity})
}

// NewClearMessage builds a CLEAR message
func NewClearMessage() Message {
	return Message{Kind: KindClear}
}

// NewReadyMessage builds a READY message
func NewReadyMessage() Message {
	return Message{Kind: KindReady}
}

// NewRequestStateMessage builds a REQUEST_STATE message
func NewRequestStateMessage() Message {
	return Message{Kind: KindRequestState}
}

// NewSnapshotMessage builds a STATE_SNAPSHOT message for items
func NewSnapshotMessage(items []basket.LineItem) (Message, error) {
	b := basket.New(items...)
	return newMessage(KindSnapshot, SnapshotPayload{
		Items:      b.Items(),
		TotalItems: b.TotalItemCount(),
		TotalPrice: b.TotalPrice(),
	})
}

// FromMutation builds the message that replays m on a counterpart
func FromMutation(m basket.Mutation) (Message, error) {
	switch m.Kind {
	case basket.MutationAdd:
		return NewAddMessage(m.Product)
	case basket.MutationRemove:
		return NewRemoveMessage(m.ProductID)
	case basket.MutationSetQuantity:
		return NewSetQuantityMessage(m.ProductID, m.Quantity)
	case basket.MutationClear:
		return NewClearMessage(), nil
	case basket.MutationReplace:
		return NewSnapshotMessage(m.Items)
	default:
		return Message{}, fmt.Errorf("no message for mutation %q", m.Kind)
	}
}

// Product decodes an ADD payload
func (m Message) Product() (basket.Product, error) {
	var p basket.Product
	if len(m.Payload) == 0 {
		return p, fmt.Errorf("%w: %s requires a product", ErrInvalidPayload, m.Kind)
	}
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, nil
}

// ProductID decodes a REMOVE payload. A bare number, a numeric string and an
// object with an id field are accepted.
func (m Message) ProductID() (basket.ProductID, error) {
	payload := bytes.TrimSpace(m.Payload)
	if len(payload) == 0 {
		return 0, fmt.Errorf("%w: %s requires a product id", ErrInvalidPayload, m.Kind)
	}

	var id basket.ProductID
	switch payload[0] {
	case '{':
		var obj struct {
			ID basket.ProductID `json:"id"`
		}
		if err := json.Unmarshal(payload, &obj); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		id = obj.ID
	case '"':
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		parsed, err := basket.ParseProductID(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		id = parsed
	default:
		if err := json.Unmarshal(payload, &id); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}

	if !id.Valid() {
		return 0, fmt.Errorf("%w: product id must be positive", ErrInvalidPayload)
	}
	return id, nil
}

// SetQuantity decodes a SET_QUANTITY payload
func (m Message) SetQuantity() (SetQuantityPayload, error) {
	if len(m.Payload) == 0 {
		return SetQuantityPayload{}, fmt.Errorf("%w: %s requires id and quantity", ErrInvalidPayload, m.Kind)
	}
	var raw struct {
		ID       basket.ProductID `json:"id"`
		Quantity *int             `json:"quantity"`
	}
	if err := json.Unmarshal(m.Payload, &raw); err != nil {
		return SetQuantityPayload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !raw.ID.Valid() {
		return SetQuantityPayload{}, fmt.Errorf("%w: product id must be positive", ErrInvalidPayload)
	}
	if raw.Quantity == nil {
		return SetQuantityPayload{}, fmt.Errorf("%w: %s requires quantity", ErrInvalidPayload, m.Kind)
	}
	return SetQuantityPayload{ID: raw.ID, Quantity: *raw.Quantity}, nil
}

// Snapshot decodes a STATE_SNAPSHOT payload
func (m Message) Snapshot() (SnapshotPayload, error) {
	var p SnapshotPayload
	if len(m.Payload) == 0 {
		return p, fmt.Errorf("%w: %s requires items", ErrInvalidPayload, m.Kind)
	}
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, nil
}

// Mutation returns the basket operation m replays. READY and REQUEST_STATE
// carry no operation.
func (m Message) Mutation() (basket.Mutation, error) {
	switch m.Kind {
	case KindAdd:
		p, err := m.Product()
		if err != nil {
			return basket.Mutation{}, err
		}
		return basket.AddMutation(p), nil
	case KindRemove:
		id, err := m.ProductID()
		if err != nil {
			return basket.Mutation{}, err
		}
		return basket.RemoveMutation(id), nil
	case KindSetQuantity:
		p, err := m.SetQuantity()
		if err != nil {
			return basket.Mutation{}, err
		}
		return basket.SetQuantityMutation(p.ID, p.Quantity), nil
	case KindClear:
		return basket.ClearMutation(), nil
	case KindSnapshot:
		p, err := m.Snapshot()
		if err != nil {
			return basket.Mutation{}, err
		}
		return basket.ReplaceMutation(p.Items), nil
	default:
		return basket.Mutation{}, fmt.Errorf("%s carries no basket operation", m.Kind)
	}
}
