package messaging

import (
	"context"
	"errors"
)

// WildcardOrigin targets a message at any receiver origin. It is only used
// when the counterpart origin could not be resolved.
const WildcardOrigin = "*"

var (
	// ErrCounterpartUnavailable is returned by Post when there is no
	// counterpart to deliver to. Callers queue the message instead.
	ErrCounterpartUnavailable = errors.New("counterpart unavailable")
	// ErrTransportClosed is returned when posting on a closed transport
	ErrTransportClosed = errors.New("transport closed")
)

// Replier posts a message back to the sender of an envelope
type Replier interface {
	Reply(ctx context.Context, msg Message, targetOrigin string) error
}

// ReplierFunc adapts a function to Replier
type ReplierFunc func(ctx context.Context, msg Message, targetOrigin string) error

// Reply calls f
func (f ReplierFunc) Reply(ctx context.Context, msg Message, targetOrigin string) error {
	return f(ctx, msg, targetOrigin)
}

// Envelope is an inbound message with its transport metadata. Data is left
// undecoded so that untrusted senders are rejected before parsing.
type Envelope struct {
	Data   []byte
	Origin string
	Source Replier
}

// Handler receives inbound envelopes. Envelopes from one sender are
// delivered in order on a single goroutine.
type Handler func(ctx context.Context, env Envelope)

// Transport carries messages between an application and one counterpart
type Transport interface {
	// Post sends msg to the counterpart. The message is silently dropped
	// when the counterpart's origin does not match targetOrigin.
	Post(ctx context.Context, msg Message, targetOrigin string) error
	// Listen installs the inbound handler
	Listen(h Handler)
	Close() error
}

// ConnectNotifier is implemented by transports whose counterpart can
// (re)appear after start-up
type ConnectNotifier interface {
	OnConnect(fn func(ctx context.Context))
}

// originMatches reports whether a receiver at origin accepts a message
// targeted at target
func originMatches(target, origin string) bool {
	return target == WildcardOrigin || target == origin
}
