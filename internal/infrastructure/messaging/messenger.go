package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mfshop/storefront/internal/domain/basket"
	"github.com/mfshop/storefront/internal/domain/shared"
	"github.com/mfshop/storefront/internal/infrastructure/logger"
	"github.com/mfshop/storefront/internal/infrastructure/origin"
	"go.uber.org/zap"
)

// State is the lifecycle state of a Messenger
type State int32

const (
	StateUninitialized State = iota
	StateAwaitingReady
	StateActive
	StateClosed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// BasketStore is the part of the basket store the messenger bridges
type BasketStore interface {
	Items() []basket.LineItem
	ApplyRemote(ctx context.Context, m basket.Mutation, source string) bool
	Subscribe(fn basket.Observer) func()
}

// Config configures a Messenger
type Config struct {
	// ID identifies the messenger on the store changes it applies. A random
	// id is generated when empty.
	ID string
	// Counterpart is the role of the application on the other end
	Counterpart shared.AppRole
	// Embedded announces READY on start and on every reconnect
	Embedded bool
	// RequestStateOnStart asks the counterpart for a snapshot after start.
	// When the transport is not connected yet the request is repeated on
	// the first connection.
	RequestStateOnStart bool
	// Relay forwards changes applied by other messengers on the same store
	Relay bool
}

// Stats are the messenger counters
type Stats struct {
	Sent           uint64 `json:"sent"`
	Queued         uint64 `json:"queued"`
	Replayed       uint64 `json:"replayed"`
	Received       uint64 `json:"received"`
	RejectedOrigin uint64 `json:"rejected_origin"`
	Malformed      uint64 `json:"malformed"`
	Pending        int    `json:"pending"`
}

// Messenger bridges one application's basket store to a counterpart's store.
// Local mutations are forwarded as messages; inbound messages from allowed
// origins are replayed on the local store. Messages issued before the
// counterpart has signalled READY are kept in a durable pending queue and
// replayed in order once it does.
type Messenger struct {
	id        string
	cfg       Config
	store     BasketStore
	transport Transport
	allowlist *origin.Allowlist
	pending   *PendingQueue
	logger    *zap.Logger

	state         atomic.Int32
	target        string
	stateReceived atomic.Bool

	// mu serialises outbound traffic and guards ready
	mu          sync.Mutex
	ready       bool
	unsubscribe func()

	sent, queued, replayed              atomic.Uint64
	received, rejectedOrigin, malformed atomic.Uint64
}

// NewMessenger creates a messenger. It does nothing until Start is called.
func NewMessenger(
	store BasketStore,
	transport Transport,
	allowlist *origin.Allowlist,
	pending *PendingQueue,
	cfg Config,
	l *zap.Logger,
) *Messenger {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &Messenger{
		id:        cfg.ID,
		cfg:       cfg,
		store:     store,
		transport: transport,
		allowlist: allowlist,
		pending:   pending,
		logger:    l.Named("messenger").With(zap.String("counterpart", string(cfg.Counterpart))),
	}
}

// ID returns the messenger id
func (m *Messenger) ID() string {
	return m.id
}

// Counterpart returns the role on the other end
func (m *Messenger) Counterpart() shared.AppRole {
	return m.cfg.Counterpart
}

// State returns the current lifecycle state
func (m *Messenger) State() State {
	return State(m.state.Load())
}

// TargetOrigin returns the origin outbound messages are addressed to
func (m *Messenger) TargetOrigin() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// Stats returns a snapshot of the counters
func (m *Messenger) Stats() Stats {
	return Stats{
		Sent:           m.sent.Load(),
		Queued:         m.queued.Load(),
		Replayed:       m.replayed.Load(),
		Received:       m.received.Load(),
		RejectedOrigin: m.rejectedOrigin.Load(),
		Malformed:      m.malformed.Load(),
		Pending:        m.pending.Len(),
	}
}

func (m *Messenger) ctx(ctx context.Context) context.Context {
	return logger.WithMessengerID(ctx, m.id)
}

func (m *Messenger) log(ctx context.Context) *logger.ContextLogger {
	return logger.WithLogger(m.ctx(ctx), m.logger)
}

// Start resolves the counterpart origin, starts listening and, when
// embedded, announces READY.
func (m *Messenger) Start(ctx context.Context) error {
	if !m.state.CompareAndSwap(int32(StateUninitialized), int32(StateAwaitingReady)) {
		return fmt.Errorf("messenger already started (state %s)", m.State())
	}
	ctx = m.ctx(ctx)

	target := m.allowlist.CounterpartOrigin(m.cfg.Counterpart)
	if target == "" {
		m.log(ctx).Warn("Counterpart origin unresolved, falling back to wildcard target",
			zap.String("target", WildcardOrigin))
		target = WildcardOrigin
	}
	m.mu.Lock()
	m.target = target
	m.mu.Unlock()

	if n, ok := m.transport.(ConnectNotifier); ok {
		n.OnConnect(func(ctx context.Context) {
			if m.State() == StateClosed {
				return
			}
			m.mu.Lock()
			m.ready = false
			m.mu.Unlock()
			ctx = m.ctx(ctx)
			if m.cfg.Embedded {
				m.announce(ctx)
			}
			if m.cfg.RequestStateOnStart && !m.stateReceived.Load() {
				m.RequestState(ctx)
			}
		})
	}

	m.transport.Listen(m.handle)
	unsubscribe := m.store.Subscribe(m.onChange)
	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	m.log(ctx).Info("Messenger started",
		zap.String("target", target),
		zap.Bool("embedded", m.cfg.Embedded),
		zap.Int("pending", m.pending.Len()),
	)

	if m.cfg.Embedded {
		m.announce(ctx)
	}
	if m.cfg.RequestStateOnStart {
		m.RequestState(ctx)
	}
	return nil
}

// announce posts READY, bypassing the pending queue
func (m *Messenger) announce(ctx context.Context) {
	m.postControl(ctx, NewReadyMessage())
}

// RequestState asks the counterpart for a STATE_SNAPSHOT
func (m *Messenger) RequestState(ctx context.Context) {
	m.postControl(m.ctx(ctx), NewRequestStateMessage())
}

func (m *Messenger) postControl(ctx context.Context, msg Message) {
	err := m.transport.Post(ctx, msg, m.TargetOrigin())
	if err != nil {
		m.log(ctx).Debug("Control message not delivered",
			zap.String("kind", string(msg.Kind)),
			zap.Error(err),
		)
		return
	}
	m.sent.Add(1)
}

// onChange forwards store changes to the counterpart
func (m *Messenger) onChange(ctx context.Context, change basket.Change) {
	if m.State() == StateClosed || !change.Changed || change.Source == m.id {
		return
	}
	if !change.Local() && !m.cfg.Relay {
		return
	}

	msg, err := FromMutation(change.Mutation)
	if err != nil {
		m.log(ctx).Error("Cannot forward basket change", zap.Error(err))
		return
	}
	m.send(m.ctx(ctx), msg)
}

// send posts msg, or queues it while the counterpart is not ready or older
// messages are still waiting
func (m *Messenger) send(ctx context.Context, msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ready && m.pending.Len() == 0 {
		err := m.transport.Post(ctx, msg, m.target)
		if err == nil {
			m.sent.Add(1)
			return
		}
		if errors.Is(err, ErrCounterpartUnavailable) {
			m.ready = false
		} else {
			m.log(ctx).Warn("Post failed, queueing message",
				zap.String("kind", string(msg.Kind)),
				zap.Error(err),
			)
		}
	}

	if err := m.pending.Append(ctx, msg); err != nil {
		m.log(ctx).Error("Failed to persist pending message",
			zap.String("kind", string(msg.Kind)),
			zap.Error(err),
		)
	}
	m.queued.Add(1)
	m.log(ctx).Debug("Message queued until counterpart is ready",
		zap.String("kind", string(msg.Kind)),
		zap.Int("pending", m.pending.Len()),
	)
}

// flush replays the pending queue in order. It stops at the first message
// the counterpart cannot take. Called with m.mu held.
func (m *Messenger) flush(ctx context.Context) {
	entries := m.pending.Entries()
	if len(entries) == 0 {
		return
	}

	delivered := 0
	for _, msg := range entries {
		err := m.transport.Post(ctx, msg, m.target)
		if err != nil {
			m.log(ctx).Warn("Pending replay interrupted",
				zap.String("kind", string(msg.Kind)),
				zap.Int("remaining", len(entries)-delivered),
				zap.Error(err),
			)
			m.ready = false
			break
		}
		delivered++
	}
	if delivered == 0 {
		return
	}
	m.replayed.Add(uint64(delivered))

	var err error
	if delivered == len(entries) {
		err = m.pending.Clear(ctx)
	} else {
		err = m.pending.DropFirst(ctx, delivered)
	}
	if err != nil {
		m.log(ctx).Error("Failed to update pending queue", zap.Error(err))
	}
	m.log(ctx).Info("Pending messages replayed", zap.Int("count", delivered))
}

// handle is the inbound message handler
func (m *Messenger) handle(ctx context.Context, env Envelope) {
	if m.State() == StateClosed {
		return
	}
	ctx = logger.WithPeerOrigin(m.ctx(ctx), env.Origin)
	log := m.log(ctx)

	if !m.allowlist.Allows(env.Origin) {
		m.rejectedOrigin.Add(1)
		log.Debug("Ignoring message from untrusted origin")
		return
	}

	msg, err := Decode(env.Data)
	if err != nil {
		m.malformed.Add(1)
		log.Warn("Ignoring malformed message", zap.Error(err))
		return
	}

	m.received.Add(1)
	m.state.CompareAndSwap(int32(StateAwaitingReady), int32(StateActive))
	log = log.With(zap.String("kind", string(msg.Kind)))

	switch msg.Kind {
	case KindReady:
		m.onReady(ctx)
	case KindRequestState:
		m.replySnapshot(ctx, env)
	default:
		mutation, err := msg.Mutation()
		if err != nil {
			m.malformed.Add(1)
			log.Warn("Ignoring message with invalid payload", zap.Error(err))
			return
		}
		changed := m.store.ApplyRemote(ctx, mutation, m.id)
		if msg.Kind == KindSnapshot {
			m.stateReceived.Store(true)
		}
		log.Debug("Applied remote basket operation", zap.Bool("changed", changed))
	}
}

// onReady marks the counterpart ready and replays the pending queue. The
// top-level side answers every READY so the embedded side learns that it is
// ready as well; the embedded side never answers, which keeps the handshake
// finite.
func (m *Messenger) onReady(ctx context.Context) {
	m.mu.Lock()
	m.ready = true
	m.flush(ctx)
	m.mu.Unlock()

	if !m.cfg.Embedded {
		m.announce(ctx)
	}
}

func (m *Messenger) replySnapshot(ctx context.Context, env Envelope) {
	reply, err := NewSnapshotMessage(m.store.Items())
	if err != nil {
		m.log(ctx).Error("Failed to build snapshot", zap.Error(err))
		return
	}

	if env.Source != nil {
		err = env.Source.Reply(ctx, reply, env.Origin)
	} else {
		err = m.transport.Post(ctx, reply, env.Origin)
	}
	if err != nil {
		m.log(ctx).Warn("Failed to answer state request", zap.Error(err))
		return
	}
	m.sent.Add(1)
}

// Close stops forwarding and listening and closes the transport
func (m *Messenger) Close() error {
	prev := State(m.state.Swap(int32(StateClosed)))
	if prev == StateClosed {
		return nil
	}

	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.ready = false
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.log(context.Background()).Info("Messenger closed", zap.Int("pending", m.pending.Len()))
	return m.transport.Close()
}
