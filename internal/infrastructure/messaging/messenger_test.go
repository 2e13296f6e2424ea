package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	appbasket "github.com/mfshop/storefront/internal/application/basket"
	"github.com/mfshop/storefront/internal/domain/basket"
	"github.com/mfshop/storefront/internal/domain/shared"
	"github.com/mfshop/storefront/internal/infrastructure/origin"
	"github.com/mfshop/storefront/internal/infrastructure/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func devAllowlist(t *testing.T, self string) *origin.Allowlist {
	t.Helper()
	a, warnings, err := origin.Resolve(origin.Params{
		SelfURL: self,
		Development: map[shared.AppRole]string{
			shared.RoleHost:     hostOrigin,
			shared.RoleProducts: productsOrigin,
			shared.RoleBasket:   basketOrigin,
		},
	})
	require.NoError(t, err)
	require.Empty(t, warnings)
	return a
}

// window is one application's basket with its messenger
type window struct {
	kv      *storage.InMemoryStore
	store   *appbasket.Store
	pending *PendingQueue
}

func newWindow(t *testing.T, kv *storage.InMemoryStore, key string) *window {
	t.Helper()
	ctx := context.Background()
	store, err := appbasket.NewStore(ctx, kv, key)
	require.NoError(t, err)
	pending, err := NewPendingQueue(ctx, kv, key+PendingKeySuffix, nil)
	require.NoError(t, err)
	return &window{kv: kv, store: store, pending: pending}
}

func (w *window) messenger(t *testing.T, tr Transport, self string, cfg Config) *Messenger {
	t.Helper()
	m := NewMessenger(w.store, tr, devAllowlist(t, self), w.pending, cfg, nil)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func lamp() basket.Product {
	return basket.Product{ID: 7, Title: "Lamp", Price: decimal.RequireFromString("19.99")}
}

func envelope(t *testing.T, from string, msg Message) Envelope {
	t.Helper()
	data, err := Encode(msg)
	require.NoError(t, err)
	return Envelope{Data: data, Origin: from}
}

type post struct {
	msg    Message
	target string
}

// fakeTransport records posts and lets tests drive inbound traffic
type fakeTransport struct {
	mu      sync.Mutex
	posts   []post
	fail    func(n int, msg Message) error
	handler Handler
	hooks   []func(context.Context)
	closed  bool
}

func (f *fakeTransport) Post(_ context.Context, msg Message, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(len(f.posts), msg); err != nil {
			return err
		}
	}
	f.posts = append(f.posts, post{msg: msg, target: target})
	return nil
}

func (f *fakeTransport) Listen(h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeTransport) OnConnect(fn func(context.Context)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = append(f.hooks, fn)
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) connect() {
	f.mu.Lock()
	hooks := append([]func(context.Context){}, f.hooks...)
	f.mu.Unlock()
	for _, fn := range hooks {
		fn(context.Background())
	}
}

func (f *fakeTransport) kinds() []Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Kind, 0, len(f.posts))
	for _, p := range f.posts {
		out = append(out, p.msg.Kind)
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = nil
}

func TestMessenger_QueuedAddReplayedOnReady(t *testing.T) {
	ctx := context.Background()
	host := newWindow(t, storage.NewInMemoryStore(), shared.RoleHost.StorageKey())
	remote := newWindow(t, storage.NewInMemoryStore(), shared.RoleBasket.StorageKey())

	hostEnd, remoteEnd := NewPipe(hostOrigin, basketOrigin)
	a := host.messenger(t, hostEnd, hostOrigin, Config{ID: "host", Counterpart: shared.RoleBasket})
	require.NoError(t, a.Start(ctx))

	require.NoError(t, host.store.Add(ctx, lamp()))
	assert.Equal(t, 1, host.pending.Len(), "add before READY must be queued")

	b := remote.messenger(t, remoteEnd, basketOrigin, Config{ID: "basket", Counterpart: shared.RoleHost, Embedded: true})
	require.NoError(t, b.Start(ctx))

	require.Eventually(t, func() bool {
		return remote.store.QuantityOf(7) == 1 && host.pending.Len() == 0
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		return a.State() == StateActive && b.State() == StateActive
	}, waitFor, tick)

	items := remote.store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, basket.ProductID(7), items[0].ID)
	assert.Equal(t, 1, items[0].Quantity)
	assert.True(t, items[0].Price.Equal(decimal.RequireFromString("19.99")))

	_, found, err := host.kv.Get(ctx, host.pending.Key())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, uint64(1), a.Stats().Replayed)

	// The remote applied the replay without echoing it back
	assert.Equal(t, 1, host.store.QuantityOf(7))

	// Both directions flow once the handshake is done
	remote.store.SetQuantity(ctx, 7, 3)
	require.Eventually(t, func() bool { return host.store.QuantityOf(7) == 3 }, waitFor, tick)
}

func TestMessenger_QueuesUntilReadyThenFlushesInOrder(t *testing.T) {
	ctx := context.Background()
	w := newWindow(t, storage.NewInMemoryStore(), shared.RoleHost.StorageKey())
	tr := &fakeTransport{}
	m := w.messenger(t, tr, hostOrigin, Config{Counterpart: shared.RoleBasket})
	require.NoError(t, m.Start(ctx))

	require.NoError(t, w.store.Add(ctx, lamp()))
	w.store.SetQuantity(ctx, 7, 4)
	w.store.Remove(ctx, 7)
	assert.Empty(t, tr.kinds())
	assert.Equal(t, 3, w.pending.Len())

	m.handle(ctx, envelope(t, basketOrigin, NewReadyMessage()))

	assert.Equal(t, []Kind{KindAdd, KindSetQuantity, KindRemove, KindReady}, tr.kinds())
	for _, p := range tr.posts {
		assert.Equal(t, basketOrigin, p.target)
	}
	assert.Equal(t, 0, w.pending.Len())

	stats := m.Stats()
	assert.Equal(t, uint64(3), stats.Queued)
	assert.Equal(t, uint64(3), stats.Replayed)
	assert.Equal(t, uint64(1), stats.Received)

	tr.reset()
	require.NoError(t, w.store.Add(ctx, lamp()))
	assert.Equal(t, []Kind{KindAdd}, tr.kinds(), "ready counterpart receives changes directly")

	tr.reset()
	w.store.Remove(ctx, 99)
	assert.Empty(t, tr.kinds(), "no-op changes are not forwarded")
}

func TestMessenger_FlushStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	w := newWindow(t, storage.NewInMemoryStore(), shared.RoleHost.StorageKey())
	tr := &fakeTransport{}
	m := w.messenger(t, tr, hostOrigin, Config{Counterpart: shared.RoleBasket})
	require.NoError(t, m.Start(ctx))

	require.NoError(t, w.store.Add(ctx, lamp()))
	require.NoError(t, w.store.Add(ctx, basket.Product{ID: 8, Price: decimal.NewFromInt(1)}))
	require.NoError(t, w.store.Add(ctx, basket.Product{ID: 9, Price: decimal.NewFromInt(1)}))

	tr.fail = func(n int, _ Message) error {
		if n >= 1 {
			return ErrCounterpartUnavailable
		}
		return nil
	}
	m.handle(ctx, envelope(t, basketOrigin, NewReadyMessage()))

	assert.Equal(t, 2, w.pending.Len())
	assert.Equal(t, uint64(1), m.Stats().Replayed)

	entries := w.pending.Entries()
	id, err := entries[0].Product()
	require.NoError(t, err)
	assert.Equal(t, basket.ProductID(8), id.ID)

	tr.fail = nil
	m.handle(ctx, envelope(t, basketOrigin, NewReadyMessage()))
	assert.Equal(t, 0, w.pending.Len())
	assert.Equal(t, []Kind{KindAdd, KindAdd, KindAdd, KindReady}, tr.kinds())
}

func TestMessenger_QueuesOnPostFailure(t *testing.T) {
	ctx := context.Background()
	w := newWindow(t, storage.NewInMemoryStore(), shared.RoleHost.StorageKey())
	tr := &fakeTransport{}
	m := w.messenger(t, tr, hostOrigin, Config{Counterpart: shared.RoleBasket})
	require.NoError(t, m.Start(ctx))
	m.handle(ctx, envelope(t, basketOrigin, NewReadyMessage()))
	tr.reset()

	tr.fail = func(int, Message) error { return errors.New("write: broken pipe") }
	require.NoError(t, w.store.Add(ctx, lamp()))
	assert.Equal(t, 1, w.pending.Len())

	// Later changes queue behind the failed one to keep order
	tr.fail = nil
	w.store.Clear(ctx)
	assert.Equal(t, 2, w.pending.Len())
	assert.Empty(t, tr.kinds())
}

func TestMessenger_UntrustedOriginNeverChangesState(t *testing.T) {
	ctx := context.Background()
	w := newWindow(t, storage.NewInMemoryStore(), shared.RoleBasket.StorageKey())
	tr := &fakeTransport{}
	m := w.messenger(t, tr, basketOrigin, Config{Counterpart: shared.RoleHost, Embedded: true})
	require.NoError(t, m.Start(ctx))
	require.NoError(t, w.store.Add(ctx, basket.Product{ID: 2, Price: decimal.NewFromInt(5)}))
	before := w.store.Items()

	add, err := NewAddMessage(lamp())
	require.NoError(t, err)
	snapshot, err := NewSnapshotMessage(nil)
	require.NoError(t, err)

	evil := []string{"https://evil.example", "http://localhost:4000", "null", ""}
	for _, from := range evil {
		for _, msg := range []Message{add, NewClearMessage(), snapshot, NewReadyMessage(), NewRequestStateMessage()} {
			m.handle(ctx, envelope(t, from, msg))
		}
	}

	assert.Equal(t, before, w.store.Items())
	assert.Equal(t, StateAwaitingReady, m.State())
	assert.Equal(t, uint64(len(evil)*5), m.Stats().RejectedOrigin)
	assert.Equal(t, uint64(0), m.Stats().Received)
	assert.Equal(t, []Kind{KindReady}, tr.kinds(), "only the start-up announcement is posted")
}

func TestMessenger_SnapshotReplacesContent(t *testing.T) {
	ctx := context.Background()
	w := newWindow(t, storage.NewInMemoryStore(), shared.RoleBasket.StorageKey())
	m := w.messenger(t, &fakeTransport{}, basketOrigin, Config{Counterpart: shared.RoleHost, Embedded: true})
	require.NoError(t, m.Start(ctx))
	require.NoError(t, w.store.Add(ctx, basket.Product{ID: 2, Title: "B", Price: decimal.NewFromInt(3)}))

	msg := Message{
		Kind:    KindSnapshot,
		Payload: json.RawMessage(`{"items":[{"id":1,"title":"A","price":10,"quantity":2}]}`),
	}
	m.handle(ctx, envelope(t, hostOrigin, msg))

	items := w.store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, basket.ProductID(1), items[0].ID)
	assert.Equal(t, "A", items[0].Title)
	assert.Equal(t, 2, items[0].Quantity)
	assert.True(t, items[0].Price.Equal(decimal.NewFromInt(10)))
	assert.False(t, w.store.Contains(2))
}

func TestMessenger_AnswersStateRequest(t *testing.T) {
	ctx := context.Background()
	w := newWindow(t, storage.NewInMemoryStore(), shared.RoleHost.StorageKey())
	tr := &fakeTransport{}
	m := w.messenger(t, tr, hostOrigin, Config{Counterpart: shared.RoleBasket})
	require.NoError(t, m.Start(ctx))
	require.NoError(t, w.store.Add(ctx, lamp()))

	replies := &fakeTransport{}
	env := envelope(t, basketOrigin, NewRequestStateMessage())
	env.Source = ReplierFunc(replies.Post)
	m.handle(ctx, env)

	require.Len(t, replies.posts, 1)
	assert.Equal(t, basketOrigin, replies.posts[0].target)
	snapshot, err := replies.posts[0].msg.Snapshot()
	require.NoError(t, err)
	require.Len(t, snapshot.Items, 1)
	assert.Equal(t, 1, snapshot.TotalItems)

	// Without a reply channel the answer goes through the transport
	m.handle(ctx, envelope(t, basketOrigin, NewRequestStateMessage()))
	assert.Contains(t, tr.kinds(), KindSnapshot)
}

func TestMessenger_RequestStateOnStart(t *testing.T) {
	ctx := context.Background()
	host := newWindow(t, storage.NewInMemoryStore(), shared.RoleHost.StorageKey())
	remote := newWindow(t, storage.NewInMemoryStore(), shared.RoleBasket.StorageKey())
	require.NoError(t, host.store.Add(ctx, lamp()))
	require.NoError(t, host.store.Add(ctx, lamp()))

	hostEnd, remoteEnd := NewPipe(hostOrigin, basketOrigin)
	a := host.messenger(t, hostEnd, hostOrigin, Config{Counterpart: shared.RoleBasket})
	require.NoError(t, a.Start(ctx))
	b := remote.messenger(t, remoteEnd, basketOrigin, Config{
		Counterpart:         shared.RoleHost,
		Embedded:            true,
		RequestStateOnStart: true,
	})
	require.NoError(t, b.Start(ctx))

	require.Eventually(t, func() bool { return remote.store.QuantityOf(7) == 2 }, waitFor, tick)
	assert.Equal(t, 2, host.store.QuantityOf(7), "snapshot must not duplicate on the sender")
}

func TestMessenger_RequestStateRetriedOnFirstConnect(t *testing.T) {
	ctx := context.Background()
	w := newWindow(t, storage.NewInMemoryStore(), shared.RoleBasket.StorageKey())
	var mu sync.Mutex
	connected := false
	tr := &fakeTransport{fail: func(int, Message) error {
		mu.Lock()
		defer mu.Unlock()
		if !connected {
			return ErrCounterpartUnavailable
		}
		return nil
	}}
	m := w.messenger(t, tr, basketOrigin, Config{
		Counterpart:         shared.RoleHost,
		Embedded:            true,
		RequestStateOnStart: true,
	})
	require.NoError(t, m.Start(ctx))
	assert.Empty(t, tr.kinds())

	mu.Lock()
	connected = true
	mu.Unlock()
	tr.connect()
	assert.Equal(t, []Kind{KindReady, KindRequestState}, tr.kinds())

	// Once a snapshot has arrived, reconnects only re-announce
	snapshot, err := NewSnapshotMessage([]basket.LineItem{{Product: lamp(), Quantity: 2}})
	require.NoError(t, err)
	m.handle(ctx, envelope(t, hostOrigin, snapshot))
	assert.Equal(t, 2, w.store.QuantityOf(7))

	tr.reset()
	tr.connect()
	assert.Equal(t, []Kind{KindReady}, tr.kinds())
}

func TestMessenger_HostRelaysBetweenRemotes(t *testing.T) {
	ctx := context.Background()
	host := newWindow(t, storage.NewInMemoryStore(), shared.RoleHost.StorageKey())
	products := newWindow(t, storage.NewInMemoryStore(), shared.RoleProducts.StorageKey())
	remote := newWindow(t, storage.NewInMemoryStore(), shared.RoleBasket.StorageKey())

	hostToProducts, productsEnd := NewPipe(hostOrigin, productsOrigin)
	hostToBasket, basketEnd := NewPipe(hostOrigin, basketOrigin)

	// Both host messengers share one store and pending queues keyed per
	// counterpart
	hp := NewMessenger(host.store, hostToProducts, devAllowlist(t, hostOrigin), mustPending(t, host.kv, "host:products"),
		Config{ID: "host-products", Counterpart: shared.RoleProducts, Relay: true}, nil)
	hb := NewMessenger(host.store, hostToBasket, devAllowlist(t, hostOrigin), mustPending(t, host.kv, "host:basket"),
		Config{ID: "host-basket", Counterpart: shared.RoleBasket, Relay: true}, nil)
	t.Cleanup(func() { _ = hp.Close(); _ = hb.Close() })
	require.NoError(t, hp.Start(ctx))
	require.NoError(t, hb.Start(ctx))

	p := products.messenger(t, productsEnd, productsOrigin, Config{ID: "products", Counterpart: shared.RoleHost, Embedded: true})
	b := remote.messenger(t, basketEnd, basketOrigin, Config{ID: "basket", Counterpart: shared.RoleHost, Embedded: true})
	require.NoError(t, p.Start(ctx))
	require.NoError(t, b.Start(ctx))
	require.Eventually(t, func() bool {
		return p.State() == StateActive && b.State() == StateActive
	}, waitFor, tick)

	require.NoError(t, products.store.Add(ctx, lamp()))
	require.Eventually(t, func() bool {
		return host.store.QuantityOf(7) == 1 && remote.store.QuantityOf(7) == 1
	}, waitFor, tick)

	remote.store.SetQuantity(ctx, 7, 5)
	require.Eventually(t, func() bool {
		return host.store.QuantityOf(7) == 5 && products.store.QuantityOf(7) == 5
	}, waitFor, tick)

	// No message loops: counts settle
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 5, products.store.QuantityOf(7))
	assert.Equal(t, 5, remote.store.QuantityOf(7))
	assert.Equal(t, 5, host.store.QuantityOf(7))
	assert.Equal(t, 1, len(host.store.Items()))
}

func mustPending(t *testing.T, kv *storage.InMemoryStore, key string) *PendingQueue {
	t.Helper()
	q, err := NewPendingQueue(context.Background(), kv, key+PendingKeySuffix, nil)
	require.NoError(t, err)
	return q
}

func TestMessenger_NoRelayWithoutRelayFlag(t *testing.T) {
	ctx := context.Background()
	w := newWindow(t, storage.NewInMemoryStore(), shared.RoleBasket.StorageKey())
	tr := &fakeTransport{}
	m := w.messenger(t, tr, basketOrigin, Config{Counterpart: shared.RoleHost})
	require.NoError(t, m.Start(ctx))
	m.handle(ctx, envelope(t, hostOrigin, NewReadyMessage()))
	tr.reset()

	w.store.ApplyRemote(ctx, basket.AddMutation(lamp()), "some-other-messenger")
	assert.Empty(t, tr.kinds())
	assert.Equal(t, 1, w.store.QuantityOf(7))
}

func TestMessenger_CountsMalformedMessages(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	w := newWindow(t, storage.NewInMemoryStore(), shared.RoleHost.StorageKey())
	m := NewMessenger(w.store, &fakeTransport{}, devAllowlist(t, hostOrigin), w.pending,
		Config{Counterpart: shared.RoleBasket}, zap.New(core))
	require.NoError(t, m.Start(ctx))

	for _, data := range []string{
		`not json`,
		`{"payload":{}}`,
		`{"kind":"TELEPORT"}`,
		`{"kind":"ADD","payload":{"id":-1,"price":1}}`,
		`{"kind":"REMOVE"}`,
	} {
		m.handle(ctx, Envelope{Data: []byte(data), Origin: basketOrigin})
	}

	assert.Equal(t, uint64(5), m.Stats().Malformed)
	assert.Empty(t, w.store.Items())
	assert.Equal(t, 3, logs.FilterMessage("Ignoring malformed message").Len())
	assert.Equal(t, 2, logs.FilterMessage("Ignoring message with invalid payload").Len())
}

func TestMessenger_SetQuantityWithoutQuantityKeepsItem(t *testing.T) {
	ctx := context.Background()
	w := newWindow(t, storage.NewInMemoryStore(), shared.RoleBasket.StorageKey())
	m := w.messenger(t, &fakeTransport{}, basketOrigin, Config{Counterpart: shared.RoleHost, Embedded: true})
	require.NoError(t, m.Start(ctx))
	require.NoError(t, w.store.Add(ctx, lamp()))

	m.handle(ctx, Envelope{Data: []byte(`{"kind":"SET_QUANTITY","payload":{"id":7}}`), Origin: hostOrigin})
	m.handle(ctx, Envelope{Data: []byte(`{"type":"UPDATE_QUANTITY","payload":{"id":7,"quantity":null}}`), Origin: hostOrigin})

	assert.Equal(t, 1, w.store.QuantityOf(7))
	assert.Equal(t, uint64(2), m.Stats().Malformed)
}

func TestMessenger_AcceptsLegacyMessages(t *testing.T) {
	ctx := context.Background()
	w := newWindow(t, storage.NewInMemoryStore(), shared.RoleBasket.StorageKey())
	m := w.messenger(t, &fakeTransport{}, basketOrigin, Config{Counterpart: shared.RoleHost, Embedded: true})
	require.NoError(t, m.Start(ctx))

	m.handle(ctx, Envelope{Data: []byte(`{"type":"ADD_TO_BASKET","payload":{"id":7,"title":"Lamp","price":19.99}}`), Origin: hostOrigin})
	m.handle(ctx, Envelope{Data: []byte(`{"type":"UPDATE_QUANTITY","payload":{"id":7,"quantity":4}}`), Origin: hostOrigin})
	assert.Equal(t, 4, w.store.QuantityOf(7))

	m.handle(ctx, Envelope{Data: []byte(`{"type":"REMOVE_FROM_BASKET","payload":"7"}`), Origin: hostOrigin})
	assert.False(t, w.store.Contains(7))
}

func TestMessenger_PendingSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewInMemoryStore()
	key := shared.RoleHost.StorageKey()

	first := newWindow(t, kv, key)
	m := NewMessenger(first.store, &fakeTransport{}, devAllowlist(t, hostOrigin), first.pending,
		Config{Counterpart: shared.RoleBasket}, nil)
	require.NoError(t, m.Start(ctx))
	require.NoError(t, first.store.Add(ctx, lamp()))
	first.store.SetQuantity(ctx, 7, 2)
	require.NoError(t, m.Close())

	second := newWindow(t, kv, key)
	assert.Equal(t, 2, second.pending.Len())
	assert.Equal(t, 2, second.store.QuantityOf(7))

	tr := &fakeTransport{}
	restarted := second.messenger(t, tr, hostOrigin, Config{Counterpart: shared.RoleBasket})
	require.NoError(t, restarted.Start(ctx))
	restarted.handle(ctx, envelope(t, basketOrigin, NewReadyMessage()))
	assert.Equal(t, []Kind{KindAdd, KindSetQuantity, KindReady}, tr.kinds())
	assert.Equal(t, 0, second.pending.Len())
}

func TestMessenger_EmbeddedAnnouncesOnStartAndReconnect(t *testing.T) {
	ctx := context.Background()
	w := newWindow(t, storage.NewInMemoryStore(), shared.RoleBasket.StorageKey())
	tr := &fakeTransport{}
	m := w.messenger(t, tr, basketOrigin, Config{Counterpart: shared.RoleHost, Embedded: true})
	require.NoError(t, m.Start(ctx))
	assert.Equal(t, []Kind{KindReady}, tr.kinds())
	assert.Equal(t, hostOrigin, m.TargetOrigin())

	// READY from the parent does not trigger a reply on the embedded side
	m.handle(ctx, envelope(t, hostOrigin, NewReadyMessage()))
	assert.Equal(t, []Kind{KindReady}, tr.kinds())

	// A reconnect resets readiness until the parent answers again
	tr.connect()
	assert.Equal(t, []Kind{KindReady, KindReady}, tr.kinds())
	w.store.Clear(ctx)
	require.NoError(t, w.store.Add(ctx, lamp()))
	assert.Equal(t, 1, w.pending.Len())
}

func TestMessenger_WildcardTargetWhenCounterpartUnknown(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	allowlist, _, err := origin.Resolve(origin.Params{SelfURL: basketOrigin})
	require.NoError(t, err)

	w := newWindow(t, storage.NewInMemoryStore(), shared.RoleBasket.StorageKey())
	m := NewMessenger(w.store, &fakeTransport{}, allowlist, w.pending,
		Config{Counterpart: shared.RoleHost, Embedded: true}, zap.New(core))
	require.NoError(t, m.Start(ctx))
	defer m.Close()

	assert.Equal(t, WildcardOrigin, m.TargetOrigin())
	assert.Equal(t, 1, logs.FilterMessage("Counterpart origin unresolved, falling back to wildcard target").Len())
}

func TestMessenger_Close(t *testing.T) {
	ctx := context.Background()
	w := newWindow(t, storage.NewInMemoryStore(), shared.RoleHost.StorageKey())
	tr := &fakeTransport{}
	m := NewMessenger(w.store, tr, devAllowlist(t, hostOrigin), w.pending, Config{Counterpart: shared.RoleBasket}, nil)
	require.NoError(t, m.Start(ctx))
	assert.Error(t, m.Start(ctx), "second start must fail")

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, StateClosed, m.State())
	assert.True(t, tr.closed)

	require.NoError(t, w.store.Add(ctx, lamp()))
	assert.Equal(t, 0, w.pending.Len(), "closed messenger stops forwarding")

	m.handle(ctx, envelope(t, basketOrigin, NewClearMessage()))
	assert.Equal(t, 1, w.store.QuantityOf(7))
	assert.Equal(t, uint64(0), m.Stats().Received)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_ready", StateAwaitingReady.String())
	assert.Equal(t, "state(9)", State(9).String())
}
