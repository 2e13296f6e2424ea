package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	appbasket "github.com/mfshop/storefront/internal/application/basket"
	"github.com/mfshop/storefront/internal/domain/shared"
	"github.com/mfshop/storefront/internal/infrastructure/logger"
	"github.com/mfshop/storefront/internal/infrastructure/messaging"
	"github.com/mfshop/storefront/internal/infrastructure/origin"
	"github.com/mfshop/storefront/internal/infrastructure/storage"
	"github.com/mfshop/storefront/internal/interfaces/http/dto"
	"github.com/mfshop/storefront/internal/interfaces/http/handler"
	"github.com/mfshop/storefront/internal/interfaces/http/middleware"
	"github.com/mfshop/storefront/internal/interfaces/http/router"
	"github.com/mfshop/storefront/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const syncTimeout = 5 * time.Second

// swappableHandler answers 503 until an engine is installed, which lets the
// servers exist (and their URLs be known) before the applications are built
type swappableHandler struct {
	h atomic.Pointer[http.Handler]
}

func (s *swappableHandler) set(h http.Handler) { s.h.Store(&h) }

func (s *swappableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := s.h.Load()
	if h == nil {
		http.Error(w, "starting", http.StatusServiceUnavailable)
		return
	}
	(*h).ServeHTTP(w, r)
}

// storefrontApp is one running application
type storefrontApp struct {
	role       shared.AppRole
	server     *httptest.Server
	handler    *swappableHandler
	kv         *storage.InMemoryStore
	store      *appbasket.Store
	messengers []*messaging.Messenger
	hub        *messaging.WebSocketHub
	client     *messaging.WebSocketClient
	engine     *gin.Engine
}

type storefront struct {
	urls map[shared.AppRole]string
	apps map[shared.AppRole]*storefrontApp
	log  *zap.Logger
	// requestState makes embedded applications ask the host for a snapshot
	requestState bool
}

// newStorefront starts one server per application. Applications are not
// built until start is called for them.
func newStorefront(t *testing.T) *storefront {
	t.Helper()

	sf := &storefront{
		urls: make(map[shared.AppRole]string),
		apps: make(map[shared.AppRole]*storefrontApp),
		log:  zap.NewNop(),
	}
	for _, role := range shared.Roles {
		h := &swappableHandler{}
		server := httptest.NewServer(h)
		t.Cleanup(server.Close)
		sf.urls[role] = server.URL
		sf.apps[role] = &storefrontApp{role: role, server: server, handler: h, kv: storage.NewInMemoryStore()}
	}
	return sf
}

// start builds the application for role and installs it on its server
func (sf *storefront) start(t *testing.T, role shared.AppRole) *storefrontApp {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	app := sf.apps[role]
	log := sf.log.With(zap.String("role", string(role)))
	embedded := role != shared.RoleHost
	parent := ""
	if embedded {
		parent = sf.urls[shared.RoleHost]
	}

	allowlist, warnings, err := origin.Resolve(origin.Params{
		SelfURL:     app.server.URL,
		Development: sf.urls,
		ParentURL:   parent,
	})
	require.NoError(t, err)
	require.Empty(t, warnings)

	app.store, err = appbasket.NewStore(ctx, app.kv, role.StorageKey(), appbasket.WithLogger(log))
	require.NoError(t, err)

	if embedded {
		wsURL, err := messaging.WebSocketURL(parent)
		require.NoError(t, err)
		app.client = messaging.NewWebSocketClient(messaging.WebSocketClientConfig{
			URL:          wsURL,
			Origin:       allowlist.Self(),
			PeerOrigin:   allowlist.CounterpartOrigin(shared.RoleHost),
			MinBackoff:   10 * time.Millisecond,
			MaxBackoff:   50 * time.Millisecond,
			WriteTimeout: time.Second,
		}, log)
		pending, err := messaging.NewPendingQueue(ctx, app.kv, role.StorageKey()+":pending", log)
		require.NoError(t, err)
		app.messengers = append(app.messengers, messaging.NewMessenger(app.store, app.client, allowlist, pending,
			messaging.Config{Counterpart: shared.RoleHost, Embedded: true, RequestStateOnStart: sf.requestState}, log))
	} else {
		app.hub = messaging.NewWebSocketHub(allowlist, time.Second, log)
		for _, counterpart := range role.Counterparts() {
			link, err := app.hub.Link(allowlist.CounterpartOrigin(counterpart))
			require.NoError(t, err)
			pending, err := messaging.NewPendingQueue(ctx, app.kv, role.StorageKey()+":"+string(counterpart)+":pending", log)
			require.NoError(t, err)
			app.messengers = append(app.messengers, messaging.NewMessenger(app.store, link, allowlist, pending,
				messaging.Config{Counterpart: counterpart, Relay: true}, log))
		}
	}

	statuses := make([]handler.MessengerStatus, 0, len(app.messengers))
	for _, m := range app.messengers {
		require.NoError(t, m.Start(ctx))
		statuses = append(statuses, m)
		t.Cleanup(func() { _ = m.Close() })
	}
	if app.client != nil {
		go app.client.Run(ctx)
	}

	money, err := handler.NewMoneyFormatter("en-US", "USD")
	require.NoError(t, err)

	app.engine = gin.New()
	app.engine.Use(middleware.RequestID())
	app.engine.Use(logger.Recovery(log))
	app.engine.Use(middleware.CORS(allowlist, middleware.DefaultCORSConfig()))
	handlers := router.Handlers{
		Health: handler.NewHealthHandler("storefront", role, embedded, allowlist, statuses...),
		Basket: handler.NewBasketHandler(app.store, money),
	}
	if app.hub != nil {
		handlers.WebSocket = app.hub
	}
	router.NewRouter(app.engine, handlers,
		router.WithGroupMiddleware(middleware.TrustedOrigin(allowlist)),
	).Setup()
	app.handler.set(app.engine)
	return app
}

func (a *storefrontApp) active() bool {
	for _, m := range a.messengers {
		if m.State() != messaging.StateActive {
			return false
		}
	}
	return true
}

func (a *storefrontApp) basket(t *testing.T) handler.BasketResponse {
	t.Helper()
	w := testutil.Do(t, a.engine, testutil.Request{Path: "/api/v1/basket"})
	return testutil.AssertSuccessResponse[handler.BasketResponse](t, w, http.StatusOK)
}

func (a *storefrontApp) quantityOf(id int64) int {
	for _, li := range a.store.Items() {
		if int64(li.ID) == id {
			return li.Quantity
		}
	}
	return 0
}

func (a *storefrontApp) addLamp(t *testing.T) {
	t.Helper()
	w := testutil.Do(t, a.engine, testutil.Request{
		Method: http.MethodPost,
		Path:   "/api/v1/basket/items",
		Body:   map[string]any{"id": 7, "title": "Lamp", "price": "19.99"},
	})
	testutil.AssertSuccessResponse[handler.BasketResponse](t, w, http.StatusCreated)
}

func TestStorefront_BasketFollowsEveryApplication(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	sf := newStorefront(t)
	host := sf.start(t, shared.RoleHost)
	products := sf.start(t, shared.RoleProducts)
	basketApp := sf.start(t, shared.RoleBasket)

	testutil.RequireEventually(t, func() bool {
		return host.active() && products.active() && basketApp.active()
	}, syncTimeout, 10*time.Millisecond, "all messengers become active")

	// Add in the products application; the host relays to the basket
	products.addLamp(t)
	testutil.RequireEventually(t, func() bool {
		return host.quantityOf(7) == 1 && basketApp.quantityOf(7) == 1
	}, syncTimeout, 10*time.Millisecond, "ADD reaches host and basket")
	testutil.AssertNever(t, func() bool {
		return products.quantityOf(7) > 1 || host.quantityOf(7) > 1 || basketApp.quantityOf(7) > 1
	}, 200*time.Millisecond, 10*time.Millisecond, "relayed ADD is never echoed back")

	got := basketApp.basket(t)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Lamp", got.Items[0].Title)
	assert.Equal(t, "$19.99", got.FormattedTotalPrice)

	// Quantity change in the basket application flows back to products
	w := testutil.Do(t, basketApp.engine, testutil.Request{
		Method: http.MethodPut,
		Path:   "/api/v1/basket/items/7/quantity",
		Body:   map[string]int{"quantity": 3},
	})
	testutil.AssertSuccessResponse[handler.BasketResponse](t, w, http.StatusOK)
	testutil.RequireEventually(t, func() bool {
		return host.quantityOf(7) == 3 && products.quantityOf(7) == 3
	}, syncTimeout, 10*time.Millisecond, "SET_QUANTITY reaches host and products")

	// Clearing on the host empties both remotes
	w = testutil.Do(t, host.engine, testutil.Request{Method: http.MethodDelete, Path: "/api/v1/basket"})
	testutil.AssertSuccessResponse[handler.BasketResponse](t, w, http.StatusOK)
	testutil.RequireEventually(t, func() bool {
		return len(products.store.Items()) == 0 && len(basketApp.store.Items()) == 0
	}, syncTimeout, 10*time.Millisecond, "CLEAR reaches both remotes")

	// Every application saw the same traffic and nothing is left queued
	w = testutil.Do(t, host.engine, testutil.Request{Path: "/api/health"})
	health := testutil.AssertSuccessResponse[handler.HealthResponse](t, w, http.StatusOK)
	require.Len(t, health.Messengers, 2)
	for _, m := range health.Messengers {
		assert.Equal(t, "active", m.State)
		assert.Zero(t, m.Stats.Pending)
		assert.Zero(t, m.Stats.RejectedOrigin)
	}
}

func TestStorefront_ChangesMadeBeforeHostStartsAreReplayed(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	sf := newStorefront(t)
	basketApp := sf.start(t, shared.RoleBasket)

	// The host is not up yet, so the change is queued
	basketApp.addLamp(t)
	testutil.RequireEventually(t, func() bool {
		return basketApp.messengers[0].Stats().Pending == 1
	}, syncTimeout, 10*time.Millisecond, "ADD is queued")
	assert.NotEqual(t, messaging.StateActive, basketApp.messengers[0].State())

	host := sf.start(t, shared.RoleHost)
	testutil.RequireEventually(t, func() bool {
		return host.quantityOf(7) == 1
	}, syncTimeout, 10*time.Millisecond, "queued ADD is replayed once the host is ready")
	testutil.RequireEventually(t, func() bool {
		return basketApp.messengers[0].Stats().Pending == 0
	}, syncTimeout, 10*time.Millisecond, "queue drained")

	_, ok, err := basketApp.kv.Get(context.Background(), shared.RoleBasket.StorageKey()+":pending")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorefront_UntrustedOriginIsRefused(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	sf := newStorefront(t)
	observed, logs := testutil.ObservedLogger()
	sf.log = observed
	host := sf.start(t, shared.RoleHost)

	w := testutil.Do(t, host.engine, testutil.Request{
		Path:    messaging.WebSocketPath,
		Headers: map[string]string{"Origin": "https://evil.example"},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	for _, m := range host.messengers {
		assert.Equal(t, messaging.StateAwaitingReady, m.State())
	}
	assert.Equal(t, 1, logs.FilterMessage("Rejected WebSocket handshake from untrusted origin").Len())

	w = testutil.Do(t, host.engine, testutil.Request{
		Method:  http.MethodPost,
		Path:    "/api/v1/basket/items",
		Body:    map[string]any{"id": 7, "title": "Lamp", "price": "19.99"},
		Headers: map[string]string{"Origin": "https://evil.example"},
	})
	testutil.AssertErrorResponse(t, w, http.StatusForbidden, dto.ErrCodeForbidden)
	assert.Empty(t, host.store.Items())

	// A trusted counterpart may write
	w = testutil.Do(t, host.engine, testutil.Request{
		Method:  http.MethodPost,
		Path:    "/api/v1/basket/items",
		Body:    map[string]any{"id": 7, "title": "Lamp", "price": "19.99"},
		Headers: map[string]string{"Origin": sf.urls[shared.RoleProducts]},
	})
	testutil.AssertSuccessResponse[handler.BasketResponse](t, w, http.StatusCreated)
}

func TestStorefront_LateRemoteRequestsHostState(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	sf := newStorefront(t)
	sf.requestState = true

	// The host rehydrates two lamps; nothing is queued for the remote
	hostKV := sf.apps[shared.RoleHost].kv
	require.NoError(t, hostKV.Set(context.Background(), shared.RoleHost.StorageKey(),
		[]byte(`{"version":1,"items":[{"id":7,"title":"Lamp","price":"19.99","quantity":2}]}`)))
	host := sf.start(t, shared.RoleHost)
	require.Equal(t, 2, host.quantityOf(7))

	basketApp := sf.start(t, shared.RoleBasket)
	testutil.RequireEventually(t, func() bool {
		return basketApp.quantityOf(7) == 2
	}, syncTimeout, 10*time.Millisecond, "snapshot reaches the remote once connected")
	assert.Equal(t, 2, host.quantityOf(7))
}
