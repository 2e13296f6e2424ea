package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mfshop/storefront/internal/application/selection"
	"github.com/mfshop/storefront/internal/domain/shared"
	"github.com/mfshop/storefront/internal/infrastructure/messaging"
	"github.com/mfshop/storefront/internal/infrastructure/productfeed"
	"github.com/mfshop/storefront/internal/infrastructure/storage"
	"github.com/mfshop/storefront/internal/interfaces/http/handler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type noOrigins struct{}

func (noOrigins) Origins() []string { return nil }

func TestNewRouter(t *testing.T) {
	r := NewRouter(gin.New(), Handlers{})
	assert.Equal(t, "v1", r.apiVersion)
	assert.Empty(t, r.registrars)

	r = NewRouter(gin.New(), Handlers{}, WithAPIVersion("v2"))
	assert.Equal(t, "v2", r.apiVersion)

	r = NewRouter(gin.New(), Handlers{}, WithAPIVersion(""))
	assert.Equal(t, "v1", r.apiVersion)
}

func TestDomainGroup(t *testing.T) {
	engine := gin.New()
	var seen []string
	group := NewDomainGroup("/test").
		Use(func(c *gin.Context) { seen = append(seen, "mw") }).
		GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	NewRouter(engine, Handlers{}).Register(group).Setup()

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/test/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
	assert.Equal(t, []string{"mw"}, seen)
}

func TestRouterSetup_StorefrontRoutes(t *testing.T) {
	store, err := selection.NewStore(context.Background(), storage.NewInMemoryStore(), nil)
	require.NoError(t, err)
	money, err := handler.NewMoneyFormatter("tr-TR", "USD")
	require.NoError(t, err)

	engine := gin.New()
	NewRouter(engine, Handlers{
		Health:    handler.NewHealthHandler("storefront", shared.RoleProducts, true, noOrigins{}),
		Basket:    handler.NewBasketHandler(store, money),
		Selection: handler.NewSelectionHandler(store, productfeed.NewStaticReader(nil)),
		WebSocket: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) }),
	}).Setup()

	tests := []struct {
		method string
		path   string
		status int
	}{
		{"GET", "/api/health", http.StatusOK},
		{"GET", "/api/v1/basket", http.StatusOK},
		{"DELETE", "/api/v1/basket", http.StatusOK},
		{"DELETE", "/api/v1/basket/items/1", http.StatusOK},
		{"GET", "/api/v1/selection", http.StatusOK},
		{"POST", "/api/v1/selection/filters/reset", http.StatusOK},
		{"GET", messaging.WebSocketPath, http.StatusTeapot},
		{"GET", "/api/v1/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRouterSetup_WithoutSelection(t *testing.T) {
	engine := gin.New()
	NewRouter(engine, Handlers{}).Setup()

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/selection", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouterSetup_GroupMiddlewareAndVersion(t *testing.T) {
	store, err := selection.NewStore(context.Background(), storage.NewInMemoryStore(), nil)
	require.NoError(t, err)
	money, err := handler.NewMoneyFormatter("tr-TR", "USD")
	require.NoError(t, err)

	engine := gin.New()
	NewRouter(engine, Handlers{
		Health:    handler.NewHealthHandler("storefront", shared.RoleProducts, true, noOrigins{}),
		Basket:    handler.NewBasketHandler(store, money),
		Selection: handler.NewSelectionHandler(store, productfeed.NewStaticReader(nil)),
	},
		WithAPIVersion("v2"),
		WithGroupMiddleware(func(c *gin.Context) { c.AbortWithStatus(http.StatusForbidden) }),
	).Setup()

	tests := []struct {
		method string
		path   string
		status int
	}{
		{"GET", "/api/health", http.StatusOK},
		{"GET", "/api/v2/basket", http.StatusForbidden},
		{"GET", "/api/v2/selection", http.StatusForbidden},
		{"GET", "/api/v1/basket", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
