// Package router mounts the storefront handlers on a gin engine.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mfshop/storefront/internal/infrastructure/messaging"
	"github.com/mfshop/storefront/internal/interfaces/http/handler"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Handlers are the handlers the router mounts. Selection and WebSocket are
// optional.
type Handlers struct {
	Health    *handler.HealthHandler
	Basket    *handler.BasketHandler
	Selection *handler.SelectionHandler
	WebSocket http.Handler
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	handlers   Handlers
	registrars []RouteRegistrar
	// groupMiddleware runs on every storefront group, not on health or /ws
	groupMiddleware []gin.HandlerFunc
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		if version != "" {
			r.apiVersion = version
		}
	}
}

// WithGroupMiddleware adds middleware to the basket and selection groups
func WithGroupMiddleware(middleware ...gin.HandlerFunc) RouterOption {
	return func(r *Router) {
		r.groupMiddleware = append(r.groupMiddleware, middleware...)
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, handlers Handlers, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
		handlers:   handlers,
		registrars: make([]RouteRegistrar, 0),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	if r.handlers.Health != nil {
		r.engine.GET("/api/health", r.handlers.Health.Get)
	}
	if r.handlers.WebSocket != nil {
		r.engine.GET(messaging.WebSocketPath, gin.WrapH(r.handlers.WebSocket))
	}

	if b := r.handlers.Basket; b != nil {
		r.Register(NewDomainGroup("/basket").
			Use(r.groupMiddleware...).
			GET("", b.Get).
			DELETE("", b.Clear).
			POST("/items", b.AddItem).
			DELETE("/items/:id", b.RemoveItem).
			PUT("/items/:id/quantity", b.SetQuantity))
	}
	if s := r.handlers.Selection; s != nil {
		r.Register(NewDomainGroup("/selection").
			Use(r.groupMiddleware...).
			GET("", s.Get).
			PUT("/filters", s.SetFilters).
			POST("/filters/reset", s.ResetFilters).
			PUT("/ui", s.UpdateUI))
	}

	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// DomainGroup creates a route group for a specific domain
type DomainGroup struct {
	prefix     string
	routes     []routeDefinition
	middleware []gin.HandlerFunc
}

type routeDefinition struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewDomainGroup creates a route group mounted under prefix
func NewDomainGroup(prefix string) *DomainGroup {
	return &DomainGroup{prefix: prefix}
}

// Use adds middleware to this group
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

func (dg *DomainGroup) handle(method, path string, handlers []gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{method: method, path: path, handlers: handlers})
	return dg
}

// GET registers a GET route
func (dg *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodGet, path, handlers)
}

// POST registers a POST route
func (dg *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodPost, path, handlers)
}

// PUT registers a PUT route
func (dg *DomainGroup) PUT(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodPut, path, handlers)
}

// DELETE registers a DELETE route
func (dg *DomainGroup) DELETE(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodDelete, path, handlers)
}

// RegisterRoutes implements RouteRegistrar interface
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix)
	if len(dg.middleware) > 0 {
		group.Use(dg.middleware...)
	}
	for _, route := range dg.routes {
		group.Handle(route.method, route.path, route.handlers...)
	}
}
