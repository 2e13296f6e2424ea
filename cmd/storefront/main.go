package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	appbasket "github.com/mfshop/storefront/internal/application/basket"
	"github.com/mfshop/storefront/internal/application/selection"
	"github.com/mfshop/storefront/internal/domain/catalog"
	"github.com/mfshop/storefront/internal/domain/shared"
	"github.com/mfshop/storefront/internal/infrastructure/config"
	"github.com/mfshop/storefront/internal/infrastructure/logger"
	"github.com/mfshop/storefront/internal/infrastructure/origin"
	"github.com/mfshop/storefront/internal/infrastructure/productfeed"
	"github.com/mfshop/storefront/internal/infrastructure/storage"
	"github.com/mfshop/storefront/internal/interfaces/http/handler"
	"github.com/mfshop/storefront/internal/interfaces/http/middleware"
	"github.com/mfshop/storefront/internal/interfaces/http/router"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.NewForApp(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}, cfg.App.Name, string(cfg.App.Role))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting storefront",
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("public_url", cfg.App.PublicURL),
		zap.Bool("embedded", cfg.App.Embedded),
		zap.String("storage", cfg.Storage.Driver),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	kv, err := storage.NewFactory(cfg,
		storage.WithLogger(log),
		storage.WithGormLogLevel(cfg.Log.Level),
		storage.WithInMemoryFallback(cfg.IsDevelopment()),
	).Create(ctx)
	if err != nil {
		log.Fatal("Failed to open storage", zap.Error(err))
	}
	defer func() {
		if err := kv.Close(); err != nil {
			log.Error("Error closing storage", zap.Error(err))
		}
	}()

	// Trusted origins are resolved once per process
	allowlist, warnings, err := origin.Resolve(origin.Params{
		SelfURL:     cfg.App.PublicURL,
		Development: cfg.Counterparts.Development.Map(),
		Deployed:    cfg.Counterparts.Deployed.Map(),
		ParentURL:   cfg.App.ParentURL,
	})
	if err != nil {
		log.Fatal("Failed to resolve allowed origins", zap.Error(err))
	}
	for _, w := range warnings {
		log.Warn("Skipping counterpart URL", zap.String("reason", w))
	}
	log.Info("Allowed origins resolved",
		zap.Strings("origins", allowlist.Origins()),
		zap.Bool("development", allowlist.Development()),
	)

	// Stores: the products application keeps its selection store, whose
	// line items are what gets synchronised
	var (
		basketStore *appbasket.Store
		selStore    *selection.Store
	)
	if cfg.App.Role == shared.RoleProducts {
		selStore, err = selection.NewStore(ctx, kv, log)
		if err != nil {
			log.Fatal("Failed to load selection store", zap.Error(err))
		}
		basketStore = selStore.Store
	} else {
		basketStore, err = appbasket.NewStore(ctx, kv, cfg.App.Role.StorageKey(), appbasket.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to load basket store", zap.Error(err))
		}
	}
	log.Info("Basket loaded",
		zap.String("storage_key", basketStore.Key()),
		zap.Int("items", basketStore.TotalItemCount()),
	)

	// Cross-application sync
	bridge, err := newSync(ctx, cfg, basketStore, kv, allowlist, log)
	if err != nil {
		log.Fatal("Failed to set up basket sync", zap.Error(err))
	}
	if err := bridge.Start(ctx); err != nil {
		log.Fatal("Failed to start basket sync", zap.Error(err))
	}

	// HTTP
	money, err := handler.NewMoneyFormatter(cfg.Presentation.Locale, cfg.Presentation.Currency)
	if err != nil {
		log.Fatal("Invalid presentation settings", zap.Error(err))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	// Middleware order: request id, recovery, request logging, security
	// headers, body limit, CORS
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.FrameAncestors(allowlist.Origins()))
	engine.Use(middleware.BodyLimit(middleware.DefaultBodyLimit))
	engine.Use(middleware.CORS(allowlist, middleware.DefaultCORSConfig()))

	handlers := router.Handlers{
		Health:    handler.NewHealthHandler(cfg.App.Name, cfg.App.Role, cfg.App.Embedded, allowlist, bridge.Statuses()...),
		Basket:    handler.NewBasketHandler(basketStore, money),
		WebSocket: bridge.WebSocketHandler(),
	}
	if selStore != nil {
		handlers.Selection = handler.NewSelectionHandler(selStore, catalogReader(cfg, log))
	}
	router.NewRouter(engine, handlers,
		router.WithAPIVersion(cfg.HTTP.APIVersion),
		router.WithGroupMiddleware(middleware.TrustedOrigin(allowlist)),
	).Setup()

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	// Stop syncing first so no change is lost between the stores
	bridge.Close()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// catalogReader returns the product source of the listing
func catalogReader(cfg *config.Config, log *zap.Logger) catalog.Reader {
	if cfg.Presentation.CatalogPath == "" {
		log.Warn("No catalog configured, product listing is empty")
		return productfeed.NewStaticReader(nil)
	}
	return productfeed.NewFileReader(cfg.Presentation.CatalogPath)
}
