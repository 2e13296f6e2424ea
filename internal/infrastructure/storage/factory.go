package storage

import (
	"context"
	"fmt"

	"github.com/mfshop/storefront/internal/domain/shared"
	"github.com/mfshop/storefront/internal/infrastructure/config"
	"github.com/mfshop/storefront/internal/infrastructure/logger"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Supported storage drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Factory creates key/value stores based on configuration
type Factory struct {
	storage               config.StorageConfig
	database              config.DatabaseConfig
	redis                 config.RedisConfig
	logger                *zap.Logger
	gormLogLevel          string
	allowInMemoryFallback bool
}

// FactoryOption is a functional option for configuring the factory
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory and the stores it opens
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithGormLogLevel sets the SQL log level (silent, error, warn, info)
func WithGormLogLevel(level string) FactoryOption {
	return func(f *Factory) {
		f.gormLogLevel = level
	}
}

// WithInMemoryFallback controls whether to fall back to an in-memory store
// when the configured backend cannot be reached. Default is false.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) {
		f.allowInMemoryFallback = allow
	}
}

// NewFactory creates a new factory
func NewFactory(cfg *config.Config, opts ...FactoryOption) *Factory {
	f := &Factory{
		storage:      cfg.Storage,
		database:     cfg.Database,
		redis:        cfg.Redis,
		logger:       zap.NewNop(),
		gormLogLevel: "warn",
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Create opens the store selected by the storage driver
func (f *Factory) Create(ctx context.Context) (shared.KeyValueStore, error) {
	var (
		store shared.KeyValueStore
		err   error
	)

	switch f.storage.Driver {
	case DriverMemory:
		f.logger.Warn("Using in-memory storage; baskets will not survive a restart")
		return NewInMemoryStore(), nil
	case DriverSQLite:
		store, err = f.createSQLite()
	case DriverPostgres:
		store, err = f.createPostgres()
	case DriverRedis:
		store, err = f.createRedis()
	default:
		return nil, fmt.Errorf("unknown storage driver %q", f.storage.Driver)
	}

	if err != nil {
		if !f.allowInMemoryFallback {
			return nil, err
		}
		f.logger.Warn("Storage backend unavailable, falling back to in-memory store",
			zap.String("driver", f.storage.Driver),
			zap.Error(err),
		)
		return NewInMemoryStore(), nil
	}

	f.logger.Info("Storage opened", zap.String("driver", f.storage.Driver))
	return store, nil
}

// gormConfig attaches the zap-backed SQL logger. Get looks keys up with
// First, so a key that was never written is not an error.
func (f *Factory) gormConfig() *gorm.Config {
	opts := []logger.GormLoggerOption{logger.WithIgnoreRecordNotFoundError(true)}
	if f.storage.SlowQueryThreshold > 0 {
		opts = append(opts, logger.WithSlowThreshold(f.storage.SlowQueryThreshold))
	}
	return &gorm.Config{
		Logger: logger.NewGormLogger(f.logger, logger.MapGormLogLevel(f.gormLogLevel), opts...),
	}
}

func (f *Factory) createSQLite() (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(f.storage.SQLitePath), f.gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %q: %w", f.storage.SQLitePath, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	// SQLite allows a single writer
	sqlDB.SetMaxOpenConns(1)

	return NewGormStore(db)
}

func (f *Factory) createPostgres() (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(f.database.DSN()), f.gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewGormStore(db)
}

func (f *Factory) createRedis() (*RedisStore, error) {
	store, err := NewRedisStore(RedisConfig{
		Host:     f.redis.Host,
		Port:     f.redis.Port,
		Password: f.redis.Password,
		DB:       f.redis.DB,
	}, f.storage.KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis store: %w", err)
	}
	return store, nil
}
