package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mfshop/storefront/internal/domain/shared"
	"github.com/mfshop/storefront/internal/infrastructure/origin"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App          AppConfig
	Counterparts CounterpartsConfig
	Storage      StorageConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Messaging    MessagingConfig
	Log          LogConfig
	HTTP         HTTPConfig
	Presentation PresentationConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name      string
	Env       string
	Role      shared.AppRole
	Port      string
	PublicURL string // base URL this instance is reachable at; its origin is the window origin
	Embedded  bool   // whether this instance runs inside a parent (the host)
	ParentURL string // base URL of the parent when embedded
}

// CounterpartURLs holds the base URL of every storefront application
type CounterpartURLs struct {
	Host     string
	Products string
	Basket   string
}

// URL returns the configured URL for role
func (c CounterpartURLs) URL(role shared.AppRole) string {
	switch role {
	case shared.RoleHost:
		return c.Host
	case shared.RoleProducts:
		return c.Products
	case shared.RoleBasket:
		return c.Basket
	}
	return ""
}

// Map returns the URLs keyed by role
func (c CounterpartURLs) Map() map[shared.AppRole]string {
	return map[shared.AppRole]string{
		shared.RoleHost:     c.Host,
		shared.RoleProducts: c.Products,
		shared.RoleBasket:   c.Basket,
	}
}

// CounterpartsConfig holds the known application URLs for local development
// and for deployed environments. The set in effect is chosen from the
// hostname of App.PublicURL.
type CounterpartsConfig struct {
	Development CounterpartURLs
	Deployed    CounterpartURLs
}

// StorageConfig selects the durable key/value backend
type StorageConfig struct {
	Driver     string // memory, sqlite, postgres, redis
	SQLitePath string
	KeyPrefix  string
	// SlowQueryThreshold marks SQL queries as slow in the logs
	SlowQueryThreshold time.Duration
}

// DatabaseConfig holds Postgres connection settings for the postgres driver
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN returns the Postgres connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// MessagingConfig holds cross-window messaging settings
type MessagingConfig struct {
	RequestStateOnStart bool          // ask the counterpart for a snapshot after start-up
	Relay               bool          // forward changes received from one counterpart to the others
	DialMinBackoff      time.Duration // first redial delay for embedded instances
	DialMaxBackoff      time.Duration
	WriteTimeout        time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	APIVersion      string // path segment of the versioned API, /api/<version>
}

// PresentationConfig controls how totals are formatted for display
type PresentationConfig struct {
	Locale   string
	Currency string
	// CatalogPath is an optional JSON file with the product list served to
	// the products application's listing
	CatalogPath string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with STOREFRONT_ prefix (e.g., STOREFRONT_APP_ROLE)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:      v.GetString("app.name"),
			Env:       v.GetString("app.env"),
			Role:      shared.AppRole(strings.ToLower(v.GetString("app.role"))),
			Port:      v.GetString("app.port"),
			PublicURL: v.GetString("app.public_url"),
			Embedded:  v.GetBool("app.embedded"),
			ParentURL: v.GetString("app.parent_url"),
		},
		Counterparts: CounterpartsConfig{
			Development: CounterpartURLs{
				Host:     v.GetString("counterparts.development.host"),
				Products: v.GetString("counterparts.development.products"),
				Basket:   v.GetString("counterparts.development.basket"),
			},
			Deployed: CounterpartURLs{
				Host:     v.GetString("counterparts.deployed.host"),
				Products: v.GetString("counterparts.deployed.products"),
				Basket:   v.GetString("counterparts.deployed.basket"),
			},
		},
		Storage: StorageConfig{
			Driver:     strings.ToLower(v.GetString("storage.driver")),
			SQLitePath: v.GetString("storage.sqlite_path"),
			KeyPrefix:  v.GetString("storage.key_prefix"),

			SlowQueryThreshold: v.GetDuration("storage.slow_query_threshold"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Messaging: MessagingConfig{
			RequestStateOnStart: v.GetBool("messaging.request_state_on_start"),
			Relay:               v.GetBool("messaging.relay"),
			DialMinBackoff:      v.GetDuration("messaging.dial_min_backoff"),
			DialMaxBackoff:      v.GetDuration("messaging.dial_max_backoff"),
			WriteTimeout:        v.GetDuration("messaging.write_timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			IdleTimeout:     v.GetDuration("http.idle_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			APIVersion:      v.GetString("http.api_version"),
		},
		Presentation: PresentationConfig{
			Locale:      v.GetString("presentation.locale"),
			Currency:    v.GetString("presentation.currency"),
			CatalogPath: v.GetString("presentation.catalog_path"),
		},
	}

	// The host is the only top-level application; remotes run embedded
	// unless told otherwise.
	if !v.IsSet("app.embedded") {
		cfg.App.Embedded = cfg.App.Role != shared.RoleHost
	}
	// A host relays between its two remotes unless told otherwise.
	if !v.IsSet("messaging.relay") {
		cfg.Messaging.Relay = cfg.App.Role == shared.RoleHost
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "storefront"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Role == "" {
		cfg.App.Role = shared.RoleHost
	}
	if cfg.App.Port == "" {
		cfg.App.Port = defaultPort(cfg.App.Role)
	}
	if cfg.App.PublicURL == "" {
		cfg.App.PublicURL = "http://localhost:" + cfg.App.Port
	}

	// Counterpart defaults mirror the demo deployment
	if cfg.Counterparts.Development.Host == "" {
		cfg.Counterparts.Development.Host = "http://localhost:3000"
	}
	if cfg.Counterparts.Development.Products == "" {
		cfg.Counterparts.Development.Products = "http://localhost:3001"
	}
	if cfg.Counterparts.Development.Basket == "" {
		cfg.Counterparts.Development.Basket = "http://localhost:3002"
	}
	if cfg.Counterparts.Deployed.Host == "" {
		cfg.Counterparts.Deployed.Host = "https://ecommerce-mf-case-study-host.vercel.app"
	}
	if cfg.Counterparts.Deployed.Products == "" {
		cfg.Counterparts.Deployed.Products = "https://ecommerce-mf-case-study-products-re.vercel.app"
	}
	if cfg.Counterparts.Deployed.Basket == "" {
		cfg.Counterparts.Deployed.Basket = "https://ecommerce-mf-case-study-basket-remo.vercel.app"
	}
	if cfg.App.Embedded && cfg.App.ParentURL == "" {
		cfg.App.ParentURL = cfg.Counterparts.ForHost(cfg.App.PublicURL).Host
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = fmt.Sprintf("storefront-%s.db", cfg.App.Role)
	}
	if cfg.Storage.KeyPrefix == "" {
		cfg.Storage.KeyPrefix = "storefront:"
	}
	if cfg.Storage.SlowQueryThreshold == 0 {
		cfg.Storage.SlowQueryThreshold = 200 * time.Millisecond
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "storefront"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	if cfg.Messaging.DialMinBackoff == 0 {
		cfg.Messaging.DialMinBackoff = 500 * time.Millisecond
	}
	if cfg.Messaging.DialMaxBackoff == 0 {
		cfg.Messaging.DialMaxBackoff = 30 * time.Second
	}
	if cfg.Messaging.WriteTimeout == 0 {
		cfg.Messaging.WriteTimeout = 10 * time.Second
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if cfg.HTTP.APIVersion == "" {
		cfg.HTTP.APIVersion = "v1"
	}

	if cfg.Presentation.Locale == "" {
		cfg.Presentation.Locale = "tr-TR"
	}
	if cfg.Presentation.Currency == "" {
		cfg.Presentation.Currency = "USD"
	}
}

func defaultPort(role shared.AppRole) string {
	switch role {
	case shared.RoleProducts:
		return "3001"
	case shared.RoleBasket:
		return "3002"
	default:
		return "3000"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if !c.App.Role.Valid() {
		return fmt.Errorf("app.role must be one of host, products, basket (got %q)", c.App.Role)
	}
	if _, err := url.Parse(c.App.PublicURL); err != nil {
		return fmt.Errorf("app.public_url is not a valid URL: %w", err)
	}
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres", "redis":
	default:
		return fmt.Errorf("storage.driver must be one of memory, sqlite, postgres, redis (got %q)", c.Storage.Driver)
	}
	if c.App.Embedded {
		if err := c.validateParent(); err != nil {
			return err
		}
	}
	if c.Messaging.DialMinBackoff > c.Messaging.DialMaxBackoff {
		return fmt.Errorf("messaging.dial_min_backoff (%s) cannot exceed messaging.dial_max_backoff (%s)",
			c.Messaging.DialMinBackoff, c.Messaging.DialMaxBackoff)
	}

	if c.App.Env == "production" {
		if c.Storage.Driver == "memory" {
			return fmt.Errorf("storage.driver cannot be 'memory' in production")
		}
		for _, role := range shared.Roles {
			u := c.Counterparts.Deployed.URL(role)
			if u == "" || strings.Contains(u, "*") {
				return fmt.Errorf("counterparts.deployed.%s must be a concrete URL in production", role)
			}
		}
	}

	return nil
}

// validateParent checks that the parent of an embedded instance is the host
// origin the allowlist trusts. Messages addressed to any other origin would
// be dropped by the transport.
func (c *Config) validateParent() error {
	if c.App.ParentURL == "" {
		return fmt.Errorf("app.parent_url is required when app.embedded is true")
	}
	parent, err := origin.Normalize(c.App.ParentURL)
	if err != nil {
		return fmt.Errorf("app.parent_url is not a valid URL: %w", err)
	}
	host := c.Counterparts.ForHost(c.App.PublicURL).Host
	if host == "" || strings.Contains(host, "*") {
		return nil
	}
	want, err := origin.Normalize(host)
	if err != nil {
		return fmt.Errorf("host counterpart URL is not valid: %w", err)
	}
	if parent != want {
		return fmt.Errorf("app.parent_url origin %s does not match the host counterpart origin %s", parent, want)
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// ForHost selects the development URLs when publicURL points at a local
// hostname and the deployed URLs otherwise.
func (c CounterpartsConfig) ForHost(publicURL string) CounterpartURLs {
	u, err := url.Parse(publicURL)
	if err != nil {
		return c.Deployed
	}
	if origin.IsLocalHostname(u.Hostname()) {
		return c.Development
	}
	return c.Deployed
}
