package config

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	// Server
	Port           int    `mapstructure:"PORT"`
	Env            string `mapstructure:"APP_ENV"` // development | production
	CORSOrigin     string `mapstructure:"CORS_ORIGIN"`
	RunMigrations  bool   `mapstructure:"RUN_MIGRATIONS"`
	TenantID       string `mapstructure:"TENANT_ID"`
	LowStockLimit  int    `mapstructure:"LOW_STOCK_THRESHOLD"`
	WorkerPoolSize int    `mapstructure:"WORKER_POOL_SIZE"`
	SyncMaxRetries int    `mapstructure:"SYNC_MAX_ATTEMPTS"`

	// Database
	DBHost        string `mapstructure:"DB_HOST"`
	DBPort        int    `mapstructure:"DB_PORT"`
	DBUser        string `mapstructure:"DB_USER"`
	DBPassword    string `mapstructure:"DB_PASSWORD"`
	DBName        string `mapstructure:"DB_NAME"`
	DBReadOnlyDSN string `mapstructure:"DB_DSN_READONLY"`
	RedisURL      string `mapstructure:"REDIS_URL"`

	// Auth
	JWTSecret          string `mapstructure:"JWT_SECRET"`
	JWTExpirationHours int    `mapstructure:"JWT_EXPIRATION_HOURS"`

	// Mercado Libre
	MLAppID        string `mapstructure:"MERCADO_LIBRE_APP_ID"`
	MLClientSecret string `mapstructure:"MERCADO_LIBRE_CLIENT_SECRET"`
	MLRedirectURI  string `mapstructure:"MERCADO_LIBRE_REDIRECT_URI"`
	MLAPIURL       string `mapstructure:"MERCADO_LIBRE_API_URL"`
	MLAuthURL      string `mapstructure:"MERCADO_LIBRE_AUTH_URL"`

	// Tienda Nube
	TNAppID        string `mapstructure:"TIENDA_NUBE_APP_ID"`
	TNClientSecret string `mapstructure:"TIENDA_NUBE_CLIENT_SECRET"`
	TNRedirectURI  string `mapstructure:"TIENDA_NUBE_REDIRECT_URI"`
	TNUserAgent    string `mapstructure:"TIENDA_NUBE_USER_AGENT"`
	TNAPIURL       string `mapstructure:"TIENDA_NUBE_API_URL"`
	TNAuthURL      string `mapstructure:"TIENDA_NUBE_AUTH_URL"`

	// Assistant
	GeminiAPIKey string `mapstructure:"GEMINI_API_KEY"`
	GeminiModel  string `mapstructure:"GEMINI_MODEL"`
}

// keys lists every variable Unmarshal should see even when it is only set in
// the environment. viper's AutomaticEnv does not expose unknown keys to
// Unmarshal, so each one gets bound explicitly.
var keys = []string{
	"PORT", "APP_ENV", "CORS_ORIGIN", "RUN_MIGRATIONS", "TENANT_ID", "LOW_STOCK_THRESHOLD",
	"WORKER_POOL_SIZE", "SYNC_MAX_ATTEMPTS",
	"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_DSN_READONLY", "REDIS_URL",
	"JWT_SECRET", "JWT_EXPIRATION_HOURS",
	"MERCADO_LIBRE_APP_ID", "MERCADO_LIBRE_CLIENT_SECRET", "MERCADO_LIBRE_REDIRECT_URI",
	"MERCADO_LIBRE_API_URL", "MERCADO_LIBRE_AUTH_URL",
	"TIENDA_NUBE_APP_ID", "TIENDA_NUBE_CLIENT_SECRET", "TIENDA_NUBE_REDIRECT_URI",
	"TIENDA_NUBE_USER_AGENT", "TIENDA_NUBE_API_URL", "TIENDA_NUBE_AUTH_URL",
	"GEMINI_API_KEY", "GEMINI_MODEL",
}

// Load reads configuration from environment variables (and optional .env file).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	v.SetDefault("PORT", 3000)
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("CORS_ORIGIN", "http://localhost:5173")
	v.SetDefault("RUN_MIGRATIONS", true)
	v.SetDefault("TENANT_ID", "default")
	v.SetDefault("LOW_STOCK_THRESHOLD", 5)
	v.SetDefault("WORKER_POOL_SIZE", 3)
	v.SetDefault("SYNC_MAX_ATTEMPTS", 3)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 3306)
	v.SetDefault("DB_USER", "root")
	v.SetDefault("DB_NAME", "lupohub")
	v.SetDefault("JWT_EXPIRATION_HOURS", 2)
	v.SetDefault("MERCADO_LIBRE_API_URL", "https://api.mercadolibre.com")
	v.SetDefault("MERCADO_LIBRE_AUTH_URL", "https://auth.mercadolibre.com.ar")
	v.SetDefault("TIENDA_NUBE_API_URL", "https://api.tiendanube.com/v1")
	v.SetDefault("TIENDA_NUBE_AUTH_URL", "https://www.tiendanube.com")
	v.SetDefault("TIENDA_NUBE_USER_AGENT", "LupoHub (soporte@lupohub.com)")
	v.SetDefault("GEMINI_MODEL", "gemini-1.5-flash")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Optional .env file for local development, missing file is fine
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("config: JWT_SECRET is required")
	}
	return cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// JWTTTL is the lifetime of issued access tokens.
func (c *Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTExpirationHours) * time.Hour
}

// MySQL builds the driver config for the primary pool.
func (c *Config) MySQL() *mysql.Config {
	m := mysql.NewConfig()
	m.User = c.DBUser
	m.Passwd = c.DBPassword
	m.Net = "tcp"
	m.Addr = fmt.Sprintf("%s:%d", c.DBHost, c.DBPort)
	m.DBName = c.DBName
	m.ParseTime = true
	m.Loc = time.UTC
	return m
}

// DSN is the primary connection string.
func (c *Config) DSN() string {
	return c.MySQL().FormatDSN()
}

// MigrationDSN enables multi statements, which migration files need.
func (c *Config) MigrationDSN() string {
	m := c.MySQL()
	m.MultiStatements = true
	return m.FormatDSN()
}
