package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix            = "LEADVAULT"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabaseDrv   = "sqlite"
	defaultDatabasePath  = "leadvault.db"
	defaultLogLevel      = "info"
	defaultTokenTTLMin   = 7 * 24 * 60
	defaultCreatePerMin  = 10
	defaultUpdatePerMin  = 20
	driverSQLite         = "sqlite"
	driverPostgres       = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	DatabaseDriver  string
	DatabasePath    string
	DatabaseDSN     string
	LogLevel        string
	SigningSecret   string
	TokenTTL        time.Duration
	RedisAddr       string
	CreatePerMinute int
	UpdatePerMinute int
}

// UsesPostgres reports whether the postgres driver is selected.
func (c AppConfig) UsesPostgres() bool {
	return c.DatabaseDriver == driverPostgres
}

// UsesRedisLimiter reports whether rate limiting should use the shared Redis
// counter instead of process memory.
func (c AppConfig) UsesRedisLimiter() bool {
	return strings.TrimSpace(c.RedisAddr) != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper
// instance. A local .env file is folded into the environment when present.
func ApplyDefaults(configViper *viper.Viper) {
	_ = godotenv.Load()

	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDrv)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMin)
	configViper.SetDefault("redis.addr", "")
	configViper.SetDefault("ratelimit.create_per_minute", defaultCreatePerMin)
	configViper.SetDefault("ratelimit.update_per_minute", defaultUpdatePerMin)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabaseDriver:  strings.ToLower(configViper.GetString("database.driver")),
		DatabasePath:    configViper.GetString("database.path"),
		DatabaseDSN:     configViper.GetString("database.dsn"),
		LogLevel:        configViper.GetString("log.level"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		TokenTTL:        time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		RedisAddr:       configViper.GetString("redis.addr"),
		CreatePerMinute: configViper.GetInt("ratelimit.create_per_minute"),
		UpdatePerMinute: configViper.GetInt("ratelimit.update_per_minute"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	switch c.DatabaseDriver {
	case driverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case driverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q", driverSQLite, driverPostgres)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.CreatePerMinute <= 0 || c.UpdatePerMinute <= 0 {
		return fmt.Errorf("ratelimit thresholds must be positive")
	}
	return nil
}
