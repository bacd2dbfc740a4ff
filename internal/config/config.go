// Package config defines the top-level configuration for the trader and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
	"github.com/GmsLightVision/Gms-Trader/internal/staking"
)

// Config is the root configuration structure. Fields are populated from a TOML
// or YAML file and then optionally overridden by GMSTRADER_* environment
// variables.
type Config struct {
	Deriv    DerivConfig    `toml:"deriv" yaml:"deriv"`
	Trading  TradingConfig  `toml:"trading" yaml:"trading"`
	Session  SessionConfig  `toml:"session" yaml:"session"`
	Storage  StorageConfig  `toml:"storage" yaml:"storage"`
	Postgres PostgresConfig `toml:"postgres" yaml:"postgres"`
	Redis    RedisConfig    `toml:"redis" yaml:"redis"`
	S3       S3Config       `toml:"s3" yaml:"s3"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Notify   NotifyConfig   `toml:"notify" yaml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics" yaml:"metrics"`
	Mode     string         `toml:"mode" yaml:"mode"`
	LogLevel string         `toml:"log_level" yaml:"log_level"`
}

// DerivConfig holds broker credentials and connection parameters.
type DerivConfig struct {
	AppID              string   `toml:"app_id" yaml:"app_id"`
	APIToken           string   `toml:"api_token" yaml:"api_token"`
	EncryptedTokenPath string   `toml:"encrypted_token_path" yaml:"encrypted_token_path"`
	TokenPassword      string   `toml:"token_password" yaml:"token_password"`
	Endpoint           string   `toml:"endpoint" yaml:"endpoint"`
	RequestTimeout     duration `toml:"request_timeout" yaml:"request_timeout"`
	RequestsPerSecond  float64  `toml:"requests_per_second" yaml:"requests_per_second"`
	// MaxReconnectAttempts bounds consecutive failed reconnects; 0 is unlimited.
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	ReconnectBase        duration `toml:"reconnect_base" yaml:"reconnect_base"`
	ReconnectMax         duration `toml:"reconnect_max" yaml:"reconnect_max"`
	ReconnectFactor      float64  `toml:"reconnect_factor" yaml:"reconnect_factor"`
}

// TradingConfig holds the staking strategy parameters.
type TradingConfig struct {
	Market           string   `toml:"market" yaml:"market"`
	InitialStake     float64  `toml:"initial_stake" yaml:"initial_stake"`
	StakeAfterWin    float64  `toml:"stake_after_win" yaml:"stake_after_win"`
	MartingaleFactor float64  `toml:"martingale_factor" yaml:"martingale_factor"`
	Prediction       int      `toml:"prediction" yaml:"prediction"`
	ContractType     string   `toml:"contract_type" yaml:"contract_type"`
	VirtualLossLimit int      `toml:"virtual_loss_limit" yaml:"virtual_loss_limit"`
	Meta             float64  `toml:"meta" yaml:"meta"`
	StopLoss         float64  `toml:"stop_loss" yaml:"stop_loss"`
	Cooldown         duration `toml:"cooldown" yaml:"cooldown"`
	Currency         string   `toml:"currency" yaml:"currency"`
	Duration         int      `toml:"duration" yaml:"duration"`
	DurationUnit     string   `toml:"duration_unit" yaml:"duration_unit"`
	MaxTrades        int      `toml:"max_trades" yaml:"max_trades"`
}

// Staking converts the trading section to the controller's config.
func (t TradingConfig) Staking() staking.Config {
	return staking.Config{
		Symbol:           t.Market,
		InitialStake:     t.InitialStake,
		StakeAfterWin:    t.StakeAfterWin,
		MartingaleFactor: t.MartingaleFactor,
		Barrier:          t.Prediction,
		ContractType:     domain.ContractType(strings.ToUpper(t.ContractType)),
		VirtualLossLimit: t.VirtualLossLimit,
		Meta:             t.Meta,
		StopLoss:         t.StopLoss,
		Cooldown:         t.Cooldown.Duration,
		Currency:         t.Currency,
		Duration:         t.Duration,
		DurationUnit:     t.DurationUnit,
		MaxTrades:        t.MaxTrades,
	}
}

// SessionConfig holds session persistence and settlement parameters.
type SessionConfig struct {
	StateDir         string   `toml:"state_dir" yaml:"state_dir"`
	SnapshotInterval duration `toml:"snapshot_interval" yaml:"snapshot_interval"`
	PollInterval     duration `toml:"poll_interval" yaml:"poll_interval"`
	MaxPollAttempts  int      `toml:"max_poll_attempts" yaml:"max_poll_attempts"`
	AutoStart        bool     `toml:"auto_start" yaml:"auto_start"`
}

// StorageConfig selects where snapshots, trades and the session log live.
type StorageConfig struct {
	// Driver is one of file, sqlite or postgres.
	Driver     string `toml:"driver" yaml:"driver"`
	SQLitePath string `toml:"sqlite_path" yaml:"sqlite_path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn" yaml:"dsn"`
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	Database      string `toml:"database" yaml:"database"`
	User          string `toml:"user" yaml:"user"`
	Password      string `toml:"password" yaml:"password"`
	SSLMode       string `toml:"ssl_mode" yaml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled" yaml:"enabled"`
	Addr       string `toml:"addr" yaml:"addr"`
	Password   string `toml:"password" yaml:"password"`
	DB         int    `toml:"db" yaml:"db"`
	PoolSize   int    `toml:"pool_size" yaml:"pool_size"`
	MaxRetries int    `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled" yaml:"tls_enabled"`
	// Control keeps the run/pause signal in Redis instead of the session store.
	Control bool `toml:"control" yaml:"control"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled         bool     `toml:"enabled" yaml:"enabled"`
	Endpoint        string   `toml:"endpoint" yaml:"endpoint"`
	Region          string   `toml:"region" yaml:"region"`
	Bucket          string   `toml:"bucket" yaml:"bucket"`
	AccessKey       string   `toml:"access_key" yaml:"access_key"`
	SecretKey       string   `toml:"secret_key" yaml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style" yaml:"force_path_style"`
	ArchiveInterval duration `toml:"archive_interval" yaml:"archive_interval"`
	RestoreOnStart  bool     `toml:"restore_on_start" yaml:"restore_on_start"`
}

// duration is a wrapper around time.Duration that supports string decoding
// (e.g. "5m", "30s") from TOML and YAML.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the decoders can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP control surface parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled" yaml:"enabled"`
	Port        int      `toml:"port" yaml:"port"`
	APIKey      string   `toml:"api_key" yaml:"api_key"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	// It uses Redis when enabled and an in-process limiter otherwise.
	RateLimit int `toml:"rate_limit" yaml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" yaml:"discord_webhook_url"`
	Events            []string `toml:"events" yaml:"events"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Deriv: DerivConfig{
			AppID:             "1089",
			Endpoint:          "wss://ws.derivws.com/websockets/v3",
			RequestTimeout:    duration{10 * time.Second},
			RequestsPerSecond: 5,
			ReconnectBase:     duration{2 * time.Second},
			ReconnectMax:      duration{60 * time.Second},
			ReconnectFactor:   1.5,
		},
		Trading: TradingConfig{
			Market:           "R_50",
			InitialStake:     0.35,
			StakeAfterWin:    0.35,
			MartingaleFactor: 2.2,
			Prediction:       4,
			ContractType:     string(domain.ContractDigitUnder),
			VirtualLossLimit: 2,
			Meta:             100,
			StopLoss:         10999,
			Cooldown:         duration{2 * time.Second},
			Currency:         "USD",
			Duration:         1,
			DurationUnit:     "t",
		},
		Session: SessionConfig{
			StateDir:         "data",
			SnapshotInterval: duration{15 * time.Second},
			PollInterval:     duration{time.Second},
			MaxPollAttempts:  120,
			AutoStart:        true,
		},
		Storage: StorageConfig{
			Driver:     "file",
			SQLitePath: "data/gmstrader.db",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "gmstrader",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "gmstrader-sessions",
			ForcePathStyle:  true,
			ArchiveInterval: duration{time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        3000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			Events: []string{"target_reached", "stop_loss", "auth_failed", "session_stopped", "error"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":  true,
	"server": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validDrivers = map[string]bool{
	"file":     true,
	"sqlite":   true,
	"postgres": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Deriv: a token source is always required.
	if c.Deriv.AppID == "" {
		errs = append(errs, "deriv: app_id must not be empty")
	}
	if c.Deriv.APIToken == "" && c.Deriv.EncryptedTokenPath == "" {
		errs = append(errs, "deriv: either api_token or encrypted_token_path must be set")
	}
	if c.Deriv.EncryptedTokenPath != "" && c.Deriv.TokenPassword == "" {
		errs = append(errs, "deriv: token_password is required when encrypted_token_path is set")
	}
	if c.Deriv.RequestTimeout.Duration <= 0 {
		errs = append(errs, "deriv: request_timeout must be > 0")
	}
	if c.Deriv.RequestsPerSecond < 0 {
		errs = append(errs, "deriv: requests_per_second must be >= 0")
	}
	if c.Deriv.MaxReconnectAttempts < 0 {
		errs = append(errs, "deriv: max_reconnect_attempts must be >= 0")
	}
	if c.Deriv.ReconnectBase.Duration <= 0 {
		errs = append(errs, "deriv: reconnect_base must be > 0")
	}
	if c.Deriv.ReconnectMax.Duration < c.Deriv.ReconnectBase.Duration {
		errs = append(errs, "deriv: reconnect_max must not be below reconnect_base")
	}
	if c.Deriv.ReconnectFactor < 1 {
		errs = append(errs, "deriv: reconnect_factor must be >= 1")
	}

	// Trading
	if err := c.Trading.Staking().Validate(); err != nil {
		msg := strings.TrimPrefix(err.Error(), "staking: invalid config:\n  - ")
		for _, line := range strings.Split(msg, "\n  - ") {
			errs = append(errs, "trading: "+line)
		}
	}

	// Session
	if c.Session.StateDir == "" {
		errs = append(errs, "session: state_dir must not be empty")
	}
	if c.Session.PollInterval.Duration <= 0 {
		errs = append(errs, "session: poll_interval must be > 0")
	}
	if c.Session.MaxPollAttempts < 1 {
		errs = append(errs, "session: max_poll_attempts must be >= 1")
	}

	// Storage
	if !validDrivers[c.Storage.Driver] {
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: file, sqlite, postgres)", c.Storage.Driver))
	}
	if c.Storage.Driver == "sqlite" && c.Storage.SQLitePath == "" {
		errs = append(errs, "storage: sqlite_path must be set for the sqlite driver")
	}
	if c.Storage.Driver == "postgres" && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.Control && !c.Redis.Enabled {
		errs = append(errs, "redis: control requires redis.enabled")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled || c.Mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
