package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads a TOML or YAML configuration file at path (chosen by extension),
// merges it on top of the built-in defaults, applies GMSTRADER_* environment
// variable overrides, and returns the final Config. The returned Config has NOT
// been validated; the caller should invoke Config.Validate() after Load.
//
// An empty path skips the file and uses defaults plus the environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: decode %s: %w", path, err)
		}
		return nil
	case ".toml", "":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("config: decode %s: %w", path, err)
		}
		return nil
	default:
		return fmt.Errorf("config: unsupported file extension %q", filepath.Ext(path))
	}
}

// applyEnvOverrides reads well-known GMSTRADER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the config file.
func applyEnvOverrides(cfg *Config) {
	// ── Deriv ──
	setStr(&cfg.Deriv.AppID, "GMSTRADER_DERIV_APP_ID")
	setStr(&cfg.Deriv.APIToken, "GMSTRADER_DERIV_API_TOKEN")
	setStr(&cfg.Deriv.APIToken, "DERIV_API_TOKEN") // compatibility alias
	setStr(&cfg.Deriv.EncryptedTokenPath, "GMSTRADER_DERIV_ENCRYPTED_TOKEN_PATH")
	setStr(&cfg.Deriv.TokenPassword, "GMSTRADER_DERIV_TOKEN_PASSWORD")
	setStr(&cfg.Deriv.Endpoint, "GMSTRADER_DERIV_ENDPOINT")
	setDuration(&cfg.Deriv.RequestTimeout, "GMSTRADER_DERIV_REQUEST_TIMEOUT")
	setFloat64(&cfg.Deriv.RequestsPerSecond, "GMSTRADER_DERIV_REQUESTS_PER_SECOND")
	setInt(&cfg.Deriv.MaxReconnectAttempts, "GMSTRADER_DERIV_MAX_RECONNECT_ATTEMPTS")
	setDuration(&cfg.Deriv.ReconnectBase, "GMSTRADER_DERIV_RECONNECT_BASE")
	setDuration(&cfg.Deriv.ReconnectMax, "GMSTRADER_DERIV_RECONNECT_MAX")
	setFloat64(&cfg.Deriv.ReconnectFactor, "GMSTRADER_DERIV_RECONNECT_FACTOR")

	// ── Trading ──
	setStr(&cfg.Trading.Market, "GMSTRADER_TRADING_MARKET")
	setFloat64(&cfg.Trading.InitialStake, "GMSTRADER_TRADING_INITIAL_STAKE")
	setFloat64(&cfg.Trading.StakeAfterWin, "GMSTRADER_TRADING_STAKE_AFTER_WIN")
	setFloat64(&cfg.Trading.MartingaleFactor, "GMSTRADER_TRADING_MARTINGALE_FACTOR")
	setInt(&cfg.Trading.Prediction, "GMSTRADER_TRADING_PREDICTION")
	setStr(&cfg.Trading.ContractType, "GMSTRADER_TRADING_CONTRACT_TYPE")
	setInt(&cfg.Trading.VirtualLossLimit, "GMSTRADER_TRADING_VIRTUAL_LOSS_LIMIT")
	setFloat64(&cfg.Trading.Meta, "GMSTRADER_TRADING_META")
	setFloat64(&cfg.Trading.StopLoss, "GMSTRADER_TRADING_STOP_LOSS")
	setDuration(&cfg.Trading.Cooldown, "GMSTRADER_TRADING_COOLDOWN")
	setStr(&cfg.Trading.Currency, "GMSTRADER_TRADING_CURRENCY")
	setInt(&cfg.Trading.MaxTrades, "GMSTRADER_TRADING_MAX_TRADES")

	// ── Session ──
	setStr(&cfg.Session.StateDir, "GMSTRADER_SESSION_STATE_DIR")
	setDuration(&cfg.Session.SnapshotInterval, "GMSTRADER_SESSION_SNAPSHOT_INTERVAL")
	setDuration(&cfg.Session.PollInterval, "GMSTRADER_SESSION_POLL_INTERVAL")
	setInt(&cfg.Session.MaxPollAttempts, "GMSTRADER_SESSION_MAX_POLL_ATTEMPTS")
	setBool(&cfg.Session.AutoStart, "GMSTRADER_SESSION_AUTO_START")

	// ── Storage ──
	setStr(&cfg.Storage.Driver, "GMSTRADER_STORAGE_DRIVER")
	setStr(&cfg.Storage.SQLitePath, "GMSTRADER_STORAGE_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "GMSTRADER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "GMSTRADER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "GMSTRADER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "GMSTRADER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "GMSTRADER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "GMSTRADER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "GMSTRADER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "GMSTRADER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "GMSTRADER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "GMSTRADER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "GMSTRADER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "GMSTRADER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "GMSTRADER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "GMSTRADER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "GMSTRADER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "GMSTRADER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "GMSTRADER_REDIS_TLS_ENABLED")
	setBool(&cfg.Redis.Control, "GMSTRADER_REDIS_CONTROL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "GMSTRADER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "GMSTRADER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "GMSTRADER_S3_REGION")
	setStr(&cfg.S3.Bucket, "GMSTRADER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "GMSTRADER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "GMSTRADER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "GMSTRADER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "GMSTRADER_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "GMSTRADER_S3_ARCHIVE_INTERVAL")
	setBool(&cfg.S3.RestoreOnStart, "GMSTRADER_S3_RESTORE_ON_START")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "GMSTRADER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "GMSTRADER_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // compatibility alias
	setStr(&cfg.Server.APIKey, "GMSTRADER_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "GMSTRADER_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "GMSTRADER_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "GMSTRADER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "GMSTRADER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "GMSTRADER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "GMSTRADER_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "GMSTRADER_METRICS_ENABLED")
	setStr(&cfg.Metrics.Path, "GMSTRADER_METRICS_PATH")

	// ── Top-level ──
	setStr(&cfg.Mode, "GMSTRADER_MODE")
	setStr(&cfg.LogLevel, "GMSTRADER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
