package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	s3blob "github.com/GmsLightVision/Gms-Trader/internal/blob/s3"
	"github.com/GmsLightVision/Gms-Trader/internal/cache/redis"
	"github.com/GmsLightVision/Gms-Trader/internal/config"
	"github.com/GmsLightVision/Gms-Trader/internal/domain"
	"github.com/GmsLightVision/Gms-Trader/internal/metrics"
	"github.com/GmsLightVision/Gms-Trader/internal/notify"
	"github.com/GmsLightVision/Gms-Trader/internal/server/middleware"
	"github.com/GmsLightVision/Gms-Trader/internal/store/file"
	"github.com/GmsLightVision/Gms-Trader/internal/store/postgres"
	"github.com/GmsLightVision/Gms-Trader/internal/store/sqlite"
)

// sessionName keys the snapshot row, control flag and lock of the single
// session this process runs.
const sessionName = "default"

// Dependencies bundles every domain-level dependency the modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Sessions domain.SessionStore
	Trades   domain.TradeStore
	Audit    domain.AuditStore
	Control  domain.ControlSource
	// LogPath is the local session log archived to S3; empty when the
	// driver keeps the log in a database.
	LogPath string

	// Redis, nil when disabled.
	LockManager domain.LockManager
	Bus         domain.SignalBus
	RateLimiter domain.RateLimiter

	// Blob storage, nil when S3 is disabled.
	Archiver domain.Archiver

	Notifier *notify.Notifier
	Metrics  *metrics.Recorder
}

// sessionBackend is implemented by every store driver.
type sessionBackend interface {
	domain.SessionStore
	domain.TradeStore
	domain.AuditStore
	domain.ControlSource
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Session storage ---
	var backend sessionBackend
	switch strings.ToLower(cfg.Storage.Driver) {
	case "", "file":
		fs, err := file.Open(cfg.Session.StateDir)
		if err != nil {
			return fail(fmt.Errorf("wire: file store: %w", err))
		}
		closers = append(closers, func() { _ = fs.Close() })
		backend = fs
		deps.LogPath = fs.LogPath()

	case "sqlite":
		if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fail(fmt.Errorf("wire: sqlite dir: %w", err))
			}
		}
		db, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })
		backend = db

	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		backend = struct {
			*postgres.SessionStore
			*postgres.TradeStore
			*postgres.AuditStore
		}{
			postgres.NewSessionStore(pool, sessionName),
			postgres.NewTradeStore(pool),
			postgres.NewAuditStore(pool),
		}

	default:
		return fail(fmt.Errorf("wire: unknown storage driver %q", cfg.Storage.Driver))
	}
	deps.Sessions = backend
	deps.Trades = backend
	deps.Audit = backend
	deps.Control = backend

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		if cfg.Redis.Control {
			deps.Control = redis.NewControl(redisClient, sessionName)
		}
	} else {
		deps.RateLimiter = middleware.NewLocalLimiter()
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "s3 bucket not reachable, archiving may fail",
				slog.String("bucket", s3Client.Bucket()),
				slog.String("error", err.Error()),
			)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), "")
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		tg, err := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			logger.WarnContext(ctx, "telegram notifications disabled", slog.String("error", err.Error()))
		} else {
			senders = append(senders, tg)
		}
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Metrics ---
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New()
	}

	return deps, cleanup, nil
}

// fanout publishes to every bus and returns the first error.
type fanout []domain.SignalBus

func (f fanout) Publish(ctx context.Context, channel string, payload []byte) error {
	var first error
	for _, b := range f {
		if err := b.Publish(ctx, channel, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanout) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	var first error
	for _, b := range f {
		if err := b.StreamAppend(ctx, stream, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// joinBuses drops nil buses and returns nil when none remain.
func joinBuses(buses ...domain.SignalBus) domain.SignalBus {
	var out fanout
	for _, b := range buses {
		if b != nil {
			out = append(out, b)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}
