package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GmsLightVision/Gms-Trader/internal/cache/redis"
	"github.com/GmsLightVision/Gms-Trader/internal/config"
	"github.com/GmsLightVision/Gms-Trader/internal/crypto"
	"github.com/GmsLightVision/Gms-Trader/internal/domain"
	"github.com/GmsLightVision/Gms-Trader/internal/notify"
	"github.com/GmsLightVision/Gms-Trader/internal/platform/deriv"
	"github.com/GmsLightVision/Gms-Trader/internal/server"
	"github.com/GmsLightVision/Gms-Trader/internal/server/handler"
	"github.com/GmsLightVision/Gms-Trader/internal/server/ws"
	"github.com/GmsLightVision/Gms-Trader/internal/service"
	"github.com/GmsLightVision/Gms-Trader/internal/session"
)

const (
	lockTTL         = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// TradeMode runs the session and starts trading right away when
// session.auto_start is set.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runSession(ctx, deps, a.cfg.Session.AutoStart)
}

// ServerMode runs the session behind the control surface and waits for an
// explicit start.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	return a.runSession(ctx, deps, false)
}

func (a *App) runSession(ctx context.Context, deps *Dependencies, autoStart bool) error {
	token, err := crypto.LoadToken(crypto.TokenSource{
		Token:         a.cfg.Deriv.APIToken,
		EncryptedPath: a.cfg.Deriv.EncryptedTokenPath,
		Password:      a.cfg.Deriv.TokenPassword,
	})
	if err != nil {
		return fmt.Errorf("app: load api token: %w", err)
	}

	client := deriv.NewWSClient(derivConfig(a.cfg, token), a.logger)
	tracker := service.NewContractTracker(client, a.cfg.Session.PollInterval.Duration, a.cfg.Session.MaxPollAttempts, a.logger)

	serverOn := a.cfg.Server.Enabled || a.cfg.Mode == "server"
	var orch *session.Orchestrator
	var hub *ws.Hub
	bus := deps.Bus
	if serverOn {
		hub = ws.NewHub(func(ctx context.Context) any { return orch.Status(ctx) }, a.cfg.Server.CORSOrigins, a.logger)
		bus = joinBuses(deps.Bus, hub)
	}

	sdeps := session.Deps{
		Broker:   client,
		Tracker:  tracker,
		Feed:     client,
		Store:    deps.Sessions,
		Trades:   deps.Trades,
		Audit:    deps.Audit,
		Control:  deps.Control,
		Bus:      bus,
		Notifier: deps.Notifier,
		Logger:   a.logger,
	}
	if deps.Metrics != nil {
		sdeps.Metrics = deps.Metrics
	}
	if a.cfg.S3.RestoreOnStart && deps.Archiver != nil {
		sdeps.Archive = deps.Archiver
	}
	orch, err = session.New(session.Config{
		Staking:          a.cfg.Trading.Staking(),
		SnapshotInterval: a.cfg.Session.SnapshotInterval.Duration,
		BuyTimeout:       a.cfg.Deriv.RequestTimeout.Duration,
	}, sdeps)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	client.OnTick(orch.HandleTick)
	client.OnBalance(orch.HandleBalance)
	client.OnAuthorized(orch.HandleAuthorized)
	if deps.Metrics != nil {
		var seen atomic.Int64
		client.OnStateChange(func(s deriv.State) {
			deps.Metrics.ConnectionState(s.String())
			for n := client.Reconnects(); seen.Load() < n; seen.Add(1) {
				deps.Metrics.Reconnect()
			}
		})
	}

	source := orch.Restore(ctx)
	a.logger.InfoContext(ctx, "session state loaded", slog.String("source", source))

	g, gctx := errgroup.WithContext(ctx)

	if deps.LockManager != nil {
		lease, err := deps.LockManager.Acquire(ctx, "session:"+sessionName, lockTTL)
		if err != nil {
			return fmt.Errorf("app: acquire session lock: %w", err)
		}
		g.Go(func() error {
			if err := redis.Hold(gctx, lease, lockTTL); err != nil {
				return fmt.Errorf("app: session lock: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return orch.Run(gctx)
	})

	if hub != nil {
		g.Go(func() error {
			if err := hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if serverOn {
		srv := a.newServer(orch, client, deps, hub)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	if deps.Archiver != nil && a.cfg.S3.ArchiveInterval.Duration > 0 {
		g.Go(func() error {
			a.archiveLoop(gctx, deps, orch)
			return nil
		})
	}

	if autoStart {
		if err := orch.Start(gctx); err != nil {
			a.logger.WarnContext(ctx, "auto start failed", slog.String("error", err.Error()))
		}
	}

	err = g.Wait()

	if deps.Archiver != nil {
		archCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		a.archive(archCtx, deps, orch.State())
		cancel()
	}
	if rerr := notify.WriteReport(a.report, orch.State(), time.Now()); rerr != nil {
		a.logger.Warn("session report failed", slog.String("error", rerr.Error()))
	}
	return err
}

func (a *App) newServer(orch *session.Orchestrator, client *deriv.WSClient, deps *Dependencies, hub *ws.Hub) *server.Server {
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(),
		Status:  handler.NewStatusHandler(orch, client, a.cfg.Mode, a.logger),
		Control: handler.NewControlHandler(orch, config.RedactedConfig(a.cfg), a.logger),
		Trades:  handler.NewTradeHandler(orch, deps.Trades, deps.Audit, a.logger),
		Hub:     hub,
	}
	if deps.Metrics != nil {
		handlers.Metrics = deps.Metrics.Handler()
	}
	return server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		MetricsPath: a.cfg.Metrics.Path,
	}, handlers, deps.RateLimiter, a.logger)
}

// archiveLoop uploads the snapshot and session log every archive interval.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies, orch *session.Orchestrator) {
	ticker := time.NewTicker(a.cfg.S3.ArchiveInterval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.archive(ctx, deps, orch.State())
		}
	}
}

func (a *App) archive(ctx context.Context, deps *Dependencies, st domain.SessionState) {
	path, err := deps.Archiver.ArchiveSnapshot(ctx, st)
	if err != nil {
		a.logger.WarnContext(ctx, "archive snapshot failed", slog.String("error", err.Error()))
	} else {
		a.logger.InfoContext(ctx, "snapshot archived", slog.String("path", path))
	}
	if deps.LogPath == "" {
		return
	}
	path, err = deps.Archiver.ArchiveLog(ctx, deps.LogPath)
	switch {
	case err != nil:
		a.logger.WarnContext(ctx, "archive session log failed", slog.String("error", err.Error()))
	case path != "":
		a.logger.InfoContext(ctx, "session log archived", slog.String("path", path))
	}
}

func derivConfig(cfg *config.Config, token string) deriv.Config {
	return deriv.Config{
		Endpoint:             cfg.Deriv.Endpoint,
		AppID:                cfg.Deriv.AppID,
		Token:                token,
		Symbol:               cfg.Trading.Market,
		RequestTimeout:       cfg.Deriv.RequestTimeout.Duration,
		RequestsPerSecond:    cfg.Deriv.RequestsPerSecond,
		ReconnectBase:        cfg.Deriv.ReconnectBase.Duration,
		ReconnectMax:         cfg.Deriv.ReconnectMax.Duration,
		ReconnectFactor:      cfg.Deriv.ReconnectFactor,
		MaxReconnectAttempts: cfg.Deriv.MaxReconnectAttempts,
	}
}
