// Package app wires configuration, storage, logging and notification
// delivery into a ready-to-use engine.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"greenline/internal/config"
	"greenline/internal/db"
	"greenline/internal/engine"
	"greenline/internal/engine/auth"
	"greenline/internal/logging"
	"greenline/internal/migrate"
	"greenline/internal/notify"
)

const connectTimeout = 5 * time.Second

type Options struct {
	Workspace string
	// DBPath overrides the workspace database location.
	DBPath    string
	LogWriter io.Writer
}

// App holds the runtime of one process. Close must be called to drain
// queued notifications.
type App struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Log       zerolog.Logger
	Engine    engine.Engine

	closers []func(context.Context) error
}

// Open loads greenline.yml from the workspace, migrates the database and
// returns an engine with RBAC roles synced from config.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.Load(opts.Workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logging.New(opts.LogWriter, cfg.Log.Level, cfg.Log.Format)
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, Path: opts.DBPath})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &App{Workspace: opts.Workspace, DB: conn, Config: cfg, Log: log}
	notifier, closers := BuildNotifier(ctx, cfg.Notify, log)
	a.closers = append([]func(context.Context) error{func(context.Context) error { return conn.Close() }}, closers...)

	e := engine.New(conn, cfg)
	e.Auth = auth.Service{DB: conn}
	e.Notifier = notifier
	e.Log = log.With().Str("component", "engine").Logger()
	e.Location = loc
	if err := e.SyncRoles(ctx); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("sync roles: %w", err)
	}
	a.Engine = e
	return a, nil
}

// Close drains notifications and releases connections in reverse order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// BuildNotifier assembles every configured dispatcher behind an async queue.
// Targets that cannot be reached at startup are logged and skipped. Closers
// must run in reverse order so the queue drains before connections close.
func BuildNotifier(ctx context.Context, cfg config.NotifyConfig, log zerolog.Logger) (notify.Dispatcher, []func(context.Context) error) {
	log = log.With().Str("component", "notify").Logger()
	var targets notify.Multi
	var conns []func(context.Context) error

	if cfg.Log == nil || *cfg.Log {
		targets = append(targets, notify.Log{Logger: log})
	}
	if cfg.Redis.Addr != "" {
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		client, err := notify.NewRedisClient(cctx, cfg.Redis.Addr)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis notifications disabled")
		} else {
			targets = append(targets, notify.Redis{Client: client, Channel: cfg.Redis.Channel})
			conns = append(conns, func(context.Context) error { return client.Close() })
		}
	}
	if cfg.NATS.URL != "" {
		nc, err := notify.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			log.Error().Err(err).Str("url", cfg.NATS.URL).Msg("nats notifications disabled")
		} else {
			targets = append(targets, notify.NATS{Conn: nc, SubjectPrefix: cfg.NATS.SubjectPrefix})
			conns = append(conns, func(context.Context) error { return nc.Drain() })
		}
	}
	if hooks := notify.NewWebhook(cfg.Webhooks, nil); hooks.Len() > 0 {
		targets = append(targets, hooks)
	}
	if len(targets) == 0 {
		return notify.Nop{}, conns
	}
	async := notify.NewAsync(targets, cfg.QueueSize, log)
	return async, append(conns, async.Close)
}
