package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fieldtrack-agent/internal/auth"
	"fieldtrack-agent/internal/config"
	"fieldtrack-agent/internal/db"
	"fieldtrack-agent/internal/device"
	"fieldtrack-agent/internal/filter"
	"fieldtrack-agent/internal/logger"
	"fieldtrack-agent/internal/network"
	"fieldtrack-agent/internal/relay"
	"fieldtrack-agent/internal/server"
	"fieldtrack-agent/internal/source"
	"fieldtrack-agent/internal/state"
	"fieldtrack-agent/internal/store"
	"fieldtrack-agent/internal/stream"
	"fieldtrack-agent/internal/syncer"
	"fieldtrack-agent/internal/tracking"
	"fieldtrack-agent/internal/uplink"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	if err := mainRunner(mainDepsProvider()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type mainDeps struct {
	args         []string
	loadConfig   func([]string) (config.Config, error)
	newLogger    func(level string, dev bool) (*zap.SugaredLogger, error)
	openStore    func(context.Context, config.Config) (store.Store, io.Closer, error)
	connectRedis func(config.Config) *redis.Client
	notify       func(chan<- os.Signal, ...os.Signal)
	run          func(context.Context, config.Config, store.Store, *redis.Client, *zap.SugaredLogger, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		args:         os.Args[1:],
		loadConfig:   config.LoadArgs,
		newLogger:    logger.New,
		openStore:    openStore,
		connectRedis: db.ConnectRedis,
		notify:       signal.Notify,
		run:          Run,
	}
}

func realMain(deps mainDeps) error {
	cfg, err := deps.loadConfig(deps.args)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := deps.newLogger(cfg.LogLevel, cfg.DevMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	st, closer, err := deps.openStore(ctx, cfg)
	if err != nil {
		log.Errorw("point store unavailable", "driver", cfg.StoreDriver, "error", err)
		return err
	}
	defer func() { _ = closer.Close() }()

	rdb := deps.connectRedis(cfg)

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(ctx, cfg, st, rdb, log, signals, nil); err != nil {
		log.Errorw("agent exited with error", "error", err)
		return err
	}
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// openStore opens the configured point store and creates its schema.
func openStore(ctx context.Context, cfg config.Config) (store.Store, io.Closer, error) {
	switch strings.ToLower(cfg.StoreDriver) {
	case "", "sqlite":
		conn, err := db.OpenSQLite(db.SQLitePath(cfg))
		if err != nil {
			return nil, nil, err
		}
		st, err := store.NewSQLite(ctx, conn)
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		return st, st, nil
	case "postgres":
		pool, err := db.ConnectPostgres(cfg)
		if err != nil {
			return nil, nil, err
		}
		st := store.NewPostgres(pool)
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, closerFunc(func() error { pool.Close(); return nil }), nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

var openSourceFn = source.Open

// Run wires the pipeline, starts the configured session and blocks until a
// signal arrives, ctx is done or the status server stops.
func Run(ctx context.Context, cfg config.Config, st store.Store, rdb *redis.Client, log *zap.SugaredLogger, signals <-chan os.Signal, listen ListenFunc) error {
	log = logger.For(log, logger.ComponentAgent)
	if listen == nil {
		listen = defaultListen
	}

	sc, err := newState(cfg, log)
	if err != nil {
		return err
	}

	transport, err := newSyncer(cfg, st, sc, log)
	if err != nil {
		return err
	}

	var rel relay.Relay = relay.Noop{}
	if rdb != nil {
		rel = relay.NewRedis(rdb, sc.DeviceID(), log)
		defer func() { _ = rdb.Close() }()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := stream.NewHub(log)
	svc := tracking.NewService(st, sc, transport, tracking.Options{
		Context:    runCtx,
		MaxPending: cfg.MaxPendingPoints,
		Relay:      rel,
		Feed:       hub,
		Log:        log,
	})

	prober, err := network.NewProber(cfg.CollectorURL, sc, network.Options{Log: log})
	if err != nil {
		return err
	}

	reader, closer, err := openSourceFn(cfg.FixSource, log)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	srv := server.NewServer(cfg, sc, st, transport, svc, hub)

	if _, err := svc.StartSession(tracking.StartRequest{SessionID: cfg.SessionID, UserID: cfg.UserID}); err != nil {
		return err
	}

	fixes := make(chan filter.RawFix, 32)
	// a blocked stdin read cannot be interrupted, so the reader is not awaited
	go func() {
		if err := reader.Run(runCtx, fixes); err != nil {
			log.Warnw("fix source stopped", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return prober.Run(gctx) })
	g.Go(func() error { return svc.Run(gctx, fixes) })
	g.Go(func() error {
		defer cancel()
		return listen(srv.App, cfg.StatusPort)
	})
	g.Go(func() error {
		select {
		case <-signals:
			log.Infow("shutdown requested")
		case <-gctx.Done():
		}
		cancel()

		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		return shutdownFn(srv.App, shutdownCtx)
	})

	err = g.Wait()
	if _, stopErr := svc.StopSession(); stopErr != nil && !errors.Is(stopErr, tracking.ErrNoActiveSession) {
		log.Warnw("stop session failed", "error", stopErr)
	}
	return err
}

// newState resolves the device identity and seeds the shared state.
func newState(cfg config.Config, log *zap.SugaredLogger) (*state.Context, error) {
	deviceID, from, err := device.Resolve(device.DefaultSources(cfg.DeviceID, cfg.DataDir))
	if err != nil {
		return nil, fmt.Errorf("resolve device id: %w", err)
	}
	log.Infow("device identity resolved", "device_id", deviceID, "source", from)

	mode, err := filter.ParseMode(cfg.TrackingMode)
	if err != nil {
		return nil, err
	}

	userID := cfg.UserID
	if claims, err := auth.DeviceClaims(cfg.DeviceToken); err == nil {
		if userID == "" {
			userID = claims.UserID
		}
		if claims.Expired(time.Now()) {
			log.Warnw("device token expired, collector will reject it")
		}
	}

	return state.New(state.Snapshot{
		DeviceID:    deviceID,
		DeviceToken: cfg.DeviceToken,
		SessionID:   cfg.SessionID,
		UserID:      userID,
		Mode:        mode,
	}), nil
}

type syncTransport interface {
	tracking.Syncer
	server.SyncStatus
}

func newSyncer(cfg config.Config, st store.Store, sc *state.Context, log *zap.SugaredLogger) (syncTransport, error) {
	switch strings.ToLower(cfg.SyncTransport) {
	case "", "ws":
		if _, err := syncer.SocketURL(cfg.CollectorURL, cfg.CollectorWSPath); err != nil {
			return nil, err
		}
		return syncer.New(st, sc, syncer.Options{
			CollectorURL: cfg.CollectorURL,
			SocketPath:   cfg.CollectorWSPath,
			BatchSize:    cfg.BatchSize,
			Log:          log,
		}), nil
	case "http":
		return uplink.NewDrainer(uplink.NewClient(cfg.CollectorURL), st, sc, uplink.DrainerOptions{
			BatchSize: cfg.BatchSize,
			Log:       log,
		}), nil
	default:
		return nil, fmt.Errorf("unknown sync transport %q", cfg.SyncTransport)
	}
}
