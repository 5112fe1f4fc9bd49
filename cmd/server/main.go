package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hersh/gotris-rooms/internal/config"
	"github.com/hersh/gotris-rooms/internal/logging"
	"github.com/hersh/gotris-rooms/internal/match"
	"github.com/hersh/gotris-rooms/internal/registry"
	"github.com/hersh/gotris-rooms/internal/room"
	"github.com/hersh/gotris-rooms/internal/stats"
	"github.com/hersh/gotris-rooms/internal/transport"
)

const connectTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Errorw("room server failed", "err", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	reg, closeReg := openRegistry(ctx, cfg.Registry, log)
	cleanup = append(cleanup, closeReg)
	rep, closeStats := openStats(ctx, cfg.Stats, cfg.Room.Name, log)
	cleanup = append(cleanup, closeStats)

	opts := transport.Options{MaxFrameSize: cfg.Room.MaxMessageSize}
	ln, err := transport.Listen(cfg.Room.Transport, cfg.Room.Listen, opts)
	if err != nil {
		return err
	}

	basePort := cfg.Room.MatchBasePort
	if basePort == 0 {
		basePort = room.MatchBasePort(ln.Addr().String())
	}

	coord := room.New(room.Config{
		Name:          cfg.Room.Name,
		Admin:         cfg.Room.Admin,
		Address:       cfg.Room.Advertise,
		InnerAddress:  cfg.Room.InnerAddress,
		Default:       cfg.Room.Default,
		MinAPM:        cfg.Room.MinAPM,
		MaxAPM:        cfg.Room.MaxAPM,
		Private:       cfg.Room.Private,
		Network:       cfg.Room.Transport,
		MatchBasePort: basePort,
		Transport:     opts,
		ReadTimeout:   cfg.Room.ReadTimeout,
		CallTimeout:   cfg.Registry.Timeout,
		Match: match.Config{
			JoinTimeout:  cfg.Room.JoinTimeout,
			ReadTimeout:  cfg.Room.ReadTimeout,
			SettleWindow: cfg.Room.SettleWindow,
		},
	}, ln, reg, rep, log)

	log.Infow("room listening",
		"room", cfg.Room.Name,
		"admin", cfg.Room.Admin,
		"addr", ln.Addr().String(),
		"transport", cfg.Room.Transport,
		"match_base_port", basePort,
	)

	err = coord.Serve(ctx)
	if errors.Is(err, room.ErrRoomClosed) {
		log.Infow("admin left, room closed", "admin", cfg.Room.Admin)
		return nil
	}
	if err == nil {
		log.Info("room server stopped")
	}
	return err
}

// --- Backends ---

// openRegistry picks the room listing backend. An unreachable backend is
// logged and used anyway; every call to it is best effort.
func openRegistry(ctx context.Context, cfg config.RegistryConfig, log *zap.SugaredLogger) (registry.Registry, func()) {
	switch cfg.Backend {
	case config.BackendHTTP:
		log.Infow("registry: profile service", "url", cfg.URL)
		return registry.NewHTTPClient(cfg.URL, cfg.Timeout), func() {}

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warnw("registry: redis unreachable", "addr", cfg.Redis.Addr, "err", err)
		} else {
			log.Infow("registry: redis", "addr", cfg.Redis.Addr)
		}
		return registry.NewRedisStore(rdb), func() { rdb.Close() }
	}
	return registry.Nop{Log: log}, func() {}
}

// openStats builds the reporter chain: the configured backend plus an
// optional NATS event stream.
func openStats(ctx context.Context, cfg config.StatsConfig, roomName string, log *zap.SugaredLogger) (stats.Reporter, func()) {
	var (
		reps    stats.Multi
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	switch cfg.Backend {
	case config.BackendHTTP:
		log.Infow("stats: profile service", "url", cfg.URL)
		reps = append(reps, stats.NewHTTPReporter(cfg.URL, connectTimeout))

	case config.BackendPostgres:
		if cfg.Postgres.Migrate {
			migrateStats(cfg.Postgres.DSN, log)
		}
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Warnw("stats: postgres disabled", "err", err)
			break
		}
		closers = append(closers, pool.Close)
		reps = append(reps, stats.NewPostgresStore(pool))
		log.Info("stats: postgres")
	}

	if cfg.NATS.URL != "" {
		nc, err := stats.ConnectNATS(cfg.NATS.URL, "gotris-room-"+roomName)
		if err != nil {
			log.Warnw("stats: nats disabled", "err", err)
		} else {
			closers = append(closers, func() { nc.Drain() })
			reps = append(reps, stats.NewNATSPublisher(nc, cfg.NATS.Subject))
			log.Infow("stats: nats", "url", cfg.NATS.URL, "subject", cfg.NATS.Subject)
		}
	}

	switch len(reps) {
	case 0:
		return stats.Nop{}, closeAll
	case 1:
		return reps[0], closeAll
	}
	return reps, closeAll
}

func migrateStats(dsn string, log *zap.SugaredLogger) {
	m, err := stats.NewMigrator(dsn, log)
	if err != nil {
		log.Warnw("stats: cannot open migrations", "err", err)
		return
	}
	defer m.Close()
	if err := m.Up(); err != nil {
		log.Warnw("stats: migration failed", "err", err)
	}
}
