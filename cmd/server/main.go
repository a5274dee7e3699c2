package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/go-watchparty/internal/api"
	"github.com/npezzotti/go-watchparty/internal/config"
	"github.com/npezzotti/go-watchparty/internal/database"
	"github.com/npezzotti/go-watchparty/internal/fanout"
	"github.com/npezzotti/go-watchparty/internal/server"
	"github.com/npezzotti/go-watchparty/internal/stats"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newLogger(cfg *config.Config) zerolog.Logger {
	var l zerolog.Logger
	if cfg.LogFormat == config.LogFormatJSON {
		l = zerolog.New(os.Stderr)
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	return l.Level(cfg.LogLevel).With().Timestamp().Str("service", "go-watchparty").Logger()
}

func openRepository(cfg *config.Config, logger zerolog.Logger) (database.WatchPartyRepository, error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn().Msg("using in-memory storage, rooms will not survive a restart")
		return database.NewMemoryWatchPartyRepository(), nil
	}

	db, err := database.NewPgWatchPartyRepository(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}

	return db, nil
}

func main() {
	fs := config.Flags()
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}

	logger.Info().Msg("shutdown complete")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Error().Err(err).Msg("db close")
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	// left running until exit: client pumps may still report after shutdown
	statsUpdater.Run()

	registry := server.NewRegistry()
	var bcast server.Broadcaster = server.NewLocalBroadcaster(registry, logger)
	opts := server.Options{
		GracePeriod:     cfg.GracePeriod,
		IdleRoomTimeout: cfg.IdleRoomTimeout,
	}

	var relay *fanout.Relay
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}

		relay = fanout.NewRelay(rdb, bcast, registry, logger)
		registry.SetPresenceHook(relay.Track)
		bcast = relay
		opts.Presence = relay
	}

	coord := server.NewCoordinator(logger, repo, registry, bcast, statsUpdater, opts)
	app := api.NewWatchPartyApp(mux, logger, coord, repo, statsUpdater, cfg)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.Shutdown(shutdownCtx); err != nil {
			return err
		}

		if err := coord.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("coordinator shutdown: %w", err)
		}

		return nil
	})

	return g.Wait()
}
