package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/gavelhouse/gavel/internal/auth"
	"github.com/gavelhouse/gavel/internal/bidding"
	"github.com/gavelhouse/gavel/internal/config"
	"github.com/gavelhouse/gavel/internal/coordinator"
	"github.com/gavelhouse/gavel/internal/gateway"
	"github.com/gavelhouse/gavel/internal/lock"
	"github.com/gavelhouse/gavel/internal/reaper"
	"github.com/gavelhouse/gavel/internal/rooms"
	"github.com/gavelhouse/gavel/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file, relying on process environment")
	}

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	pool, err := setupStorePool(ctx, cfg.StoreURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb, err := setupCoordinator(ctx, cfg.CoordinatorURL)
	if err != nil {
		return err
	}
	defer rdb.Close()

	// Shared clients are built once here and handed to components as
	// capabilities; nothing below reaches for globals.
	clock := clockwork.NewRealClock()
	st := store.New(pool)
	coord := coordinator.New(rdb)
	locks := lock.New(coord, cfg.LockTTL)
	identity := auth.New(cfg.CredentialSecret, cfg.CredentialLifetime, st, coord)
	registry := rooms.New(bidding.NewSnapshotReader(st, coord))
	pipeline := bidding.New(st, locks, coord, registry, clock)
	gw := gateway.New(gateway.DefaultConfig(cfg.AllowedOrigin), identity, pipeline, registry, clock)
	sweeper := reaper.New(st, registry, clock, cfg.ExpiryTick)

	go sweeper.Run(ctx)

	server := setupServer(cfg, gw)
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.ListenPort).Msg("auction server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func setupStorePool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create store pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}
	log.Info().Msg("connected to store")
	return pool, nil
}

func setupCoordinator(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid COORDINATOR_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping coordinator: %w", err)
	}
	log.Info().Msg("connected to coordinator")
	return rdb, nil
}

func setupServer(cfg *config.Config, gw *gateway.Gateway) *http.Server {
	mux := http.NewServeMux()
	gw.RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{cfg.AllowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
		AllowedHeaders: []string{"*"},
	})
	handler := c.Handler(mux)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ListenPort),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}
