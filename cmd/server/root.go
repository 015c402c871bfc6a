package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"kasirledger/backend/internal/cache"
	"kasirledger/backend/internal/config"
	"kasirledger/backend/internal/connectivity"
	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/httpapi"
	"kasirledger/backend/internal/logger"
	"kasirledger/backend/internal/service"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/store/memory"
	pgstore "kasirledger/backend/internal/store/postgres"
	"kasirledger/backend/internal/store/sqlite"
)

type rootOptions struct {
	memory bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "kasirledger",
		Short:         "POS sale settlement and cash reconciliation node",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.PersistentFlags().BoolVar(&opts.memory, "memory", false, "use in-memory stores seeded with demo data")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the reconnect sync loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply the authoritative database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Push pending local sales, shifts and closures once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), opts)
		},
	})
	return cmd
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.TenantID == "" {
		return fmt.Errorf("DEFAULT_TENANT_ID must be set")
	}
	return nil
}

// node is everything a command needs, plus the closers to run on exit.
type node struct {
	cfg       config.Config
	log       zerolog.Logger
	authority store.Authority
	local     store.Local
	shifts    cache.ShiftCache
	closers   []func() error
}

func (n *node) Close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](); err != nil {
			n.log.Warn().Err(err).Msg("close failed")
		}
	}
}

func openNode(ctx context.Context, cfg config.Config, opts *rootOptions) (*node, error) {
	n := &node{
		cfg: cfg,
		log: logger.New(logger.Config{Env: cfg.AppEnv, Level: cfg.LogLevel}),
	}

	switch {
	case opts.memory || cfg.DatabaseURL == "":
		n.authority = memory.NewSeeded()
		n.log.Info().Msg("authority: in-memory")
	default:
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("authority: %w", err)
		}
		n.authority = pg
		n.closers = append(n.closers, pg.Close)
		n.log.Info().Msg("authority: postgres")
	}

	if opts.memory {
		n.local = memory.NewLocal()
		n.log.Info().Msg("local cache: in-memory")
	} else {
		lite, err := sqlite.Open(ctx, cfg.LocalCachePath)
		if err != nil {
			n.Close()
			return nil, err
		}
		n.local = lite
		n.closers = append(n.closers, lite.Close)
		n.log.Info().Str("path", cfg.LocalCachePath).Msg("local cache: sqlite")
	}

	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisShiftCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := redisCache.Ping(pingCtx)
		cancel()
		if err != nil {
			n.log.Warn().Err(err).Msg("redis unavailable, shift cache stays in the local store")
			_ = redisCache.Close()
		} else {
			n.shifts = redisCache
			n.closers = append(n.closers, redisCache.Close)
			n.log.Info().Msg("shift cache: redis")
		}
	}
	return n, nil
}

func (n *node) newService(reach connectivity.Signal) *service.Service {
	return service.New(n.authority, n.local, n.shifts, reach, service.Options{
		AuthorityTimeout: n.cfg.AuthorityTimeout,
		SyncBatchSize:    n.cfg.SyncBatchSize,
	}, n.log)
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := openNode(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer n.Close()

	monitor := connectivity.NewMonitor(n.authority, cfg.ProbeInterval, logger.Component(n.log, "connectivity"))
	svc := n.newService(monitor)
	monitor.OnReconnect(svc.TriggerSync)
	go monitor.Run(ctx)

	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), n.authority, n.local, logger.Component(n.log, "auth"))
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger.Component(n.log, "http"))

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		n.log.Info().Str("addr", cfg.Address()).Msg("kasirledger listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		n.log.Warn().Err(err).Msg("shutdown error")
	}
	n.log.Info().Msg("server stopped")
	return nil
}

func runMigrate() error {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	lg := logger.New(logger.Config{Env: cfg.AppEnv, Level: cfg.LogLevel})
	version, err := pgstore.Migrate(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	lg.Info().Uint("version", version).Msg("migrations applied")
	return nil
}

// runSync pushes the node's pending work as a verified owner of the default
// tenant. Only an operator with access to the node's configuration can run it.
func runSync(ctx context.Context, opts *rootOptions) error {
	cfg := config.Load()
	n, err := openNode(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer n.Close()

	monitor := connectivity.NewMonitor(n.authority, cfg.ProbeInterval, logger.Component(n.log, "connectivity"))
	monitor.Probe(ctx)
	svc := n.newService(monitor)

	operator := domain.Actor{
		UID:           "kasirledger-cli",
		TenantID:      cfg.TenantID,
		Role:          domain.RoleOwner,
		DisplayName:   "sync command",
		Authenticated: true,
	}
	result, err := svc.SyncPending(service.WithActor(ctx, operator))
	if err != nil {
		return err
	}
	event := n.log.Info()
	if result.Deferred {
		event = n.log.Warn().Str("reason", result.DeferReason)
	}
	event.
		Int("sales", result.SyncedCount).
		Int("shifts", result.ShiftsSynced).
		Int("closures", result.ClosuresSynced).
		Int("audit", result.AuditSynced).
		Int("pending", len(result.PendingIDs)).
		Msg("sync finished")
	return nil
}
