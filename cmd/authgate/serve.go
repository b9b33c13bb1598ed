package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/authgate/internal/auth"
	"github.com/iliyamo/authgate/internal/config"
	"github.com/iliyamo/authgate/internal/database"
	"github.com/iliyamo/authgate/internal/handler"
	"github.com/iliyamo/authgate/internal/logger"
	"github.com/iliyamo/authgate/internal/queue"
	"github.com/iliyamo/authgate/internal/repository"
	"github.com/iliyamo/authgate/internal/router"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var autoMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API serving /register, /login and the guarded
/protected endpoint, plus /healthz, /readyz and /metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), autoMigrate)
		},
	}
	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "apply pending MySQL migrations before serving")
	return cmd
}

func runServe(ctx context.Context, autoMigrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, DevMode: cfg.IsDev()})
	if err != nil {
		return oops.Code("LOGGER_INIT_FAILED").Wrap(err)
	}
	defer func() { _ = log.Sync() }()

	store, checks, closeStore, err := openStore(ctx, cfg, autoMigrate, log)
	if err != nil {
		logger.LogError(log, "credential store unavailable", err)
		return err
	}
	defer closeStore()

	hasher, err := auth.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("field", "BCRYPT_COST").Wrap(err)
	}
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTTL(),
		auth.WithTokenLogger(log.Named("token")))
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("field", "JWT").Wrap(err)
	}

	opts := []auth.Option{auth.WithLogger(log.Named("auth"))}
	if cfg.AuditEventsEnabled {
		pub := queue.NewPublisher(cfg.AMQPURL, log.Named("audit"))
		defer pub.Close()
		opts = append(opts, auth.WithEvents(pub))
	}
	svc, err := auth.NewService(store, hasher, tokens, opts...)
	if err != nil {
		return err
	}

	e := router.New(handler.NewAuthHandler(svc, log.Named("http")), svc, checks, log.Named("http"))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() { errCh <- e.Start(addr) }()
	log.Info("listening",
		zap.String("addr", addr),
		zap.String("env", cfg.Env),
		zap.String("store", cfg.StoreBackend),
		zap.Bool("audit_events", cfg.AuditEventsEnabled))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.LogError(log, "http server failed", err)
			return err
		}
		return nil
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.LogError(log, "graceful shutdown failed", err)
		return err
	}
	log.Info("server stopped")
	return nil
}

// openStore connects the configured credential store and returns the
// readiness checks for it.
func openStore(ctx context.Context, cfg config.Config, autoMigrate bool, log *zap.Logger) (auth.UserStore, map[string]handler.Check, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		rdb, err := config.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, nil, nil, oops.Code("STORE_CONNECT_FAILED").With("backend", "redis").Wrap(err)
		}
		checks := map[string]handler.Check{"redis": redisCheck(rdb)}
		return repository.NewRedisUserRepo(rdb, cfg.Redis.KeyPrefix), checks, func() { _ = rdb.Close() }, nil

	default:
		db, err := database.Open(cfg.DB)
		if err != nil {
			return nil, nil, nil, oops.Code("STORE_CONNECT_FAILED").With("backend", "mysql").Wrap(err)
		}
		if autoMigrate {
			if err := database.Migrate(ctx, db, "up"); err != nil {
				db.Close()
				return nil, nil, nil, oops.Code("MIGRATION_FAILED").Wrap(err)
			}
			log.Info("migrations applied")
		}
		checks := map[string]handler.Check{"mysql": mysqlCheck(db)}
		return repository.NewUserRepo(db), checks, func() { _ = db.Close() }, nil
	}
}

func mysqlCheck(db *sql.DB) handler.Check {
	return func(ctx context.Context) error { return db.PingContext(ctx) }
}

func redisCheck(rdb *redis.Client) handler.Check {
	return func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
}
