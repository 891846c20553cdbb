package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/clinic/registry/internal/config"
	"github.com/clinic/registry/internal/domain/patient"
	"github.com/clinic/registry/internal/platform/auth"
	"github.com/clinic/registry/internal/platform/db"
	"github.com/clinic/registry/internal/platform/events"
	"github.com/clinic/registry/internal/platform/logging"
	"github.com/clinic/registry/internal/platform/metrics"
	"github.com/clinic/registry/internal/platform/redis"
	"github.com/clinic/registry/internal/platform/reporting"
	"github.com/clinic/registry/internal/platform/telemetry"
	"github.com/clinic/registry/internal/platform/websocket"
)

const shutdownTimeout = 15 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:          "clinic-server",
		Short:        "Clinic patient registry API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(dbcheckCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the clinic API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx)
		},
	}
}

// loadConfig reads and validates configuration and builds the root logger.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid config: %w", err)
	}
	logger := logging.New(logging.Options{
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: serviceName,
	})
	return cfg, logger, nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}

// newPatientService wires the patient workflows to the store.
func newPatientService(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) *patient.Service {
	svc := patient.NewService(patient.NewRepo(pool), db.NewTransactor(pool), patient.NewValidator(cfg.PhoneCountryCode))
	svc.SetLogger(logger)
	return svc
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) > 0 {
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing events to kafka")
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	return events.NewLogPublisher(logger)
}

// jwtSecret returns the configured signing key or, outside production, a
// random per-process key.
func jwtSecret(cfg *config.Config, logger zerolog.Logger) ([]byte, error) {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret), nil
	}
	buf := make([]byte, 32)
	if _, err := crypto_rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate jwt secret: %w", err)
	}
	logger.Warn().Msg("JWT_SECRET not set, using a random key; tokens will not survive a restart")
	return []byte(hex.EncodeToString(buf)), nil
}

func newSessionStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (auth.SessionStore, func(), error) {
	client, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		logger.Info().Msg("REDIS_URL not set, sessions are kept in memory")
		return auth.NewMemorySessionStore(), func() {}, nil
	}
	logger.Info().Msg("sessions stored in redis")
	return auth.NewRedisSessionStore(client.Client), func() { _ = client.Close() }, nil
}

func newCredentialStore(cfg *config.Config, logger zerolog.Logger) (auth.CredentialStore, error) {
	creds := auth.NewMemoryCredentialStore()
	if cfg.DemoUsers {
		if err := auth.LoadDemoUsers(creds); err != nil {
			return nil, fmt.Errorf("load demo users: %w", err)
		}
		logger.Warn().Msg("demo users enabled")
	}
	return creds, nil
}

func runServer(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	shutdownTracing, err := telemetry.Setup(telemetry.Config{
		ServiceName: serviceName,
		Enabled:     cfg.TracingEnabled,
	}, logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}

	// Database
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	m := metrics.New()
	m.RegisterHostCollectors()
	m.RegisterPool(pool)

	hub := websocket.NewHub(logger)
	publisher := events.Fanout{newPublisher(cfg, logger), hub}
	svc := newPatientService(cfg, pool, logger)
	svc.SetPublisher(publisher)
	svc.SetMetrics(m)

	sessions, closeSessions, err := newSessionStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer closeSessions()

	creds, err := newCredentialStore(cfg, logger)
	if err != nil {
		return err
	}
	secret, err := jwtSecret(cfg, logger)
	if err != nil {
		return err
	}

	srv := &server{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		patients: svc,
		reports:  reporting.NewStore(pool),
		dbHealth: db.PoolHealthHandler(pool),
		creds:    creds,
		sessions: sessions,
		tokens:   auth.NewTokens(secret),
		hub:      hub,
	}
	e := srv.routes()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting clinic server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := e.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		if err := publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
