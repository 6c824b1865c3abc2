package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/labsecure/labsecure/internal/audit"
	"github.com/labsecure/labsecure/internal/config"
	"github.com/labsecure/labsecure/internal/domain/access"
	"github.com/labsecure/labsecure/internal/domain/ingestion"
	"github.com/labsecure/labsecure/internal/domain/lifecycle"
	"github.com/labsecure/labsecure/internal/domain/notification"
	"github.com/labsecure/labsecure/internal/domain/patient"
	"github.com/labsecure/labsecure/internal/domain/processing"
	"github.com/labsecure/labsecure/internal/domain/result"
	"github.com/labsecure/labsecure/internal/platform/blob"
	"github.com/labsecure/labsecure/internal/platform/db"
	"github.com/labsecure/labsecure/internal/platform/metrics"
	"github.com/labsecure/labsecure/internal/platform/middleware"
	"github.com/labsecure/labsecure/internal/platform/queue"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "labsecure",
		Short: "Lab results compliance service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(notifierCmd())
	rootCmd.AddCommand(lifecycleCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			allInOne, _ := cmd.Flags().GetBool("all-in-one")
			return runServer(allInOne)
		},
	}
	cmd.Flags().Bool("all-in-one", false, "Also run the worker, notifier, and lifecycle loops in-process")
	return cmd
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the result processing worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsumer(func(ctx context.Context, b *backends, cfg *config.Config, logger zerolog.Logger) error {
				w := processing.NewWorker(b.tasks, b.notify, b.raw, b.results, b.ledger, b.metrics, logger, processing.Options{
					Retention:         retentionDuration(cfg),
					BatchSize:         cfg.WorkerBatchSize,
					WaitTime:          cfg.WorkerWait(),
					VisibilityTimeout: cfg.VisibilityTimeout(),
				})
				return w.Run(ctx)
			})
		},
	}
}

func notifierCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notifier",
		Short: "Run the notification dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsumer(func(ctx context.Context, b *backends, cfg *config.Config, logger zerolog.Logger) error {
				d := notification.NewDispatcher(b.notify, b.patients, b.results, b.sender, b.ledger, b.metrics, logger, notification.Options{
					BatchSize:         cfg.WorkerBatchSize,
					WaitTime:          cfg.WorkerWait(),
					VisibilityTimeout: cfg.VisibilityTimeout(),
				})
				return d.Run(ctx)
			})
		},
	}
}

func lifecycleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lifecycle",
		Short: "Run retention sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			once, _ := cmd.Flags().GetBool("once")
			return runConsumer(func(ctx context.Context, b *backends, cfg *config.Config, logger zerolog.Logger) error {
				eng := lifecycle.NewEngine(b.results, b.ledger, b.metrics, logger)
				if once {
					handled, err := eng.Sweep(ctx)
					if err != nil {
						return err
					}
					logger.Info().Int("handled", handled).Msg("sweep complete")
					return nil
				}
				return eng.Run(ctx, cfg.LifecycleEvery())
			})
		},
	}
	cmd.Flags().Bool("once", false, "Run a single sweep and exit")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s).\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the demo patient directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for seeding")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			store := patient.NewPGStore(pool)
			if err := patient.Seed(ctx, store, patient.SeedPatients()); err != nil {
				return err
			}
			fmt.Printf("Seeded %d patient(s).\n", len(patient.SeedPatients()))
			return nil
		},
	}
}

// backends bundles the storage and transport implementations a process
// works against. With DATABASE_URL and REDIS_URL set the process shares
// state with its peers; without them everything is in-memory and the
// process is self-contained.
type backends struct {
	pool     *pgxpool.Pool
	results  result.Store
	patients patient.Store
	ledger   *audit.Ledger
	raw      blob.Store
	reports  blob.Store
	tasks    queue.Queue
	notify   queue.Queue
	sender   notification.EmailSender
	metrics  *metrics.Metrics
}

func buildBackends(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backends, error) {
	b := &backends{
		raw:     blob.NewInMemoryStore(),
		reports: blob.NewInMemoryStore(),
		sender:  &notification.LogEmailSender{Log: logger},
		metrics: metrics.New(),
	}

	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		b.pool = pool
		b.results = result.NewPGStore(pool)
		b.patients = patient.NewPGStore(pool)
		b.ledger = audit.NewLedger(audit.NewPGStore(pool))
		logger.Info().Msg("connected to database")
	} else {
		b.results = result.NewInMemoryStore()
		patients := patient.NewInMemoryStore()
		if err := patient.Seed(ctx, patients, patient.SeedPatients()); err != nil {
			return nil, err
		}
		b.patients = patients
		b.ledger = audit.NewLedger(audit.NewInMemoryStore())
		logger.Warn().Msg("DATABASE_URL not set, using in-memory stores")
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		b.tasks = queue.NewRedisQueue(client, "labsecure:tasks", cfg.MaxReceiveCount)
		b.notify = queue.NewRedisQueue(client, "labsecure:notify", cfg.MaxReceiveCount)
		logger.Info().Msg("connected to redis")
	} else {
		b.tasks = queue.NewInMemoryQueue(cfg.MaxReceiveCount)
		b.notify = queue.NewInMemoryQueue(cfg.MaxReceiveCount)
		logger.Warn().Msg("REDIS_URL not set, using in-memory queues")
	}

	return b, nil
}

func (b *backends) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func signingKey(cfg *config.Config, logger zerolog.Logger) []byte {
	if cfg.ReportSigningKey != "" {
		return []byte(cfg.ReportSigningKey)
	}
	// Config validation rejects an empty key in production, so this
	// branch only runs in development.
	raw := make([]byte, 32)
	if _, err := crypto_rand.Read(raw); err != nil {
		logger.Fatal().Err(err).Msg("failed to generate signing key")
	}
	logger.Warn().Msg("REPORT_SIGNING_KEY not set, generated an ephemeral key; download links will not survive a restart")
	return []byte(hex.EncodeToString(raw))
}

func retentionDuration(cfg *config.Config) time.Duration {
	return time.Duration(cfg.RetentionYears) * 365 * 24 * time.Hour
}

// runConsumer is the shared scaffold for the worker, notifier, and
// lifecycle subcommands: load config, build backends, run the loop until
// SIGINT or SIGTERM.
func runConsumer(run func(ctx context.Context, b *backends, cfg *config.Config, logger zerolog.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := buildBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := run(ctx, b, cfg, logger); err != nil && err != context.Canceled {
		return err
	}
	logger.Info().Msg("consumer stopped")
	return nil
}

func runServer(allInOne bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := buildBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Services
	signer := access.NewTokenSigner(signingKey(cfg, logger), cfg.ReportLinkDuration())
	ingestSvc := ingestion.NewService(b.raw, b.tasks, b.results, b.ledger, b.metrics, logger)
	accessSvc := access.NewService(b.results, b.patients, b.reports, signer, b.ledger, b.metrics, logger)

	apiV1 := e.Group("/api/v1")
	ingestion.NewHandler(ingestSvc).RegisterRoutes(apiV1)
	access.NewHandler(accessSvc).RegisterRoutes(apiV1)

	audit.NewHandler(b.ledger).RegisterRoutes(e.Group(""))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if b.pool != nil {
		e.GET("/health/db", db.HealthHandler(b.pool))
	}

	// In development the serve command can host the whole pipeline so a
	// single process exercises ingest, processing, notification, and
	// retention against shared in-memory backends.
	if allInOne {
		worker := processing.NewWorker(b.tasks, b.notify, b.raw, b.results, b.ledger, b.metrics, logger, processing.Options{
			Retention:         retentionDuration(cfg),
			BatchSize:         cfg.WorkerBatchSize,
			WaitTime:          cfg.WorkerWait(),
			VisibilityTimeout: cfg.VisibilityTimeout(),
		})
		dispatcher := notification.NewDispatcher(b.notify, b.patients, b.results, b.sender, b.ledger, b.metrics, logger, notification.Options{
			BatchSize:         cfg.WorkerBatchSize,
			WaitTime:          cfg.WorkerWait(),
			VisibilityTimeout: cfg.VisibilityTimeout(),
		})
		engine := lifecycle.NewEngine(b.results, b.ledger, b.metrics, logger)

		go func() {
			if err := worker.Run(ctx); err != nil && err != context.Canceled {
				logger.Error().Err(err).Msg("worker stopped")
			}
		}()
		go func() {
			if err := dispatcher.Run(ctx); err != nil && err != context.Canceled {
				logger.Error().Err(err).Msg("notifier stopped")
			}
		}()
		go func() {
			if err := engine.Run(ctx, cfg.LifecycleEvery()); err != nil && err != context.Canceled {
				logger.Error().Err(err).Msg("lifecycle stopped")
			}
		}()
		logger.Info().Msg("running worker, notifier, and lifecycle in-process")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
