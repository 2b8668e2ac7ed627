package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/icu/icu/internal/config"
	"github.com/icu/icu/internal/domain/clinical"
	"github.com/icu/icu/internal/domain/notification"
	"github.com/icu/icu/internal/domain/patient"
	"github.com/icu/icu/internal/domain/report"
	"github.com/icu/icu/internal/domain/user"
	"github.com/icu/icu/internal/platform/auth"
	"github.com/icu/icu/internal/platform/db"
	"github.com/icu/icu/internal/platform/feed"
	"github.com/icu/icu/internal/platform/middleware"
	"github.com/icu/icu/internal/platform/reconcile"
	"github.com/icu/icu/internal/platform/telemetry"
	"github.com/icu/icu/migrations"
)

const shutdownTimeout = 10 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:   "icu-server",
		Short: "ICU patient admission and discharge API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(tasksCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ICU API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
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
	})

	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the first Admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, _ := cmd.Flags().GetString("code")
			name, _ := cmd.Flags().GetString("name")
			if code == "" || name == "" {
				return fmt.Errorf("--code and --name are required")
			}

			ctx := cmd.Context()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			// Seeding never issues a session, so the store is throwaway.
			store := auth.NewMemoryStore(time.Minute)
			defer store.Close()
			svc := user.NewService(user.NewRepoPG(pool), db.NewTransactor(pool), store,
				auth.NewTokenIssuer([]byte("seed")), zerolog.Nop())

			u, created, err := svc.Seed(ctx, code, name)
			if err != nil {
				return err
			}
			if created {
				fmt.Printf("Created admin %s (%s).\n", u.EmployeeCode, u.ID)
			} else {
				fmt.Printf("Admin %s already exists.\n", u.EmployeeCode)
			}
			return nil
		},
	}
	cmd.Flags().String("code", "", "Employee code of the admin")
	cmd.Flags().String("name", "", "Display name of the admin")
	return cmd
}

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List discharge housekeeping tasks by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			ctx := cmd.Context()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			runner := reconcile.NewRunner(reconcile.NewRepo(pool), 1, zerolog.Nop())
			tasks, err := runner.Tasks(ctx, reconcile.Status(status), limit)
			if err != nil {
				return err
			}
			printTasks(os.Stdout, tasks)
			return nil
		},
	}
	cmd.Flags().String("status", string(reconcile.StatusDead), "Task status: pending, done or dead")
	cmd.Flags().Int("limit", 50, "Maximum number of tasks to list")
	return cmd
}

func printTasks(w io.Writer, tasks []*reconcile.Task) {
	fmt.Fprintf(w, "%-36s %-24s %-8s %-20s %s\n", "ID", "KIND", "ATTEMPTS", "UPDATED AT", "LAST ERROR")
	for _, t := range tasks {
		lastErr := ""
		if t.LastError != nil {
			lastErr = *t.LastError
		}
		fmt.Fprintf(w, "%-36s %-24s %-8d %-20s %s\n", t.ID, t.Kind, t.Attempts,
			t.UpdatedAt.Format("2006-01-02 15:04:05"), lastErr)
	}
}

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.DBConnectTimeout)
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// server holds the wired HTTP surface and the background loops it depends on.
type server struct {
	echo     *echo.Echo
	hub      *feed.Hub
	listener *feed.Listener
	runner   *reconcile.Runner
}

// newServer wires every service onto pool. extraChecks join the health report.
func newServer(cfg *config.Config, pool *pgxpool.Pool, store auth.SessionStore,
	extraChecks map[string]db.Check, logger zerolog.Logger) *server {
	tokens := auth.NewTokenIssuer(cfg.SigningKey())
	tx := db.NewTransactor(pool)
	runner := reconcile.NewRunner(reconcile.NewRepo(pool), cfg.ReconcileMaxAttempts, logger)

	notifSvc := notification.NewService(notification.NewRepoPG(pool), logger)
	patientSvc := patient.NewService(
		patient.NewPatientRepoPG(pool),
		patient.NewEpisodeRepoPG(pool),
		patient.NewDischargeRepoPG(pool),
		tx, runner,
		patient.Options{
			ReadmissionWindow:    cfg.ReadmissionWindow,
			DischargedVisibleFor: cfg.DischargedVisibleFor,
		},
		logger,
	)
	clinicalSvc := clinical.NewService(clinical.Repos{
		Vitals:      clinical.NewVitalsRepoPG(pool),
		Medications: clinical.NewMedicationRepoPG(pool),
		Labs:        clinical.NewLabRepoPG(pool),
		Procedures:  clinical.NewProcedureRepoPG(pool),
		Notes:       clinical.NewNoteRepoPG(pool),
	}, patientSvc, logger)
	patient.RegisterTasks(runner, clinicalSvc, notifSvc)
	userSvc := user.NewService(user.NewRepoPG(pool), tx, store, tokens, logger)
	reportSvc := report.NewService(report.NewRepoPG(pool), cfg.BedCapacity, cfg.ReadmissionWindow, logger)

	hub := feed.NewHub(logger)
	projector := notification.NewProjector(notifSvc, patientSvc, logger)
	listener := feed.NewListener(pool, logger, hub, projector)
	listener.OnReconnect(hub.Resync)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(telemetry.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	checks := map[string]db.Check{
		"database": db.PingCheck(pool),
		"feed":     listener.Check,
	}
	for name, check := range extraChecks {
		checks[name] = check
	}
	e.GET("/health", db.HealthHandler(pool, checks))
	e.GET("/metrics", telemetry.Handler())

	api := e.Group("/api/v1")
	limits := middleware.DefaultRateLimitConfig()
	limits.RequestsPerSecond = cfg.RateLimitRPS
	limits.BurstSize = cfg.RateLimitBurst
	api.Use(middleware.RateLimit(limits))
	api.Use(auth.Authenticate(tokens, store, auth.AuthSkipper))

	user.NewHandler(userSvc).RegisterRoutes(api)
	patient.NewHandler(patientSvc).RegisterRoutes(api)
	clinical.NewHandler(clinicalSvc).RegisterRoutes(api)
	notification.NewHandler(notifSvc).RegisterRoutes(api)
	report.NewHandler(reportSvc).RegisterRoutes(api)
	feed.NewHandler(hub, store, cfg.CORSOrigins).RegisterRoutes(api)

	return &server{echo: e, hub: hub, listener: listener, runner: runner}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.DBConnectTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var store auth.SessionStore
	extraChecks := map[string]db.Check{}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		client := redis.NewClient(opts)
		defer client.Close()
		redisStore := auth.NewRedisStore(client, cfg.SessionIdleTimeout)
		extraChecks["sessions"] = redisStore.Ping
		store = redisStore
		logger.Info().Msg("using redis session store")
	} else {
		memStore := auth.NewMemoryStore(cfg.SessionIdleTimeout)
		memStore.StartSweeper(cfg.SessionSweepInterval, logger)
		defer memStore.Close()
		store = memStore
	}

	srv := newServer(cfg, pool, store, extraChecks, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.listener.Run(gctx) })
	g.Go(func() error {
		srv.runner.Worker(gctx, cfg.ReconcileInterval)
		return nil
	})
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting ICU server")
		if err := srv.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.echo.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
