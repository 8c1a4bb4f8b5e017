package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/echovet/echovet/internal/config"
	"github.com/echovet/echovet/internal/domain/refrange"
	"github.com/echovet/echovet/internal/platform/db"
	"github.com/echovet/echovet/internal/platform/middleware"
	"github.com/echovet/echovet/internal/platform/openapi"
	"github.com/echovet/echovet/internal/platform/telemetry"
	"github.com/echovet/echovet/migrations"
)

const (
	metricsNamespace = "echovet"
	apiPrefix        = "/api/v1"
	fhirPrefix       = "/fhir"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "echovet-server",
		Short:         "Echocardiographic reference range service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reftableCmd())
	return rootCmd
}

// newLogger writes JSON to stdout, or console output in development.
// Production drops debug events.
func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg != nil && cfg.IsProduction() {
		return logger.Level(zerolog.InfoLevel)
	}
	return logger
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the reference range API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if !cfg.HasDatabase() {
		return nil, fmt.Errorf("DATABASE_URL is required for this command")
	}
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "echovet",
	})
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
			schema, _ := cmd.Flags().GetString("schema")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrations.FS, schema)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS, schema).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatuses(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatuses(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// openRepository picks the reference table store: PostgreSQL when a database
// is configured, else a CSV directory, else process memory. The returned pool
// is nil unless PostgreSQL is used.
func openRepository(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (refrange.Repository, *pgxpool.Pool, error) {
	switch {
	case cfg.HasDatabase():
		pool, err := connect(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Msg("reference tables stored in postgres")
		return refrange.NewReferenceRepoPG(pool), pool, nil
	case cfg.CSVDir != "":
		logger.Info().Str("dir", cfg.CSVDir).Msg("reference tables stored as csv files")
		return refrange.NewCSVDirRepo(cfg.CSVDir), nil, nil
	}
	logger.Warn().Msg("no DATABASE_URL or REFTABLE_CSV_DIR; uploaded tables are kept in memory only")
	return refrange.NewMemoryRepo(), nil, nil
}

// withService loads config and builds the service the reftable commands
// operate on.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *refrange.Service, species refrange.Species) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg).Level(zerolog.WarnLevel)

	name, _ := cmd.Flags().GetString("species")
	species, err := refrange.ParseSpecies(name)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	repo, pool, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	svc := refrange.NewService(repo, logger, refrange.ServiceConfig{CacheTTL: cfg.CacheTTL})
	return fn(ctx, svc, species)
}

func reftableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reftable",
		Short: "Manage stored reference tables",
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the current reference table as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			return withService(cmd, func(ctx context.Context, svc *refrange.Service, species refrange.Species) error {
				w := cmd.OutOrStdout()
				if out != "" {
					f, err := os.Create(out)
					if err != nil {
						return fmt.Errorf("create %s: %w", out, err)
					}
					defer f.Close()
					w = f
				}
				return svc.ExportCSV(ctx, species, w)
			})
		},
	}
	exportCmd.Flags().String("out", "", "Output file (default stdout)")

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the stored reference table from a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			return withService(cmd, func(ctx context.Context, svc *refrange.Service, species refrange.Species) error {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open %s: %w", file, err)
				}
				defer f.Close()

				table, err := svc.ImportCSV(ctx, species, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d row(s), %d parameter(s) for %s.\n",
					len(table.Rows), len(table.RefKeys()), species)
				return nil
			})
		},
	}
	importCmd.Flags().String("file", "", "CSV file to import")

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the stored reference table and fall back to defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *refrange.Service, species refrange.Species) error {
				if err := svc.ResetTable(ctx, species); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reference table for %s reset to defaults.\n", species)
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{exportCmd, importCmd, resetCmd} {
		c.Flags().String("species", "", "Species (canine or feline)")
		_ = c.MarkFlagRequired("species")
		cmd.AddCommand(c)
	}
	return cmd
}

// newServer assembles the echo instance. collector and pool may be nil.
func newServer(cfg *config.Config, logger zerolog.Logger, svc *refrange.Service, collector *telemetry.Collector, pool *pgxpool.Pool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if collector != nil {
		e.Use(collector.Middleware())
	}
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	if collector != nil {
		e.GET("/metrics", echo.WrapHandler(collector.Handler()))
	}

	apiV1 := e.Group(apiPrefix)
	fhirGroup := e.Group(fhirPrefix)
	handler := refrange.NewHandler(svc)
	handler.RegisterRoutes(apiV1, fhirGroup)

	docs := openapi.NewGenerator(e, version, "http://localhost:"+cfg.Port)
	handler.Document(docs, apiPrefix, fhirPrefix)
	docs.RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		l := newLogger(nil)
		l.Error().Err(err).Msg("failed to load config")
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	repo, pool, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open reference table store")
		return err
	}
	if pool != nil {
		defer pool.Close()
		logger.Info().Msg("connected to database")
	}

	var collector *telemetry.Collector
	svcCfg := refrange.ServiceConfig{CacheTTL: cfg.CacheTTL}
	if cfg.MetricsEnabled {
		collector = telemetry.NewCollector(metricsNamespace)
		svcCfg.Observer = collector
		if pool != nil {
			collector.RegisterPoolStats(metricsNamespace, db.ConnCounts(pool))
		}
	}
	svc := refrange.NewService(repo, logger, svcCfg)

	// Warm the cache so the first request does not pay for the load.
	for _, sp := range refrange.AllSpecies() {
		if _, err := svc.Table(ctx, sp); err != nil {
			logger.Warn().Err(err).Str("species", string(sp)).Msg("reference table warm-up failed")
		}
	}

	e := newServer(cfg, logger, svc, collector, pool)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
