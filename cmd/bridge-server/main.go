package main

import (
	"context"
	"fmt"
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

	"github.com/ayushbridge/bridge/internal/config"
	"github.com/ayushbridge/bridge/internal/domain/conceptmap"
	"github.com/ayushbridge/bridge/internal/domain/terminology"
	"github.com/ayushbridge/bridge/internal/platform/auth"
	"github.com/ayushbridge/bridge/internal/platform/cache"
	"github.com/ayushbridge/bridge/internal/platform/db"
	"github.com/ayushbridge/bridge/internal/platform/fhir"
	"github.com/ayushbridge/bridge/internal/platform/metrics"
	"github.com/ayushbridge/bridge/internal/platform/middleware"
	"github.com/ayushbridge/bridge/pkg/pagination"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "bridge-server",
		Short:        "NAMASTE and ICD-11 terminology bridge",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(translateCmd())
	rootCmd.AddCommand(expandCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the terminology API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger() zerolog.Logger {
	if os.Getenv("ENV") == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openPool connects to Postgres, or returns nil when DATABASE_URL is unset.
func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

// buildSources returns the configured sources in merge order: Postgres,
// then the FHIR directory, then the NAMASTE spreadsheet.
func buildSources(cfg *config.Config, pool *pgxpool.Pool) []terminology.Source {
	var sources []terminology.Source
	if pool != nil {
		sources = append(sources, terminology.NewPGSource(pool))
	}
	if cfg.TerminologyDir != "" {
		sources = append(sources, terminology.NewFHIRDirSource(cfg.TerminologyDir))
	}
	if cfg.NamasteXLSX != "" {
		sources = append(sources, terminology.NewNamasteSheetSource(cfg.NamasteXLSX, cfg.NamasteSystemURL, ""))
	}
	return sources
}

func translateOptions(cfg *config.Config) conceptmap.Options {
	return conceptmap.Options{
		SymmetricInversion: cfg.TranslateSymmetricInversion,
		MaxHops:            cfg.TranslateMaxHops,
	}
}

func expandLimits(cfg *config.Config) pagination.Limits {
	return pagination.Limits{Default: cfg.ExpandDefaultCount, Max: cfg.ExpandMaxCount}
}

// newResultCache returns a Redis cache when REDIS_URL is set and an
// in-process LRU otherwise. The returned func releases the connection.
func newResultCache(ctx context.Context, cfg *config.Config) (cache.ResultCache, func(), error) {
	if cfg.RedisURL == "" {
		return cache.NewMemoryCache(cfg.CacheSize), func() {}, nil
	}
	client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return cache.NewRedisCache(client, "bridge:"), func() { _ = client.Close() }, nil
}

func adminAuth(cfg *config.Config) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{Issuer: cfg.AuthIssuer, SigningKey: []byte(cfg.AdminJWTSecret)}
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(jwtCfg)
	}
	return auth.JWTMiddleware(jwtCfg)
}

// newServer wires the HTTP surface around svc. pool may be nil.
func newServer(cfg *config.Config, logger zerolog.Logger, svc *terminology.Service, pool *pgxpool.Pool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	// Reloads may outlast a read request.
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/api/v1/admin/"))
	e.Use(middleware.BodyLimit("2M"))

	e.GET("/health", func(c echo.Context) error {
		status := "ok"
		if _, err := svc.Snapshot(); err != nil {
			status = "loading"
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  status,
			"version": version,
		})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}
	e.GET("/metrics", metrics.Handler())

	apiV1 := e.Group("/api/v1")
	fhirGroup := e.Group("/fhir")
	h := terminology.NewHandler(svc, expandLimits(cfg))
	h.RegisterRoutes(apiV1, fhirGroup, adminAuth(cfg))

	capabilities := fhir.NewCapabilityBuilder(fhir.CapabilityConfig{
		ServerVersion: version,
		Publisher:     "Ministry of Ayush, Government of India",
		Description:   "FHIR R4 terminology server for NAMASTE and ICD-11",
	})
	h.RegisterCapabilities(capabilities)
	fhir.NewCapabilityHandler(capabilities).RegisterRoutes(fhirGroup)
	return e
}

func runServer() error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if pool != nil {
		defer pool.Close()
		logger.Info().Msg("connected to database")
	}

	rc, closeCache, err := newResultCache(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer closeCache()

	manager := terminology.NewManager(translateOptions(cfg), logger, buildSources(cfg, pool)...)
	manager.OnSwap(func(s *terminology.Snapshot) {
		if err := rc.Clear(ctx); err != nil {
			logger.Warn().Err(err).Int64("version", s.Version).Msg("failed to clear result cache after swap")
		}
	})
	// Requests get 503 until a load succeeds.
	if _, err := manager.Load(ctx); err != nil {
		logger.Error().Err(err).Msg("initial terminology load failed")
	}
	go manager.Run(ctx, cfg.ReloadInterval)

	svc := terminology.NewService(manager, rc, cfg.CacheTTL, logger)
	e := newServer(cfg, logger, svc, pool)

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
