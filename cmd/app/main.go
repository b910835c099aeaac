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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/djtdigital/jornada/internal/assign"
	"github.com/djtdigital/jornada/internal/auth"
	"github.com/djtdigital/jornada/internal/config"
	"github.com/djtdigital/jornada/internal/handlers"
	"github.com/djtdigital/jornada/internal/repository"
	"github.com/djtdigital/jornada/internal/roles"
	"github.com/djtdigital/jornada/internal/scope"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting scope and assignment service",
		zap.String("server_address", cfg.Server.GetAddress()))

	dbPool, err := initDatabase(context.Background(), cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	logger.Info("database connection established")

	repo := repository.New(dbPool)
	resolver := scope.NewResolver(repo, roles.DefaultHierarchy(), logger)
	engine := assign.New(repo, logger)
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	handler := handlers.New(repo, resolver, engine, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error == nil {
				logger.Info("request",
					zap.String("method", c.Request().Method),
					zap.String("uri", v.URI),
					zap.Int("status", v.Status),
				)
			} else {
				logger.Error("request error",
					zap.String("method", c.Request().Method),
					zap.String("uri", v.URI),
					zap.Int("status", v.Status),
					zap.Error(v.Error),
				)
			}
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	handler.RegisterRoutes(e, verifier.Middleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Assigner.Interval > 0 {
		go runAssignScheduler(ctx, engine, cfg.Assigner.Interval, logger)
	}

	go func() {
		addr := cfg.Server.GetAddress()
		logger.Info("server listening", zap.String("address", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server start failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
}

// runAssignScheduler runs the assignment batch on a fixed interval.
// Overlap with an HTTP-triggered run is resolved by the batch lock, so
// a colliding tick simply does nothing.
func runAssignScheduler(ctx context.Context, engine *assign.Engine, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("assignment scheduler started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			logger.Info("assignment scheduler stopped")
			return
		case <-ticker.C:
			if _, err := engine.AssignPending(ctx); err != nil {
				logger.Error("scheduled assignment batch failed", zap.Error(err))
			}
		}
	}
}

// initLogger initializes the zap logger from configuration.
func initLogger(cfg config.LoggerConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

// initDatabase initializes the PostgreSQL connection pool.
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
