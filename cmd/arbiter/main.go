// @title Wager Arbiter API
// @version 1.0
// @description Разрешение исходов дуэлей со ставками: протоколы, ИИ-арбитраж, споры и расчёты.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mikeka317/wager-arbiter/config"
	"github.com/mikeka317/wager-arbiter/db"
	_ "github.com/mikeka317/wager-arbiter/docs"
	"github.com/mikeka317/wager-arbiter/handlers"
	"github.com/mikeka317/wager-arbiter/middleware"
	"github.com/mikeka317/wager-arbiter/models"
	api "github.com/mikeka317/wager-arbiter/routes"
	"github.com/urfave/cli/v3"
)

const reconcileInterval = 30 * time.Second // How often brackets are reconciled

func main() {
	cmd := &cli.Command{
		Name:  "arbiter",
		Usage: "outcome resolution engine for wagered matches",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and background workers",
				Action: runServe,
			},
			{
				Name:   "migrate",
				Usage:  "create database tables and indexes",
				Action: runMigrate,
			},
			{
				Name:   "sweep",
				Usage:  "fire expired timers, dispatch settlements and reconcile brackets once",
				Action: runSweep,
			},
			{
				Name:  "token",
				Usage: "issue a bearer token for a user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Required: true},
					&cli.StringFlag{Name: "role", Value: string(models.RolePlayer)},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
				},
				Action: runToken,
			},
		},
		DefaultCommand: "serve",
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// setup загружает конфигурацию и настраивает логгер.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func runMigrate(ctx context.Context, _ *cli.Command) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	dbConn, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbConn.Close()
	if err := db.CreateSchema(ctx, dbConn); err != nil {
		return err
	}
	logger.Info("schema is up to date")
	return nil
}

func runSweep(ctx context.Context, _ *cli.Command) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	fired, err := a.timers.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("timer sweep failed: %w", err)
	}
	if err := a.tournaments.ReconcileActive(ctx); err != nil {
		logger.Error("bracket reconcile failed", slog.Any("error", err))
	}
	applied, err := a.settlement.Dispatch(ctx)
	if err != nil {
		return fmt.Errorf("settlement dispatch failed: %w", err)
	}
	archived, err := a.settlement.Archive(ctx)
	if err != nil {
		return fmt.Errorf("archive failed: %w", err)
	}
	logger.Info("sweep complete",
		slog.Int("timers_fired", fired),
		slog.Int("settlements_processed", applied),
		slog.Int("matches_archived", archived))
	return nil
}

func runToken(_ context.Context, cmd *cli.Command) error {
	secret := os.Getenv("JWT_SECRET_KEY")
	if secret == "" {
		return errors.New("JWT_SECRET_KEY environment variable is not set")
	}
	token, err := middleware.IssueToken([]byte(secret), cmd.String("user"), models.UserRole(cmd.String("role")), cmd.Duration("ttl"))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, token)
	return err
}

func runServe(ctx context.Context, _ *cli.Command) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	// Инициализация WebSocket Hub
	go a.hub.Run(workersCtx)
	logger.Info("WebSocket Hub started")

	if err := a.timers.Start(workersCtx); err != nil {
		return fmt.Errorf("failed to start timer manager: %w", err)
	}
	defer a.timers.Stop()
	a.settlement.Start(workersCtx)
	defer a.settlement.Stop()

	// Планировщик сверки сеток: страховка для переходов, пропущенных при падении процесса.
	go func() {
		ticker := time.NewTicker(reconcileInterval)
		defer ticker.Stop()
		logger.Info("bracket reconcile scheduler started", slog.Duration("interval", reconcileInterval))

		if err := a.tournaments.ReconcileActive(workersCtx); err != nil {
			logger.Error("Scheduler: initial reconcile failed", slog.Any("error", err))
		}
		for {
			select {
			case <-workersCtx.Done():
				return
			case <-ticker.C:
				if err := a.tournaments.ReconcileActive(workersCtx); err != nil {
					logger.Error("Scheduler: periodic reconcile failed", slog.Any("error", err))
				}
			}
		}
	}()

	// Инициализация обработчиков HTTP
	matchHandler := handlers.NewMatchHandler(a.matches, a.scorecards, a.arbitration, a.disputes, a.timers, a.settlement)
	disputeHandler := handlers.NewDisputeHandler(a.disputes)
	tournamentHandler := handlers.NewTournamentHandler(a.tournaments)
	operatorHandler := handlers.NewOperatorHandler(a.operator)
	webSocketHandler := handlers.NewWebSocketHandler(a.hub, logger)
	logger.Info("HTTP handlers initialized")

	// Настройка маршрутизатора
	router := chi.NewRouter()
	api.SetupRoutes(
		router,
		api.Options{JWTSecret: []byte(cfg.JWTSecretKey), AllowedOrigins: cfg.CORSAllowedOrigins},
		matchHandler,
		disputeHandler,
		tournamentHandler,
		operatorHandler,
		webSocketHandler,
	)
	logger.Info("Routes configured")

	// Настройка и запуск HTTP-сервера
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("server stopped gracefully")
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		logger.Info("shutting down server", slog.Duration("timeout", 15*time.Second))
		if err := server.Shutdown(shutdownCtx); err != nil {
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		logger.Info("server shutdown complete")
	}
	logger.Info("application exited")
	return nil
}
