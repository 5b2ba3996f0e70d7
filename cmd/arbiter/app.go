package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/mikeka317/wager-arbiter/brackets"
	"github.com/mikeka317/wager-arbiter/config"
	"github.com/mikeka317/wager-arbiter/db"
	"github.com/mikeka317/wager-arbiter/ledger"
	"github.com/mikeka317/wager-arbiter/notify"
	"github.com/mikeka317/wager-arbiter/repositories"
	"github.com/mikeka317/wager-arbiter/services"
	"github.com/mikeka317/wager-arbiter/storage"
	"github.com/mikeka317/wager-arbiter/verifier"
)

// app - собранное приложение: база, хаб, сервисы и фоновые воркеры.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB
	hub    *brackets.Hub

	operator    *services.OperatorService
	engine      *services.Engine
	matches     services.MatchService
	scorecards  services.ScorecardService
	arbitration services.ArbitrationService
	disputes    services.DisputeService
	tournaments services.TournamentService
	timers      *services.TimerManager
	settlement  *services.SettlementService
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := cfg.CheckLedger(); err != nil {
		return nil, err
	}

	// Подключение к базе данных
	dbConn, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.CreateSchema(ctx, dbConn); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	logger.Info("database connection established", slog.String("driver", cfg.DatabaseDriver))

	a := &app{cfg: cfg, logger: logger, db: dbConn, hub: brackets.NewHub(logger)}

	// Оповещения операторов: лог всегда, Telegram - если задан токен.
	notifiers := notify.Fanout{notify.NewLogNotifier(logger)}
	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramAdminChatID, logger)
		if err != nil {
			_ = dbConn.Close()
			return nil, fmt.Errorf("failed to initialize telegram notifier: %w", err)
		}
		notifiers = append(notifiers, tg)
		logger.Info("telegram operator notifications enabled")
	}

	// Загрузка доказательств в R2 опциональна.
	var uploader storage.FileUploader
	if cfg.R2Enabled() {
		uploader, err = storage.NewCloudflareR2Uploader(ctx, storage.CloudflareR2UploaderConfig{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		})
		if err != nil {
			_ = dbConn.Close()
			return nil, fmt.Errorf("failed to initialize Cloudflare R2 uploader: %w", err)
		}
		logger.Info("Cloudflare R2 uploader initialized")
	}

	var ldg ledger.Ledger
	if cfg.LedgerURL != "" {
		ldg, err = ledger.NewHTTPLedger(ledger.HTTPLedgerConfig{
			BaseURL: cfg.LedgerURL,
			APIKey:  cfg.LedgerAPIKey,
			Timeout: cfg.LedgerTimeout,
		})
		if err != nil {
			_ = dbConn.Close()
			return nil, fmt.Errorf("failed to initialize ledger client: %w", err)
		}
	} else {
		logger.Warn("LEDGER_URL is not set, settlements are applied to an in-memory ledger (sqlite only)")
		ldg = ledger.NewMemoryLedger()
	}

	v, err := verifier.NewHTTPVerifier(verifier.HTTPVerifierConfig{
		URL:     cfg.VerifierURL,
		APIKey:  cfg.VerifierAPIKey,
		Timeout: cfg.VerifierTimeout,
	})
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to initialize verifier client: %w", err)
	}

	// Инициализация репозиториев
	timerRepo := repositories.NewSQLTimerRepository()
	disputeRepo := repositories.NewSQLDisputeRepository()
	matchRepo := repositories.NewSQLMatchRepository(timerRepo, disputeRepo)
	settlementRepo := repositories.NewSQLSettlementRepository()
	alertRepo := repositories.NewSQLAlertRepository(dbConn)
	tournamentRepo := repositories.NewSQLTournamentRepository(dbConn)

	// Инициализация сервисов
	a.operator = services.NewOperatorService(alertRepo, notifiers, nil, logger)
	a.engine = services.NewEngine(services.EngineDeps{
		DB:          dbConn,
		Matches:     matchRepo,
		Timers:      timerRepo,
		Disputes:    disputeRepo,
		Settlements: settlementRepo,
		Alerts:      a.operator,
		Publisher:   a.hub,
		Logger:      logger,
	}, services.EngineConfig{
		ScorecardWait: cfg.ScorecardWait,
		ProofWait:     cfg.ProofWait,
		NoShowWait:    cfg.NoShowWait,
		FeeAccountID:  cfg.FeeAccountID,
		FeeRate:       cfg.FeeRate,
	})
	a.matches = services.NewMatchService(a.engine)
	a.scorecards = services.NewScorecardService(a.engine)
	a.arbitration = services.NewArbitrationService(a.engine, v, uploader, services.ArbitrationConfig{
		ProofPolicy: cfg.ProofPolicy,
		Timeout:     cfg.VerifierTimeout,
		MaxAttempts: cfg.ArbitrationMaxAttempts,
	})
	a.disputes = services.NewDisputeService(a.engine)
	a.timers = services.NewTimerManager(a.engine, services.TimerConfig{Interval: cfg.SweepInterval})
	a.settlement = services.NewSettlementService(a.engine, ldg, services.SettlementConfig{
		MaxAttempts:   cfg.SettlementMaxAttempts,
		DisputeWindow: cfg.DisputeWindow,
	})
	a.tournaments = services.NewTournamentService(a.engine, tournamentRepo)
	logger.Info("services initialized")

	return a, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database connection", slog.Any("error", err))
		return
	}
	a.logger.Info("database connection closed")
}
