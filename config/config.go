package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	ProofPolicyFirst = "first"
	ProofPolicyBoth  = "both"
)

// Config хранит все конфигурационные параметры приложения.
type Config struct {
	DatabaseDriver string
	DatabaseURL    string
	JWTSecretKey   string
	ServerPort     int
	LogLevel       slog.Level

	ScorecardWait time.Duration
	ProofWait     time.Duration
	NoShowWait    time.Duration // 0 - таймер неявки выключен
	DisputeWindow time.Duration
	ProofPolicy   string
	SweepInterval time.Duration

	VerifierURL            string
	VerifierAPIKey         string
	VerifierTimeout        time.Duration
	ArbitrationMaxAttempts int

	LedgerURL             string
	LedgerAPIKey          string
	LedgerTimeout         time.Duration
	SettlementMaxAttempts int
	FeeAccountID          string
	FeeRate               decimal.Decimal

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicBaseURL   string

	TelegramBotToken    string
	TelegramAdminChatID int64

	CORSAllowedOrigins []string
}

// R2Enabled - загрузка доказательств доступна только при полной конфигурации R2.
func (c *Config) R2Enabled() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" &&
		c.R2BucketName != "" && c.R2PublicBaseURL != ""
}

// CheckLedger не даёт production-базе проводить выплаты через ledger в памяти:
// без LEDGER_URL допускается только локальный запуск на SQLite.
func (c *Config) CheckLedger() error {
	if c.LedgerURL == "" && c.DatabaseDriver != DriverSQLite {
		return fmt.Errorf("LEDGER_URL environment variable is not set (in-memory ledger is allowed only with DATABASE_DRIVER=%s)", DriverSQLite)
	}
	return nil
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подгружает .env файл (полезно для локальной разработки).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseDriver: envOr("DATABASE_DRIVER", DriverPostgres),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		JWTSecretKey:   os.Getenv("JWT_SECRET_KEY"),
		ProofPolicy:    envOr("PROOF_POLICY", ProofPolicyFirst),

		VerifierURL:    os.Getenv("VERIFIER_URL"),
		VerifierAPIKey: os.Getenv("VERIFIER_API_KEY"),
		LedgerURL:      os.Getenv("LEDGER_URL"),
		LedgerAPIKey:   os.Getenv("LEDGER_API_KEY"),
		FeeAccountID:   envOr("FEE_ACCOUNT_ID", "platform-fees"),

		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
		R2PublicBaseURL:   os.Getenv("R2_PUBLIC_BASE_URL"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	if cfg.DatabaseDriver != DriverPostgres && cfg.DatabaseDriver != DriverSQLite {
		return nil, fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, cfg.DatabaseDriver)
	}
	if cfg.DatabaseURL == "" {
		if cfg.DatabaseDriver != DriverSQLite {
			return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
		}
		cfg.DatabaseURL = "file:arbiter.db?_pragma=busy_timeout(5000)"
	}
	if cfg.JWTSecretKey == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY environment variable is not set")
	}
	if cfg.ProofPolicy != ProofPolicyFirst && cfg.ProofPolicy != ProofPolicyBoth {
		return nil, fmt.Errorf("PROOF_POLICY must be %q or %q, got %q", ProofPolicyFirst, ProofPolicyBoth, cfg.ProofPolicy)
	}

	var err error
	if cfg.ServerPort, err = intEnv("SERVER_PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.ServerPort <= 0 || cfg.ServerPort > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", cfg.ServerPort)
	}
	if err = cfg.LogLevel.UnmarshalText([]byte(envOr("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL environment variable: %w", err)
	}

	durations := []struct {
		key  string
		def  time.Duration
		dst  *time.Duration
		zero bool
	}{
		{"SCORECARD_WAIT", 5 * time.Minute, &cfg.ScorecardWait, false},
		{"PROOF_WAIT", 30 * time.Minute, &cfg.ProofWait, false},
		{"NO_SHOW_WAIT", 0, &cfg.NoShowWait, true},
		{"DISPUTE_WINDOW", 24 * time.Hour, &cfg.DisputeWindow, false},
		{"SWEEP_INTERVAL", time.Second, &cfg.SweepInterval, false},
		{"VERIFIER_TIMEOUT", 30 * time.Second, &cfg.VerifierTimeout, false},
		{"LEDGER_TIMEOUT", 10 * time.Second, &cfg.LedgerTimeout, false},
	}
	for _, d := range durations {
		if *d.dst, err = durationEnv(d.key, d.def); err != nil {
			return nil, err
		}
		if *d.dst < 0 || (*d.dst == 0 && !d.zero) {
			return nil, fmt.Errorf("%s must be positive, got %s", d.key, *d.dst)
		}
	}

	if cfg.ArbitrationMaxAttempts, err = intEnv("ARBITRATION_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.SettlementMaxAttempts, err = intEnv("SETTLEMENT_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.ArbitrationMaxAttempts < 1 || cfg.SettlementMaxAttempts < 1 {
		return nil, fmt.Errorf("ARBITRATION_MAX_ATTEMPTS and SETTLEMENT_MAX_ATTEMPTS must be at least 1")
	}

	cfg.FeeRate, err = decimal.NewFromString(envOr("FEE_RATE", "0.05"))
	if err != nil {
		return nil, fmt.Errorf("invalid FEE_RATE environment variable: %w", err)
	}
	if cfg.FeeRate.IsNegative() || cfg.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("FEE_RATE must be in [0, 1), got %s", cfg.FeeRate)
	}

	if chatID := os.Getenv("TELEGRAM_ADMIN_CHAT_ID"); chatID != "" {
		if cfg.TelegramAdminChatID, err = strconv.ParseInt(chatID, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_ADMIN_CHAT_ID environment variable: %w", err)
		}
	}

	for _, origin := range strings.Split(envOr("CORS_ALLOWED_ORIGINS", "*"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
		}
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return d, nil
}
