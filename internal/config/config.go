package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config keeps runtime settings for the sync server and the companion bot.
type Config struct {
	DatabaseURL     string
	HTTPAddr        string
	JWTSecret       string
	RequestTimeout  time.Duration
	DBMaxOpenConns  int
	DBMaxIdleConns  int
	SlowTxThreshold time.Duration
	LogFile         string

	// Telegram bot; disabled when the token is empty.
	TelegramToken string
	ReportTime    string
	Location      *time.Location
}

// Load reads configuration from environment variables with sane defaults. A .env file
// in the working directory is applied first; variables already set win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL:   env("DATABASE_URL"),
		HTTPAddr:      env("HTTP_ADDR"),
		JWTSecret:     env("JWT_SECRET"),
		LogFile:       env("LOG_FILE"),
		TelegramToken: env("TELEGRAM_TOKEN"),
		ReportTime:    env("REPORT_TIME"),
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "planner_sync.db"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.ReportTime == "" {
		cfg.ReportTime = "09:00"
	}

	var err error
	if cfg.RequestTimeout, err = parseDuration("REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.SlowTxThreshold, err = parseDuration("SLOW_TX_THRESHOLD", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.DBMaxOpenConns, err = parseInt("DB_MAX_OPEN_CONNS", 10); err != nil {
		return cfg, err
	}
	if cfg.DBMaxIdleConns, err = parseInt("DB_MAX_IDLE_CONNS", 5); err != nil {
		return cfg, err
	}

	tzName := env("TZ_NAME")
	if tzName == "" {
		tzName = "UTC"
	}
	if cfg.Location, err = time.LoadLocation(tzName); err != nil {
		return cfg, fmt.Errorf("TZ_NAME %q: %w", tzName, err)
	}

	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	raw := env(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, raw)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	raw := env(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", key, raw)
	}
	return n, nil
}
