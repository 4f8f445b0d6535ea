package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"optionsSentry/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config holds all application configuration. Connection settings come from
// the environment; rule tables come from the YAML rules file (see rules.go).
type Config struct {
	// Broker API
	BrokerBaseURL string
	BrokerToken   string
	TickFeedURL   string

	// Storage
	DBPath    string
	RedisAddr string
	RedisDB   int

	// Notification
	TelegramBotToken string
	TelegramChatID   string

	// Account
	InitialBalance float64 // Rupees, used to seed the capital ledger

	// Exchange calendar
	Timezone string // IANA name, defaults to the NSE timezone
	Location *time.Location

	// Observability
	MetricsAddr string // Prometheus listen address, empty disables
	LogLevel    logger.LogLevel

	// Rule tables (thresholds, schedules, limits, intervals)
	RulesPath string
	Rules     *Rules
}

// Load reads configuration from environment variables (.env file) and the
// YAML rules file. Validation errors are collected and reported together.
func Load() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	cfg.BrokerBaseURL = getEnv("BROKER_BASE_URL", "")
	cfg.BrokerToken = getEnv("BROKER_TOKEN", "")
	cfg.TickFeedURL = getEnv("TICK_FEED_URL", "")
	if cfg.BrokerBaseURL == "" {
		errs = append(errs, "BROKER_BASE_URL must be set")
	}
	if cfg.TickFeedURL == "" {
		errs = append(errs, "TICK_FEED_URL must be set")
	}

	cfg.DBPath = getEnv("DB_PATH", "positions.db")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisDB, err = getEnvAsInt("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid REDIS_DB: %v", err))
	}

	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	cfg.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")

	cfg.InitialBalance, err = getEnvAsFloat("INITIAL_BALANCE", 100000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_BALANCE: %v", err))
	} else if cfg.InitialBalance <= 0 {
		errs = append(errs, "INITIAL_BALANCE must be positive")
	}

	cfg.Timezone = getEnv("TIMEZONE", "Asia/Kolkata")
	cfg.Location, err = time.LoadLocation(cfg.Timezone)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TIMEZONE %q: %v", cfg.Timezone, err))
	}

	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9090")
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	cfg.RulesPath = getEnv("RULES_PATH", "rules.yaml")
	cfg.Rules, err = LoadRules(cfg.RulesPath)
	if err != nil {
		errs = append(errs, fmt.Sprintf("rules file %s: %v", cfg.RulesPath, err))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(valueStr)
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	return strconv.ParseFloat(valueStr, 64)
}
