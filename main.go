package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"optionsSentry/config"
	"optionsSentry/internal/adapters/brokerhttp"
	"optionsSentry/internal/adapters/logger"
	"optionsSentry/internal/adapters/memcounter"
	"optionsSentry/internal/adapters/notify"
	"optionsSentry/internal/adapters/rediscounter"
	"optionsSentry/internal/adapters/redissignals"
	"optionsSentry/internal/adapters/sqlite"
	"optionsSentry/internal/adapters/tickfeed"
	"optionsSentry/internal/app"
	"optionsSentry/internal/ports"
)

func main() {
	ctx := context.Background()

	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized", map[string]interface{}{"path": cfg.DBPath})

	// 4. Initialize Counter Store (Redis, falling back to in-memory)
	var counters ports.CounterStore
	var signals ports.SignalProvider
	replayCounters := false
	redisStore := rediscounter.New(cfg.RedisAddr, cfg.RedisDB)
	if err := redisStore.Ping(ctx); err != nil {
		appLogger.Warn(ctx, "Redis unreachable, using in-memory daily counters", map[string]interface{}{
			"addr":  cfg.RedisAddr,
			"error": err.Error(),
		})
		counters = memcounter.New()
		replayCounters = true // Volatile store; rebuild today's totals from history
	} else {
		counters = redisStore
		signals = redissignals.New(cfg.RedisAddr, cfg.RedisDB, cfg.Rules.SignalMaxAge.Std())
		defer redisStore.Close()
		appLogger.Info(ctx, "Redis counter store connected", map[string]interface{}{"addr": cfg.RedisAddr})
	}

	// 5. Initialize Broker Client and Tick Feed
	broker, err := brokerhttp.NewClient(brokerhttp.Config{
		BaseURL: cfg.BrokerBaseURL,
		Token:   cfg.BrokerToken,
		Logger:  appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize broker client")
		log.Fatalf("FATAL: Failed to initialize broker client: %v", err)
	}

	feed, err := tickfeed.NewStream(cfg.TickFeedURL, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize tick feed")
		log.Fatalf("FATAL: Failed to initialize tick feed: %v", err)
	}

	// 6. Initialize Notifier (optional)
	var notifier ports.Notifier = notify.NopNotifier{}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		tg, err := notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID, appLogger)
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize Telegram notifier")
			log.Fatalf("FATAL: Failed to initialize Telegram notifier: %v", err)
		}
		notifier = tg
		appLogger.Info(ctx, "Telegram notifier initialized")
	}

	// 7. Metrics endpoint
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				appLogger.Error(ctx, err, "Metrics server stopped", map[string]interface{}{"addr": cfg.MetricsAddr})
			}
		}()
		appLogger.Info(ctx, "Metrics endpoint serving", map[string]interface{}{"addr": cfg.MetricsAddr})
	}

	// 8. Assemble and run the engine
	engine, err := app.New(cfg, app.Deps{
		Logger:         appLogger,
		Broker:         broker,
		Repo:           repo,
		Counters:       counters,
		Signals:        signals,
		Notifier:       notifier,
		Feed:           feed,
		ReplayCounters: replayCounters,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to assemble engine")
		log.Fatalf("FATAL: Failed to assemble engine: %v", err)
	}

	if err := engine.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Engine exited with error")
		log.Fatalf("Engine exited with error: %v", err)
	}
}
