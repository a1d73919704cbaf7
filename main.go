package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"strat-scanner/config"
	"strat-scanner/internal/api"
	"strat-scanner/internal/auth"
	"strat-scanner/internal/cache"
	"strat-scanner/internal/circuit"
	"strat-scanner/internal/database"
	"strat-scanner/internal/events"
	"strat-scanner/internal/logging"
	"strat-scanner/internal/marketdata"
	"strat-scanner/internal/notification"
	"strat-scanner/internal/options"
	"strat-scanner/internal/scanner"
	"strat-scanner/internal/vault"
)

func main() {
	once := flag.Bool("once", false, "run a single scan cycle and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.Logging.Level,
		Output:      cfg.Logging.Output,
		JSONFormat:  cfg.Logging.JSONFormat,
		IncludeFile: cfg.Logging.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized", "environment", cfg.Environment)

	// Secrets from Vault override env and file values
	if cfg.Vault.Enabled {
		vaultClient, err := vault.NewClient(cfg.Vault)
		if err != nil {
			logger.Fatal("Failed to create Vault client", "error", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		secrets, err := vaultClient.GetSecrets(ctx)
		cancel()
		if err != nil {
			logger.Fatal("Failed to read secrets from Vault", "error", err)
		}
		secrets.Apply(cfg)
		if cfg.Notification.Telegram.BotToken != "" && cfg.Notification.Telegram.ChatID != "" {
			cfg.Notification.Telegram.Enabled = true
		}
		if cfg.Notification.Discord.WebhookURL != "" {
			cfg.Notification.Discord.Enabled = true
		}
		logger.Info("Secrets loaded from Vault")
	}

	loc, err := time.LoadLocation(cfg.Scanner.MarketTimezone)
	if err != nil {
		logger.Fatal("Invalid market timezone", "timezone", cfg.Scanner.MarketTimezone, "error", err)
	}

	eventBus := events.NewEventBus()
	logger.Info("Event bus initialized")

	// Initialize notification manager
	notifyManager := notification.NewManager()
	if cfg.Notification.Telegram.Enabled {
		notifyManager.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
			BotToken: cfg.Notification.Telegram.BotToken,
			ChatID:   cfg.Notification.Telegram.ChatID,
			Enabled:  true,
		}))
		logger.Info("Telegram notifications enabled")
	}
	if cfg.Notification.Discord.Enabled {
		notifyManager.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
			WebhookURL: cfg.Notification.Discord.WebhookURL,
			Enabled:    true,
		}))
		logger.Info("Discord notifications enabled")
	}
	if !notifyManager.Enabled() {
		logger.Warn("No notifier configured; alerts will only be logged")
	}

	provider, breaker := newProvider(cfg, logger, eventBus, notifyManager)

	// Redis cache is optional; the in-memory cache always backs it
	var store marketdata.Store
	var cacheService *cache.CacheService
	if cfg.Redis.Enabled {
		cacheService, err = cache.NewCacheService(cfg.Redis)
		if err != nil {
			logger.Warn("Redis cache unavailable, using memory only", "error", err)
		} else {
			store = cacheService
			defer cacheService.Close()
		}
	}
	provider = marketdata.NewCachedProvider(provider, store, marketdata.CacheTTLs{
		Candles: time.Duration(cfg.Provider.CandlesCacheTTL) * time.Second,
		Chain:   time.Duration(cfg.Provider.ChainCacheTTL) * time.Second,
	})

	// Alert journal is optional
	var journal notification.Journal
	var apiJournal api.AlertJournal
	if cfg.Database.Enabled {
		db, err := database.NewDB(database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Name,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			logger.Fatal("Failed to connect to database", "error", err)
		}
		defer db.Close()

		if err := db.RunMigrations(context.Background()); err != nil {
			logger.Fatal("Failed to run migrations", "error", err)
		}
		repo := database.NewRepository(db)
		journal = repo
		apiJournal = repo
		logger.Info("Alert journal enabled", "database", cfg.Database.Name)
	}

	selector := options.NewSelector(options.Thresholds{
		MaxDaysToExpiration:    cfg.Options.MaxDaysToExpiration,
		CallMinStrikeRatio:     cfg.Options.CallMinStrikeRatio,
		PutMaxStrikeRatio:      cfg.Options.PutMaxStrikeRatio,
		MinOpenInterest:        cfg.Options.MinOpenInterest,
		MaxSpreadPct:           cfg.Options.MaxSpreadPct,
		RelaxedBandPct:         cfg.Options.RelaxedBandPct,
		RelaxedMinOpenInterest: cfg.Options.RelaxedMinOpenInterest,
		RelaxedMaxSpreadPct:    cfg.Options.RelaxedMaxSpreadPct,
	}, loc, logger)

	dispatcher := notification.NewAlertDispatcher(notifyManager, journal, eventBus)

	strat := scanner.NewScanner(provider, selector, dispatcher, eventBus, scanner.ScannerConfig{
		Tickers:           cfg.Scanner.Tickers,
		DaysLookback:      cfg.Scanner.DaysLookback,
		WeeksLookback:     cfg.Scanner.WeeksLookback,
		MaxSignalsPerScan: cfg.Scanner.MaxSignalsPerScan,
		CooldownDays:      cfg.Scanner.CooldownDays,
		Shuffle:           cfg.Scanner.Shuffle,
		ScanInterval:      time.Duration(cfg.Scanner.IntervalSeconds) * time.Second,
		Location:          loc,
	}, logger)
	if cfg.Scanner.Shuffle && cfg.Scanner.ShuffleSeed != 0 {
		strat.SetShuffler(scanner.NewRandomShuffler(cfg.Scanner.ShuffleSeed))
	}

	if *once {
		result := strat.Scan(context.Background())
		logger.Info("Single scan complete", "scan_id", result.ScanID, "alerts", result.SignalsAlerted, "errors", result.Errors)
		return
	}

	// Start the HTTP API
	var server *api.Server
	if cfg.Server.Enabled {
		var jwtManager *auth.JWTManager
		if cfg.Auth.Enabled {
			jwtManager = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
		}
		server = api.NewServer(api.ServerConfig{
			Host:           cfg.Server.Host,
			Port:           cfg.Server.Port,
			ProductionMode: !cfg.IsDev(),
			AllowedOrigins: splitOrigins(cfg.Server.AllowedOrigins),
			ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
			WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		}, strat, apiJournal, eventBus, jwtManager)

		if breaker != nil {
			server.RegisterStatus("provider_breaker", breaker.GetStats)
		}
		if cacheService != nil {
			server.RegisterStatus("redis", func() map[string]interface{} {
				st := cacheService.GetStats()
				return map[string]interface{}{
					"healthy":       st.Healthy,
					"failure_count": st.FailureCount,
					"address":       st.Address,
				}
			})
		}

		go func() {
			if err := server.Start(); err != nil {
				logger.Error("HTTP server stopped", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	strat.Start(ctx)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info("Shutting down", "signal", sig.String())

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down web server", "error", err)
		}
	}

	cancel()
	strat.Stop()

	logger.Info("Shutdown complete")
}

// newProvider picks the Massive client, or the synthetic provider when no key
// is configured or MOCK_MODE is set. The breaker is nil for the mock.
func newProvider(cfg *config.Config, logger *logging.Logger, bus *events.EventBus, notify *notification.Manager) (marketdata.Provider, *circuit.CircuitBreaker) {
	if cfg.Provider.MockMode || cfg.Provider.APIKey == "" {
		logger.Warn("Using synthetic market data", "mock_mode", cfg.Provider.MockMode)
		return marketdata.NewMockProvider(), nil
	}

	client, err := marketdata.NewMassiveClient(marketdata.MassiveConfig{
		APIKey:            cfg.Provider.APIKey,
		BaseURL:           cfg.Provider.BaseURL,
		Timeout:           time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Burst:             cfg.Provider.Burst,
		Breaker: &circuit.CircuitBreakerConfig{
			Enabled:             cfg.Provider.BreakerEnabled,
			MaxConsecutiveFails: cfg.Provider.BreakerMaxFails,
			Cooldown:            time.Duration(cfg.Provider.BreakerCooldown) * time.Second,
		},
	})
	if err != nil {
		logger.Fatal("Failed to create market data client", "error", err)
	}

	breaker := client.Breaker()
	breaker.OnStateChange(func(name string, from, to circuit.BreakerState) {
		bus.PublishProviderCircuit(name, string(from), string(to))
		if to == circuit.StateOpen {
			msg := fmt.Sprintf("Market data circuit %s opened; scans will skip provider calls until it recovers", name)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := notify.SendError(ctx, "Provider circuit open", msg); err != nil {
				logger.Warn("Failed to send circuit alert", "error", err)
			}
		}
	})
	logger.Info("Massive market data client initialized", "base_url", cfg.Provider.BaseURL)

	return client, breaker
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
