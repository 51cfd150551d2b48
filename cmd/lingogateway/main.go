package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmoretti/lingo-gateway/internal/api"
	"github.com/lmoretti/lingo-gateway/internal/budget"
	"github.com/lmoretti/lingo-gateway/internal/cache"
	"github.com/lmoretti/lingo-gateway/internal/circuitbreaker"
	"github.com/lmoretti/lingo-gateway/internal/config"
	"github.com/lmoretti/lingo-gateway/internal/cost"
	"github.com/lmoretti/lingo-gateway/internal/dispatch"
	"github.com/lmoretti/lingo-gateway/internal/notifications"
	"github.com/lmoretti/lingo-gateway/internal/provider"
	"github.com/lmoretti/lingo-gateway/internal/provider/bedrock"
	"github.com/lmoretti/lingo-gateway/internal/provider/deepl"
	"github.com/lmoretti/lingo-gateway/internal/provider/ollama"
	"github.com/lmoretti/lingo-gateway/internal/provider/openai"
	"github.com/lmoretti/lingo-gateway/internal/queue"
	"github.com/lmoretti/lingo-gateway/internal/quota"
	"github.com/lmoretti/lingo-gateway/internal/repository"
	"github.com/lmoretti/lingo-gateway/internal/router"
	"github.com/lmoretti/lingo-gateway/internal/secrets"
	"github.com/lmoretti/lingo-gateway/internal/store"
	"github.com/lmoretti/lingo-gateway/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting lingo-gateway", "addr", cfg.Addr, "version", "0.1.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, "lingo-gateway", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	providersCfg, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		slog.Error("failed to load providers config", "error", err)
		os.Exit(1)
	}

	// Provider API keys come from the environment, optionally overridden
	// by Secrets Manager.
	deeplKey, openaiKey := cfg.DeepLAPIKey, cfg.OpenAIAPIKey
	if cfg.SecretName != "" && cfg.AWSRegion != "" {
		sm, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("failed to initialize secrets manager", "error", err)
			os.Exit(1)
		}
		keys, err := secrets.LoadProviderKeys(ctx, sm, cfg.SecretName)
		if err != nil {
			slog.Error("failed to load provider keys", "error", err)
			os.Exit(1)
		}
		if keys.DeepL != "" {
			deeplKey = keys.DeepL
		}
		if keys.OpenAI != "" {
			openaiKey = keys.OpenAI
		}
		slog.Info("provider keys loaded from secrets manager", "secret", cfg.SecretName)
	}

	tracker := quota.NewTracker()
	calc := cost.NewCalculator()
	budgets := make(map[string]float64)

	providers := make(map[string]provider.Registration)
	for _, pc := range providersCfg.Providers {
		reg, ok := buildProvider(ctx, pc.ID, cfg, deeplKey, openaiKey)
		if !ok {
			slog.Warn("provider not configured, skipping", "provider", pc.ID)
			continue
		}
		reg.Capabilities.Local = reg.Capabilities.Local || pc.Local
		providers[pc.ID] = reg

		tracker.Register(pc.ID, toQuotaLimits(pc.Limits))
		calc.SetPricing(pc.ID, cost.Pricing{
			USDPerMillionChars:  pc.Price.USDPerMillionChars,
			USDPerMillionTokens: pc.Price.USDPerMillionTokens,
		})
		if pc.Limits.MonthlyCostUSD > 0 {
			budgets[pc.ID] = pc.Limits.MonthlyCostUSD
		}
		slog.Info("registered provider", "provider", pc.ID, "local", reg.Capabilities.Local)
	}
	if len(providers) == 0 {
		slog.Error("no providers configured")
		os.Exit(1)
	}

	table := router.NewRouteTable(providersCfg.BridgeLang)
	for _, rc := range providersCfg.Routes {
		table.Add(rc.Source, rc.Target, rc.Model)
	}

	cacheOpts := []cache.Option{cache.WithTTL(cfg.CacheTTL)}
	if cfg.RedisURL != "" {
		redisStore, err := store.NewRedis(cfg.RedisURL)
		if err != nil {
			slog.Warn("failed to connect to redis, cache will not persist", "error", err)
		} else {
			cacheOpts = append(cacheOpts, cache.WithStore(redisStore))
			slog.Info("using redis cache store")
		}
	}
	translationCache := cache.New(cfg.CacheMaxBytes, cacheOpts...)
	if err := translationCache.Load(ctx); err != nil {
		slog.Warn("cache warm-up failed, starting cold", "error", err)
	}

	var journal dispatch.Journal
	if cfg.DatabaseURL != "" {
		repo, err := repository.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer repo.Close()
		if err := repo.EnsureSchema(ctx); err != nil {
			slog.Error("failed to ensure usage schema", "error", err)
			os.Exit(1)
		}
		journal = repo
		slog.Info("usage journal enabled")

		// Seed month-to-date spend so cost budgets survive restarts.
		for id := range providers {
			monthCost, err := repo.ProviderMonthCost(ctx, id)
			if err != nil {
				slog.Warn("failed to seed month cost", "provider", id, "error", err)
				continue
			}
			tracker.SeedMonthCost(id, monthCost)
		}
	}

	var exporter dispatch.Exporter
	if cfg.UsageQueueURL != "" && cfg.AWSRegion != "" {
		sqsExporter, err := queue.NewSQSExporter(ctx, cfg.AWSRegion, cfg.UsageQueueURL)
		if err != nil {
			slog.Error("failed to initialize usage exporter", "error", err)
			os.Exit(1)
		}
		exporter = sqsExporter
		slog.Info("usage export enabled", "queue", cfg.UsageQueueURL)
	}

	var notifier notifications.Notifier
	if cfg.SNSTopicArn != "" && cfg.AWSRegion != "" {
		notifier, err = notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicArn)
		if err != nil {
			slog.Error("failed to initialize notifier", "error", err)
			os.Exit(1)
		}
		slog.Info("budget notifications enabled", "topic", cfg.SNSTopicArn)
	}

	monitor := budget.NewMonitor(tracker, budgets, budget.DefaultThresholds(), nil)
	monitor.OnAlert(budget.LogAlertHandler)
	if notifier != nil {
		monitor.OnAlert(func(alert budget.Alert) {
			notification := notifications.Notification{
				Type:     budgetNotificationType(alert.Level),
				Provider: alert.Provider,
				Message:  "provider budget threshold crossed",
				Data: map[string]interface{}{
					"budget_usd":      alert.Budget,
					"current_use_usd": alert.CurrentUse,
					"percentage":      alert.Percentage,
				},
			}
			if err := notifier.Send(context.Background(), notification); err != nil {
				slog.Warn("failed to send budget notification", "error", err)
			}
		})
	}

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{})

	dispatcher := dispatch.New(dispatch.Config{
		Tracker:         tracker,
		Cache:           translationCache,
		Router:          router.New(tracker, breakers, table),
		Breakers:        breakers,
		Costs:           calc,
		Providers:       providers,
		DefaultProvider: cfg.DefaultProvider,
		PriorityOrder:   providersCfg.PriorityOrder,
		RequestTimeout:  cfg.RequestTimeout,
		StatsInterval:   cfg.StatsInterval,
		Journal:         journal,
		Exporter:        exporter,
		Budget:          monitor,
	})
	go dispatcher.RunStatsBroadcaster(ctx)

	handler := api.NewHandler(api.HandlerConfig{
		Dispatcher: dispatcher,
		Auth:       api.NewAPIKeyAuthenticator(providersCfg.APIKeys),
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * cfg.RequestTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server stopped")
}

// buildProvider constructs the translator for a configured id. Providers
// whose credentials or endpoints are absent are skipped rather than fatal.
func buildProvider(ctx context.Context, id string, cfg *config.Config, deeplKey, openaiKey string) (provider.Registration, bool) {
	switch id {
	case "deepl":
		if deeplKey == "" {
			return provider.Registration{}, false
		}
		return provider.Registration{
			Translator: deepl.New(deeplKey, cfg.DeepLBaseURL),
			Capabilities: provider.Capabilities{
				SupportsQuotaIntrospection: true,
				MaxBatchSize:               deepl.MaxBatchTexts,
			},
		}, true
	case "openai":
		if openaiKey == "" {
			return provider.Registration{}, false
		}
		return provider.Registration{
			Translator:   openai.New(openaiKey, cfg.OpenAIBaseURL),
			Capabilities: provider.Capabilities{MaxBatchSize: 1},
		}, true
	case "bedrock":
		if cfg.AWSRegion == "" {
			return provider.Registration{}, false
		}
		p, err := bedrock.New(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Warn("failed to initialize bedrock provider", "error", err)
			return provider.Registration{}, false
		}
		return provider.Registration{
			Translator:   p,
			Capabilities: provider.Capabilities{MaxBatchSize: 1},
		}, true
	case "ollama":
		if cfg.OllamaBaseURL == "" {
			return provider.Registration{}, false
		}
		return provider.Registration{
			Translator:   ollama.New(cfg.OllamaBaseURL),
			Capabilities: provider.Capabilities{Local: true, MaxBatchSize: 1},
		}, true
	default:
		return provider.Registration{}, false
	}
}

func toQuotaLimits(l config.QuotaLimits) quota.Limits {
	return quota.Limits{
		RequestsPerMinute: l.RequestsPerMinute,
		RequestsPerHour:   l.RequestsPerHour,
		RequestsPerDay:    l.RequestsPerDay,
		RequestsPerMonth:  l.RequestsPerMonth,
		CharsPerMinute:    l.CharsPerMinute,
		CharsPerHour:      l.CharsPerHour,
		CharsPerDay:       l.CharsPerDay,
		CharsPerMonth:     l.CharsPerMonth,
		TokensPerMinute:   l.TokensPerMinute,
		TokensPerHour:     l.TokensPerHour,
		TokensPerDay:      l.TokensPerDay,
		TokensPerMonth:    l.TokensPerMonth,
		DailyCostUSD:      l.DailyCostUSD,
		MonthlyCostUSD:    l.MonthlyCostUSD,
	}
}

func budgetNotificationType(level budget.AlertLevel) notifications.NotificationType {
	switch level {
	case budget.AlertLevelExceeded:
		return notifications.NotificationBudgetExceeded
	case budget.AlertLevelCritical:
		return notifications.NotificationBudgetCritical
	default:
		return notifications.NotificationBudgetWarning
	}
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
