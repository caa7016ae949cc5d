package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conciergestack/schedmate/internal/api"
	"github.com/conciergestack/schedmate/internal/audit"
	"github.com/conciergestack/schedmate/internal/breaker"
	"github.com/conciergestack/schedmate/internal/cache"
	"github.com/conciergestack/schedmate/internal/classifier"
	"github.com/conciergestack/schedmate/internal/config"
	"github.com/conciergestack/schedmate/internal/conversation"
	"github.com/conciergestack/schedmate/internal/engine"
	"github.com/conciergestack/schedmate/internal/metrics"
	"github.com/conciergestack/schedmate/internal/models"
	"github.com/conciergestack/schedmate/internal/policy"
	"github.com/conciergestack/schedmate/internal/repo"
	"github.com/conciergestack/schedmate/internal/services"
	"github.com/conciergestack/schedmate/internal/store"
	"github.com/conciergestack/schedmate/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting schedmate decision engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var st store.Store
	if cfg.Database.InMemory {
		logger.Warn("using in-memory store, state will not survive restarts")
		st = store.NewMemoryStore()
	} else {
		pg, err := store.NewPostgresStore(store.PostgresConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.Name,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			logger.Error("failed to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		st = pg
	}
	defer st.Close()

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	defaultPolicy := models.Policy{
		AutomationEnabled:           cfg.Policy.AutomationEnabled,
		ConfidenceThreshold:         cfg.Policy.ConfidenceThreshold,
		AllowList:                   cfg.Policy.AllowList,
		DenyList:                    cfg.Policy.DenyList,
		Cooldown:                    cfg.Policy.Cooldown,
		MaxConsecutiveLowConfidence: cfg.Policy.MaxConsecutiveLowConfidence,
	}

	var policies policy.Provider = policy.NewStatic(defaultPolicy)
	if cfg.Clients.Preferences.BaseURL != "" {
		preferences := repo.NewPreferencesClient(
			cfg.Clients.Preferences.BaseURL,
			cfg.Clients.Preferences.Path,
			cfg.Clients.Preferences.Timeout,
		)
		policies = policy.NewCached(logger,
			policy.NewRemote(logger, preferences, defaultPolicy),
			cacheProvider, cfg.Engine.PolicyTTL)
	}

	var cls classifier.Classifier = classifier.NewKeywordClassifier()
	if cfg.OpenAI.APIKey != "" {
		cls = classifier.NewOpenAIClassifier(logger,
			cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.MaxTokens, cfg.OpenAI.Temperature)
	} else {
		logger.Warn("no OpenAI key configured, using keyword classifier")
	}

	ledger := audit.NewLedger(logger, st)
	historian := audit.NewHistorian(logger, st, cacheProvider,
		cfg.Engine.SenderHistoryDays, cfg.Engine.SenderHistoryTTL)
	conversations := conversation.NewManager(logger, st, cfg.Engine.ConversationTTL)
	brk := breaker.New(logger, st)

	calendar := repo.NewCalendarClient(
		cfg.Clients.Calendar.BaseURL, cfg.Clients.Calendar.Path, cfg.Clients.Calendar.Timeout)
	mailer := repo.NewMailerClient(
		cfg.Clients.Mailer.BaseURL, cfg.Clients.Mailer.Path, cfg.Clients.Mailer.Timeout)

	var mailbox services.MailboxFetcher
	if cfg.Clients.Mailbox.BaseURL != "" {
		mailbox = repo.NewMailboxClient(
			cfg.Clients.Mailbox.BaseURL, cfg.Clients.Mailbox.Path, cfg.Clients.Mailbox.Timeout)
	}

	pipeline := engine.NewPipeline(
		logger,
		engine.NewScorer(engine.DefaultWeights()),
		conversations,
		brk,
		ledger,
		historian,
		policies,
		calendar,
		mailer,
	)
	decisionService := services.NewDecisionService(logger, cls, pipeline, mailbox)

	handler := api.NewHandler(logger, decisionService, ledger, brk, conversations, cfg.Policy.Cooldown)
	server, err := api.NewServer(cfg.Server, handler.Routes())
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	// Periodic sweep of expired conversations.
	go func() {
		interval := cfg.Engine.ConversationTTL / 4
		if interval <= 0 {
			interval = time.Hour
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := conversations.CleanupExpired(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("conversation cleanup failed", slog.Any("error", err))
				}
			}
		}
	}()

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("schedmate decision engine stopped")
}
