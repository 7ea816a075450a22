package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"realityshop/internal/bootstrap"
	"realityshop/internal/bot"
	"realityshop/internal/config"
	cronpkg "realityshop/internal/cron"
	"realityshop/internal/handler"
	"realityshop/internal/handler/api"
	"realityshop/internal/idempotency"
	"realityshop/internal/metrics"
	"realityshop/internal/panel"
	"realityshop/internal/payment"
	"realityshop/internal/pkg/telegram"
	"realityshop/internal/pricing"
	"realityshop/internal/provisioning"
	"realityshop/internal/repository"
	"realityshop/internal/router"
)

func main() {
	// --- Logger ---
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	servers, err := config.LoadServers(cfg.Backend.ServersFile, cfg.Backend.MaxClients)
	if err != nil {
		logger.Fatal("Failed to load servers", zap.String("file", cfg.Backend.ServersFile), zap.Error(err))
	}

	// --- Backend Directory ---
	directory, err := panel.Build(servers, cfg.Backend.Timeout, logger)
	if err != nil {
		logger.Fatal("Failed to build backend directory", zap.Error(err))
	}
	loginCtx, cancelLogin := context.WithTimeout(context.Background(), cfg.Backend.Timeout)
	if err := directory.LoginAll(loginCtx); err != nil {
		logger.Warn("Some panels are unavailable at startup", zap.Strings("servers", directory.Unavailable()), zap.Error(err))
	}
	cancelLogin()

	// --- Idempotency (Redis with in-memory fallback) ---
	deduper, locker, err := idempotency.NewStores(
		cfg.Redis.Addr,
		cfg.Redis.Pass,
		cfg.Redis.DB,
		cfg.Provisioning.DedupTTL,
		cfg.Provisioning.LockTTL,
	)
	if err != nil {
		logger.Warn("Redis unavailable for dedup and locks, using in-memory fallback", zap.Error(err))
	}

	// --- Payment ledger ---
	var (
		ledger   provisioning.Ledger = provisioning.NewLogLedger(logger)
		failures cronpkg.FailureLedger
	)
	if cfg.Database.Enabled() {
		db, err := config.NewDatabase(&cfg.Database, logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		if err := bootstrap.Migrate(db); err != nil {
			logger.Fatal("Failed to migrate database schema", zap.Error(err))
		}
		repo := repository.NewPaymentRepository(db)
		ledger = provisioning.NewDBLedger(repo)
		failures = repo
	}

	// --- Telegram Bot API (direct HTTP client) ---
	botAPI := telegram.NewBotAPI(cfg.Bot.Token, cfg.Backend.Timeout)

	// --- Provisioning ---
	engine := provisioning.NewEngine(directory, botAPI, ledger, deduper, locker, logger)
	prices := pricing.NewEngine(directory, logger)

	// --- Payment gateways ---
	yookassa := payment.NewYooKassaGateway(
		cfg.Payment.YooKassa.ShopID,
		cfg.Payment.YooKassa.SecretKey,
		cfg.Payment.YooKassa.BaseURL,
		cfg.Payment.YooKassa.ReturnURL,
		cfg.Backend.Timeout,
	)
	crypto := payment.NewCryptoCloudGateway(
		cfg.Payment.CryptoCloud.APIKey,
		cfg.Payment.CryptoCloud.ShopID,
		cfg.Payment.CryptoCloud.Secret,
		cfg.Payment.CryptoCloud.BaseURL,
		cfg.Backend.Timeout,
	)

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true

	err = router.Setup(e, router.Deps{
		Payments:       handler.NewPaymentCallbackHandler(engine, yookassa, crypto, cfg.Provisioning.Timeout, logger),
		Quotes:         api.NewQuoteHandler(prices, directory, cfg.Backend.DefaultServer, logger),
		APIKey:         cfg.API.Key,
		YooKassaCIDRs:  cfg.Payment.YooKassa.AllowedCIDRs,
		TrustedProxies: cfg.Server.TrustedProxies,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Failed to set up routes", zap.Error(err))
	}
	metrics.MustRegister()

	// --- Bot ---
	var teleBot *bot.Bot
	if cfg.Bot.Token != "" {
		deps := bot.Deps{
			Directory:     directory,
			Prices:        prices,
			DefaultServer: cfg.Backend.DefaultServer,
			Timeout:       cfg.Backend.Timeout,
			Logger:        logger,
		}
		if cfg.Payment.YooKassa.ShopID != "" {
			deps.YooKassa = yookassa
		}
		if cfg.Payment.CryptoCloud.APIKey != "" {
			deps.CryptoCloud = crypto
		}
		teleBot, err = bot.New(cfg.Bot, deps)
		if err != nil {
			logger.Fatal("Failed to create bot", zap.Error(err))
		}
	}

	// --- Cron Scheduler ---
	var notifier cronpkg.Notifier
	if cfg.Bot.Token != "" {
		notifier = botAPI
	}
	scheduler := cronpkg.New(directory, failures, notifier, cfg.Bot.AdminID, cfg.Backend.Timeout, logger)
	scheduler.Start()

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting server", zap.String("addr", addr), zap.Int("servers", len(servers)))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	if teleBot != nil {
		go teleBot.Start()
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	if teleBot != nil {
		teleBot.Stop()
	}

	ctx := scheduler.Stop()
	<-ctx.Done()

	// In-flight webhooks keep provisioning until the server drains.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Provisioning.Timeout+10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
