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

	"resellbot/internal/bootstrap"
	"resellbot/internal/config"
	"resellbot/internal/credcache"
	cronpkg "resellbot/internal/cron"
	"resellbot/internal/fulfillment"
	"resellbot/internal/handler"
	"resellbot/internal/ledger"
	"resellbot/internal/middleware"
	"resellbot/internal/notify"
	"resellbot/internal/panel"
	"resellbot/internal/payment"
	"resellbot/internal/repository"
	"resellbot/internal/router"
	"resellbot/internal/settlement"
)

func main() {
	// --- Logger ---
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if hasArg("--bootstrap-db") {
		if err := runDBBootstrap(logger); err != nil {
			logger.Fatal("Database bootstrap failed", zap.Error(err))
		}
		logger.Info("Database bootstrap completed")
		return
	}

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// --- Database ---
	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := bootstrap.MigrateAndSeed(db); err != nil {
		logger.Fatal("Failed to bootstrap database schema", zap.Error(err))
	}

	// --- Panel adapters (credentials cached in Redis with in-memory fallback) ---
	credCache, cacheErr := credcache.NewCache(cfg.Redis.Addr, cfg.Redis.Pass, cfg.Redis.DB, logger)
	if cacheErr != nil {
		logger.Warn("Redis unavailable for panel credentials, using in-memory fallback", zap.Error(cacheErr))
	}
	panels := panel.NewRegistry(panel.Options{
		Timeout: cfg.Panel.Timeout,
		Loader:  credcache.NewLoader(credCache),
		Logger:  logger,
	})

	// --- Notifications and events ---
	var notifier notify.Notifier = notify.NewLog(logger)
	if cfg.Bot.Token != "" {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			Token:      cfg.Bot.Token,
			OperatorID: cfg.Bot.AdminID,
			APIURL:     cfg.Bot.APIURL,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create Telegram notifier", zap.Error(err))
		}
		notifier = tg
	}

	var events notify.Publisher = notify.NewLog(logger)
	var kafka *notify.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err = notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			logger.Warn("Kafka unavailable, events go to the log only", zap.Error(err))
		} else {
			events = kafka
		}
	}

	// --- Domain services ---
	users := repository.NewUserRepository(db)
	servers := repository.NewServerRepository(db)
	settings := repository.NewSettingRepository(db)
	requests := repository.NewPaymentRequestRepository(db)
	plans := repository.NewPlanRepository(db)
	transactions := repository.NewTransactionRepository(db)
	l := ledger.New(db, logger)

	pipeline := fulfillment.NewPipeline(fulfillment.Deps{
		Plans:     plans,
		Servers:   servers,
		Services:  repository.NewServiceRepository(db),
		Discounts: repository.NewDiscountRepository(db),
		Settings:  settings,
		Ledger:    l,
		Panels:    panels,
		Notifier:  notifier,
		Events:    events,
		Logger:    logger,
	})

	// --- Payment gateways ---
	var zarinpal, nowpayments payment.Gateway
	if cfg.Payment.ZarinPal.Merchant != "" {
		zarinpal = payment.NewZarinPalGateway(cfg.Payment.ZarinPal.Merchant, cfg.Payment.ZarinPal.Sandbox, cfg.Bot.Domain+"/payment/zarinpal/callback")
	}
	if cfg.Payment.NOWPayments.APIKey != "" {
		nowpayments = payment.NewNOWPaymentsGateway(cfg.Payment.NOWPayments.APIKey, cfg.Payment.NOWPayments.IPNSecret, cfg.Bot.Domain+"/payment/nowpayments/callback")
	}
	gateways := payment.NewRegistry(zarinpal, nowpayments, payment.NewCardToCardGateway(settings))
	logger.Info("Payment gateways enabled", zap.Strings("gateways", gateways.Names()))

	settle := settlement.New(settlement.Deps{
		Users:        users,
		Transactions: transactions,
		Requests:     requests,
		Ledger:       l,
		Pipeline:     pipeline,
		Gateways:     gateways,
		Notifier:     notifier,
		Events:       events,
		Logger:       logger,
	})

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true

	// --- Callback guard (Redis with in-memory fallback) ---
	guard, guardErr := middleware.NewCallbackGuard(cfg.Redis.Addr, cfg.Redis.Pass, cfg.Redis.DB, time.Minute)
	if guardErr != nil {
		logger.Warn("Redis unavailable for callback guard, using in-memory fallback", zap.Error(guardErr))
	}

	// --- Routes ---
	h := handler.New(settle, pipeline, handler.Repos{Requests: requests, Plans: plans, Transactions: transactions}, gateways, logger)
	router.Setup(e, h, logger, cfg.API.Key, cfg.API.HashFile, guard)

	// --- Cron Scheduler ---
	scheduler := cronpkg.New(cronpkg.Deps{
		Settlement:    settle,
		Servers:       servers,
		Requests:      requests,
		Panels:        panels,
		Notifier:      notifier,
		PaymentExpiry: cfg.Payment.Expiry,
		Logger:        logger,
	})
	if err := scheduler.Start(); err != nil {
		logger.Fatal("Failed to start cron scheduler", zap.Error(err))
	}

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting resellbot server", zap.String("addr", addr))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Stop cron
	ctx := scheduler.Stop()
	<-ctx.Done()

	// Stop HTTP server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	if kafka != nil {
		if err := kafka.Close(); err != nil {
			logger.Warn("Kafka producer close failed", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

func hasArg(name string) bool {
	for _, arg := range os.Args[1:] {
		if arg == name {
			return true
		}
	}
	return false
}

func runDBBootstrap(logger *zap.Logger) error {
	dbCfg, err := config.LoadDatabaseOnly()
	if err != nil {
		return err
	}
	db, err := config.NewDatabase(dbCfg)
	if err != nil {
		return err
	}
	if err := bootstrap.MigrateAndSeed(db); err != nil {
		return err
	}
	logger.Info("Schema migration and default seed completed")
	return nil
}
