package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"referral-commission-service/config"
	"referral-commission-service/handlers"
	"referral-commission-service/middleware"
	"referral-commission-service/models"
	"referral-commission-service/services"
	"referral-commission-service/utils"
	"referral-commission-service/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	log := utils.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogCaller)

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	if err := models.AutoMigrate(db); err != nil {
		log.WithError(err).Fatal("failed to migrate database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Policy cache: shared through redis when configured, in-process otherwise.
	var cache services.PolicyCache = services.NewMemoryPolicyCache(cfg.PolicyCacheTTL)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("invalid REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("⚠️  redis unreachable, policy cache falls back to the database on every miss")
		}
		cache = services.NewRedisPolicyCache(rdb, cfg.PolicyCacheTTL, log)
	}

	// Payout receipts are archived to R2 only when a bucket is configured.
	var receipts services.ReceiptArchiver
	if cfg.R2.Enabled() {
		store, err := utils.NewR2Store(ctx, utils.R2Options{
			AccountID:       cfg.R2.AccountID,
			AccessKeyID:     cfg.R2.AccessKeyID,
			AccessKeySecret: cfg.R2.AccessKeySecret,
			Bucket:          cfg.R2.Bucket,
			CDNBaseURL:      cfg.R2.CDNBaseURL,
		})
		if err != nil {
			log.WithError(err).Fatal("failed to initialize R2 client")
		}
		receipts = services.NewPayoutReceipts(store)
	} else {
		log.Warn("⚠️  R2 bucket not configured, payout receipts will not be archived")
	}

	policies := services.NewPolicyStore(db, cache, log)
	standing := services.NewMemberStandingService(db)

	ledger := services.NewCommissionLedger(db, policies, standing, log)
	ledger.DeferredAlertAfter = cfg.DeferredAlertAfter

	referrals := services.NewReferralService(db, policies, log)
	withdrawals := services.NewWithdrawalService(db, policies, receipts, log)
	withdrawals.MaxAttempts = cfg.WithdrawalRetryAttempts

	release := services.NewReleaseScheduler(ledger, cfg.ReleaseInterval, log)
	if err := release.Start(); err != nil {
		log.WithError(err).Fatal("failed to start release scheduler")
	}

	if cfg.SyncServiceURL != "" {
		memberSync := workers.NewMemberSyncWorker(db, referrals, cfg.SyncServiceURL, cfg.ServiceToken, cfg.SyncInterval, log)
		go memberSync.Run(ctx)

		payments := workers.NewPaymentPoller(db, cfg.SyncServiceURL, cfg.ServiceToken, cfg.PaymentPollInterval, ledger, log)
		go payments.Run(ctx)
	} else {
		log.Warn("⚠️  SYNC_SERVICE_URL not set, member and payment sync disabled")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// 🔐❗ GLOBAL: Only Gateway requests allowed
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken, log))

	handlers.SetupRoutes(app, &handlers.Services{
		Policies:    policies,
		Referrals:   referrals,
		Codes:       services.NewReferralCodes(db),
		Ledger:      ledger,
		Balances:    services.NewBalanceService(db),
		Withdrawals: withdrawals,
		Log:         log,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.WithError(err).Error("server error")
		}
	}()

	log.WithFields(logrus.Fields{
		"port":    cfg.Port,
		"origins": cfg.AllowedOrigins,
	}).Info("✅ referral commission service running")

	<-ctx.Done()
	log.Info("Shutting down server...")

	if err := release.Stop(); err != nil {
		log.WithError(err).Warn("release scheduler shutdown")
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
}
