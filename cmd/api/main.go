package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cardforge/connector/internal/cache"
	"github.com/cardforge/connector/internal/config"
	"github.com/cardforge/connector/internal/database"
	"github.com/cardforge/connector/internal/events"
	"github.com/cardforge/connector/internal/handler"
	"github.com/cardforge/connector/internal/middleware"
	"github.com/cardforge/connector/internal/queue"
	"github.com/cardforge/connector/internal/repository"
	"github.com/cardforge/connector/internal/service"
	"github.com/cardforge/connector/internal/utils"
	"github.com/cardforge/connector/internal/worker"
	"github.com/cardforge/connector/pkg/epdq"
	"github.com/cardforge/connector/pkg/stripe"
	"github.com/cardforge/connector/pkg/worldpay"
)

// main is the application entrypoint for the payment connector.
func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Setup logger
	setupLogger(cfg.Env)
	log.Info().Str("env", cfg.Env).Msg("starting payment connector")
	utils.SetJWTSecret(cfg.JWTSecret)

	// 3. Connect database
	db, err := database.Connect(&cfg.DB)
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "database connection failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// 3a. Run migrations
	if err := runMigrations(db.DB); err != nil {
		log.Error().Err(err).Msg("migration failed")
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
	log.Info().Msg("migrations completed successfully")

	// 3b. Connect to Redis
	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Error().Err(err).Msg("redis connection failed")
		fmt.Fprintf(os.Stderr, "redis connection failed: %v\n", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected successfully")

	// 3c. Task queue and challenge cache on top of Redis
	taskQueue := queue.NewRedisQueue(redisClient.Client(), cfg.Queue.Namespace)
	challengeCache := cache.NewChallengeCache(redisClient, cfg.ChallengeTTL)

	// 4. Initialize repositories
	chargeRepo := repository.NewChargeRepository(db)
	eventRepo := repository.NewChargeEventRepository(db)
	refundRepo := repository.NewRefundRepository(db)
	feeRepo := repository.NewFeeRepository(db)

	// 5. Initialize gateway adapters
	gateways := service.NewGatewayRegistry()
	if cfg.Epdq.PSPID != "" {
		epdqClient := epdq.NewClient(epdq.Config{
			BaseURL:      cfg.Epdq.BaseURL,
			PSPID:        cfg.Epdq.PSPID,
			UserID:       cfg.Epdq.UserID,
			Password:     cfg.Epdq.Password,
			ShaInSecret:  cfg.Epdq.ShaInSecret,
			ShaOutSecret: cfg.Epdq.ShaOutSecret,
		})
		gateways.Register(service.NewEpdqGateway(epdqClient))
		log.Info().Msg("ePDQ gateway registered")
	}
	var stripeClient *stripe.Client
	if cfg.Stripe.APIKey != "" {
		stripeClient = stripe.NewClient(stripe.Config{
			BaseURL:         cfg.Stripe.BaseURL,
			APIKey:          cfg.Stripe.APIKey,
			PlatformAccount: cfg.Stripe.PlatformAccount,
			MerchantAccount: cfg.Stripe.MerchantAccount,
		})
		gateways.Register(service.NewStripeGateway(stripeClient))
		log.Info().Msg("Stripe gateway registered")
	}
	if cfg.Worldpay.MerchantCode != "" {
		worldpayClient := worldpay.NewClient(worldpay.Config{
			BaseURL:      cfg.Worldpay.BaseURL,
			MerchantCode: cfg.Worldpay.MerchantCode,
			Username:     cfg.Worldpay.Username,
			Password:     cfg.Worldpay.Password,
		})
		gateways.Register(service.NewWorldpayGateway(worldpayClient))
		log.Info().Msg("Worldpay gateway registered")
	}
	if cfg.Env != "production" {
		gateways.Register(service.NewSandboxGateway())
		log.Info().Msg("Sandbox gateway registered")
	}

	// 6. Initialize services
	emitter := events.NewEmitter()
	sm := service.NewStateMachine(chargeRepo, eventRepo, emitter)
	chargeSvc := service.NewChargeService(
		chargeRepo, refundRepo, feeRepo, eventRepo,
		sm, gateways, taskQueue, emitter,
		cfg.Worker.CaptureMaxAttempts,
	)
	chargeSvc.SetChallengeStore(challengeCache)
	refundSvc := service.NewRefundService(chargeRepo, refundRepo, gateways, emitter)
	notificationSvc := service.NewNotificationService(
		chargeRepo, chargeSvc, refundSvc,
		cfg.Epdq.ShaOutSecret,
		service.StripeWebhookConfig{
			Secret:    cfg.Stripe.WebhookSecret,
			Tolerance: int64(cfg.Stripe.WebhookTolerance.Seconds()),
		},
		service.WorldpayNotificationConfig{Secret: cfg.Worldpay.NotificationSecret},
	)
	discrepancySvc := service.NewDiscrepancyService(chargeRepo, sm, gateways, cfg.Worker.DiscrepancyMinAge)

	// 7. Initialize handlers
	handlers := &Handlers{
		Health:       handler.NewHealthHandler(db, redisClient),
		Charge:       handler.NewChargeHandler(chargeSvc),
		Refund:       handler.NewRefundHandler(refundSvc),
		Notification: handler.NewNotificationHandler(notificationSvc),
		Discrepancy:  handler.NewDiscrepancyHandler(discrepancySvc),
		Auth:         handler.NewAuthHandler(cfg.Operator),
	}

	// 8. Initialize middleware
	jwtMw := middleware.NewJWTMiddleware()

	// 9. Setup router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.LoggingMiddleware())
	setupRoutes(router, handlers, jwtMw)

	// 10. Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 11. Start workers
	go worker.NewQueueWorker(
		taskQueue, chargeSvc,
		cfg.Worker.QueuePollInterval, cfg.Worker.QueueBatchSize,
		cfg.Worker.CaptureRetryDelay,
	).Start(ctx)
	go worker.NewExpiryWorker(
		chargeRepo, chargeSvc,
		cfg.Worker.ExpiryInterval, cfg.Worker.ExpiryThreshold,
	).Start(ctx)

	// 12. Start HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// 13. Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// 14. Cancel context to stop workers
	cancel()

	// 15. Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}

// Handlers groups all HTTP handlers used by the server.
type Handlers struct {
	Health       *handler.HealthHandler
	Charge       *handler.ChargeHandler
	Refund       *handler.RefundHandler
	Notification *handler.NotificationHandler
	Discrepancy  *handler.DiscrepancyHandler
	Auth         *handler.AuthHandler
}

// setupRoutes registers all routes.
func setupRoutes(router *gin.Engine, handlers *Handlers, jwtMiddleware *middleware.JWTMiddleware) {
	// Gateway notification endpoints; authentication happens per-provider
	// inside the pipeline (signatures, shared secrets).
	router.POST("/v1/notifications/epdq", handlers.Notification.HandleEpdq)
	router.POST("/v1/notifications/worldpay/:secret", handlers.Notification.HandleWorldpay)
	router.POST("/v1/notifications/stripe", handlers.Notification.HandleStripe)

	router.GET("/v1/health", handlers.Health.GetHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Charge lifecycle
	charges := router.Group("/v1/charges")
	{
		charges.POST("", handlers.Charge.CreateCharge)
		charges.GET("/:chargeId", handlers.Charge.GetCharge)
		charges.GET("/:chargeId/events", handlers.Charge.GetChargeEvents)
		charges.GET("/:chargeId/3ds", handlers.Charge.GetChallenge)
		charges.POST("/:chargeId/card-entry", handlers.Charge.StartCardEntry)
		charges.POST("/:chargeId/authorise", handlers.Charge.AuthoriseCharge)
		charges.POST("/:chargeId/capture", handlers.Charge.RequestCapture)
		charges.POST("/:chargeId/cancel", handlers.Charge.CancelCharge)

		charges.POST("/:chargeId/refunds", handlers.Refund.CreateRefund)
		charges.GET("/:chargeId/refunds/availability", handlers.Refund.GetRefundAvailability)
	}
	router.GET("/v1/refunds/:refundId", handlers.Refund.GetRefund)

	// Admin routes
	admin := router.Group("/v1/admin")
	admin.POST("/login", handlers.Auth.Login)
	admin.Use(jwtMiddleware.Handle())
	{
		admin.GET("/discrepancies/:chargeId", handlers.Discrepancy.InspectCharge)
		admin.POST("/discrepancies/:chargeId/cancel", handlers.Discrepancy.ForceCancelCharge)
	}
}

// runMigrations runs database migrations using golang-migrate.
func runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func setupLogger(env string) {
	if env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}
