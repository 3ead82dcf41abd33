package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/parcel-marketplace/backend/internal/config"
	"github.com/parcel-marketplace/backend/internal/db"
	"github.com/parcel-marketplace/backend/internal/events"
	apphttp "github.com/parcel-marketplace/backend/internal/http"
	"github.com/parcel-marketplace/backend/internal/http/handlers"
	"github.com/parcel-marketplace/backend/internal/matching"
	"github.com/parcel-marketplace/backend/internal/repositories"
	"github.com/parcel-marketplace/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	tripRepo := repositories.NewTripRepo(pool)
	requestRepo := repositories.NewRequestRepo(pool)
	matchRepo := repositories.NewMatchRepo(pool)
	escrowRepo := repositories.NewEscrowRepo(pool)
	notifRepo := repositories.NewNotificationRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	walletRepo := repositories.NewWalletRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	engine := matching.NewEngine(tripRepo)
	userService := services.NewUserService(userRepo, walletRepo, cfg, log)
	tripService := services.NewTripService(tripRepo, userRepo, engine, log)
	requestService := services.NewRequestService(requestRepo, matchRepo, userRepo, log)
	escrowService := services.NewEscrowService(escrowRepo, matchRepo, notifRepo, auditRepo, publisher, log)
	matchService := services.NewMatchService(matchRepo, tripRepo, requestRepo, userRepo, escrowService, notifRepo, auditRepo, publisher, cfg, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(userService, log)
	userHandler := handlers.NewUserHandler(userService, log)
	tripHandler := handlers.NewTripHandler(tripService, matchService, log)
	requestHandler := handlers.NewRequestHandler(requestService, log)
	matchHandler := handlers.NewMatchHandler(matchService, log)
	paymentHandler := handlers.NewPaymentHandler(escrowService, cfg, log)
	notificationHandler := handlers.NewNotificationHandler(notifRepo, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, userHandler, tripHandler, requestHandler, matchHandler, paymentHandler, notificationHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
