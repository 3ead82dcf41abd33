package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/parcel-marketplace/backend/internal/config"
	"github.com/parcel-marketplace/backend/internal/http/handlers"
	"github.com/parcel-marketplace/backend/internal/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	userHandler *handlers.UserHandler,
	tripHandler *handlers.TripHandler,
	requestHandler *handlers.RequestHandler,
	matchHandler *handlers.MatchHandler,
	paymentHandler *handlers.PaymentHandler,
	notificationHandler *handlers.NotificationHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))

	// Auth (public)
	api.Post("/auth/register", authHandler.Register)
	api.Post("/auth/login", authHandler.Login)

	// Payment provider callback (public, provider-signed)
	api.Post("/payments/webhook", paymentHandler.Webhook)

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// User
	protected.Get("/me", userHandler.GetMe)
	protected.Get("/me/stats", userHandler.GetStats)
	protected.Get("/me/wallet", userHandler.GetWallet)
	protected.Put("/me/bank-details", userHandler.UpdateBankDetails)
	protected.Put("/me/push-token", userHandler.UpdatePushToken)
	protected.Post("/me/verification", userHandler.RequestVerification)
	protected.Get("/verification/status", userHandler.GetVerificationStatus)

	// Trips
	protected.Post("/trips", tripHandler.CreateTrip)
	protected.Get("/trips/my", tripHandler.MyTrips)
	protected.Get("/trips/search", tripHandler.SearchTrips)
	protected.Get("/trips/:id", tripHandler.GetTrip)
	protected.Post("/trips/:id/cancel", tripHandler.CancelTrip)
	protected.Get("/trips/:id/matches", tripHandler.TripMatches)

	// Delivery requests
	protected.Post("/requests", requestHandler.CreateRequest)
	protected.Get("/requests/my", requestHandler.MyRequests)
	protected.Get("/requests/:id", requestHandler.GetRequest)
	protected.Post("/requests/:id/cancel", requestHandler.CancelRequest)
	protected.Get("/requests/:id/matches", requestHandler.RequestMatches)

	// Matches
	protected.Post("/matches", matchHandler.ProposeMatch)
	protected.Get("/matches", matchHandler.ListMatches)
	protected.Get("/matches/:id", matchHandler.GetMatch)
	protected.Get("/matches/:id/events", matchHandler.MatchEvents)
	protected.Post("/matches/:id/accept", matchHandler.AcceptMatch)
	protected.Post("/matches/:id/decline", matchHandler.DeclineMatch)
	protected.Post("/matches/:id/cancel", matchHandler.CancelMatch)
	protected.Post("/matches/:id/otp/:type", matchHandler.RequestOTP)
	protected.Post("/matches/:id/pickup/confirm", matchHandler.ConfirmPickup)
	protected.Post("/matches/:id/delivery/confirm", matchHandler.ConfirmDelivery)

	// Payments
	protected.Post("/matches/:id/payment", paymentHandler.InitializePayment)
	protected.Get("/matches/:id/payment", paymentHandler.GetPayment)
	protected.Post("/payments/create-session", paymentHandler.CreateSession)

	// Notifications
	protected.Get("/notifications", notificationHandler.ListNotifications)
	protected.Post("/notifications/:id/read", notificationHandler.MarkRead)
	protected.Post("/notifications/read-all", notificationHandler.MarkAllRead)

	// Admin
	admin := protected.Group("/admin", middleware.AdminMiddleware())
	admin.Put("/users/:id/verification", userHandler.SetVerification)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
