package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parcel-marketplace/backend/internal/config"
	"github.com/parcel-marketplace/backend/internal/db"
	"github.com/parcel-marketplace/backend/internal/events"
	"github.com/parcel-marketplace/backend/internal/matching"
	"github.com/parcel-marketplace/backend/internal/repositories"
	"github.com/parcel-marketplace/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	userRepo := repositories.NewUserRepo(pool)
	tripRepo := repositories.NewTripRepo(pool)
	requestRepo := repositories.NewRequestRepo(pool)
	matchRepo := repositories.NewMatchRepo(pool)
	escrowRepo := repositories.NewEscrowRepo(pool)
	notifRepo := repositories.NewNotificationRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	engine := matching.NewEngine(tripRepo)
	escrowService := services.NewEscrowService(escrowRepo, matchRepo, notifRepo, auditRepo, publisher, log)
	matchService := services.NewMatchService(matchRepo, tripRepo, requestRepo, userRepo, escrowService, notifRepo, auditRepo, publisher, cfg, log)
	tripService := services.NewTripService(tripRepo, userRepo, engine, log)

	log.Info("worker started")

	matchTicker := time.NewTicker(5 * time.Minute)
	tripTicker := time.NewTicker(10 * time.Minute)
	releaseTicker := time.NewTicker(1 * time.Minute)
	defer matchTicker.Stop()
	defer tripTicker.Stop()
	defer releaseTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-matchTicker.C:
			expirePendingMatches(ctx, matchService, log)
		case <-tripTicker.C:
			expireDepartedTrips(ctx, tripService, log)
		case <-releaseTicker.C:
			releaseStuckEscrows(ctx, escrowRepo, escrowService, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func expirePendingMatches(ctx context.Context, matchService *services.MatchService, log *zap.Logger) {
	n, err := matchService.ExpirePending(ctx)
	if err != nil {
		log.Error("expire pending matches", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("expired pending matches", zap.Int("count", n))
	}
}

func expireDepartedTrips(ctx context.Context, tripService *services.TripService, log *zap.Logger) {
	n, err := tripService.ExpireDeparted(ctx)
	if err != nil {
		log.Error("expire departed trips", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("expired departed trips", zap.Int("count", n))
	}
}

// releaseStuckEscrows re-runs the release for completed matches whose
// escrow is still captured, covering a crash between delivery confirmation
// and release.
func releaseStuckEscrows(ctx context.Context, escrowRepo *repositories.EscrowRepo, escrowService *services.EscrowService, log *zap.Logger) {
	matchIDs, err := escrowRepo.CapturedForCompletedMatches(ctx)
	if err != nil {
		log.Error("list stuck escrows", zap.Error(err))
		return
	}
	for _, id := range matchIDs {
		if err := escrowService.Release(ctx, id); err != nil {
			log.Error("release stuck escrow", zap.String("match_id", id.String()), zap.Error(err))
			continue
		}
		log.Info("released stuck escrow", zap.String("match_id", id.String()))
	}
}
