package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parcel-marketplace/backend/internal/apperr"
	"github.com/parcel-marketplace/backend/internal/matching"
	"github.com/parcel-marketplace/backend/internal/models"
	"go.uber.org/zap"
)

// TripStoreFull extends TripStore with the worker-facing sweep.
type TripStoreFull interface {
	TripStore
	ExpireDeparted(ctx context.Context, before time.Time) ([]uuid.UUID, error)
}

type TripService struct {
	tripRepo TripStoreFull
	userRepo UserStore
	engine   *matching.Engine
	log      *zap.Logger

	now func() time.Time
}

func NewTripService(tripRepo TripStoreFull, userRepo UserStore, engine *matching.Engine, log *zap.Logger) *TripService {
	return &TripService{
		tripRepo: tripRepo,
		userRepo: userRepo,
		engine:   engine,
		log:      log,
		now:      time.Now,
	}
}

// Create publishes a trip. Only verified travelers can carry packages, so
// the gate sits at creation rather than at match time.
func (s *TripService) Create(ctx context.Context, actorID uuid.UUID, origin, destination string, departureAt time.Time, space string) (*models.Trip, error) {
	actor, err := s.userRepo.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleTraveler {
		return nil, apperr.Forbidden("only travelers can publish trips")
	}
	if !actor.IsVerified {
		return nil, apperr.Forbidden("account is not verified")
	}

	origin = strings.TrimSpace(origin)
	destination = strings.TrimSpace(destination)
	if origin == "" || destination == "" {
		return nil, apperr.Validation("origin and destination are required")
	}
	if !models.IsValidSpaceClass(space) {
		return nil, apperr.Validation("available space must be small, medium or large")
	}
	if !departureAt.After(s.now()) {
		return nil, apperr.Validation("departure must be in the future")
	}

	t := &models.Trip{
		TravelerID:     actorID,
		Origin:         origin,
		Destination:    destination,
		DepartureAt:    departureAt,
		AvailableSpace: space,
		Status:         models.TripStatusActive,
	}
	if err := s.tripRepo.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TripService) Get(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	return s.tripRepo.GetByID(ctx, id)
}

func (s *TripService) ListMine(ctx context.Context, actorID uuid.UUID) ([]models.Trip, error) {
	return s.tripRepo.ListByTraveler(ctx, actorID)
}

// Cancel withdraws a trip. The repository refuses when any match on it is
// past pending.
func (s *TripService) Cancel(ctx context.Context, actorID, tripID uuid.UUID) error {
	t, err := s.tripRepo.GetByID(ctx, tripID)
	if err != nil {
		return err
	}
	if t.TravelerID != actorID {
		return apperr.Forbidden("not your trip")
	}
	return s.tripRepo.Cancel(ctx, tripID)
}

// Search ranks active trips against a delivery query.
func (s *TripService) Search(ctx context.Context, q matching.Query) ([]matching.Candidate, error) {
	q.Origin = strings.TrimSpace(q.Origin)
	q.Destination = strings.TrimSpace(q.Destination)
	if q.Origin == "" || q.Destination == "" {
		return nil, apperr.Validation("origin and destination are required")
	}
	if q.PackageSize != "" && !models.IsValidSpaceClass(q.PackageSize) {
		return nil, apperr.Validation("package size must be small, medium or large")
	}
	return s.engine.SearchCandidates(ctx, q)
}

// ExpireDeparted completes trips whose departure has passed. Run by the
// worker.
func (s *TripService) ExpireDeparted(ctx context.Context) (int, error) {
	ids, err := s.tripRepo.ExpireDeparted(ctx, s.now())
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
