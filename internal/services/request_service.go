package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parcel-marketplace/backend/internal/apperr"
	"github.com/parcel-marketplace/backend/internal/models"
	"go.uber.org/zap"
)

type RequestService struct {
	requestRepo RequestStore
	matchRepo   MatchStore
	userRepo    UserStore
	log         *zap.Logger

	now func() time.Time
}

func NewRequestService(requestRepo RequestStore, matchRepo MatchStore, userRepo UserStore, log *zap.Logger) *RequestService {
	return &RequestService{
		requestRepo: requestRepo,
		matchRepo:   matchRepo,
		userRepo:    userRepo,
		log:         log,
		now:         time.Now,
	}
}

// Create opens a delivery request. Verified businesses only.
func (s *RequestService) Create(ctx context.Context, actorID uuid.UUID, origin, destination string, deliveryDate *time.Time, packageSize, description string, estimatedCost models.Money) (*models.DeliveryRequest, error) {
	actor, err := s.userRepo.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleBusiness {
		return nil, apperr.Forbidden("only businesses can post delivery requests")
	}
	if !actor.IsVerified {
		return nil, apperr.Forbidden("account is not verified")
	}

	origin = strings.TrimSpace(origin)
	destination = strings.TrimSpace(destination)
	if origin == "" || destination == "" {
		return nil, apperr.Validation("origin and destination are required")
	}
	if !models.IsValidSpaceClass(packageSize) {
		return nil, apperr.Validation("package size must be small, medium or large")
	}
	if estimatedCost <= 0 {
		return nil, apperr.Validation("estimated cost must be positive")
	}
	if deliveryDate != nil && deliveryDate.Before(s.now().Truncate(24*time.Hour)) {
		return nil, apperr.Validation("delivery date cannot be in the past")
	}

	d := &models.DeliveryRequest{
		BusinessID:    actorID,
		Origin:        origin,
		Destination:   destination,
		DeliveryDate:  deliveryDate,
		PackageSize:   packageSize,
		Description:   strings.TrimSpace(description),
		EstimatedCost: estimatedCost,
		Status:        models.RequestStatusOpen,
	}
	if err := s.requestRepo.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *RequestService) Get(ctx context.Context, actorID, requestID uuid.UUID) (*models.DeliveryRequest, error) {
	d, err := s.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if d.BusinessID != actorID {
		return nil, apperr.Forbidden("not your delivery request")
	}
	return d, nil
}

func (s *RequestService) ListMine(ctx context.Context, actorID uuid.UUID) ([]models.DeliveryRequest, error) {
	return s.requestRepo.ListByBusiness(ctx, actorID)
}

// Matches lists the proposals raised against one of the caller's requests.
func (s *RequestService) Matches(ctx context.Context, actorID, requestID uuid.UUID) ([]models.Match, error) {
	d, err := s.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if d.BusinessID != actorID {
		return nil, apperr.Forbidden("not your delivery request")
	}
	return s.matchRepo.ListByRequest(ctx, requestID)
}

// Cancel closes an open request. Requests with an accepted match have to
// cancel the match instead, which reopens and then cancels cleanly.
func (s *RequestService) Cancel(ctx context.Context, actorID, requestID uuid.UUID) error {
	d, err := s.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	if d.BusinessID != actorID {
		return apperr.Forbidden("not your delivery request")
	}
	return s.requestRepo.Cancel(ctx, requestID)
}
