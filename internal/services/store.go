package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/parcel-marketplace/backend/internal/models"
)

// Narrow store interfaces, satisfied by internal/repositories in production
// and by in-memory fakes in tests.

type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type TripStore interface {
	Create(ctx context.Context, t *models.Trip) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Trip, error)
	ListByTraveler(ctx context.Context, travelerID uuid.UUID) ([]models.Trip, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

type RequestStore interface {
	Create(ctx context.Context, d *models.DeliveryRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.DeliveryRequest, error)
	ListByBusiness(ctx context.Context, businessID uuid.UUID) ([]models.DeliveryRequest, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

type MatchStore interface {
	Create(ctx context.Context, m *models.Match) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Match, error)
	ActivePairExists(ctx context.Context, tripID, requestID uuid.UUID) (bool, error)

	// Accept is the atomic accepted-write + request matched + sibling
	// auto-decline transaction. Returns the declined sibling ids.
	Accept(ctx context.Context, matchID uuid.UUID, version int, at time.Time) ([]uuid.UUID, error)

	UpdateStatusVersioned(ctx context.Context, matchID uuid.UUID, from, to string, version int, reopenRequest bool) error
	SetOTP(ctx context.Context, matchID uuid.UUID, otpType, code string, at time.Time) error
	RecordOTPFailure(ctx context.Context, matchID uuid.UUID, otpType string, invalidate bool) error
	ConfirmPickup(ctx context.Context, matchID uuid.UUID, version int, at time.Time) error
	ConfirmDelivery(ctx context.Context, matchID uuid.UUID, version int, at time.Time) error
	SetPaymentRef(ctx context.Context, matchID uuid.UUID, ref string) error
	ExpirePending(ctx context.Context, olderThan time.Time) ([]uuid.UUID, error)

	ListByTrip(ctx context.Context, tripID uuid.UUID) ([]models.Match, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]models.Match, error)
	ListWithRouteByUser(ctx context.Context, userID uuid.UUID, statuses []string) ([]models.MatchWithRoute, error)
}

type EscrowStore interface {
	Create(ctx context.Context, e *models.EscrowEntry) error
	GetByMatchID(ctx context.Context, matchID uuid.UUID) (*models.EscrowEntry, error)
	Capture(ctx context.Context, matchID uuid.UUID, providerRef string) (bool, error)
	Release(ctx context.Context, matchID uuid.UUID) (bool, error)
	Refund(ctx context.Context, matchID uuid.UUID) (bool, error)
}

type WalletStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
}

type NotificationStore interface {
	Insert(ctx context.Context, n *models.Notification) error
}

type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}
