package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/parcel-marketplace/backend/internal/apperr"
	"github.com/parcel-marketplace/backend/internal/events"
	"github.com/parcel-marketplace/backend/internal/models"
	"go.uber.org/zap"
)

// EscrowService bridges match lifecycle events to money movement. The state
// machine never talks to the payment provider; it only observes the escrow
// entry's state. All operations here are idempotent under at-least-once
// delivery of provider webhooks.
type EscrowService struct {
	escrowRepo EscrowStore
	matchRepo  MatchStore
	notifRepo  NotificationStore
	auditRepo  AuditStore
	publisher  events.Publisher
	log        *zap.Logger
}

func NewEscrowService(
	escrowRepo EscrowStore,
	matchRepo MatchStore,
	notifRepo NotificationStore,
	auditRepo AuditStore,
	publisher events.Publisher,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		escrowRepo: escrowRepo,
		matchRepo:  matchRepo,
		notifRepo:  notifRepo,
		auditRepo:  auditRepo,
		publisher:  publisher,
		log:        log,
	}
}

// Authorize creates the escrow entry when the business initiates payment.
// Only the business on an accepted match may pay for it.
func (s *EscrowService) Authorize(ctx context.Context, actorID, matchID uuid.UUID) (*models.EscrowEntry, error) {
	m, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.BusinessID != actorID {
		return nil, apperr.Forbidden("only the delivery request owner can pay for this match")
	}
	if m.Status != models.MatchStatusAccepted {
		return nil, apperr.InvalidState(m.Status, "match must be accepted before payment")
	}

	if existing, err := s.escrowRepo.GetByMatchID(ctx, matchID); err == nil {
		// Re-initialization returns the existing entry rather than
		// double-authorizing.
		return existing, nil
	} else if !apperr.IsCode(err, apperr.CodeNotFound) {
		return nil, err
	}

	ref := "escrow:" + matchID.String()
	entry := &models.EscrowEntry{
		MatchID:     matchID,
		Amount:      m.Amount,
		Status:      models.EscrowStatusAuthorized,
		ProviderRef: &ref,
	}
	if err := s.escrowRepo.Create(ctx, entry); err != nil {
		return nil, err
	}
	if err := s.matchRepo.SetPaymentRef(ctx, matchID, ref); err != nil {
		return nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &actorID,
		ActorType:   "user",
		Action:      "escrow_authorized",
		EntityType:  "match",
		EntityID:    &matchID,
		Meta:        map[string]any{"amount": m.Amount},
	})

	return entry, nil
}

// Capture marks the funds received: escrow -> captured, traveler's pending
// balance credited. Duplicate webhook deliveries are no-ops.
func (s *EscrowService) Capture(ctx context.Context, matchID uuid.UUID, providerRef string) error {
	captured, err := s.escrowRepo.Capture(ctx, matchID, providerRef)
	if err != nil {
		return fmt.Errorf("capture escrow: %w", err)
	}
	if !captured {
		entry, err := s.escrowRepo.GetByMatchID(ctx, matchID)
		if err != nil {
			return err
		}
		// Already past authorized: treat the retry as delivered.
		s.log.Debug("duplicate capture ignored",
			zap.String("match_id", matchID.String()),
			zap.String("escrow_status", entry.Status),
		)
		return nil
	}

	m, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		return err
	}

	_ = s.notifRepo.Insert(ctx, &models.Notification{
		UserID:  m.TravelerID,
		Kind:    models.NotificationPaymentCaptured,
		Title:   "Payment received",
		Body:    "Payment for your delivery is in escrow. You can now request the pickup code.",
		MatchID: &matchID,
	})
	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "escrow_captured",
		EntityType: "match",
		EntityID:   &matchID,
		Meta:       map[string]any{"provider_ref": providerRef},
	})
	_ = s.publisher.Publish(ctx, events.StreamMatch, events.Event{
		Type: events.EventPaymentCaptured,
		Payload: map[string]any{
			"match_id": matchID.String(),
		},
	})

	return nil
}

// Release moves escrowed funds to the traveler's available balance.
// Invoked by delivery confirmation and by the worker sweep; releasing an
// already-released entry is a no-op.
func (s *EscrowService) Release(ctx context.Context, matchID uuid.UUID) error {
	released, err := s.escrowRepo.Release(ctx, matchID)
	if err != nil {
		return fmt.Errorf("release escrow: %w", err)
	}
	if !released {
		return nil
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "escrow_released",
		EntityType: "match",
		EntityID:   &matchID,
	})
	_ = s.publisher.Publish(ctx, events.StreamMatch, events.Event{
		Type: events.EventEscrowReleased,
		Payload: map[string]any{
			"match_id": matchID.String(),
		},
	})
	return nil
}

// Refund voids the escrow on a cancelled match. No wallet credit to the
// traveler.
func (s *EscrowService) Refund(ctx context.Context, matchID uuid.UUID) error {
	refunded, err := s.escrowRepo.Refund(ctx, matchID)
	if err != nil {
		return fmt.Errorf("refund escrow: %w", err)
	}
	if refunded {
		_ = s.auditRepo.Log(ctx, models.AuditLog{
			ActorType:  "system",
			Action:     "escrow_refunded",
			EntityType: "match",
			EntityID:   &matchID,
		})
	}
	return nil
}

func (s *EscrowService) GetByMatch(ctx context.Context, matchID uuid.UUID) (*models.EscrowEntry, error) {
	return s.escrowRepo.GetByMatchID(ctx, matchID)
}
