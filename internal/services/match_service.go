package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/parcel-marketplace/backend/internal/apperr"
	"github.com/parcel-marketplace/backend/internal/config"
	"github.com/parcel-marketplace/backend/internal/events"
	"github.com/parcel-marketplace/backend/internal/models"
	"github.com/parcel-marketplace/backend/internal/otp"
	"go.uber.org/zap"
)

// MatchService owns the match lifecycle: proposal, acceptance, OTP-gated
// pickup and delivery, and the escrow gating between them. Every operation
// takes the acting principal explicitly and verifies it against the target
// entities; there is no ambient user state.
type MatchService struct {
	matchRepo   MatchStore
	tripRepo    TripStore
	requestRepo RequestStore
	userRepo    UserStore
	escrow      *EscrowService
	notifRepo   NotificationStore
	auditRepo   AuditStore
	publisher   events.Publisher
	cfg         *config.Config
	log         *zap.Logger

	now func() time.Time
}

func NewMatchService(
	matchRepo MatchStore,
	tripRepo TripStore,
	requestRepo RequestStore,
	userRepo UserStore,
	escrow *EscrowService,
	notifRepo NotificationStore,
	auditRepo AuditStore,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *MatchService {
	return &MatchService{
		matchRepo:   matchRepo,
		tripRepo:    tripRepo,
		requestRepo: requestRepo,
		userRepo:    userRepo,
		escrow:      escrow,
		notifRepo:   notifRepo,
		auditRepo:   auditRepo,
		publisher:   publisher,
		cfg:         cfg,
		log:         log,
		now:         time.Now,
	}
}

// Propose creates a pending match pairing a trip with the caller's open
// delivery request.
func (s *MatchService) Propose(ctx context.Context, actorID, tripID, requestID uuid.UUID) (*models.Match, error) {
	actor, err := s.userRepo.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.IsVerified {
		return nil, apperr.Forbidden("account is not verified")
	}

	req, err := s.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.BusinessID != actorID {
		return nil, apperr.Forbidden("only the delivery request owner can request a match")
	}
	if req.Status != models.RequestStatusOpen {
		return nil, apperr.InvalidState(req.Status, "delivery request is not open")
	}

	trip, err := s.tripRepo.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Status != models.TripStatusActive {
		return nil, apperr.InvalidState(trip.Status, "trip is not active")
	}
	if !models.SpaceFits(trip.AvailableSpace, req.PackageSize) {
		return nil, apperr.Validation("trip space %q cannot carry a %q package", trip.AvailableSpace, req.PackageSize)
	}

	exists, err := s.matchRepo.ActivePairExists(ctx, tripID, requestID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.InvalidState(models.MatchStatusPending, "a match already exists for this trip and request")
	}

	m := &models.Match{
		TripID:     tripID,
		RequestID:  requestID,
		TravelerID: trip.TravelerID,
		BusinessID: req.BusinessID,
		Status:     models.MatchStatusPending,
		Amount:     req.EstimatedCost,
	}
	if err := s.matchRepo.Create(ctx, m); err != nil {
		return nil, err
	}

	s.notify(ctx, trip.TravelerID, models.NotificationMatchProposed,
		"New delivery request", "A business wants you to carry a package on your trip.", m.ID)
	s.audit(ctx, &actorID, "match_proposed", m.ID, map[string]any{"trip_id": tripID, "request_id": requestID})
	s.publish(ctx, m.ID, "", models.MatchStatusPending)

	return m, nil
}

// Accept moves a pending match to accepted. The request is marked matched
// and every sibling proposal on it auto-declines, atomically: at most one
// match per request ever reaches accepted or later.
func (s *MatchService) Accept(ctx context.Context, actorID, matchID uuid.UUID) error {
	m, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		return err
	}
	if m.TravelerID != actorID {
		return apperr.Forbidden("only the trip's traveler can accept a match")
	}
	if !models.IsValidMatchTransition(m.Status, models.MatchStatusAccepted) {
		return apperr.InvalidState(m.Status, "match cannot be accepted from %s", m.Status)
	}

	declined, err := s.matchRepo.Accept(ctx, matchID, m.Version, s.now())
	if err != nil {
		return err
	}

	s.notify(ctx, m.BusinessID, models.NotificationMatchAccepted,
		"Match accepted", "A traveler accepted your delivery request. Proceed to payment.", matchID)
	s.audit(ctx, &actorID, "match_accepted", matchID, map[string]any{"auto_declined": len(declined)})
	s.publish(ctx, matchID, models.MatchStatusPending, models.MatchStatusAccepted)
	for _, id := range declined {
		s.publish(ctx, id, models.MatchStatusPending, models.MatchStatusDeclined)
	}

	return nil
}

// Decline rejects a pending match. Either side may withdraw before
// acceptance.
func (s *MatchService) Decline(ctx context.Context, actorID, matchID uuid.UUID) error {
	m, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		return err
	}
	if m.TravelerID != actorID && m.BusinessID != actorID {
		return apperr.Forbidden("not a party to this match")
	}
	if !models.IsValidMatchTransition(m.Status, models.MatchStatusDeclined) {
		return apperr.InvalidState(m.Status, "match cannot be declined from %s", m.Status)
	}

	if err := s.matchRepo.UpdateStatusVersioned(ctx, matchID, m.Status, models.MatchStatusDeclined, m.Version, false); err != nil {
		return err
	}

	counterparty := m.BusinessID
	if actorID == m.BusinessID {
		counterparty = m.TravelerID
	}
	s.notify(ctx, counterparty, models.NotificationMatchDeclined,
		"Match declined", "The match was declined.", matchID)
	s.audit(ctx, &actorID, "match_declined", matchID, nil)
	s.publish(ctx, matchID, m.Status, models.MatchStatusDeclined)

	return nil
}

// Cancel terminates a match before pickup. Forbidden once payment is
// captured; cancelled matches with an authorized escrow entry are refunded
// and an accepted match reopens its delivery request.
func (s *MatchService) Cancel(ctx context.Context, actorID, matchID uuid.UUID) error {
	m, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		return err
	}
	if m.TravelerID != actorID && m.BusinessID != actorID {
		return apperr.Forbidden("not a party to this match")
	}
	if !models.IsValidMatchTransition(m.Status, models.MatchStatusCancelled) {
		return apperr.InvalidState(m.Status, "match cannot be cancelled from %s", m.Status)
	}

	entry, err := s.escrow.GetByMatch(ctx, matchID)
	if err != nil && !apperr.IsCode(err, apperr.CodeNotFound) {
		return err
	}
	if entry != nil && entry.Status != models.EscrowStatusAuthorized {
		return apperr.InvalidState(m.Status, "match cannot be cancelled after payment capture")
	}

	reopen := m.Status == models.MatchStatusAccepted
	if err := s.matchRepo.UpdateStatusVersioned(ctx, matchID, m.Status, models.MatchStatusCancelled, m.Version, reopen); err != nil {
		return err
	}
	if entry != nil {
		if err := s.escrow.Refund(ctx, matchID); err != nil {
			s.log.Error("refund after cancel failed", zap.String("match_id", matchID.String()), zap.Error(err))
		}
	}

	counterparty := m.BusinessID
	if actorID == m.BusinessID {
		counterparty = m.TravelerID
	}
	s.notify(ctx, counterparty, models.NotificationMatchCancelled,
		"Match cancelled", "The match was cancelled.", matchID)
	s.audit(ctx, &actorID, "match_cancelled", matchID, nil)
	s.publish(ctx, matchID, m.Status, models.MatchStatusCancelled)

	return nil
}

// OTPResult is the outcome of an OTP request: a fresh code, or the
// remaining cooldown when one was issued too recently.
type OTPResult struct {
	Code              string `json:"code,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// RequestOTP issues (or re-issues, past the cooldown) a handoff code.
// Pickup codes are never issuable before escrow capture: that gate is what
// keeps unpaid pickups impossible.
func (s *MatchService) RequestOTP(ctx context.Context, actorID, matchID uuid.UUID, otpType string) (*OTPResult, error) {
	if otpType != models.OTPTypePickup && otpType != models.OTPTypeDelivery {
		return nil, apperr.Validation("otp type must be %q or %q", models.OTPTypePickup, models.OTPTypeDelivery)
	}

	m, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.TravelerID != actorID && m.BusinessID != actorID {
		return nil, apperr.Forbidden("not a party to this match")
	}

	var requestedAt *time.Time
	switch otpType {
	case models.OTPTypePickup:
		if m.Status != models.MatchStatusAccepted {
			return nil, apperr.InvalidState(m.Status, "pickup code requires an accepted match")
		}
		entry, err := s.escrow.GetByMatch(ctx, matchID)
		if err != nil && !apperr.IsCode(err, apperr.CodeNotFound) {
			return nil, err
		}
		if entry == nil || entry.Status != models.EscrowStatusCaptured {
			return nil, apperr.InvalidState(m.Status, "pickup code requires captured payment")
		}
		requestedAt = m.PickupOTPRequestedAt
	case models.OTPTypeDelivery:
		if m.Status != models.MatchStatusPickupConfirmed {
			return nil, apperr.InvalidState(m.Status, "delivery code requires confirmed pickup")
		}
		requestedAt = m.DeliveryOTPRequestedAt
	}

	if remaining := otp.CooldownRemaining(requestedAt, s.now(), s.cfg.OTPCooldown); remaining > 0 {
		seconds := int(remaining.Seconds() + 0.5)
		return &OTPResult{RetryAfterSeconds: seconds}, apperr.Cooldown(seconds)
	}

	code, err := otp.Generate()
	if err != nil {
		return nil, err
	}
	if err := s.matchRepo.SetOTP(ctx, matchID, otpType, code, s.now()); err != nil {
		return nil, err
	}

	s.audit(ctx, &actorID, "otp_issued", matchID, map[string]any{"type": otpType})
	// The code itself never goes over the event stream.
	_ = s.publisher.Publish(ctx, events.StreamMatch, events.Event{
		Type: events.EventOTPIssued,
		Payload: map[string]any{
			"match_id": matchID.String(),
			"type":     otpType,
		},
	})

	return &OTPResult{Code: code}, nil
}

// ConfirmPickup verifies the pickup code and advances accepted ->
// pickup_confirmed. The code is single use and compared exactly.
func (s *MatchService) ConfirmPickup(ctx context.Context, actorID, matchID uuid.UUID, code string) error {
	m, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		return err
	}
	if m.TravelerID != actorID {
		return apperr.Forbidden("only the traveler can confirm pickup")
	}
	if m.Status != models.MatchStatusAccepted {
		return apperr.InvalidState(m.Status, "pickup can only be confirmed from accepted")
	}

	entry, err := s.escrow.GetByMatch(ctx, matchID)
	if err != nil && !apperr.IsCode(err, apperr.CodeNotFound) {
		return err
	}
	if entry == nil || entry.Status != models.EscrowStatusCaptured {
		return apperr.InvalidState(m.Status, "pickup requires captured payment")
	}

	if err := s.verifyOTP(ctx, m, models.OTPTypePickup, code); err != nil {
		return err
	}

	if err := s.matchRepo.ConfirmPickup(ctx, matchID, m.Version, s.now()); err != nil {
		return err
	}

	s.notify(ctx, m.BusinessID, models.NotificationPickupDone,
		"Package picked up", "The traveler has collected the package. It is now in transit.", matchID)
	s.audit(ctx, &actorID, "pickup_confirmed", matchID, nil)
	s.publish(ctx, matchID, models.MatchStatusAccepted, models.MatchStatusPickupConfirmed)

	return nil
}

// ConfirmDelivery verifies the delivery code, completes the match, and
// releases the escrow to the traveler's wallet.
func (s *MatchService) ConfirmDelivery(ctx context.Context, actorID, matchID uuid.UUID, code string) error {
	m, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		return err
	}
	if m.TravelerID != actorID {
		return apperr.Forbidden("only the traveler can confirm delivery")
	}
	if m.Status != models.MatchStatusPickupConfirmed {
		return apperr.InvalidState(m.Status, "delivery can only be confirmed after pickup")
	}

	if err := s.verifyOTP(ctx, m, models.OTPTypeDelivery, code); err != nil {
		return err
	}

	if err := s.matchRepo.ConfirmDelivery(ctx, matchID, m.Version, s.now()); err != nil {
		return err
	}
	if err := s.escrow.Release(ctx, matchID); err != nil {
		// The worker sweep re-runs releases for completed matches.
		s.log.Error("escrow release failed", zap.String("match_id", matchID.String()), zap.Error(err))
	}

	s.notify(ctx, m.BusinessID, models.NotificationDeliveryDone,
		"Delivery completed", "Your package was delivered and confirmed.", matchID)
	s.audit(ctx, &actorID, "delivery_confirmed", matchID, nil)
	s.publish(ctx, matchID, models.MatchStatusPickupConfirmed, models.MatchStatusCompleted)

	return nil
}

// verifyOTP compares the submitted code with the stored secret. Mismatches
// count against the attempt limit; reaching it invalidates the code.
// Consumed codes (stored as nil) are rejected on replay.
func (s *MatchService) verifyOTP(ctx context.Context, m *models.Match, otpType, code string) error {
	var stored *string
	var attempts int
	if otpType == models.OTPTypePickup {
		stored, attempts = m.PickupOTP, m.PickupOTPAttempts
	} else {
		stored, attempts = m.DeliveryOTP, m.DeliveryOTPAttempts
	}

	if stored == nil {
		return apperr.InvalidState(m.Status, "no active %s code, request a new one", otpType)
	}
	if code != *stored {
		invalidate := attempts+1 >= s.cfg.OTPMaxAttempts
		if err := s.matchRepo.RecordOTPFailure(ctx, m.ID, otpType, invalidate); err != nil {
			return err
		}
		if invalidate {
			return apperr.Validation("incorrect code; attempt limit reached, request a new one")
		}
		return apperr.Validation("incorrect code")
	}
	return nil
}

// ExpirePending auto-declines stale proposals. Run by the worker.
func (s *MatchService) ExpirePending(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.MatchPendingTTL)
	ids, err := s.matchRepo.ExpirePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.publish(ctx, id, models.MatchStatusPending, models.MatchStatusDeclined)
	}
	return len(ids), nil
}

// --- reads ---

func (s *MatchService) Get(ctx context.Context, actorID, matchID uuid.UUID) (*models.Match, error) {
	m, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.TravelerID != actorID && m.BusinessID != actorID {
		return nil, apperr.Forbidden("not a party to this match")
	}
	return m, nil
}

func (s *MatchService) ListForUser(ctx context.Context, actorID uuid.UUID, statuses []string) ([]models.MatchWithRoute, error) {
	if statuses == nil {
		statuses = []string{}
	}
	return s.matchRepo.ListWithRouteByUser(ctx, actorID, statuses)
}

// History returns the audit trail of a match, newest first. Parties only.
func (s *MatchService) History(ctx context.Context, actorID, matchID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	m, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.TravelerID != actorID && m.BusinessID != actorID {
		return nil, apperr.Forbidden("not a party to this match")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.auditRepo.GetByEntity(ctx, "match", matchID, limit, offset)
}

// ListForTrip returns proposals against the caller's trip.
func (s *MatchService) ListForTrip(ctx context.Context, actorID, tripID uuid.UUID) ([]models.Match, error) {
	trip, err := s.tripRepo.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.TravelerID != actorID {
		return nil, apperr.Forbidden("not your trip")
	}
	return s.matchRepo.ListByTrip(ctx, tripID)
}

// --- side effects ---

func (s *MatchService) notify(ctx context.Context, userID uuid.UUID, kind, title, body string, matchID uuid.UUID) {
	_ = s.notifRepo.Insert(ctx, &models.Notification{
		UserID:  userID,
		Kind:    kind,
		Title:   title,
		Body:    body,
		MatchID: &matchID,
	})
	_ = s.publisher.Publish(ctx, events.StreamMatch, events.Event{
		Type: events.EventNotification,
		Payload: map[string]any{
			"user_id":  userID.String(),
			"kind":     kind,
			"match_id": matchID.String(),
		},
	})
}

func (s *MatchService) audit(ctx context.Context, actorID *uuid.UUID, action string, matchID uuid.UUID, meta map[string]any) {
	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   "user",
		Action:      action,
		EntityType:  "match",
		EntityID:    &matchID,
		Meta:        meta,
	})
}

func (s *MatchService) publish(ctx context.Context, matchID uuid.UUID, oldStatus, newStatus string) {
	_ = s.publisher.Publish(ctx, events.StreamMatch, events.Event{
		Type: events.EventMatchStatusChanged,
		Payload: map[string]any{
			"match_id":   matchID.String(),
			"old_status": oldStatus,
			"new_status": newStatus,
		},
	})
}
