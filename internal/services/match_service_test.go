package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/parcel-marketplace/backend/internal/apperr"
	"github.com/parcel-marketplace/backend/internal/config"
	"github.com/parcel-marketplace/backend/internal/events"
	"github.com/parcel-marketplace/backend/internal/models"
	"go.uber.org/zap"
)

// memStore is an in-memory implementation of the store interfaces with the
// same guard semantics as the postgres repositories. Tests drive the
// services against it directly.
type memStore struct {
	users    map[uuid.UUID]*models.User
	trips    map[uuid.UUID]*models.Trip
	requests map[uuid.UUID]*models.DeliveryRequest
	matches  map[uuid.UUID]*models.Match
	escrows  map[uuid.UUID]*models.EscrowEntry // keyed by match id
	wallets  map[uuid.UUID]*models.Wallet
	notifs   []models.Notification
	audits   []models.AuditLog
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[uuid.UUID]*models.User{},
		trips:    map[uuid.UUID]*models.Trip{},
		requests: map[uuid.UUID]*models.DeliveryRequest{},
		matches:  map[uuid.UUID]*models.Match{},
		escrows:  map[uuid.UUID]*models.EscrowEntry{},
		wallets:  map[uuid.UUID]*models.Wallet{},
	}
}

func (s *memStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	cp := *u
	return &cp, nil
}

type memTripStore struct{ s *memStore }

func (t memTripStore) Create(ctx context.Context, tr *models.Trip) error {
	tr.ID = uuid.New()
	t.s.trips[tr.ID] = tr
	return nil
}

func (t memTripStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	tr, ok := t.s.trips[id]
	if !ok {
		return nil, apperr.NotFound("trip")
	}
	cp := *tr
	return &cp, nil
}

func (t memTripStore) ListByTraveler(ctx context.Context, travelerID uuid.UUID) ([]models.Trip, error) {
	var out []models.Trip
	for _, tr := range t.s.trips {
		if tr.TravelerID == travelerID {
			out = append(out, *tr)
		}
	}
	return out, nil
}

func (t memTripStore) Cancel(ctx context.Context, id uuid.UUID) error {
	tr, ok := t.s.trips[id]
	if !ok {
		return apperr.NotFound("trip")
	}
	tr.Status = models.TripStatusCancelled
	return nil
}

type memRequestStore struct{ s *memStore }

func (r memRequestStore) Create(ctx context.Context, d *models.DeliveryRequest) error {
	d.ID = uuid.New()
	r.s.requests[d.ID] = d
	return nil
}

func (r memRequestStore) GetByID(ctx context.Context, id uuid.UUID) (*models.DeliveryRequest, error) {
	d, ok := r.s.requests[id]
	if !ok {
		return nil, apperr.NotFound("delivery request")
	}
	cp := *d
	return &cp, nil
}

func (r memRequestStore) ListByBusiness(ctx context.Context, businessID uuid.UUID) ([]models.DeliveryRequest, error) {
	var out []models.DeliveryRequest
	for _, d := range r.s.requests {
		if d.BusinessID == businessID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r memRequestStore) Cancel(ctx context.Context, id uuid.UUID) error {
	d, ok := r.s.requests[id]
	if !ok {
		return apperr.NotFound("delivery request")
	}
	if d.Status != models.RequestStatusOpen {
		return apperr.InvalidState(d.Status, "only open requests can be cancelled")
	}
	d.Status = models.RequestStatusCancelled
	return nil
}

type memMatchStore struct{ s *memStore }

func (m memMatchStore) Create(ctx context.Context, mt *models.Match) error {
	mt.ID = uuid.New()
	mt.Version = 1
	mt.CreatedAt = time.Now()
	m.s.matches[mt.ID] = mt
	return nil
}

func (m memMatchStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	mt, ok := m.s.matches[id]
	if !ok {
		return nil, apperr.NotFound("match")
	}
	cp := *mt
	return &cp, nil
}

func (m memMatchStore) ActivePairExists(ctx context.Context, tripID, requestID uuid.UUID) (bool, error) {
	for _, mt := range m.s.matches {
		if mt.TripID == tripID && mt.RequestID == requestID && !models.IsTerminalMatchStatus(mt.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (m memMatchStore) Accept(ctx context.Context, matchID uuid.UUID, version int, at time.Time) ([]uuid.UUID, error) {
	mt, ok := m.s.matches[matchID]
	if !ok {
		return nil, apperr.NotFound("match")
	}
	if mt.Status != models.MatchStatusPending || mt.Version != version {
		return nil, apperr.Conflict("match was modified concurrently")
	}
	mt.Status = models.MatchStatusAccepted
	mt.AcceptedAt = &at
	mt.Version++

	req := m.s.requests[mt.RequestID]
	if req == nil || req.Status != models.RequestStatusOpen {
		return nil, apperr.Conflict("delivery request is no longer open")
	}
	req.Status = models.RequestStatusMatched

	var declined []uuid.UUID
	for id, sib := range m.s.matches {
		if id != matchID && sib.RequestID == mt.RequestID && sib.Status == models.MatchStatusPending {
			sib.Status = models.MatchStatusDeclined
			sib.Version++
			declined = append(declined, id)
		}
	}
	return declined, nil
}

func (m memMatchStore) UpdateStatusVersioned(ctx context.Context, matchID uuid.UUID, from, to string, version int, reopenRequest bool) error {
	mt, ok := m.s.matches[matchID]
	if !ok {
		return apperr.NotFound("match")
	}
	if mt.Status != from || mt.Version != version {
		return apperr.Conflict("match was modified concurrently")
	}
	mt.Status = to
	mt.Version++
	if reopenRequest {
		if req := m.s.requests[mt.RequestID]; req != nil {
			req.Status = models.RequestStatusOpen
		}
	}
	return nil
}

func (m memMatchStore) SetOTP(ctx context.Context, matchID uuid.UUID, otpType, code string, at time.Time) error {
	mt, ok := m.s.matches[matchID]
	if !ok {
		return apperr.NotFound("match")
	}
	if otpType == models.OTPTypePickup {
		mt.PickupOTP = &code
		mt.PickupOTPRequestedAt = &at
		mt.PickupOTPAttempts = 0
	} else {
		mt.DeliveryOTP = &code
		mt.DeliveryOTPRequestedAt = &at
		mt.DeliveryOTPAttempts = 0
	}
	mt.Version++
	return nil
}

func (m memMatchStore) RecordOTPFailure(ctx context.Context, matchID uuid.UUID, otpType string, invalidate bool) error {
	mt, ok := m.s.matches[matchID]
	if !ok {
		return apperr.NotFound("match")
	}
	if otpType == models.OTPTypePickup {
		mt.PickupOTPAttempts++
		if invalidate {
			mt.PickupOTP = nil
		}
	} else {
		mt.DeliveryOTPAttempts++
		if invalidate {
			mt.DeliveryOTP = nil
		}
	}
	return nil
}

func (m memMatchStore) ConfirmPickup(ctx context.Context, matchID uuid.UUID, version int, at time.Time) error {
	mt, ok := m.s.matches[matchID]
	if !ok {
		return apperr.NotFound("match")
	}
	if mt.Status != models.MatchStatusAccepted || mt.Version != version {
		return apperr.Conflict("match was modified concurrently")
	}
	mt.Status = models.MatchStatusPickupConfirmed
	mt.PickupAt = &at
	mt.PickupOTP = nil
	mt.Version++
	return nil
}

func (m memMatchStore) ConfirmDelivery(ctx context.Context, matchID uuid.UUID, version int, at time.Time) error {
	mt, ok := m.s.matches[matchID]
	if !ok {
		return apperr.NotFound("match")
	}
	if mt.Status != models.MatchStatusPickupConfirmed || mt.Version != version {
		return apperr.Conflict("match was modified concurrently")
	}
	mt.Status = models.MatchStatusCompleted
	mt.DeliveredAt = &at
	mt.DeliveryOTP = nil
	mt.Version++
	if req := m.s.requests[mt.RequestID]; req != nil {
		req.Status = models.RequestStatusCompleted
	}
	if tr := m.s.trips[mt.TripID]; tr != nil {
		tr.Status = models.TripStatusCompleted
	}
	return nil
}

func (m memMatchStore) SetPaymentRef(ctx context.Context, matchID uuid.UUID, ref string) error {
	mt, ok := m.s.matches[matchID]
	if !ok {
		return apperr.NotFound("match")
	}
	mt.PaymentRef = &ref
	return nil
}

func (m memMatchStore) ExpirePending(ctx context.Context, olderThan time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id, mt := range m.s.matches {
		if mt.Status == models.MatchStatusPending && mt.CreatedAt.Before(olderThan) {
			mt.Status = models.MatchStatusDeclined
			mt.Version++
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m memMatchStore) ListByTrip(ctx context.Context, tripID uuid.UUID) ([]models.Match, error) {
	var out []models.Match
	for _, mt := range m.s.matches {
		if mt.TripID == tripID {
			out = append(out, *mt)
		}
	}
	return out, nil
}

func (m memMatchStore) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]models.Match, error) {
	var out []models.Match
	for _, mt := range m.s.matches {
		if mt.RequestID == requestID {
			out = append(out, *mt)
		}
	}
	return out, nil
}

func (m memMatchStore) ListWithRouteByUser(ctx context.Context, userID uuid.UUID, statuses []string) ([]models.MatchWithRoute, error) {
	var out []models.MatchWithRoute
	for _, mt := range m.s.matches {
		if mt.TravelerID != userID && mt.BusinessID != userID {
			continue
		}
		if len(statuses) > 0 {
			keep := false
			for _, st := range statuses {
				if mt.Status == st {
					keep = true
				}
			}
			if !keep {
				continue
			}
		}
		out = append(out, models.MatchWithRoute{Match: *mt})
	}
	return out, nil
}

type memEscrowStore struct{ s *memStore }

func (e memEscrowStore) Create(ctx context.Context, entry *models.EscrowEntry) error {
	if _, exists := e.s.escrows[entry.MatchID]; exists {
		return apperr.Conflict("escrow entry already exists")
	}
	entry.ID = uuid.New()
	e.s.escrows[entry.MatchID] = entry
	return nil
}

func (e memEscrowStore) GetByMatchID(ctx context.Context, matchID uuid.UUID) (*models.EscrowEntry, error) {
	entry, ok := e.s.escrows[matchID]
	if !ok {
		return nil, apperr.NotFound("escrow entry")
	}
	cp := *entry
	return &cp, nil
}

func (e memEscrowStore) wallet(userID uuid.UUID) *models.Wallet {
	w, ok := e.s.wallets[userID]
	if !ok {
		w = &models.Wallet{UserID: userID}
		e.s.wallets[userID] = w
	}
	return w
}

func (e memEscrowStore) Capture(ctx context.Context, matchID uuid.UUID, providerRef string) (bool, error) {
	entry, ok := e.s.escrows[matchID]
	if !ok {
		return false, apperr.NotFound("escrow entry")
	}
	if entry.Status != models.EscrowStatusAuthorized {
		return false, nil
	}
	entry.Status = models.EscrowStatusCaptured
	entry.ProviderRef = &providerRef
	now := time.Now()
	entry.CapturedAt = &now

	mt := e.s.matches[matchID]
	e.wallet(mt.TravelerID).PendingBalance += entry.Amount
	return true, nil
}

func (e memEscrowStore) Release(ctx context.Context, matchID uuid.UUID) (bool, error) {
	entry, ok := e.s.escrows[matchID]
	if !ok {
		return false, apperr.NotFound("escrow entry")
	}
	if entry.Status != models.EscrowStatusCaptured {
		return false, nil
	}
	entry.Status = models.EscrowStatusReleased
	now := time.Now()
	entry.ReleasedAt = &now

	mt := e.s.matches[matchID]
	w := e.wallet(mt.TravelerID)
	w.PendingBalance -= entry.Amount
	w.AvailableBalance += entry.Amount
	w.TotalEarned += entry.Amount
	return true, nil
}

func (e memEscrowStore) Refund(ctx context.Context, matchID uuid.UUID) (bool, error) {
	entry, ok := e.s.escrows[matchID]
	if !ok {
		return false, apperr.NotFound("escrow entry")
	}
	if entry.Status != models.EscrowStatusAuthorized && entry.Status != models.EscrowStatusCaptured {
		return false, nil
	}
	wasCaptured := entry.Status == models.EscrowStatusCaptured
	entry.Status = models.EscrowStatusRefunded
	now := time.Now()
	entry.RefundedAt = &now
	if wasCaptured {
		mt := e.s.matches[matchID]
		e.wallet(mt.TravelerID).PendingBalance -= entry.Amount
	}
	return true, nil
}

type memNotifStore struct{ s *memStore }

func (n memNotifStore) Insert(ctx context.Context, nt *models.Notification) error {
	nt.ID = uuid.New()
	n.s.notifs = append(n.s.notifs, *nt)
	return nil
}

type memAuditStore struct{ s *memStore }

func (a memAuditStore) Log(ctx context.Context, entry models.AuditLog) error {
	a.s.audits = append(a.s.audits, entry)
	return nil
}

func (a memAuditStore) GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	var out []models.AuditLog
	for i := len(a.s.audits) - 1; i >= 0; i-- {
		e := a.s.audits[i]
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, stream string, event events.Event) error {
	return nil
}

// recPublisher records published events for assertions.
type recPublisher struct {
	events []events.Event
}

func (p *recPublisher) Publish(ctx context.Context, stream string, event events.Event) error {
	p.events = append(p.events, event)
	return nil
}

func (p *recPublisher) has(eventType string) bool {
	for _, e := range p.events {
		if e.Type == eventType {
			return true
		}
	}
	return false
}

// staleReadStore serves a fixed snapshot from GetByID while writes still hit
// the live store, simulating a second actor slipping in between a read and
// its versioned write.
type staleReadStore struct {
	memMatchStore
	snapshot *models.Match
}

func (s staleReadStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	if s.snapshot != nil && s.snapshot.ID == id {
		cp := *s.snapshot
		return &cp, nil
	}
	return s.memMatchStore.GetByID(ctx, id)
}

// failingEscrowStore simulates an unreachable escrow backend.
type failingEscrowStore struct {
	memEscrowStore
	err error
}

func (f failingEscrowStore) GetByMatchID(ctx context.Context, matchID uuid.UUID) (*models.EscrowEntry, error) {
	return nil, f.err
}

// env bundles a fully wired service stack over a memStore, with seeded
// verified users, an active trip, and an open request.
type env struct {
	store   *memStore
	matches *MatchService
	escrow  *EscrowService
	cfg     *config.Config

	business  uuid.UUID
	traveler  uuid.UUID
	tripID    uuid.UUID
	requestID uuid.UUID
}

// serviceWith rebuilds the match service over a different match store,
// keeping everything else from the env.
func (e *env) serviceWith(store MatchStore) *MatchService {
	return NewMatchService(
		store, memTripStore{e.store}, memRequestStore{e.store}, e.store,
		e.escrow, memNotifStore{e.store}, memAuditStore{e.store}, nopPublisher{}, e.cfg, zap.NewNop(),
	)
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s := newMemStore()

	cfg := &config.Config{
		OTPCooldown:     300 * time.Second,
		OTPMaxAttempts:  5,
		MatchPendingTTL: 48 * time.Hour,
	}
	log := zap.NewNop()

	escrow := NewEscrowService(memEscrowStore{s}, memMatchStore{s}, memNotifStore{s}, memAuditStore{s}, nopPublisher{}, log)
	matches := NewMatchService(
		memMatchStore{s}, memTripStore{s}, memRequestStore{s}, s,
		escrow, memNotifStore{s}, memAuditStore{s}, nopPublisher{}, cfg, log,
	)

	business := uuid.New()
	traveler := uuid.New()
	s.users[business] = &models.User{ID: business, Role: models.RoleBusiness, IsVerified: true}
	s.users[traveler] = &models.User{ID: traveler, Role: models.RoleTraveler, IsVerified: true}

	trip := &models.Trip{
		TravelerID:     traveler,
		Origin:         "Lagos, Nigeria",
		Destination:    "Abuja, Nigeria",
		DepartureAt:    time.Now().Add(24 * time.Hour),
		AvailableSpace: models.SpaceMedium,
		Status:         models.TripStatusActive,
	}
	_ = memTripStore{s}.Create(context.Background(), trip)

	req := &models.DeliveryRequest{
		BusinessID:    business,
		Origin:        "Lagos, Nigeria",
		Destination:   "Abuja, Nigeria",
		PackageSize:   models.SpaceSmall,
		EstimatedCost: 500000,
		Status:        models.RequestStatusOpen,
	}
	_ = memRequestStore{s}.Create(context.Background(), req)

	return &env{
		store:     s,
		matches:   matches,
		escrow:    escrow,
		cfg:       cfg,
		business:  business,
		traveler:  traveler,
		tripID:    trip.ID,
		requestID: req.ID,
	}
}

// propose+accept shortcut used by the later-stage tests.
func (e *env) acceptedMatch(t *testing.T) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	m, err := e.matches.Propose(ctx, e.business, e.tripID, e.requestID)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := e.matches.Accept(ctx, e.traveler, m.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	return m.ID
}

// pay authorizes and captures the escrow for a match.
func (e *env) pay(t *testing.T, matchID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.escrow.Authorize(ctx, e.business, matchID); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := e.escrow.Capture(ctx, matchID, "provider:ref"); err != nil {
		t.Fatalf("capture: %v", err)
	}
}

var otpPattern = regexp.MustCompile(`^\d{6}$`)

func TestProposeGuards(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.matches.Propose(ctx, e.traveler, e.tripID, e.requestID); !apperr.IsCode(err, apperr.CodeForbidden) {
		t.Errorf("propose by non-owner: got %v, want forbidden", err)
	}

	if _, err := e.matches.Propose(ctx, e.business, e.tripID, e.requestID); err != nil {
		t.Fatalf("propose: %v", err)
	}
	// A second proposal for the same pair while the first is in flight.
	if _, err := e.matches.Propose(ctx, e.business, e.tripID, e.requestID); !apperr.IsCode(err, apperr.CodeInvalidState) {
		t.Errorf("duplicate propose: got %v, want invalid_state", err)
	}
}

func TestProposeUnverifiedBusiness(t *testing.T) {
	e := newEnv(t)
	e.store.users[e.business].IsVerified = false

	_, err := e.matches.Propose(context.Background(), e.business, e.tripID, e.requestID)
	if !apperr.IsCode(err, apperr.CodeForbidden) {
		t.Errorf("got %v, want forbidden", err)
	}
}

func TestProposeSpaceTooSmall(t *testing.T) {
	e := newEnv(t)
	e.store.requests[e.requestID].PackageSize = models.SpaceLarge

	_, err := e.matches.Propose(context.Background(), e.business, e.tripID, e.requestID)
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Errorf("got %v, want validation_error", err)
	}
}

// Accepting one of several proposals auto-declines the siblings and closes
// the request to further matching.
func TestAcceptAutoDeclinesSiblings(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var others []uuid.UUID
	for i := 0; i < 2; i++ {
		tr := &models.Trip{
			TravelerID:     uuid.New(),
			Origin:         "Lagos, Nigeria",
			Destination:    "Abuja, Nigeria",
			DepartureAt:    time.Now().Add(24 * time.Hour),
			AvailableSpace: models.SpaceMedium,
			Status:         models.TripStatusActive,
		}
		_ = memTripStore{e.store}.Create(ctx, tr)
		others = append(others, tr.ID)
	}

	first, err := e.matches.Propose(ctx, e.business, e.tripID, e.requestID)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	var siblings []uuid.UUID
	for _, tripID := range others {
		m, err := e.matches.Propose(ctx, e.business, tripID, e.requestID)
		if err != nil {
			t.Fatalf("propose sibling: %v", err)
		}
		siblings = append(siblings, m.ID)
	}

	if err := e.matches.Accept(ctx, e.traveler, first.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if got := e.store.matches[first.ID].Status; got != models.MatchStatusAccepted {
		t.Errorf("accepted match status = %q", got)
	}
	for _, id := range siblings {
		if got := e.store.matches[id].Status; got != models.MatchStatusDeclined {
			t.Errorf("sibling %s status = %q, want declined", id, got)
		}
	}
	if got := e.store.requests[e.requestID].Status; got != models.RequestStatusMatched {
		t.Errorf("request status = %q, want matched", got)
	}

	// The request is matched, so no further proposals land.
	if _, err := e.matches.Propose(ctx, e.business, others[0], e.requestID); !apperr.IsCode(err, apperr.CodeInvalidState) {
		t.Errorf("propose on matched request: got %v, want invalid_state", err)
	}
}

func TestAcceptOnlyByTraveler(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	m, err := e.matches.Propose(ctx, e.business, e.tripID, e.requestID)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := e.matches.Accept(ctx, e.business, m.ID); !apperr.IsCode(err, apperr.CodeForbidden) {
		t.Errorf("accept by business: got %v, want forbidden", err)
	}
}

// Pickup is escrow gated: no code before capture, no confirmation without a
// code issued after capture.
func TestPickupBlockedBeforeCapture(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	matchID := e.acceptedMatch(t)

	if _, err := e.matches.RequestOTP(ctx, e.traveler, matchID, models.OTPTypePickup); !apperr.IsCode(err, apperr.CodeInvalidState) {
		t.Errorf("otp before payment: got %v, want invalid_state", err)
	}
	if err := e.matches.ConfirmPickup(ctx, e.traveler, matchID, "123456"); !apperr.IsCode(err, apperr.CodeInvalidState) {
		t.Errorf("pickup before payment: got %v, want invalid_state", err)
	}

	// Authorized but not yet captured is still not enough.
	if _, err := e.escrow.Authorize(ctx, e.business, matchID); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if _, err := e.matches.RequestOTP(ctx, e.traveler, matchID, models.OTPTypePickup); !apperr.IsCode(err, apperr.CodeInvalidState) {
		t.Errorf("otp before capture: got %v, want invalid_state", err)
	}

	if err := e.escrow.Capture(ctx, matchID, "provider:ref"); err != nil {
		t.Fatalf("capture: %v", err)
	}
	res, err := e.matches.RequestOTP(ctx, e.traveler, matchID, models.OTPTypePickup)
	if err != nil {
		t.Fatalf("otp after capture: %v", err)
	}
	if !otpPattern.MatchString(res.Code) {
		t.Errorf("code %q is not six digits", res.Code)
	}
	if err := e.matches.ConfirmPickup(ctx, e.traveler, matchID, res.Code); err != nil {
		t.Fatalf("confirm pickup: %v", err)
	}
	if got := e.store.matches[matchID].Status; got != models.MatchStatusPickupConfirmed {
		t.Errorf("status = %q, want pickup_confirmed", got)
	}
}

// Full happy path through delivery: escrow is released and the traveler's
// wallet moves pending -> available.
func TestDeliveryReleasesEscrow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	matchID := e.acceptedMatch(t)
	e.pay(t, matchID)

	amount := e.store.matches[matchID].Amount
	if got := e.store.wallets[e.traveler].PendingBalance; got != amount {
		t.Fatalf("pending after capture = %d, want %d", got, amount)
	}

	pickup, err := e.matches.RequestOTP(ctx, e.traveler, matchID, models.OTPTypePickup)
	if err != nil {
		t.Fatalf("pickup otp: %v", err)
	}
	if err := e.matches.ConfirmPickup(ctx, e.traveler, matchID, pickup.Code); err != nil {
		t.Fatalf("confirm pickup: %v", err)
	}

	delivery, err := e.matches.RequestOTP(ctx, e.business, matchID, models.OTPTypeDelivery)
	if err != nil {
		t.Fatalf("delivery otp: %v", err)
	}
	if err := e.matches.ConfirmDelivery(ctx, e.traveler, matchID, delivery.Code); err != nil {
		t.Fatalf("confirm delivery: %v", err)
	}

	if got := e.store.matches[matchID].Status; got != models.MatchStatusCompleted {
		t.Errorf("match status = %q, want completed", got)
	}
	if got := e.store.requests[e.requestID].Status; got != models.RequestStatusCompleted {
		t.Errorf("request status = %q, want completed", got)
	}
	if got := e.store.escrows[matchID].Status; got != models.EscrowStatusReleased {
		t.Errorf("escrow status = %q, want released_to_traveler", got)
	}

	w := e.store.wallets[e.traveler]
	if w.PendingBalance != 0 || w.AvailableBalance != amount || w.TotalEarned != amount {
		t.Errorf("wallet = pending %d / available %d / earned %d, want 0 / %d / %d",
			w.PendingBalance, w.AvailableBalance, w.TotalEarned, amount, amount)
	}
}

// Releasing an already released escrow is a no-op: the wallet must not be
// credited twice.
func TestReleaseIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	matchID := e.acceptedMatch(t)
	e.pay(t, matchID)

	pickup, _ := e.matches.RequestOTP(ctx, e.traveler, matchID, models.OTPTypePickup)
	if err := e.matches.ConfirmPickup(ctx, e.traveler, matchID, pickup.Code); err != nil {
		t.Fatalf("confirm pickup: %v", err)
	}
	delivery, _ := e.matches.RequestOTP(ctx, e.traveler, matchID, models.OTPTypeDelivery)
	if err := e.matches.ConfirmDelivery(ctx, e.traveler, matchID, delivery.Code); err != nil {
		t.Fatalf("confirm delivery: %v", err)
	}

	amount := e.store.matches[matchID].Amount
	if err := e.escrow.Release(ctx, matchID); err != nil {
		t.Fatalf("repeat release: %v", err)
	}
	if err := e.escrow.Release(ctx, matchID); err != nil {
		t.Fatalf("repeat release: %v", err)
	}

	w := e.store.wallets[e.traveler]
	if w.AvailableBalance != amount || w.TotalEarned != amount {
		t.Errorf("wallet credited more than once: available %d, earned %d, want %d", w.AvailableBalance, w.TotalEarned, amount)
	}
}

// Duplicate capture webhooks credit the pending balance exactly once.
func TestCaptureIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	matchID := e.acceptedMatch(t)
	e.pay(t, matchID)

	if err := e.escrow.Capture(ctx, matchID, "provider:ref"); err != nil {
		t.Fatalf("repeat capture: %v", err)
	}
	amount := e.store.matches[matchID].Amount
	if got := e.store.wallets[e.traveler].PendingBalance; got != amount {
		t.Errorf("pending = %d, want %d", got, amount)
	}
}

// Re-requesting a code inside the cooldown window returns the remaining
// wait instead of a new code; past the window a fresh code is issued.
func TestOTPCooldown(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	matchID := e.acceptedMatch(t)
	e.pay(t, matchID)

	base := time.Now()
	e.matches.now = func() time.Time { return base }

	first, err := e.matches.RequestOTP(ctx, e.traveler, matchID, models.OTPTypePickup)
	if err != nil {
		t.Fatalf("first otp: %v", err)
	}

	e.matches.now = func() time.Time { return base.Add(30 * time.Second) }
	res, err := e.matches.RequestOTP(ctx, e.traveler, matchID, models.OTPTypePickup)
	ce, ok := apperr.As(err)
	if !ok || ce.RetryAfterSeconds <= 0 {
		t.Fatalf("second otp: got %v, want cooldown error", err)
	}
	if res.RetryAfterSeconds <= 0 || res.RetryAfterSeconds > 270 {
		t.Errorf("retry_after = %d, want (0, 270]", res.RetryAfterSeconds)
	}

	// The stored code stays valid through the cooldown.
	if got := *e.store.matches[matchID].PickupOTP; got != first.Code {
		t.Errorf("stored code changed during cooldown")
	}

	e.matches.now = func() time.Time { return base.Add(301 * time.Second) }
	fresh, err := e.matches.RequestOTP(ctx, e.traveler, matchID, models.OTPTypePickup)
	if err != nil {
		t.Fatalf("otp after cooldown: %v", err)
	}
	if !otpPattern.MatchString(fresh.Code) {
		t.Errorf("code %q is not six digits", fresh.Code)
	}
}

// Five wrong codes invalidate the OTP; even the right code is then refused
// until a new one is requested.
func TestOTPAttemptLimit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	matchID := e.acceptedMatch(t)
	e.pay(t, matchID)

	res, err := e.matches.RequestOTP(ctx, e.traveler, matchID, models.OTPTypePickup)
	if err != nil {
		t.Fatalf("otp: %v", err)
	}
	wrong := "000000"
	if wrong == res.Code {
		wrong = "000001"
	}

	for i := 0; i < 5; i++ {
		if err := e.matches.ConfirmPickup(ctx, e.traveler, matchID, wrong); !apperr.IsCode(err, apperr.CodeValidation) {
			t.Fatalf("attempt %d: got %v, want validation_error", i+1, err)
		}
	}
	if e.store.matches[matchID].PickupOTP != nil {
		t.Fatal("code not invalidated after attempt limit")
	}
	if err := e.matches.ConfirmPickup(ctx, e.traveler, matchID, res.Code); !apperr.IsCode(err, apperr.CodeInvalidState) {
		t.Errorf("correct code after invalidation: got %v, want invalid_state", err)
	}

	// A fresh code resets the attempt counter and works.
	e.matches.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	fresh, err := e.matches.RequestOTP(ctx, e.traveler, matchID, models.OTPTypePickup)
	if err != nil {
		t.Fatalf("fresh otp: %v", err)
	}
	if err := e.matches.ConfirmPickup(ctx, e.traveler, matchID, fresh.Code); err != nil {
		t.Errorf("confirm with fresh code: %v", err)
	}
}

// A consumed delivery code cannot be replayed: confirmation nulls it and
// moves the match to a terminal state.
func TestDeliveryCodeSingleUse(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	matchID := e.acceptedMatch(t)
	e.pay(t, matchID)

	pickup, _ := e.matches.RequestOTP(ctx, e.traveler, matchID, models.OTPTypePickup)
	if err := e.matches.ConfirmPickup(ctx, e.traveler, matchID, pickup.Code); err != nil {
		t.Fatalf("confirm pickup: %v", err)
	}
	delivery, _ := e.matches.RequestOTP(ctx, e.traveler, matchID, models.OTPTypeDelivery)
	if err := e.matches.ConfirmDelivery(ctx, e.traveler, matchID, delivery.Code); err != nil {
		t.Fatalf("confirm delivery: %v", err)
	}

	if e.store.matches[matchID].DeliveryOTP != nil {
		t.Error("delivery code not consumed")
	}
	if err := e.matches.ConfirmDelivery(ctx, e.traveler, matchID, delivery.Code); !apperr.IsCode(err, apperr.CodeInvalidState) {
		t.Errorf("replay: got %v, want invalid_state", err)
	}
}

func TestConfirmOnlyByTraveler(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	matchID := e.acceptedMatch(t)
	e.pay(t, matchID)

	res, err := e.matches.RequestOTP(ctx, e.business, matchID, models.OTPTypePickup)
	if err != nil {
		t.Fatalf("otp: %v", err)
	}
	if err := e.matches.ConfirmPickup(ctx, e.business, matchID, res.Code); !apperr.IsCode(err, apperr.CodeForbidden) {
		t.Errorf("pickup by business: got %v, want forbidden", err)
	}
}

// Cancelling an accepted match reopens the request and refunds an
// authorized escrow entry.
func TestCancelAcceptedReopensAndRefunds(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	matchID := e.acceptedMatch(t)

	if _, err := e.escrow.Authorize(ctx, e.business, matchID); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := e.matches.Cancel(ctx, e.business, matchID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if got := e.store.matches[matchID].Status; got != models.MatchStatusCancelled {
		t.Errorf("match status = %q, want cancelled", got)
	}
	if got := e.store.requests[e.requestID].Status; got != models.RequestStatusOpen {
		t.Errorf("request status = %q, want open", got)
	}
	if got := e.store.escrows[matchID].Status; got != models.EscrowStatusRefunded {
		t.Errorf("escrow status = %q, want refunded", got)
	}
}

func TestCancelBlockedAfterCapture(t *testing.T) {
	e := newEnv(t)
	matchID := e.acceptedMatch(t)
	e.pay(t, matchID)

	err := e.matches.Cancel(context.Background(), e.business, matchID)
	if !apperr.IsCode(err, apperr.CodeInvalidState) {
		t.Errorf("got %v, want invalid_state", err)
	}
}

func TestCancelTerminalStates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, status := range []string{models.MatchStatusCompleted, models.MatchStatusDeclined, models.MatchStatusCancelled, models.MatchStatusPickupConfirmed} {
		m := &models.Match{
			TripID:     e.tripID,
			RequestID:  e.requestID,
			TravelerID: e.traveler,
			BusinessID: e.business,
			Amount:     1000,
		}
		_ = memMatchStore{e.store}.Create(ctx, m)
		e.store.matches[m.ID].Status = status

		if err := e.matches.Cancel(ctx, e.business, m.ID); !apperr.IsCode(err, apperr.CodeInvalidState) {
			t.Errorf("cancel from %s: got %v, want invalid_state", status, err)
		}
	}
}

func TestDeclineByEitherParty(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	m, err := e.matches.Propose(ctx, e.business, e.tripID, e.requestID)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := e.matches.Decline(ctx, uuid.New(), m.ID); !apperr.IsCode(err, apperr.CodeForbidden) {
		t.Errorf("decline by stranger: got %v, want forbidden", err)
	}
	if err := e.matches.Decline(ctx, e.traveler, m.ID); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if got := e.store.matches[m.ID].Status; got != models.MatchStatusDeclined {
		t.Errorf("status = %q, want declined", got)
	}
}

func TestExpirePending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	m, err := e.matches.Propose(ctx, e.business, e.tripID, e.requestID)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	// Not yet stale.
	n, err := e.matches.ExpirePending(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expire fresh: n=%d err=%v", n, err)
	}

	e.matches.now = func() time.Time { return time.Now().Add(49 * time.Hour) }
	n, err = e.matches.ExpirePending(ctx)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d matches, want 1", n)
	}
	if got := e.store.matches[m.ID].Status; got != models.MatchStatusDeclined {
		t.Errorf("status = %q, want declined", got)
	}
}

// A transition racing a concurrent write on the same match loses with a
// conflict instead of overwriting it.
func TestStaleTransitionConflicts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	m, err := e.matches.Propose(ctx, e.business, e.tripID, e.requestID)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	snapshot := *e.store.matches[m.ID]
	stale := e.serviceWith(staleReadStore{memMatchStore{e.store}, &snapshot})

	// Another writer commits first.
	e.store.matches[m.ID].Version++

	if err := stale.Accept(ctx, e.traveler, m.ID); !apperr.IsCode(err, apperr.CodeConflict) {
		t.Errorf("stale accept: got %v, want conflict", err)
	}
	if err := stale.Decline(ctx, e.traveler, m.ID); !apperr.IsCode(err, apperr.CodeConflict) {
		t.Errorf("stale decline: got %v, want conflict", err)
	}
	if got := e.store.matches[m.ID].Status; got != models.MatchStatusPending {
		t.Errorf("status = %q, loser must not have written", got)
	}
}

// Regenerating a code bumps the match version, so a confirm that read the
// match before the regeneration cannot consume the superseded code.
func TestSupersededCodeConflicts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	matchID := e.acceptedMatch(t)
	e.pay(t, matchID)

	base := time.Now()
	e.matches.now = func() time.Time { return base }
	first, err := e.matches.RequestOTP(ctx, e.traveler, matchID, models.OTPTypePickup)
	if err != nil {
		t.Fatalf("first otp: %v", err)
	}

	snapshot := *e.store.matches[matchID]
	stale := e.serviceWith(staleReadStore{memMatchStore{e.store}, &snapshot})

	e.matches.now = func() time.Time { return base.Add(301 * time.Second) }
	if _, err := e.matches.RequestOTP(ctx, e.traveler, matchID, models.OTPTypePickup); err != nil {
		t.Fatalf("regenerate: %v", err)
	}

	if err := stale.ConfirmPickup(ctx, e.traveler, matchID, first.Code); !apperr.IsCode(err, apperr.CodeConflict) {
		t.Errorf("confirm with superseded code: got %v, want conflict", err)
	}
	if got := e.store.matches[matchID].Status; got != models.MatchStatusAccepted {
		t.Errorf("status = %q, want accepted", got)
	}
}

// An escrow backend failure surfaces as-is rather than masquerading as a
// lifecycle guard rejection.
func TestEscrowReadErrorSurfaced(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	matchID := e.acceptedMatch(t)

	readErr := errors.New("connection refused")
	broken := NewEscrowService(
		failingEscrowStore{memEscrowStore{e.store}, readErr},
		memMatchStore{e.store}, memNotifStore{e.store}, memAuditStore{e.store}, nopPublisher{}, zap.NewNop(),
	)
	svc := NewMatchService(
		memMatchStore{e.store}, memTripStore{e.store}, memRequestStore{e.store}, e.store,
		broken, memNotifStore{e.store}, memAuditStore{e.store}, nopPublisher{}, e.cfg, zap.NewNop(),
	)

	_, err := svc.RequestOTP(ctx, e.traveler, matchID, models.OTPTypePickup)
	if err == nil {
		t.Fatal("expected error")
	}
	if apperr.IsCode(err, apperr.CodeInvalidState) {
		t.Errorf("infrastructure error reported as invalid_state: %v", err)
	}

	err = svc.ConfirmPickup(ctx, e.traveler, matchID, "123456")
	if err == nil {
		t.Fatal("expected error")
	}
	if apperr.IsCode(err, apperr.CodeInvalidState) {
		t.Errorf("infrastructure error reported as invalid_state: %v", err)
	}
}

func TestRequestOTPPublishesEvent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	matchID := e.acceptedMatch(t)
	e.pay(t, matchID)

	pub := &recPublisher{}
	svc := NewMatchService(
		memMatchStore{e.store}, memTripStore{e.store}, memRequestStore{e.store}, e.store,
		e.escrow, memNotifStore{e.store}, memAuditStore{e.store}, pub, e.cfg, zap.NewNop(),
	)

	res, err := svc.RequestOTP(ctx, e.traveler, matchID, models.OTPTypePickup)
	if err != nil {
		t.Fatalf("otp: %v", err)
	}
	if !pub.has(events.EventOTPIssued) {
		t.Error("no otp_issued event published")
	}
	for _, ev := range pub.events {
		for _, v := range ev.Payload {
			if s, ok := v.(string); ok && s == res.Code {
				t.Error("otp code leaked into the event stream")
			}
		}
	}
}

func TestMatchHistory(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	matchID := e.acceptedMatch(t)

	entries, err := e.matches.History(ctx, e.business, matchID, 50, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no audit entries for proposed+accepted match")
	}
	// Newest first: the accept follows the proposal.
	if got := entries[0].Action; got != "match_accepted" {
		t.Errorf("latest action = %q, want match_accepted", got)
	}

	if _, err := e.matches.History(ctx, uuid.New(), matchID, 50, 0); !apperr.IsCode(err, apperr.CodeForbidden) {
		t.Errorf("history by stranger: got %v, want forbidden", err)
	}
}

func TestGetRequiresParty(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	matchID := e.acceptedMatch(t)

	if _, err := e.matches.Get(ctx, uuid.New(), matchID); !apperr.IsCode(err, apperr.CodeForbidden) {
		t.Errorf("get by stranger: got %v, want forbidden", err)
	}
	if _, err := e.matches.Get(ctx, e.business, matchID); err != nil {
		t.Errorf("get by business: %v", err)
	}
}
