package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/parcel-marketplace/backend/internal/apperr"
	"github.com/parcel-marketplace/backend/internal/models"
)

type MatchRepo struct {
	pool *pgxpool.Pool
}

func NewMatchRepo(pool *pgxpool.Pool) *MatchRepo {
	return &MatchRepo{pool: pool}
}

const matchColumns = `id, trip_id, request_id, traveler_id, business_id, status, amount,
       pickup_otp, delivery_otp, pickup_otp_requested_at, delivery_otp_requested_at,
       pickup_otp_attempts, delivery_otp_attempts,
       accepted_at, pickup_at, delivered_at, payment_ref, version, created_at, updated_at`

func scanMatch(row pgx.Row) (*models.Match, error) {
	var m models.Match
	err := row.Scan(
		&m.ID, &m.TripID, &m.RequestID, &m.TravelerID, &m.BusinessID, &m.Status, &m.Amount,
		&m.PickupOTP, &m.DeliveryOTP, &m.PickupOTPRequestedAt, &m.DeliveryOTPRequestedAt,
		&m.PickupOTPAttempts, &m.DeliveryOTPAttempts,
		&m.AcceptedAt, &m.PickupAt, &m.DeliveredAt, &m.PaymentRef, &m.Version, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("match")
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MatchRepo) Create(ctx context.Context, m *models.Match) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO matches (trip_id, request_id, traveler_id, business_id, status, amount)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, version, created_at, updated_at
	`, m.TripID, m.RequestID, m.TravelerID, m.BusinessID, m.Status, m.Amount).
		Scan(&m.ID, &m.Version, &m.CreatedAt, &m.UpdatedAt)
}

func (r *MatchRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	return scanMatch(r.pool.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
}

// ActivePairExists reports whether a non-terminal match already covers the
// (trip, request) pair.
func (r *MatchRepo) ActivePairExists(ctx context.Context, tripID, requestID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM matches
			WHERE trip_id = $1 AND request_id = $2
			  AND status IN ('pending', 'accepted', 'pickup_confirmed')
		)
	`, tripID, requestID).Scan(&exists)
	return exists, err
}

// Accept performs the acceptance as one atomic unit: the versioned
// pending->accepted write, the request's open->matched write, and the
// auto-decline of sibling pending matches on the same request. Returns the
// declined sibling ids.
func (r *MatchRepo) Accept(ctx context.Context, matchID uuid.UUID, version int, at time.Time) ([]uuid.UUID, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var requestID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE matches
		SET status = 'accepted', accepted_at = $3, version = version + 1, updated_at = now()
		WHERE id = $1 AND status = 'pending' AND version = $2
		RETURNING request_id
	`, matchID, version, at).Scan(&requestID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Conflict("match was modified concurrently")
	}
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE delivery_requests SET status = 'matched', updated_at = now()
		WHERE id = $1 AND status = 'open'
	`, requestID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, apperr.InvalidState("", "delivery request is no longer open")
	}

	rows, err := tx.Query(ctx, `
		UPDATE matches SET status = 'declined', version = version + 1, updated_at = now()
		WHERE request_id = $1 AND id <> $2 AND status = 'pending'
		RETURNING id
	`, requestID, matchID)
	if err != nil {
		return nil, err
	}
	var declined []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		declined = append(declined, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return declined, tx.Commit(ctx)
}

// UpdateStatusVersioned applies a plain versioned transition (decline,
// cancel). When reopenRequest is set the request goes back to open, used
// when an accepted match is cancelled.
func (r *MatchRepo) UpdateStatusVersioned(ctx context.Context, matchID uuid.UUID, from, to string, version int, reopenRequest bool) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var requestID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE matches SET status = $3, version = version + 1, updated_at = now()
		WHERE id = $1 AND status = $2 AND version = $4
		RETURNING request_id
	`, matchID, from, to, version).Scan(&requestID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Conflict("match was modified concurrently")
	}
	if err != nil {
		return err
	}

	if reopenRequest {
		if _, err := tx.Exec(ctx, `
			UPDATE delivery_requests SET status = 'open', updated_at = now()
			WHERE id = $1 AND status = 'matched'
		`, requestID); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// SetOTP stores a freshly generated code and resets the attempt counter.
// The version bump makes a confirm that read the match before the
// regeneration fail its versioned write instead of consuming the
// superseded code.
func (r *MatchRepo) SetOTP(ctx context.Context, matchID uuid.UUID, otpType, code string, at time.Time) error {
	var query string
	switch otpType {
	case models.OTPTypePickup:
		query = `UPDATE matches SET pickup_otp = $2, pickup_otp_requested_at = $3, pickup_otp_attempts = 0, version = version + 1, updated_at = now() WHERE id = $1`
	case models.OTPTypeDelivery:
		query = `UPDATE matches SET delivery_otp = $2, delivery_otp_requested_at = $3, delivery_otp_attempts = 0, version = version + 1, updated_at = now() WHERE id = $1`
	default:
		return apperr.Validation("unknown otp type %q", otpType)
	}
	tag, err := r.pool.Exec(ctx, query, matchID, code, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("match")
	}
	return nil
}

// RecordOTPFailure bumps the attempt counter; invalidate wipes the code
// once the attempt limit is reached.
func (r *MatchRepo) RecordOTPFailure(ctx context.Context, matchID uuid.UUID, otpType string, invalidate bool) error {
	var query string
	switch {
	case otpType == models.OTPTypePickup && invalidate:
		query = `UPDATE matches SET pickup_otp = NULL, pickup_otp_attempts = pickup_otp_attempts + 1, updated_at = now() WHERE id = $1`
	case otpType == models.OTPTypePickup:
		query = `UPDATE matches SET pickup_otp_attempts = pickup_otp_attempts + 1, updated_at = now() WHERE id = $1`
	case otpType == models.OTPTypeDelivery && invalidate:
		query = `UPDATE matches SET delivery_otp = NULL, delivery_otp_attempts = delivery_otp_attempts + 1, updated_at = now() WHERE id = $1`
	default:
		query = `UPDATE matches SET delivery_otp_attempts = delivery_otp_attempts + 1, updated_at = now() WHERE id = $1`
	}
	_, err := r.pool.Exec(ctx, query, matchID)
	return err
}

// ConfirmPickup consumes the pickup code and advances to pickup_confirmed
// in one guarded write: a failed state write never leaves a consumed OTP.
func (r *MatchRepo) ConfirmPickup(ctx context.Context, matchID uuid.UUID, version int, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE matches
		SET status = 'pickup_confirmed', pickup_at = $3, pickup_otp = NULL,
		    version = version + 1, updated_at = now()
		WHERE id = $1 AND status = 'accepted' AND version = $2
	`, matchID, version, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("match was modified concurrently")
	}
	return nil
}

// ConfirmDelivery completes the match, consumes the delivery code, closes
// the request, and completes the trip when nothing else is in flight on it.
// Escrow release runs separately and idempotently (see EscrowRepo.Release).
func (r *MatchRepo) ConfirmDelivery(ctx context.Context, matchID uuid.UUID, version int, at time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var requestID, tripID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE matches
		SET status = 'completed', delivered_at = $3, delivery_otp = NULL,
		    version = version + 1, updated_at = now()
		WHERE id = $1 AND status = 'pickup_confirmed' AND version = $2
		RETURNING request_id, trip_id
	`, matchID, version, at).Scan(&requestID, &tripID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Conflict("match was modified concurrently")
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE delivery_requests SET status = 'completed', updated_at = now()
		WHERE id = $1 AND status = 'matched'
	`, requestID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE trips SET status = 'completed', updated_at = now()
		WHERE id = $1 AND status = 'active'
		  AND NOT EXISTS (
			SELECT 1 FROM matches
			WHERE trip_id = $1 AND status IN ('pending', 'accepted', 'pickup_confirmed')
		  )
	`, tripID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SetPaymentRef records the provider reference when payment is initialized.
func (r *MatchRepo) SetPaymentRef(ctx context.Context, matchID uuid.UUID, ref string) error {
	_, err := r.pool.Exec(ctx, `UPDATE matches SET payment_ref = $2, updated_at = now() WHERE id = $1`, matchID, ref)
	return err
}

// ExpirePending auto-declines pending matches older than the cutoff.
// Worker job; the client never enforces this.
func (r *MatchRepo) ExpirePending(ctx context.Context, olderThan time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE matches SET status = 'declined', version = version + 1, updated_at = now()
		WHERE status = 'pending' AND created_at < $1
		RETURNING id
	`, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByRequest returns all matches proposed against a delivery request.
func (r *MatchRepo) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]models.Match, error) {
	return r.list(ctx, `SELECT `+matchColumns+` FROM matches WHERE request_id = $1 ORDER BY created_at DESC`, requestID)
}

// ListByTrip returns proposals against any request, seen from a trip.
func (r *MatchRepo) ListByTrip(ctx context.Context, tripID uuid.UUID) ([]models.Match, error) {
	return r.list(ctx, `SELECT `+matchColumns+` FROM matches WHERE trip_id = $1 ORDER BY created_at DESC`, tripID)
}

func (r *MatchRepo) list(ctx context.Context, query string, arg any) ([]models.Match, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, *m)
	}
	return matches, rows.Err()
}

// ListWithRouteByUser returns matches for either party, enriched with the
// route and package details from the joined trip and request rows.
func (r *MatchRepo) ListWithRouteByUser(ctx context.Context, userID uuid.UUID, statuses []string) ([]models.MatchWithRoute, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT m.id, m.trip_id, m.request_id, m.traveler_id, m.business_id, m.status, m.amount,
		       m.accepted_at, m.pickup_at, m.delivered_at, m.payment_ref, m.version, m.created_at, m.updated_at,
		       t.origin, t.destination, t.departure_at,
		       dr.package_size, dr.description, dr.delivery_date,
		       bu.name, tu.name
		FROM matches m
		JOIN trips t ON t.id = m.trip_id
		JOIN delivery_requests dr ON dr.id = m.request_id
		JOIN users bu ON bu.id = m.business_id
		JOIN users tu ON tu.id = m.traveler_id
		WHERE (m.traveler_id = $1 OR m.business_id = $1)
		  AND (cardinality($2::text[]) = 0 OR m.status = ANY($2))
		ORDER BY m.created_at DESC
	`, userID, statuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []models.MatchWithRoute
	for rows.Next() {
		var m models.MatchWithRoute
		if err := rows.Scan(
			&m.ID, &m.TripID, &m.RequestID, &m.TravelerID, &m.BusinessID, &m.Status, &m.Amount,
			&m.AcceptedAt, &m.PickupAt, &m.DeliveredAt, &m.PaymentRef, &m.Version, &m.CreatedAt, &m.UpdatedAt,
			&m.Origin, &m.Destination, &m.DepartureAt,
			&m.PackageSize, &m.Description, &m.DeliveryDate,
			&m.BusinessName, &m.TravelerName,
		); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
