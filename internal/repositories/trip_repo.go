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

type TripRepo struct {
	pool *pgxpool.Pool
}

func NewTripRepo(pool *pgxpool.Pool) *TripRepo {
	return &TripRepo{pool: pool}
}

const tripColumns = `id, traveler_id, origin, destination, departure_at, available_space, status, created_at, updated_at`

func (r *TripRepo) Create(ctx context.Context, t *models.Trip) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO trips (traveler_id, origin, destination, departure_at, available_space, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, t.TravelerID, t.Origin, t.Destination, t.DepartureAt, t.AvailableSpace, t.Status).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func (r *TripRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	var t models.Trip
	err := r.pool.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id).Scan(
		&t.ID, &t.TravelerID, &t.Origin, &t.Destination, &t.DepartureAt, &t.AvailableSpace, &t.Status, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("trip")
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TripRepo) ListByTraveler(ctx context.Context, travelerID uuid.UUID) ([]models.Trip, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+tripColumns+` FROM trips WHERE traveler_id = $1 ORDER BY departure_at DESC
	`, travelerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []models.Trip
	for rows.Next() {
		var t models.Trip
		if err := rows.Scan(&t.ID, &t.TravelerID, &t.Origin, &t.Destination, &t.DepartureAt, &t.AvailableSpace, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

// ActiveTrips implements matching.TripSource: active trips departing inside
// [from, to), joined with the traveler fields the ranker needs.
func (r *TripRepo) ActiveTrips(ctx context.Context, from, to time.Time) ([]models.CandidateTrip, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.id, t.traveler_id, t.origin, t.destination, t.departure_at, t.available_space, t.status,
		       t.created_at, t.updated_at, u.name, u.is_verified
		FROM trips t
		JOIN users u ON u.id = t.traveler_id
		WHERE t.status = 'active' AND t.departure_at >= $1 AND t.departure_at < $2
		ORDER BY t.departure_at ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []models.CandidateTrip
	for rows.Next() {
		var t models.CandidateTrip
		if err := rows.Scan(&t.ID, &t.TravelerID, &t.Origin, &t.Destination, &t.DepartureAt, &t.AvailableSpace, &t.Status,
			&t.CreatedAt, &t.UpdatedAt, &t.TravelerName, &t.TravelerVerified); err != nil {
			return nil, err
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

// Cancel marks an active trip cancelled, rejecting when any match on it is
// still in flight.
func (r *TripRepo) Cancel(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE trips SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status = 'active'
		  AND NOT EXISTS (
			SELECT 1 FROM matches
			WHERE trip_id = $1 AND status IN ('pending', 'accepted', 'pickup_confirmed')
		  )
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.InvalidState("", "trip is not active or has matches in flight")
	}
	return nil
}

// ExpireDeparted completes active trips whose departure passed with no
// match still in flight. Run by the worker.
func (r *TripRepo) ExpireDeparted(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE trips SET status = 'completed', updated_at = now()
		WHERE status = 'active' AND departure_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM matches
			WHERE matches.trip_id = trips.id AND matches.status IN ('pending', 'accepted', 'pickup_confirmed')
		  )
		RETURNING id
	`, before)
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
