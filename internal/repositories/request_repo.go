package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/parcel-marketplace/backend/internal/apperr"
	"github.com/parcel-marketplace/backend/internal/models"
)

type RequestRepo struct {
	pool *pgxpool.Pool
}

func NewRequestRepo(pool *pgxpool.Pool) *RequestRepo {
	return &RequestRepo{pool: pool}
}

const requestColumns = `id, business_id, origin, destination, delivery_date, package_size, description, estimated_cost, status, created_at, updated_at`

func (r *RequestRepo) Create(ctx context.Context, d *models.DeliveryRequest) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO delivery_requests (business_id, origin, destination, delivery_date, package_size, description, estimated_cost, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, d.BusinessID, d.Origin, d.Destination, d.DeliveryDate, d.PackageSize, d.Description, d.EstimatedCost, d.Status).
		Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
}

func (r *RequestRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.DeliveryRequest, error) {
	var d models.DeliveryRequest
	err := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM delivery_requests WHERE id = $1`, id).Scan(
		&d.ID, &d.BusinessID, &d.Origin, &d.Destination, &d.DeliveryDate, &d.PackageSize, &d.Description,
		&d.EstimatedCost, &d.Status, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("delivery request")
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *RequestRepo) ListByBusiness(ctx context.Context, businessID uuid.UUID) ([]models.DeliveryRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM delivery_requests WHERE business_id = $1 ORDER BY created_at DESC
	`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []models.DeliveryRequest
	for rows.Next() {
		var d models.DeliveryRequest
		if err := rows.Scan(&d.ID, &d.BusinessID, &d.Origin, &d.Destination, &d.DeliveryDate, &d.PackageSize,
			&d.Description, &d.EstimatedCost, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		reqs = append(reqs, d)
	}
	return reqs, rows.Err()
}

// Cancel closes an open request. Requests with an accepted match are
// cancelled through the match, not here.
func (r *RequestRepo) Cancel(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE delivery_requests SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status = 'open'
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.InvalidState("", "delivery request is not open")
	}
	return nil
}
