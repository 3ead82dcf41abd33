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

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

const escrowColumns = `id, match_id, amount, status, provider_ref, captured_at, released_at, refunded_at, created_at`

func (r *EscrowRepo) Create(ctx context.Context, e *models.EscrowEntry) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO escrow_entries (match_id, amount, status, provider_ref)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, e.MatchID, e.Amount, e.Status, e.ProviderRef).Scan(&e.ID, &e.CreatedAt)
}

func (r *EscrowRepo) GetByMatchID(ctx context.Context, matchID uuid.UUID) (*models.EscrowEntry, error) {
	var e models.EscrowEntry
	err := r.pool.QueryRow(ctx, `
		SELECT `+escrowColumns+` FROM escrow_entries WHERE match_id = $1
	`, matchID).Scan(&e.ID, &e.MatchID, &e.Amount, &e.Status, &e.ProviderRef, &e.CapturedAt, &e.ReleasedAt, &e.RefundedAt, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("escrow entry")
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Capture moves the entry to captured and credits the traveler's pending
// balance in one transaction. Idempotent: a second capture (webhook retry)
// returns false without touching the wallet.
func (r *EscrowRepo) Capture(ctx context.Context, matchID uuid.UUID, providerRef string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var amount models.Money
	var travelerID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE escrow_entries e
		SET status = 'captured', captured_at = now(), provider_ref = $2
		FROM matches m
		WHERE e.match_id = $1 AND m.id = e.match_id AND e.status = 'authorized'
		RETURNING e.amount, m.traveler_id
	`, matchID, providerRef).Scan(&amount, &travelerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO wallets (user_id, pending_balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			pending_balance = wallets.pending_balance + EXCLUDED.pending_balance,
			updated_at = now()
	`, travelerID, amount); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

// Release moves captured funds from the traveler's pending balance to the
// available balance and bumps total_earned. Idempotent: releasing an
// already-released entry is a no-op, tolerating at-least-once delivery of
// the delivery-confirmed trigger.
func (r *EscrowRepo) Release(ctx context.Context, matchID uuid.UUID) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var amount models.Money
	var travelerID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE escrow_entries e
		SET status = 'released_to_traveler', released_at = now()
		FROM matches m
		WHERE e.match_id = $1 AND m.id = e.match_id AND e.status = 'captured'
		RETURNING e.amount, m.traveler_id
	`, matchID).Scan(&amount, &travelerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE wallets
		SET pending_balance = pending_balance - $2,
		    available_balance = available_balance + $2,
		    total_earned = total_earned + $2,
		    updated_at = now()
		WHERE user_id = $1
	`, travelerID, amount); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

// Refund voids an authorized or captured entry; captured funds leave the
// traveler's pending balance with no credit.
func (r *EscrowRepo) Refund(ctx context.Context, matchID uuid.UUID) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var amount models.Money
	var travelerID uuid.UUID
	var wasCaptured bool
	err = tx.QueryRow(ctx, `
		UPDATE escrow_entries e
		SET status = 'refunded', refunded_at = now()
		FROM matches m
		WHERE e.match_id = $1 AND m.id = e.match_id AND e.status IN ('authorized', 'captured')
		RETURNING e.amount, m.traveler_id, (e.captured_at IS NOT NULL)
	`, matchID).Scan(&amount, &travelerID, &wasCaptured)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if wasCaptured {
		if _, err := tx.Exec(ctx, `
			UPDATE wallets SET pending_balance = pending_balance - $2, updated_at = now()
			WHERE user_id = $1
		`, travelerID, amount); err != nil {
			return false, err
		}
	}

	return true, tx.Commit(ctx)
}

// CapturedForCompletedMatches finds escrow stuck in captured after its
// match completed (crash between the delivery write and the release).
// Swept by the worker.
func (r *EscrowRepo) CapturedForCompletedMatches(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT e.match_id
		FROM escrow_entries e
		JOIN matches m ON m.id = e.match_id
		WHERE e.status = 'captured' AND m.status = 'completed'
	`)
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
