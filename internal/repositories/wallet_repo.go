package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/parcel-marketplace/backend/internal/models"
)

type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Get returns the user's wallet, zero-valued when no funds have ever been
// escrowed. Balance mutations happen only in EscrowRepo transactions.
func (r *WalletRepo) Get(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, pending_balance, available_balance, total_earned, updated_at
		FROM wallets WHERE user_id = $1
	`, userID).Scan(&w.UserID, &w.PendingBalance, &w.AvailableBalance, &w.TotalEarned, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.Wallet{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}
