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

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

const userColumns = `id, name, email, password_hash, role, is_verified, verification_status,
       bank_name, bank_account_number, bank_account_name, push_token, created_at, last_active_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.IsVerified, &u.VerificationStatus,
		&u.BankName, &u.BankAccountNumber, &u.BankAccountName, &u.PushToken, &u.CreatedAt, &u.LastActiveAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) Create(ctx context.Context, u *models.User) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO users (name, email, password_hash, role, verification_status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, last_active_at
	`, u.Name, u.Email, u.PasswordHash, u.Role, u.VerificationStatus).Scan(&u.ID, &u.CreatedAt, &u.LastActiveAt)
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

// SetVerification flips the admin-controlled verification fields; approved
// is the only status granting is_verified.
func (r *UserRepo) SetVerification(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET is_verified = ($2 = 'approved'), verification_status = $2
		WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user")
	}
	return nil
}

func (r *UserRepo) UpdateBankDetails(ctx context.Context, id uuid.UUID, bankName, accountNumber, accountName string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET bank_name = $2, bank_account_number = $3, bank_account_name = $4
		WHERE id = $1
	`, id, bankName, accountNumber, accountName)
	return err
}

func (r *UserRepo) UpdatePushToken(ctx context.Context, id uuid.UUID, token string) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET push_token = $2 WHERE id = $1`, id, token)
	return err
}

func (r *UserRepo) UpdateLastActive(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_active_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}

// Stats aggregates the wallet and counts behind GET /users/stats.
func (r *UserRepo) Stats(ctx context.Context, id uuid.UUID) (*models.UserStats, error) {
	var s models.UserStats
	s.Wallet.UserID = id
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(w.pending_balance, 0), COALESCE(w.available_balance, 0), COALESCE(w.total_earned, 0),
		       (SELECT count(*) FROM trips WHERE traveler_id = $1),
		       (SELECT count(*) FROM delivery_requests WHERE business_id = $1),
		       (SELECT count(*) FROM matches WHERE (traveler_id = $1 OR business_id = $1)
		          AND status IN ('pending', 'accepted', 'pickup_confirmed')),
		       (SELECT count(*) FROM matches WHERE (traveler_id = $1 OR business_id = $1)
		          AND status = 'completed')
		FROM users u
		LEFT JOIN wallets w ON w.user_id = u.id
		WHERE u.id = $1
	`, id).Scan(
		&s.Wallet.PendingBalance, &s.Wallet.AvailableBalance, &s.Wallet.TotalEarned,
		&s.TripCount, &s.RequestCount, &s.ActiveMatches, &s.CompletedMatches,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
