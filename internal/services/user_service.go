package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/parcel-marketplace/backend/internal/apperr"
	"github.com/parcel-marketplace/backend/internal/auth"
	"github.com/parcel-marketplace/backend/internal/config"
	"github.com/parcel-marketplace/backend/internal/models"
	"go.uber.org/zap"
)

// AccountStore is the full user surface, beyond the GetByID the lifecycle
// services need.
type AccountStore interface {
	UserStore
	Create(ctx context.Context, u *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	SetVerification(ctx context.Context, id uuid.UUID, status string) error
	UpdateBankDetails(ctx context.Context, id uuid.UUID, bankName, accountNumber, accountName string) error
	UpdatePushToken(ctx context.Context, id uuid.UUID, token string) error
	UpdateLastActive(ctx context.Context, id uuid.UUID) error
	Stats(ctx context.Context, id uuid.UUID) (*models.UserStats, error)
}

type UserService struct {
	userRepo   AccountStore
	walletRepo WalletStore
	cfg        *config.Config
	log        *zap.Logger
}

func NewUserService(userRepo AccountStore, walletRepo WalletStore, cfg *config.Config, log *zap.Logger) *UserService {
	return &UserService{userRepo: userRepo, walletRepo: walletRepo, cfg: cfg, log: log}
}

// AuthResult pairs a user with a freshly issued token.
type AuthResult struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

func (s *UserService) Register(ctx context.Context, name, email, password, role string) (*AuthResult, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" {
		return nil, apperr.Validation("name and email are required")
	}
	if !strings.Contains(email, "@") {
		return nil, apperr.Validation("invalid email address")
	}
	if len(password) < 8 {
		return nil, apperr.Validation("password must be at least 8 characters")
	}
	if role != models.RoleTraveler && role != models.RoleBusiness {
		return nil, apperr.Validation("role must be traveler or business")
	}

	if _, err := s.userRepo.GetByEmail(ctx, email); err == nil {
		return nil, apperr.Conflict("email is already registered")
	} else if !apperr.IsCode(err, apperr.CodeNotFound) {
		return nil, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		Name:               name,
		Email:              email,
		PasswordHash:       hash,
		Role:               role,
		VerificationStatus: models.VerificationNone,
	}
	if err := s.userRepo.Create(ctx, u); err != nil {
		return nil, err
	}

	token, err := auth.GenerateJWT(s.cfg.JWTSecret, u.ID, u.Role, s.cfg.JWTExpiration)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: u, Token: token}, nil
}

func (s *UserService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			return nil, &apperr.Error{Code: apperr.CodeUnauthorized, Message: "invalid email or password"}
		}
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return nil, &apperr.Error{Code: apperr.CodeUnauthorized, Message: "invalid email or password"}
	}

	if err := s.userRepo.UpdateLastActive(ctx, u.ID); err != nil {
		s.log.Warn("update last active", zap.Error(err))
	}

	token, err := auth.GenerateJWT(s.cfg.JWTSecret, u.ID, u.Role, s.cfg.JWTExpiration)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: u, Token: token}, nil
}

func (s *UserService) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

func (s *UserService) Stats(ctx context.Context, id uuid.UUID) (*models.UserStats, error) {
	return s.userRepo.Stats(ctx, id)
}

// Wallet returns the caller's balances, zero-valued before any escrow has
// touched them.
func (s *UserService) Wallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	return s.walletRepo.Get(ctx, id)
}

// UpdateBankDetails stores the payout account releases settle to.
func (s *UserService) UpdateBankDetails(ctx context.Context, id uuid.UUID, bankName, accountNumber, accountName string) error {
	bankName = strings.TrimSpace(bankName)
	accountNumber = strings.TrimSpace(accountNumber)
	accountName = strings.TrimSpace(accountName)
	if bankName == "" || accountNumber == "" || accountName == "" {
		return apperr.Validation("bank name, account number and account name are required")
	}
	return s.userRepo.UpdateBankDetails(ctx, id, bankName, accountNumber, accountName)
}

func (s *UserService) UpdatePushToken(ctx context.Context, id uuid.UUID, token string) error {
	if strings.TrimSpace(token) == "" {
		return apperr.Validation("push token is required")
	}
	return s.userRepo.UpdatePushToken(ctx, id, token)
}

// RequestVerification moves an account into the review queue.
func (s *UserService) RequestVerification(ctx context.Context, id uuid.UUID) error {
	u, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	switch u.VerificationStatus {
	case models.VerificationApproved:
		return apperr.InvalidState(u.VerificationStatus, "account is already verified")
	case models.VerificationPending:
		return apperr.InvalidState(u.VerificationStatus, "verification is already pending")
	}
	return s.userRepo.SetVerification(ctx, id, models.VerificationPending)
}

// SetVerification is the admin decision on a pending verification.
func (s *UserService) SetVerification(ctx context.Context, id uuid.UUID, status string) error {
	if status != models.VerificationApproved && status != models.VerificationRejected {
		return apperr.Validation("status must be approved or rejected")
	}
	if _, err := s.userRepo.GetByID(ctx, id); err != nil {
		return err
	}
	return s.userRepo.SetVerification(ctx, id, status)
}
