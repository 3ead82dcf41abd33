package models

import (
	"time"

	"github.com/google/uuid"
)

// Roles
const (
	RoleTraveler = "traveler"
	RoleBusiness = "business"
	RoleAdmin    = "admin"
)

// Verification statuses
const (
	VerificationNone     = "none"
	VerificationPending  = "pending"
	VerificationApproved = "approved"
	VerificationRejected = "rejected"
)

type User struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	PasswordHash       string    `json:"-"`
	Role               string    `json:"role"`
	IsVerified         bool      `json:"is_verified"`
	VerificationStatus string    `json:"verification_status"`
	BankName           *string   `json:"bank_name,omitempty"`
	BankAccountNumber  *string   `json:"bank_account_number,omitempty"`
	BankAccountName    *string   `json:"bank_account_name,omitempty"`
	PushToken          *string   `json:"-"`
	CreatedAt          time.Time `json:"created_at"`
	LastActiveAt       time.Time `json:"last_active_at"`
}

func IsValidRole(role string) bool {
	return role == RoleTraveler || role == RoleBusiness || role == RoleAdmin
}

func IsValidVerificationStatus(s string) bool {
	switch s {
	case VerificationNone, VerificationPending, VerificationApproved, VerificationRejected:
		return true
	}
	return false
}
