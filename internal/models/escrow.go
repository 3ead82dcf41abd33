package models

import (
	"time"

	"github.com/google/uuid"
)

// Escrow entry states
const (
	EscrowStatusAuthorized = "authorized"
	EscrowStatusCaptured   = "captured"
	EscrowStatusReleased   = "released_to_traveler"
	EscrowStatusRefunded   = "refunded"
)

type EscrowEntry struct {
	ID          uuid.UUID  `json:"id"`
	MatchID     uuid.UUID  `json:"match_id"`
	Amount      Money      `json:"amount"`
	Status      string     `json:"status"`
	ProviderRef *string    `json:"provider_ref,omitempty"`
	CapturedAt  *time.Time `json:"captured_at,omitempty"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
