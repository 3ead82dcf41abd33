package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet tracks a traveler's escrowed and withdrawable funds. Mutated only
// by escrow capture/release/refund, never directly by handlers.
type Wallet struct {
	UserID           uuid.UUID `json:"user_id"`
	PendingBalance   Money     `json:"pending_balance"`
	AvailableBalance Money     `json:"available_balance"`
	TotalEarned      Money     `json:"total_earned"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// UserStats is the aggregated read model behind GET /users/stats.
type UserStats struct {
	Wallet           Wallet `json:"wallet"`
	TripCount        int    `json:"trip_count"`
	RequestCount     int    `json:"request_count"`
	ActiveMatches    int    `json:"active_matches"`
	CompletedMatches int    `json:"completed_matches"`
}
