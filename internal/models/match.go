package models

import (
	"time"

	"github.com/google/uuid"
)

// Match statuses
const (
	MatchStatusPending         = "pending"
	MatchStatusAccepted        = "accepted"
	MatchStatusPickupConfirmed = "pickup_confirmed"
	MatchStatusCompleted       = "completed"
	MatchStatusDeclined        = "declined"
	MatchStatusCancelled       = "cancelled"
)

// OTP types
const (
	OTPTypePickup   = "pickup"
	OTPTypeDelivery = "delivery"
)

// Valid state transitions: from -> []to. No transition skips a state;
// cancellation is only reachable before pickup.
var ValidMatchTransitions = map[string][]string{
	MatchStatusPending:         {MatchStatusAccepted, MatchStatusDeclined, MatchStatusCancelled},
	MatchStatusAccepted:        {MatchStatusPickupConfirmed, MatchStatusCancelled},
	MatchStatusPickupConfirmed: {MatchStatusCompleted},
	MatchStatusCompleted:       {},
	MatchStatusDeclined:        {},
	MatchStatusCancelled:       {},
}

func IsValidMatchTransition(from, to string) bool {
	allowed, ok := ValidMatchTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminalMatchStatus reports whether no further transition is possible.
func IsTerminalMatchStatus(status string) bool {
	allowed, ok := ValidMatchTransitions[status]
	return ok && len(allowed) == 0
}

type Match struct {
	ID         uuid.UUID `json:"id"`
	TripID     uuid.UUID `json:"trip_id"`
	RequestID  uuid.UUID `json:"request_id"`
	TravelerID uuid.UUID `json:"traveler_id"`
	BusinessID uuid.UUID `json:"business_id"`
	Status     string    `json:"status"`
	Amount     Money     `json:"amount"`

	// OTP secrets are owned exclusively by the match and never serialized.
	PickupOTP              *string    `json:"-"`
	DeliveryOTP            *string    `json:"-"`
	PickupOTPRequestedAt   *time.Time `json:"-"`
	DeliveryOTPRequestedAt *time.Time `json:"-"`
	PickupOTPAttempts      int        `json:"-"`
	DeliveryOTPAttempts    int        `json:"-"`

	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	PickupAt    *time.Time `json:"pickup_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	PaymentRef  *string    `json:"payment_ref,omitempty"`

	// Version guards optimistic-concurrency writes: a transition only
	// commits against the version it read.
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MatchWithRoute embeds Match and adds route/package info from the joined
// trip and request rows, for list endpoints.
type MatchWithRoute struct {
	Match
	Origin       string     `json:"origin"`
	Destination  string     `json:"destination"`
	DepartureAt  time.Time  `json:"departure_at"`
	PackageSize  string     `json:"package_size"`
	Description  string     `json:"description"`
	DeliveryDate *time.Time `json:"delivery_date,omitempty"`
	BusinessName string     `json:"business_name,omitempty"`
	TravelerName string     `json:"traveler_name,omitempty"`
}
