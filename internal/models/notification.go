package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification kinds
const (
	NotificationMatchProposed   = "match_proposed"
	NotificationMatchAccepted   = "match_accepted"
	NotificationMatchDeclined   = "match_declined"
	NotificationMatchCancelled  = "match_cancelled"
	NotificationPaymentCaptured = "payment_captured"
	NotificationPickupDone      = "pickup_confirmed"
	NotificationDeliveryDone    = "delivery_completed"
)

type Notification struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Kind      string     `json:"kind"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	MatchID   *uuid.UUID `json:"match_id,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
