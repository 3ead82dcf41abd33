package models

import (
	"time"

	"github.com/google/uuid"
)

// Delivery request statuses
const (
	RequestStatusOpen      = "open"
	RequestStatusMatched   = "matched"
	RequestStatusCompleted = "completed"
	RequestStatusCancelled = "cancelled"
)

type DeliveryRequest struct {
	ID            uuid.UUID  `json:"id"`
	BusinessID    uuid.UUID  `json:"business_id"`
	Origin        string     `json:"origin"`
	Destination   string     `json:"destination"`
	DeliveryDate  *time.Time `json:"delivery_date,omitempty"`
	PackageSize   string     `json:"package_size"`
	Description   string     `json:"description"`
	EstimatedCost Money      `json:"estimated_cost"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
