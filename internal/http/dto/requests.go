package dto

import (
	"time"

	"github.com/parcel-marketplace/backend/internal/models"
)

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"` // traveler / business
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type CreateTripRequest struct {
	Origin         string    `json:"origin"`
	Destination    string    `json:"destination"`
	DepartureAt    time.Time `json:"departure_at"`
	AvailableSpace string    `json:"available_space"` // small / medium / large
}

type CreateDeliveryRequest struct {
	Origin        string       `json:"origin"`
	Destination   string       `json:"destination"`
	DeliveryDate  *time.Time   `json:"delivery_date,omitempty"`
	PackageSize   string       `json:"package_size"`
	Description   string       `json:"description,omitempty"`
	EstimatedCost models.Money `json:"estimated_cost"` // minor units
}

type ProposeMatchRequest struct {
	TripID    string `json:"trip_id"`
	RequestID string `json:"request_id"`
}

type ConfirmHandoffRequest struct {
	Code string `json:"code"`
}

type UpdateBankDetailsRequest struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

type UpdatePushTokenRequest struct {
	Token string `json:"token"`
}

type SetVerificationRequest struct {
	Status string `json:"status"` // approved / rejected
}

type CreateSessionRequest struct {
	MatchID string `json:"match_id"`
}

type PaymentWebhookRequest struct {
	MatchID     string `json:"match_id"`
	ProviderRef string `json:"provider_ref"`
	Event       string `json:"event"` // charge.success
}
