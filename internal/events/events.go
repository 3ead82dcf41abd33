package events

import "context"

// Event types
const (
	EventMatchStatusChanged = "match_status_changed"
	EventOTPIssued          = "otp_issued"
	EventPaymentCaptured    = "payment_captured"
	EventEscrowReleased     = "escrow_released"
	EventNotification       = "notification"
)

// StreamMatch carries match lifecycle and payment events for the WS hub.
const StreamMatch = "events:match"

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
