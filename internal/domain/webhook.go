package domain

import "time"

// Webhook events an account can subscribe to.
const (
	EventFillExecuted  = "fill.executed"
	EventOrderStatus   = "order.status"
	EventOrderRejected = "order.rejected"
)

// Webhook represents an account's subscription to execution reports.
type Webhook struct {
	WebhookID string
	AccountID string
	Event     string
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
}
