package models

import "time"

// Event types
const (
	EventTypeCallJobQueued      = "CALL_JOB_QUEUED"
	EventTypeCallStarted        = "CALL_STARTED"
	EventTypeCallRetryScheduled = "CALL_RETRY_SCHEDULED"
	EventTypeCallFinished       = "CALL_FINISHED"
	EventTypeCheckoutRecovered  = "CHECKOUT_RECOVERED"
	EventTypeCheckoutConverted  = "CHECKOUT_CONVERTED"

	// Inbound from the commerce platform
	EventTypeCheckoutUpserted = "CHECKOUT_UPSERTED"
	EventTypeOrderCreated     = "ORDER_CREATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// CallJobEvent is published on every call job lifecycle transition
type CallJobEvent struct {
	BaseEvent
	Shop           string    `json:"shop"`
	JobID          string    `json:"job_id"`
	CheckoutID     string    `json:"checkout_id"`
	Status         string    `json:"status"`
	Attempts       int       `json:"attempts"`
	ScheduledFor   time.Time `json:"scheduled_for"`
	ProviderCallID string    `json:"provider_call_id,omitempty"`
	Outcome        string    `json:"outcome,omitempty"`
}

// CheckoutClosedEvent published when an order closes a checkout
type CheckoutClosedEvent struct {
	BaseEvent
	Shop        string `json:"shop"`
	CheckoutID  string `json:"checkout_id"`
	OrderID     string `json:"order_id"`
	AmountCents int64  `json:"amount_cents"`
	JobID       string `json:"job_id,omitempty"`
}

// CheckoutUpsertedEvent carries a synced checkout from the commerce platform
type CheckoutUpsertedEvent struct {
	BaseEvent
	Checkout Checkout `json:"checkout"`
}

// OrderCreatedEvent carries a new order from the commerce platform
type OrderCreatedEvent struct {
	BaseEvent
	Shop        string    `json:"shop"`
	CheckoutID  string    `json:"checkout_id"`
	OrderID     string    `json:"order_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
