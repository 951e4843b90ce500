package models

import "time"

// Checkout represents a customer's checkout session tracked per shop
type Checkout struct {
	Shop                 string     `db:"shop" json:"shop"`
	CheckoutID           string     `db:"checkout_id" json:"checkout_id"`
	Email                string     `db:"email" json:"email,omitempty"`
	Phone                string     `db:"phone" json:"phone,omitempty"`
	CustomerName         string     `db:"customer_name" json:"customer_name,omitempty"`
	ValueCents           int64      `db:"value_cents" json:"value_cents"`
	Currency             string     `db:"currency" json:"currency"`
	ItemsPreview         string     `db:"items_preview" json:"items_preview,omitempty"`
	CheckoutURL          string     `db:"checkout_url" json:"checkout_url,omitempty"`
	Status               string     `db:"status" json:"status"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
	AbandonedAt          *time.Time `db:"abandoned_at" json:"abandoned_at,omitempty"`
	RecoveredAt          *time.Time `db:"recovered_at" json:"recovered_at,omitempty"`
	RecoveredOrderID     string     `db:"recovered_order_id" json:"recovered_order_id,omitempty"`
	RecoveredAmountCents int64      `db:"recovered_amount_cents" json:"recovered_amount_cents,omitempty"`
}

// CallJob is one scheduled or attempted outbound call for a checkout
type CallJob struct {
	ID                    string     `db:"id" json:"id"`
	Shop                  string     `db:"shop" json:"shop"`
	CheckoutID            string     `db:"checkout_id" json:"checkout_id"`
	Phone                 string     `db:"phone" json:"phone"`
	Status                string     `db:"status" json:"status"`
	Attempts              int        `db:"attempts" json:"attempts"`
	ScheduledFor          time.Time  `db:"scheduled_for" json:"scheduled_for"`
	Provider              string     `db:"provider" json:"provider,omitempty"`
	ProviderCallID        string     `db:"provider_call_id" json:"provider_call_id,omitempty"`
	Outcome               string     `db:"outcome" json:"outcome,omitempty"`
	EndedReason           string     `db:"ended_reason" json:"ended_reason,omitempty"`
	RecordingURL          string     `db:"recording_url" json:"recording_url,omitempty"`
	Transcript            string     `db:"transcript" json:"transcript,omitempty"`
	Sentiment             string     `db:"sentiment" json:"sentiment,omitempty"`
	TagsCSV               string     `db:"tags_csv" json:"tags_csv,omitempty"`
	Reason                string     `db:"reason" json:"reason,omitempty"`
	NextAction            string     `db:"next_action" json:"next_action,omitempty"`
	FollowUp              string     `db:"follow_up" json:"follow_up,omitempty"`
	AnalysisJSON          string     `db:"analysis_json" json:"analysis_json,omitempty"`
	AttributedAt          *time.Time `db:"attributed_at" json:"attributed_at,omitempty"`
	AttributedOrderID     string     `db:"attributed_order_id" json:"attributed_order_id,omitempty"`
	AttributedAmountCents int64      `db:"attributed_amount_cents" json:"attributed_amount_cents,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// Settings holds the per-shop call recovery configuration
type Settings struct {
	Shop               string    `db:"shop" json:"shop"`
	Enabled            bool      `db:"enabled" json:"enabled"`
	DelayMinutes       int       `db:"delay_minutes" json:"delay_minutes"`
	MaxAttempts        int       `db:"max_attempts" json:"max_attempts"`
	RetryMinutes       int       `db:"retry_minutes" json:"retry_minutes"`
	MinOrderValueCents int64     `db:"min_order_value_cents" json:"min_order_value_cents"`
	Currency           string    `db:"currency" json:"currency"`
	CallWindowStart    string    `db:"call_window_start" json:"call_window_start"`
	CallWindowEnd      string    `db:"call_window_end" json:"call_window_end"`
	AssistantID        string    `db:"assistant_id" json:"assistant_id"`
	PhoneNumberID      string    `db:"phone_number_id" json:"phone_number_id"`
	Prompt             string    `db:"prompt" json:"prompt"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// Checkout statuses
const (
	CheckoutStatusOpen      = "OPEN"
	CheckoutStatusAbandoned = "ABANDONED"
	CheckoutStatusConverted = "CONVERTED"
	CheckoutStatusRecovered = "RECOVERED"
)

// Call job statuses
const (
	JobStatusQueued    = "QUEUED"
	JobStatusCalling   = "CALLING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
	JobStatusCanceled  = "CANCELED"
)

// IsTerminalJobStatus reports whether a job in this status is closed
func IsTerminalJobStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// IsInFlightJobStatus reports whether a job in this status blocks new jobs for its checkout
func IsInFlightJobStatus(status string) bool {
	return status == JobStatusQueued || status == JobStatusCalling
}

// DefaultSettings returns the settings a shop starts with
func DefaultSettings(shop string) Settings {
	return Settings{
		Shop:            shop,
		Enabled:         false,
		DelayMinutes:    30,
		MaxAttempts:     2,
		RetryMinutes:    180,
		Currency:        "USD",
		CallWindowStart: "09:00",
		CallWindowEnd:   "19:00",
	}
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
