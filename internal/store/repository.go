package store

import (
	"context"
	"errors"
	"time"

	"recovery-service/internal/models"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrInFlightExists is returned when a checkout already has a QUEUED or CALLING job.
	ErrInFlightExists = errors.New("store: in-flight call job exists for checkout")
)

// JobHistory summarises the jobs that exist for one checkout.
type JobHistory struct {
	Total    int
	InFlight int
	Latest   *models.CallJob
}

// OutcomePatch is a monotonic merge into a job's outcome fields.
// Empty values leave the stored column untouched.
type OutcomePatch struct {
	Outcome          string
	EndedReason      string
	RecordingURL     string
	Transcript       string // replaces the stored transcript
	AppendTranscript string // appended with a newline separator
	Sentiment        string
	TagsCSV          string
	Reason           string
	NextAction       string
	FollowUp         string
	AnalysisJSON     string
}

// IsEmpty reports whether applying the patch would change nothing.
func (p OutcomePatch) IsEmpty() bool {
	return p == OutcomePatch{}
}

// CheckoutRepository persists checkouts.
type CheckoutRepository interface {
	UpsertCheckout(ctx context.Context, c *models.Checkout) error
	GetCheckout(ctx context.Context, shop, checkoutID string) (*models.Checkout, error)
	MarkAbandoned(ctx context.Context, shop string, createdBefore, now time.Time) (int64, error)
	ListCallCandidates(ctx context.Context, shop string, minValueCents int64, abandonedBefore time.Time) ([]models.Checkout, error)
	CloseCheckout(ctx context.Context, shop, checkoutID, status, orderID string, amountCents int64, at time.Time) error
}

// JobRepository persists call jobs. Every status write is guarded by the
// expected current status and reports whether it took effect.
type JobRepository interface {
	CreateJob(ctx context.Context, job *models.CallJob) error
	GetJob(ctx context.Context, id string) (*models.CallJob, error)
	JobHistory(ctx context.Context, shop, checkoutID string) (JobHistory, error)
	ListDueJobs(ctx context.Context, shop string, dueBefore time.Time, limit int) ([]models.CallJob, error)
	ListJobs(ctx context.Context, shop, status string, limit int) ([]models.CallJob, error)
	ClaimJob(ctx context.Context, id string, now time.Time) (bool, error)
	RecordProviderCall(ctx context.Context, id, provider, providerCallID string, now time.Time) (bool, error)
	RetryJob(ctx context.Context, id string, scheduledFor time.Time, outcome string, now time.Time) (bool, error)
	FinishJob(ctx context.Context, id, fromStatus, toStatus, outcome string, now time.Time) (bool, error)
	SetQueuedOutcome(ctx context.Context, id, outcome string, now time.Time) (bool, error)
	ApplyWebhookStatus(ctx context.Context, id, status, outcome string, now time.Time) (bool, error)
	MergeOutcome(ctx context.Context, id string, patch OutcomePatch, now time.Time) error
	FindLatestJob(ctx context.Context, shop, checkoutID string) (*models.CallJob, error)
	FindJobByProviderCallID(ctx context.Context, providerCallID string) (*models.CallJob, error)
	CancelInFlightJobs(ctx context.Context, shop, checkoutID, outcome string, now time.Time) (int64, error)
	AttributeLatestProviderJob(ctx context.Context, shop, checkoutID, orderID string, amountCents int64, at time.Time) (string, error)
}

// SettingsRepository persists per-shop settings.
type SettingsRepository interface {
	GetOrCreateSettings(ctx context.Context, shop string) (*models.Settings, error)
	UpdateSettings(ctx context.Context, s *models.Settings) error
	ListEnabledShops(ctx context.Context) ([]string, error)
}

// EventLog records processed event ids for idempotent handling.
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Repository is everything the recovery engine needs from persistence.
type Repository interface {
	CheckoutRepository
	JobRepository
	SettingsRepository
	EventLog
	DeleteShopData(ctx context.Context, shop string) error
	Ping(ctx context.Context) error
}
