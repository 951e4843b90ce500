package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"recovery-service/internal/models"
)

// CreateJob inserts a new call job
func (s *Store) CreateJob(ctx context.Context, job *models.CallJob) error {
	query := `
		INSERT INTO call_jobs (
			id, shop, checkout_id, phone, status, attempts, scheduled_for,
			provider, provider_call_id, outcome, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.Shop, job.CheckoutID, job.Phone, job.Status, job.Attempts, job.ScheduledFor,
		job.Provider, job.ProviderCallID, job.Outcome, job.CreatedAt, job.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrInFlightExists
	}
	if err != nil {
		return fmt.Errorf("failed to create call job: %w", err)
	}
	return nil
}

// GetJob retrieves a call job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*models.CallJob, error) {
	var job models.CallJob
	err := s.db.GetContext(ctx, &job, "SELECT * FROM call_jobs WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// JobHistory counts the jobs of a checkout and returns the most recent one
func (s *Store) JobHistory(ctx context.Context, shop, checkoutID string) (JobHistory, error) {
	var counts struct {
		Total    int `db:"total"`
		InFlight int `db:"in_flight"`
	}
	err := s.db.GetContext(ctx, &counts, `
		SELECT COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE status IN ('QUEUED', 'CALLING')) AS in_flight
		FROM call_jobs
		WHERE shop = $1 AND checkout_id = $2`,
		shop, checkoutID)
	if err != nil {
		return JobHistory{}, fmt.Errorf("failed to count call jobs: %w", err)
	}

	history := JobHistory{Total: counts.Total, InFlight: counts.InFlight}
	if counts.Total == 0 {
		return history, nil
	}

	latest, err := s.FindLatestJob(ctx, shop, checkoutID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return JobHistory{}, err
	}
	history.Latest = latest
	return history, nil
}

// ListDueJobs returns QUEUED jobs due before the cutoff, earliest first.
// An empty shop selects jobs across all shops.
func (s *Store) ListDueJobs(ctx context.Context, shop string, dueBefore time.Time, limit int) ([]models.CallJob, error) {
	query := `
		SELECT * FROM call_jobs
		WHERE status = 'QUEUED' AND scheduled_for <= $1`
	args := []interface{}{dueBefore}

	if shop != "" {
		query += " AND shop = $2"
		args = append(args, shop)
	}
	query += fmt.Sprintf(" ORDER BY scheduled_for ASC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	var jobs []models.CallJob
	err := s.db.SelectContext(ctx, &jobs, query, args...)
	return jobs, err
}

// ListJobs returns the most recent jobs of a shop, optionally filtered by status
func (s *Store) ListJobs(ctx context.Context, shop, status string, limit int) ([]models.CallJob, error) {
	query := "SELECT * FROM call_jobs WHERE shop = $1"
	args := []interface{}{shop}

	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	var jobs []models.CallJob
	err := s.db.SelectContext(ctx, &jobs, query, args...)
	return jobs, err
}

// ClaimJob transitions QUEUED to CALLING and bumps attempts.
// It reports false when another worker got there first.
func (s *Store) ClaimJob(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE call_jobs
		SET status = 'CALLING', attempts = attempts + 1, updated_at = $2
		WHERE id = $1 AND status = 'QUEUED' AND provider_call_id = ''`,
		id, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim call job %s: %w", id, err)
	}
	return affected(res)
}

// RecordProviderCall stores the provider's call id once
func (s *Store) RecordProviderCall(ctx context.Context, id, provider, providerCallID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE call_jobs
		SET provider = $2, provider_call_id = $3,
		    outcome = CASE WHEN outcome = '' THEN 'CALL_PLACED' ELSE outcome END,
		    updated_at = $4
		WHERE id = $1 AND provider_call_id = ''`,
		id, provider, providerCallID, now)
	if err != nil {
		return false, fmt.Errorf("failed to record provider call for %s: %w", id, err)
	}
	return affected(res)
}

// RetryJob puts a CALLING job back to QUEUED for a later attempt
func (s *Store) RetryJob(ctx context.Context, id string, scheduledFor time.Time, outcome string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE call_jobs
		SET status = 'QUEUED', scheduled_for = $2, outcome = $3, updated_at = $4
		WHERE id = $1 AND status = 'CALLING'`,
		id, scheduledFor, outcome, now)
	if err != nil {
		return false, fmt.Errorf("failed to reschedule call job %s: %w", id, err)
	}
	return affected(res)
}

// FinishJob moves a job from one status to another
func (s *Store) FinishJob(ctx context.Context, id, fromStatus, toStatus, outcome string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE call_jobs
		SET status = $3, outcome = $4, updated_at = $5
		WHERE id = $1 AND status = $2`,
		id, fromStatus, toStatus, outcome, now)
	if err != nil {
		return false, fmt.Errorf("failed to finish call job %s: %w", id, err)
	}
	return affected(res)
}

// SetQueuedOutcome annotates a job that is still waiting in the queue
func (s *Store) SetQueuedOutcome(ctx context.Context, id, outcome string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE call_jobs SET outcome = $2, updated_at = $3
		WHERE id = $1 AND status = 'QUEUED'`,
		id, outcome, now)
	if err != nil {
		return false, fmt.Errorf("failed to annotate call job %s: %w", id, err)
	}
	return affected(res)
}

// ApplyWebhookStatus applies a provider-reported status. Terminal statuses
// overwrite anything but CANCELED; CALLING only refreshes a CALLING job.
func (s *Store) ApplyWebhookStatus(ctx context.Context, id, status, outcome string, now time.Time) (bool, error) {
	var guard string
	switch {
	case models.IsTerminalJobStatus(status):
		guard = "status <> 'CANCELED'"
	case status == models.JobStatusCalling:
		guard = "status = 'CALLING'"
	default:
		return false, nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE call_jobs SET status = $2, outcome = $3, updated_at = $4
		WHERE id = $1 AND `+guard,
		id, status, outcome, now)
	if err != nil {
		return false, fmt.Errorf("failed to apply status to call job %s: %w", id, err)
	}
	return affected(res)
}

// MergeOutcome folds webhook data into a job without erasing stored values
func (s *Store) MergeOutcome(ctx context.Context, id string, p OutcomePatch, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE call_jobs SET
			outcome       = COALESCE(NULLIF($2::text, ''), outcome),
			ended_reason  = COALESCE(NULLIF($3::text, ''), ended_reason),
			recording_url = COALESCE(NULLIF($4::text, ''), recording_url),
			transcript    = CASE
				WHEN $5::text <> '' THEN $5::text
				WHEN $6::text = '' THEN transcript
				WHEN transcript = '' THEN $6::text
				ELSE transcript || E'\n' || $6::text
			END,
			sentiment     = COALESCE(NULLIF($7::text, ''), sentiment),
			tags_csv      = COALESCE(NULLIF($8::text, ''), tags_csv),
			reason        = COALESCE(NULLIF($9::text, ''), reason),
			next_action   = COALESCE(NULLIF($10::text, ''), next_action),
			follow_up     = COALESCE(NULLIF($11::text, ''), follow_up),
			analysis_json = COALESCE(NULLIF($12::text, ''), analysis_json),
			updated_at    = $13
		WHERE id = $1`,
		id, p.Outcome, p.EndedReason, p.RecordingURL, p.Transcript, p.AppendTranscript,
		p.Sentiment, p.TagsCSV, p.Reason, p.NextAction, p.FollowUp, p.AnalysisJSON, now)
	if err != nil {
		return fmt.Errorf("failed to merge outcome into call job %s: %w", id, err)
	}
	return nil
}

// FindLatestJob returns the most recently created job of a checkout
func (s *Store) FindLatestJob(ctx context.Context, shop, checkoutID string) (*models.CallJob, error) {
	var job models.CallJob
	err := s.db.GetContext(ctx, &job, `
		SELECT * FROM call_jobs
		WHERE shop = $1 AND checkout_id = $2
		ORDER BY created_at DESC LIMIT 1`,
		shop, checkoutID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// FindJobByProviderCallID looks a job up by the provider's call id
func (s *Store) FindJobByProviderCallID(ctx context.Context, providerCallID string) (*models.CallJob, error) {
	if providerCallID == "" {
		return nil, ErrNotFound
	}

	var job models.CallJob
	err := s.db.GetContext(ctx, &job, `
		SELECT * FROM call_jobs
		WHERE provider_call_id = $1
		ORDER BY created_at DESC LIMIT 1`,
		providerCallID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CancelInFlightJobs cancels every QUEUED or CALLING job of a checkout
func (s *Store) CancelInFlightJobs(ctx context.Context, shop, checkoutID, outcome string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE call_jobs SET status = 'CANCELED', outcome = $3, updated_at = $4
		WHERE shop = $1 AND checkout_id = $2 AND status IN ('QUEUED', 'CALLING')`,
		shop, checkoutID, outcome, now)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel call jobs for %s: %w", checkoutID, err)
	}
	return res.RowsAffected()
}

// AttributeLatestProviderJob credits an order to the newest job that reached
// the provider. It returns the job id, or "" when no such job exists.
func (s *Store) AttributeLatestProviderJob(ctx context.Context, shop, checkoutID, orderID string, amountCents int64, at time.Time) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id, `
		UPDATE call_jobs
		SET attributed_at = $5, attributed_order_id = $3, attributed_amount_cents = $4, updated_at = $5
		WHERE id = (
			SELECT id FROM call_jobs
			WHERE shop = $1 AND checkout_id = $2 AND provider_call_id <> ''
			ORDER BY created_at DESC LIMIT 1
		)
		RETURNING id`,
		shop, checkoutID, orderID, amountCents, at)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to attribute order %s: %w", orderID, err)
	}
	return id, nil
}
