package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"recovery-service/internal/broker"
	"recovery-service/internal/models"
	"recovery-service/internal/schedule"
	"recovery-service/internal/store"
	"recovery-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Reasons a candidate checkout is not enqueued
const (
	skipInFlight    = "in_flight"
	skipMaxAttempts = "max_attempts"
	skipCooldown    = "retry_cooldown"
)

// Enqueuer turns eligible abandoned checkouts into QUEUED call jobs
type Enqueuer struct {
	checkouts store.CheckoutRepository
	jobs      store.JobRepository
	publisher broker.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewEnqueuer creates a new job enqueuer
func NewEnqueuer(checkouts store.CheckoutRepository, jobs store.JobRepository, publisher broker.Publisher) *Enqueuer {
	if publisher == nil {
		publisher = broker.NopPublisher{}
	}
	return &Enqueuer{
		checkouts: checkouts,
		jobs:      jobs,
		publisher: publisher,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// Enqueue creates at most one pending job per eligible checkout. The delay
// is measured from each checkout's abandonedAt, so repeated ticks never push
// a call further out. Safe to call repeatedly.
func (e *Enqueuer) Enqueue(ctx context.Context, shop string, policy schedule.Policy) (int, error) {
	ctx, span := util.StartSpan(ctx, "Enqueuer.Enqueue")
	defer span.End()

	if !policy.Enabled {
		return 0, nil
	}

	now := e.now()
	candidates, err := e.checkouts.ListCallCandidates(ctx, shop, policy.MinOrderValueCents, now.Add(-policy.Delay()))
	if err != nil {
		return 0, fmt.Errorf("failed to list call candidates: %w", err)
	}

	enqueued := 0
	for i := range candidates {
		c := &candidates[i]

		reason, err := e.skipReason(ctx, c, policy, now)
		if err != nil {
			return enqueued, err
		}
		if reason != "" {
			util.JobsSkippedTotal.WithLabelValues(reason).Inc()
			continue
		}

		job := &models.CallJob{
			ID:           uuid.New().String(),
			Shop:         c.Shop,
			CheckoutID:   c.CheckoutID,
			Phone:        c.Phone,
			Status:       models.JobStatusQueued,
			Attempts:     0,
			ScheduledFor: schedule.NextRunTime(now, policy.CallWindowStart, policy.CallWindowEnd, 0),
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		err = e.jobs.CreateJob(ctx, job)
		if errors.Is(err, store.ErrInFlightExists) {
			// Another enqueuer won the race for this checkout.
			util.JobsSkippedTotal.WithLabelValues(skipInFlight).Inc()
			continue
		}
		if err != nil {
			return enqueued, err
		}

		enqueued++
		util.JobsEnqueuedTotal.Inc()
		e.logger.Info("Call job queued",
			zap.String("shop", shop),
			zap.String("job_id", job.ID),
			zap.String("checkout_id", job.CheckoutID),
			zap.Time("scheduled_for", job.ScheduledFor))

		if err := e.publisher.PublishCallEvent(ctx, models.EventTypeCallJobQueued, job); err != nil {
			e.logger.Error("Failed to publish CallJobQueued event", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	return enqueued, nil
}

func (e *Enqueuer) skipReason(ctx context.Context, c *models.Checkout, policy schedule.Policy, now time.Time) (string, error) {
	history, err := e.jobs.JobHistory(ctx, c.Shop, c.CheckoutID)
	if err != nil {
		return "", fmt.Errorf("failed to load job history for %s: %w", c.CheckoutID, err)
	}

	if history.InFlight > 0 {
		return skipInFlight, nil
	}
	if history.Total >= policy.MaxAttempts {
		return skipMaxAttempts, nil
	}
	if last := history.Latest; last != nil && policy.RetryMinutes > 0 &&
		(last.Status == models.JobStatusFailed || last.Status == models.JobStatusCompleted) &&
		now.Before(last.CreatedAt.Add(policy.RetryInterval())) {
		return skipCooldown, nil
	}
	return "", nil
}
