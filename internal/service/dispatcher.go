package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"recovery-service/internal/broker"
	"recovery-service/internal/models"
	"recovery-service/internal/provider"
	"recovery-service/internal/schedule"
	"recovery-service/internal/store"
	"recovery-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	defaultDispatchLimit = 10
	maxDispatchLimit     = 200
	maxErrorOutcomeLen   = 240
)

// DispatchOptions bounds one dispatcher run
type DispatchOptions struct {
	Shop  string        // empty runs across all shops
	Limit int           // max jobs selected
	Grace time.Duration // forward window absorbing scheduler jitter
}

// DispatchResult counts what one run did
type DispatchResult struct {
	Processed int `json:"processed"`
	Started   int `json:"started"`
	Completed int `json:"completed"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Add accumulates another run's counts
func (r *DispatchResult) Add(o DispatchResult) {
	r.Processed += o.Processed
	r.Started += o.Started
	r.Completed += o.Completed
	r.Retried += o.Retried
	r.Failed += o.Failed
	r.Skipped += o.Skipped
	r.Errors += o.Errors
}

type dispatchOutcome int

const (
	outcomeSkipped dispatchOutcome = iota
	outcomeStarted
	outcomeCompleted
	outcomeRetried
	outcomeFailed
)

// Dispatcher claims due jobs and places their calls
type Dispatcher struct {
	jobs      store.JobRepository
	checkouts store.CheckoutRepository
	settings  store.SettingsRepository
	caller    provider.Caller
	publisher broker.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewDispatcher creates a new job dispatcher
func NewDispatcher(
	jobs store.JobRepository,
	checkouts store.CheckoutRepository,
	settings store.SettingsRepository,
	caller provider.Caller,
	publisher broker.Publisher,
) *Dispatcher {
	if publisher == nil {
		publisher = broker.NopPublisher{}
	}
	return &Dispatcher{
		jobs:      jobs,
		checkouts: checkouts,
		settings:  settings,
		caller:    caller,
		publisher: publisher,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// RunDue processes due QUEUED jobs earliest first. Each job is handled
// independently; a failing job is recorded on its row and never aborts the run.
func (d *Dispatcher) RunDue(ctx context.Context, opts DispatchOptions) (*DispatchResult, error) {
	ctx, span := util.StartSpan(ctx, "Dispatcher.RunDue")
	defer span.End()

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultDispatchLimit
	}
	if limit > maxDispatchLimit {
		limit = maxDispatchLimit
	}

	span.SetAttributes(attribute.String("shop", opts.Shop), attribute.Int("limit", limit))

	due, err := d.jobs.ListDueJobs(ctx, opts.Shop, d.now().Add(opts.Grace), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due jobs: %w", err)
	}

	res := &DispatchResult{}
	settingsByShop := make(map[string]*models.Settings)

	for i := range due {
		// Unclaimed jobs stay QUEUED for the next run.
		if ctx.Err() != nil {
			d.logger.Info("Dispatch interrupted", zap.Int("remaining", len(due)-i))
			break
		}
		job := &due[i]
		res.Processed++

		st, ok := settingsByShop[job.Shop]
		if !ok {
			st, err = d.settings.GetOrCreateSettings(ctx, job.Shop)
			if err != nil {
				util.LoggerFor(ctx).Error("Failed to load settings", zap.String("shop", job.Shop), zap.Error(err))
				res.Errors++
				continue
			}
			settingsByShop[job.Shop] = st
		}

		outcome, err := d.dispatchOne(ctx, job, st)
		if err != nil {
			util.LoggerFor(ctx).Error("Failed to dispatch call job",
				zap.String("job_id", job.ID),
				zap.Error(err))
			res.Errors++
			continue
		}

		switch outcome {
		case outcomeStarted:
			res.Started++
		case outcomeCompleted:
			res.Completed++
		case outcomeRetried:
			res.Retried++
		case outcomeFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}

	return res, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, job *models.CallJob, st *models.Settings) (dispatchOutcome, error) {
	policy := schedule.PolicyFromSettings(*st)

	// Configuration problems leave the job queued; it is not an attempt.
	if !st.Enabled {
		_, err := d.jobs.SetQueuedOutcome(ctx, job.ID, "PAUSED: calling disabled for shop", d.now())
		return outcomeSkipped, err
	}
	if !d.caller.Configured(st.AssistantID, st.PhoneNumberID) {
		_, err := d.jobs.SetQueuedOutcome(ctx, job.ID,
			"CONFIG_MISSING: provider credentials or shop assistant/phone number not set", d.now())
		return outcomeSkipped, err
	}

	claimed, err := d.jobs.ClaimJob(ctx, job.ID, d.now())
	if err != nil {
		return outcomeSkipped, err
	}
	if !claimed {
		util.JobClaimsTotal.WithLabelValues("lost").Inc()
		return outcomeSkipped, nil
	}
	util.JobClaimsTotal.WithLabelValues("won").Inc()
	job.Status = models.JobStatusCalling
	job.Attempts++

	checkout, err := d.checkouts.GetCheckout(ctx, job.Shop, job.CheckoutID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return d.handleFailure(ctx, job, policy, err)
	}
	if checkout == nil || checkout.Status != models.CheckoutStatusAbandoned {
		_, err := d.jobs.FinishJob(ctx, job.ID, models.JobStatusCalling, models.JobStatusCanceled, "CHECKOUT_NOT_ELIGIBLE", d.now())
		return outcomeSkipped, err
	}

	req, err := BuildCallRequest(st, checkout, job)
	if err != nil {
		return d.handleFailure(ctx, job, policy, err)
	}

	start := time.Now()
	result, err := d.caller.CreateCall(ctx, req)
	util.ProviderCreateCallLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return d.handleFailure(ctx, job, policy, err)
	}

	if _, err := d.jobs.RecordProviderCall(ctx, job.ID, d.caller.Name(), result.ProviderCallID, d.now()); err != nil {
		return outcomeSkipped, err
	}
	job.Provider, job.ProviderCallID = d.caller.Name(), result.ProviderCallID

	if models.IsTerminalJobStatus(result.Status) {
		outcome := result.Outcome
		if outcome == "" {
			outcome = "CALL_" + result.Status
		}
		ok, err := d.jobs.FinishJob(ctx, job.ID, models.JobStatusCalling, result.Status, outcome, d.now())
		if err != nil || !ok {
			return outcomeSkipped, err
		}
		job.Status, job.Outcome = result.Status, outcome
		util.CallsFinishedTotal.WithLabelValues(result.Status).Inc()
		d.publish(ctx, models.EventTypeCallFinished, job)
		if result.Status == models.JobStatusCompleted {
			return outcomeCompleted, nil
		}
		return outcomeFailed, nil
	}

	util.CallsStartedTotal.Inc()
	d.logger.Info("Call started",
		zap.String("job_id", job.ID),
		zap.String("provider_call_id", result.ProviderCallID),
		zap.Int("attempt", job.Attempts))
	d.publish(ctx, models.EventTypeCallStarted, job)
	return outcomeStarted, nil
}

// handleFailure retries the job or fails it once attempts reach the cap.
// Attempts are re-read since the claim already counted this try.
func (d *Dispatcher) handleFailure(ctx context.Context, job *models.CallJob, policy schedule.Policy, cause error) (dispatchOutcome, error) {
	current, err := d.jobs.GetJob(ctx, job.ID)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("failed to reload job after provider error: %w", err)
	}
	now := d.now()

	if current.Attempts >= policy.MaxAttempts {
		outcome := truncateOutcome("ERROR: " + cause.Error())
		ok, err := d.jobs.FinishJob(ctx, job.ID, models.JobStatusCalling, models.JobStatusFailed, outcome, now)
		if err != nil || !ok {
			return outcomeSkipped, err
		}
		util.CallsFailedTotal.WithLabelValues("max_attempts").Inc()
		util.CallsFinishedTotal.WithLabelValues(models.JobStatusFailed).Inc()
		d.logger.Warn("Call job failed permanently",
			zap.String("job_id", job.ID),
			zap.Int("attempts", current.Attempts),
			zap.Error(cause))

		current.Status, current.Outcome = models.JobStatusFailed, outcome
		d.publish(ctx, models.EventTypeCallFinished, current)
		return outcomeFailed, nil
	}

	outcome := fmt.Sprintf("RETRY_SCHEDULED in %dm", policy.RetryMinutes)
	next := now.Add(policy.RetryInterval())
	ok, err := d.jobs.RetryJob(ctx, job.ID, next, outcome, now)
	if err != nil || !ok {
		return outcomeSkipped, err
	}
	util.CallsRetriedTotal.Inc()
	d.logger.Info("Call attempt failed, retry scheduled",
		zap.String("job_id", job.ID),
		zap.Int("attempts", current.Attempts),
		zap.Time("scheduled_for", next),
		zap.Error(cause))

	current.Status, current.Outcome, current.ScheduledFor = models.JobStatusQueued, outcome, next
	d.publish(ctx, models.EventTypeCallRetryScheduled, current)
	return outcomeRetried, nil
}

func (d *Dispatcher) publish(ctx context.Context, eventType string, job *models.CallJob) {
	if err := d.publisher.PublishCallEvent(ctx, eventType, job); err != nil {
		d.logger.Error("Failed to publish call event",
			zap.String("type", eventType),
			zap.String("job_id", job.ID),
			zap.Error(err))
	}
}

func truncateOutcome(s string) string {
	if len(s) <= maxErrorOutcomeLen {
		return s
	}
	return util.TruncateUTF8(s, maxErrorOutcomeLen-3) + "..."
}
