package outcome

import (
	"context"
	"errors"
	"fmt"
	"time"

	"recovery-service/internal/broker"
	"recovery-service/internal/models"
	"recovery-service/internal/store"
	"recovery-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// JobStore is the slice of the job repository the ingestor needs
type JobStore interface {
	GetJob(ctx context.Context, id string) (*models.CallJob, error)
	FindLatestJob(ctx context.Context, shop, checkoutID string) (*models.CallJob, error)
	FindJobByProviderCallID(ctx context.Context, providerCallID string) (*models.CallJob, error)
	ApplyWebhookStatus(ctx context.Context, id, status, outcome string, now time.Time) (bool, error)
	MergeOutcome(ctx context.Context, id string, patch store.OutcomePatch, now time.Time) error
}

// Summarizer turns a transcript into model output expected to hold analysis JSON
type Summarizer interface {
	Summarize(ctx context.Context, transcript, endedReason string) (string, error)
}

// Result reports what happened to one event
type Result struct {
	JobID   string `json:"job_id,omitempty"`
	Matched bool   `json:"matched"`
	Applied bool   `json:"applied"`
	Ignored string `json:"ignored,omitempty"`
}

type lookup struct {
	name string
	find func(ctx context.Context, c Correlation) (*models.CallJob, error)
}

// Ingestor folds provider events into call jobs
type Ingestor struct {
	jobs       JobStore
	summarizer Summarizer
	publisher  broker.Publisher
	strategies []lookup
	logger     *zap.Logger
	now        func() time.Time
}

// NewIngestor creates a new outcome ingestor; summarizer may be nil
func NewIngestor(jobs JobStore, summarizer Summarizer, publisher broker.Publisher) *Ingestor {
	if publisher == nil {
		publisher = broker.NopPublisher{}
	}
	in := &Ingestor{
		jobs:       jobs,
		summarizer: summarizer,
		publisher:  publisher,
		logger:     util.GetLogger(),
		now:        time.Now,
	}

	// Tried in order. The checkout fallback picks the newest job of the
	// checkout and can mis-correlate a late webhook for an older call.
	in.strategies = []lookup{
		{name: "job_id", find: in.byJobID},
		{name: "checkout_id", find: in.byCheckoutID},
		{name: "provider_call_id", find: in.byProviderCallID},
	}
	return in
}

func (in *Ingestor) byJobID(ctx context.Context, c Correlation) (*models.CallJob, error) {
	if c.JobID == "" {
		return nil, store.ErrNotFound
	}
	job, err := in.jobs.GetJob(ctx, c.JobID)
	if err != nil {
		return nil, err
	}
	if c.Shop != "" && job.Shop != c.Shop {
		return nil, store.ErrNotFound
	}
	return job, nil
}

func (in *Ingestor) byCheckoutID(ctx context.Context, c Correlation) (*models.CallJob, error) {
	if c.Shop == "" || c.CheckoutID == "" {
		return nil, store.ErrNotFound
	}
	return in.jobs.FindLatestJob(ctx, c.Shop, c.CheckoutID)
}

func (in *Ingestor) byProviderCallID(ctx context.Context, c Correlation) (*models.CallJob, error) {
	return in.jobs.FindJobByProviderCallID(ctx, c.ProviderCallID)
}

func (in *Ingestor) resolve(ctx context.Context, c Correlation) (*models.CallJob, string, error) {
	for _, s := range in.strategies {
		job, err := s.find(ctx, c)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("correlate by %s: %w", s.name, err)
		}
		return job, s.name, nil
	}
	return nil, "", store.ErrNotFound
}

// Handle applies one normalized event. Events that match no job, or a
// canceled job, are reported as ignored rather than as errors.
func (in *Ingestor) Handle(ctx context.Context, ev Event) (Result, error) {
	ctx, span := util.StartSpan(ctx, "Ingestor.Handle")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.kind", string(ev.Kind)))

	util.WebhookEventsTotal.WithLabelValues(string(ev.Kind)).Inc()

	job, via, err := in.resolve(ctx, ev.Correlation)
	if errors.Is(err, store.ErrNotFound) {
		util.WebhookCorrelationMissTotal.Inc()
		in.logger.Info("Webhook matched no call job",
			zap.String("kind", string(ev.Kind)),
			zap.String("job_id", ev.Correlation.JobID),
			zap.String("checkout_id", ev.Correlation.CheckoutID),
			zap.String("provider_call_id", ev.Correlation.ProviderCallID))
		return Result{Ignored: "no matching job"}, nil
	}
	if err != nil {
		return Result{}, err
	}

	res := Result{JobID: job.ID, Matched: true}
	if job.Status == models.JobStatusCanceled {
		res.Ignored = "job canceled"
		return res, nil
	}

	in.logger.Debug("Webhook correlated",
		zap.String("job_id", job.ID),
		zap.String("via", via),
		zap.String("kind", string(ev.Kind)))

	switch ev.Kind {
	case KindStatusUpdate:
		err = in.applyStatus(ctx, job, ev, &res)
	case KindTranscript:
		err = in.appendTranscript(ctx, job, ev, &res)
	case KindEndOfCallReport:
		err = in.applyReport(ctx, job, ev, &res)
	case KindAnalysis:
		err = in.applyAnalysis(ctx, job, ev, &res)
	default:
		outcome := ev.RawType
		if outcome == "" {
			outcome = string(KindUnknown)
		}
		err = in.jobs.MergeOutcome(ctx, job.ID, store.OutcomePatch{Outcome: outcome}, in.now())
		res.Applied = err == nil
	}
	return res, err
}

func (in *Ingestor) applyStatus(ctx context.Context, job *models.CallJob, ev Event, res *Result) error {
	outcome := "status: " + ev.Status
	target, ok := MapStatus(ev.Status, ev.EndedReason)
	if !ok {
		res.Applied = true
		return in.jobs.MergeOutcome(ctx, job.ID, store.OutcomePatch{Outcome: outcome}, in.now())
	}

	applied, err := in.jobs.ApplyWebhookStatus(ctx, job.ID, target, outcome, in.now())
	if err != nil {
		return err
	}
	res.Applied = applied
	if !applied {
		res.Ignored = fmt.Sprintf("status %s not applicable to %s job", target, job.Status)
		return nil
	}

	if ev.EndedReason != "" {
		if err := in.jobs.MergeOutcome(ctx, job.ID, store.OutcomePatch{EndedReason: ev.EndedReason}, in.now()); err != nil {
			return err
		}
	}
	if models.IsTerminalJobStatus(target) && !models.IsTerminalJobStatus(job.Status) {
		in.finished(ctx, job.ID, target)
	}
	return nil
}

func (in *Ingestor) appendTranscript(ctx context.Context, job *models.CallJob, ev Event, res *Result) error {
	if !ev.TranscriptFinal || ev.Transcript == "" {
		res.Ignored = "partial transcript"
		return nil
	}
	res.Applied = true
	return in.jobs.MergeOutcome(ctx, job.ID, store.OutcomePatch{AppendTranscript: ev.Transcript}, in.now())
}

func (in *Ingestor) applyReport(ctx context.Context, job *models.CallJob, ev Event, res *Result) error {
	status, outcome := models.JobStatusCompleted, "CALL_COMPLETED"
	if IsErrorEndedReason(ev.EndedReason) {
		status = models.JobStatusFailed
	}
	if ev.EndedReason != "" {
		outcome = "ENDED: " + ev.EndedReason
	}

	applied, err := in.jobs.ApplyWebhookStatus(ctx, job.ID, status, outcome, in.now())
	if err != nil {
		return err
	}
	if !applied {
		res.Ignored = "job closed"
		return nil
	}
	res.Applied = true

	patch := store.OutcomePatch{
		EndedReason:  ev.EndedReason,
		RecordingURL: ev.RecordingURL,
		Transcript:   ev.Transcript,
	}

	analysis := ev.Analysis
	if ev.Transcript != "" && in.summarizer != nil {
		if a, ok := in.summarize(ctx, job.ID, ev.Transcript, ev.EndedReason); ok || analysis == nil {
			analysis = &a
		}
	}
	if analysis != nil {
		foldAnalysis(&patch, *analysis)
	}

	if err := in.jobs.MergeOutcome(ctx, job.ID, patch, in.now()); err != nil {
		return err
	}
	if !models.IsTerminalJobStatus(job.Status) {
		in.finished(ctx, job.ID, status)
	}
	return nil
}

// summarize is best effort; a failed call yields an empty analysis
func (in *Ingestor) summarize(ctx context.Context, jobID, transcript, endedReason string) (Analysis, bool) {
	text, err := in.summarizer.Summarize(ctx, transcript, endedReason)
	if err != nil {
		in.logger.Warn("Transcript summarization failed",
			zap.String("job_id", jobID),
			zap.Error(err))
		return Analysis{}, false
	}
	a, ok := ParseAnalysisText(text)
	if !ok {
		in.logger.Info("Summarizer reply was not JSON, keeping raw text", zap.String("job_id", jobID))
	}
	return a, ok
}

func (in *Ingestor) applyAnalysis(ctx context.Context, job *models.CallJob, ev Event, res *Result) error {
	if ev.Analysis == nil {
		res.Ignored = "empty analysis"
		return nil
	}
	var patch store.OutcomePatch
	foldAnalysis(&patch, *ev.Analysis)
	res.Applied = true
	return in.jobs.MergeOutcome(ctx, job.ID, patch, in.now())
}

func foldAnalysis(p *store.OutcomePatch, a Analysis) {
	p.Sentiment = a.Sentiment
	p.TagsCSV = a.TagsCSV()
	p.Reason = a.Reason
	p.NextAction = a.NextAction
	p.FollowUp = a.FollowUp
	p.AnalysisJSON = a.Source
}

func (in *Ingestor) finished(ctx context.Context, jobID, status string) {
	util.CallsFinishedTotal.WithLabelValues(status).Inc()

	job, err := in.jobs.GetJob(ctx, jobID)
	if err != nil {
		in.logger.Warn("Failed to reload finished job", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if err := in.publisher.PublishCallEvent(ctx, models.EventTypeCallFinished, job); err != nil {
		in.logger.Error("Failed to publish CallFinished event",
			zap.String("job_id", jobID),
			zap.Error(err))
	}
}
