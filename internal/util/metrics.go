package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsUpsertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkouts_upserted_total",
		Help: "Total number of checkouts received from the commerce platform",
	})

	CheckoutsAbandonedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkouts_abandoned_total",
		Help: "Total number of OPEN checkouts classified as abandoned",
	})

	CheckoutsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_closed_total",
		Help: "Total number of checkouts closed by an order",
	}, []string{"status"})

	RecoveredRevenueCents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recovered_revenue_cents_total",
		Help: "Order value attributed to recovery calls, in minor units",
	})

	JobsEnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_jobs_enqueued_total",
		Help: "Total number of call jobs created",
	})

	JobsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_jobs_enqueue_skipped_total",
		Help: "Candidates not enqueued, by reason",
	}, []string{"reason"})

	JobClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_job_claims_total",
		Help: "Claim attempts on due call jobs, by result",
	}, []string{"result"})

	CallsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calls_started_total",
		Help: "Total number of calls accepted by the provider",
	})

	CallsRetriedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calls_retry_scheduled_total",
		Help: "Total number of failed call attempts scheduled for retry",
	})

	CallsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calls_failed_total",
		Help: "Total number of call jobs that ended FAILED",
	}, []string{"reason"})

	CallsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calls_finished_total",
		Help: "Total number of call jobs reaching a terminal status",
	}, []string{"status"})

	ProviderCreateCallLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "provider_create_call_latency_seconds",
		Help:    "Latency of provider create-call requests",
		Buckets: prometheus.DefBuckets,
	})

	SummarizerLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "summarizer_latency_seconds",
		Help:    "Latency of transcript summarization requests",
		Buckets: prometheus.DefBuckets,
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_webhook_events_total",
		Help: "Provider webhook events received, by kind",
	}, []string{"kind"})

	WebhookDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provider_webhook_duplicates_total",
		Help: "Provider webhook deliveries dropped as duplicates",
	})

	WebhookCorrelationMissTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provider_webhook_correlation_miss_total",
		Help: "Provider webhook events that matched no call job",
	})

	SchedulerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_tick_duration_seconds",
		Help:    "Duration of a full classify, enqueue and dispatch tick",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
