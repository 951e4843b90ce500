// Package outcome folds asynchronous provider webhooks into call job state.
//
// Payloads are normalized at the boundary by ParseWebhook into a single
// Event union; the Ingestor only ever sees that canonical form.
package outcome

// Kind classifies a provider event
type Kind string

const (
	KindStatusUpdate    Kind = "status-update"
	KindTranscript      Kind = "transcript"
	KindEndOfCallReport Kind = "end-of-call-report"
	KindAnalysis        Kind = "analysis"
	KindUnknown         Kind = "unknown"
)

// Correlation carries every key a webhook may be matched to a job by
type Correlation struct {
	Shop           string
	JobID          string
	CheckoutID     string
	ProviderCallID string
}

// Event is a normalized provider webhook
type Event struct {
	Kind        Kind
	RawType     string
	Correlation Correlation

	// Sequence is the provider's timestamp or sequence number for the
	// message, empty when it sent neither.
	Sequence string

	// StatusUpdate
	Status string

	// Transcript carries a chunk for KindTranscript and the full text for
	// KindEndOfCallReport.
	Transcript      string
	TranscriptFinal bool

	EndedReason  string
	RecordingURL string

	// Analysis is set when the provider delivered structured analysis
	// itself, either as its own event or inside an end-of-call report.
	Analysis *Analysis
}
