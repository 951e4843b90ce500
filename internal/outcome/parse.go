package outcome

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"recovery-service/internal/models"
)

type callPayload struct {
	ID                 string                 `json:"id"`
	Metadata           map[string]interface{} `json:"metadata"`
	AssistantOverrides *struct {
		Metadata map[string]interface{} `json:"metadata"`
	} `json:"assistantOverrides"`
}

type artifactPayload struct {
	Transcript   string `json:"transcript"`
	RecordingURL string `json:"recordingUrl"`
}

type messagePayload struct {
	Type           string                 `json:"type"`
	Status         string                 `json:"status"`
	Transcript     string                 `json:"transcript"`
	TranscriptType string                 `json:"transcriptType"`
	EndedReason    string                 `json:"endedReason"`
	RecordingURL   string                 `json:"recordingUrl"`
	Artifact       *artifactPayload       `json:"artifact"`
	Analysis       map[string]interface{} `json:"analysis"`
	Metadata       map[string]interface{} `json:"metadata"`
	CallID         string                 `json:"callId"`
	Call           *callPayload           `json:"call"`
	Timestamp      interface{}            `json:"timestamp"`
	Sequence       interface{}            `json:"sequence"`
}

// ParseWebhook normalizes a provider webhook body. Both the wrapped form
// {"message": {...}} and a bare message object are accepted. Only
// malformed JSON is an error; unrecognized shapes become KindUnknown.
func ParseWebhook(body []byte) (Event, error) {
	var envelope struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Event{}, fmt.Errorf("invalid webhook body: %w", err)
	}

	raw := body
	if len(envelope.Message) > 0 && envelope.Message[0] == '{' {
		raw = envelope.Message
	}

	var msg messagePayload
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{}, fmt.Errorf("invalid webhook message: %w", err)
	}

	ev := Event{
		RawType:     msg.Type,
		Correlation: correlationOf(&msg),
		Status:      strings.TrimSpace(msg.Status),
		EndedReason: strings.TrimSpace(msg.EndedReason),
		Sequence:    stringOf(msg.Sequence),
	}
	if ev.Sequence == "" {
		ev.Sequence = stringOf(msg.Timestamp)
	}

	switch typ := strings.ToLower(strings.TrimSpace(msg.Type)); {
	case typ == "status-update", typ == "" && ev.Status != "":
		ev.Kind = KindStatusUpdate

	case typ == "transcript" || strings.HasPrefix(typ, "transcript["):
		ev.Kind = KindTranscript
		ev.Transcript = strings.TrimSpace(msg.Transcript)
		// Providers that do not stream send whole utterances without a type.
		tt := strings.ToLower(msg.TranscriptType)
		ev.TranscriptFinal = tt == "" || tt == "final"

	case typ == "end-of-call-report":
		ev.Kind = KindEndOfCallReport
		ev.Transcript = strings.TrimSpace(msg.Transcript)
		ev.RecordingURL = strings.TrimSpace(msg.RecordingURL)
		if msg.Artifact != nil {
			if ev.Transcript == "" {
				ev.Transcript = strings.TrimSpace(msg.Artifact.Transcript)
			}
			if ev.RecordingURL == "" {
				ev.RecordingURL = strings.TrimSpace(msg.Artifact.RecordingURL)
			}
		}
		if len(msg.Analysis) > 0 {
			if a, ok := AnalysisFromMap(msg.Analysis); ok {
				ev.Analysis = &a
			}
		}

	case typ == "analysis" || typ == "structured-data" || typ == "call-analysis":
		ev.Kind = KindAnalysis
		if len(msg.Analysis) > 0 {
			if a, ok := AnalysisFromMap(msg.Analysis); ok {
				ev.Analysis = &a
			}
		} else {
			var whole map[string]interface{}
			if err := json.Unmarshal(raw, &whole); err == nil {
				delete(whole, "type")
				delete(whole, "call")
				delete(whole, "metadata")
				if a, ok := AnalysisFromMap(whole); ok {
					ev.Analysis = &a
				}
			}
		}

	default:
		ev.Kind = KindUnknown
	}

	return ev, nil
}

func correlationOf(msg *messagePayload) Correlation {
	meta := map[string]interface{}{}
	if msg.Call != nil {
		if msg.Call.AssistantOverrides != nil {
			mergeMeta(meta, msg.Call.AssistantOverrides.Metadata)
		}
		mergeMeta(meta, msg.Call.Metadata)
	}
	mergeMeta(meta, msg.Metadata)

	c := Correlation{
		Shop:       firstString(meta, "shop", "shopDomain"),
		JobID:      firstString(meta, "callJobId", "call_job_id", "jobId"),
		CheckoutID: firstString(meta, "checkoutId", "checkout_id"),
	}
	if msg.Call != nil {
		c.ProviderCallID = strings.TrimSpace(msg.Call.ID)
	}
	if c.ProviderCallID == "" {
		c.ProviderCallID = strings.TrimSpace(msg.CallID)
	}
	return c
}

func mergeMeta(dst, src map[string]interface{}) {
	for k, v := range src {
		dst[k] = v
	}
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s := stringOf(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func stringOf(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// MapStatus translates provider call status vocabulary into a job status.
// An ended call whose reason signals an error maps to FAILED.
func MapStatus(raw, endedReason string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "scheduled", "ringing", "in-progress", "in_progress", "forwarding":
		return models.JobStatusCalling, true
	case "ended", "completed":
		if IsErrorEndedReason(endedReason) {
			return models.JobStatusFailed, true
		}
		return models.JobStatusCompleted, true
	case "failed", "busy", "no-answer", "error":
		return models.JobStatusFailed, true
	case "canceled", "cancelled":
		return models.JobStatusCanceled, true
	}
	return "", false
}

// IsErrorEndedReason reports whether an ended reason means the call did not
// reach a conversation.
func IsErrorEndedReason(reason string) bool {
	r := strings.ToLower(reason)
	if r == "" {
		return false
	}
	for _, marker := range []string{"error", "failed", "fault", "busy", "did-not-answer", "no-answer"} {
		if strings.Contains(r, marker) {
			return true
		}
	}
	return false
}
