package outcome

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"recovery-service/internal/redisclient"
	"recovery-service/internal/store"
	"recovery-service/internal/util"

	"go.uber.org/zap"
)

const webhookEventType = "PROVIDER_WEBHOOK"

// DeliveryGuard drops repeated webhook deliveries. Redis is the fast path;
// the processed_events log is used when Redis is absent or failing.
type DeliveryGuard struct {
	redis  *redisclient.Client
	events store.EventLog
	ttl    time.Duration
	logger *zap.Logger
}

// NewDeliveryGuard creates a guard; either backend may be nil
func NewDeliveryGuard(redis *redisclient.Client, events store.EventLog, ttl time.Duration) *DeliveryGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DeliveryGuard{
		redis:  redis,
		events: events,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// DeliveryKey derives the dedupe key of a webhook. A provider timestamp or
// sequence identifies the message together with its kind and call; without
// one the raw body does. A final transcript without either is not deduped
// (ok is false): an identical body may be the customer repeating themselves.
func DeliveryKey(ev Event, body []byte) (key string, ok bool) {
	h := sha256.New()
	switch {
	case ev.Sequence != "":
		h.Write([]byte(ev.Kind))
		h.Write([]byte{0})
		h.Write([]byte(ev.Correlation.ProviderCallID))
		h.Write([]byte{0})
		h.Write([]byte(ev.Correlation.JobID))
		h.Write([]byte{0})
		h.Write([]byte(ev.Sequence))
	case ev.Kind == KindTranscript && ev.TranscriptFinal:
		return "", false
	default:
		h.Write(body)
	}
	return "provider:" + hex.EncodeToString(h.Sum(nil)), true
}

// FirstDelivery records the key and reports whether it was new
func (g *DeliveryGuard) FirstDelivery(ctx context.Context, key string) (bool, error) {
	if g.redis != nil {
		fresh, err := g.redis.MarkSeen(ctx, key, g.ttl)
		if err == nil {
			return fresh, nil
		}
		g.logger.Warn("Redis dedupe failed, falling back to DB",
			zap.String("key", key),
			zap.Error(err))
	}

	if g.events == nil {
		return true, nil
	}

	processed, err := g.events.IsEventProcessed(ctx, key)
	if err != nil {
		return false, err
	}
	if processed {
		return false, nil
	}
	if err := g.events.MarkEventProcessed(ctx, key, webhookEventType); err != nil {
		return false, err
	}
	return true, nil
}
