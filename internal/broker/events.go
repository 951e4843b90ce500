package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"recovery-service/internal/models"
	"recovery-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher emits call lifecycle events for downstream consumers
type Publisher interface {
	PublishCallEvent(ctx context.Context, eventType string, job *models.CallJob) error
	PublishCheckoutClosed(ctx context.Context, event *models.CheckoutClosedEvent) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func checkoutKey(shop, checkoutID string) string {
	return fmt.Sprintf("checkout-%s-%s", shop, checkoutID)
}

// NewBaseEvent stamps a fresh event id and time
func NewBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// PublishCallEvent publishes a call job transition
func (ep *EventPublisher) PublishCallEvent(ctx context.Context, eventType string, job *models.CallJob) error {
	event := &models.CallJobEvent{
		BaseEvent:      NewBaseEvent(eventType),
		Shop:           job.Shop,
		JobID:          job.ID,
		CheckoutID:     job.CheckoutID,
		Status:         job.Status,
		Attempts:       job.Attempts,
		ScheduledFor:   job.ScheduledFor,
		ProviderCallID: job.ProviderCallID,
		Outcome:        job.Outcome,
	}
	return ep.producer.PublishEvent(ctx, checkoutKey(job.Shop, job.CheckoutID), event)
}

// PublishCheckoutClosed publishes CHECKOUT_RECOVERED or CHECKOUT_CONVERTED
func (ep *EventPublisher) PublishCheckoutClosed(ctx context.Context, event *models.CheckoutClosedEvent) error {
	return ep.producer.PublishEvent(ctx, checkoutKey(event.Shop, event.CheckoutID), event)
}

// NopPublisher drops every event; used when Kafka is disabled
type NopPublisher struct{}

func (NopPublisher) PublishCallEvent(context.Context, string, *models.CallJob) error { return nil }

func (NopPublisher) PublishCheckoutClosed(context.Context, *models.CheckoutClosedEvent) error {
	return nil
}

// EventHandler handles incoming commerce events
type EventHandler struct {
	onCheckoutUpserted func(context.Context, *models.CheckoutUpsertedEvent) error
	onOrderCreated     func(context.Context, *models.OrderCreatedEvent) error
	logger             *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnCheckoutUpserted registers a handler for CheckoutUpserted events
func (eh *EventHandler) OnCheckoutUpserted(handler func(context.Context, *models.CheckoutUpsertedEvent) error) {
	eh.onCheckoutUpserted = handler
}

// OnOrderCreated registers a handler for OrderCreated events
func (eh *EventHandler) OnOrderCreated(handler func(context.Context, *models.OrderCreatedEvent) error) {
	eh.onOrderCreated = handler
}

// HandleMessage routes messages to appropriate handlers. Messages that do not
// decode are logged and dropped; only handler errors are returned.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		eh.dropUndecodable(msg, "base", err)
		return nil
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeCheckoutUpserted:
		if eh.onCheckoutUpserted != nil {
			var event models.CheckoutUpsertedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				eh.dropUndecodable(msg, baseEvent.EventType, err)
				return nil
			}
			return eh.onCheckoutUpserted(ctx, &event)
		}

	case models.EventTypeOrderCreated:
		if eh.onOrderCreated != nil {
			var event models.OrderCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				eh.dropUndecodable(msg, baseEvent.EventType, err)
				return nil
			}
			return eh.onOrderCreated(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}

func (eh *EventHandler) dropUndecodable(msg kafka.Message, eventType string, err error) {
	eh.logger.Warn("Dropping undecodable event",
		zap.String("topic", msg.Topic),
		zap.Int64("offset", msg.Offset),
		zap.String("type", eventType),
		zap.Error(err))
}
