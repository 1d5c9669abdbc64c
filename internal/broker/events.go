package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes storefront domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderPlaced publishes an OrderPlaced event
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishOrderFulfilled publishes an OrderFulfilled event
func (ep *EventPublisher) PublishOrderFulfilled(ctx context.Context, event *models.OrderFulfilledEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishFulfillmentFailed publishes a FulfillmentFailed event. These
// carry the session key since no order exists to key on.
func (ep *EventPublisher) PublishFulfillmentFailed(ctx context.Context, event *models.FulfillmentFailedEvent) error {
	key := fmt.Sprintf("session-%s", event.CheckoutSessionID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes incoming order events to registered handlers
type EventHandler struct {
	logger           *zap.Logger
	onOrderPlaced    func(context.Context, *models.OrderPlacedEvent) error
	onOrderFulfilled func(context.Context, *models.OrderFulfilledEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderPlaced registers a handler for OrderPlaced events
func (eh *EventHandler) OnOrderPlaced(handler func(context.Context, *models.OrderPlacedEvent) error) {
	eh.onOrderPlaced = handler
}

// OnOrderFulfilled registers a handler for OrderFulfilled events
func (eh *EventHandler) OnOrderFulfilled(handler func(context.Context, *models.OrderFulfilledEvent) error) {
	eh.onOrderFulfilled = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderPlaced:
		if eh.onOrderPlaced != nil {
			var event models.OrderPlacedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderPlaced event: %w", err)
			}
			return eh.onOrderPlaced(ctx, &event)
		}

	case models.EventTypeOrderFulfilled:
		if eh.onOrderFulfilled != nil {
			var event models.OrderFulfilledEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderFulfilled event: %w", err)
			}
			return eh.onOrderFulfilled(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
