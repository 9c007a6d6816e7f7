package notify

import (
	"context"
	"fmt"

	"github.com/nimasrn/engagement-reseller/internal/queue"
	"github.com/nimasrn/engagement-reseller/pkg/logger"
)

// Sink delivers an event to whoever should hear about it.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
}

type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Deliver(ctx context.Context, event Event) error { return f(ctx, event) }

// LogSink writes events to the application log. It is the default until a
// mail or webhook sink exists.
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, event Event) error {
	switch event.Kind {
	case KindLowCredit:
		logger.Warn("User credit is low", "user_id", event.UserID, "balance", event.Balance, "threshold", event.Threshold)
	case KindOrderFailed:
		logger.Warn("Order failed", "user_id", event.UserID, "order_id", event.OrderID, "api_order_id", event.APIOrderID, "status", event.Status, "reason", event.Reason)
	default:
		logger.Info("Notification", "kind", event.Kind, "user_id", event.UserID)
	}
	return nil
}

type Subscriber interface {
	Consume(handler queue.MessageHandler) error
}

type Consumer struct {
	subscriber Subscriber
	sink       Sink
}

func NewConsumer(subscriber Subscriber, sink Sink) *Consumer {
	if sink == nil {
		sink = LogSink{}
	}
	return &Consumer{
		subscriber: subscriber,
		sink:       sink,
	}
}

func (c *Consumer) Start() error {
	return c.subscriber.Consume(c.Handle)
}

// Handle decodes one stream message. Undecodable messages are acked and
// logged; a sink error leaves the message pending for redelivery.
func (c *Consumer) Handle(ctx context.Context, msg *queue.Message) error {
	var event Event
	if err := msg.Decode(&event); err != nil {
		logger.Error("Discarding malformed notification", "message_id", msg.ID, "error", err)
		return nil
	}
	if err := c.sink.Deliver(ctx, event); err != nil {
		return fmt.Errorf("deliver %s: %w", event.Kind, err)
	}
	return nil
}
