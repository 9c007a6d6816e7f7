package notify

import (
	"context"
	"time"

	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/nimasrn/engagement-reseller/pkg/logger"
	"github.com/nimasrn/engagement-reseller/pkg/prom"
	"github.com/nimasrn/engagement-reseller/pkg/worker"
)

const publishTimeout = 5 * time.Second

type Producer interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

// Publisher hands events to a small worker pool that writes them to the
// stream. Callers never wait on redis and never see an error; an event that
// cannot be buffered or written is dropped and counted.
type Publisher struct {
	producer Producer
	workers  *worker.WorkerManager[Event]
}

func NewPublisher(producer Producer, bufferSize, workers int) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	p := &Publisher{producer: producer}
	p.workers = worker.NewWorkerManager("notify", bufferSize, workers, func(_ int, event Event) {
		p.publish(event)
	})
	return p
}

// Start runs the workers in the background.
func (p *Publisher) Start() {
	p.workers.Start()
}

// Close flushes buffered events and stops the workers.
func (p *Publisher) Close() {
	p.workers.Stop()
}

func (p *Publisher) LowCredit(_ context.Context, userID, balance, threshold int64) {
	p.enqueue(LowCreditEvent(userID, balance, threshold))
}

func (p *Publisher) OrderFailed(_ context.Context, order *model.Order, reason string) {
	if order == nil {
		return
	}
	p.enqueue(OrderFailedEvent(order, reason))
}

func (p *Publisher) enqueue(event Event) {
	if !p.workers.TryEnqueue(event) {
		prom.IncNotificationDropped(string(event.Kind))
		logger.Warn("Notification dropped, buffer full", "kind", event.Kind, "user_id", event.UserID)
	}
}

func (p *Publisher) publish(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if _, err := p.producer.PublishJSON(ctx, event, map[string]string{"kind": string(event.Kind)}); err != nil {
		prom.IncNotificationDropped(string(event.Kind))
		logger.Warn("Failed to publish notification", "kind", event.Kind, "user_id", event.UserID, "error", err)
	}
}
