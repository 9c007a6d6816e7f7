package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimasrn/engagement-reseller/pkg/logger"
	"github.com/nimasrn/engagement-reseller/pkg/redis"
)

const (
	fieldData      = "data"
	fieldPublished = "published_at"
	metaPrefix     = "meta_"

	// reclaimScan bounds how many pending entries one tick inspects.
	reclaimScan = 100
)

var (
	ErrNoAdapter   = errors.New("queue: redis adapter is required")
	ErrNoName      = errors.New("queue: name is required")
	ErrNoHandler   = errors.New("queue: message handler is required")
	ErrHasConsumer = errors.New("queue: consumer already running")
	ErrStopTimeout = errors.New("queue: timed out waiting for the consumer to stop")
)

// Message is one stream entry handed to a consumer.
type Message struct {
	ID        string
	Data      []byte
	Metadata  map[string]string
	Timestamp time.Time
	// Attempts counts deliveries of this entry, the current one included.
	Attempts int
}

// Decode unmarshals the JSON payload into dst.
func (m *Message) Decode(dst any) error {
	return json.Unmarshal(m.Data, dst)
}

// MessageHandler processes one message. A nil error acks it; an error leaves
// it pending until another consumer tick reclaims it after VisibilityTimeout.
type MessageHandler func(ctx context.Context, msg *Message) error

type QueueConfig struct {
	Name          string
	ConsumerGroup string
	ConsumerName  string
	// MaxRetries is the number of deliveries an entry gets before it goes to
	// the dead letter stream.
	MaxRetries        int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	MaxLen            int64
	EnableDLQ         bool
}

func (c *QueueConfig) applyDefaults() {
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "default-group"
	}
	if c.ConsumerName == "" {
		c.ConsumerName = "consumer-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
}

func (c QueueConfig) deadLetterStream() string {
	return c.Name + ":dlq"
}

// Queue is a redis stream with one consumer group. Retry state lives in the
// group's pending list, so a restarted consumer picks up where it stopped.
type Queue struct {
	adapter redis.RedisAdapter
	config  QueueConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	handlerMu sync.Mutex
	handler   MessageHandler

	processed atomic.Int64
	failed    atomic.Int64
	dead      atomic.Int64
}

type QueueStats struct {
	TotalMessages   int64
	PendingMessages int64
	ProcessedCount  int64
	FailedCount     int64
	DeadLettered    int64
	ConsumerCount   int64
}

func NewQueue(adapter redis.RedisAdapter, config QueueConfig) (*Queue, error) {
	if adapter == nil {
		return nil, ErrNoAdapter
	}
	if config.Name == "" {
		return nil, ErrNoName
	}
	config.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{adapter: adapter, config: config, ctx: ctx, cancel: cancel}

	if err := adapter.XEnsureGroup(ctx, config.Name, config.ConsumerGroup); err != nil {
		logger.Warn("queue: consumer group not created", "queue", config.Name, "group", config.ConsumerGroup, "error", err)
	}
	return q, nil
}

func (q *Queue) Name() string {
	return q.config.Name
}

// Publish appends data with its metadata. It fails once the queue is stopped.
func (q *Queue) Publish(ctx context.Context, data []byte, metadata map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	values := make(map[string]interface{}, len(metadata)+2)
	values[fieldData] = string(data)
	values[fieldPublished] = time.Now().UnixMilli()
	for k, v := range metadata {
		values[metaPrefix+k] = v
	}

	id, err := q.adapter.XAdd(ctx, q.config.Name, q.config.MaxLen, values)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", q.config.Name, err)
	}
	return id, nil
}

// PublishJSON marshals v and publishes it.
func (q *Queue) PublishJSON(ctx context.Context, v interface{}, metadata map[string]string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	return q.Publish(ctx, data, metadata)
}

// Consume starts polling in the background. A queue has at most one handler.
func (q *Queue) Consume(handler MessageHandler) error {
	if handler == nil {
		return ErrNoHandler
	}
	q.handlerMu.Lock()
	defer q.handlerMu.Unlock()
	if q.handler != nil {
		return ErrHasConsumer
	}
	q.handler = handler

	q.wg.Add(1)
	go q.run()
	return nil
}

func (q *Queue) run() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.readNew()
			q.reclaim()
		}
	}
}

func (q *Queue) readNew() {
	entries, err := q.adapter.XReadNew(q.ctx, q.config.Name, q.config.ConsumerGroup, q.config.ConsumerName, q.config.BatchSize)
	if err != nil {
		if !errors.Is(err, redis.NilError) && q.ctx.Err() == nil {
			logger.Warn("queue: read failed", "queue", q.config.Name, "error", err)
		}
		return
	}
	for _, e := range entries {
		q.deliver(q.decodeEntry(e), 1)
	}
}

// reclaim takes over entries whose handler failed or whose consumer died.
func (q *Queue) reclaim() {
	pending, err := q.adapter.XPendingEntries(q.ctx, q.config.Name, q.config.ConsumerGroup, reclaimScan)
	if err != nil || len(pending) == 0 {
		return
	}

	deliveries := make(map[string]int64, len(pending))
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		if p.Idle < q.config.VisibilityTimeout {
			continue
		}
		deliveries[p.ID] = p.Deliveries
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return
	}

	claimed, err := q.adapter.XClaim(q.ctx, q.config.Name, q.config.ConsumerGroup, q.config.ConsumerName, q.config.VisibilityTimeout, ids...)
	if err != nil {
		logger.Warn("queue: claim failed", "queue", q.config.Name, "count", len(ids), "error", err)
		return
	}
	for _, e := range claimed {
		// the claim itself is one more delivery
		q.deliver(q.decodeEntry(e), deliveries[e.ID]+1)
	}
}

func (q *Queue) deliver(msg *Message, attempt int64) {
	msg.Attempts = int(attempt)
	if msg.Attempts > q.config.MaxRetries {
		q.deadLetter(msg)
		return
	}

	ctx, cancel := context.WithTimeout(q.ctx, q.config.VisibilityTimeout)
	defer cancel()

	if err := q.handler(ctx, msg); err != nil {
		q.failed.Add(1)
		logger.Warn("queue: handler failed, message stays pending", "queue", q.config.Name, "id", msg.ID, "attempt", msg.Attempts, "error", err)
		return
	}
	q.processed.Add(1)
	q.ack(msg.ID)
}

func (q *Queue) ack(id string) {
	if err := q.adapter.XAck(q.ctx, q.config.Name, q.config.ConsumerGroup, id); err != nil {
		logger.Warn("queue: ack failed", "queue", q.config.Name, "id", id, "error", err)
	}
}

// deadLetter copies msg to the dead letter stream, when enabled, and acks it
// on the main stream either way.
func (q *Queue) deadLetter(msg *Message) {
	outcome := "dropped"
	if q.config.EnableDLQ {
		values := map[string]interface{}{
			fieldData:        string(msg.Data),
			"original_id":    msg.ID,
			"original_queue": q.config.Name,
			"attempts":       msg.Attempts - 1,
			"failed_at":      time.Now().UnixMilli(),
		}
		for k, v := range msg.Metadata {
			values[metaPrefix+k] = v
		}
		if _, err := q.adapter.XAdd(q.ctx, q.config.deadLetterStream(), 0, values); err != nil {
			logger.Error("queue: dead letter publish failed", "queue", q.config.Name, "id", msg.ID, "error", err)
			return
		}
		outcome = "dead_lettered"
	}

	q.dead.Add(1)
	q.ack(msg.ID)
	logger.Warn("queue: giving up on message", "queue", q.config.Name, "id", msg.ID, "deliveries", msg.Attempts-1, "outcome", outcome)
}

func (q *Queue) decodeEntry(e redis.StreamMessage) *Message {
	msg := &Message{ID: e.ID, Metadata: make(map[string]string)}

	for k, v := range e.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch {
		case k == fieldData:
			msg.Data = []byte(s)
		case k == fieldPublished:
			if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
				msg.Timestamp = time.UnixMilli(ms)
			}
		case strings.HasPrefix(k, metaPrefix):
			msg.Metadata[strings.TrimPrefix(k, metaPrefix)] = s
		}
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return msg
}

// Stop cancels the consumer and waits up to timeout for the in-flight
// message. Publishing fails afterwards.
func (q *Queue) Stop(timeout time.Duration) error {
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

func (q *Queue) GetStats() (*QueueStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	total, err := q.adapter.XLen(ctx, q.config.Name)
	if err != nil {
		return nil, err
	}

	stats := &QueueStats{
		TotalMessages:  total,
		ProcessedCount: q.processed.Load(),
		FailedCount:    q.failed.Load(),
		DeadLettered:   q.dead.Load(),
	}
	if pending, consumers, err := q.adapter.XPendingCount(ctx, q.config.Name, q.config.ConsumerGroup); err == nil {
		stats.PendingMessages = pending
		stats.ConsumerCount = consumers
	}
	return stats, nil
}
