package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/engagement-reseller/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newAdapter starts a miniredis that is closed with the test. Adapters are
// cached by connection name, so every test gets its own.
func newAdapter(t *testing.T) redis.RedisAdapter {
	t.Helper()
	mr := miniredis.RunT(t)
	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{Addrs: []string{mr.Addr()}})
	require.NoError(t, err)
	return adapter
}

func testConfig(name string) QueueConfig {
	return QueueConfig{
		Name:              name,
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      50 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	}
}

func TestQueue_PublishAndConsume(t *testing.T) {
	adapter := newAdapter(t)

	q, err := NewQueue(adapter, testConfig("test:queue"))
	require.NoError(t, err)
	defer q.Stop(time.Second)

	ctx := context.Background()
	_, err = q.PublishJSON(ctx, map[string]any{"kind": "low_credit", "user_id": 7}, map[string]string{"kind": "low_credit"})
	require.NoError(t, err)

	received := make(chan *Message, 1)
	err = q.Consume(func(ctx context.Context, msg *Message) error {
		received <- msg
		return nil
	})
	require.NoError(t, err)

	select {
	case msg := <-received:
		var event struct {
			Kind   string `json:"kind"`
			UserID int64  `json:"user_id"`
		}
		require.NoError(t, msg.Decode(&event))
		assert.Equal(t, "low_credit", event.Kind)
		assert.Equal(t, int64(7), event.UserID)
		assert.Equal(t, "low_credit", msg.Metadata["kind"])
		assert.Equal(t, 1, msg.Attempts)
		assert.WithinDuration(t, time.Now(), msg.Timestamp, 5*time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}

func TestQueue_ConsumeTwice(t *testing.T) {
	adapter := newAdapter(t)

	q, err := NewQueue(adapter, testConfig("test:twice"))
	require.NoError(t, err)
	defer q.Stop(time.Second)

	handler := func(ctx context.Context, msg *Message) error { return nil }
	require.NoError(t, q.Consume(handler))
	assert.ErrorIs(t, q.Consume(handler), ErrHasConsumer)
	assert.ErrorIs(t, (&Queue{}).Consume(nil), ErrNoHandler)
}

func TestQueue_GetStats(t *testing.T) {
	adapter := newAdapter(t)

	q, err := NewQueue(adapter, testConfig("test:stats:queue"))
	require.NoError(t, err)
	defer q.Stop(time.Second)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := q.PublishJSON(ctx, map[string]int{"count": i}, nil)
		require.NoError(t, err)
	}

	stats, err := q.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.TotalMessages)
	assert.Equal(t, int64(0), stats.ProcessedCount)
}

func TestQueue_FailedMessageIsNotAcked(t *testing.T) {
	adapter := newAdapter(t)

	q, err := NewQueue(adapter, testConfig("test:retry:queue"))
	require.NoError(t, err)
	defer q.Stop(time.Second)

	_, err = q.PublishJSON(context.Background(), map[string]string{"test": "retry"}, nil)
	require.NoError(t, err)

	var calls atomic.Int32
	require.NoError(t, q.Consume(func(ctx context.Context, msg *Message) error {
		calls.Add(1)
		return assert.AnError
	}))

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 20*time.Millisecond)

	stats, err := q.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PendingMessages)
	assert.GreaterOrEqual(t, stats.FailedCount, int64(1))
}

func TestQueueConfig_Validation(t *testing.T) {
	adapter := newAdapter(t)

	_, err := NewQueue(adapter, QueueConfig{})
	assert.ErrorIs(t, err, ErrNoName)

	_, err = NewQueue(nil, QueueConfig{Name: "x"})
	assert.ErrorIs(t, err, ErrNoAdapter)

	q, err := NewQueue(adapter, QueueConfig{Name: "defaults"})
	require.NoError(t, err)
	assert.Equal(t, "default-group", q.config.ConsumerGroup)
	assert.Equal(t, 3, q.config.MaxRetries)
	assert.Equal(t, 30*time.Second, q.config.VisibilityTimeout)
	assert.Equal(t, int64(10), q.config.BatchSize)
	assert.Equal(t, "defaults", q.Name())
}

func TestQueue_ConcurrentPublish(t *testing.T) {
	adapter := newAdapter(t)

	q, err := NewQueue(adapter, testConfig("test:concurrent"))
	require.NoError(t, err)
	defer q.Stop(time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := q.PublishJSON(context.Background(), map[string]int{"n": n}, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	var seen atomic.Int32
	require.NoError(t, q.Consume(func(ctx context.Context, msg *Message) error {
		seen.Add(1)
		return nil
	}))

	require.Eventually(t, func() bool { return seen.Load() == 20 }, 3*time.Second, 20*time.Millisecond)
}

func TestQueue_Stop(t *testing.T) {
	adapter := newAdapter(t)

	q, err := NewQueue(adapter, testConfig("test:stop"))
	require.NoError(t, err)
	require.NoError(t, q.Consume(func(ctx context.Context, msg *Message) error { return nil }))

	assert.NoError(t, q.Stop(time.Second))

	_, err = q.Publish(q.ctx, []byte("late"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_DeadLettersAfterMaxRetries(t *testing.T) {
	adapter := newAdapter(t)

	cfg := testConfig("test:dlq:queue")
	cfg.MaxRetries = 1
	cfg.VisibilityTimeout = 50 * time.Millisecond
	q, err := NewQueue(adapter, cfg)
	require.NoError(t, err)
	defer q.Stop(time.Second)

	_, err = q.PublishJSON(context.Background(), map[string]string{"kind": "low_credit"}, map[string]string{"kind": "low_credit"})
	require.NoError(t, err)

	var calls atomic.Int32
	require.NoError(t, q.Consume(func(ctx context.Context, msg *Message) error {
		calls.Add(1)
		assert.Equal(t, 1, msg.Attempts)
		return assert.AnError
	}))

	require.Eventually(t, func() bool {
		stats, err := q.GetStats()
		return err == nil && stats.DeadLettered == 1 && stats.PendingMessages == 0
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, int32(1), calls.Load())
	n, err := adapter.XLen(context.Background(), "test:dlq:queue:dlq")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
