package redis

import (
	"context"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

var NilError = goredis.Nil

type Options = goredis.UniversalOptions

// StreamMessage is one stream entry. Deliveries is 1 for a fresh read and 0
// when the call does not report it.
type StreamMessage struct {
	ID         string
	Values     map[string]interface{}
	Deliveries int64
}

// PendingEntry is an entry delivered to a consumer and not acknowledged yet.
type PendingEntry struct {
	ID         string
	Consumer   string
	Idle       time.Duration
	Deliveries int64
}

type RedisAdapter interface {
	// Key operations
	Set(key string, value []byte, ttl time.Duration) error
	SetNX(key string, value []byte, ttl time.Duration) (bool, error)
	Get(key string) ([]byte, error)
	CompareAndDelete(key string, expected []byte) (bool, error)
	Ping(ctx context.Context) error

	// Stream operations
	XAdd(ctx context.Context, stream string, maxLen int64, values map[string]interface{}) (string, error)
	XEnsureGroup(ctx context.Context, stream, group string) error
	XReadNew(ctx context.Context, stream, group, consumer string, count int64) ([]StreamMessage, error)
	XAck(ctx context.Context, stream, group string, ids ...string) error
	XLen(ctx context.Context, stream string) (int64, error)
	XPendingCount(ctx context.Context, stream, group string) (count int64, consumers int64, err error)
	XPendingEntries(ctx context.Context, stream, group string, count int64) ([]PendingEntry, error)
	XClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]StreamMessage, error)
}

type redisAdapter struct {
	prefix   string
	Conn     goredis.UniversalClient
	ConnName string
}

var redisLock = &sync.RWMutex{}
var redisInstance map[string]RedisAdapter

// compare-and-delete, so a lock holder never removes a lock that expired and
// was taken by someone else
var compareAndDeleteScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisAdapter connects once per connName; later calls with the same name
// return the first adapter and ignore their options.
func NewRedisAdapter(connName string, keysPrefix string, opts *goredis.UniversalOptions) (RedisAdapter, error) {
	redisLock.RLock()
	if redisInstance != nil {
		if adapter, ok := redisInstance[connName]; ok {
			redisLock.RUnlock()
			return adapter, nil
		}
	}
	redisLock.RUnlock()

	c := goredis.NewUniversalClient(opts)
	if cmd := c.Ping(context.Background()); cmd.Err() != nil {
		return nil, cmd.Err()
	}

	adapter := &redisAdapter{
		Conn:     c,
		prefix:   keysPrefix,
		ConnName: connName,
	}

	redisLock.Lock()
	defer redisLock.Unlock()
	if redisInstance == nil {
		redisInstance = make(map[string]RedisAdapter)
	}
	if existing, ok := redisInstance[connName]; ok {
		_ = c.Close()
		return existing, nil
	}
	redisInstance[connName] = adapter

	return adapter, nil
}

func (r *redisAdapter) Set(key string, value []byte, ttl time.Duration) error {
	return r.Conn.Set(context.Background(), r.prefix+key, value, ttl).Err()
}

func (r *redisAdapter) SetNX(key string, value []byte, ttl time.Duration) (bool, error) {
	cmd := r.Conn.SetNX(context.Background(), r.prefix+key, value, ttl)
	if cmd.Err() != nil {
		return false, cmd.Err()
	}
	return cmd.Val(), nil
}

func (r *redisAdapter) Get(key string) ([]byte, error) {
	cmd := r.Conn.Get(context.Background(), r.prefix+key)
	if cmd.Err() != nil {
		return nil, cmd.Err()
	}
	return cmd.Bytes()
}

func (r *redisAdapter) CompareAndDelete(key string, expected []byte) (bool, error) {
	n, err := compareAndDeleteScript.Run(context.Background(), r.Conn, []string{r.prefix + key}, expected).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *redisAdapter) Ping(ctx context.Context) error {
	return r.Conn.Ping(ctx).Err()
}

// XAdd appends an entry. A positive maxLen trims the stream approximately in
// the same command.
func (r *redisAdapter) XAdd(ctx context.Context, stream string, maxLen int64, values map[string]interface{}) (string, error) {
	args := &goredis.XAddArgs{
		Stream: r.prefix + stream,
		ID:     "*",
		Values: values,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	return r.Conn.XAdd(ctx, args).Result()
}

// XEnsureGroup creates the group reading from the start of the stream, and the
// stream itself when missing. An existing group is not an error.
func (r *redisAdapter) XEnsureGroup(ctx context.Context, stream, group string) error {
	err := r.Conn.XGroupCreateMkStream(ctx, r.prefix+stream, group, "0").Err()
	if err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

// XReadNew reads entries never delivered to the group. It does not block; an
// empty stream answers NilError.
func (r *redisAdapter) XReadNew(ctx context.Context, stream, group, consumer string, count int64) ([]StreamMessage, error) {
	res, err := r.Conn.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{r.prefix + stream, ">"},
		Count:    count,
		Block:    -1,
	}).Result()
	if err != nil {
		return nil, err
	}

	var out []StreamMessage
	for _, s := range res {
		for _, m := range s.Messages {
			out = append(out, StreamMessage{ID: m.ID, Values: m.Values, Deliveries: 1})
		}
	}
	return out, nil
}

func (r *redisAdapter) XAck(ctx context.Context, stream, group string, ids ...string) error {
	return r.Conn.XAck(ctx, r.prefix+stream, group, ids...).Err()
}

func (r *redisAdapter) XLen(ctx context.Context, stream string) (int64, error) {
	return r.Conn.XLen(ctx, r.prefix+stream).Result()
}

func (r *redisAdapter) XPendingCount(ctx context.Context, stream, group string) (int64, int64, error) {
	p, err := r.Conn.XPending(ctx, r.prefix+stream, group).Result()
	if err != nil {
		return 0, 0, err
	}
	return p.Count, int64(len(p.Consumers)), nil
}

// XPendingEntries lists up to count pending entries, oldest first.
func (r *redisAdapter) XPendingEntries(ctx context.Context, stream, group string, count int64) ([]PendingEntry, error) {
	res, err := r.Conn.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: r.prefix + stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]PendingEntry, 0, len(res))
	for _, p := range res {
		out = append(out, PendingEntry{ID: p.ID, Consumer: p.Consumer, Idle: p.Idle, Deliveries: p.RetryCount})
	}
	return out, nil
}

// XClaim moves entries idle for at least minIdle to consumer. The returned
// messages carry Deliveries as zero; callers that need the count take it from
// XPendingEntries.
func (r *redisAdapter) XClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]StreamMessage, error) {
	res, err := r.Conn.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   r.prefix + stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]StreamMessage, 0, len(res))
	for _, m := range res {
		out = append(out, StreamMessage{ID: m.ID, Values: m.Values})
	}
	return out, nil
}
