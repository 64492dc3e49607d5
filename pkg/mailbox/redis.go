package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"SignalHub/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisMailbox stores each address queue in a Redis list and the last poll
// time of every consumer in a hash.
type RedisMailbox struct {
	logger *logger.Logger
	client *redis.Client
	cfg    Config
	closed atomic.Bool
}

// NewRedis wraps a shared client. Close does not close the client.
func NewRedis(lgr *logger.Logger, client *redis.Client, opts ...Option) *RedisMailbox {
	if lgr == nil {
		lgr = logger.NewNop()
	}
	return &RedisMailbox{logger: lgr, client: client, cfg: newConfig(opts)}
}

func (r *RedisMailbox) queueKey(address string) string {
	return fmt.Sprintf("%s:mailbox:%s", r.cfg.Prefix, address)
}

func (r *RedisMailbox) consumersKey() string {
	return r.cfg.Prefix + ":mailbox-consumers"
}

func (r *RedisMailbox) Push(ctx context.Context, address string, payload []byte) (int64, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	key := r.queueKey(address)

	pipe := r.client.TxPipeline()
	push := pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, -r.cfg.MaxDepth, -1)
	if r.cfg.TTL > 0 {
		pipe.Expire(ctx, key, r.cfg.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rpush %s: %w", key, err)
	}

	depth := push.Val()
	if depth > r.cfg.MaxDepth {
		r.logger.Warn("mailbox full, oldest payloads discarded",
			logger.String("address", address),
			logger.Int64("discarded", depth-r.cfg.MaxDepth))
		depth = r.cfg.MaxDepth
	}
	return depth, nil
}

func (r *RedisMailbox) Pop(ctx context.Context, address string, max int) ([][]byte, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	if err := r.client.HSet(ctx, r.consumersKey(), address, time.Now().UnixMilli()).Err(); err != nil {
		return nil, fmt.Errorf("hset consumer: %w", err)
	}
	if max <= 0 {
		return nil, nil
	}

	vals, err := r.client.LPopCount(ctx, r.queueKey(address), max).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("lpop %s: %w", address, err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (r *RedisMailbox) Depth(ctx context.Context, address string) (int64, error) {
	n, err := r.client.LLen(ctx, r.queueKey(address)).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", address, err)
	}
	return n, nil
}

func (r *RedisMailbox) Consumers(ctx context.Context) ([]Consumer, error) {
	seen, err := r.client.HGetAll(ctx, r.consumersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall consumers: %w", err)
	}
	if len(seen) == 0 {
		return []Consumer{}, nil
	}

	out := make([]Consumer, 0, len(seen))
	pipe := r.client.Pipeline()
	lens := make([]*redis.IntCmd, 0, len(seen))
	for addr, ms := range seen {
		millis, err := strconv.ParseInt(ms, 10, 64)
		if err != nil {
			r.logger.Warn("invalid consumer timestamp", logger.String("address", addr), logger.String("value", ms))
			continue
		}
		out = append(out, Consumer{Address: addr, LastSeen: time.UnixMilli(millis)})
		lens = append(lens, pipe.LLen(ctx, r.queueKey(addr)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("llen consumers: %w", err)
	}
	for i := range out {
		out[i].Pending = lens[i].Val()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (r *RedisMailbox) Close() error {
	r.closed.Store(true)
	return nil
}

var _ Mailbox = (*RedisMailbox)(nil)
