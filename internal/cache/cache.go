// Package cache keeps recently read tickets in Redis, keyed by control
// number. Cache failures are logged and treated as misses.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/rmf-intake/internal/domain"
)

const (
	keyPrefix   = "rmf:ticket:"
	fencePrefix = "rmf:ticket-fence:"

	// fenceTTL bounds how long after an invalidation reads skip the cache.
	// It must outlast the slowest load that could race a write.
	fenceTTL = 15 * time.Second
)

// setUnlessFenced writes the entry only when no invalidation happened within
// fenceTTL, so a read that loaded before a concurrent write cannot restore
// the stale copy.
var setUnlessFenced = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return 0
end
if tonumber(ARGV[2]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
else
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// TicketCache is a best-effort lookup cache.
type TicketCache interface {
	Get(ctx context.Context, controlNumber string) (*domain.Ticket, bool)
	Set(ctx context.Context, ticket *domain.Ticket)
	Invalidate(ctx context.Context, controlNumber string)
}

// RedisTicketCache stores tickets as JSON with a TTL.
type RedisTicketCache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisTicketCache builds a cache. A zero ttl means entries never expire.
func NewRedisTicketCache(client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *RedisTicketCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisTicketCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisTicketCache) Get(ctx context.Context, controlNumber string) (*domain.Ticket, bool) {
	raw, err := c.client.Get(ctx, keyPrefix+controlNumber).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("ticket cache read failed", zap.String("control_number", controlNumber), zap.Error(err))
		}
		return nil, false
	}
	var ticket domain.Ticket
	if err := json.Unmarshal(raw, &ticket); err != nil {
		c.logger.Warn("discarding undecodable cache entry", zap.String("control_number", controlNumber), zap.Error(err))
		_ = c.client.Del(ctx, keyPrefix+controlNumber).Err()
		return nil, false
	}
	return &ticket, true
}

func (c *RedisTicketCache) Set(ctx context.Context, ticket *domain.Ticket) {
	if ticket == nil || ticket.ControlNumber == "" {
		return
	}
	raw, err := json.Marshal(ticket)
	if err != nil {
		c.logger.Warn("ticket cache encode failed", zap.String("control_number", ticket.ControlNumber), zap.Error(err))
		return
	}
	keys := []string{keyPrefix + ticket.ControlNumber, fencePrefix + ticket.ControlNumber}
	if err := setUnlessFenced.Run(ctx, c.client, keys, raw, c.ttl.Milliseconds()).Err(); err != nil {
		c.logger.Warn("ticket cache write failed", zap.String("control_number", ticket.ControlNumber), zap.Error(err))
	}
}

func (c *RedisTicketCache) Invalidate(ctx context.Context, controlNumber string) {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keyPrefix+controlNumber)
		pipe.Set(ctx, fencePrefix+controlNumber, 1, fenceTTL)
		return nil
	})
	if err != nil {
		c.logger.Warn("ticket cache invalidation failed", zap.String("control_number", controlNumber), zap.Error(err))
	}
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) (*domain.Ticket, bool) { return nil, false }
func (Noop) Set(context.Context, *domain.Ticket)                {}
func (Noop) Invalidate(context.Context, string)                 {}
