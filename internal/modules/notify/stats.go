// README: Delivery counters kept in Redis.
package notify

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	deliveredKey = "notify:delivered"
	failedKey    = "notify:failed"
)

type RedisStats struct {
	redis *redis.Client
	log   *slog.Logger
}

func NewRedisStats(client *redis.Client, logger *slog.Logger) *RedisStats {
	return &RedisStats{redis: client, log: logger}
}

func (s *RedisStats) Record(ctx context.Context, delivered, failed int) {
	if delivered == 0 && failed == 0 {
		return
	}
	pipe := s.redis.Pipeline()
	if delivered > 0 {
		pipe.IncrBy(ctx, deliveredKey, int64(delivered))
	}
	if failed > 0 {
		pipe.IncrBy(ctx, failedKey, int64(failed))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn("recording notification stats", "err", err)
	}
}

// Totals returns the lifetime delivered and failed counters.
func (s *RedisStats) Totals(ctx context.Context) (delivered, failed int64, err error) {
	vals, err := s.redis.MGet(ctx, deliveredKey, failedKey).Result()
	if err != nil {
		return 0, 0, err
	}
	return asInt(vals[0]), asInt(vals[1]), nil
}

func asInt(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
