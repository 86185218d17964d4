package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/karmaloop/automation-server-go/internal/model"
	redisclient "github.com/karmaloop/automation-server-go/internal/redis"
)

// quotaReserveScript is a Lua script for atomic check-and-increment. The
// compare and the INCR run as one unit, so concurrent reservations can
// never push a counter past max.
var quotaReserveScript = redis.NewScript(`
local key = KEYS[1]
local max = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call('GET', key) or '0')
if current >= max then
    return {0, 0}
end

current = redis.call('INCR', key)
if current == 1 then
    redis.call('EXPIRE', key, ttl)
end

return {1, max - current}
`)

// Day-keyed counters linger for two days so a late report near midnight can
// still observe yesterday's usage before the key expires.
const quotaKeyTTLSeconds = 2 * 24 * 60 * 60

// redisQuota shares one quota space between processes. Errors deny the
// reservation: an unreachable Redis must never let an account exceed its
// daily max.
type redisQuota struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisQuota(client *redis.Client, logger zerolog.Logger) QuotaStore {
	return &redisQuota{
		client: client,
		log:    logger.With().Str("component", "quota_redis").Logger(),
	}
}

func (s *redisQuota) TryReserve(ctx context.Context, key model.ActionKey, day string, max int) (bool, int, error) {
	if max <= 0 {
		return false, 0, nil
	}

	fullKey := redisclient.QuotaKey(key.AccountID, string(key.Action), day)
	result, err := quotaReserveScript.Run(ctx, s.client, []string{fullKey}, max, quotaKeyTTLSeconds).Int64Slice()
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("key", key.String()).
			Msg("quota reservation failed, denying for safety")
		return false, 0, fmt.Errorf("quota reserve: %w", err)
	}
	if len(result) != 2 {
		return false, 0, fmt.Errorf("quota reserve: unexpected script result %v", result)
	}

	return result[0] == 1, int(result[1]), nil
}

func (s *redisQuota) Usage(ctx context.Context, key model.ActionKey, day string) (int, error) {
	fullKey := redisclient.QuotaKey(key.AccountID, string(key.Action), day)
	count, err := s.client.Get(ctx, fullKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota usage: %w", err)
	}
	return count, nil
}

func (s *redisQuota) ResetDay(ctx context.Context, day string) error {
	suffix := ":" + day
	iter := s.client.Scan(ctx, 0, "quota:*", 200).Iterator()
	var stale []string
	for iter.Next(ctx) {
		if k := iter.Val(); !strings.HasSuffix(k, suffix) {
			stale = append(stale, k)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("quota reset scan: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, stale...).Err(); err != nil {
		return fmt.Errorf("quota reset delete: %w", err)
	}
	s.log.Info().Int("keys", len(stale)).Str("day", day).Msg("cleared stale quota counters")
	return nil
}
