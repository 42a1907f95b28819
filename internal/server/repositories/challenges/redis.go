package challenges

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/facegate/internal/common"
	"github.com/dmitrijs2005/facegate/internal/server/models"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "challenge:"

// consumeScript checks and flips the status in one server-side step.
// KEYS[1] challenge key; ARGV: email, now (ms), ttl (ms).
var consumeScript = redis.NewScript(`
local data = redis.call('HMGET', KEYS[1], 'email', 'status', 'created_at', 'operation', 'client_ip', 'user_agent')
if not data[1] or data[1] ~= ARGV[1] or data[2] ~= 'PENDING' then
  return {'NOT_FOUND'}
end
local now = tonumber(ARGV[2])
if now - tonumber(data[3]) > tonumber(ARGV[3]) then
  redis.call('HSET', KEYS[1], 'status', 'EXPIRED')
  return {'EXPIRED', data[3], data[4], data[5], data[6]}
end
redis.call('HSET', KEYS[1], 'status', 'USED', 'used_at', ARGV[2])
return {'USED', data[3], data[4], data[5], data[6]}
`)

// RedisRepository keeps challenges as hashes that Redis expires on its own
// after keyTTL.
type RedisRepository struct {
	rdb    redis.UniversalClient
	keyTTL time.Duration
}

func NewRedisRepository(rdb redis.UniversalClient, keyTTL time.Duration) *RedisRepository {
	return &RedisRepository{rdb: rdb, keyTTL: keyTTL}
}

func redisKey(token string) string {
	return redisKeyPrefix + token
}

func (r *RedisRepository) Create(ctx context.Context, c *models.Challenge) error {
	key := redisKey(c.Token)

	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"email", c.Email,
			"operation", string(c.Operation),
			"status", string(c.Status),
			"created_at", strconv.FormatInt(c.CreatedAt.UnixMilli(), 10),
			"client_ip", c.ClientIP,
			"user_agent", c.UserAgent,
		)
		p.Expire(ctx, key, r.keyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (r *RedisRepository) Consume(ctx context.Context, token, email string, now time.Time, ttl time.Duration) (*models.Challenge, error) {
	res, err := consumeScript.Run(ctx, r.rdb, []string{redisKey(token)},
		email, now.UnixMilli(), ttl.Milliseconds()).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	if len(res) == 0 {
		return nil, errors.New("redis error: empty script reply")
	}
	if res[0] == "NOT_FOUND" {
		return nil, common.ErrorNotFound
	}
	if len(res) < 5 {
		return nil, fmt.Errorf("redis error: short script reply (%d)", len(res))
	}

	createdMs, err := strconv.ParseInt(res[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis error: bad created_at: %w", err)
	}

	c := &models.Challenge{
		Token:     token,
		Email:     email,
		Status:    models.ChallengeStatus(res[0]),
		CreatedAt: time.UnixMilli(createdMs).UTC(),
		Operation: models.Operation(res[2]),
		ClientIP:  res[3],
		UserAgent: res[4],
	}
	if c.Status == models.ChallengeUsed {
		usedAt := now
		c.UsedAt = &usedAt
	}
	return c, nil
}

// DeleteOlderThan is a no-op: keys carry their own expiry.
func (r *RedisRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
