package auth

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// blacklistKeyPrefix namespaces blacklist entries in the shared Redis.
const blacklistKeyPrefix = "blacklist:"

// TokenBlacklist is the ephemeral deny-list consulted on every
// authenticated request. Entries expire on their own, so the list never
// outlives the tokens it bans.
type TokenBlacklist interface {
	Add(ctx context.Context, token string, ttl time.Duration) error
	Contains(ctx context.Context, token string) (bool, error)
}

// RedisBlacklist implements TokenBlacklist on Redis using per-key TTLs.
type RedisBlacklist struct {
	client *goredis.Client
}

// NewRedisBlacklist creates a blacklist backed by the given Redis client.
func NewRedisBlacklist(client *goredis.Client) *RedisBlacklist {
	return &RedisBlacklist{client: client}
}

func blacklistKey(token string) string {
	return blacklistKeyPrefix + token
}

// Add bans a token for the given duration. A non-positive TTL is a no-op:
// the token is already expired, so there is nothing left to ban.
func (b *RedisBlacklist) Add(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := b.client.Set(ctx, blacklistKey(token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("blacklisting token: %w", err)
	}
	return nil
}

// Contains reports whether a token is currently banned.
func (b *RedisBlacklist) Contains(ctx context.Context, token string) (bool, error) {
	n, err := b.client.Exists(ctx, blacklistKey(token)).Result()
	if err != nil {
		return false, fmt.Errorf("checking token blacklist: %w", err)
	}
	return n > 0, nil
}
