package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRevocationPrefix = "citycard:revoked"
	redisOpTimeout          = 2 * time.Second
)

var _ RevokedTokenCache = (*RedisRevocationList)(nil)

// RedisRevocationList keeps revoked token IDs in Redis with a TTL matching
// the token's remaining lifetime, so several dev backend instances agree on
// logouts. Redis expires the keys itself.
type RedisRevocationList struct {
	client *redis.Client
	prefix string
}

func NewRedisRevocationList(client *redis.Client, keyPrefix string) *RedisRevocationList {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRevocationPrefix
	}
	return &RedisRevocationList{client: client, prefix: prefix}
}

func (l *RedisRevocationList) Add(jti string, exp time.Time) error {
	key := l.key(jti)
	if key == "" {
		return ErrMissingTokenID
	}
	ttl := exp.Sub(NowTimeFunc())
	if ttl <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := l.client.Set(ctx, key, exp.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("redis set revoked jti: %w", err)
	}
	return nil
}

// IsRevoked fails closed: a token is treated as revoked when Redis cannot be asked.
func (l *RedisRevocationList) IsRevoked(jti string) bool {
	key := l.key(jti)
	if key == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	err := l.client.Get(ctx, key).Err()
	if errors.Is(err, redis.Nil) {
		return false
	}
	return true
}

// Cleanup is a no-op; entries carry their own TTL.
func (l *RedisRevocationList) Cleanup() {}

func (l *RedisRevocationList) key(jti string) string {
	trimmed := strings.TrimSpace(jti)
	if trimmed == "" {
		return ""
	}
	return l.prefix + ":" + trimmed
}
