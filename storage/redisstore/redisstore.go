// Package redisstore keeps the session in a Redis hash so several gateway
// processes on one machine or container share a login.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/citycard-gateway/storage"
)

var _ storage.Store = (*Store)(nil)

type Options struct {
	Addr     string
	Password string
	DB       int
	Key      string // hash holding every session field
}

type Store struct {
	client *redis.Client
	key    string
	logger zerolog.Logger
}

// New connects to Redis and pings it once.
func New(ctx context.Context, opts Options, logger zerolog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     4,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Str("key", opts.Key).Msg("redis session storage connected")
	s := NewWithClient(client, opts.Key)
	s.logger = logger
	return s, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, key string) *Store {
	return &Store{client: client, key: key, logger: log.Logger}
}

func (s *Store) Load(ctx context.Context, keys ...string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}
	vals, err := s.client.HMGet(ctx, s.key, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis hmget: %w", err)
	}
	out := make(map[string]string, len(keys))
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[keys[i]] = str
		}
	}
	return out, nil
}

// Apply runs the batch in a MULTI/EXEC transaction.
func (s *Store) Apply(ctx context.Context, b storage.Batch) error {
	if b.Empty() {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(b.Delete) > 0 {
			pipe.HDel(ctx, s.key, b.Delete...)
		}
		if len(b.Set) > 0 {
			values := make(map[string]any, len(b.Set))
			for k, v := range b.Set {
				values[k] = v
			}
			pipe.HSet(ctx, s.key, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis session write: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.logger.Debug().Msg("closing redis session storage")
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
