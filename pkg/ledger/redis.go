package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// KeyPrefix prefixes every session key written by RedisLedger.
const KeyPrefix = "vguard:spend:"

// RedisOptions configures RedisLedger.
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	MaxRetries int           // ping attempts before giving up, default 3
	TTL        time.Duration // expiry refreshed on every Add, zero keeps keys forever
}

// RedisLedger stores totals in Redis so several processes share a budget.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLedger connects to Redis, retrying the initial ping with
// exponential backoff.
func NewRedisLedger(ctx context.Context, opts RedisOptions, log zerolog.Logger) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            opts.Addr,
		Password:        opts.Password,
		DB:              opts.DB,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
	})

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var err error
	for i := range maxRetries {
		if i > 0 {
			backoff := time.Duration(1<<uint(i)) * 250 * time.Millisecond
			log.Info().Dur("backoff", backoff).Msg("Waiting before Redis retry")
			select {
			case <-ctx.Done():
				client.Close()
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		err = client.Ping(ctx).Err()
		if err == nil {
			log.Debug().Str("addr", opts.Addr).Int("attempts_needed", i+1).Msg("Redis connected")
			return &RedisLedger{client: client, ttl: opts.TTL}, nil
		}
		log.Warn().Err(err).Int("attempt", i+1).Int("max_retries", maxRetries).Msg("Redis ping failed")
	}

	client.Close()
	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", maxRetries, err)
}

func (l *RedisLedger) Total(ctx context.Context, session string) (float64, error) {
	total, err := l.client.Get(ctx, KeyPrefix+session).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read spend for %s: %w", session, err)
	}
	return total, nil
}

func (l *RedisLedger) Add(ctx context.Context, session string, cost float64) (float64, error) {
	if err := checkSession(session); err != nil {
		return 0, err
	}
	if err := checkCost(cost); err != nil {
		return 0, err
	}
	key := KeyPrefix + session
	pipe := l.client.TxPipeline()
	incr := pipe.IncrByFloat(ctx, key, cost)
	if l.ttl > 0 {
		pipe.Expire(ctx, key, l.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("add spend for %s: %w", session, err)
	}
	return incr.Val(), nil
}

func (l *RedisLedger) Reset(ctx context.Context, session string) error {
	if err := l.client.Del(ctx, KeyPrefix+session).Err(); err != nil {
		return fmt.Errorf("reset spend for %s: %w", session, err)
	}
	return nil
}

func (l *RedisLedger) Close() error {
	return l.client.Close()
}
