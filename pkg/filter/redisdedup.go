package filter

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// RedisConfig holds configuration for the Redis client.
type RedisConfig struct {
	Addr     string // e.g., "localhost:6379"
	Password string // Leave empty if no password
	DB       int
}

// RedisDeduplicator keeps the identity set in a Redis set, for days whose identity
// set does not fit comfortably in memory. The set key is scoped to the run and
// deleted on Close.
type RedisDeduplicator struct {
	client *redis.Client
	key    string
	logger zerolog.Logger
}

// SetKey returns the Redis key holding the identities of one run.
func SetKey(day, runID string) string {
	return fmt.Sprintf("reprocessor:seen:%s:%s", day, runID)
}

// NewRedisDeduplicator connects to Redis and checks the connection.
func NewRedisDeduplicator(ctx context.Context, cfg *RedisConfig, day, runID string, logger zerolog.Logger) (*RedisDeduplicator, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	key := SetKey(day, runID)
	logger.Info().Str("redis_address", cfg.Addr).Str("key", key).Msg("Successfully connected to Redis for deduplication")

	return &RedisDeduplicator{
		client: rdb,
		key:    key,
		logger: logger.With().Str("component", "RedisDeduplicator").Logger(),
	}, nil
}

func (d *RedisDeduplicator) Seen(ctx context.Context, uid string) (bool, error) {
	ok, err := d.client.SIsMember(ctx, d.key, uid).Result()
	if err != nil {
		return false, fmt.Errorf("failed to query deduplication set: %w", err)
	}
	return ok, nil
}

func (d *RedisDeduplicator) Add(ctx context.Context, uid string) error {
	if err := d.client.SAdd(ctx, d.key, uid).Err(); err != nil {
		return fmt.Errorf("failed to add %s to deduplication set: %w", uid, err)
	}
	return nil
}

// Close deletes the run's set and closes the client connection.
func (d *RedisDeduplicator) Close() error {
	if d.client == nil {
		return nil
	}
	delErr := d.client.Del(context.Background(), d.key).Err()
	if delErr != nil {
		d.logger.Error().Err(delErr).Str("key", d.key).Msg("Failed to delete deduplication set")
	}
	d.logger.Info().Msg("Closing Redis client connection...")
	return errors.Join(delErr, d.client.Close())
}
