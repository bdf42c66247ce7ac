//go:build integration

package filter

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/illmade-knight/msmt-reprocessor/pkg/helpers/emulators"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisDeduplicator_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)

	conn, cleanup := emulators.SetupRedisContainer(t, ctx, emulators.GetDefaultRedisImageContainer())
	defer cleanup()

	d, err := NewRedisDeduplicator(ctx, &RedisConfig{Addr: conn.EmulatorAddress}, "2024-01-02", "run-it", logger)
	require.NoError(t, err)
	exerciseDeduplicator(t, d)

	probe := redis.NewClient(&redis.Options{Addr: conn.EmulatorAddress})
	defer probe.Close()

	key := SetKey("2024-01-02", "run-it")
	members, err := probe.SMembers(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, members)

	require.NoError(t, d.Close())
	exists, err := probe.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists, "the run's set is deleted on close")
}
