package emulators

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type RedisConfig struct {
	ImageContainer
}

type RedisConnection struct {
	EmulatorAddress string
}

const (
	testRedisImage = "redis:7-alpine"
	testRedisPort  = "6379"
)

func GetDefaultRedisImageContainer() RedisConfig {
	return RedisConfig{
		ImageContainer: ImageContainer{
			EmulatorImage:    testRedisImage,
			EmulatorHTTPPort: testRedisPort,
		},
	}
}

func SetupRedisContainer(t *testing.T, ctx context.Context, cfg RedisConfig) (RedisConnection, func()) {
	t.Helper()

	port := fmt.Sprintf("%s/tcp", cfg.EmulatorHTTPPort)
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{port},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, addr := startContainer(t, ctx, req, port)
	return RedisConnection{EmulatorAddress: addr}, terminate(t, ctx, container)
}
