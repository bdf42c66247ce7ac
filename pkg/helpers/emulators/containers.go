package emulators

import (
	"context"
	"fmt"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

// ImageContainer names the image of an emulator and the ports it serves on.
type ImageContainer struct {
	EmulatorImage    string
	EmulatorHTTPPort string
	EmulatorGRPCPort string
}

// GCImageContainer is an ImageContainer for a Google Cloud emulator.
type GCImageContainer struct {
	ImageContainer
	ProjectID string
	// SetEnvVariables exports the emulator host variables the Google client
	// libraries look for.
	SetEnvVariables bool
}

// startContainer starts req and returns the container with the host:port that
// reaches port on it.
func startContainer(t *testing.T, ctx context.Context, req testcontainers.ContainerRequest, port string) (testcontainers.Container, string) {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)
	return container, fmt.Sprintf("%s:%s", host, mapped.Port())
}

func terminate(t *testing.T, ctx context.Context, c testcontainers.Container) func() {
	return func() { require.NoError(t, c.Terminate(ctx)) }
}
