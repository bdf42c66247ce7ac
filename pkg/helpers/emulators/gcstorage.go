package emulators

import (
	"context"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/api/option"
)

// GCSConfig runs fake-gcs-server with the given buckets created up front.
type GCSConfig struct {
	GCImageContainer
	Buckets []string
}

const (
	testGCSEmulatorImage = "fsouza/fake-gcs-server:1.49"
	testGCSEmulatorPort  = "4443"
	gcsHealthPath        = "/storage/v1/b"
)

// GetDefaultGCSConfig returns a fake-gcs-server configuration.
func GetDefaultGCSConfig(projectID string, buckets ...string) GCSConfig {
	return GCSConfig{
		GCImageContainer: GCImageContainer{
			ImageContainer: ImageContainer{
				EmulatorImage:    testGCSEmulatorImage,
				EmulatorHTTPPort: testGCSEmulatorPort,
			},
			ProjectID: projectID,
		},
		Buckets: buckets,
	}
}

// SetupGCSEmulator starts fake-gcs-server over plain HTTP and returns a client for it.
func SetupGCSEmulator(t *testing.T, ctx context.Context, cfg GCSConfig) (*storage.Client, func()) {
	t.Helper()

	httpPort := fmt.Sprintf("%s/tcp", cfg.EmulatorHTTPPort)
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{httpPort},
		Cmd:          []string{"-scheme", "http"},
		WaitingFor: wait.ForHTTP(gcsHealthPath).WithPort(nat.Port(httpPort)).
			WithStatusCodeMatcher(func(status int) bool { return status > 0 }).
			WithStartupTimeout(20 * time.Second),
	}
	container, hostPort := startContainer(t, ctx, req, httpPort)
	endpoint := "http://" + hostPort + "/storage/v1/"
	if cfg.SetEnvVariables {
		t.Setenv("STORAGE_EMULATOR_HOST", hostPort)
	}

	client, err := storage.NewClient(ctx, option.WithoutAuthentication(), option.WithEndpoint(endpoint))
	require.NoError(t, err)
	for _, b := range cfg.Buckets {
		require.NoError(t, client.Bucket(b).Create(ctx, cfg.ProjectID, nil), "creating bucket %s", b)
	}

	stop := terminate(t, ctx, container)
	return client, func() {
		_ = client.Close()
		stop()
	}
}
