//go:build integration

package objectstore

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/illmade-knight/msmt-reprocessor/pkg/helpers/emulators"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGCSStore_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	const bucket = "shards-test"
	logger := zerolog.New(zerolog.NewTestWriter(t))

	client, cleanup := emulators.SetupGCSEmulator(t, ctx, emulators.GetDefaultGCSConfig("test-project", bucket))
	defer cleanup()

	store, err := NewGCSStore(NewGCSClientAdapter(client), bucket, logger)
	require.NoError(t, err)

	_, err = store.Stat(ctx, "jsonl/missing.jsonl.gz")
	assert.True(t, errors.Is(err, ErrObjectNotExist))

	payload := "line one\nline two\n"
	n, err := store.Upload(ctx, "jsonl/a/b.jsonl.gz", strings.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	attrs, err := store.Stat(ctx, "jsonl/a/b.jsonl.gz")
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), attrs.Size)

	objects, err := store.List(ctx, "jsonl/")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "jsonl/a/b.jsonl.gz", objects[0].Key)

	var buf bytes.Buffer
	_, err = store.Download(ctx, "jsonl/a/b.jsonl.gz", &buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf.String())
}
