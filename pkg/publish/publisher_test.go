package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/illmade-knight/msmt-reprocessor/pkg/objectstore"
	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counts struct{ uploaded, mismatched int }

func (c *counts) FileUploaded()     { c.uploaded++ }
func (c *counts) FileSizeMismatch() { c.mismatched++ }

const key = "jsonl/tor/IT/20150101/00/20150101_IT_tor.x.0011223344556677.jsonl.gz"

func setup(t *testing.T, remote string) (objectstore.ObjectStore, string) {
	t.Helper()
	store, err := objectstore.NewFileStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	if remote != "" {
		_, err := store.Upload(context.Background(), key, strings.NewReader(remote))
		require.NoError(t, err)
	}
	local := filepath.Join(t.TempDir(), "20150101_IT_tor.l.0.jsonl.gz")
	require.NoError(t, os.WriteFile(local, []byte("local-shard"), 0o644))
	return store, local
}

func remoteBody(t *testing.T, store objectstore.ObjectStore) string {
	t.Helper()
	var sb strings.Builder
	_, err := store.Download(context.Background(), key, &sb)
	if errors.Is(err, objectstore.ErrObjectNotExist) {
		return ""
	}
	require.NoError(t, err)
	return sb.String()
}

func TestPublisher_Policies(t *testing.T) {
	cases := []struct {
		name           string
		policy         types.PublishPolicy
		remote         string
		wantRemote     string
		wantUploaded   int
		wantMismatched int
	}{
		{"dry run absent", types.PublishDryRun, "", "", 0, 0},
		{"verify same", types.PublishVerifyOnly, "local-shard", "local-shard", 0, 0},
		{"verify absent", types.PublishVerifyOnly, "", "", 0, 1},
		{"verify different", types.PublishVerifyOnly, "short", "short", 0, 1},
		{"create absent", types.PublishCreate, "", "local-shard", 1, 0},
		{"create overwrites", types.PublishCreate, "short", "local-shard", 1, 0},
		{"create-if-missing absent", types.PublishCreateIfMissing, "", "local-shard", 1, 0},
		{"create-if-missing present", types.PublishCreateIfMissing, "local-shard", "local-shard", 0, 0},
		{"create-if-missing different", types.PublishCreateIfMissing, "short", "short", 0, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, local := setup(t, tc.remote)
			c := &counts{}
			p, err := NewPublisher(store, tc.policy, c, zerolog.Nop())
			require.NoError(t, err)

			require.NoError(t, p.Publish(context.Background(), local, key))
			assert.Equal(t, tc.wantRemote, remoteBody(t, store))
			assert.Equal(t, tc.wantUploaded, c.uploaded)
			assert.Equal(t, tc.wantMismatched, c.mismatched)
		})
	}
}

type brokenStore struct{ objectstore.ObjectStore }

func (brokenStore) Stat(context.Context, string) (objectstore.ObjectAttrs, error) {
	return objectstore.ObjectAttrs{}, errors.New("connection reset")
}

func TestPublisher_StorageErrorIsFatal(t *testing.T) {
	_, local := setup(t, "")
	p, err := NewPublisher(brokenStore{}, types.PublishVerifyOnly, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Error(t, p.Publish(context.Background(), local, key))
}

func TestNewPublisher_RequiresStore(t *testing.T) {
	_, err := NewPublisher(nil, types.PublishCreate, nil, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewPublisher(nil, types.PublishDryRun, nil, zerolog.Nop())
	assert.NoError(t, err)
}
