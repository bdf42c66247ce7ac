package pgstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Fake transaction ---

type fakeTx struct {
	pgx.Tx
	queued     []*pgx.QueuedQuery
	failAt     int
	committed  bool
	rolledBack bool
}

func (f *fakeTx) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.queued = append(f.queued, b.QueuedQueries...)
	return &fakeResults{tx: f}
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if f.committed {
		return pgx.ErrTxClosed
	}
	f.rolledBack = true
	return nil
}

type fakeResults struct {
	pgx.BatchResults
	tx   *fakeTx
	done int
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	r.done++
	if r.tx.failAt > 0 && r.done == r.tx.failAt {
		return pgconn.CommandTag{}, errors.New("duplicate key value violates unique constraint")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Close() error { return nil }

type fakeDB struct{ tx *fakeTx }

func (d *fakeDB) Begin(context.Context) (pgx.Tx, error) { return d.tx, nil }

func newFakeStore(t *testing.T, failAt int) (*Store, *fakeTx) {
	t.Helper()
	tx := &fakeTx{failAt: failAt}
	s, err := NewStore(&fakeDB{tx: tx}, zerolog.Nop())
	require.NoError(t, err)
	return s, tx
}

// --- Tests ---

func TestIndexQuery(t *testing.T) {
	q, err := indexQuery(types.PolicyInsert)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(q, "DO NOTHING"))

	q, err = indexQuery(types.PolicyMerge)
	require.NoError(t, err)
	assert.Contains(t, q, "DO UPDATE SET s3path = EXCLUDED.s3path, linenum = EXCLUDED.linenum")

	_, err = indexQuery(types.PolicySkip)
	assert.ErrorIs(t, err, types.ErrInvalidPolicy)
}

func TestAnalysisQuery(t *testing.T) {
	q, err := analysisQuery(types.PolicyInsert)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(q, "DO NOTHING"))

	q, err = analysisQuery(types.PolicyMerge)
	require.NoError(t, err)
	assert.Contains(t, q, "measurement_count = fastpath.measurement_count + EXCLUDED.measurement_count")
	assert.Contains(t, q, "scores = EXCLUDED.scores")
}

func TestWriteIndex_CommitsOneTransaction(t *testing.T) {
	s, tx := newFakeStore(t, 0)
	day := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []types.LookupRow{
		{ReportID: "r1", MeasurementUID: "u1", Path: "jsonl/x", LineNum: 0, SourceDate: &day, Source: "canned/2015-01-01/a"},
		{ReportID: "r2", Input: "https://a/", MeasurementUID: "u2", Path: "jsonl/x", LineNum: 1, Source: "canned/2015-01-01/a"},
	}

	require.NoError(t, s.WriteIndex(context.Background(), rows, types.PolicyInsert))
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
	require.Len(t, tx.queued, 2)
	assert.Equal(t, []any{"r2", "https://a/", "u2", "jsonl/x", 1, (*time.Time)(nil), "canned/2015-01-01/a"}, tx.queued[1].Arguments)
}

func TestWriteIndex_RollsBackOnError(t *testing.T) {
	s, tx := newFakeStore(t, 2)
	rows := []types.LookupRow{{ReportID: "r1"}, {ReportID: "r2"}, {ReportID: "r3"}}

	err := s.WriteIndex(context.Background(), rows, types.PolicyMerge)
	require.Error(t, err)
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestWriteIndex_SkipDoesNothing(t *testing.T) {
	s, tx := newFakeStore(t, 0)
	require.NoError(t, s.WriteIndex(context.Background(), []types.LookupRow{{ReportID: "r"}}, types.PolicySkip))
	assert.Empty(t, tx.queued)
	assert.False(t, tx.committed)
}

func TestWriteAnalysis_Counts(t *testing.T) {
	s, tx := newFakeStore(t, 0)
	rows := []types.AnalysisRow{{
		MeasurementUID: "u1",
		ReportID:       "r1",
		Scores:         map[string]any{"blocking_general": 1.0},
		Anomaly:        true,
		Failure:        false,
	}}

	require.NoError(t, s.WriteAnalysis(context.Background(), rows, types.PolicyMerge))
	require.Len(t, tx.queued, 1)
	args := tx.queued[0].Arguments
	require.Len(t, args, 19)
	assert.JSONEq(t, `{"blocking_general":1}`, args[11].(string))
	assert.Equal(t, []any{int64(1), int64(1), int64(0), int64(0)}, args[15:])
	assert.True(t, tx.committed)
}
