package bqstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	sql    []string
	params [][]bigquery.QueryParameter
	err    error
}

func (f *fakeRunner) Run(_ context.Context, sql string, params []bigquery.QueryParameter) error {
	f.sql = append(f.sql, sql)
	f.params = append(f.params, params)
	return f.err
}

func newTestStore(t *testing.T, runner QueryRunner) *Store {
	t.Helper()
	s, err := NewStore(runner, &BigQueryDatasetConfig{ProjectID: "proj", DatasetID: "ooni"}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestParseURI(t *testing.T) {
	cfg, err := ParseURI("bigquery://proj/ooni?analysis_table=fastpath_v2")
	require.NoError(t, err)
	assert.Equal(t, "proj", cfg.ProjectID)
	assert.Equal(t, "ooni", cfg.DatasetID)
	assert.Equal(t, DefaultIndexTable, cfg.IndexTable)
	assert.Equal(t, "fastpath_v2", cfg.AnalysisTable)

	for _, bad := range []string{"postgres://x/y", "bigquery://proj", "bigquery:///ooni", "bigquery://proj/a/b"} {
		_, err := ParseURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadBigQueryConfigFromEnv(t *testing.T) {
	t.Setenv("GCP_PROJECT_ID", "proj")
	t.Setenv("BQ_DATASET_ID", "ooni")
	t.Setenv("BQ_INDEX_TABLE_ID", "")
	cfg, err := LoadBigQueryConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultIndexTable, cfg.IndexTable)

	fromURI, err := ParseURI("bigquery://")
	require.NoError(t, err)
	assert.Equal(t, cfg, fromURI)

	t.Setenv("BQ_DATASET_ID", "")
	_, err = LoadBigQueryConfigFromEnv()
	assert.Error(t, err)
}

func TestWriteIndex_Statements(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{}
	s := newTestStore(t, runner)
	day := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []types.LookupRow{
		{ReportID: "r1", MeasurementUID: "u1", Path: "jsonl/a", LineNum: 3, SourceDate: &day, Source: "canned/x"},
		{ReportID: "r2", MeasurementUID: "u2", Path: "jsonl/a", LineNum: 4},
	}

	require.NoError(t, s.WriteIndex(ctx, rows, types.PolicyInsert))
	require.NoError(t, s.WriteIndex(ctx, rows, types.PolicyMerge))
	require.NoError(t, s.WriteIndex(ctx, rows, types.PolicySkip))
	require.Len(t, runner.sql, 2)

	assert.Contains(t, runner.sql[0], "MERGE `proj.ooni.jsonl` T")
	assert.NotContains(t, runner.sql[0], "WHEN MATCHED")
	assert.Contains(t, runner.sql[1], "WHEN MATCHED THEN UPDATE SET s3path = S.s3path, linenum = S.linenum")

	recs := runner.params[0][0].Value.([]IndexRecord)
	require.Len(t, recs, 2)
	assert.Equal(t, bigquery.NullDate{Date: civil.Date{Year: 2015, Month: 1, Day: 1}, Valid: true}, recs[0].Date)
	assert.False(t, recs[1].Date.Valid)
	assert.Equal(t, int64(4), recs[1].LineNum)
}

func TestWriteAnalysis_Statements(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestStore(t, runner)
	in := "https://example.org/"
	rows := []types.AnalysisRow{{MeasurementUID: "u1", Input: &in, Scores: map[string]any{"accuracy": 0.0}, Failure: true}}

	require.NoError(t, s.WriteAnalysis(context.Background(), rows, types.PolicyMerge))
	require.Len(t, runner.sql, 1)
	assert.Contains(t, runner.sql[0], "MERGE `proj.ooni.fastpath` T")
	assert.Contains(t, runner.sql[0], "failure_count = T.failure_count + S.failure_count")

	recs := runner.params[0][0].Value.([]AnalysisRecord)
	assert.Equal(t, bigquery.NullString{StringVal: in, Valid: true}, recs[0].Input)
	assert.Equal(t, `{"accuracy":0}`, recs[0].Scores)
	assert.False(t, recs[0].MeasurementStartTime.Valid)
	assert.Equal(t, int64(1), recs[0].MeasurementCount)
	assert.Equal(t, int64(1), recs[0].FailureCount)
	assert.Equal(t, int64(0), recs[0].AnomalyCount)
}

func TestWriteIndex_RunnerError(t *testing.T) {
	s := newTestStore(t, &fakeRunner{err: errors.New("quota exceeded")})
	err := s.WriteIndex(context.Background(), []types.LookupRow{{ReportID: "r"}}, types.PolicyInsert)
	assert.Error(t, err)
}
