package bqstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
	"github.com/rs/zerolog"
)

// ====================================================================================
// BigQuery backend for the lookup index and the analysis table. Each call is a single
// MERGE statement over an array-of-struct parameter, so a call is applied atomically.
// ====================================================================================

// IndexRecord is the BigQuery form of a LookupRow, used both as the query
// parameter element and to infer the table schema.
type IndexRecord struct {
	ReportID       string            `bigquery:"report_id"`
	Input          string            `bigquery:"input"`
	MeasurementUID string            `bigquery:"measurement_uid"`
	S3Path         string            `bigquery:"s3path"`
	LineNum        int64             `bigquery:"linenum"`
	Date           bigquery.NullDate `bigquery:"date"`
	Source         string            `bigquery:"source"`
}

// AnalysisRecord is the BigQuery form of an AnalysisRow. Field order matches the
// table columns, which INSERT ROW relies on.
type AnalysisRecord struct {
	MeasurementUID       string                `bigquery:"measurement_uid"`
	ReportID             string                `bigquery:"report_id"`
	Input                bigquery.NullString   `bigquery:"input"`
	Domain               string                `bigquery:"domain"`
	TestName             string                `bigquery:"test_name"`
	ProbeCC              string                `bigquery:"probe_cc"`
	ProbeASN             string                `bigquery:"probe_asn"`
	MeasurementStartTime bigquery.NullDateTime `bigquery:"measurement_start_time"`
	SoftwareName         string                `bigquery:"software_name"`
	SoftwareVersion      string                `bigquery:"software_version"`
	Platform             string                `bigquery:"platform"`
	Scores               string                `bigquery:"scores"`
	Anomaly              bool                  `bigquery:"anomaly"`
	Confirmed            bool                  `bigquery:"confirmed"`
	Failure              bool                  `bigquery:"msm_failure"`
	MeasurementCount     int64                 `bigquery:"measurement_count"`
	AnomalyCount         int64                 `bigquery:"anomaly_count"`
	ConfirmedCount       int64                 `bigquery:"confirmed_count"`
	FailureCount         int64                 `bigquery:"failure_count"`
}

// Store implements shard.IndexWriter and scoring.AnalysisWriter on BigQuery.
type Store struct {
	runner QueryRunner
	cfg    BigQueryDatasetConfig
	logger zerolog.Logger
}

// NewStore creates a Store.
func NewStore(runner QueryRunner, cfg *BigQueryDatasetConfig, logger zerolog.Logger) (*Store, error) {
	if runner == nil {
		return nil, errors.New("bigquery query runner cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("BigQueryDatasetConfig cannot be nil")
	}
	c := *cfg
	c.applyDefaults()
	return &Store{
		runner: runner,
		cfg:    c,
		logger: logger.With().Str("component", "BigQueryStore").Str("project_id", c.ProjectID).Str("dataset_id", c.DatasetID).Logger(),
	}, nil
}

func (s *Store) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", s.cfg.ProjectID, s.cfg.DatasetID, name)
}

func (s *Store) indexMerge(policy types.WritePolicy) (string, error) {
	var matched string
	switch policy {
	case types.PolicyInsert:
	case types.PolicyMerge:
		matched = "WHEN MATCHED THEN UPDATE SET s3path = S.s3path, linenum = S.linenum\n"
	default:
		return "", fmt.Errorf("%w: no index statement for %s", types.ErrInvalidPolicy, policy)
	}
	return "MERGE " + s.table(s.cfg.IndexTable) + ` T
USING UNNEST(@rows) S
ON T.report_id = S.report_id AND T.input = S.input AND T.measurement_uid = S.measurement_uid
` + matched + `WHEN NOT MATCHED THEN
  INSERT (report_id, input, measurement_uid, s3path, linenum, date, source)
  VALUES (S.report_id, S.input, S.measurement_uid, S.s3path, S.linenum, S.date, S.source)`, nil
}

func (s *Store) analysisMerge(policy types.WritePolicy) (string, error) {
	var matched string
	switch policy {
	case types.PolicyInsert:
	case types.PolicyMerge:
		matched = `WHEN MATCHED THEN UPDATE SET
  scores = S.scores, anomaly = S.anomaly, confirmed = S.confirmed, msm_failure = S.msm_failure,
  measurement_count = T.measurement_count + S.measurement_count,
  anomaly_count = T.anomaly_count + S.anomaly_count,
  confirmed_count = T.confirmed_count + S.confirmed_count,
  failure_count = T.failure_count + S.failure_count
`
	default:
		return "", fmt.Errorf("%w: no analysis statement for %s", types.ErrInvalidPolicy, policy)
	}
	return "MERGE " + s.table(s.cfg.AnalysisTable) + ` T
USING UNNEST(@rows) S
ON T.measurement_uid = S.measurement_uid
` + matched + `WHEN NOT MATCHED THEN INSERT ROW`, nil
}

// WriteIndex stores lookup rows with one MERGE statement.
func (s *Store) WriteIndex(ctx context.Context, rows []types.LookupRow, policy types.WritePolicy) error {
	if policy == types.PolicySkip || len(rows) == 0 {
		return nil
	}
	sql, err := s.indexMerge(policy)
	if err != nil {
		return err
	}

	params := make([]IndexRecord, len(rows))
	for i, r := range rows {
		params[i] = IndexRecord{
			ReportID:       r.ReportID,
			Input:          r.Input,
			MeasurementUID: r.MeasurementUID,
			S3Path:         r.Path,
			LineNum:        int64(r.LineNum),
			Source:         r.Source,
		}
		if r.SourceDate != nil {
			params[i].Date = bigquery.NullDate{Date: civil.DateOf(*r.SourceDate), Valid: true}
		}
	}

	if err := s.runner.Run(ctx, sql, []bigquery.QueryParameter{{Name: "rows", Value: params}}); err != nil {
		return fmt.Errorf("failed to merge %d index rows: %w", len(rows), err)
	}
	s.logger.Info().Int("row_count", len(rows)).Str("policy", policy.String()).Msg("Merged index rows")
	return nil
}

// WriteAnalysis stores scored measurements with one MERGE statement.
func (s *Store) WriteAnalysis(ctx context.Context, rows []types.AnalysisRow, policy types.WritePolicy) error {
	if policy == types.PolicySkip || len(rows) == 0 {
		return nil
	}
	sql, err := s.analysisMerge(policy)
	if err != nil {
		return err
	}

	params := make([]AnalysisRecord, len(rows))
	for i, r := range rows {
		scores, err := json.Marshal(r.Scores)
		if err != nil {
			return fmt.Errorf("failed to encode scores of %s: %w", r.MeasurementUID, err)
		}
		msmts, anomalies, confirmed, failures := r.Counts()
		params[i] = AnalysisRecord{
			MeasurementUID:   r.MeasurementUID,
			ReportID:         r.ReportID,
			Domain:           r.Domain,
			TestName:         r.TestName,
			ProbeCC:          r.ProbeCC,
			ProbeASN:         r.ProbeASN,
			SoftwareName:     r.SoftwareName,
			SoftwareVersion:  r.SoftwareVersion,
			Platform:         r.Platform,
			Scores:           string(scores),
			Anomaly:          r.Anomaly,
			Confirmed:        r.Confirmed,
			Failure:          r.Failure,
			MeasurementCount: msmts,
			AnomalyCount:     anomalies,
			ConfirmedCount:   confirmed,
			FailureCount:     failures,
		}
		if r.Input != nil {
			params[i].Input = bigquery.NullString{StringVal: *r.Input, Valid: true}
		}
		if r.MeasurementStartTime != nil {
			params[i].MeasurementStartTime = bigquery.NullDateTime{DateTime: civil.DateTimeOf(r.MeasurementStartTime.UTC()), Valid: true}
		}
	}

	if err := s.runner.Run(ctx, sql, []bigquery.QueryParameter{{Name: "rows", Value: params}}); err != nil {
		return fmt.Errorf("failed to merge %d analysis rows: %w", len(rows), err)
	}
	s.logger.Debug().Int("row_count", len(rows)).Str("policy", policy.String()).Msg("Merged analysis rows")
	return nil
}
