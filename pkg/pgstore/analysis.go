package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
	"github.com/jackc/pgx/v5"
)

const analysisInsertSQL = `INSERT INTO fastpath (
	measurement_uid, report_id, input, domain, test_name, probe_cc, probe_asn,
	measurement_start_time, software_name, software_version, platform,
	scores, anomaly, confirmed, msm_failure,
	measurement_count, anomaly_count, confirmed_count, failure_count)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13, $14, $15, $16, $17, $18, $19)
ON CONFLICT (measurement_uid) DO `

const analysisMergeSet = `UPDATE SET
	scores = EXCLUDED.scores,
	anomaly = EXCLUDED.anomaly,
	confirmed = EXCLUDED.confirmed,
	msm_failure = EXCLUDED.msm_failure,
	measurement_count = fastpath.measurement_count + EXCLUDED.measurement_count,
	anomaly_count = fastpath.anomaly_count + EXCLUDED.anomaly_count,
	confirmed_count = fastpath.confirmed_count + EXCLUDED.confirmed_count,
	failure_count = fastpath.failure_count + EXCLUDED.failure_count`

func analysisQuery(policy types.WritePolicy) (string, error) {
	switch policy {
	case types.PolicyInsert:
		return analysisInsertSQL + "NOTHING", nil
	case types.PolicyMerge:
		return analysisInsertSQL + analysisMergeSet, nil
	default:
		return "", fmt.Errorf("%w: no analysis statement for %s", types.ErrInvalidPolicy, policy)
	}
}

func queueAnalysis(b *pgx.Batch, query string, rows []types.AnalysisRow) error {
	for _, r := range rows {
		scores, err := json.Marshal(r.Scores)
		if err != nil {
			return fmt.Errorf("failed to encode scores of %s: %w", r.MeasurementUID, err)
		}
		msmts, anomalies, confirmed, failures := r.Counts()
		b.Queue(query,
			r.MeasurementUID, r.ReportID, r.Input, r.Domain, r.TestName, r.ProbeCC, r.ProbeASN,
			r.MeasurementStartTime, r.SoftwareName, r.SoftwareVersion, r.Platform,
			string(scores), r.Anomaly, r.Confirmed, r.Failure,
			msmts, anomalies, confirmed, failures,
		)
	}
	return nil
}

// WriteAnalysis stores scored measurements. Merge overwrites scores and flags and
// adds the newly observed counts to the stored counters.
func (s *Store) WriteAnalysis(ctx context.Context, rows []types.AnalysisRow, policy types.WritePolicy) error {
	if policy == types.PolicySkip || len(rows) == 0 {
		return nil
	}
	query, err := analysisQuery(policy)
	if err != nil {
		return err
	}

	b := &pgx.Batch{}
	if err := queueAnalysis(b, query, rows); err != nil {
		return err
	}

	err = s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := sendBatch(ctx, tx, b)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write %d analysis rows: %w", len(rows), err)
	}
	s.logger.Debug().Int("row_count", len(rows)).Str("policy", policy.String()).Msg("Wrote analysis rows")
	return nil
}
