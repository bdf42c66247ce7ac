package pgstore

import (
	"context"
	"fmt"

	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
	"github.com/jackc/pgx/v5"
)

const indexInsertSQL = `INSERT INTO jsonl (report_id, input, measurement_uid, s3path, linenum, date, source)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (report_id, input, measurement_uid) DO `

// indexQuery returns the statement for a write policy.
func indexQuery(policy types.WritePolicy) (string, error) {
	switch policy {
	case types.PolicyInsert:
		return indexInsertSQL + "NOTHING", nil
	case types.PolicyMerge:
		return indexInsertSQL + "UPDATE SET s3path = EXCLUDED.s3path, linenum = EXCLUDED.linenum", nil
	default:
		return "", fmt.Errorf("%w: no index statement for %s", types.ErrInvalidPolicy, policy)
	}
}

func queueIndex(b *pgx.Batch, query string, rows []types.LookupRow) {
	for _, r := range rows {
		b.Queue(query, r.ReportID, r.Input, r.MeasurementUID, r.Path, r.LineNum, r.SourceDate, r.Source)
	}
}

// WriteIndex stores lookup rows. Insert leaves existing rows untouched; merge
// overwrites their path and line offset.
func (s *Store) WriteIndex(ctx context.Context, rows []types.LookupRow, policy types.WritePolicy) error {
	if policy == types.PolicySkip || len(rows) == 0 {
		return nil
	}
	query, err := indexQuery(policy)
	if err != nil {
		return err
	}

	b := &pgx.Batch{}
	queueIndex(b, query, rows)

	var affected int64
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		affected, err = sendBatch(ctx, tx, b)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write %d index rows: %w", len(rows), err)
	}
	s.logger.Info().Int("row_count", len(rows)).Int64("rows_affected", affected).Str("policy", policy.String()).Msg("Wrote index rows")
	return nil
}
