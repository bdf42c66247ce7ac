package scoring

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
	"github.com/rs/zerolog"
)

const (
	defaultSoftware = "unknown"
	defaultPlatform = "unset"
)

// AnalysisWriter stores scored measurements under a write policy.
type AnalysisWriter interface {
	WriteAnalysis(ctx context.Context, rows []types.AnalysisRow, policy types.WritePolicy) error
}

// DefaultBatchSize is the number of analysis rows written per call when
// AdapterConfig.BatchSize is zero.
const DefaultBatchSize = 1000

// AdapterConfig holds the write policy and batching of an Adapter.
type AdapterConfig struct {
	Policy    types.WritePolicy
	BatchSize int
}

// Adapter scores accepted measurements and writes the resulting analysis rows in
// batches. Rows buffered since the last write are lost unless Flush is called.
type Adapter struct {
	scorer    Scorer
	writer    AnalysisWriter
	policy    types.WritePolicy
	batchSize int
	pending   []types.AnalysisRow
	logger    zerolog.Logger
}

// NewAdapter creates an Adapter. scorer and writer may be nil when the policy is
// PolicySkip.
func NewAdapter(scorer Scorer, writer AnalysisWriter, cfg AdapterConfig, logger zerolog.Logger) (*Adapter, error) {
	if cfg.Policy != types.PolicySkip && (scorer == nil || writer == nil) {
		return nil, errors.New("analysis writes require a scorer and a writer")
	}
	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("analysis batch size must not be negative, got %d", cfg.BatchSize)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Adapter{
		scorer:    scorer,
		writer:    writer,
		policy:    cfg.Policy,
		batchSize: cfg.BatchSize,
		logger:    logger.With().Str("component", "ScoringAdapter").Logger(),
	}, nil
}

// Process scores m and buffers its analysis row, writing the buffer once it holds
// a full batch. With PolicySkip it does nothing.
func (a *Adapter) Process(ctx context.Context, m *types.Measurement) error {
	if a.policy == types.PolicySkip {
		return nil
	}
	scores, err := a.scorer.Score(ctx, m)
	if err != nil {
		return fmt.Errorf("failed to score %s: %w", m.UID, err)
	}
	row := Derive(m, scores)
	a.pending = append(a.pending, row)
	a.logger.Debug().Str("measurement_uid", m.UID).Bool("anomaly", row.Anomaly).Bool("failure", row.Failure).Msg("Scored measurement")

	if len(a.pending) >= a.batchSize {
		return a.Flush(ctx)
	}
	return nil
}

// Flush writes any buffered rows. The buffer is kept when the write fails.
func (a *Adapter) Flush(ctx context.Context) error {
	if len(a.pending) == 0 {
		return nil
	}
	if err := a.writer.WriteAnalysis(ctx, a.pending, a.policy); err != nil {
		return fmt.Errorf("failed to write %d analysis rows: %w", len(a.pending), err)
	}
	a.logger.Debug().Int("row_count", len(a.pending)).Msg("Flushed analysis rows")
	a.pending = nil
	return nil
}

// Derive builds the analysis row: anomaly when blocking_general > 0.5, failure
// when accuracy < 0.5 (accuracy defaults to 1.0), confirmed from the scores.
func Derive(m *types.Measurement, scores Scores) types.AnalysisRow {
	row := types.AnalysisRow{
		MeasurementUID:  m.UID,
		ReportID:        m.ReportID,
		Input:           m.Input,
		Domain:          m.Domain,
		TestName:        m.TestName,
		ProbeCC:         m.ProbeCC,
		ProbeASN:        m.ProbeASN,
		SoftwareName:    orDefault(m.SoftwareName, defaultSoftware),
		SoftwareVersion: orDefault(m.SoftwareVersion, defaultSoftware),
		Platform:        orDefault(m.Platform, defaultPlatform),
		Scores:          scores,
		Anomaly:         number(scores, "blocking_general", 0.0) > 0.5,
		Failure:         number(scores, "accuracy", 1.0) < 0.5,
	}
	if !m.StartTime.IsZero() {
		start := m.StartTime
		row.MeasurementStartTime = &start
	}
	if c, ok := scores["confirmed"].(bool); ok {
		row.Confirmed = c
	}
	return row
}

func number(scores Scores, key string, def float64) float64 {
	switch v := scores[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
