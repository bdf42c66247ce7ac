package types

import "time"

// LookupRow records where one measurement lives inside a published shard.
// Path stays empty until the owning shard is finalized.
type LookupRow struct {
	ReportID       string
	Input          string
	MeasurementUID string
	Path           string
	LineNum        int
	// SourceDate is the date inferred from the source archive key, nil when the key
	// does not follow the dated layout.
	SourceDate *time.Time
	Source     string
}

// AnalysisRow is one scored measurement destined for the analysis table.
type AnalysisRow struct {
	MeasurementUID string
	ReportID       string
	Input          *string
	Domain         string
	TestName       string
	ProbeCC        string
	ProbeASN       string
	// MeasurementStartTime is nil when the start time could not be parsed.
	MeasurementStartTime *time.Time
	SoftwareName         string
	SoftwareVersion      string
	Platform             string
	Scores               map[string]any
	Anomaly              bool
	Confirmed            bool
	Failure              bool
}

// Counts returns the per-row observation counts merged into the analysis table.
func (r AnalysisRow) Counts() (measurements, anomalies, confirmed, failures int64) {
	measurements = 1
	if r.Anomaly {
		anomalies = 1
	}
	if r.Confirmed {
		confirmed = 1
	}
	if r.Failure {
		failures = 1
	}
	return measurements, anomalies, confirmed, failures
}
