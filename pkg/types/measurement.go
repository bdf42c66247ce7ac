package types

import (
	"encoding/json"
	"strings"
	"time"
)

// ====================================================================================
// This file defines the measurement records that flow through the reprocessing
// pipeline: the raw form produced by an archive decoder and the typed form produced
// by the filter's normalize step.
// ====================================================================================

// RawRecord is one record as it comes out of an archive, before normalization.
type RawRecord struct {
	// UID is the measurement identity used for deduplication. Decoders fill it from
	// the record's own measurement_uid or derive a trivial id from its content.
	UID string
	// Data is the raw JSON document.
	Data []byte
	// Err is set when the decoder could not turn the record into a JSON document at
	// all (e.g. a truncated line). Such records are counted as malformed.
	Err error
}

// Measurement is the well-typed form of an accepted measurement.
type Measurement struct {
	UID      string
	ReportID string
	TestName string
	ProbeCC  string
	ProbeASN string
	Input    *string
	Domain   string
	// StartTime is zero when the record's start time uses no known layout.
	StartTime time.Time
	// HasStartTime is false when the start time is missing or falsy.
	HasStartTime    bool
	SoftwareName    string
	SoftwareVersion string
	Platform        string

	// Document is the compact, single-line JSON body written to the shard.
	Document json.RawMessage
}

// ShardKey returns the (country, test) key the measurement is sharded under.
func (m *Measurement) ShardKey() ShardKey {
	return NewShardKey(m.ProbeCC, m.TestName)
}

// InputValue returns the input or the empty string when the measurement has none.
func (m *Measurement) InputValue() string {
	if m.Input == nil {
		return ""
	}
	return *m.Input
}

// ShardKey is the composite key that owns at most one open shard at a time.
type ShardKey struct {
	Country string
	// Test is the test name with underscores removed, as used in shard paths.
	Test string
}

// NewShardKey builds a key from a probe country code and a raw test name.
func NewShardKey(country, testName string) ShardKey {
	return ShardKey{
		Country: strings.ToUpper(country),
		Test:    strings.ReplaceAll(testName, "_", ""),
	}
}

func (k ShardKey) String() string {
	return k.Country + "/" + k.Test
}

// Less orders keys by country then test.
func (k ShardKey) Less(o ShardKey) bool {
	if k.Country != o.Country {
		return k.Country < o.Country
	}
	return k.Test < o.Test
}
