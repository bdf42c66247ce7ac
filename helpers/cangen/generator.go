// cangen/generator.go

package cangen

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const startTimeLayout = "2006-01-02 15:04:05"

// Measurement is a synthetic measurement document.
type Measurement map[string]any

// Probe describes one simulated vantage point.
type Probe struct {
	CC       string
	ASN      string
	TestName string
	// Inputs are cycled through; a nil or empty slice produces input-less measurements.
	Inputs []string
	// WithUID controls whether measurements carry a measurement_uid. Without one the
	// reprocessor derives a trivial id.
	WithUID bool
}

// Generator produces deterministic measurements for one day.
type Generator struct {
	day    time.Time
	probes []*Probe
	seq    int
	logger zerolog.Logger
}

// NewGenerator creates a Generator for day.
func NewGenerator(day time.Time, probes []*Probe, logger zerolog.Logger) *Generator {
	return &Generator{
		day:    day,
		probes: probes,
		logger: logger.With().Str("component", "CanGenerator").Logger(),
	}
}

// Generate returns n measurements spread round-robin over the probes. Each probe
// uses a single report per Generator.
func (g *Generator) Generate(n int) []Measurement {
	out := make([]Measurement, 0, n)
	for i := 0; i < n && len(g.probes) > 0; i++ {
		p := g.probes[i%len(g.probes)]
		g.seq++

		var input any
		if len(p.Inputs) > 0 {
			input = p.Inputs[g.seq%len(p.Inputs)]
		}
		m := NewMeasurement(g.reportID(p), p.TestName, p.CC, p.ASN, input, g.day.Add(time.Duration(g.seq)*time.Second))
		if p.WithUID {
			m["measurement_uid"] = fmt.Sprintf("%s%06d.%s_%s", g.day.Format("20060102"), g.seq, p.CC, p.TestName)
		}
		out = append(out, m)
	}
	return out
}

func (g *Generator) reportID(p *Probe) string {
	return fmt.Sprintf("%sT000000Z_%s_%s_%s_n1_synthetic", g.day.Format("20060102"), p.TestName, p.CC, p.ASN)
}

// NewMeasurement builds a minimal, valid measurement document.
func NewMeasurement(reportID, testName, cc, asn string, input any, start time.Time) Measurement {
	return Measurement{
		"report_id":              reportID,
		"test_name":              testName,
		"probe_cc":               cc,
		"probe_asn":              asn,
		"input":                  input,
		"measurement_start_time": start.UTC().Format(startTimeLayout),
		"test_start_time":        start.UTC().Format(startTimeLayout),
		"software_name":          "ooniprobe-synthetic",
		"software_version":       "0.0.1",
		"annotations":            map[string]any{"platform": "linux"},
		"test_keys":              map[string]any{},
	}
}

// Key returns the source key of a can named name for the generator's day.
func (g *Generator) Key(name string, layout Layout) string {
	return fmt.Sprintf("canned/%s/%s%s", g.day.Format("2006-01-02"), name, layout.Extension())
}

// Publish encodes the measurements as one can and uploads it, returning its key.
func (g *Generator) Publish(ctx context.Context, up Uploader, name string, layout Layout, ms []Measurement) (string, error) {
	var buf bytes.Buffer
	if err := EncodeCan(&buf, name, layout, ms); err != nil {
		return "", err
	}
	key := g.Key(name, layout)
	n, err := up.Upload(ctx, key, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to upload can %s: %w", key, err)
	}
	g.logger.Info().Str("key", key).Int("measurements", len(ms)).Int64("bytes", n).Msg("Published can")
	return key, nil
}
