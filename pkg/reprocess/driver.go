package reprocess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/illmade-knight/msmt-reprocessor/pkg/archive"
	"github.com/illmade-knight/msmt-reprocessor/pkg/filter"
	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
	"github.com/rs/zerolog"
)

// ====================================================================================
// This file contains the run driver: the single thread of control that takes one
// day of cans through fetch, decode, filter, shard and score, then drains the
// remaining shards. Archives and records are handled strictly in order.
// ====================================================================================

// ArchiveSource lists and fetches the cans of a day.
type ArchiveSource interface {
	List(ctx context.Context, day time.Time) ([]archive.Archive, int64, error)
	Fetch(ctx context.Context, a archive.Archive) (string, error)
	Release(local string)
}

// RecordDecoder opens a local can as a stream of raw records.
type RecordDecoder interface {
	Open(path string) (archive.RecordIterator, error)
}

// RecordFilter turns a raw record into an accepted measurement or a rejection.
type RecordFilter interface {
	Check(ctx context.Context, rec types.RawRecord) (*types.Measurement, error)
}

// ShardWriter accepts measurements into shards.
type ShardWriter interface {
	Append(ctx context.Context, key types.ShardKey, m *types.Measurement, a archive.Archive) (*types.LookupRow, error)
	Drain(ctx context.Context) error
	Abort()
}

// MeasurementProcessor handles an accepted measurement after it has been sharded.
// Flush is called once every archive has been processed, before the shards drain.
type MeasurementProcessor interface {
	Process(ctx context.Context, m *types.Measurement) error
	Flush(ctx context.Context) error
}

// RunCounters receives run level observations. It may be nil.
type RunCounters interface {
	Accepted()
	ArchiveProcessed(size int64)
	SetProgress(ratio float64)
}

// State is the position of a Driver in its run.
type State int

const (
	StateInit State = iota
	StateListing
	StateProcessing
	StateDraining
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateListing:
		return "listing"
	case StateProcessing:
		return "processing"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Components are the collaborators a Driver runs. Scorer and Counters are optional.
type Components struct {
	Source   ArchiveSource
	Decoder  RecordDecoder
	Filter   RecordFilter
	Shards   ShardWriter
	Scorer   MeasurementProcessor
	Counters RunCounters
}

// Summary reports what a run did.
type Summary struct {
	RunID             string
	Day               time.Time
	State             State
	ArchivesListed    int
	ArchivesProcessed int
	BytesTotal        int64
	BytesProcessed    int64
	Records           int64
	Accepted          int64
	Discarded         map[filter.Reason]int64
	Elapsed           time.Duration
}

// TotalDiscarded sums the discards over all reasons.
func (s *Summary) TotalDiscarded() int64 {
	var n int64
	for _, v := range s.Discarded {
		n += v
	}
	return n
}

// Driver runs one reprocessing day.
type Driver struct {
	runID string
	day   time.Time
	c     Components
	state State
	now   func() time.Time

	logger zerolog.Logger
}

// NewDriver creates a Driver for day.
func NewDriver(runID string, day time.Time, c Components, logger zerolog.Logger) (*Driver, error) {
	if c.Source == nil || c.Decoder == nil || c.Filter == nil || c.Shards == nil {
		return nil, errors.New("driver requires a source, decoder, filter and shard writer")
	}
	return &Driver{
		runID:  runID,
		day:    day,
		c:      c,
		state:  StateInit,
		now:    time.Now,
		logger: logger.With().Str("component", "RunDriver").Str("run_id", runID).Str("day", day.Format("2006-01-02")).Logger(),
	}, nil
}

// State returns the current state.
func (d *Driver) State() State { return d.state }

func (d *Driver) setState(s State) {
	d.logger.Debug().Stringer("from", d.state).Stringer("to", s).Msg("Run state change")
	d.state = s
}

// Run processes every can of the day and drains the open shards. Any storage or
// database error aborts the run: open shards are discarded and the error returned
// together with the partial summary.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	started := d.now()
	sum := &Summary{
		RunID:     d.runID,
		Day:       d.day,
		Discarded: make(map[filter.Reason]int64),
	}

	err := d.run(ctx, sum, started)
	sum.Elapsed = d.now().Sub(started)
	if err != nil {
		d.c.Shards.Abort()
		d.setState(StateFailed)
		sum.State = d.state
		d.logger.Error().Err(err).Int("archives_processed", sum.ArchivesProcessed).Msg("Run failed")
		return sum, err
	}

	d.setState(StateDone)
	sum.State = d.state
	d.logger.Info().
		Int("archives", sum.ArchivesProcessed).
		Str("bytes", humanize.Bytes(uint64(sum.BytesProcessed))).
		Str("accepted", humanize.Comma(sum.Accepted)).
		Str("discarded", humanize.Comma(sum.TotalDiscarded())).
		Dur("elapsed", sum.Elapsed).
		Msg("Run complete")
	return sum, nil
}

func (d *Driver) run(ctx context.Context, sum *Summary, started time.Time) error {
	d.setState(StateListing)
	archives, total, err := d.c.Source.List(ctx, d.day)
	if err != nil {
		return err
	}
	sum.ArchivesListed = len(archives)
	sum.BytesTotal = total

	d.setState(StateProcessing)
	progress := NewProgress(total, started)
	for _, a := range archives {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.processArchive(ctx, a, sum); err != nil {
			return fmt.Errorf("archive %s: %w", a.Key, err)
		}
		sum.ArchivesProcessed++
		sum.BytesProcessed += a.Size
		progress.Add(a.Size)
		if d.c.Counters != nil {
			d.c.Counters.ArchiveProcessed(a.Size)
			d.c.Counters.SetProgress(progress.Ratio())
		}
		progress.Log(d.logger, a.Key, d.now())
	}

	d.setState(StateDraining)
	if d.c.Scorer != nil {
		if err := d.c.Scorer.Flush(ctx); err != nil {
			return err
		}
	}
	return d.c.Shards.Drain(ctx)
}

func (d *Driver) processArchive(ctx context.Context, a archive.Archive, sum *Summary) error {
	local, err := d.c.Source.Fetch(ctx, a)
	if err != nil {
		return err
	}
	defer d.c.Source.Release(local)

	it, err := d.c.Decoder.Open(local)
	if err != nil {
		return err
	}
	defer it.Close()

	for {
		rec, err := it.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to decode: %w", err)
		}
		sum.Records++
		if err := d.processRecord(ctx, rec, a, sum); err != nil {
			return err
		}
	}
}

func (d *Driver) processRecord(ctx context.Context, rec types.RawRecord, a archive.Archive, sum *Summary) error {
	m, err := d.c.Filter.Check(ctx, rec)
	if err != nil {
		var rejected *filter.RejectedError
		if errors.As(err, &rejected) {
			sum.Discarded[rejected.Reason]++
			return nil
		}
		return err
	}

	sum.Accepted++
	if d.c.Counters != nil {
		d.c.Counters.Accepted()
	}
	if _, err := d.c.Shards.Append(ctx, m.ShardKey(), m, a); err != nil {
		return err
	}
	if d.c.Scorer != nil {
		if err := d.c.Scorer.Process(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
