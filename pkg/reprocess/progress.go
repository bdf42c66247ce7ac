package reprocess

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Progress tracks processed bytes against the listed total. It is only reported,
// never used to make decisions.
type Progress struct {
	total     int64
	processed int64
	started   time.Time
}

// NewProgress starts tracking total bytes from started.
func NewProgress(total int64, started time.Time) *Progress {
	return &Progress{total: total, started: started}
}

// Add records n more processed bytes.
func (p *Progress) Add(n int64) { p.processed += n }

// Ratio is processed/total in [0, 1]; an empty day counts as complete.
func (p *Progress) Ratio() float64 {
	if p.total <= 0 {
		return 1
	}
	r := float64(p.processed) / float64(p.total)
	if r > 1 {
		return 1
	}
	return r
}

// ETA extrapolates the remaining time from the throughput so far. It is zero
// until something has been processed.
func (p *Progress) ETA(now time.Time) time.Duration {
	if p.processed <= 0 || p.total <= p.processed {
		return 0
	}
	elapsed := now.Sub(p.started)
	remaining := float64(p.total-p.processed) / float64(p.processed) * float64(elapsed)
	return time.Duration(remaining)
}

// Log writes one progress line.
func (p *Progress) Log(logger zerolog.Logger, key string, now time.Time) {
	logger.Info().
		Str("archive", key).
		Str("processed", humanize.Bytes(uint64(p.processed))).
		Str("total", humanize.Bytes(uint64(p.total))).
		Str("percent", humanize.FtoaWithDigits(p.Ratio()*100, 1)).
		Dur("eta", p.ETA(now).Round(time.Second)).
		Msg("Progress")
}
