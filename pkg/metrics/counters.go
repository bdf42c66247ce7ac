package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog"
)

// ====================================================================================
// Run counters. The reprocessor is a one-shot job, so the counters live on a
// registry owned by the run and are optionally pushed to a Pushgateway when the run
// ends instead of being scraped.
// ====================================================================================

const namespace = "reprocessor"

// Counters holds every counter a run updates.
type Counters struct {
	Registry *prometheus.Registry

	discarded         *prometheus.CounterVec
	accepted          prometheus.Counter
	filesGenerated    prometheus.Counter
	filesUploaded     prometheus.Counter
	filesSizeMismatch prometheus.Counter
	archivesProcessed prometheus.Counter
	bytesProcessed    prometheus.Counter
	progress          prometheus.Gauge
}

// NewCounters registers the run counters on a fresh registry.
func NewCounters() *Counters {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Counters{
		Registry: reg,
		discarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_discarded_total",
			Help:      "Measurements discarded by the filter, by reason.",
		}, []string{"reason"}),
		accepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_accepted_total",
			Help:      "Measurements accepted and appended to a shard.",
		}),
		filesGenerated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_generated_total",
			Help:      "Shard files finalized.",
		}),
		filesUploaded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_uploaded_total",
			Help:      "Shard files uploaded to the destination store.",
		}),
		filesSizeMismatch: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_size_mismatch_total",
			Help:      "Shard files whose published copy has a different size.",
		}),
		archivesProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archives_processed_total",
			Help:      "Source archives fully processed.",
		}),
		bytesProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_bytes_processed_total",
			Help:      "Compressed source bytes processed.",
		}),
		progress: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_ratio",
			Help:      "Processed share of the listed archive bytes.",
		}),
	}
}

// Discard implements filter.DiscardCounter.
func (c *Counters) Discard(reason string) { c.discarded.WithLabelValues(reason).Inc() }

func (c *Counters) Accepted()                 { c.accepted.Inc() }
func (c *Counters) FileGenerated()            { c.filesGenerated.Inc() }
func (c *Counters) FileUploaded()             { c.filesUploaded.Inc() }
func (c *Counters) FileSizeMismatch()         { c.filesSizeMismatch.Inc() }
func (c *Counters) SetProgress(ratio float64) { c.progress.Set(ratio) }

// ArchiveProcessed records one fully processed archive of size bytes.
func (c *Counters) ArchiveProcessed(size int64) {
	c.archivesProcessed.Inc()
	c.bytesProcessed.Add(float64(size))
}

// Push sends the registry to a Pushgateway under the given job name. An empty url
// disables pushing.
func (c *Counters) Push(ctx context.Context, url, job string, logger zerolog.Logger) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(c.Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	logger.Info().Str("pushgateway", url).Str("job", job).Msg("Pushed run metrics")
	return nil
}
