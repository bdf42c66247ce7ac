// Package main is the entry point of the reprocessor: it re-packages one day of
// legacy measurement cans into content-addressed shards, indexes them and scores
// every accepted measurement.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/msmt-reprocessor/pkg/config"
	"github.com/illmade-knight/msmt-reprocessor/pkg/reprocess"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const pushJob = "reprocessor"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reprocessor SRC DST",
		Short: "Reprocess one day of measurement cans into indexed shards",
		Long: `Reads the cans stored under canned/YYYY-MM-DD/ in SRC, filters and deduplicates
the measurements, writes them into gzip JSONL shards published to DST and records
where each measurement lives. Stores are s3://bucket, gs://bucket or file:///dir.

Every setting can also come from a REPROCESSOR_* environment variable or a YAML
file passed with --config.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	config.AddFlags(cmd)
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd, args)
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg)
	ctx := cmd.Context()

	p, err := reprocess.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	defer func() {
		if closeErr := p.Close(); closeErr != nil {
			logger.Warn().Err(closeErr).Msg("Failed to release run resources")
		}
	}()

	sum, runErr := p.Driver.Run(ctx)

	// Metrics are pushed for failed runs too. The run context may already be
	// cancelled, so the push gets its own.
	pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Counters.Push(pushCtx, cfg.PushGateway, pushJob, logger); err != nil {
		logger.Warn().Err(err).Msg("Failed to push metrics")
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return fmt.Errorf("run %s interrupted: %w", p.RunID, runErr)
		}
		return fmt.Errorf("run %s: %w", p.RunID, runErr)
	}

	logger.Info().
		Str("run_id", sum.RunID).
		Int("archives", sum.ArchivesProcessed).
		Int64("accepted", sum.Accepted).
		Int64("discarded", sum.TotalDiscarded()).
		Msg("Reprocessing finished")
	return nil
}

func newLogger(w io.Writer, cfg *config.RunConfig) zerolog.Logger {
	if cfg.LogFormat != config.LogFormatJSON {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(cfg.Level).With().Timestamp().Str("day", cfg.DayKey()).Logger()
}
