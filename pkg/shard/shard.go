package shard

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
	"github.com/klauspost/compress/gzip"
)

// ====================================================================================
// A Shard is one size-bounded gzip JSONL file under construction. It is written
// locally, then finalized: named after a hash of its report ids, published to the
// destination store and indexed.
// ====================================================================================

// State is the lifecycle stage of a shard.
type State int

const (
	StateOpen State = iota
	StateFinalizing
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateFinalizing:
		return "finalizing"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Shard accumulates measurements for one ShardKey.
type Shard struct {
	Key       types.ShardKey
	Day       time.Time
	LocalPath string

	file  *os.File
	gz    *gzip.Writer
	size  int64
	rows  []*types.LookupRow
	state State
}

func openShard(dir string, key types.ShardKey, day time.Time, seq int) (*Shard, error) {
	local := filepath.Join(dir, LocalName(key, day, seq))
	f, err := os.Create(local)
	if err != nil {
		return nil, fmt.Errorf("failed to create shard file %s: %w", local, err)
	}
	return &Shard{
		Key:       key,
		Day:       day,
		LocalPath: local,
		file:      f,
		gz:        gzip.NewWriter(f),
	}, nil
}

// write appends one document line and its lookup row.
func (s *Shard) write(doc []byte, row *types.LookupRow) error {
	if s.state != StateOpen {
		return fmt.Errorf("shard %s is %s", s.LocalPath, s.state)
	}
	if _, err := s.gz.Write(doc); err != nil {
		return fmt.Errorf("failed to write to shard %s: %w", s.LocalPath, err)
	}
	if _, err := s.gz.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("failed to write to shard %s: %w", s.LocalPath, err)
	}
	row.LineNum = len(s.rows)
	s.rows = append(s.rows, row)
	s.size += int64(len(doc)) + 1
	return nil
}

// close flushes the gzip stream and moves the shard to StateFinalizing.
func (s *Shard) close() error {
	if s.state != StateOpen {
		return nil
	}
	s.state = StateFinalizing
	gzErr := s.gz.Close()
	fileErr := s.file.Close()
	if gzErr != nil {
		return fmt.Errorf("failed to close gzip stream of %s: %w", s.LocalPath, gzErr)
	}
	if fileErr != nil {
		return fmt.Errorf("failed to close shard file %s: %w", s.LocalPath, fileErr)
	}
	return nil
}

// discard closes and deletes the local file without publishing it.
func (s *Shard) discard() error {
	_ = s.close()
	if err := os.Remove(s.LocalPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Size is the number of uncompressed bytes written.
func (s *Shard) Size() int64 { return s.size }

// State returns the lifecycle stage.
func (s *Shard) State() State { return s.state }

// Rows returns the lookup rows in append order.
func (s *Shard) Rows() []*types.LookupRow { return s.rows }
