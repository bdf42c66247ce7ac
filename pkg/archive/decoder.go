package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ====================================================================================
// The decoder turns a local can into a stream of raw records. Supported layouts:
//
//	.jsonl / .json          one JSON document per line
//	.gz / .lz4              compressed variants of any layout below
//	.yaml                   legacy report: a header document followed by entries
//	.tar                    a tarball of any of the above
//
// Records that cannot be decoded are yielded with Err set so that the caller can
// count them; they never abort the archive.
// ====================================================================================

const measurementStartLayout = "2006-01-02 15:04:05"

// ErrUnsupportedFormat is returned for files whose extension the decoder does not know.
var ErrUnsupportedFormat = errors.New("unsupported archive format")

// RecordIterator yields records until Next returns io.EOF.
type RecordIterator interface {
	Next() (types.RawRecord, error)
	Close() error
}

// Decoder opens local cans.
type Decoder struct {
	logger zerolog.Logger
}

// NewDecoder creates a decoder.
func NewDecoder(logger zerolog.Logger) *Decoder {
	return &Decoder{logger: logger.With().Str("component", "MeasurementDecoder").Logger()}
}

// Open returns an iterator over the records of the file at path.
func (d *Decoder) Open(path string) (RecordIterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	it, err := d.openStream(f, filepath.Base(path))
	if err != nil {
		f.Close()
		return nil, err
	}
	return &closingIterator{RecordIterator: it, closer: f}, nil
}

// openStream strips compression suffixes from name and picks the layout decoder.
func (d *Decoder) openStream(r io.Reader, name string) (RecordIterator, error) {
	var closers []io.Closer
	for {
		switch {
		case strings.HasSuffix(name, ".gz"):
			gz, err := gzip.NewReader(r)
			if err != nil {
				return nil, fmt.Errorf("failed to open gzip stream %s: %w", name, err)
			}
			closers = append(closers, gz)
			r = gz
			name = strings.TrimSuffix(name, ".gz")
			continue
		case strings.HasSuffix(name, ".lz4"):
			r = lz4.NewReader(r)
			name = strings.TrimSuffix(name, ".lz4")
			continue
		}
		break
	}

	var it RecordIterator
	switch {
	case strings.HasSuffix(name, ".jsonl"), strings.HasSuffix(name, ".json"):
		it = newLineIterator(r)
	case strings.HasSuffix(name, ".yaml"):
		it = newYAMLIterator(r)
	case strings.HasSuffix(name, ".tar"):
		it = &tarIterator{tr: tar.NewReader(r), decoder: d}
	default:
		for _, c := range closers {
			c.Close()
		}
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	for i := len(closers) - 1; i >= 0; i-- {
		it = &closingIterator{RecordIterator: it, closer: closers[i]}
	}
	return it, nil
}

type closingIterator struct {
	RecordIterator
	closer io.Closer
}

func (c *closingIterator) Close() error {
	return errors.Join(c.RecordIterator.Close(), c.closer.Close())
}

// newRecord builds a RawRecord from one JSON document.
func newRecord(doc []byte) types.RawRecord {
	if !json.Valid(doc) {
		return types.RawRecord{Data: doc, Err: errors.New("document is not valid JSON")}
	}
	uid, err := recordUID(doc)
	if err != nil {
		return types.RawRecord{Data: doc, Err: err}
	}
	return types.RawRecord{UID: uid, Data: doc}
}

type lineIterator struct {
	r *bufio.Reader
}

func newLineIterator(r io.Reader) *lineIterator {
	return &lineIterator{r: bufio.NewReaderSize(r, 1<<20)}
}

func (it *lineIterator) Next() (types.RawRecord, error) {
	for {
		line, err := it.r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return types.RawRecord{}, fmt.Errorf("failed to read line: %w", err)
		}
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			return newRecord(line), nil
		}
		if err != nil {
			return types.RawRecord{}, io.EOF
		}
	}
}

func (it *lineIterator) Close() error { return nil }

// yamlIterator reads a legacy YAML report. The first document is the report header
// and its keys are copied into every following entry, entry keys taking precedence.
// Legacy entries carry no measurement_start_time; it is taken from the entry's
// test_start_time or else the header's start_time.
type yamlIterator struct {
	dec    *yaml.Decoder
	header map[string]any
	done   bool
}

func newYAMLIterator(r io.Reader) *yamlIterator {
	return &yamlIterator{dec: yaml.NewDecoder(r)}
}

func (it *yamlIterator) Next() (types.RawRecord, error) {
	if it.done {
		return types.RawRecord{}, io.EOF
	}
	if it.header == nil {
		if err := it.dec.Decode(&it.header); err != nil {
			it.done = true
			if errors.Is(err, io.EOF) {
				return types.RawRecord{}, io.EOF
			}
			return types.RawRecord{Err: fmt.Errorf("failed to decode report header: %w", err)}, nil
		}
		if it.header == nil {
			it.header = map[string]any{}
		}
	}

	var entry map[string]any
	if err := it.dec.Decode(&entry); err != nil {
		// A YAML stream cannot be resynchronised after a syntax error.
		it.done = true
		if errors.Is(err, io.EOF) {
			return types.RawRecord{}, io.EOF
		}
		return types.RawRecord{Err: fmt.Errorf("failed to decode report entry: %w", err)}, nil
	}

	merged := make(map[string]any, len(it.header)+len(entry))
	for k, v := range it.header {
		merged[k] = v
	}
	for k, v := range entry {
		merged[k] = v
	}
	if merged["measurement_start_time"] == nil {
		for _, k := range []string{"test_start_time", "start_time"} {
			if start := legacyStartTime(entry[k], it.header[k]); start != nil {
				merged["measurement_start_time"] = start
				break
			}
		}
	}
	doc, err := json.Marshal(merged)
	if err != nil {
		return types.RawRecord{Err: fmt.Errorf("failed to convert report entry to JSON: %w", err)}, nil
	}
	return newRecord(doc), nil
}

func (it *yamlIterator) Close() error { return nil }

// legacyStartTime returns the first non-nil value, with Unix seconds rendered in
// the measurement_start_time layout.
func legacyStartTime(values ...any) any {
	for _, v := range values {
		var sec float64
		switch n := v.(type) {
		case nil:
			continue
		case int:
			sec = float64(n)
		case int64:
			sec = float64(n)
		case uint64:
			sec = float64(n)
		case float64:
			sec = n
		default:
			return v
		}
		if sec == 0 {
			continue
		}
		whole, frac := math.Modf(sec)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC().Format(measurementStartLayout)
	}
	return nil
}

// tarIterator walks the regular files of a tarball and decodes each by its name.
type tarIterator struct {
	tr      *tar.Reader
	decoder *Decoder
	inner   RecordIterator
}

func (it *tarIterator) Next() (types.RawRecord, error) {
	for {
		if it.inner != nil {
			rec, err := it.inner.Next()
			if errors.Is(err, io.EOF) {
				it.inner.Close()
				it.inner = nil
				continue
			}
			return rec, err
		}

		hdr, err := it.tr.Next()
		if errors.Is(err, io.EOF) {
			return types.RawRecord{}, io.EOF
		}
		if err != nil {
			return types.RawRecord{}, fmt.Errorf("failed to read tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		inner, err := it.decoder.openStream(it.tr, hdr.Name)
		if errors.Is(err, ErrUnsupportedFormat) {
			it.decoder.logger.Debug().Str("entry", hdr.Name).Msg("Skipping tar entry with unknown format")
			continue
		}
		if err != nil {
			return types.RawRecord{}, err
		}
		it.inner = inner
	}
}

func (it *tarIterator) Close() error {
	if it.inner != nil {
		return it.inner.Close()
	}
	return nil
}
