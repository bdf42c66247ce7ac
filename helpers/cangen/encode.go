// cangen/encode.go

package cangen

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
	"gopkg.in/yaml.v3"
)

// Layout is an on-disk can layout.
type Layout int

const (
	LayoutJSONL Layout = iota
	LayoutJSONLGz
	LayoutJSONLZ4
	LayoutYAML
	LayoutYAMLLZ4
	LayoutTarLZ4
	LayoutTarGz
)

// Extension returns the file suffix of the layout.
func (l Layout) Extension() string {
	switch l {
	case LayoutJSONLGz:
		return ".jsonl.gz"
	case LayoutJSONLZ4:
		return ".json.lz4"
	case LayoutYAML:
		return ".yaml"
	case LayoutYAMLLZ4:
		return ".yaml.lz4"
	case LayoutTarLZ4:
		return ".tar.lz4"
	case LayoutTarGz:
		return ".tar.gz"
	default:
		return ".jsonl"
	}
}

// headerKeys are hoisted into the report header of YAML cans.
var headerKeys = []string{"report_id", "test_name", "probe_cc", "probe_asn", "software_name", "software_version"}

// EncodeCan writes the measurements to w in the given layout. name is used for the
// inner entry of tarballs.
func EncodeCan(w io.Writer, name string, layout Layout, ms []Measurement) error {
	switch layout {
	case LayoutJSONL:
		return writeJSONL(w, ms)
	case LayoutJSONLGz:
		gz := gzip.NewWriter(w)
		if err := writeJSONL(gz, ms); err != nil {
			return err
		}
		return gz.Close()
	case LayoutJSONLZ4:
		zw := lz4.NewWriter(w)
		if err := writeJSONL(zw, ms); err != nil {
			return err
		}
		return zw.Close()
	case LayoutYAML:
		return writeYAMLReport(w, ms)
	case LayoutYAMLLZ4:
		zw := lz4.NewWriter(w)
		if err := writeYAMLReport(zw, ms); err != nil {
			return err
		}
		return zw.Close()
	case LayoutTarLZ4:
		zw := lz4.NewWriter(w)
		if err := writeTar(zw, name, ms); err != nil {
			return err
		}
		return zw.Close()
	case LayoutTarGz:
		gz := gzip.NewWriter(w)
		if err := writeTar(gz, name, ms); err != nil {
			return err
		}
		return gz.Close()
	default:
		return fmt.Errorf("unknown layout %d", layout)
	}
}

func writeJSONL(w io.Writer, ms []Measurement) error {
	enc := json.NewEncoder(w)
	for _, m := range ms {
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("failed to encode measurement: %w", err)
		}
	}
	return nil
}

// writeYAMLReport writes a legacy report: the header taken from the first
// measurement, then one entry document per measurement without the header keys.
// writeYAMLReport writes the legacy report layout: start times are Unix seconds,
// the report's in the header start_time and each entry's in test_start_time. Entries
// carry no measurement_start_time.
func writeYAMLReport(w io.Writer, ms []Measurement) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	if len(ms) == 0 {
		return nil
	}
	header := map[string]any{}
	for _, k := range headerKeys {
		header[k] = ms[0][k]
	}
	start, err := unixStart(ms[0])
	if err != nil {
		return err
	}
	header["start_time"] = start
	if err := enc.Encode(header); err != nil {
		return fmt.Errorf("failed to encode report header: %w", err)
	}
	for _, m := range ms {
		entry := map[string]any{}
		for k, v := range m {
			entry[k] = v
		}
		for _, k := range headerKeys {
			delete(entry, k)
		}
		delete(entry, "measurement_start_time")
		if entry["test_start_time"], err = unixStart(m); err != nil {
			return err
		}
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("failed to encode report entry: %w", err)
		}
	}
	return nil
}

func unixStart(m Measurement) (float64, error) {
	s, _ := m["measurement_start_time"].(string)
	t, err := time.Parse(startTimeLayout, s)
	if err != nil {
		return 0, fmt.Errorf("measurement start time %q: %w", s, err)
	}
	return float64(t.Unix()), nil
}

func writeTar(w io.Writer, name string, ms []Measurement) error {
	var body bytes.Buffer
	if err := writeJSONL(&body, ms); err != nil {
		return err
	}
	tw := tar.NewWriter(w)
	hdr := &tar.Header{
		Name:     name + ".jsonl",
		Mode:     0o644,
		Size:     int64(body.Len()),
		ModTime:  time.Unix(0, 0),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header: %w", err)
	}
	if _, err := tw.Write(body.Bytes()); err != nil {
		return fmt.Errorf("failed to write tar entry: %w", err)
	}
	return tw.Close()
}
