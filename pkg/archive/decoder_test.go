package archive

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/illmade-knight/msmt-reprocessor/helpers/cangen"
	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCan(t *testing.T, name string, layout cangen.Layout, ms []cangen.Measurement) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name+layout.Extension())
	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, cangen.EncodeCan(f, name, layout, ms))
	require.NoError(t, f.Close())
	return p
}

func readAll(t *testing.T, it RecordIterator) []types.RawRecord {
	t.Helper()
	var out []types.RawRecord
	for {
		rec, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
	require.NoError(t, it.Close())
	return out
}

func sampleMeasurements() []cangen.Measurement {
	g := cangen.NewGenerator(time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC), []*cangen.Probe{
		{CC: "IT", ASN: "AS123", TestName: "web_connectivity", Inputs: []string{"https://a.example/", "https://b.example/"}, WithUID: true},
	}, zerolog.Nop())
	return g.Generate(3)
}

func TestDecoder_Layouts(t *testing.T) {
	layouts := map[string]cangen.Layout{
		"jsonl":    cangen.LayoutJSONL,
		"jsonl.gz": cangen.LayoutJSONLGz,
		"json.lz4": cangen.LayoutJSONLZ4,
		"tar.lz4":  cangen.LayoutTarLZ4,
		"tar.gz":   cangen.LayoutTarGz,
		"yaml":     cangen.LayoutYAML,
		"yaml.lz4": cangen.LayoutYAMLLZ4,
	}
	ms := sampleMeasurements()
	dec := NewDecoder(zerolog.Nop())

	for name, layout := range layouts {
		t.Run(name, func(t *testing.T) {
			it, err := dec.Open(writeCan(t, "can", layout, ms))
			require.NoError(t, err)
			recs := readAll(t, it)
			require.Len(t, recs, len(ms))
			for i, rec := range recs {
				require.NoError(t, rec.Err)
				assert.Equal(t, ms[i]["measurement_uid"], rec.UID)

				var doc map[string]any
				require.NoError(t, json.Unmarshal(rec.Data, &doc))
				assert.Equal(t, ms[i]["report_id"], doc["report_id"])
				assert.Equal(t, ms[i]["input"], doc["input"])
				assert.Equal(t, "IT", doc["probe_cc"])
				assert.Equal(t, ms[i]["measurement_start_time"], doc["measurement_start_time"])
			}
		})
	}
}

func TestDecoder_YAMLHeaderStartTime(t *testing.T) {
	p := filepath.Join(t.TempDir(), "report.yaml")
	body := "---\nreport_id: r1\ntest_name: tcp_connect\nprobe_cc: IT\nstart_time: 1420070400\n" +
		"---\ninput: 1.2.3.4:80\n" +
		"---\ninput: 5.6.7.8:80\ntest_start_time: 1420070460.0\n"
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))

	it, err := NewDecoder(zerolog.Nop()).Open(p)
	require.NoError(t, err)
	recs := readAll(t, it)
	require.Len(t, recs, 2)

	want := []string{"2015-01-01 00:00:00", "2015-01-01 00:01:00"}
	for i, rec := range recs {
		require.NoError(t, rec.Err)
		var doc map[string]any
		require.NoError(t, json.Unmarshal(rec.Data, &doc))
		assert.Equal(t, want[i], doc["measurement_start_time"])
		assert.Equal(t, "r1", doc["report_id"])
	}
}

func TestDecoder_BadLineDoesNotAbort(t *testing.T) {
	p := filepath.Join(t.TempDir(), "broken.jsonl")
	body := `{"report_id":"r1","measurement_uid":"u1"}` + "\n" +
		`{"report_id":` + "\n" +
		"\n" +
		`{"report_id":"r2","measurement_uid":"u2"}` + "\n"
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))

	it, err := NewDecoder(zerolog.Nop()).Open(p)
	require.NoError(t, err)
	recs := readAll(t, it)
	require.Len(t, recs, 3)
	assert.Equal(t, "u1", recs[0].UID)
	assert.Error(t, recs[1].Err)
	assert.Equal(t, "u2", recs[2].UID)
}

func TestDecoder_UnsupportedFormat(t *testing.T) {
	p := filepath.Join(t.TempDir(), "can.zip")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	_, err := NewDecoder(zerolog.Nop()).Open(p)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestTrivialID(t *testing.T) {
	a, err := TrivialID([]byte(`{"b":1,"a":"x"}`))
	require.NoError(t, err)
	b, err := TrivialID([]byte(`{ "a": "x", "b": 1 }`))
	require.NoError(t, err)
	c, err := TrivialID([]byte(`{"a":"y","b":1}`))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
	assert.Equal(t, "00", a[:2])
}

func TestRecordUID_Wrapped(t *testing.T) {
	uid, err := recordUID([]byte(`{"format":"json","content":{"measurement_uid":"inner"}}`))
	require.NoError(t, err)
	assert.Equal(t, "inner", uid)

	uid, err = recordUID([]byte(`{"report_id":"r"}`))
	require.NoError(t, err)
	assert.Equal(t, "00", uid[:2])
}
