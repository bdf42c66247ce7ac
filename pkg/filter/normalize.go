package filter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
)

// ErrMalformed marks records that cannot be turned into a Measurement.
var ErrMalformed = errors.New("malformed measurement")

const meekTestName = "meek_fronted_requests_test"

var startTimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 MST",
	"20060102T150405Z",
}

// Normalize turns a raw record into a typed Measurement. It fails with ErrMalformed
// when the record is not a JSON object or lacks the fields every measurement has.
// The start time is not checked here. HasStartTime records whether the field was
// present and truthy; StartTime stays zero when no known layout matches.
func Normalize(rec types.RawRecord) (*types.Measurement, error) {
	if rec.Err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, rec.Err)
	}

	raw := json.RawMessage(rec.Data)
	fields, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}

	// Wrapped records carry the measurement under "content".
	if len(fields) == 2 && fields["content"] != nil && fields["format"] != nil {
		raw = fields["content"]
		if fields, err = decodeObject(raw); err != nil {
			return nil, err
		}
	}

	testName, ok := stringField(fields, "test_name")
	if !ok {
		return nil, fmt.Errorf("%w: missing test_name", ErrMalformed)
	}
	probeCC, ok := stringField(fields, "probe_cc")
	if !ok {
		return nil, fmt.Errorf("%w: missing probe_cc", ErrMalformed)
	}
	input, domain, err := extractInputDomain(fields["input"], testName)
	if err != nil {
		return nil, err
	}

	var doc bytes.Buffer
	if err := json.Compact(&doc, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	m := &types.Measurement{
		UID:      rec.UID,
		TestName: testName,
		ProbeCC:  strings.ToUpper(probeCC),
		Input:    input,
		Domain:   domain,
		Document: doc.Bytes(),
	}
	m.StartTime, m.HasStartTime = parseStartTime(fields["measurement_start_time"])
	m.ReportID, _ = stringField(fields, "report_id")
	m.ProbeASN, _ = stringField(fields, "probe_asn")
	m.SoftwareName, _ = stringField(fields, "software_name")
	m.SoftwareVersion, _ = stringField(fields, "software_version")

	if ann, err := decodeObject(fields["annotations"]); err == nil {
		m.Platform, _ = stringField(ann, "platform")
	}
	return m, nil
}

func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object: %v", ErrMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: null document", ErrMalformed)
	}
	return fields, nil
}

// stringField returns a string-typed field; ok is false when absent, null or not a string.
func stringField(fields map[string]json.RawMessage, name string) (string, bool) {
	raw, present := fields[name]
	if !present {
		return "", false
	}
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil || s == nil {
		return "", false
	}
	return *s, true
}

// extractInputDomain returns the measurement input and the domain it targets.
// List inputs are only valid for meek_fronted_requests_test, whose two-element
// [front, host] input is joined with ":" and whose domain is the front.
func extractInputDomain(raw json.RawMessage, testName string) (*string, string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s, domainOf(s), nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if testName == meekTestName && len(list) == 2 {
			joined := strings.Join(list, ":")
			return &joined, list[0], nil
		}
		return nil, "", fmt.Errorf("%w: list input for %s", ErrMalformed, testName)
	}
	return nil, "", fmt.Errorf("%w: input is neither a string nor a list", ErrMalformed)
}

func domainOf(input string) string {
	if strings.Contains(input, "://") {
		if u, err := url.Parse(input); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	return input
}

// parseStartTime reports whether raw is truthy: absent, null, false, 0, "" and
// empty arrays or objects are not. Numbers are Unix seconds.
func parseStartTime(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 {
		return time.Time{}, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return time.Time{}, false
	}
	switch val := v.(type) {
	case nil:
		return time.Time{}, false
	case bool:
		return time.Time{}, val
	case float64:
		if val == 0 {
			return time.Time{}, false
		}
		sec, frac := math.Modf(val)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	case string:
		if val == "" {
			return time.Time{}, false
		}
		for _, layout := range startTimeLayouts {
			if t, err := time.Parse(layout, val); err == nil {
				return t.UTC(), true
			}
		}
		return time.Time{}, true
	case []any:
		return time.Time{}, len(val) > 0
	case map[string]any:
		return time.Time{}, len(val) > 0
	}
	return time.Time{}, true
}
