package archive

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// TrivialID derives a stable measurement identity for records that carry no
// measurement_uid: "00" followed by 15 bytes of SHAKE-128 over the canonical
// (sorted-key, compact) JSON form of the document.
func TrivialID(doc []byte) (string, error) {
	canonical, err := canonicalJSON(doc)
	if err != nil {
		return "", err
	}
	sum := make([]byte, 15)
	sha3.ShakeSum128(sum, canonical)
	return "00" + hex.EncodeToString(sum), nil
}

// canonicalJSON re-encodes a document with sorted object keys. Numbers are kept
// verbatim.
func canonicalJSON(doc []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode canonical document: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// recordUID returns the document's measurement_uid (looking inside wrapped
// content/format records too) or its trivial id.
func recordUID(doc []byte) (string, error) {
	var probe struct {
		MeasurementUID string          `json:"measurement_uid"`
		Content        json.RawMessage `json:"content"`
		Format         string          `json:"format"`
	}
	if err := json.Unmarshal(doc, &probe); err != nil {
		return "", fmt.Errorf("failed to decode document: %w", err)
	}
	if probe.MeasurementUID != "" {
		return probe.MeasurementUID, nil
	}
	if len(probe.Content) > 0 && probe.Format != "" {
		var inner struct {
			MeasurementUID string `json:"measurement_uid"`
		}
		if json.Unmarshal(probe.Content, &inner) == nil && inner.MeasurementUID != "" {
			return inner.MeasurementUID, nil
		}
	}
	return TrivialID(doc)
}
