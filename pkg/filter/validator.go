package filter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
	"github.com/rs/zerolog"
)

// Reason labels why a record was discarded.
type Reason string

const (
	ReasonMalformed        Reason = "malformed"
	ReasonNoReportID       Reason = "no-report-id"
	ReasonInvalidCountry   Reason = "invalid-country"
	ReasonInvalidASN       Reason = "invalid-asn"
	ReasonDuplicate        Reason = "duplicate"
	ReasonInvalidTimestamp Reason = "invalid-timestamp"
)

// Reasons lists every discard reason in check order.
var Reasons = []Reason{
	ReasonMalformed, ReasonNoReportID, ReasonInvalidCountry,
	ReasonInvalidASN, ReasonDuplicate, ReasonInvalidTimestamp,
}

// ErrRejected is matched by every RejectedError.
var ErrRejected = errors.New("measurement rejected")

// RejectedError reports a per-record rejection. It is never fatal to a run.
type RejectedError struct {
	Reason Reason
	UID    string
	Err    error
}

func (e *RejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("measurement %q rejected (%s): %v", e.UID, e.Reason, e.Err)
	}
	return fmt.Sprintf("measurement %q rejected (%s)", e.UID, e.Reason)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

func (e *RejectedError) Unwrap() error { return e.Err }

// DiscardCounter receives one increment per rejected record.
type DiscardCounter interface {
	Discard(reason string)
}

// Validator applies the acceptance checks in a fixed order; the first failing
// check decides the reason.
type Validator struct {
	dedup   Deduplicator
	counter DiscardCounter
	logger  zerolog.Logger
}

// NewValidator creates a Validator. counter may be nil.
func NewValidator(dedup Deduplicator, counter DiscardCounter, logger zerolog.Logger) (*Validator, error) {
	if dedup == nil {
		return nil, errors.New("validator requires a deduplicator")
	}
	return &Validator{
		dedup:   dedup,
		counter: counter,
		logger:  logger.With().Str("component", "Validator").Logger(),
	}, nil
}

// Check normalizes and validates a record. Accepted measurements are added to the
// deduplication set. Rejections are returned as *RejectedError; any other error
// comes from the deduplicator and is fatal.
func (v *Validator) Check(ctx context.Context, rec types.RawRecord) (*types.Measurement, error) {
	m, err := Normalize(rec)
	if err != nil {
		return nil, v.reject(ReasonMalformed, rec.UID, err)
	}
	if m.ReportID == "" {
		return nil, v.reject(ReasonNoReportID, m.UID, nil)
	}
	if strings.EqualFold(m.ProbeCC, "ZZ") {
		return nil, v.reject(ReasonInvalidCountry, m.UID, nil)
	}
	if strings.EqualFold(m.ProbeASN, "AS0") {
		return nil, v.reject(ReasonInvalidASN, m.UID, nil)
	}
	seen, err := v.dedup.Seen(ctx, m.UID)
	if err != nil {
		return nil, err
	}
	if seen {
		return nil, v.reject(ReasonDuplicate, m.UID, nil)
	}
	if !m.HasStartTime {
		return nil, v.reject(ReasonInvalidTimestamp, m.UID, nil)
	}

	if err := v.dedup.Add(ctx, m.UID); err != nil {
		return nil, err
	}
	return m, nil
}

func (v *Validator) reject(reason Reason, uid string, cause error) error {
	if v.counter != nil {
		v.counter.Discard(string(reason))
	}
	v.logger.Debug().Str("measurement_uid", uid).Str("reason", string(reason)).Err(cause).Msg("Discarding measurement")
	return &RejectedError{Reason: reason, UID: uid, Err: cause}
}
