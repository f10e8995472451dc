package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"carepipe/pkg/errors"
	"carepipe/pkg/models"
)

// Accepted timestamp layouts. Producers outside this module may omit the zone; those are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

type wireEnvelope struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EncodeEnvelope produces the canonical {id, timestamp, data} object.
func EncodeEnvelope(env models.Envelope) ([]byte, error) {
	if isEmptyData(env.Data) {
		return nil, errors.ErrValidation.WithMessage("envelope %q has no data", env.ID)
	}

	wire := wireEnvelope{
		ID:        env.ID,
		Timestamp: env.Timestamp.UTC().Format(time.RFC3339Nano),
		Data:      env.Data,
	}

	body, err := Marshal(wire)
	if err != nil {
		return nil, errors.ErrInternal.WithMessage("failed to encode envelope").WithCause(err)
	}
	return body, nil
}

// DecodeEnvelope fails with DECODE_ERROR on malformed JSON, a bad timestamp or a missing data field.
// Unknown fields are ignored.
func DecodeEnvelope(body []byte) (models.Envelope, error) {
	var wire wireEnvelope
	if err := Unmarshal(body, &wire); err != nil {
		return models.Envelope{}, errors.ErrDecode.WithMessage("malformed envelope").WithCause(err)
	}

	if isEmptyData(wire.Data) {
		return models.Envelope{}, errors.ErrDecode.
			WithMessage("envelope is missing data").
			WithDetail("message_id", wire.ID)
	}

	env := models.Envelope{ID: wire.ID, Data: wire.Data}
	if wire.Timestamp != "" {
		ts, err := parseTimestamp(wire.Timestamp)
		if err != nil {
			return models.Envelope{}, errors.ErrDecode.
				WithMessage("envelope timestamp %q is not ISO-8601", wire.Timestamp).
				WithDetail("message_id", wire.ID).
				WithCause(err)
		}
		env.Timestamp = ts
	}

	return env, nil
}

// Wrap serializes a stage record into a new envelope with a fresh id and the current time.
func Wrap(record any) (models.Envelope, error) {
	return WrapAt(record, time.Now)
}

func WrapAt(record any, now func() time.Time) (models.Envelope, error) {
	data, err := Marshal(record)
	if err != nil {
		return models.Envelope{}, errors.ErrInternal.WithMessage("failed to encode record").WithCause(err)
	}
	return models.NewEnvelopeBuilder().WithClock(now).WithData(data).Build(), nil
}

// Unwrap decodes the envelope payload into the record type T.
func Unwrap[T any](env models.Envelope) (T, error) {
	var record T
	if isEmptyData(env.Data) {
		return record, errors.ErrDecode.WithMessage("envelope is missing data").WithDetail("message_id", env.ID)
	}
	if err := Unmarshal(env.Data, &record); err != nil {
		return record, errors.ErrDecode.
			WithMessage("payload does not match %T", record).
			WithDetail("message_id", env.ID).
			WithCause(err)
	}
	return record, nil
}

func isEmptyData(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func parseTimestamp(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, value)
		if err == nil {
			return ts.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("parse timestamp: %w", lastErr)
}
