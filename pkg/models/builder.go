package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EnvelopeBuilder struct {
	envelope Envelope
	now      func() time.Time
}

func NewEnvelopeBuilder() *EnvelopeBuilder {
	return &EnvelopeBuilder{now: time.Now}
}

func (b *EnvelopeBuilder) WithID(id string) *EnvelopeBuilder {
	b.envelope.ID = id
	return b
}

func (b *EnvelopeBuilder) WithTimestamp(timestamp time.Time) *EnvelopeBuilder {
	b.envelope.Timestamp = timestamp
	return b
}

func (b *EnvelopeBuilder) WithClock(now func() time.Time) *EnvelopeBuilder {
	if now != nil {
		b.now = now
	}
	return b
}

func (b *EnvelopeBuilder) WithData(data json.RawMessage) *EnvelopeBuilder {
	b.envelope.Data = data
	return b
}

// Build assigns a fresh id and the publish time when they are missing. Timestamps are stored in UTC.
func (b *EnvelopeBuilder) Build() Envelope {
	env := b.envelope
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = b.now()
	}
	env.Timestamp = env.Timestamp.UTC()
	return env
}
