package models

import (
	"encoding/json"
	"time"
)

// Envelope is the transport wrapper shared by every stage. Data holds the stage record as raw JSON
// so a consumer decodes it into the record type it expects.
type Envelope struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// StageResponse is the body returned by a stage's direct-call endpoint and by a broker reply.
type StageResponse struct {
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
}
