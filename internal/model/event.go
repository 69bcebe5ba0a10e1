package model

import (
	"encoding/json"
	"time"
)

// Event is the envelope published for every graph mutation, on NATS and on
// the SSE stream.
type Event struct {
	Topic     string          `json:"topic"`
	ProjectID string          `json:"project_id"`
	Actor     string          `json:"actor,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
