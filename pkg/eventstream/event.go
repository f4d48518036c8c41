// Package eventstream defines the telemetry events the gateway emits once a
// stream ends, and the publishers that ship them.
package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeStreamCompleted is emitted after a proxied stream ends, however
	// it ended.
	EventTypeStreamCompleted = "lumos.stream.completed"
)

// StreamCompletedEvent is a transport-neutral event payload for one proxied
// request.
type StreamCompletedEvent struct {
	SchemaVersion int               `json:"schema_version"`
	EventType     string            `json:"event_type"`
	EventID       string            `json:"event_id"`
	EmittedAt     time.Time         `json:"emitted_at"`
	Source        EventSource       `json:"source"`
	RequestMeta   StreamRequestMeta `json:"request_meta"`
	Outcome       StreamOutcome     `json:"outcome"`
}

// EventSource identifies the model and upstream that served the request.
type EventSource struct {
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	UpstreamModel string `json:"upstream_model"`
}

// StreamRequestMeta captures request lifecycle metadata for the event.
type StreamRequestMeta struct {
	RequestID   string    `json:"request_id"`
	Path        string    `json:"path,omitempty"`
	Shape       string    `json:"shape"`
	Streaming   bool      `json:"streaming"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
}

// StreamOutcome summarises what the client received.
type StreamOutcome struct {
	// Records counts NDJSON lines written, the terminal record included.
	Records int `json:"records"`

	// Deltas counts upstream content deltas.
	Deltas int `json:"deltas"`

	// Terminated is true when the upstream sent its end-of-stream marker.
	Terminated bool `json:"terminated"`

	Error string `json:"error,omitempty"`
}

// NewStreamCompletedEvent stamps a new event with a fresh id and the current
// time. Duration is derived from the request metadata.
func NewStreamCompletedEvent(source EventSource, meta StreamRequestMeta, outcome StreamOutcome) *StreamCompletedEvent {
	meta.DurationMs = meta.CompletedAt.Sub(meta.StartedAt).Milliseconds()
	return &StreamCompletedEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeStreamCompleted,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Source:        source,
		RequestMeta:   meta,
		Outcome:       outcome,
	}
}
