package ollama

import (
	"encoding/json"
	"time"
)

// Shape selects which content field a stream's records populate.
type Shape int

const (
	// Chat records carry text in message.content.
	Chat Shape = iota

	// Generate records carry text in response.
	Generate
)

func (s Shape) String() string {
	if s == Generate {
		return "generate"
	}
	return "chat"
}

// Encoder renders deltas for one stream. The model name is threaded into
// every record unchanged.
type Encoder struct {
	model string
	shape Shape
	now   func() time.Time
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithClock replaces time.Now as the source of created_at.
func WithClock(now func() time.Time) EncoderOption {
	return func(e *Encoder) {
		e.now = now
	}
}

// NewEncoder returns an Encoder for records of the given model and shape.
func NewEncoder(model string, shape Shape, opts ...EncoderOption) *Encoder {
	e := &Encoder{
		model: model,
		shape: shape,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Shape returns the shape the encoder was built for.
func (e *Encoder) Shape() Shape {
	return e.shape
}

// Delta encodes a done=false record carrying text.
func (e *Encoder) Delta(text string) ([]byte, error) {
	return e.encode(e.record(text, false))
}

// Done encodes the terminal record: empty content plus placeholder metrics.
func (e *Encoder) Done() ([]byte, error) {
	return e.Final("")
}

// Final encodes a done=true record carrying the complete text. It is the one
// record of a non-streaming reply.
func (e *Encoder) Final(text string) ([]byte, error) {
	rec := e.record(text, true)
	rec.Metrics = PlaceholderMetrics()
	return e.encode(rec)
}

func (e *Encoder) record(text string, done bool) *Record {
	rec := &Record{
		Model:     e.model,
		CreatedAt: e.now().UTC().Format(time.RFC3339Nano),
		Done:      done,
	}
	switch e.shape {
	case Generate:
		rec.Response = &text
	default:
		rec.Message = &Message{Role: "assistant", Content: text}
	}
	return rec
}

func (e *Encoder) encode(rec *Record) ([]byte, error) {
	line, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}
