// Package ollama holds the Ollama wire types the gateway serves and the
// encoder that renders upstream deltas as Ollama NDJSON records.
package ollama

import (
	"errors"
	"time"
)

var (
	// ErrNoMessages is returned for a chat request without messages.
	ErrNoMessages = errors.New("messages must not be empty")

	// ErrEmptyPrompt is returned for a generate request without a prompt.
	ErrEmptyPrompt = errors.New("prompt must not be empty")
)

// Message is one conversation turn. Images is always encoded, as null when
// unset, to match what Ollama clients expect on assistant records.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   *bool          `json:"stream,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

// Streaming reports whether the client wants NDJSON. Ollama streams unless the
// client sends "stream": false.
func (r *ChatRequest) Streaming() bool {
	return streaming(r.Stream)
}

// Validate checks the request carries something to send upstream.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return ErrNoMessages
	}
	return nil
}

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  *bool          `json:"stream,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// Streaming reports whether the client wants NDJSON.
func (r *GenerateRequest) Streaming() bool {
	return streaming(r.Stream)
}

// Validate checks the request carries a prompt.
func (r *GenerateRequest) Validate() error {
	if r.Prompt == "" {
		return ErrEmptyPrompt
	}
	return nil
}

// Messages rewrites the prompt as a conversation: an optional system turn
// followed by a single user turn.
func (r *GenerateRequest) Messages() []Message {
	msgs := make([]Message, 0, 2)
	if r.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: r.System})
	}
	return append(msgs, Message{Role: "user", Content: r.Prompt})
}

func streaming(stream *bool) bool {
	return stream == nil || *stream
}

// Record is one NDJSON line. Exactly one of Message or Response is set,
// depending on the Shape of the stream it belongs to.
type Record struct {
	Model     string   `json:"model"`
	CreatedAt string   `json:"created_at"`
	Message   *Message `json:"message,omitempty"`
	Response  *string  `json:"response,omitempty"`
	Done      bool     `json:"done"`

	*Metrics
}

// Metrics are the evaluation counters Ollama attaches to its final record.
// The gateway has no real numbers for a remote model and reports fixed
// placeholders so clients that read them keep working.
type Metrics struct {
	Context            []int `json:"context"`
	TotalDuration      int64 `json:"total_duration"`
	LoadDuration       int64 `json:"load_duration"`
	PromptEvalCount    int   `json:"prompt_eval_count"`
	PromptEvalDuration int64 `json:"prompt_eval_duration"`
	EvalCount          int   `json:"eval_count"`
	EvalDuration       int64 `json:"eval_duration"`
}

// PlaceholderMetrics returns the fixed metrics of every done record.
func PlaceholderMetrics() *Metrics {
	return &Metrics{
		Context:            []int{1, 2, 3},
		TotalDuration:      122112,
		LoadDuration:       123112,
		PromptEvalCount:    26,
		PromptEvalDuration: 130079000,
		EvalCount:          259,
		EvalDuration:       2433122,
	}
}

// TagsResponse is the body of GET /api/tags.
type TagsResponse struct {
	Models []Model `json:"models"`
}

// Model is one entry of the local model listing.
type Model struct {
	Name       string  `json:"name"`
	Model      string  `json:"model"`
	ModifiedAt string  `json:"modified_at"`
	Size       int64   `json:"size"`
	Digest     string  `json:"digest"`
	Details    Details `json:"details"`
}

// Details describes a listed model. Remote models have no local weights, so
// the values mimic a typical 7B llama build.
type Details struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

const placeholderSize = 3825819519

// NewModel returns a listing entry for a remote model published under name.
func NewModel(name, digest string, modifiedAt time.Time) Model {
	return Model{
		Name:       name,
		Model:      name,
		ModifiedAt: modifiedAt.UTC().Format(time.RFC3339Nano),
		Size:       placeholderSize,
		Digest:     digest,
		Details: Details{
			Format:            "gguf",
			Family:            "llama",
			ParameterSize:     "7B",
			QuantizationLevel: "Q4_0",
		},
	}
}

// PingResponse is the body of GET /api/ping.
type PingResponse struct {
	ModelName string `json:"model_name"`
}

// VersionResponse is the body of GET /api/version.
type VersionResponse struct {
	Version string `json:"version"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
