package proxy

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/papercomputeco/lumos/pkg/ollama"
	"github.com/papercomputeco/lumos/pkg/sse"
)

type streamState int

const (
	streaming streamState = iota
	terminated
)

// StreamStats summarises what a Stream has produced so far.
type StreamStats struct {
	// Records counts encoded NDJSON lines, the terminal record included.
	Records int

	// Deltas counts upstream content deltas.
	Deltas int

	// Terminated is true once the upstream's end-of-stream marker was seen.
	Terminated bool
}

// Stream turns one upstream SSE body into Ollama NDJSON records on demand.
//
// It pulls from the body only when asked for the next record, so a slow client
// slows the upstream read down with it. Once the upstream's terminal marker is
// seen the stream emits exactly one done record and then ends; anything the
// upstream sends afterwards is never read.
//
// A Stream is owned by a single goroutine and is not safe for concurrent use.
type Stream struct {
	frames *sse.Reassembler
	enc    *ollama.Encoder
	logger *slog.Logger
	state  streamState
	stats  StreamStats
}

// NewStream returns a Stream reading SSE from body and encoding with enc.
func NewStream(body io.Reader, enc *ollama.Encoder, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Stream{
		frames: sse.NewReassembler(body),
		enc:    enc,
		logger: logger,
	}
}

// next advances to the next event that produces output. It returns io.EOF
// once terminated or when the upstream hangs up without a terminal marker.
func (s *Stream) next() (sse.Decoded, error) {
	for {
		if s.state == terminated {
			return sse.Decoded{}, io.EOF
		}

		unit, err := s.frames.Next()
		if errors.Is(err, io.EOF) {
			return sse.Decoded{}, io.EOF
		}
		if err != nil {
			return sse.Decoded{}, fmt.Errorf("reading upstream stream: %w", err)
		}

		ev, err := sse.Decode(unit)
		if err != nil {
			s.logger.Debug("skipping undecodable event", "error", err, "unit", unit)
			continue
		}

		switch ev.Kind {
		case sse.ContentDelta:
			s.stats.Deltas++
			return ev, nil
		case sse.Terminal:
			s.state = terminated
			s.stats.Terminated = true
			return ev, nil
		}
	}
}

// Next returns the next NDJSON line, newline included. It returns io.EOF when
// the stream is over: after the done record, or when the upstream closed
// without sending one. Any other error is a transport failure.
func (s *Stream) Next() ([]byte, error) {
	ev, err := s.next()
	if err != nil {
		return nil, err
	}

	var line []byte
	switch ev.Kind {
	case sse.Terminal:
		line, err = s.enc.Done()
	default:
		line, err = s.enc.Delta(ev.Text)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}

	s.stats.Records++
	return line, nil
}

// WriteTo writes every remaining record to w, one Write per record. It
// implements io.WriterTo; a clean end of stream returns a nil error.
func (s *Stream) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for {
		line, err := s.Next()
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}

		n, err := w.Write(line)
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("writing record: %w", err)
		}
	}
}

// Collect drains the stream and returns the concatenated delta text. It backs
// non-streaming replies; no records are encoded.
func (s *Stream) Collect() (string, error) {
	var text strings.Builder
	for {
		ev, err := s.next()
		if errors.Is(err, io.EOF) {
			return text.String(), nil
		}
		if err != nil {
			return text.String(), err
		}
		text.WriteString(ev.Text)
	}
}

// Stats returns the counters accumulated so far.
func (s *Stream) Stats() StreamStats {
	return s.stats
}
