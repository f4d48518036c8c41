package sse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// DefaultMaxFrameSize bounds the bytes buffered while waiting for a delimiter.
	DefaultMaxFrameSize = 1024 * 1024

	readSize = 32 * 1024
)

var delimiter = []byte("\n\n")

// ErrFrameTooLarge is returned when the upstream sends more than the maximum
// frame size without a "\n\n" delimiter.
var ErrFrameTooLarge = errors.New("sse frame exceeds maximum size")

// Reassembler reads raw chunks from a source io.Reader and yields complete,
// trimmed event units.
//
// ┌──────────────────┐
// │ upstream body    │  chunks split at arbitrary byte offsets
// └──────────────────┘
// │
// ▼
// ┌──────────────────┐
// │ buffer           │  split at every "\n\n", remainder kept
// └──────────────────┘
// │
// ▼
// ┌──────────────────┐
// │ event unit       │  lossy UTF-8, trimmed, never empty
// └──────────────────┘
//
// A Reassembler is not safe for concurrent use; one belongs to one stream.
type Reassembler struct {
	src          io.Reader
	buf          []byte
	chunk        []byte
	maxFrameSize int
	err          error
}

// ReassemblerOption configures a Reassembler.
type ReassemblerOption func(*Reassembler)

// WithMaxFrameSize overrides DefaultMaxFrameSize. Values <= 0 are ignored.
func WithMaxFrameSize(n int) ReassemblerOption {
	return func(r *Reassembler) {
		if n > 0 {
			r.maxFrameSize = n
		}
	}
}

// NewReassembler returns a Reassembler reading chunks from src.
func NewReassembler(src io.Reader, opts ...ReassemblerOption) *Reassembler {
	r := &Reassembler{
		src:          src,
		chunk:        make([]byte, readSize),
		maxFrameSize: DefaultMaxFrameSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Next returns the next non-empty event unit. It blocks on the source only
// when the buffer holds no complete frame, so every frame already received is
// returned before another chunk is read.
//
// Next returns io.EOF once the source is exhausted. Bytes left after the last
// delimiter are discarded: a partial trailing frame is not an event. Any other
// read error is returned as is, and every later call returns it again.
func (r *Reassembler) Next() (string, error) {
	for {
		if unit, ok := r.split(); ok {
			return unit, nil
		}

		if r.err != nil {
			return "", r.err
		}

		n, err := r.src.Read(r.chunk)
		if n > 0 {
			r.buf = append(r.buf, r.chunk[:n]...)
		}

		switch {
		case errors.Is(err, io.EOF):
			r.err = io.EOF
		case err != nil:
			r.err = err
		case len(r.buf) > r.maxFrameSize && !bytes.Contains(r.buf, delimiter):
			r.err = fmt.Errorf("%w: %d bytes buffered", ErrFrameTooLarge, len(r.buf))
			r.buf = nil
		}
	}
}

// Buffered reports how many bytes are waiting for a delimiter.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// split pops complete frames off the front of the buffer until it finds one
// that is non-empty after trimming.
func (r *Reassembler) split() (string, bool) {
	for {
		i := bytes.Index(r.buf, delimiter)
		if i < 0 {
			return "", false
		}

		frame := r.buf[:i]
		r.buf = r.buf[i+len(delimiter):]

		unit := strings.TrimSpace(strings.ToValidUTF8(string(frame), "�"))
		if unit != "" {
			return unit, true
		}
	}
}
