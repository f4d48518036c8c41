package sse

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	// DataPrefix starts every payload-carrying event unit.
	DataPrefix = "data: "

	// DoneSentinel is the unit an OpenAI-compatible upstream sends once the
	// completion is finished.
	DoneSentinel = DataPrefix + "[DONE]"

	deltaContentPath = "choices.0.delta.content"
)

// ErrMalformedEvent is returned alongside an Ignorable event when a data unit
// does not carry valid JSON. It is meant for diagnostics only.
var ErrMalformedEvent = errors.New("malformed sse data payload")

// Kind classifies a decoded event unit.
type Kind int

const (
	// Ignorable units produce no output: comments, keep-alives, role-only or
	// empty deltas and unparseable payloads.
	Ignorable Kind = iota

	// ContentDelta units carry a non-empty piece of assistant text.
	ContentDelta

	// Terminal is the upstream's own end-of-stream marker.
	Terminal
)

func (k Kind) String() string {
	switch k {
	case ContentDelta:
		return "content_delta"
	case Terminal:
		return "terminal"
	default:
		return "ignorable"
	}
}

// Decoded is the classification of one event unit. Text is set only for
// ContentDelta and is never empty.
type Decoded struct {
	Kind Kind
	Text string
}

// Decode classifies a single event unit. It keeps no state: the same unit
// always decodes the same way.
//
// The returned error is non-nil only when the unit is a data line whose
// payload is not JSON; the event is still Ignorable in that case and the
// error must not fail the stream.
func Decode(unit string) (Decoded, error) {
	unit = strings.TrimSpace(unit)
	if unit == DoneSentinel {
		return Decoded{Kind: Terminal}, nil
	}

	payload, ok := strings.CutPrefix(unit, DataPrefix)
	if !ok {
		return Decoded{Kind: Ignorable}, nil
	}

	payload = strings.TrimSpace(payload)
	if !gjson.Valid(payload) {
		return Decoded{Kind: Ignorable}, ErrMalformedEvent
	}

	content := gjson.Get(payload, deltaContentPath)
	if content.Type != gjson.String || content.Str == "" {
		return Decoded{Kind: Ignorable}, nil
	}

	return Decoded{Kind: ContentDelta, Text: content.Str}, nil
}
