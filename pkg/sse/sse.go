// Package sse reassembles and classifies the Server-Sent Events stream an
// OpenAI-compatible chat completion endpoint returns when "stream" is true.
//
// The package has two halves:
//
//   - Reassembler turns arbitrarily chunked reads from an upstream body into
//     complete event units, one per "\n\n" delimited block.
//   - Decode classifies a single event unit as a content delta, the terminal
//     "[DONE]" sentinel, or something to ignore.
//
// It intentionally does NOT implement an SSE writer or the full field grammar
// of the SSE standard: the upstream framing this gateway consumes is a
// single "data: " line per event.
//
// See the HTML living standard:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse
