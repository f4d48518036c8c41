package proxy

import (
	"time"

	"github.com/papercomputeco/lumos/pkg/eventstream"
)

// Config is the gateway server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:11434")
	ListenAddr string

	// UpstreamTimeout bounds a whole upstream exchange, streaming included.
	// Zero means no limit.
	UpstreamTimeout time.Duration

	// Publisher receives a StreamCompletedEvent for every dispatched request.
	// If nil, telemetry is discarded.
	Publisher eventstream.Publisher

	// Workers and QueueSize size the telemetry worker pool. Zero values use the
	// pool defaults.
	Workers   uint
	QueueSize uint
}
