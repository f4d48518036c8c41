package config

import "time"

const (
	defaultHost = "localhost"

	// defaultPort is Ollama's, so clients work without reconfiguration.
	defaultPort = 11434

	defaultKeysFile = "keys.toml"

	defaultUpstreamTimeout = 5 * time.Minute

	defaultKafkaTopic = "lumos.streams"
	defaultWorkers    = 3
	defaultQueueSize  = 256
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: defaultHost,
			Port: defaultPort,
		},
		Models: ModelsConfig{
			KeysFile: defaultKeysFile,
			Watch:    true,
		},
		Upstream: UpstreamConfig{
			Timeout: defaultUpstreamTimeout,
		},
		Telemetry: TelemetryConfig{
			KafkaTopic: defaultKafkaTopic,
			Workers:    defaultWorkers,
			QueueSize:  defaultQueueSize,
		},
	}
}
