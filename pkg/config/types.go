package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds the gateway settings. Keys use dotted notation matching the
// section structure, e.g. "server.port".
type Config struct {
	Server    ServerConfig    `mapstructure:"server" toml:"server"`
	Models    ModelsConfig    `mapstructure:"models" toml:"models"`
	Upstream  UpstreamConfig  `mapstructure:"upstream" toml:"upstream"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" toml:"telemetry"`
	Log       LogConfig       `mapstructure:"log" toml:"log"`
}

// ServerConfig holds the Ollama-compatible listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host" toml:"host,omitempty"`
	Port uint   `mapstructure:"port" toml:"port,omitempty"`
}

// Addr returns the host:port the gateway listens on.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.FormatUint(uint64(s.Port), 10))
}

// ModelsConfig points at the keys file and picks the default model.
type ModelsConfig struct {
	KeysFile string `mapstructure:"keys_file" toml:"keys_file,omitempty"`
	Default  string `mapstructure:"default" toml:"default,omitempty"`
	Watch    bool   `mapstructure:"watch" toml:"watch"`
}

// UpstreamConfig holds outbound client settings.
type UpstreamConfig struct {
	// Timeout bounds a whole upstream exchange, streaming included.
	Timeout time.Duration `mapstructure:"timeout" toml:"timeout,omitempty"`
}

// TelemetryConfig selects where stream completion events go. No brokers
// means events are discarded.
type TelemetryConfig struct {
	KafkaBrokers []string `mapstructure:"kafka_brokers" toml:"kafka_brokers,omitempty"`
	KafkaTopic   string   `mapstructure:"kafka_topic" toml:"kafka_topic,omitempty"`
	Workers      uint     `mapstructure:"workers" toml:"workers,omitempty"`
	QueueSize    uint     `mapstructure:"queue_size" toml:"queue_size,omitempty"`
}

// LogConfig holds logging output settings.
type LogConfig struct {
	Debug bool   `mapstructure:"debug" toml:"debug"`
	JSON  bool   `mapstructure:"json" toml:"json"`
	File  string `mapstructure:"file" toml:"file,omitempty"`
}
