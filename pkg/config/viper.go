package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "LUMOS"

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the optional settings file
// and binds environment variables with the LUMOS_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (LUMOS_SERVER_PORT, LUMOS_LOG_JSON, etc.)
//  3. settings file values
//  4. Defaults from NewDefaultConfig()
func InitViper(settingsFile string) (*viper.Viper, error) {
	v := viper.New()

	setViperDefaults(v)

	if settingsFile != "" {
		v.SetConfigFile(settingsFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading settings file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// Load decodes the resolved settings into a Config.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	// Server
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)

	// Models
	v.SetDefault("models.keys_file", d.Models.KeysFile)
	v.SetDefault("models.default", d.Models.Default)
	v.SetDefault("models.watch", d.Models.Watch)

	// Upstream
	v.SetDefault("upstream.timeout", d.Upstream.Timeout)

	// Telemetry
	v.SetDefault("telemetry.kafka_brokers", d.Telemetry.KafkaBrokers)
	v.SetDefault("telemetry.kafka_topic", d.Telemetry.KafkaTopic)
	v.SetDefault("telemetry.workers", d.Telemetry.Workers)
	v.SetDefault("telemetry.queue_size", d.Telemetry.QueueSize)

	// Log
	v.SetDefault("log.debug", d.Log.Debug)
	v.SetDefault("log.json", d.Log.JSON)
	v.SetDefault("log.file", d.Log.File)
}
