// Package config resolves the gateway settings from flags, LUMOS_ environment
// variables, an optional TOML settings file and built-in defaults.
package config

import (
	"errors"
	"fmt"
)

// Validate reports settings the gateway cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Models.KeysFile == "" {
		errs = append(errs, errors.New("models.keys_file is required"))
	}
	if c.Upstream.Timeout < 0 {
		errs = append(errs, errors.New("upstream.timeout must not be negative"))
	}
	if len(c.Telemetry.KafkaBrokers) > 0 && c.Telemetry.KafkaTopic == "" {
		errs = append(errs, errors.New("telemetry.kafka_topic is required with kafka brokers"))
	}
	if c.Telemetry.Workers == 0 {
		errs = append(errs, errors.New("telemetry.workers must be at least 1"))
	}

	return errors.Join(errs...)
}
