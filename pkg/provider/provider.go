// Package provider resolves the model names clients ask for to the remote
// OpenAI-compatible endpoints that serve them.
package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Name identifies an upstream vendor.
type Name string

const (
	Zhipu      Name = "zhipu"
	Deepseek   Name = "deepseek"
	Xinference Name = "xinference"
)

// SupportedNames returns every known vendor.
func SupportedNames() []Name {
	return []Name{Zhipu, Deepseek, Xinference}
}

// ParseName maps a case-insensitive vendor name to a Name.
func ParseName(s string) (Name, error) {
	n := Name(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range SupportedNames() {
		if n == known {
			return n, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// UnmarshalText lets keys files spell the vendor in any case.
func (n *Name) UnmarshalText(text []byte) error {
	parsed, err := ParseName(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// Protocol is the wire protocol an upstream speaks.
type Protocol string

// OpenAI is the chat completions protocol with SSE streaming. It is the only
// protocol the gateway can reframe.
const OpenAI Protocol = "openai"

// Model is one table of the keys file.
type Model struct {
	// ModelName is the model id sent upstream. Empty means the table key.
	ModelName string   `toml:"model_name"`
	Provider  Name     `toml:"provider"`
	APIKey    string   `toml:"api_key"`
	URL       string   `toml:"url"`
	Protocol  Protocol `toml:"protocol"`
}

// Validate reports missing or unsupported fields.
func (m *Model) Validate() error {
	var errs []error
	if m.Provider == "" {
		errs = append(errs, errors.New("provider is required"))
	}
	if m.URL == "" {
		errs = append(errs, errors.New("url is required"))
	}
	if m.APIKey == "" {
		errs = append(errs, errors.New("api_key is required"))
	}
	if m.Protocol != "" && Protocol(strings.ToLower(string(m.Protocol))) != OpenAI {
		errs = append(errs, fmt.Errorf("unsupported protocol %q", m.Protocol))
	}
	return errors.Join(errs...)
}

// Entry is a resolved registry model.
type Entry struct {
	// Name is the registry key the request resolved to.
	Name string
	Model
}

// UpstreamModel returns the model id to send upstream.
func (e *Entry) UpstreamModel() string {
	if e.ModelName != "" {
		return e.ModelName
	}
	return e.Name
}

// DisplayName converts a registry key to the Ollama "family:variant" form
// by replacing the first hyphen with a colon.
func DisplayName(name string) string {
	return strings.Replace(name, "-", ":", 1)
}

// CanonicalName is the inverse of DisplayName.
func CanonicalName(name string) string {
	return strings.Replace(name, ":", "-", 1)
}
