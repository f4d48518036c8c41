package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

// ErrModelNotFound is returned when a name matches no configured model.
var ErrModelNotFound = errors.New("model not found")

// Parse decodes a keys file. Every table is a model keyed by its name.
func Parse(data []byte) (map[string]Model, error) {
	models := map[string]Model{}
	if err := toml.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("parsing keys file: %w", err)
	}

	var errs []error
	for name, m := range models {
		if err := m.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("model %s: %w", name, err))
			continue
		}
		m.Protocol = OpenAI
		models[name] = m
	}
	if len(errs) > 0 {
		slices.SortFunc(errs, func(a, b error) int { return strings.Compare(a.Error(), b.Error()) })
		return nil, errors.Join(errs...)
	}

	return models, nil
}

// LoadFile reads and parses the keys file at path.
func LoadFile(path string) (map[string]Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keys file: %w", err)
	}
	return Parse(data)
}

// Registry holds the configured models and the default one. It is safe for
// concurrent use; Reload swaps the whole model set atomically.
type Registry struct {
	mu          sync.RWMutex
	path        string
	models      map[string]Model
	defaultName string
	logger      *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefault selects the model used when a request names none.
func WithDefault(name string) RegistryOption {
	return func(r *Registry) {
		r.defaultName = name
	}
}

// WithLogger sets the logger used for reload diagnostics.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry returns a registry over an in-memory model set.
func NewRegistry(models map[string]Model, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		models: models,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.defaultName != "" {
		name, ok := r.resolve(r.defaultName)
		if !ok {
			return nil, fmt.Errorf("default %w: %s", ErrModelNotFound, r.defaultName)
		}
		r.defaultName = name
	}

	return r, nil
}

// OpenRegistry loads the keys file at path into a registry that can later be
// reloaded or watched.
func OpenRegistry(path string, opts ...RegistryOption) (*Registry, error) {
	models, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	r, err := NewRegistry(models, opts...)
	if err != nil {
		return nil, err
	}
	r.path = path

	return r, nil
}

// Lookup resolves a client supplied name. Both the registry key and the
// Ollama display form are accepted, with or without a ":latest" tag. An empty
// name resolves to the default model.
func (r *Registry) Lookup(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultName
	}

	key, ok := r.resolve(name)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}

	return Entry{Name: key, Model: r.models[key]}, nil
}

// resolve must be called with mu held.
func (r *Registry) resolve(name string) (string, bool) {
	candidates := []string{name, CanonicalName(name)}
	if trimmed, ok := strings.CutSuffix(name, ":latest"); ok {
		candidates = append(candidates, trimmed, CanonicalName(trimmed))
	}

	for _, c := range candidates {
		if _, ok := r.models[c]; ok {
			return c, true
		}
	}
	return "", false
}

// Contains reports whether name resolves to a configured model.
func (r *Registry) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.resolve(name)
	return ok
}

// Default returns the registry key of the default model.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.defaultName
}

// Names returns every configured model, default first, the rest sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		if name != r.defaultName {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	if _, ok := r.models[r.defaultName]; ok {
		names = append([]string{r.defaultName}, names...)
	}
	return names
}

// Len returns the number of configured models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.models)
}

// Path returns the keys file backing the registry, empty for in-memory ones.
func (r *Registry) Path() string {
	return r.path
}

// Reload re-reads the keys file. On any error the current models stay in
// place. A file that no longer defines the default model is rejected.
func (r *Registry) Reload() error {
	if r.path == "" {
		return errors.New("registry has no backing keys file")
	}

	models, err := LoadFile(r.path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.defaultName != "" {
		if _, ok := models[r.defaultName]; !ok {
			return fmt.Errorf("reloaded keys file drops default model %s", r.defaultName)
		}
	}
	r.models = models

	return nil
}

// Watch reloads the registry whenever the keys file is written or recreated,
// until ctx is done. The parent directory is watched so editors that replace
// the file on save are picked up. Failed reloads are logged and skipped.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		return errors.New("registry has no backing keys file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating keys file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("watching keys file dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := r.Reload(); err != nil {
				r.logger.Error("keys file reload failed, keeping previous models",
					"path", r.path,
					"error", err,
				)
				continue
			}
			r.logger.Info("keys file reloaded",
				"path", r.path,
				"models", r.Len(),
			)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("keys file watcher error: %w", err)
		}
	}
}
