package config

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/vachaklabs/vachak/pkg/tts"
)

// Factory constructs a synthesis provider from its config entry.
type Factory func(ProviderEntry) (tts.Provider, error)

// Registry maps provider selection values to their factories. Matching is
// case-insensitive: "Azure", "AZURE", and "azure" select the same factory.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name. Subsequent calls with the same name
// (in any casing) overwrite the previous registration.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[providerKey(name)] = factory
}

// Names returns the registered selection values in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Create instantiates the provider selected by entry.Name. It returns a
// [*tts.UnsupportedProviderError] when no factory is registered under that
// name.
func (r *Registry) Create(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[providerKey(entry.Name)]
	r.mu.RUnlock()
	if !ok {
		return nil, &tts.UnsupportedProviderError{Name: entry.Name, Supported: r.Names()}
	}
	return factory(entry)
}

// OptionString returns the string stored under key in the entry's Options
// map. The second return is false when the key is absent or not a string.
func (e ProviderEntry) OptionString(key string) (string, bool) {
	v, ok := e.Options[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// OptionDuration parses the option under key as a duration string like
// "5s". The second return is false when the key is absent.
func (e ProviderEntry) OptionDuration(key string) (time.Duration, bool, error) {
	s, ok := e.OptionString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, true, fmt.Errorf("option %q: invalid duration %q: %w", key, s, err)
	}
	return d, true, nil
}

// OptionStringMap returns the mapping stored under key with its string
// values. Non-string values are skipped.
func (e ProviderEntry) OptionStringMap(key string) (map[string]string, bool) {
	v, ok := e.Options[key]
	if !ok {
		return nil, false
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out, true
}
