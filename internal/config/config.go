// Package config provides the configuration schema, loader, file watcher,
// and provider registry for the Vachak synthesis server.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the Vachak server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps [time.Duration] with YAML support for strings like "90s"
// or "1h".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\" or \"1h\"")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for Vachak.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Cache     CacheConfig     `yaml:"cache"`
	Rewrite   RewriteConfig   `yaml:"rewrite"`
}

// ServerConfig holds network and logging settings for the Vachak server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Default ":8000".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default "info". Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain
	// HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// SynthesisConfig selects and tunes the speech-synthesis backends.
type SynthesisConfig struct {
	// Provider is the preferred synthesis backend.
	Provider ProviderEntry `yaml:"provider"`

	// Fallbacks are tried in order when the preferred backend fails.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// MaxTextChars caps the sanitized request text length accepted by the
	// API. Default 200.
	MaxTextChars int `yaml:"max_text_chars"`

	// ChunkMillis is the audio chunk length handed to sinks, in
	// milliseconds of playback. Default 320.
	ChunkMillis int `yaml:"chunk_millis"`
}

// ProviderEntry configures a single synthesis backend. Name selects the
// factory in the [Registry]; matching is case-insensitive.
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// ("azure", "coqui", "coqui_http").
	Name string `yaml:"name"`

	// APIKey authenticates against the backend. Azure reads it from the
	// AZURE_SPEECH_KEY environment variable when empty.
	APIKey string `yaml:"api_key"`

	// Region is the cloud region for region-scoped backends such as Azure
	// (e.g. "centralindia"). AZURE_SPEECH_REGION fills it when empty.
	Region string `yaml:"region"`

	// BaseURL is the server address for self-hosted backends such as
	// coqui_http (e.g. "http://tts.internal:5002").
	BaseURL string `yaml:"base_url"`

	// Options holds provider-specific settings not covered by the standard
	// fields. Recognised keys:
	//
	//   azure:      "timeout" (duration string), "endpoint" (URL override),
	//               "voices" (map of locale to voice name)
	//   coqui_http: "timeout" (duration string)
	//   coqui:      "model_dir" (path)
	Options map[string]any `yaml:"options"`
}

// CacheConfig tunes the shared synthesis result cache.
type CacheConfig struct {
	// MaxEntries bounds the number of cached utterances. Default 1000.
	MaxEntries int `yaml:"max_entries"`

	// TTL is how long a cached utterance stays valid. Default "1h".
	TTL Duration `yaml:"ttl"`
}

// RewriteConfig controls the optional LLM rewrite stage that reshapes text
// for listening before synthesis. The whole block is hot-reloadable.
type RewriteConfig struct {
	// Enabled turns the rewrite stage on. Requests still choose per
	// utterance whether to use it.
	Enabled bool `yaml:"enabled"`

	// Provider is the LLM backend ("openai", "anthropic", "gemini",
	// "ollama").
	Provider string `yaml:"provider"`

	// Model is the model identifier passed to the backend.
	Model string `yaml:"model"`

	// APIKey authenticates against the LLM backend. Not needed for ollama.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Temperature overrides the sampling temperature. Nil keeps the
	// built-in default.
	Temperature *float64 `yaml:"temperature"`
}
