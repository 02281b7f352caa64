package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vachaklabs/vachak/pkg/tts"
)

// Defaults applied by [Load] for fields left unset.
const (
	DefaultListenAddr   = ":8000"
	DefaultLogLevel     = LogInfo
	DefaultMaxTextChars = 200
	DefaultChunkMillis  = 320
	DefaultCacheEntries = 1000
	DefaultCacheTTL     = time.Hour
)

// rewriteBackends lists the LLM backends the rewrite stage can use.
var rewriteBackends = []string{"openai", "anthropic", "gemini", "ollama"}

// Environment variables consulted by [Load]. VACHAK_* values take precedence
// over the file; AZURE_SPEECH_* only fill in missing Azure credentials.
const (
	EnvListenAddr  = "VACHAK_LISTEN_ADDR"
	EnvLogLevel    = "VACHAK_LOG_LEVEL"
	EnvAzureKey    = "AZURE_SPEECH_KEY"
	EnvAzureRegion = "AZURE_SPEECH_REGION"
)

// Load reads the YAML configuration file at path, applies defaults and
// environment overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// environment overrides, and validates the result. Unknown YAML keys are
// rejected. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-value fields with the documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Synthesis.MaxTextChars == 0 {
		cfg.Synthesis.MaxTextChars = DefaultMaxTextChars
	}
	if cfg.Synthesis.ChunkMillis == 0 {
		cfg.Synthesis.ChunkMillis = DefaultChunkMillis
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = DefaultCacheEntries
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = Duration(DefaultCacheTTL)
	}
}

// applyEnvOverrides folds environment variables into cfg.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvListenAddr); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}

	fillAzure := func(e *ProviderEntry) {
		if providerKey(e.Name) != tts.ProviderAzure {
			return
		}
		if e.APIKey == "" {
			e.APIKey = os.Getenv(EnvAzureKey)
		}
		if e.Region == "" {
			e.Region = os.Getenv(EnvAzureRegion)
		}
	}
	fillAzure(&cfg.Synthesis.Provider)
	for i := range cfg.Synthesis.Fallbacks {
		fillAzure(&cfg.Synthesis.Fallbacks[i])
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Synthesis.Provider.Name == "" {
		errs = append(errs, errors.New("synthesis.provider.name is required"))
	} else {
		errs = append(errs, validateProviderEntry("synthesis.provider", cfg.Synthesis.Provider)...)
	}

	seen := map[string]string{providerKey(cfg.Synthesis.Provider.Name): "synthesis.provider"}
	for i, e := range cfg.Synthesis.Fallbacks {
		prefix := fmt.Sprintf("synthesis.fallbacks[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		errs = append(errs, validateProviderEntry(prefix, e)...)
		key := providerKey(e.Name)
		if prev, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("%s.name %q duplicates %s", prefix, e.Name, prev))
		}
		seen[key] = prefix
	}

	if cfg.Synthesis.MaxTextChars < 0 {
		errs = append(errs, fmt.Errorf("synthesis.max_text_chars %d must be positive", cfg.Synthesis.MaxTextChars))
	}
	if cfg.Synthesis.ChunkMillis < 0 {
		errs = append(errs, fmt.Errorf("synthesis.chunk_millis %d must be positive", cfg.Synthesis.ChunkMillis))
	}
	if cfg.Cache.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries %d must be positive", cfg.Cache.MaxEntries))
	}
	if cfg.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl %v must be positive", cfg.Cache.TTL.Std()))
	}

	if cfg.Rewrite.Enabled {
		backend := providerKey(cfg.Rewrite.Provider)
		if backend == "" {
			errs = append(errs, errors.New("rewrite.provider is required when rewrite is enabled"))
		} else if !slices.Contains(rewriteBackends, backend) {
			errs = append(errs, fmt.Errorf("rewrite.provider %q is invalid; valid values: %s", cfg.Rewrite.Provider, strings.Join(rewriteBackends, ", ")))
		}
		if cfg.Rewrite.Model == "" {
			errs = append(errs, errors.New("rewrite.model is required when rewrite is enabled"))
		}
		if t := cfg.Rewrite.Temperature; t != nil && (*t < 0 || *t > 2) {
			errs = append(errs, fmt.Errorf("rewrite.temperature %.2f is out of range [0, 2]", *t))
		}
		if cfg.Rewrite.APIKey == "" && backend != "ollama" && backend != "" {
			slog.Warn("rewrite is enabled without an api_key; the backend will likely reject requests",
				"provider", cfg.Rewrite.Provider)
		}
	}

	return errors.Join(errs...)
}

// validateProviderEntry checks one synthesis backend entry. The prefix names
// the entry's position in the config for error messages.
func validateProviderEntry(prefix string, e ProviderEntry) []error {
	var errs []error
	switch providerKey(e.Name) {
	case tts.ProviderAzure:
		if e.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s.api_key is required for azure (or set %s)", prefix, EnvAzureKey))
		}
		if e.Region == "" {
			errs = append(errs, fmt.Errorf("%s.region is required for azure (or set %s)", prefix, EnvAzureRegion))
		}
	case tts.ProviderCoquiHTTP:
		if e.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required for coqui_http", prefix))
		}
	case tts.ProviderCoqui:
		// Nothing to check; the embedded engine has no required settings.
	default:
		errs = append(errs, fmt.Errorf("%s.name %q is not supported; valid values: %s",
			prefix, e.Name, strings.Join(tts.SupportedProviders(), ", ")))
	}
	return errs
}

// providerKey normalises a provider selection value for case-insensitive
// matching.
func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
