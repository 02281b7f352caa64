package app

import (
	"fmt"

	"github.com/vachaklabs/vachak/internal/config"
	"github.com/vachaklabs/vachak/pkg/rewrite"
	"github.com/vachaklabs/vachak/pkg/tts"
	"github.com/vachaklabs/vachak/pkg/tts/azure"
	"github.com/vachaklabs/vachak/pkg/tts/cache"
	"github.com/vachaklabs/vachak/pkg/tts/coqui"
	"github.com/vachaklabs/vachak/pkg/tts/coquihttp"
)

// BuiltinRegistry returns a [config.Registry] with a factory for every
// built-in synthesis backend. Backends that cache results themselves share
// the given cache so an utterance is stored once, not per layer.
func BuiltinRegistry(shared *cache.Cache) *config.Registry {
	r := config.NewRegistry()
	r.Register(tts.ProviderAzure, azureFactory)
	r.Register(tts.ProviderCoqui, coquiFactory)
	r.Register(tts.ProviderCoquiHTTP, coquiHTTPFactory(shared))
	return r
}

// azureFactory builds the Azure Speech backend from its config entry.
func azureFactory(e config.ProviderEntry) (tts.Provider, error) {
	var opts []azure.Option
	d, ok, err := e.OptionDuration("timeout")
	if err != nil {
		return nil, fmt.Errorf("azure: %w", err)
	}
	if ok {
		opts = append(opts, azure.WithTimeout(d))
	}
	if endpoint, ok := e.OptionString("endpoint"); ok {
		opts = append(opts, azure.WithEndpoint(endpoint))
	}
	if voices, ok := e.OptionStringMap("voices"); ok {
		for locale, voice := range voices {
			opts = append(opts, azure.WithVoice(tts.Locale(locale), voice))
		}
	}
	return azure.New(e.APIKey, e.Region, opts...)
}

// coquiFactory builds the embedded Coqui engine from its config entry.
func coquiFactory(e config.ProviderEntry) (tts.Provider, error) {
	var opts []coqui.Option
	if dir, ok := e.OptionString("model_dir"); ok {
		opts = append(opts, coqui.WithModelDir(dir))
	}
	return coqui.New(opts...)
}

// coquiHTTPFactory builds the Coqui server backend, wired to the shared
// result cache when one is given.
func coquiHTTPFactory(shared *cache.Cache) config.Factory {
	return func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []coquihttp.Option
		if shared != nil {
			opts = append(opts, coquihttp.WithCache(shared))
		}
		d, ok, err := e.OptionDuration("timeout")
		if err != nil {
			return nil, fmt.Errorf("coqui_http: %w", err)
		}
		if ok {
			opts = append(opts, coquihttp.WithTimeout(d))
		}
		return coquihttp.New(e.BaseURL, opts...)
	}
}

// buildRewriter constructs the rewrite stage from its config block. Disabled
// means [rewrite.Identity]; requests still opt in per utterance when enabled.
func buildRewriter(rc config.RewriteConfig) (rewrite.Rewriter, error) {
	if !rc.Enabled {
		return rewrite.Identity(), nil
	}
	var opts []rewrite.LLMOption
	if rc.APIKey != "" {
		opts = append(opts, rewrite.WithAPIKey(rc.APIKey))
	}
	if rc.BaseURL != "" {
		opts = append(opts, rewrite.WithBaseURL(rc.BaseURL))
	}
	if rc.Temperature != nil {
		opts = append(opts, rewrite.WithTemperature(*rc.Temperature))
	}
	return rewrite.NewLLM(rc.Provider, rc.Model, opts...)
}
