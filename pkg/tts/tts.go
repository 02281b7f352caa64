// Package tts defines the core abstraction for speech-synthesis backends.
//
// A Provider wraps a synthesis service (a cloud TTS API, a remote inference
// server, or a local model) behind a single blocking call that turns text in
// a supported locale into audio. Every provider emits the same stream format:
// raw PCM, 16 kHz, 16-bit signed little-endian, mono. The pieces all
// providers share live here as well: the locale set, the error taxonomy and
// text sanitization.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any speech-synthesis backend.
//
// Implementations must be safe for concurrent use; multiple synthesis
// requests may run in parallel.
type Provider interface {
	// SynthesizeSpeech renders text in the given locale and returns the raw
	// PCM audio (16 kHz, 16-bit little-endian, mono). The call blocks until
	// the full utterance is available or ctx is cancelled.
	//
	// A successful call never returns empty audio. Failures against a remote
	// backend are reported as *UpstreamError; an unknown locale is reported
	// as *UnsupportedLocaleError.
	SynthesizeSpeech(ctx context.Context, text string, locale Locale) ([]byte, error)
}

// HealthChecker is implemented by providers that can cheaply probe their
// backend. The readiness endpoint uses it when available.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Provider selection values understood by the registry.
const (
	ProviderAzure     = "azure"
	ProviderCoqui     = "coqui"
	ProviderCoquiHTTP = "coqui_http"
)

// SupportedProviders lists the selection values in registration order.
func SupportedProviders() []string {
	return []string{ProviderAzure, ProviderCoqui, ProviderCoquiHTTP}
}
