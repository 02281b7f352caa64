package tts

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotImplemented is returned by provider slots that are valid to configure
// but have no synthesis backend behind them yet.
var ErrNotImplemented = errors.New("synthesis not implemented")

// ConfigurationError reports a provider that cannot be constructed because a
// required credential or setting is absent. It is returned from provider
// constructors, never through speak-time callbacks.
type ConfigurationError struct {
	Provider string // provider selection value, e.g. "azure"
	Missing  string // human-readable name of the missing field, e.g. "API key"
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: missing required %s", e.Provider, e.Missing)
}

// UnsupportedProviderError reports a provider selection value that maps to no
// registered factory.
type UnsupportedProviderError struct {
	Name      string
	Supported []string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("tts: unsupported provider %q (supported: %s)",
		e.Name, strings.Join(e.Supported, ", "))
}

// UnsupportedLocaleError reports a locale outside the supported set.
// Suggestion is non-empty when a supported locale is close enough to the
// rejected value to be a likely typo.
type UnsupportedLocaleError struct {
	Locale     string
	Suggestion Locale
}

func (e *UnsupportedLocaleError) Error() string {
	supported := make([]string, 0, 3)
	for _, l := range SupportedLocales() {
		supported = append(supported, string(l))
	}
	msg := fmt.Sprintf("tts: unsupported locale %q (supported: %s)",
		e.Locale, strings.Join(supported, ", "))
	if e.Suggestion != "" {
		msg += fmt.Sprintf(", did you mean %q?", e.Suggestion)
	}
	return msg
}

// UpstreamError reports a failed synthesis call against a remote backend,
// covering transport failures, non-2xx responses and malformed response
// bodies. Status is zero when the request never produced a response.
type UpstreamError struct {
	Provider string
	Status   int
	Body     string // truncated response body, empty for transport failures
	Err      error
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	b.WriteString("TTS synthesis failed")
	if e.Provider != "" {
		fmt.Fprintf(&b, " (%s)", e.Provider)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// SinkError reports a chunk delivery failure while streaming synthesized
// audio to a sink. Chunk is the zero-based index of the chunk that failed.
type SinkError struct {
	Chunk int
	Err   error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("deliver audio chunk %d: %v", e.Chunk, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
