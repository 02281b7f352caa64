// Package coquihttp provides a TTS provider backed by a remote Coqui-style
// synthesis server reachable over HTTP. It implements the tts.Provider
// interface.
//
// Each call POSTs {"text", "locale"} to the server's /synth endpoint and
// normalizes whatever comes back to the 16 kHz mono stream format: WAV
// containers are unwrapped (and resampled when the model's native rate
// differs), bodies without a RIFF header are taken as already-raw PCM.
//
// The provider owns its result cache, keyed by sanitized text and locale, so
// repeated utterances are answered without touching the network. Concurrent
// misses for the same key are collapsed into a single upstream request.
//
// Typical usage:
//
//	p, err := coquihttp.New("http://localhost:8000",
//	    coquihttp.WithTimeout(5*time.Second),
//	)
//	audio, err := p.SynthesizeSpeech(ctx, "hello", tts.LocaleEnIN)
package coquihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vachaklabs/vachak/pkg/audio"
	"github.com/vachaklabs/vachak/pkg/tts"
	"github.com/vachaklabs/vachak/pkg/tts/cache"
)

// Compile-time interface assertions.
var (
	_ tts.Provider      = (*Provider)(nil)
	_ tts.HealthChecker = (*Provider)(nil)
)

// ---- constants ----

const (
	defaultTimeout = 10 * time.Second
	synthEndpoint  = "/synth"
	healthEndpoint = "/health"

	// maxErrorBody bounds how much of an error response is carried in the
	// returned error.
	maxErrorBody = 512
)

// ---- options ----

// Option is a functional option for configuring a coquihttp Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client, losing any timeout set so far.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithCache makes the provider share the given cache instead of creating its
// own. Keys are locale-qualified hashes of the sanitized text, so sharing
// with other consumers is safe.
func WithCache(c *cache.Cache) Option {
	return func(p *Provider) {
		if c != nil {
			p.cache = c
		}
	}
}

// ---- Provider ----

// Provider implements tts.Provider against a remote synthesis server. Safe
// for concurrent use.
type Provider struct {
	baseURL    string
	httpClient *http.Client
	cache      *cache.Cache
	group      singleflight.Group
}

// synthRequest is the JSON body POSTed to /synth.
type synthRequest struct {
	Text   string `json:"text"`
	Locale string `json:"locale"`
}

// New creates a Provider targeting the synthesis server at baseURL (e.g.
// "http://localhost:8000"). baseURL is required; an empty one fails
// construction with a *tts.ConfigurationError.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, &tts.ConfigurationError{Provider: tts.ProviderCoquiHTTP, Missing: "base URL"}
	}
	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	if p.cache == nil {
		p.cache = cache.New(cache.DefaultMaxEntries, cache.DefaultTTL)
	}
	return p, nil
}

// SynthesizeSpeech returns the stream-format PCM for text, from cache when
// possible. Only fully successful calls populate the cache, so a cached
// utterance is always byte-identical to the synthesis that produced it.
// Callers must not mutate the returned slice.
func (p *Provider) SynthesizeSpeech(ctx context.Context, text string, locale tts.Locale) ([]byte, error) {
	if !locale.IsValid() {
		return nil, &tts.UnsupportedLocaleError{Locale: string(locale)}
	}

	clean := tts.Sanitize(text)
	key := cache.Key(clean, locale)
	if cached, ok := p.cache.Get(key); ok {
		return cached, nil
	}

	// The collapsed fetch is detached from any one caller's cancellation so a
	// canceled request cannot fail the other waiters; the client timeout still
	// bounds the call.
	v, err, _ := p.group.Do(key, func() (any, error) {
		pcm, err := p.fetch(context.WithoutCancel(ctx), clean, locale)
		if err != nil {
			return nil, err
		}
		p.cache.Add(key, pcm)
		return pcm, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// fetch performs the actual /synth call and normalizes the response body.
func (p *Provider) fetch(ctx context.Context, text string, locale tts.Locale) ([]byte, error) {
	data, err := json.Marshal(synthRequest{Text: text, Locale: string(locale)})
	if err != nil {
		return nil, fmt.Errorf("coqui_http: marshal synth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+synthEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui_http: create synth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &tts.UpstreamError{Provider: tts.ProviderCoquiHTTP, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &tts.UpstreamError{
			Provider: tts.ProviderCoquiHTTP,
			Status:   resp.StatusCode,
			Body:     strings.TrimSpace(string(body)),
		}
	}

	if ct := resp.Header.Get("Content-Type"); !binaryContentType(ct) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &tts.UpstreamError{
			Provider: tts.ProviderCoquiHTTP,
			Status:   resp.StatusCode,
			Body:     strings.TrimSpace(string(body)),
			Err:      fmt.Errorf("non-audio response (%s)", ct),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &tts.UpstreamError{Provider: tts.ProviderCoquiHTTP, Err: fmt.Errorf("read audio response: %w", err)}
	}
	if len(body) == 0 {
		return nil, &tts.UpstreamError{
			Provider: tts.ProviderCoquiHTTP,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("empty audio response"),
		}
	}
	return normalize(body)
}

// Health probes the server's /health endpoint. Used by the readiness check.
func (p *Provider) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+healthEndpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui_http: create health request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui_http: health check: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coqui_http: health check returned status %d", resp.StatusCode)
	}
	return nil
}

// binaryContentType reports whether ct plausibly labels audio bytes. An
// absent header is treated as binary; explicit text or JSON types are not.
func binaryContentType(ct string) bool {
	if ct == "" {
		return true
	}
	mediatype, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return true
	}
	if strings.HasPrefix(mediatype, "audio/") || mediatype == "application/octet-stream" {
		return true
	}
	if strings.HasPrefix(mediatype, "text/") || mediatype == "application/json" ||
		strings.HasSuffix(mediatype, "+json") {
		return false
	}
	return true
}

// normalize unwraps a WAV container and converts its payload to the stream
// format; non-RIFF bodies pass through as already-raw PCM.
func normalize(body []byte) ([]byte, error) {
	if !audio.IsWAV(body) {
		return body, nil
	}
	pcm, format, err := audio.DecodeWAV(body)
	if err != nil {
		return nil, &tts.UpstreamError{Provider: tts.ProviderCoquiHTTP, Err: err}
	}
	return audio.ToStreamFormat(pcm, format), nil
}
