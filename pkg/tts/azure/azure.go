// Package azure provides a cloud TTS provider backed by the Azure Cognitive
// Services speech REST API. It implements the tts.Provider interface.
//
// Each synthesis call wraps the text in an SSML document naming the locale's
// neural voice and POSTs it to the regional synthesis endpoint, requesting
// raw 16 kHz 16-bit mono PCM so no container parsing is needed downstream.
//
// Typical usage:
//
//	p, err := azure.New(apiKey, "centralindia",
//	    azure.WithVoice(tts.LocaleEnIN, "en-IN-PrabhatNeural"),
//	    azure.WithTimeout(15*time.Second),
//	)
//	audio, err := p.SynthesizeSpeech(ctx, "hello", tts.LocaleEnIN)
package azure

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vachaklabs/vachak/pkg/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// ---- constants ----

const (
	defaultTimeout = 30 * time.Second

	// endpointFormat is the regional synthesis endpoint; the region slots in
	// as the subdomain.
	endpointFormat = "https://%s.tts.speech.microsoft.com/cognitiveservices/v1"

	// outputFormat asks the service for audio already in the stream format,
	// raw PCM with no container.
	outputFormat = "raw-16khz-16bit-mono-pcm"

	userAgent = "vachak"

	// maxErrorBody bounds how much of an error response is carried in the
	// returned error.
	maxErrorBody = 512
)

// defaultVoices maps each supported locale to its neural voice.
var defaultVoices = map[tts.Locale]string{
	tts.LocaleEnIN: "en-IN-NeerjaNeural",
	tts.LocaleHiIN: "hi-IN-SwaraNeural",
	tts.LocaleMrIN: "mr-IN-AarohiNeural",
}

// ---- options ----

// Option is a functional option for configuring an azure Provider.
type Option func(*Provider)

// WithVoice overrides the voice used for a locale. Unknown locales are
// ignored; the supported set is fixed.
func WithVoice(locale tts.Locale, voice string) Option {
	return func(p *Provider) {
		if locale.IsValid() && voice != "" {
			p.voices[locale] = voice
		}
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client, losing any timeout set so far.
// Intended for tests and callers with custom transports.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithEndpoint overrides the synthesis URL derived from the region. Intended
// for tests and sovereign-cloud deployments.
func WithEndpoint(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.endpoint = url
		}
	}
}

// ---- Provider ----

// Provider implements tts.Provider against the Azure speech REST API. It
// holds no per-call state and is safe for concurrent use.
type Provider struct {
	apiKey     string
	region     string
	endpoint   string
	voices     map[tts.Locale]string
	httpClient *http.Client
}

// New creates an azure Provider for the given subscription key and service
// region (e.g. "centralindia"). Both are required; a missing one fails
// construction with a *tts.ConfigurationError naming it.
func New(apiKey, region string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, &tts.ConfigurationError{Provider: tts.ProviderAzure, Missing: "API key"}
	}
	if region == "" {
		return nil, &tts.ConfigurationError{Provider: tts.ProviderAzure, Missing: "region"}
	}
	p := &Provider{
		apiKey:   apiKey,
		region:   region,
		endpoint: fmt.Sprintf(endpointFormat, region),
		voices:   make(map[tts.Locale]string, len(defaultVoices)),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for l, v := range defaultVoices {
		p.voices[l] = v
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// SynthesizeSpeech renders text through the regional endpoint and returns
// raw 16 kHz 16-bit mono PCM. Transport failures, non-2xx responses and
// empty bodies all surface as a *tts.UpstreamError.
func (p *Provider) SynthesizeSpeech(ctx context.Context, text string, locale tts.Locale) ([]byte, error) {
	voice, ok := p.voices[locale]
	if !ok {
		return nil, &tts.UnsupportedLocaleError{Locale: string(locale)}
	}

	ssml := buildSSML(tts.Sanitize(text), locale, voice)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(ssml))
	if err != nil {
		return nil, fmt.Errorf("azure: create synthesis request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", outputFormat)
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &tts.UpstreamError{Provider: tts.ProviderAzure, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &tts.UpstreamError{
			Provider: tts.ProviderAzure,
			Status:   resp.StatusCode,
			Body:     strings.TrimSpace(string(body)),
		}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &tts.UpstreamError{Provider: tts.ProviderAzure, Err: fmt.Errorf("read audio response: %w", err)}
	}
	if len(audio) == 0 {
		return nil, &tts.UpstreamError{
			Provider: tts.ProviderAzure,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("empty audio response"),
		}
	}
	return audio, nil
}

// ---- SSML ----

// xmlEscaper escapes the five characters with meaning inside SSML text and
// attribute values.
var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// buildSSML wraps escaped text in the minimal document the synthesis
// endpoint expects: a speak root carrying the locale and a voice element
// naming the neural voice.
func buildSSML(text string, locale tts.Locale, voice string) string {
	var b strings.Builder
	b.Grow(len(text) + 160)
	fmt.Fprintf(&b, "<speak version='1.0' xml:lang='%s'>", locale)
	fmt.Fprintf(&b, "<voice xml:lang='%s' name='%s'>", locale, xmlEscaper.Replace(voice))
	b.WriteString(xmlEscaper.Replace(text))
	b.WriteString("</voice></speak>")
	return b.String()
}
