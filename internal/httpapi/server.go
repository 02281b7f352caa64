// Package httpapi serves the synthesis service over HTTP: one-shot synthesis
// returning WAV on POST /synth, chunked streaming over a WebSocket on
// GET /synth/stream, service info, health endpoints and Prometheus metrics.
//
// Routes use Go 1.22 method patterns and the whole mux is wrapped in the
// observe middleware, so every request is measured and trace-correlated.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"

	"github.com/vachaklabs/vachak/internal/health"
	"github.com/vachaklabs/vachak/internal/observe"
	"github.com/vachaklabs/vachak/internal/resilience"
	"github.com/vachaklabs/vachak/pkg/audio"
	"github.com/vachaklabs/vachak/pkg/speaker"
	"github.com/vachaklabs/vachak/pkg/tts"
	"github.com/vachaklabs/vachak/pkg/tts/cache"
)

// maxBodyBytes caps the POST /synth request body. Synthesis requests are a
// couple hundred characters of JSON; anything near this limit is abuse.
const maxBodyBytes = 1 << 20

// Config carries the dependencies of a [Server]. Provider is required; every
// other field has a usable zero value.
type Config struct {
	// ProviderName is the advertised backend name, recorded as the provider
	// attribute on synthesis metrics and reported by GET /.
	ProviderName string

	// MaxTextChars caps the sanitized text length accepted for synthesis,
	// counted in runes. Zero means 200.
	MaxTextChars int

	// Provider performs synthesis for POST /synth and backs the default
	// speaker factory.
	Provider tts.Provider

	// Cache is the shared result cache consulted before synthesis and filled
	// after it. Nil disables service-level caching.
	Cache *cache.Cache

	// Metrics records request and synthesis measurements.
	// Nil means [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Health, when non-nil, mounts GET /healthz and GET /readyz.
	Health *health.Handler

	// NewSpeaker builds the per-connection speaker behind GET /synth/stream.
	// The release function is called when the connection ends, letting the
	// owner track live streams. Nil means a plain speaker over Provider.
	NewSpeaker func() (*speaker.Speaker, func(), error)
}

// Server is the HTTP surface of the synthesis service. Create one with
// [NewServer]; it implements [http.Handler].
type Server struct {
	providerName string
	maxTextChars int
	provider     tts.Provider
	cache        *cache.Cache
	metrics      *observe.Metrics
	newSpeaker   func() (*speaker.Speaker, func(), error)
	flight       singleflight.Group
	handler      http.Handler
}

// NewServer builds the route table and returns the server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Provider == nil {
		return nil, errors.New("httpapi: provider must not be nil")
	}
	s := &Server{
		providerName: cfg.ProviderName,
		maxTextChars: cfg.MaxTextChars,
		provider:     cfg.Provider,
		cache:        cfg.Cache,
		metrics:      cfg.Metrics,
		newSpeaker:   cfg.NewSpeaker,
	}
	if s.providerName == "" {
		s.providerName = "unknown"
	}
	if s.maxTextChars <= 0 {
		s.maxTextChars = 200
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.newSpeaker == nil {
		s.newSpeaker = func() (*speaker.Speaker, func(), error) {
			spk, err := speaker.New(cfg.Provider)
			if err != nil {
				return nil, nil, err
			}
			return spk, func() {}, nil
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleInfo)
	mux.HandleFunc("POST /synth", s.handleSynth)
	mux.HandleFunc("GET /synth/stream", s.handleStream)
	mux.Handle("GET /metrics", promhttp.Handler())
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	s.handler = observe.Middleware(s.metrics)(mux)
	return s, nil
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// synthRequest is the POST /synth body.
type synthRequest struct {
	Text   string `json:"text"`
	Locale string `json:"locale"`
}

// handleSynth synthesizes one utterance and returns it as a WAV response.
// The shared cache is consulted before the provider and filled after a
// successful synthesis; X-Cache-Hit reports which of the two happened.
func (s *Server) handleSynth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req synthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, `request body must be JSON with "text" and "locale"`)
		return
	}

	text := tts.Sanitize(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}
	if n := utf8.RuneCountInString(text); n > s.maxTextChars {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("text is %d characters, the limit is %d", n, s.maxTextChars))
		return
	}

	locale, err := tts.ParseLocale(req.Locale)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := cache.Key(text, locale)
	pcm, hit := s.cacheGet(key)
	if !hit {
		pcm, err = s.synthesize(ctx, key, text, locale)
		if err != nil {
			s.metrics.RecordSynthesisError(ctx, s.providerName, err)
			observe.Logger(ctx).Error("synthesis failed",
				"provider", s.providerName, "locale", locale, "error", err)
			writeError(w, synthStatus(err), err.Error())
			return
		}
	}

	elapsed := time.Since(start)
	s.metrics.RecordCacheEvent(ctx, hit)
	s.metrics.RecordSynthesis(ctx, s.providerName, locale, hit, elapsed)

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Processing-Time-MS", fmt.Sprintf("%.2f", millis(elapsed)))
	w.Header().Set("X-Cache-Hit", strconv.FormatBool(hit))
	_, _ = w.Write(audio.EncodeWAV(pcm, audio.StreamFormat))
}

// handleInfo reports what this deployment speaks.
func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	locales := make([]string, 0, len(tts.SupportedLocales()))
	for _, l := range tts.SupportedLocales() {
		locales = append(locales, string(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":  "vachak",
		"status":   "running",
		"provider": s.providerName,
		"locales":  locales,
		"notes": map[string]string{
			"mr-IN": "coqui deployments synthesize Marathi with the shared Hindi model",
		},
	})
}

// synthesize runs one provider call per cache key at a time; concurrent
// requests for the same utterance share the first call's result and the cache
// is filled once. The flight outlives any one caller so a canceled request
// cannot poison the shared result; the providers' own timeouts bound the
// call.
func (s *Server) synthesize(ctx context.Context, key, text string, locale tts.Locale) ([]byte, error) {
	v, err, _ := s.flight.Do(key, func() (any, error) {
		pcm, err := s.provider.SynthesizeSpeech(context.WithoutCancel(ctx), text, locale)
		if err != nil {
			return nil, err
		}
		s.cacheAdd(key, pcm)
		return pcm, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *Server) cacheGet(key string) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(key)
}

func (s *Server) cacheAdd(key string, pcm []byte) {
	if s.cache != nil {
		s.cache.Add(key, pcm)
	}
}

// synthStatus maps a synthesis failure to an HTTP status.
// ErrAllProvidersFailed is checked before ErrNotImplemented so a
// multi-backend outage stays a gateway error even when the last backend in
// the chain was the local stub.
func synthStatus(err error) int {
	var (
		upstream *tts.UpstreamError
		locale   *tts.UnsupportedLocaleError
	)
	switch {
	case errors.Is(err, resilience.ErrAllProvidersFailed):
		return http.StatusBadGateway
	case errors.Is(err, tts.ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	case errors.As(err, &locale):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
