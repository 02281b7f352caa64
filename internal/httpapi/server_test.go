package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vachaklabs/vachak/internal/health"
	"github.com/vachaklabs/vachak/internal/httpapi"
	"github.com/vachaklabs/vachak/internal/resilience"
	"github.com/vachaklabs/vachak/pkg/audio"
	"github.com/vachaklabs/vachak/pkg/tts"
	"github.com/vachaklabs/vachak/pkg/tts/cache"
)

// fakeProvider returns canned audio or a canned error and counts calls.
type fakeProvider struct {
	pcm   []byte
	err   error
	delay time.Duration
	calls atomic.Int64
}

func (f *fakeProvider) SynthesizeSpeech(ctx context.Context, _ string, _ tts.Locale) ([]byte, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.pcm, nil
}

func newTestServer(t *testing.T, cfg httpapi.Config) *httptest.Server {
	t.Helper()
	srv, err := httpapi.NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func postSynth(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/synth", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /synth: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func errorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["error"]
}

func TestNewServer_RequiresProvider(t *testing.T) {
	t.Parallel()
	if _, err := httpapi.NewServer(httpapi.Config{}); err == nil {
		t.Fatal("NewServer accepted a nil provider")
	}
}

func TestSynth_ReturnsWAV(t *testing.T) {
	t.Parallel()
	pcm := bytes.Repeat([]byte{0x01, 0x02}, 1600) // 100 ms at the stream format
	provider := &fakeProvider{pcm: pcm}
	ts := newTestServer(t, httpapi.Config{
		ProviderName: "azure",
		Provider:     provider,
		Cache:        cache.New(8, time.Minute),
	})

	resp := postSynth(t, ts, `{"text": "namaste duniya", "locale": "hi-IN"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q, want audio/wav", ct)
	}
	if hit := resp.Header.Get("X-Cache-Hit"); hit != "false" {
		t.Errorf("X-Cache-Hit = %q, want false on first request", hit)
	}
	ms := resp.Header.Get("X-Processing-Time-MS")
	if _, err := strconv.ParseFloat(ms, 64); err != nil {
		t.Errorf("X-Processing-Time-MS = %q, want a float", ms)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	got, format, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("response is not a WAV: %v", err)
	}
	if format != audio.StreamFormat {
		t.Errorf("WAV format = %v, want %v", format, audio.StreamFormat)
	}
	if !bytes.Equal(got, pcm) {
		t.Error("WAV payload differs from synthesized PCM")
	}
}

func TestSynth_CacheHitSkipsProvider(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{pcm: []byte{1, 2, 3, 4}}
	ts := newTestServer(t, httpapi.Config{
		ProviderName: "azure",
		Provider:     provider,
		Cache:        cache.New(8, time.Minute),
	})
	const body = `{"text": "kaise ho", "locale": "hi-IN"}`

	first := postSynth(t, ts, body)
	firstWAV, err := io.ReadAll(first.Body)
	if err != nil {
		t.Fatalf("read first body: %v", err)
	}

	second := postSynth(t, ts, body)
	if hit := second.Header.Get("X-Cache-Hit"); hit != "true" {
		t.Errorf("X-Cache-Hit = %q on repeat request, want true", hit)
	}
	secondWAV, err := io.ReadAll(second.Body)
	if err != nil {
		t.Fatalf("read second body: %v", err)
	}
	if !bytes.Equal(firstWAV, secondWAV) {
		t.Error("cached response differs from the original")
	}
	if n := provider.calls.Load(); n != 1 {
		t.Errorf("provider called %d times, want 1", n)
	}
}

func TestSynth_ConcurrentMissesCollapse(t *testing.T) {
	t.Parallel()
	// The provider stalls so every request arrives while the first call is
	// still in flight.
	provider := &fakeProvider{pcm: bytes.Repeat([]byte{7, 8}, 320), delay: 100 * time.Millisecond}
	ts := newTestServer(t, httpapi.Config{
		ProviderName: "azure",
		Provider:     provider,
		Cache:        cache.New(8, time.Minute),
	})
	const body = `{"text": "ek hi baat", "locale": "hi-IN"}`

	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			resp, err := http.Post(ts.URL+"/synth", "application/json", strings.NewReader(body))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if _, err := io.Copy(io.Discard, resp.Body); err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status = %d, want 200", resp.StatusCode)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if n := provider.calls.Load(); n != 1 {
		t.Errorf("provider called %d times for one utterance, want 1", n)
	}
	if resp := postSynth(t, ts, body); resp.Header.Get("X-Cache-Hit") != "true" {
		t.Error("shared result was not cached")
	}
}

func TestSynth_WithoutCacheCallsProviderEveryTime(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{pcm: []byte{1, 2}}
	ts := newTestServer(t, httpapi.Config{Provider: provider})
	const body = `{"text": "hello", "locale": "en-IN"}`

	postSynth(t, ts, body)
	resp := postSynth(t, ts, body)
	if hit := resp.Header.Get("X-Cache-Hit"); hit != "false" {
		t.Errorf("X-Cache-Hit = %q without a cache, want false", hit)
	}
	if n := provider.calls.Load(); n != 2 {
		t.Errorf("provider called %d times, want 2", n)
	}
}

func TestSynth_RejectsBadRequests(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"empty body", ``, "JSON"},
		{"not json", `say this`, "JSON"},
		{"whitespace text", `{"text": "   ", "locale": "hi-IN"}`, "text must not be empty"},
		{"missing text", `{"locale": "hi-IN"}`, "text must not be empty"},
		{"locale typo", `{"text": "hello", "locale": "hi-I"}`, `did you mean "hi-IN"`},
		{"unknown locale", `{"text": "hello", "locale": "fr-FR"}`, "supported"},
	}

	ts := newTestServer(t, httpapi.Config{Provider: &fakeProvider{pcm: []byte{1}}})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postSynth(t, ts, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			if msg := errorMessage(t, resp); !strings.Contains(msg, tt.wantMsg) {
				t.Errorf("error = %q, want it to mention %q", msg, tt.wantMsg)
			}
		})
	}
}

func TestSynth_TextLimitCountsRunes(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{pcm: []byte{1, 2}}
	ts := newTestServer(t, httpapi.Config{Provider: provider, MaxTextChars: 10})

	// Twelve Devanagari characters span 36 bytes; the limit counts characters.
	over := fmt.Sprintf(`{"text": %q, "locale": "hi-IN"}`, strings.Repeat("न", 12))
	resp := postSynth(t, ts, over)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d for 12-character text, want 400", resp.StatusCode)
	}
	if msg := errorMessage(t, resp); !strings.Contains(msg, "limit is 10") {
		t.Errorf("error = %q, want it to name the limit", msg)
	}

	within := fmt.Sprintf(`{"text": %q, "locale": "hi-IN"}`, strings.Repeat("न", 10))
	if resp := postSynth(t, ts, within); resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d for 10-character text, want 200", resp.StatusCode)
	}
}

func TestSynth_MapsProviderErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"upstream failure", &tts.UpstreamError{Provider: "azure", Status: 500}, http.StatusBadGateway},
		{
			"all providers failed",
			fmt.Errorf("%w: %w", resilience.ErrAllProvidersFailed, tts.ErrNotImplemented),
			http.StatusBadGateway,
		},
		{"stub provider", fmt.Errorf("coqui: %w", tts.ErrNotImplemented), http.StatusNotImplemented},
		{"open breaker", fmt.Errorf("azure: %w", resilience.ErrCircuitOpen), http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, httpapi.Config{Provider: &fakeProvider{err: tt.err}})
			resp := postSynth(t, ts, `{"text": "hello", "locale": "en-IN"}`)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if errorMessage(t, resp) == "" {
				t.Error("error body is empty")
			}
		})
	}
}

func TestSynth_GetIsMethodNotAllowed(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, httpapi.Config{Provider: &fakeProvider{pcm: []byte{1}}})
	resp, err := http.Get(ts.URL + "/synth")
	if err != nil {
		t.Fatalf("GET /synth: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestInfo_ReportsServiceAndLocales(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, httpapi.Config{ProviderName: "coqui_http", Provider: &fakeProvider{pcm: []byte{1}}})
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var info struct {
		Service  string            `json:"service"`
		Provider string            `json:"provider"`
		Locales  []string          `json:"locales"`
		Notes    map[string]string `json:"notes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info.Service != "vachak" {
		t.Errorf("service = %q, want vachak", info.Service)
	}
	if info.Provider != "coqui_http" {
		t.Errorf("provider = %q, want coqui_http", info.Provider)
	}
	want := []string{"en-IN", "hi-IN", "mr-IN"}
	if len(info.Locales) != len(want) {
		t.Fatalf("locales = %v, want %v", info.Locales, want)
	}
	for i, l := range want {
		if info.Locales[i] != l {
			t.Errorf("locales[%d] = %q, want %q", i, info.Locales[i], l)
		}
	}
	if info.Notes["mr-IN"] == "" {
		t.Error("missing the mr-IN voice note")
	}
}

func TestInfo_UnknownPathIs404(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, httpapi.Config{Provider: &fakeProvider{pcm: []byte{1}}})
	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMetricsRouteIsMounted(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, httpapi.Config{Provider: &fakeProvider{pcm: []byte{1}}})
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHealthRoutesAreMounted(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, httpapi.Config{
		Provider: &fakeProvider{pcm: []byte{1}},
		Health:   health.New(),
	})

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}
