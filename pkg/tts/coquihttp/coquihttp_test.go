package coquihttp

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/vachaklabs/vachak/pkg/audio"
	"github.com/vachaklabs/vachak/pkg/tts"
)

// mustNew builds a provider pointed at a test server.
func mustNew(t *testing.T, serverURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// pcmOf renders n int16 samples with a simple ramp so payloads are
// distinguishable.
func pcmOf(n int) []byte {
	buf := make([]byte, n*2)
	for i := range n {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(i))
	}
	return buf
}

func TestNew_MissingBaseURL(t *testing.T) {
	_, err := New("")
	var cerr *tts.ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if !strings.Contains(err.Error(), "base URL") {
		t.Errorf("error should name the missing field: %s", err)
	}
}

func TestSynthesizeSpeech_RequestShape(t *testing.T) {
	var gotPath, gotContentType string
	var gotBody synthRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		json.Unmarshal(b, &gotBody)
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(audio.EncodeWAV(pcmOf(8), audio.StreamFormat))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	if _, err := p.SynthesizeSpeech(context.Background(), "  hello   <b>world</b> ", tts.LocaleMrIN); err != nil {
		t.Fatalf("SynthesizeSpeech: %v", err)
	}
	if gotPath != "/synth" {
		t.Errorf("path: got %q, want /synth", gotPath)
	}
	if gotContentType != "application/json" {
		t.Errorf("content type: got %q", gotContentType)
	}
	if gotBody.Text != "hello world" {
		t.Errorf("text should be sanitized before the call: got %q", gotBody.Text)
	}
	if gotBody.Locale != "mr-IN" {
		t.Errorf("locale: got %q", gotBody.Locale)
	}
}

func TestSynthesizeSpeech_NormalizesWAV(t *testing.T) {
	// The server speaks 22050 Hz mono WAV; the provider must hand back bare
	// PCM in the 16 kHz stream format.
	srcPCM := pcmOf(2205) // 100 ms at 22050 Hz
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(audio.EncodeWAV(srcPCM, audio.Format{SampleRate: 22050, Channels: 1}))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	got, err := p.SynthesizeSpeech(context.Background(), "hello", tts.LocaleEnIN)
	if err != nil {
		t.Fatalf("SynthesizeSpeech: %v", err)
	}
	if audio.IsWAV(got) {
		t.Error("provider leaked a WAV container")
	}
	// 100 ms at 16 kHz mono is 3200 bytes.
	if len(got) != 3200 {
		t.Errorf("normalized length: got %d, want 3200", len(got))
	}
}

func TestSynthesizeSpeech_RawPCMPassThrough(t *testing.T) {
	raw := pcmOf(16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(raw)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	got, err := p.SynthesizeSpeech(context.Background(), "hello", tts.LocaleEnIN)
	if err != nil {
		t.Fatalf("SynthesizeSpeech: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Error("raw PCM body should pass through unchanged")
	}
}

func TestSynthesizeSpeech_CachesSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(audio.EncodeWAV(pcmOf(64), audio.StreamFormat))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	first, err := p.SynthesizeSpeech(context.Background(), "namaste", tts.LocaleHiIN)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := p.SynthesizeSpeech(context.Background(), "namaste", tts.LocaleHiIN)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("upstream calls: got %d, want 1", got)
	}
	if !bytes.Equal(first, second) {
		t.Error("cached result differs from the original synthesis")
	}

	// A different locale misses the cache.
	if _, err := p.SynthesizeSpeech(context.Background(), "namaste", tts.LocaleMrIN); err != nil {
		t.Fatalf("third call: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("upstream calls after locale change: got %d, want 2", got)
	}
}

func TestSynthesizeSpeech_FailureNotCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "model loading", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(audio.EncodeWAV(pcmOf(8), audio.StreamFormat))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	if _, err := p.SynthesizeSpeech(context.Background(), "hello", tts.LocaleEnIN); err == nil {
		t.Fatal("expected first call to fail")
	}
	if _, err := p.SynthesizeSpeech(context.Background(), "hello", tts.LocaleEnIN); err != nil {
		t.Fatalf("second call should retry upstream, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("upstream calls: got %d, want 2", got)
	}
}

func TestSynthesizeSpeech_NonAudioResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"detail": "wrong shape"}`))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	_, err := p.SynthesizeSpeech(context.Background(), "hello", tts.LocaleEnIN)
	var uerr *tts.UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if !strings.Contains(uerr.Body, "wrong shape") {
		t.Errorf("body not carried: %q", uerr.Body)
	}
}

func TestSynthesizeSpeech_UpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	_, err := p.SynthesizeSpeech(context.Background(), "hello", tts.LocaleEnIN)
	var uerr *tts.UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if uerr.Status != http.StatusBadGateway {
		t.Errorf("status: got %d, want 502", uerr.Status)
	}
	if !strings.HasPrefix(err.Error(), "TTS synthesis failed") {
		t.Errorf("error should read as a synthesis failure: %s", err)
	}
}

func TestSynthesizeSpeech_UnknownLocale(t *testing.T) {
	p := mustNew(t, "http://unused")
	_, err := p.SynthesizeSpeech(context.Background(), "hello", tts.Locale("xx-YY"))
	var lerr *tts.UnsupportedLocaleError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected UnsupportedLocaleError, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path: got %q, want /health", r.URL.Path)
		}
		if !healthy {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	if err := p.Health(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}
	healthy = false
	if err := p.Health(context.Background()); err == nil {
		t.Error("expected unhealthy")
	}
}

func TestBinaryContentType(t *testing.T) {
	cases := map[string]bool{
		"":                         true,
		"audio/wav":                true,
		"audio/basic; rate=16000":  true,
		"application/octet-stream": true,
		"application/json":         false,
		"application/problem+json": false,
		"text/plain; charset=utf8": false,
	}
	for ct, want := range cases {
		if got := binaryContentType(ct); got != want {
			t.Errorf("binaryContentType(%q): got %v, want %v", ct, got, want)
		}
	}
}
