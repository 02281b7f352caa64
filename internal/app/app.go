// Package app wires all Vachak subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API until the context is cancelled, and
// Shutdown tears everything down in reverse order.
//
// For testing, inject doubles via functional options (WithProvider,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/vachaklabs/vachak/internal/config"
	"github.com/vachaklabs/vachak/internal/health"
	"github.com/vachaklabs/vachak/internal/httpapi"
	"github.com/vachaklabs/vachak/internal/observe"
	"github.com/vachaklabs/vachak/internal/resilience"
	"github.com/vachaklabs/vachak/pkg/audio"
	"github.com/vachaklabs/vachak/pkg/rewrite"
	"github.com/vachaklabs/vachak/pkg/speaker"
	"github.com/vachaklabs/vachak/pkg/tts"
	"github.com/vachaklabs/vachak/pkg/tts/cache"
)

// readHeaderTimeout bounds how long a client may take to send request
// headers.
const readHeaderTimeout = 5 * time.Second

// App owns all subsystem lifetimes and serves the Vachak synthesis API.
type App struct {
	cfg *config.Config

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics  *observe.Metrics
	cache    *cache.Cache
	provider tts.Provider
	backends []string
	rewriter *rewrite.Swap
	streamer *audio.Streamer
	checks   *health.Handler
	streams  *StreamManager
	api      *httpapi.Server
	server   *http.Server

	// closers run in reverse order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithProvider injects a synthesis backend instead of building the configured
// chain.
func WithProvider(p tts.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithMetrics injects a metrics recorder and skips telemetry provider setup.
// The Prometheus exporter registers with the process-global registry, so
// tests that construct several Apps must inject their own recorder.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: telemetry, the shared
// result cache, the synthesis backend chain, the rewrite stage, and the HTTP
// API. Use Option functions to inject test doubles.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	a := &App{cfg: cfg, streams: NewStreamManager()}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Result cache ──────────────────────────────────────────────────
	a.cache = cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL.Std())

	// ── 3. Synthesis backends ────────────────────────────────────────────
	if err := a.initProvider(); err != nil {
		return nil, fmt.Errorf("app: init provider: %w", err)
	}

	// ── 4. Rewrite stage ─────────────────────────────────────────────────
	r, err := buildRewriter(cfg.Rewrite)
	if err != nil {
		return nil, fmt.Errorf("app: init rewrite: %w", err)
	}
	a.rewriter = rewrite.NewSwap(r)

	// ── 5. HTTP API ──────────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTelemetry sets up the OTel providers and the metrics recorder, unless a
// recorder was injected.
func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil // injected
	}

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, shutdown)

	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

// initProvider resolves the configured backends into a failover chain, or
// keeps an injected provider.
func (a *App) initProvider() error {
	entries := append([]config.ProviderEntry{a.cfg.Synthesis.Provider}, a.cfg.Synthesis.Fallbacks...)
	for _, e := range entries {
		if name := backendName(e.Name); name != "" {
			a.backends = append(a.backends, name)
		}
	}
	if a.provider != nil {
		return nil // injected
	}

	registry := BuiltinRegistry(a.cache)
	chainEntries := make([]resilience.Entry, 0, len(entries))
	for _, e := range entries {
		p, err := registry.Create(e)
		if err != nil {
			return err
		}
		chainEntries = append(chainEntries, resilience.Entry{Name: backendName(e.Name), Provider: p})
		slog.Info("configured synthesis backend", "provider", backendName(e.Name))
	}

	chain, err := resilience.NewChain(resilience.CircuitBreakerConfig{}, chainEntries...)
	if err != nil {
		return err
	}
	a.provider = chain
	return nil
}

// initServer assembles the streamer, the readiness checks, and the HTTP API.
func (a *App) initServer() error {
	a.streamer = audio.NewStreamer(
		audio.WithChunkDuration(time.Duration(a.cfg.Synthesis.ChunkMillis) * time.Millisecond),
	)
	a.checks = health.New(
		health.ProviderChecker("provider", a.provider),
		configChecker(a.cfg),
	)

	api, err := httpapi.NewServer(httpapi.Config{
		ProviderName: backendName(a.cfg.Synthesis.Provider.Name),
		MaxTextChars: a.cfg.Synthesis.MaxTextChars,
		Provider:     a.provider,
		Cache:        a.cache,
		Metrics:      a.metrics,
		Health:       a.checks,
		NewSpeaker:   a.newSpeaker,
	})
	if err != nil {
		return err
	}
	a.api = api
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           api,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return nil
}

// ─── Speakers ────────────────────────────────────────────────────────────────

// newSpeaker builds the speaker behind one streaming connection. Speakers
// share the swappable rewrite stage, the tuned streamer, and the utterance
// metrics hook; the stream manager tracks each one until its connection
// releases it.
func (a *App) newSpeaker() (*speaker.Speaker, func(), error) {
	spk, err := speaker.New(a.provider,
		speaker.WithRewriter(a.rewriter),
		speaker.WithStreamer(a.streamer),
		speaker.WithMetricsFunc(a.recordUtterance),
	)
	if err != nil {
		return nil, nil, err
	}
	return spk, a.streams.Register(spk), nil
}

// recordUtterance feeds every finished utterance into the metrics recorder.
// Speaker callbacks carry no request context.
func (a *App) recordUtterance(m speaker.Metrics, terminal speaker.Phase) {
	a.metrics.RecordUtterance(context.Background(), terminal.String(), m.StreamingDuration, m.TotalDuration)
}

// UpdateRewrite replaces the rewrite stage with one built from rc. Utterances
// already past their rewrite stage are unaffected. Part of the config
// hot-reload path.
func (a *App) UpdateRewrite(rc config.RewriteConfig) error {
	r, err := buildRewriter(rc)
	if err != nil {
		return fmt.Errorf("app: update rewrite: %w", err)
	}
	a.rewriter.Set(r)
	slog.Info("rewrite stage updated",
		"enabled", rc.Enabled, "provider", rc.Provider, "model", rc.Model)
	return nil
}

// Handler returns the root HTTP handler. Useful for tests that drive the API
// in-process instead of over a socket.
func (a *App) Handler() http.Handler { return a.api }

// Backends returns the configured synthesis backend names in failover order.
func (a *App) Backends() []string { return slices.Clone(a.backends) }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API and blocks until ctx is cancelled or the listener
// fails. Run does not stop the server; call Shutdown for the graceful
// teardown.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if t := a.cfg.Server.TLS; t != nil {
			err = a.server.ListenAndServeTLS(t.CertFile, t.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("vachak serving",
		"addr", a.cfg.Server.ListenAddr,
		"backends", a.backends,
		"tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the server gracefully: the listener closes and in-flight
// requests drain, live streams are stopped and waited for, then the remaining
// subsystems close in reverse-init order. It respects the ctx deadline; when
// ctx expires the remaining steps are skipped and the context error is
// returned. Only the first call does work.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown", "error", err)
			shutdownErr = err
		}

		// Hijacked streaming connections are invisible to server.Shutdown.
		if err := a.streams.Drain(ctx); err != nil {
			slog.Warn("stream drain", "error", err, "remaining", a.streams.Active())
			if shutdownErr == nil {
				shutdownErr = err
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				if shutdownErr == nil {
					shutdownErr = ctx.Err()
				}
				return
			default:
			}
			if err := a.closers[i](ctx); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// backendName normalises a configured backend name for display and metrics.
func backendName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// configChecker reports the loaded configuration's validity as a readiness
// check.
func configChecker(cfg *config.Config) health.Checker {
	return health.Checker{
		Name: "config",
		Check: func(context.Context) error {
			return config.Validate(cfg)
		},
	}
}
