// Package resilience provides failover across speech-synthesis backends.
//
// [Chain] implements [tts.Provider] over an ordered list of backends, each
// guarded by its own [CircuitBreaker]. A backend that keeps failing is
// skipped until its reset timeout elapses. Failover applies only to errors
// that indicate a broken backend — upstream failures and unimplemented
// stubs; deterministic rejections such as an unsupported locale, and context
// cancellation, return immediately without trying further backends.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vachaklabs/vachak/pkg/tts"
)

// ErrAllProvidersFailed is returned by [Chain.SynthesizeSpeech] when every
// backend fails or has an open circuit breaker. The last backend error is
// wrapped alongside it.
var ErrAllProvidersFailed = errors.New("resilience: all providers failed")

// Entry names one synthesis backend for [NewChain].
type Entry struct {
	Name     string
	Provider tts.Provider
}

type chainEntry struct {
	name     string
	provider tts.Provider
	breaker  *CircuitBreaker
}

// Chain is a [tts.Provider] that fails over across an ordered list of
// backends. The first entry is the preferred backend; the rest are tried in
// order when it is broken or its breaker is open.
type Chain struct {
	entries []chainEntry
}

var (
	_ tts.Provider      = (*Chain)(nil)
	_ tts.HealthChecker = (*Chain)(nil)
)

// NewChain builds a [Chain] from the given entries. Every entry gets its own
// circuit breaker derived from cfg (the entry name overrides cfg.Name). At
// least one entry with a non-nil provider is required.
func NewChain(cfg CircuitBreakerConfig, entries ...Entry) (*Chain, error) {
	if len(entries) == 0 {
		return nil, errors.New("resilience: chain needs at least one provider")
	}
	c := &Chain{entries: make([]chainEntry, 0, len(entries))}
	for _, e := range entries {
		if e.Provider == nil {
			return nil, fmt.Errorf("resilience: provider %q is nil", e.Name)
		}
		cbCfg := cfg
		cbCfg.Name = e.Name
		c.entries = append(c.entries, chainEntry{
			name:     e.Name,
			provider: e.Provider,
			breaker:  NewCircuitBreaker(cbCfg),
		})
	}
	return c, nil
}

// Names returns the backend names in failover order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.entries))
	for i := range c.entries {
		names[i] = c.entries[i].name
	}
	return names
}

// SynthesizeSpeech tries each backend in order until one returns audio.
// Backends with an open breaker are skipped without a call. When every
// backend fails, the returned error wraps both [ErrAllProvidersFailed] and
// the last backend error. A chain with a single backend returns that
// backend's error as is; there was no failover to report.
func (c *Chain) SynthesizeSpeech(ctx context.Context, text string, locale tts.Locale) ([]byte, error) {
	var lastErr error
	for i := range c.entries {
		entry := &c.entries[i]

		if err := entry.breaker.Allow(); err != nil {
			slog.Debug("skipping synthesis backend, circuit open",
				"provider", entry.name)
			lastErr = fmt.Errorf("%s: %w", entry.name, err)
			continue
		}

		audio, err := entry.provider.SynthesizeSpeech(ctx, text, locale)

		// A rejected request or a cancelled context says nothing about the
		// backend's health, so only failover-eligible errors count against
		// the breaker.
		entry.breaker.Record(err == nil || !failoverEligible(err))

		if err == nil {
			return audio, nil
		}
		if !failoverEligible(err) {
			return nil, err
		}

		slog.Warn("synthesis backend failed, trying next",
			"provider", entry.name, "error", err)
		lastErr = err
	}
	if len(c.entries) == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
}

// Health probes the backends that implement [tts.HealthChecker] and returns
// nil as soon as one reports healthy. When no backend supports probing the
// chain is assumed usable. Used by the readiness endpoint.
func (c *Chain) Health(ctx context.Context) error {
	var lastErr error
	probed := false
	for i := range c.entries {
		hc, ok := c.entries[i].provider.(tts.HealthChecker)
		if !ok {
			continue
		}
		probed = true
		err := hc.Health(ctx)
		if err == nil {
			return nil
		}
		lastErr = fmt.Errorf("%s: %w", c.entries[i].name, err)
	}
	if !probed {
		return nil
	}
	return lastErr
}

// failoverEligible reports whether err indicates a broken backend worth
// failing over from.
func failoverEligible(err error) bool {
	var upstream *tts.UpstreamError
	if errors.As(err, &upstream) {
		return true
	}
	return errors.Is(err, tts.ErrNotImplemented)
}
