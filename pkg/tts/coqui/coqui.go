// Package coqui reserves the provider slot for in-process Coqui model
// inference. Loading the models natively needs cgo bindings that are not
// wired up yet, so the provider is a stub: selecting it is valid
// configuration, synthesis always fails with tts.ErrNotImplemented. Use the
// coquihttp provider to reach a Coqui model behind an HTTP server.
package coqui

import (
	"context"
	"fmt"

	"github.com/vachaklabs/vachak/pkg/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a coqui Provider.
type Option func(*Provider)

// WithModelDir records where local model files would be loaded from. The
// stub only retains the value.
func WithModelDir(dir string) Option {
	return func(p *Provider) {
		p.modelDir = dir
	}
}

// Provider is the local inference stub.
type Provider struct {
	modelDir string
}

// New creates the stub provider. It never fails; only synthesis does.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// SynthesizeSpeech always fails with tts.ErrNotImplemented.
func (p *Provider) SynthesizeSpeech(ctx context.Context, text string, locale tts.Locale) ([]byte, error) {
	return nil, fmt.Errorf("coqui: local model inference: %w", tts.ErrNotImplemented)
}
