// Package rewrite transforms utterance text before synthesis. The stage is
// opt-in per request: when a request asks for it, the active Rewriter runs on
// the text and its output is what reaches the synthesis provider. A rewriter
// failure is a synthesis-stage failure; callers abandon the utterance and
// report it like any other error.
package rewrite

import (
	"context"
	"sync/atomic"
)

// Rewriter rewrites text ahead of synthesis.
//
// Implementations must be safe for concurrent use and should respect ctx.
type Rewriter interface {
	Rewrite(ctx context.Context, text string) (string, error)
}

// Func adapts a function to the Rewriter interface.
type Func func(ctx context.Context, text string) (string, error)

// Rewrite calls f.
func (f Func) Rewrite(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// Identity returns the default rewriter, which hands text back unchanged.
func Identity() Rewriter {
	return Func(func(_ context.Context, text string) (string, error) {
		return text, nil
	})
}

// Swap is a Rewriter whose delegate can be replaced at runtime. Utterances
// already past their rewrite stage are unaffected; the next Rewrite call uses
// the new delegate. Safe for concurrent use.
//
// The zero value delegates to [Identity].
type Swap struct {
	v atomic.Value // holds a Rewriter
}

var _ Rewriter = (*Swap)(nil)

// NewSwap returns a Swap delegating to r. A nil r means [Identity].
func NewSwap(r Rewriter) *Swap {
	s := &Swap{}
	s.Set(r)
	return s
}

// Set replaces the delegate. A nil r restores [Identity].
func (s *Swap) Set(r Rewriter) {
	if r == nil {
		r = Identity()
	}
	s.v.Store(&r)
}

// Rewrite delegates to the current rewriter.
func (s *Swap) Rewrite(ctx context.Context, text string) (string, error) {
	r, ok := s.v.Load().(*Rewriter)
	if !ok {
		return Identity().Rewrite(ctx, text)
	}
	return (*r).Rewrite(ctx, text)
}
