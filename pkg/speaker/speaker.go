// Package speaker turns text into audible speech and delivers it chunk by
// chunk to an audio sink.
//
// A [Speaker] owns at most one utterance at a time. [Speaker.Speak] runs the
// pipeline asynchronously: sanitize the text, optionally rewrite it for
// spoken delivery, synthesize PCM through a [tts.Provider], and stream the
// audio to the request's [audio.Sink] in paced chunks. Callers observe
// progress through [Speaker.Phase] and the per-request callbacks.
//
// Speaking while a previous utterance is still active supersedes it: the old
// session's context is canceled and the new session starts once the old one
// has wound down (bounded by the replace wait). Utterances are never queued.
package speaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vachaklabs/vachak/pkg/audio"
	"github.com/vachaklabs/vachak/pkg/rewrite"
	"github.com/vachaklabs/vachak/pkg/tts"
)

// Phase is the stage an utterance is currently in. Phases advance strictly
// forward; Done, Stopped and Errored are terminal.
type Phase int32

const (
	// PhaseIdle means no utterance has started yet.
	PhaseIdle Phase = iota

	// PhaseRewriting means the rewrite stage is running. Skipped for
	// requests that do not opt in to rewriting.
	PhaseRewriting

	// PhaseSynthesizing means the provider call is in flight.
	PhaseSynthesizing

	// PhaseStreaming means synthesized audio is being delivered to the sink.
	PhaseStreaming

	// PhaseDone means the utterance completed and every chunk was delivered.
	PhaseDone

	// PhaseStopped means the utterance was canceled, either by [Speaker.Stop]
	// or by being superseded. Stopping is not an error.
	PhaseStopped

	// PhaseErrored means a pipeline stage failed.
	PhaseErrored
)

// String returns the lowercase phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRewriting:
		return "rewriting"
	case PhaseSynthesizing:
		return "synthesizing"
	case PhaseStreaming:
		return "streaming"
	case PhaseDone:
		return "done"
	case PhaseStopped:
		return "stopped"
	case PhaseErrored:
		return "errored"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Metrics are the timings of one finished utterance.
type Metrics struct {
	// SynthesisDuration is the wall time of the provider call.
	SynthesisDuration time.Duration

	// StreamingDuration is the wall time spent delivering chunks to the sink,
	// pacing gaps included.
	StreamingDuration time.Duration

	// TotalDuration spans the start of processing through the terminal state.
	TotalDuration time.Duration
}

// Request describes one utterance.
type Request struct {
	// Text is the raw utterance text. It is sanitized before any further
	// processing; text that sanitizes to nothing resolves Done immediately
	// without touching the rewriter, the provider or the sink.
	Text string

	// Locale selects the synthesis voice.
	Locale tts.Locale

	// Rewrite opts this request in to the rewrite stage.
	Rewrite bool

	// Sink receives the synthesized audio chunk by chunk.
	Sink audio.Sink

	// OnStart, when non-nil, is called once processing begins.
	OnStart func()

	// OnDone, when non-nil, receives the utterance metrics on clean
	// completion and on stop alike. Check [Speaker.Phase] or track
	// [Speaker.Stop] calls to tell the two apart when it matters.
	OnDone func(Metrics)

	// OnError, when non-nil, receives the failure of an errored utterance.
	// It is called exactly once per failed utterance and never for an
	// utterance that was stopped.
	OnError func(error)
}

// DefaultReplaceWait bounds how long a superseding utterance waits for its
// predecessor to wind down before proceeding anyway.
const DefaultReplaceWait = 500 * time.Millisecond

// session is one in-flight utterance. Sessions are created by Speak and
// replaced wholesale on supersede; they are never reused.
type session struct {
	req    Request
	cancel context.CancelFunc
	done   chan struct{} // closed after the terminal callback has run
	finish sync.Once
}

// Speaker drives utterances through the rewrite, synthesis and streaming
// stages. All methods are safe for concurrent use.
type Speaker struct {
	provider    tts.Provider
	streamer    *audio.Streamer
	replaceWait time.Duration
	metricsFn   func(Metrics, Phase)

	mu       sync.Mutex
	rewriter rewrite.Rewriter
	session  *session // active utterance, nil when idle

	phase atomic.Int32
}

// Option configures a [Speaker] during construction.
type Option func(*Speaker)

// WithRewriter sets the rewriter used for requests that opt in to rewriting.
// Default: [rewrite.Identity].
func WithRewriter(r rewrite.Rewriter) Option {
	return func(s *Speaker) {
		if r != nil {
			s.rewriter = r
		}
	}
}

// WithStreamer sets the streamer that chunks and paces audio delivery.
// Default: [audio.NewStreamer] with its defaults.
func WithStreamer(st *audio.Streamer) Option {
	return func(s *Speaker) {
		if st != nil {
			s.streamer = st
		}
	}
}

// WithReplaceWait bounds how long a superseding utterance waits for the
// previous one to wind down. Zero disables the wait. Default: 500 ms.
func WithReplaceWait(d time.Duration) Option {
	return func(s *Speaker) {
		if d >= 0 {
			s.replaceWait = d
		}
	}
}

// WithMetricsFunc registers fn to receive the metrics and terminal phase of
// every finished utterance, regardless of how it ended. Intended for wiring
// a metrics backend without touching per-request callbacks.
func WithMetricsFunc(fn func(Metrics, Phase)) Option {
	return func(s *Speaker) {
		s.metricsFn = fn
	}
}

// New creates a Speaker that synthesizes through provider.
func New(provider tts.Provider, opts ...Option) (*Speaker, error) {
	if provider == nil {
		return nil, errors.New("speaker: provider must not be nil")
	}
	s := &Speaker{
		provider:    provider,
		streamer:    audio.NewStreamer(),
		replaceWait: DefaultReplaceWait,
		rewriter:    rewrite.Identity(),
	}
	for _, o := range opts {
		o(s)
	}
	s.phase.Store(int32(PhaseIdle))
	return s, nil
}

// Phase returns the current phase: the stage of the active utterance, or the
// terminal state of the last one.
func (s *Speaker) Phase() Phase {
	return Phase(s.phase.Load())
}

// SetRewriter swaps the rewriter used by subsequent utterances. A nil
// rewriter restores [rewrite.Identity]. The active utterance keeps the
// rewriter it started with.
func (s *Speaker) SetRewriter(r rewrite.Rewriter) {
	if r == nil {
		r = rewrite.Identity()
	}
	s.mu.Lock()
	s.rewriter = r
	s.mu.Unlock()
}

// Speak starts an utterance and returns immediately. The outcome arrives
// through the request callbacks: OnDone for completion and stop, OnError for
// failure. If an utterance is already active it is superseded, resolving as
// Stopped.
//
// ctx bounds the whole utterance; canceling it stops the utterance the same
// way [Speaker.Stop] does.
func (s *Speaker) Speak(ctx context.Context, req Request) {
	runCtx, cancel := context.WithCancel(ctx)
	sess := &session{
		req:    req,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	old := s.session
	s.session = sess
	rewriter := s.rewriter
	s.phase.Store(int32(PhaseIdle))
	s.mu.Unlock()

	if old != nil {
		old.cancel()
	}

	go s.run(runCtx, sess, old, rewriter)
}

// Stop cancels the active utterance, if any. The utterance resolves as
// Stopped and reports through OnDone; Stop itself does not block on the
// wind-down.
func (s *Speaker) Stop() {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()

	if sess != nil {
		sess.cancel()
	}
}

// run executes the pipeline for one session. It is the only writer of the
// session's terminal state.
func (s *Speaker) run(ctx context.Context, sess *session, old *session, rewriter rewrite.Rewriter) {
	if old != nil {
		s.awaitWindDown(ctx, old)
	}

	start := time.Now()
	var m Metrics

	// Superseded or stopped before processing began.
	if ctx.Err() != nil {
		s.resolve(sess, PhaseStopped, m, nil)
		return
	}

	if sess.req.OnStart != nil {
		sess.req.OnStart()
	}

	text := tts.Sanitize(sess.req.Text)
	if text == "" {
		m.TotalDuration = time.Since(start)
		s.resolve(sess, PhaseDone, m, nil)
		return
	}

	if sess.req.Rewrite {
		s.setPhase(sess, PhaseRewriting)
		out, err := rewriter.Rewrite(ctx, text)
		if err != nil {
			m.TotalDuration = time.Since(start)
			s.fail(ctx, sess, m, fmt.Errorf("speaker: rewrite: %w", err))
			return
		}
		// Rewriter output may reintroduce markup or smart punctuation.
		if cleaned := tts.Sanitize(out); cleaned != "" {
			text = cleaned
		}
	}

	s.setPhase(sess, PhaseSynthesizing)
	synthStart := time.Now()
	pcm, err := s.provider.SynthesizeSpeech(ctx, text, sess.req.Locale)
	m.SynthesisDuration = time.Since(synthStart)
	if err != nil {
		m.TotalDuration = time.Since(start)
		s.fail(ctx, sess, m, fmt.Errorf("speaker: synthesize: %w", err))
		return
	}

	s.setPhase(sess, PhaseStreaming)
	streamStart := time.Now()
	delivered, err := s.streamer.Stream(ctx, pcm, sess.req.Sink)
	m.StreamingDuration = time.Since(streamStart)
	m.TotalDuration = time.Since(start)
	if err != nil {
		s.fail(ctx, sess, m, &tts.SinkError{Chunk: delivered, Err: err})
		return
	}

	s.resolve(sess, PhaseDone, m, nil)
}

// awaitWindDown blocks until the superseded session has delivered its
// terminal callback, bounded by the replace wait. Returns early when the
// waiting session is itself canceled.
func (s *Speaker) awaitWindDown(ctx context.Context, old *session) {
	if s.replaceWait <= 0 {
		return
	}
	timer := time.NewTimer(s.replaceWait)
	defer timer.Stop()
	select {
	case <-old.done:
	case <-timer.C:
	case <-ctx.Done():
	}
}

// fail resolves a stage failure. A session whose context was already canceled
// when the failure surfaced resolves as Stopped: the cancellation, not the
// stage error, ended the utterance.
func (s *Speaker) fail(ctx context.Context, sess *session, m Metrics, err error) {
	if ctx.Err() != nil {
		s.resolve(sess, PhaseStopped, m, nil)
		return
	}
	s.resolve(sess, PhaseErrored, m, err)
}

// resolve records the terminal state, delivers the terminal callback, and
// marks the session done. Runs at most once per session.
func (s *Speaker) resolve(sess *session, terminal Phase, m Metrics, err error) {
	sess.finish.Do(func() {
		s.mu.Lock()
		if s.session == sess {
			s.session = nil
			s.phase.Store(int32(terminal))
		}
		s.mu.Unlock()

		if terminal == PhaseErrored {
			if sess.req.OnError != nil {
				sess.req.OnError(err)
			}
		} else if sess.req.OnDone != nil {
			sess.req.OnDone(m)
		}
		if s.metricsFn != nil {
			s.metricsFn(m, terminal)
		}
		close(sess.done)
	})
}

// setPhase advances the speaker phase on behalf of sess. A session that has
// been superseded no longer owns the phase register and the write is dropped.
func (s *Speaker) setPhase(sess *session, p Phase) {
	s.mu.Lock()
	if s.session == sess {
		s.phase.Store(int32(p))
	}
	s.mu.Unlock()
}
