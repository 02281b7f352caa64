// Package discord plays synthesized speech into a Discord voice channel via
// the bwmarrin/discordgo library.
//
// [Sink] implements [audio.Sink]: each PCM chunk is upconverted to Discord's
// 48 kHz stereo format, encoded to Opus and pushed onto the voice
// connection's send channel. The sink switches the speaking indicator on
// with the first chunk, buffers PCM smaller than one Opus frame between
// chunks, and pads the final partial frame with silence on Close.
package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/vachaklabs/vachak/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Sink = (*Sink)(nil)

// closeFlushTimeout bounds how long Close waits to hand the final padded
// frame to the voice connection.
const closeFlushTimeout = time.Second

// Sink adapts a [discordgo.VoiceConnection] to the [audio.Sink] interface.
//
// Methods are safe for concurrent use, though chunks are expected to arrive
// from one streamer at a time; interleaving two utterances on a single sink
// garbles the frame buffer.
type Sink struct {
	input audio.Format
	enc   *opusEncoder

	mu      sync.Mutex
	buf     []byte
	started bool
	closed  bool

	// speaking and send default to the voice connection's Speaking method
	// and OpusSend channel. Overridden in tests.
	speaking func(bool) error
	send     func(ctx context.Context, packet []byte) error
}

// Option configures a [Sink] during construction.
type Option func(*Sink)

// WithInputFormat declares the PCM format chunks arrive in.
// Default: [audio.StreamFormat].
func WithInputFormat(f audio.Format) Option {
	return func(s *Sink) {
		if f.SampleRate > 0 && f.Channels > 0 {
			s.input = f
		}
	}
}

// NewSink creates a sink that plays audio through vc. The voice connection
// must already be joined to a channel.
func NewSink(vc *discordgo.VoiceConnection, opts ...Option) (*Sink, error) {
	if vc == nil {
		return nil, errors.New("discord: voice connection must not be nil")
	}
	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}
	s := &Sink{
		input:    audio.StreamFormat,
		enc:      enc,
		speaking: vc.Speaking,
		send: func(ctx context.Context, packet []byte) error {
			select {
			case vc.OpusSend <- packet:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// WriteChunk upconverts chunk to 48 kHz stereo, encodes complete Opus frames
// and hands them to the voice connection. PCM smaller than one frame is
// buffered until the next chunk. The first chunk switches the speaking
// indicator on.
func (s *Sink) WriteChunk(ctx context.Context, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("discord: sink is closed")
	}
	if len(chunk) == 0 {
		return nil
	}

	if !s.started {
		if err := s.speaking(true); err != nil {
			return fmt.Errorf("discord: speaking notification: %w", err)
		}
		s.started = true
	}

	s.buf = append(s.buf, s.upconvert(chunk)...)

	for len(s.buf) >= opusFrameBytes {
		packet, err := s.enc.encode(s.buf[:opusFrameBytes])
		if err != nil {
			return err
		}
		s.buf = s.buf[opusFrameBytes:]
		if err := s.send(ctx, packet); err != nil {
			return err
		}
	}
	return nil
}

// Close pads and flushes the buffered remainder, switches the speaking
// indicator off and rejects further writes. Safe to call more than once;
// subsequent calls return nil.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if len(s.buf) > 0 {
		frame := make([]byte, opusFrameBytes)
		copy(frame, s.buf)
		s.buf = nil
		packet, encErr := s.enc.encode(frame)
		if encErr != nil {
			err = encErr
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
			err = s.send(ctx, packet)
			cancel()
		}
	}

	if s.started {
		if sErr := s.speaking(false); sErr != nil && err == nil {
			err = fmt.Errorf("discord: speaking notification: %w", sErr)
		}
	}
	return err
}

// upconvert turns input-format PCM into 48 kHz stereo PCM.
func (s *Sink) upconvert(pcm []byte) []byte {
	if s.input.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	if s.input.SampleRate != opusSampleRate {
		pcm = audio.ResampleMono16(pcm, s.input.SampleRate, opusSampleRate)
	}
	return audio.MonoToStereo(pcm)
}
