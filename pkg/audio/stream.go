package audio

import (
	"context"
	"errors"
	"time"
)

// Sink receives synthesized audio one chunk at a time. WriteChunk must not
// return until the chunk has been accepted downstream; its return is the
// delivery acknowledgement the streamer waits for before moving on.
type Sink interface {
	WriteChunk(ctx context.Context, chunk []byte) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, chunk []byte) error

// WriteChunk calls f.
func (f SinkFunc) WriteChunk(ctx context.Context, chunk []byte) error {
	return f(ctx, chunk)
}

const (
	// DefaultChunkDuration is the audio span of one streamed chunk. At the
	// stream format's 32 bytes per millisecond this is 10240 bytes.
	DefaultChunkDuration = 320 * time.Millisecond

	// DefaultPacing is the wait between consecutive chunk deliveries. It also
	// bounds how long a cancellation can go unnoticed between chunks.
	DefaultPacing = 10 * time.Millisecond
)

// Streamer splits PCM into fixed-duration chunks and delivers them to a sink
// strictly in order, pacing deliveries and checking for cancellation between
// chunks. Immutable after construction and safe for concurrent use.
type Streamer struct {
	format Format
	chunk  time.Duration
	pacing time.Duration
}

// StreamerOption configures a Streamer.
type StreamerOption func(*Streamer)

// WithFormat sets the PCM format the streamer assumes. Default: StreamFormat.
func WithFormat(f Format) StreamerOption {
	return func(s *Streamer) {
		if f.SampleRate > 0 && f.Channels > 0 {
			s.format = f
		}
	}
}

// WithChunkDuration sets the audio span per chunk. Default: 320 ms.
func WithChunkDuration(d time.Duration) StreamerOption {
	return func(s *Streamer) {
		if d > 0 {
			s.chunk = d
		}
	}
}

// WithPacing sets the wait between chunk deliveries. Default: 10 ms.
func WithPacing(d time.Duration) StreamerOption {
	return func(s *Streamer) {
		if d > 0 {
			s.pacing = d
		}
	}
}

// NewStreamer returns a streamer with the supplied options applied.
func NewStreamer(opts ...StreamerOption) *Streamer {
	s := &Streamer{
		format: StreamFormat,
		chunk:  DefaultChunkDuration,
		pacing: DefaultPacing,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ChunkBytes returns the chunk size in bytes this streamer slices PCM into.
func (s *Streamer) ChunkBytes() int {
	return s.format.ChunkBytes(s.chunk)
}

// Stream delivers pcm to sink chunk by chunk and returns the number of
// chunks delivered. Every chunk is full-size except a shorter final
// remainder. The context is checked before each delivery and while pacing
// between deliveries, so cancellation latency is bounded by one pacing gap
// plus one sink call; after cancellation no further chunk reaches the sink
// and the returned error is ctx.Err(). A sink failure aborts the stream and
// is returned unwrapped together with the count of chunks already delivered,
// which is also the index of the chunk that failed.
func (s *Streamer) Stream(ctx context.Context, pcm []byte, sink Sink) (int, error) {
	if sink == nil {
		return 0, errors.New("audio: stream to nil sink")
	}

	size := s.ChunkBytes()
	delivered := 0
	for off := 0; off < len(pcm); {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		end := min(off+size, len(pcm))
		if err := sink.WriteChunk(ctx, pcm[off:end]); err != nil {
			return delivered, err
		}
		delivered++
		off = end
		if off >= len(pcm) {
			break
		}

		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case <-time.After(s.pacing):
		}
	}
	return delivered, nil
}
