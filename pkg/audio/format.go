// Package audio provides the PCM plumbing for synthesized speech: format
// math, WAV container encode/decode, sample conversion and the chunked,
// paced streamer that feeds audio sinks.
//
// All PCM handled here is 16-bit signed little-endian.
package audio

import (
	"fmt"
	"time"
)

const bytesPerSample = 2

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int // samples per second (e.g., 16000, 22050, 48000)
	Channels   int // 1 = mono, 2 = stereo
}

// StreamFormat is the fixed format synthesized audio is streamed in:
// 16 kHz mono, which works out to 32 bytes per millisecond.
var StreamFormat = Format{SampleRate: 16000, Channels: 1}

// BytesPerSecond returns the byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * bytesPerSample
}

// BytesPerMillisecond returns the byte rate per millisecond.
func (f Format) BytesPerMillisecond() int {
	return f.BytesPerSecond() / 1000
}

// ChunkBytes returns the size in bytes of a chunk spanning d of audio,
// rounded down to a whole sample frame. The result is never smaller than one
// frame.
func (f Format) ChunkBytes(d time.Duration) int {
	frame := f.Channels * bytesPerSample
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	n -= n % frame
	if n < frame {
		n = frame
	}
	return n
}

// Duration returns the play time of n bytes of PCM in this format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// String renders the format human-readably, e.g. "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
