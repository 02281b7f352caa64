package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// wavHeaderSize is the size of the canonical RIFF + fmt + data header that
// EncodeWAV emits.
const wavHeaderSize = 44

// WAVInfo holds the format metadata extracted from a RIFF/WAVE header.
type WAVInfo struct {
	DataOffset    int // byte offset of the first PCM sample
	DataLen       int // length of the PCM payload in bytes
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// IsWAV reports whether b begins with a RIFF/WAVE header.
func IsWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

// ParseWAV scans the RIFF/WAVE container in wav and returns the payload
// location and audio format from the "fmt " sub-chunk. Walking the chunks is
// more robust than assuming a fixed 44-byte header because encoders insert
// extra chunks (LIST, fact) and vary the fmt chunk size.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, errors.New("audio: WAV data too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return WAVInfo{}, errors.New("audio: WAV data missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("audio: WAV data missing WAVE identifier")
	}

	var info WAVInfo
	foundFmt := false

	// Walk RIFF chunks starting immediately after the 12-byte RIFF/WAVE header.
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				info.BitsPerSample = int(binary.LittleEndian.Uint16(fmtData[14:16]))
				foundFmt = true
			}
		case "data":
			info.DataOffset = offset + 8
			info.DataLen = len(wav) - info.DataOffset
			// Trust a sane declared size; streaming encoders write zero or
			// junk, in which case the payload runs to the end of the buffer.
			if chunkSize > 0 && chunkSize < info.DataLen {
				info.DataLen = chunkSize
			}
			if !foundFmt {
				// fmt should appear before data, but be defensive.
				info.SampleRate = 22050
				info.Channels = 1
				info.BitsPerSample = 16
			}
			return info, nil
		}

		// Advance past this chunk (chunks are word-aligned: pad by 1 if odd size).
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: WAV data missing data chunk")
}

// DecodeWAV extracts the PCM payload and its format from a WAV container.
// Only 16-bit PCM with one or two channels is supported.
func DecodeWAV(wav []byte) ([]byte, Format, error) {
	info, err := ParseWAV(wav)
	if err != nil {
		return nil, Format{}, err
	}
	if info.BitsPerSample != 16 {
		return nil, Format{}, fmt.Errorf("audio: unsupported WAV sample width %d bits", info.BitsPerSample)
	}
	if info.Channels < 1 || info.Channels > 2 {
		return nil, Format{}, fmt.Errorf("audio: unsupported WAV channel count %d", info.Channels)
	}
	pcm := wav[info.DataOffset : info.DataOffset+info.DataLen]
	return pcm, Format{SampleRate: info.SampleRate, Channels: info.Channels}, nil
}

// EncodeWAV wraps pcm in a canonical 44-byte RIFF/WAVE header describing f.
func EncodeWAV(pcm []byte, f Format) []byte {
	out := make([]byte, wavHeaderSize+len(pcm))
	blockAlign := f.Channels * bytesPerSample

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // audio format: PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(f.BytesPerSecond()))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 16) // bits per sample

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}
