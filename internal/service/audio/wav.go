package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// ErrNotWAV is returned for input without a RIFF/WAVE header.
var ErrNotWAV = errors.New("not a valid WAV file")

// WAVFormat describes a PCM WAV stream.
type WAVFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// BytesPerSecond is the PCM data rate.
func (f WAVFormat) BytesPerSecond() int {
	return int(f.SampleRate) * int(f.Channels) * int(f.BitsPerSample) / 8
}

// ChunkSize returns the number of bytes covering interval, aligned to whole samples.
func (f WAVFormat) ChunkSize(interval time.Duration) int {
	frame := int(f.Channels) * int(f.BitsPerSample) / 8
	if frame == 0 {
		return 0
	}
	n := int(int64(f.BytesPerSecond()) * int64(interval) / int64(time.Second))
	n -= n % frame
	if n < frame {
		n = frame
	}
	return n
}

// ReadWAVHeader consumes the header from r, leaving r at the start of the PCM data.
// Only uncompressed PCM is accepted.
func ReadWAVHeader(r io.Reader) (WAVFormat, error) {
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return WAVFormat{}, fmt.Errorf("read WAV header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return WAVFormat{}, ErrNotWAV
	}

	f := WAVFormat{
		AudioFormat:   binary.LittleEndian.Uint16(header[20:22]),
		Channels:      binary.LittleEndian.Uint16(header[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(header[24:28]),
		BitsPerSample: binary.LittleEndian.Uint16(header[34:36]),
	}
	if f.AudioFormat != 1 { // PCM
		return f, fmt.Errorf("unsupported WAV format %d: only PCM", f.AudioFormat)
	}
	if f.Channels == 0 || f.BitsPerSample == 0 || f.SampleRate == 0 {
		return f, fmt.Errorf("invalid WAV header: channels=%d bits=%d rate=%d", f.Channels, f.BitsPerSample, f.SampleRate)
	}
	return f, nil
}
