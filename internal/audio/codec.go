// Package audio converts between float32 samples, 16-bit PCM and the base64
// text the streaming service exchanges.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// InputSampleRate is the capture rate sent upstream.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of audio returned by the service.
	OutputSampleRate = 24000
	// InputMIMEType labels outgoing PCM chunks.
	InputMIMEType = "audio/pcm;rate=16000"
)

// ErrMalformedAudio is returned when a payload cannot be split into whole
// 16-bit frames.
var ErrMalformedAudio = errors.New("malformed audio")

// FloatToPCM16 converts samples in [-1, 1] to signed 16-bit PCM. Out of range
// input saturates at the int16 limits instead of wrapping.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32768)
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		case math.IsNaN(v):
			v = 0
		}
		out[i] = int16(v)
	}
	return out
}

// PCM16ToFloat converts signed 16-bit PCM to floats in [-1, 1).
func PCM16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// PCM16ToBytes serializes samples little-endian.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToPCM16 parses little-endian 16-bit samples. A trailing odd byte is
// an error.
func BytesToPCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of samples", ErrMalformedAudio, len(data))
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out, nil
}

// Encode returns the standard base64 text of data.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Decode reverses Encode.
func Decode(text string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(text)
}

// Buffer is decoded audio, one float32 slice per channel, all of equal length.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// NumChannels returns the channel count.
func (b *Buffer) NumChannels() int { return len(b.Channels) }

// Frames returns the number of samples per channel.
func (b *Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Mono returns the per-frame average of all channels.
func (b *Buffer) Mono() []float32 {
	switch len(b.Channels) {
	case 0:
		return nil
	case 1:
		return b.Channels[0]
	}
	out := make([]float32, b.Frames())
	scale := 1 / float32(len(b.Channels))
	for _, ch := range b.Channels {
		for i, s := range ch {
			out[i] += s * scale
		}
	}
	return out
}

// DecodeAudioBuffer splits interleaved little-endian 16-bit PCM into
// per-channel float sequences. len(data) must be a multiple of 2*channels.
func DecodeAudioBuffer(data []byte, sampleRate, channels int) (*Buffer, error) {
	if channels < 1 {
		return nil, fmt.Errorf("%w: channel count %d", ErrMalformedAudio, channels)
	}
	if len(data)%(2*channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %d-channel frames", ErrMalformedAudio, len(data), channels)
	}
	frames := len(data) / (2 * channels)
	buf := &Buffer{SampleRate: sampleRate, Channels: make([][]float32, channels)}
	for c := range buf.Channels {
		buf.Channels[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 2
			s := int16(binary.LittleEndian.Uint16(data[off:]))
			buf.Channels[c][i] = float32(s) / 32768.0
		}
	}
	return buf, nil
}
