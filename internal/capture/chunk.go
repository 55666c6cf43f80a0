// Package capture acquires the microphone and camera for a live session and
// turns them into the outgoing chunk stream: fixed-size PCM frames as they
// fill, and one half-size JPEG per second.
package capture

import (
	"time"

	"github.com/astra-live-lab/internal/audio"
)

// Kind distinguishes audio from video chunks.
type Kind int

const (
	KindAudio Kind = iota
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// JPEGMIMEType labels outgoing video chunks.
const JPEGMIMEType = "image/jpeg"

// Chunk is one unit of outgoing media. Audio chunks carry Samples at
// SampleRate; video chunks carry an encoded JPEG.
type Chunk struct {
	Kind       Kind
	Samples    []int16
	SampleRate int
	JPEG       []byte
	Quality    float64
	Width      int
	Height     int
	At         time.Time
}

// MIMEType returns the wire MIME type for the chunk.
func (c Chunk) MIMEType() string {
	if c.Kind == KindVideo {
		return JPEGMIMEType
	}
	return audio.InputMIMEType
}

// Payload returns the bytes to encode on the wire: little-endian PCM for
// audio, the JPEG file for video.
func (c Chunk) Payload() []byte {
	if c.Kind == KindVideo {
		return c.JPEG
	}
	return audio.PCM16ToBytes(c.Samples)
}
