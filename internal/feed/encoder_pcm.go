//go:build !opus
// +build !opus

package feed

import "github.com/astra-live-lab/internal/audio"

// Builds without libopus send monitor audio as raw PCM16LE frames. The opus
// encoder is in encoder_opus.go behind the `opus` build tag.

type frameEncoder interface {
	Format() string
	SampleRate() int
	Encode(pcm []int16) ([]byte, error)
}

type pcmEncoder struct{ rate int }

func newFrameEncoder(sampleRate int) (frameEncoder, error) {
	return pcmEncoder{rate: sampleRate}, nil
}

func (e pcmEncoder) Format() string  { return "pcm16le" }
func (e pcmEncoder) SampleRate() int { return e.rate }

func (e pcmEncoder) Encode(pcm []int16) ([]byte, error) {
	return audio.PCM16ToBytes(pcm), nil
}
