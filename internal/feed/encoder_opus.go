//go:build opus
// +build opus

package feed

import (
	"fmt"

	"github.com/hraban/opus"
)

// maxPacket is large enough for any 20 ms voice packet.
const maxPacket = 4000

type frameEncoder interface {
	Format() string
	SampleRate() int
	Encode(pcm []int16) ([]byte, error)
}

type opusEncoder struct {
	enc  *opus.Encoder
	rate int
}

func newFrameEncoder(sampleRate int) (frameEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("feed: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc, rate: sampleRate}, nil
}

func (e *opusEncoder) Format() string  { return "opus" }
func (e *opusEncoder) SampleRate() int { return e.rate }

func (e *opusEncoder) Encode(pcm []int16) ([]byte, error) {
	buf := make([]byte, maxPacket)
	n, err := e.enc.Encode(pcm, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
