//go:build !portaudio

package playback

import "errors"

// OpenSpeaker is unavailable without the portaudio build tag. Callers fall
// back to NewTickerOutput.
func OpenSpeaker(sampleRate int, tap func([]float32)) (*Output, error) {
	return nil, errors.New("no audio backend: rebuild with -tags portaudio")
}
