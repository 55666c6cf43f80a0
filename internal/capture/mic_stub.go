//go:build !portaudio

package capture

import "errors"

// Builds without the portaudio tag have no microphone backend; every session
// start fails with ErrDeviceAcquisition.
func openMicrophone(sampleRate, framesPerBuffer int) (AudioSource, error) {
	return nil, errors.New("no audio backend: rebuild with -tags portaudio")
}
