package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/astra-live-lab/internal/audio"
	"github.com/astra-live-lab/internal/logging"
)

// ErrDeviceAcquisition is returned when the microphone or camera cannot be
// opened.
var ErrDeviceAcquisition = errors.New("device acquisition failed")

// AudioSource is an opened microphone. Start delivers mono float32 samples
// to fn from the device's own goroutine until Close.
type AudioSource interface {
	Start(fn func(samples []float32)) error
	Close() error
}

// VideoSource is an opened camera. Snapshot returns the current frame at
// full resolution.
type VideoSource interface {
	Snapshot(ctx context.Context) (image.Image, error)
	Close() error
}

// DeviceOpener opens the capture devices.
type DeviceOpener interface {
	OpenMicrophone(ctx context.Context, sampleRate int) (AudioSource, error)
	OpenCamera(ctx context.Context) (VideoSource, error)
}

// MediaStream is the exclusive handle on one session's microphone and
// camera. It is never shared between sessions.
type MediaStream struct {
	Audio AudioSource
	Video VideoSource

	mu     sync.Mutex
	active int
}

// Acquire opens the microphone at 16 kHz and then the camera. If either
// fails nothing stays open and the error wraps ErrDeviceAcquisition.
func Acquire(ctx context.Context, d DeviceOpener) (*MediaStream, error) {
	mic, err := d.OpenMicrophone(ctx, audio.InputSampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: microphone: %v", ErrDeviceAcquisition, err)
	}
	cam, err := d.OpenCamera(ctx)
	if err != nil {
		if cerr := mic.Close(); cerr != nil {
			logging.Debugw("capture: microphone close after camera failure", "err", cerr)
		}
		return nil, fmt.Errorf("%w: camera: %v", ErrDeviceAcquisition, err)
	}
	return &MediaStream{Audio: mic, Video: cam, active: 2}, nil
}

// ActiveTracks reports how many device tracks are still open.
func (m *MediaStream) ActiveTracks() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Stop closes every track. Calling it again does nothing.
func (m *MediaStream) Stop() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == 0 {
		return nil
	}
	m.active = 0
	var errs []error
	if m.Audio != nil {
		if err := m.Audio.Close(); err != nil {
			errs = append(errs, fmt.Errorf("microphone: %w", err))
		}
	}
	if m.Video != nil {
		if err := m.Video.Close(); err != nil {
			errs = append(errs, fmt.Errorf("camera: %w", err))
		}
	}
	return errors.Join(errs...)
}
