//go:build portaudio

package playback

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/astra-live-lab/internal/logging"
)

// speakerFrames is 20 ms at 24 kHz.
const speakerFrames = 480

// OpenSpeaker opens the default output device and renders the returned
// timeline into it from a blocking write loop.
func OpenSpeaker(sampleRate int, tap func([]float32)) (*Output, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	tl := NewTimeline(sampleRate)
	tl.SetTap(tap)
	buf := make([]float32, speakerFrames)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(buf), buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start output stream: %w", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			tl.Render(buf)
			if err := stream.Write(); err != nil {
				select {
				case <-done:
					return
				default:
				}
				logging.Debugw("playback: speaker write failed", "err", err)
			}
		}
	}()

	return &Output{Timeline: tl, stop: func() error {
		close(done)
		var errs []error
		if err := stream.Stop(); err != nil {
			errs = append(errs, err)
		}
		wg.Wait()
		if err := stream.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := portaudio.Terminate(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}}, nil
}
