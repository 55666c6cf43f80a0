//go:build portaudio

package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/astra-live-lab/internal/logging"
)

type portaudioMic struct {
	stream *portaudio.Stream
	buf    []float32

	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func openMicrophone(sampleRate, framesPerBuffer int) (AudioSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	buf := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	return &portaudioMic{stream: stream, buf: buf, done: make(chan struct{})}, nil
}

func (m *portaudioMic) Start(fn func(samples []float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("microphone closed")
	}
	if m.started {
		return nil
	}
	if err := m.stream.Start(); err != nil {
		return fmt.Errorf("start input stream: %w", err)
	}
	m.started = true
	m.wg.Add(1)
	go m.readLoop(fn)
	return nil
}

func (m *portaudioMic) readLoop(fn func(samples []float32)) {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		default:
		}
		if err := m.stream.Read(); err != nil {
			select {
			case <-m.done:
				return
			default:
			}
			logging.Debugw("capture: microphone read failed", "err", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		out := make([]float32, len(m.buf))
		copy(out, m.buf)
		fn(out)
	}
}

func (m *portaudioMic) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	started := m.started
	close(m.done)
	m.mu.Unlock()

	var errs []error
	if started {
		if err := m.stream.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	m.wg.Wait()
	if err := m.stream.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
