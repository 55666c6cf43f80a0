package capture

import "sync"

// FrameSamples is the number of samples in one outgoing audio frame.
const FrameSamples = 4096

// Framer slices an arbitrary sample stream into fixed-size frames. A frame
// is handed to emit as soon as it fills; partial frames wait for more input.
type Framer struct {
	mu   sync.Mutex
	size int
	buf  []float32
}

// NewFramer returns a framer producing frames of size samples. size <= 0
// selects FrameSamples.
func NewFramer(size int) *Framer {
	if size <= 0 {
		size = FrameSamples
	}
	return &Framer{size: size, buf: make([]float32, 0, size)}
}

// Size returns the frame length in samples.
func (f *Framer) Size() int { return f.size }

// Write appends samples and calls emit once per completed frame, in order.
// emit owns the slice it receives.
func (f *Framer) Write(samples []float32, emit func(frame []float32)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(samples) > 0 {
		n := f.size - len(f.buf)
		if n > len(samples) {
			n = len(samples)
		}
		f.buf = append(f.buf, samples[:n]...)
		samples = samples[n:]
		if len(f.buf) == f.size {
			frame := f.buf
			f.buf = make([]float32, 0, f.size)
			emit(frame)
		}
	}
}

// Pending returns the number of buffered samples not yet emitted.
func (f *Framer) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf)
}

// Reset discards buffered samples.
func (f *Framer) Reset() {
	f.mu.Lock()
	f.buf = f.buf[:0]
	f.mu.Unlock()
}
