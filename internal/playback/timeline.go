package playback

import (
	"math"
	"sync"

	"github.com/astra-live-lab/internal/audio"
)

// Timeline is a software output device: a sample clock plus a mixer. Its
// clock only advances when Render is called, so it runs in device time.
type Timeline struct {
	mu       sync.Mutex
	rate     int
	position int64
	voices   []*voice
	tap      func(block []float32)
}

type voice struct {
	t       *Timeline
	samples []float32
	start   int64
	stopped bool
	onEnded func()
}

// Stop silences the voice; its ended callback fires on the next Render.
func (v *voice) Stop() {
	v.t.mu.Lock()
	v.stopped = true
	v.t.mu.Unlock()
}

// NewTimeline returns a mono timeline at sampleRate.
func NewTimeline(sampleRate int) *Timeline {
	if sampleRate <= 0 {
		sampleRate = audio.OutputSampleRate
	}
	return &Timeline{rate: sampleRate}
}

// SampleRate returns the output rate.
func (t *Timeline) SampleRate() int { return t.rate }

// Now returns the number of seconds rendered so far.
func (t *Timeline) Now() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.position) / float64(t.rate)
}

// SetTap registers fn to receive every rendered block. fn must copy the
// block if it keeps it.
func (t *Timeline) SetTap(fn func(block []float32)) {
	t.mu.Lock()
	t.tap = fn
	t.mu.Unlock()
}

// Schedule places buf's mono mix at clock time at. A start time already in
// the past plays from the next rendered sample.
func (t *Timeline) Schedule(buf *audio.Buffer, at float64, onEnded func()) (Node, error) {
	samples := buf.Mono()
	if buf.SampleRate > 0 && buf.SampleRate != t.rate {
		samples = resample(samples, buf.SampleRate, t.rate)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	start := int64(math.Round(at * float64(t.rate)))
	if start < t.position {
		start = t.position
	}
	v := &voice{t: t, samples: samples, start: start, onEnded: onEnded}
	t.voices = append(t.voices, v)
	return v, nil
}

// Pending returns the number of voices not yet finished.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voices)
}

// Render mixes the next len(out) samples into out and advances the clock.
// Ended callbacks and the tap run after the timeline lock is released.
func (t *Timeline) Render(out []float32) {
	for i := range out {
		out[i] = 0
	}
	t.mu.Lock()
	begin := t.position
	end := begin + int64(len(out))
	var ended []func()
	keep := t.voices[:0]
	for _, v := range t.voices {
		if v.stopped {
			ended = append(ended, v.onEnded)
			continue
		}
		if v.start < end {
			from := v.start - begin
			if from < 0 {
				from = 0
			}
			for i := from; i < int64(len(out)); i++ {
				idx := begin + i - v.start
				if idx >= int64(len(v.samples)) {
					break
				}
				out[i] += v.samples[idx]
			}
		}
		if v.start+int64(len(v.samples)) <= end {
			ended = append(ended, v.onEnded)
			continue
		}
		keep = append(keep, v)
	}
	for i := len(keep); i < len(t.voices); i++ {
		t.voices[i] = nil
	}
	t.voices = keep
	t.position = end
	tap := t.tap
	t.mu.Unlock()

	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}
	if tap != nil {
		tap(out)
	}
	for _, fn := range ended {
		if fn != nil {
			fn()
		}
	}
}

// resample converts by linear interpolation. Only used when the service
// returns a rate other than the device's.
func resample(in []float32, from, to int) []float32 {
	if len(in) == 0 || from == to {
		return in
	}
	n := int(math.Round(float64(len(in)) * float64(to) / float64(from)))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}
