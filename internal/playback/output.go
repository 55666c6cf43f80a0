package playback

import (
	"context"
	"sync"
	"time"
)

// Device is an opened output: its clock drives scheduling and Close
// releases the hardware.
type Device interface {
	Clock
	Sink
	Close() error
}

// Output pairs a Timeline with whatever pulls samples out of it.
type Output struct {
	*Timeline
	stop     func() error
	stopOnce sync.Once
	err      error
}

// Close stops the driver. Calling it again returns the first result.
func (o *Output) Close() error {
	o.stopOnce.Do(func() {
		if o.stop != nil {
			o.err = o.stop()
		}
	})
	return o.err
}

// DefaultTick is the render period of a ticker-driven output.
const DefaultTick = 20 * time.Millisecond

// NewTickerOutput renders the timeline in real time from a ticker and
// discards the result except through the tap. It stands in for a speaker on
// hosts without an audio device, so the feed monitor still hears playback.
func NewTickerOutput(sampleRate int, tick time.Duration, tap func([]float32)) *Output {
	if tick <= 0 {
		tick = DefaultTick
	}
	tl := NewTimeline(sampleRate)
	tl.SetTap(tap)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		block := make([]float32, int(int64(tl.SampleRate())*int64(tick)/int64(time.Second)))
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tl.Render(block)
			}
		}
	}()
	return &Output{Timeline: tl, stop: func() error {
		cancel()
		wg.Wait()
		return nil
	}}
}
