package playback

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/astra-live-lab/internal/audio"
)

type fakeClock struct{ now float64 }

func (c *fakeClock) Now() float64 { return c.now }

type fakeNode struct {
	stopped bool
}

func (n *fakeNode) Stop() { n.stopped = true }

type scheduled struct {
	at      float64
	node    *fakeNode
	onEnded func()
}

type fakeSink struct {
	calls []scheduled
	err   error
}

func (s *fakeSink) Schedule(buf *audio.Buffer, at float64, onEnded func()) (Node, error) {
	if s.err != nil {
		return nil, s.err
	}
	n := &fakeNode{}
	s.calls = append(s.calls, scheduled{at: at, node: n, onEnded: onEnded})
	return n, nil
}

func silence(seconds float64, rate int) *audio.Buffer {
	return &audio.Buffer{SampleRate: rate, Channels: [][]float32{make([]float32, int(seconds*float64(rate)))}}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// Two responses arriving while the first is still playing must be placed
// back to back.
func TestSchedulerGapless(t *testing.T) {
	clock := &fakeClock{}
	sink := &fakeSink{}
	s := NewScheduler(clock, sink)

	a, err := s.Enqueue(silence(1.0, audio.OutputSampleRate))
	if err != nil {
		t.Fatalf("Enqueue A: %v", err)
	}
	clock.now = 0.3
	b, err := s.Enqueue(silence(0.5, audio.OutputSampleRate))
	if err != nil {
		t.Fatalf("Enqueue B: %v", err)
	}
	if !near(a, 0) || !near(b, 1.0) || !near(s.Cursor(), 1.5) {
		t.Fatalf("want starts 0.0/1.0 cursor 1.5, got %v/%v cursor %v", a, b, s.Cursor())
	}
	if s.Live() != 2 {
		t.Fatalf("live nodes: want=2 got=%d", s.Live())
	}
}

func TestSchedulerCatchesUpWithClock(t *testing.T) {
	clock := &fakeClock{now: 5}
	s := NewScheduler(clock, &fakeSink{})
	start, _ := s.Enqueue(silence(0.25, audio.OutputSampleRate))
	if !near(start, 5) || !near(s.Cursor(), 5.25) {
		t.Fatalf("start=%v cursor=%v", start, s.Cursor())
	}
}

func TestSchedulerMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	clock := &fakeClock{}
	sink := &fakeSink{}
	s := NewScheduler(clock, sink)
	prevCursor := 0.0
	prevEnd := 0.0
	for i := 0; i < 200; i++ {
		clock.now += rng.Float64() * 0.4
		buf := &audio.Buffer{SampleRate: audio.OutputSampleRate, Channels: [][]float32{make([]float32, rng.Intn(12000))}}
		dur := buf.Duration()
		start, err := s.Enqueue(buf)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if start+1e-9 < prevEnd {
			t.Fatalf("buffer %d overlaps previous: start=%v prevEnd=%v", i, start, prevEnd)
		}
		if start+1e-9 < clock.now {
			t.Fatalf("buffer %d starts in the past: start=%v now=%v", i, start, clock.now)
		}
		if s.Cursor()+1e-9 < prevCursor {
			t.Fatalf("cursor went backwards at %d", i)
		}
		prevCursor = s.Cursor()
		prevEnd = start + dur
	}
}

func TestSchedulerEndedRemovesNode(t *testing.T) {
	sink := &fakeSink{}
	s := NewScheduler(&fakeClock{}, sink)
	s.Enqueue(silence(0.1, audio.OutputSampleRate))
	s.Enqueue(silence(0.1, audio.OutputSampleRate))
	sink.calls[0].onEnded()
	if s.Live() != 1 {
		t.Fatalf("live nodes after one ended: got %d", s.Live())
	}
	sink.calls[0].onEnded()
	if s.Live() != 1 {
		t.Fatalf("repeated ended callback changed the set: got %d", s.Live())
	}
}

func TestSchedulerStopAllAndClose(t *testing.T) {
	sink := &fakeSink{}
	s := NewScheduler(&fakeClock{}, sink)
	s.Enqueue(silence(0.1, audio.OutputSampleRate))
	s.Enqueue(silence(0.1, audio.OutputSampleRate))
	s.Close()
	if s.Live() != 0 {
		t.Fatalf("live nodes after Close: %d", s.Live())
	}
	for i, c := range sink.calls {
		if !c.node.stopped {
			t.Fatalf("node %d not stopped", i)
		}
	}
	// Ended callbacks arriving after the set was cleared are harmless.
	sink.calls[1].onEnded()
	if _, err := s.Enqueue(silence(0.1, audio.OutputSampleRate)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	s.Close()
}

func TestSchedulerSinkErrorLeavesCursor(t *testing.T) {
	s := NewScheduler(&fakeClock{}, &fakeSink{err: errors.New("device gone")})
	if _, err := s.Enqueue(silence(1, audio.OutputSampleRate)); err == nil {
		t.Fatalf("expected sink error")
	}
	if s.Cursor() != 0 || s.Live() != 0 {
		t.Fatalf("failed schedule changed state: cursor=%v live=%d", s.Cursor(), s.Live())
	}
}

func TestTimelineMixesAtScheduledOffset(t *testing.T) {
	tl := NewTimeline(10)
	buf := &audio.Buffer{SampleRate: 10, Channels: [][]float32{{0.5, 0.5, 0.5}}}
	var endedCount int
	if _, err := tl.Schedule(buf, 0.2, func() { endedCount++ }); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	out := make([]float32, 4)
	tl.Render(out)
	want := []float32{0, 0, 0.5, 0.5}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("block 1 sample %d: want=%v got=%v", i, want[i], out[i])
		}
	}
	if endedCount != 0 {
		t.Fatalf("voice ended early")
	}
	tl.Render(out)
	if out[0] != 0.5 || out[1] != 0 {
		t.Fatalf("block 2: %v", out)
	}
	if endedCount != 1 || tl.Pending() != 0 {
		t.Fatalf("voice should have ended: ended=%d pending=%d", endedCount, tl.Pending())
	}
	if !near(tl.Now(), 0.8) {
		t.Fatalf("clock: want=0.8 got=%v", tl.Now())
	}
}

func TestTimelineStopFiresEnded(t *testing.T) {
	tl := NewTimeline(10)
	ended := false
	n, _ := tl.Schedule(&audio.Buffer{SampleRate: 10, Channels: [][]float32{make([]float32, 100)}}, 0, func() { ended = true })
	n.Stop()
	out := make([]float32, 2)
	tl.Render(out)
	if !ended || out[0] != 0 {
		t.Fatalf("stopped voice: ended=%v out=%v", ended, out)
	}
}

func TestTimelineClampsAndTaps(t *testing.T) {
	tl := NewTimeline(10)
	var tapped []float32
	tl.SetTap(func(b []float32) { tapped = append(tapped, b...) })
	for i := 0; i < 3; i++ {
		tl.Schedule(&audio.Buffer{SampleRate: 10, Channels: [][]float32{{0.6}}}, 0, nil)
	}
	out := make([]float32, 1)
	tl.Render(out)
	if out[0] != 1 || len(tapped) != 1 || tapped[0] != 1 {
		t.Fatalf("clamp/tap: out=%v tapped=%v", out, tapped)
	}
}

// The scheduler may be re-entered from ended callbacks fired by Render.
func TestSchedulerWithTimelineNoDeadlock(t *testing.T) {
	tl := NewTimeline(1000)
	s := NewScheduler(tl, tl)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		block := make([]float32, 10)
		for i := 0; i < 200; i++ {
			tl.Render(block)
		}
	}()
	for i := 0; i < 50; i++ {
		if _, err := s.Enqueue(&audio.Buffer{SampleRate: 1000, Channels: [][]float32{make([]float32, 5)}}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("render loop deadlocked")
	}
	block := make([]float32, 1000)
	tl.Render(block)
	if s.Live() != 0 {
		t.Fatalf("all buffers should have ended, live=%d", s.Live())
	}
}

func TestTickerOutputAdvancesClock(t *testing.T) {
	out := NewTickerOutput(audio.OutputSampleRate, 5*time.Millisecond, nil)
	deadline := time.Now().Add(2 * time.Second)
	for out.Now() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if out.Now() == 0 {
		t.Fatalf("clock did not advance")
	}
	_ = out.Close()
}

func TestResampleLength(t *testing.T) {
	got := resample(make([]float32, 160), 16000, 24000)
	if len(got) != 240 {
		t.Fatalf("resampled length: want=240 got=%d", len(got))
	}
}
