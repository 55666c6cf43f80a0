package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/astra-live-lab/internal/capture"
	"github.com/astra-live-lab/internal/logging"
	"github.com/astra-live-lab/internal/metrics"
	"github.com/astra-live-lab/internal/playback"
)

// session holds everything one Start acquires. Resources are attached as
// they are opened so a concurrent teardown can release whatever exists.
type session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	outCh  chan capture.Chunk
	wg     sync.WaitGroup

	// closing is guarded by the controller's mutex. done is closed once
	// teardown has finished and the controller is idle again.
	closing bool
	done    chan struct{}

	mu        sync.Mutex
	closed    bool
	media     *capture.MediaStream
	output    playback.Device
	scheduler *playback.Scheduler
	stream    Stream
	pipeline  *capture.Pipeline
	recording Recording
	loopDone  chan struct{}

	sent    int64
	dropped int64
}

func newSession(c *Controller, id string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logging.WithFields(ctx, logging.SessionFields(id)...)
	return &session{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		outCh:  make(chan capture.Chunk, c.opts.QueueSize),
		done:   make(chan struct{}),
	}
}

// attach runs fn under the session lock unless teardown has begun.
func (s *session) attach(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	fn()
	return true
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) getScheduler() *playback.Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduler
}

func (s *session) getMedia() *capture.MediaStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.media
}

func (s *session) getRecording() Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

func (s *session) counts() (sent, dropped int64) {
	return atomic.LoadInt64(&s.sent), atomic.LoadInt64(&s.dropped)
}

// enqueue is the capture pipeline's emit callback. It never blocks: a full
// queue drops the chunk.
func (s *session) enqueue(ch capture.Chunk) {
	if s.ctx.Err() != nil {
		return
	}
	if ch.Kind == capture.KindAudio {
		if rec := s.getRecording(); rec != nil {
			rec.UserAudio(ch.Samples)
		}
	}
	select {
	case s.outCh <- ch:
	default:
		n := atomic.AddInt64(&s.dropped, 1)
		metrics.ChunksDropped.WithLabelValues(ch.Kind.String(), "queue_full").Inc()
		if n == 1 || n%100 == 0 {
			logging.WarnwCtx(s.ctx, "live: outbound queue full, dropping chunk", "kind", ch.Kind.String(), "dropped", n)
		}
	}
}

// sendLoop writes queued chunks to the stream in order.
func (s *session) sendLoop(stream Stream) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ch := <-s.outCh:
			if err := stream.Send(s.ctx, ch); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				atomic.AddInt64(&s.dropped, 1)
				metrics.ChunksDropped.WithLabelValues(ch.Kind.String(), "send_error").Inc()
				logging.WarnwCtx(s.ctx, "live: send failed", "err", fmt.Errorf("%w: %v", ErrTransport, err))
				continue
			}
			atomic.AddInt64(&s.sent, 1)
			metrics.ChunksSent.WithLabelValues(ch.Kind.String()).Inc()
		}
	}
}

// teardown releases the session's resources: remote stream, video timer,
// device tracks, in-flight playback. Only the first call does anything.
func (s *session) teardown(waitLoop bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stream, pipeline, media := s.stream, s.pipeline, s.media
	sched, out, rec, loopDone := s.scheduler, s.output, s.recording, s.loopDone
	s.mu.Unlock()

	s.cancel()
	var errs []error
	if stream != nil {
		if err := stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("stream: %w", err))
		}
	}
	if pipeline != nil {
		pipeline.Stop()
	}
	if media != nil {
		if err := media.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("devices: %w", err))
		}
	}
	if sched != nil {
		sched.Close()
	}
	if out != nil {
		if err := out.Close(); err != nil {
			errs = append(errs, fmt.Errorf("output: %w", err))
		}
	}
	s.wg.Wait()
	if waitLoop && loopDone != nil {
		<-loopDone
	}
	if rec != nil {
		if err := rec.Close(); err != nil {
			errs = append(errs, fmt.Errorf("recording: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		logging.WarnwCtx(s.ctx, "live: teardown finished with errors", "err", err)
	}
	sent, dropped := s.counts()
	logging.DebugwCtx(s.ctx, "live: teardown complete", "chunks_sent", sent, "chunks_dropped", dropped)
}
