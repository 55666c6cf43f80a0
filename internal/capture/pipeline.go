package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/astra-live-lab/internal/audio"
	"github.com/astra-live-lab/internal/logging"
)

// DefaultVideoInterval is the period between video frames.
const DefaultVideoInterval = time.Second

// PipelineOptions tunes framing and video sampling. Zero values select the
// package defaults.
type PipelineOptions struct {
	FrameSamples  int
	VideoInterval time.Duration
	JPEGQuality   int
}

// Pipeline turns a MediaStream into chunks handed to emit. emit is called
// from the audio device goroutine and the video ticker goroutine and must
// not block.
type Pipeline struct {
	stream   *MediaStream
	emit     func(Chunk)
	framer   *Framer
	sampler  VideoSampler
	interval time.Duration

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	stopped  bool
	attached atomic.Bool

	audioFrames int64
	videoFrames int64
	videoErrors int64
}

// NewPipeline prepares a pipeline over stream. Nothing is captured until Start.
func NewPipeline(stream *MediaStream, emit func(Chunk), opts PipelineOptions) *Pipeline {
	interval := opts.VideoInterval
	if interval <= 0 {
		interval = DefaultVideoInterval
	}
	return &Pipeline{
		stream:   stream,
		emit:     emit,
		framer:   NewFramer(opts.FrameSamples),
		sampler:  VideoSampler{Quality: opts.JPEGQuality},
		interval: interval,
	}
}

// Start attaches the audio callback and starts the video ticker. Calls
// after the first, or after Stop, do nothing.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.stream == nil {
		return errors.New("capture: pipeline has no media stream")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return nil
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.attached.Store(true)
	if p.stream.Audio != nil {
		if err := p.stream.Audio.Start(p.onAudio); err != nil {
			p.attached.Store(false)
			p.cancel()
			return err
		}
	}
	if p.stream.Video != nil {
		p.wg.Add(1)
		go p.videoLoop(p.ctx)
	}
	logging.Debugw("capture: pipeline started", "frame_samples", p.framer.Size(), "video_interval", p.interval)
	return nil
}

// Stop cancels the video ticker and detaches the audio callback. It does not
// close the devices; that is MediaStream.Stop. Safe to call more than once
// and before Start.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.attached.Store(false)
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.framer.Reset()
	logging.Debugw("capture: pipeline stopped",
		"audio_frames", atomic.LoadInt64(&p.audioFrames),
		"video_frames", atomic.LoadInt64(&p.videoFrames),
		"video_errors", atomic.LoadInt64(&p.videoErrors))
}

// Stats returns the number of audio and video chunks emitted so far.
func (p *Pipeline) Stats() (audioFrames, videoFrames int64) {
	return atomic.LoadInt64(&p.audioFrames), atomic.LoadInt64(&p.videoFrames)
}

func (p *Pipeline) onAudio(samples []float32) {
	if !p.attached.Load() {
		return
	}
	p.framer.Write(samples, func(frame []float32) {
		atomic.AddInt64(&p.audioFrames, 1)
		p.emit(Chunk{
			Kind:       KindAudio,
			Samples:    audio.FloatToPCM16(frame),
			SampleRate: audio.InputSampleRate,
			At:         time.Now(),
		})
	})
}

func (p *Pipeline) videoLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sampleVideo(ctx)
		}
	}
}

func (p *Pipeline) sampleVideo(ctx context.Context) {
	img, err := p.stream.Video.Snapshot(ctx)
	if err != nil {
		if ctx.Err() == nil {
			atomic.AddInt64(&p.videoErrors, 1)
			logging.Warnw("capture: camera snapshot failed", "err", err)
		}
		return
	}
	chunk, err := p.sampler.Encode(img)
	if err != nil {
		atomic.AddInt64(&p.videoErrors, 1)
		logging.Warnw("capture: video encode failed", "err", err)
		return
	}
	if !p.attached.Load() {
		return
	}
	atomic.AddInt64(&p.videoFrames, 1)
	p.emit(chunk)
}
