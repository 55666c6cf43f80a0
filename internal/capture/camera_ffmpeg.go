package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// maxFrameBytes caps one MJPEG frame; larger frames are discarded.
const maxFrameBytes = 1 << 20

// CameraConfig selects the camera and the resolution ffmpeg asks it for.
type CameraConfig struct {
	Device            int
	Width             int
	Height            int
	// FPS is the rate ffmpeg delivers frames at; Snapshot returns the newest.
	FPS               int
	FirstFrameTimeout time.Duration
}

func (c CameraConfig) withDefaults() CameraConfig {
	if c.Width <= 0 {
		c.Width = 640
	}
	if c.Height <= 0 {
		c.Height = 480
	}
	if c.FPS <= 0 {
		c.FPS = 2
	}
	if c.FirstFrameTimeout <= 0 {
		c.FirstFrameTimeout = 5 * time.Second
	}
	return c
}

// FFmpegCamera holds the camera open through a single ffmpeg process that
// streams MJPEG on stdout, using the platform's capture backend (v4l2,
// avfoundation or dshow). The device stays bound until Close.
type FFmpegCamera struct {
	cfg    CameraConfig
	cancel context.CancelFunc
	ready  chan struct{}
	exited chan struct{}

	readyOnce sync.Once
	closeOnce sync.Once

	mu     sync.Mutex
	latest []byte
	err    error
	closed bool
}

// OpenFFmpegCamera starts the capture process and waits for its first frame.
func OpenFFmpegCamera(ctx context.Context, cfg CameraConfig) (*FFmpegCamera, error) {
	cfg = cfg.withDefaults()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, path, ffmpegArgs(runtime.GOOS, cfg)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	c := &FFmpegCamera{
		cfg:    cfg,
		cancel: cancel,
		ready:  make(chan struct{}),
		exited: make(chan struct{}),
	}
	go c.run(cmd, stdout, stderr)

	openCtx, cancelOpen := context.WithTimeout(ctx, cfg.FirstFrameTimeout)
	defer cancelOpen()
	select {
	case <-c.ready:
		return c, nil
	case <-c.exited:
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		_ = c.Close()
		return nil, fmt.Errorf("camera %d: %w", cfg.Device, err)
	case <-openCtx.Done():
		_ = c.Close()
		return nil, fmt.Errorf("camera %d: no frame: %w", cfg.Device, openCtx.Err())
	}
}

// run keeps the newest frame until the stream ends, then reaps ffmpeg.
func (c *FFmpegCamera) run(cmd *exec.Cmd, stdout io.Reader, stderr *bytes.Buffer) {
	defer close(c.exited)
	frames := newFrameReader(stdout)
	for {
		frame, err := frames.Next()
		if err != nil {
			break
		}
		c.mu.Lock()
		c.latest = frame
		c.mu.Unlock()
		c.readyOnce.Do(func() { close(c.ready) })
	}
	err := errors.New("ffmpeg stream ended")
	if werr := cmd.Wait(); werr != nil {
		err = fmt.Errorf("ffmpeg: %w: %s", werr, lastLine(stderr.Bytes()))
	}
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// Snapshot decodes the most recent frame.
func (c *FFmpegCamera) Snapshot(ctx context.Context) (image.Image, error) {
	c.mu.Lock()
	frame, err, closed := c.latest, c.err, c.closed
	c.mu.Unlock()
	switch {
	case closed:
		return nil, errors.New("camera closed")
	case err != nil:
		return nil, err
	case frame == nil:
		return nil, errors.New("camera has no frame yet")
	}
	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

// Close stops ffmpeg and waits for it to exit, releasing the device.
func (c *FFmpegCamera) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cancel()
		<-c.exited
	})
	return nil
}

func ffmpegArgs(goos string, cfg CameraConfig) []string {
	size := fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)
	var args []string
	switch goos {
	case "darwin":
		args = []string{"-f", "avfoundation", "-framerate", "30", "-video_size", size, "-i", strconv.Itoa(cfg.Device)}
	case "windows":
		args = []string{"-f", "dshow", "-video_size", size, "-i", "video=" + strconv.Itoa(cfg.Device)}
	default:
		args = []string{"-f", "v4l2", "-video_size", size, "-i", "/dev/video" + strconv.Itoa(cfg.Device)}
	}
	return append(args,
		"-loglevel", "error",
		"-an",
		"-vf", "fps="+strconv.Itoa(cfg.FPS),
		"-f", "mjpeg",
		"-q:v", "2",
		"-",
	)
}

// frameReader splits an MJPEG byte stream into JPEG images on the SOI
// (FF D8) and EOI (FF D9) markers. Bytes between frames are skipped.
type frameReader struct {
	r   *bufio.Reader
	buf bytes.Buffer
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReaderSize(r, 256*1024)}
}

// Next returns the next complete frame, or the read error once the stream
// ends. A trailing partial frame is dropped.
func (f *frameReader) Next() ([]byte, error) {
	f.buf.Reset()
	inFrame := false
	var prev byte
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if !inFrame {
			if prev == 0xFF && b == 0xD8 {
				f.buf.Reset()
				f.buf.Write([]byte{0xFF, 0xD8})
				inFrame = true
				prev = 0
				continue
			}
			prev = b
			continue
		}
		f.buf.WriteByte(b)
		if prev == 0xFF && b == 0xD9 {
			return bytes.Clone(f.buf.Bytes()), nil
		}
		prev = b
		if f.buf.Len() > maxFrameBytes {
			f.buf.Reset()
			inFrame = false
		}
	}
}

func lastLine(b []byte) string {
	b = bytes.TrimSpace(b)
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		b = b[i+1:]
	}
	return string(b)
}
