package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"golang.org/x/image/draw"
)

// DefaultJPEGQuality is the encoder quality for video frames (0.6 on a 0..1 scale).
const DefaultJPEGQuality = 60

// VideoSampler downsizes a camera frame to half width and height and
// encodes it as JPEG.
type VideoSampler struct {
	Quality int
}

func (s VideoSampler) quality() int {
	if s.Quality < 1 || s.Quality > 100 {
		return DefaultJPEGQuality
	}
	return s.Quality
}

// Encode turns one full-resolution frame into a video chunk.
func (s VideoSampler) Encode(img image.Image) (Chunk, error) {
	src := img.Bounds()
	if src.Empty() {
		return Chunk{}, fmt.Errorf("empty frame")
	}
	w, h := src.Dx()/2, src.Dy()/2
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)

	q := s.quality()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: q}); err != nil {
		return Chunk{}, fmt.Errorf("jpeg encode: %w", err)
	}
	return Chunk{
		Kind:    KindVideo,
		JPEG:    buf.Bytes(),
		Quality: float64(q) / 100,
		Width:   w,
		Height:  h,
		At:      time.Now(),
	}, nil
}
