package clip

import (
	"context"
	"image"
	"io"

	"github.com/pkg/errors"

	"github.com/xob0t/super8/pkg/canvas"
	"github.com/xob0t/super8/pkg/media"
)

// FrameSource yields frames until io.EOF.
type FrameSource interface {
	Next() (*image.RGBA, error)
	Close() error
}

// Decoder turns a file range into raw frames.
type Decoder interface {
	Decode(ctx context.Context, path string, opts media.DecodeOptions) (FrameSource, error)
}

// FFmpeg is the Prober and Decoder backed by the ffmpeg and ffprobe binaries.
type FFmpeg struct{}

// Probe implements Prober.
func (FFmpeg) Probe(ctx context.Context, path string) (*media.Info, error) {
	return media.Probe(ctx, path)
}

// Decode implements Decoder.
func (FFmpeg) Decode(ctx context.Context, path string, opts media.DecodeOptions) (FrameSource, error) {
	return media.Decode(ctx, path, opts)
}

// DecodeError reports a file that failed to decode. It matches
// ErrUnsupportedFormat with errors.Is.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return "decode " + e.Path + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrUnsupportedFormat }

type layerStream struct {
	src     FrameSource
	opacity float64
	done    bool
}

type stream struct {
	clip   *Clip
	base   FrameSource
	layers []*layerStream
	frame  int
}

// Open starts decoding the clip and its layers. The returned source yields
// frames of exactly c.Size() and must be closed by the caller.
func (c *Clip) Open(ctx context.Context, dec Decoder) (FrameSource, error) {
	base, err := dec.Decode(ctx, c.path, media.DecodeOptions{
		Width:    c.src.X,
		Height:   c.src.Y,
		FPS:      c.fps,
		Start:    c.start,
		Duration: c.duration,
		Loop:     c.loop,
	})
	if err != nil {
		return nil, &DecodeError{Path: c.path, Err: err}
	}

	s := &stream{clip: c, base: base}
	for _, l := range c.layers {
		src, err := l.Clip.Open(ctx, dec)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.layers = append(s.layers, &layerStream{src: src, opacity: l.Opacity})
	}
	return s, nil
}

// Next decodes, shapes, filters and composites one frame.
func (s *stream) Next() (*image.RGBA, error) {
	raw, err := s.base.Next()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, &DecodeError{Path: s.clip.path, Err: err}
	}

	frame := s.shape(raw)
	for _, f := range s.clip.filters {
		if frame, err = f(frame); err != nil {
			return nil, errors.Wrapf(err, "%s frame %d", s.clip.path, s.frame)
		}
	}

	for _, l := range s.layers {
		if l.done {
			continue
		}
		over, err := l.src.Next()
		if err == io.EOF {
			l.done = true
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "layer frame %d", s.frame)
		}
		canvas.Blend(frame, over, l.opacity)
	}

	s.frame++
	return frame, nil
}

// shape brings a decoded frame to the clip's output size.
func (s *stream) shape(raw *image.RGBA) *image.RGBA {
	size := s.clip.size
	switch {
	case s.clip.fit:
		return canvas.Letterbox(raw, size.X, size.Y)
	case raw.Bounds().Size() != size:
		return canvas.Resize(raw, size.X, size.Y)
	}
	return raw
}

// Close stops the base and every layer decoder.
func (s *stream) Close() error {
	var first error
	for _, l := range s.layers {
		if err := l.src.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := s.base.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
