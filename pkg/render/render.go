// Package render writes a timeline to a single video file.
//
// Each clip is streamed frame by frame into its own ffmpeg encoder, producing
// one segment per distinct clip with identical codec settings. The segments
// are then joined without re-encoding. Work happens in a temporary directory
// next to the output so the final file only appears once everything
// succeeded.
package render

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/xob0t/super8/pkg/clip"
	"github.com/xob0t/super8/pkg/config"
	"github.com/xob0t/super8/pkg/media"
	"github.com/xob0t/super8/pkg/timeline"
)

// FrameWriter consumes the frames of one segment. Frames reports how many
// frames were accepted so far.
type FrameWriter interface {
	WriteFrame(*image.RGBA) error
	Frames() int
	Close() error
	Abort()
}

// Renderer encodes timelines.
type Renderer struct {
	cfg config.Config
	dec clip.Decoder
	log *zap.Logger

	newWriter func(ctx context.Context, path string, opts media.SegmentOptions) (FrameWriter, error)
	concat    func(ctx context.Context, segments []string, output string) error
}

// New returns a renderer decoding with dec and encoding with ffmpeg.
func New(cfg config.Config, dec clip.Decoder, log *zap.Logger) *Renderer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Renderer{
		cfg: cfg,
		dec: dec,
		log: log,
		newWriter: func(ctx context.Context, path string, opts media.SegmentOptions) (FrameWriter, error) {
			return media.NewSegmentWriter(ctx, path, opts)
		},
		concat: media.Concat,
	}
}

// Render encodes clips in order into output. An empty output uses the
// configured path. A clip that appears more than once is encoded once.
func (r *Renderer) Render(ctx context.Context, clips []*clip.Clip, output string) error {
	if len(clips) == 0 {
		return errors.WithStack(timeline.ErrEmptyInput)
	}
	if output == "" {
		output = r.cfg.Output
	}
	dir := filepath.Dir(output)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create output directory %s", dir)
	}
	work, err := os.MkdirTemp(dir, ".super8-*")
	if err != nil {
		return errors.Wrap(err, "create work directory")
	}
	defer os.RemoveAll(work)

	start := time.Now()
	r.log.Info("render started",
		zap.String("output", output),
		zap.Int("clips", len(clips)),
		zap.Float64("duration", timeline.Duration(clips)))

	done := make(map[*clip.Clip]string, len(clips))
	segments := make([]string, 0, len(clips))
	for i, c := range clips {
		if seg, ok := done[c]; ok {
			segments = append(segments, seg)
			continue
		}
		seg := filepath.Join(work, fmt.Sprintf("seg%03d.mp4", i))
		if err := r.segment(ctx, c, seg, i, len(clips)); err != nil {
			return errors.Wrapf(err, "clip %d (%s)", i, c.Path())
		}
		done[c] = seg
		segments = append(segments, seg)
	}

	ext := filepath.Ext(output)
	if ext == "" {
		ext = ".mp4"
	}
	joined := filepath.Join(work, "joined"+ext)
	if err := r.concat(ctx, segments, joined); err != nil {
		return err
	}
	if err := os.Rename(joined, output); err != nil {
		return errors.Wrapf(err, "move result to %s", output)
	}

	r.log.Info("render finished",
		zap.String("output", output),
		zap.Int("segments", len(segments)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// segment streams one clip into an encoder writing path.
func (r *Renderer) segment(ctx context.Context, c *clip.Clip, path string, index, total int) error {
	size := c.Size()
	w, err := r.newWriter(ctx, path, media.SegmentOptions{
		Width:    size.X,
		Height:   size.Y,
		FPS:      c.FPS(),
		Duration: c.Duration(),
		Audio:    c.Audio(),
		Encoding: r.cfg.SegmentEncoding(),
	})
	if err != nil {
		return err
	}

	src, err := c.Open(ctx, r.dec)
	if err != nil {
		w.Abort()
		return err
	}
	defer src.Close()

	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			w.Abort()
			return err
		}
		img, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			w.Abort()
			return err
		}
		if err := w.WriteFrame(img); err != nil {
			w.Abort()
			return err
		}
	}
	frames := w.Frames()
	if frames == 0 {
		w.Abort()
		return errors.Wrapf(clip.ErrUnsupportedFormat, "%s produced no frames", c.Path())
	}
	if err := w.Close(); err != nil {
		return err
	}

	r.log.Info("segment written",
		zap.Int("index", index+1),
		zap.Int("of", total),
		zap.String("source", filepath.Base(c.Path())),
		zap.Int("frames", frames),
		zap.Int("expected", c.FrameCount()),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Frame returns the composited frame of c at the given time in seconds.
func (r *Renderer) Frame(ctx context.Context, c *clip.Clip, at float64) (*image.RGBA, error) {
	if at < 0 || at >= c.Duration() {
		return nil, errors.Errorf("time %gs outside clip of %gs", at, c.Duration())
	}
	src, err := c.Subclip(at, at+1/c.FPS()).Open(ctx, r.dec)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	img, err := src.Next()
	if err == io.EOF {
		return nil, errors.Errorf("%s has no frame at %gs", c.Path(), at)
	}
	return img, err
}
