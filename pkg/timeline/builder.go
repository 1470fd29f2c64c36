// Package timeline turns a directory of source clips into the ordered list
// of clips that make up the final film: an intro effect, each styled source
// separated by a short mid effect, and an outro effect.
package timeline

import (
	"context"
	"image"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/xob0t/super8/pkg/clip"
	"github.com/xob0t/super8/pkg/config"
	"github.com/xob0t/super8/pkg/tone"
)

// ErrEmptyInput is returned by Build when there are no source clips.
var ErrEmptyInput = errors.New("no source clips")

// Builder styles source clips and assembles them into a timeline.
type Builder struct {
	cfg    config.Config
	prober clip.Prober
	log    *zap.Logger
	size   image.Point
	tone   clip.Filter
	assets map[string]*clip.Clip // loaded asset recipes by file name
}

// NewBuilder validates cfg and returns a builder probing files with prober.
func NewBuilder(cfg config.Config, prober clip.Prober, log *zap.Logger) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	w, h, _ := cfg.Canvas.Size()
	return &Builder{
		cfg:    cfg,
		prober: prober,
		log:    log,
		size:   image.Pt(w, h),
		tone:   tone.Parallel(cfg.Workers),
		assets: make(map[string]*clip.Clip),
	}, nil
}

// Canvas returns the output frame size.
func (b *Builder) Canvas() image.Point { return b.size }

// CheckAssets verifies the grain, light-leak and effect files exist.
func (b *Builder) CheckAssets() error {
	for _, name := range []string{b.cfg.Assets.Grain, b.cfg.Assets.Leak, b.cfg.Assets.Effect} {
		path := b.cfg.AssetPath(name)
		fi, err := os.Stat(path)
		if err != nil || !fi.Mode().IsRegular() {
			return errors.Wrapf(clip.ErrMissingAsset, "%s", path)
		}
	}
	return nil
}

// conform fits c to the canvas and the output frame rate.
func (b *Builder) conform(c *clip.Clip) *clip.Clip {
	return c.FitToCanvas(b.size.X, b.size.Y).SetFPS(b.cfg.FPS)
}

// asset loads an asset file once and returns its recipe.
func (b *Builder) asset(ctx context.Context, name string) (*clip.Clip, error) {
	if c, ok := b.assets[name]; ok {
		return c, nil
	}
	c, err := clip.Load(ctx, b.prober, b.cfg.AssetPath(name))
	if err != nil {
		return nil, err
	}
	b.assets[name] = c
	return c, nil
}

// overlay returns a texture asset stretched over the whole canvas at the
// output frame rate and looped to seconds. Textures are not letterboxed so
// they cover the bars as well.
func (b *Builder) overlay(ctx context.Context, name string, seconds float64) (*clip.Clip, error) {
	c, err := b.asset(ctx, name)
	if err != nil {
		return nil, err
	}
	return c.Resize(b.size.X, b.size.Y).SetFPS(b.cfg.FPS).Loop(seconds).WithoutAudio(), nil
}

// StyleClip applies the film look to one source: letterbox onto the canvas,
// conform the frame rate, tone-map every frame, then lay grain and light
// leak stretched to the canvas over it. The result keeps the source's audio.
func (b *Builder) StyleClip(ctx context.Context, path string) (*clip.Clip, error) {
	src, err := clip.Load(ctx, b.prober, path)
	if err != nil {
		return nil, err
	}
	base := b.conform(src).Map(b.tone)

	grain, err := b.overlay(ctx, b.cfg.Assets.Grain, base.Duration())
	if err != nil {
		return nil, err
	}
	leak, err := b.overlay(ctx, b.cfg.Assets.Leak, base.Duration())
	if err != nil {
		return nil, err
	}

	comp, err := base.Composite(
		clip.Layer{Clip: grain, Opacity: b.cfg.Overlay.Grain},
		clip.Layer{Clip: leak, Opacity: b.cfg.Overlay.Leak},
	)
	if err != nil {
		return nil, errors.Wrapf(err, "style %s", path)
	}

	b.log.Info("styled clip",
		zap.String("path", path),
		zap.Float64("duration", comp.Duration()),
		zap.Bool("audio", src.Audio() != nil))
	return comp.WithAudio(base.Audio()), nil
}

// EffectSegment returns exactly seconds of the effect asset, looped when the
// asset is shorter, conformed to the canvas and without audio.
func (b *Builder) EffectSegment(ctx context.Context, seconds float64) (*clip.Clip, error) {
	eff, err := b.asset(ctx, b.cfg.Assets.Effect)
	if err != nil {
		return nil, err
	}
	if eff.Duration() < seconds {
		eff = eff.Loop(seconds)
	}
	return b.conform(eff.Subclip(0, seconds)).WithoutAudio(), nil
}

// Build styles every source and interleaves the effect segments:
// intro, source 1, mid, source 2, ..., mid, source n, outro. The mid segment
// recipe is shared between gaps.
func (b *Builder) Build(ctx context.Context, sources []string) ([]*clip.Clip, error) {
	if len(sources) == 0 {
		return nil, errors.WithStack(ErrEmptyInput)
	}
	if err := b.CheckAssets(); err != nil {
		return nil, err
	}

	styled := make([]*clip.Clip, 0, len(sources))
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := b.StyleClip(ctx, src)
		if err != nil {
			return nil, err
		}
		styled = append(styled, c)
	}

	seg := b.cfg.Segments
	intro, err := b.EffectSegment(ctx, seg.Intro)
	if err != nil {
		return nil, err
	}
	mid, err := b.EffectSegment(ctx, seg.Mid)
	if err != nil {
		return nil, err
	}
	outro, err := b.EffectSegment(ctx, seg.Outro)
	if err != nil {
		return nil, err
	}

	timeline := make([]*clip.Clip, 0, 2*len(styled)+1)
	timeline = append(timeline, intro)
	for i, c := range styled {
		timeline = append(timeline, c)
		if i < len(styled)-1 {
			timeline = append(timeline, mid)
		}
	}
	timeline = append(timeline, outro)

	b.log.Info("timeline built",
		zap.Int("sources", len(styled)),
		zap.Int("clips", len(timeline)),
		zap.Float64("duration", Duration(timeline)))
	return timeline, nil
}

// Duration returns the summed length of clips in seconds.
func Duration(clips []*clip.Clip) float64 {
	var d float64
	for _, c := range clips {
		d += c.Duration()
	}
	return d
}
