// Package clip models video clips as immutable recipes.
//
// A Clip records where its frames come from (a file, a time range, a frame
// rate, whether the source loops) and what happens to each frame (resize or
// letterbox, per-frame filters, overlay layers). Nothing is decoded until
// Open is called; every operation returns a new Clip and leaves the receiver
// untouched, so overlay and effect clips can be shared freely.
package clip

import (
	"context"
	"image"
	"math"
	"os"

	"github.com/pkg/errors"

	"github.com/xob0t/super8/pkg/media"
)

var (
	// ErrMissingAsset is returned when a source or asset file does not exist.
	ErrMissingAsset = errors.New("missing asset")

	// ErrUnsupportedFormat is returned when a file cannot be probed or decoded.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrCanvasMismatch is returned when a composite layer does not share the
	// base clip's size and frame rate.
	ErrCanvasMismatch = errors.New("layer does not match canvas")
)

// Prober reads stream metadata from a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (*media.Info, error)
}

// Filter transforms one frame. It must not modify its argument. An error
// aborts the stream.
type Filter func(*image.RGBA) (*image.RGBA, error)

// Layer is a clip composited above a base clip at a fixed opacity.
type Layer struct {
	Clip    *Clip
	Opacity float64
}

// Clip is an immutable description of a sequence of frames plus an optional
// audio track.
type Clip struct {
	path     string
	src      image.Point // decoded frame size
	start    float64
	srcDur   float64 // length of the source file
	duration float64
	loop     bool
	fps      float64
	size     image.Point // output frame size
	fit      bool        // letterbox into size instead of stretching
	filters  []Filter
	layers   []Layer
	audio    *media.AudioSource
}

// Load probes path and returns a clip covering the whole file at its native
// size and frame rate, carrying the file's audio track if it has one.
func Load(ctx context.Context, p Prober, path string) (*Clip, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(ErrMissingAsset, "%s", path)
	}
	if !fi.Mode().IsRegular() {
		return nil, errors.Wrapf(ErrMissingAsset, "%s is not a regular file", path)
	}

	info, err := p.Probe(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%s: %v", path, err)
	}
	if info.Width <= 0 || info.Height <= 0 || info.Duration <= 0 || info.FPS <= 0 {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%s: no decodable video (%dx%d, %.3fs @ %.3f fps)",
			path, info.Width, info.Height, info.Duration, info.FPS)
	}

	c := &Clip{
		path:     path,
		src:      image.Pt(info.Width, info.Height),
		srcDur:   info.Duration,
		duration: info.Duration,
		fps:      info.FPS,
		size:     image.Pt(info.Width, info.Height),
	}
	if info.HasAudio {
		c.audio = &media.AudioSource{Path: path}
	}
	return c, nil
}

// clone returns a copy whose slices can be appended to without aliasing c.
func (c *Clip) clone() *Clip {
	n := *c
	n.filters = append([]Filter(nil), c.filters...)
	n.layers = append([]Layer(nil), c.layers...)
	if c.audio != nil {
		a := *c.audio
		n.audio = &a
	}
	return &n
}

// Path returns the file frames are decoded from.
func (c *Clip) Path() string { return c.path }

// Size returns the output frame size.
func (c *Clip) Size() image.Point { return c.size }

// FPS returns the output frame rate.
func (c *Clip) FPS() float64 { return c.fps }

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 { return c.duration }

// Start returns the offset into the source file.
func (c *Clip) Start() float64 { return c.start }

// Looping reports whether the source repeats to fill the duration.
func (c *Clip) Looping() bool { return c.loop }

// Letterboxed reports whether frames are fit into the output size.
func (c *Clip) Letterboxed() bool { return c.fit }

// Layers returns the overlay layers, bottom first.
func (c *Clip) Layers() []Layer { return append([]Layer(nil), c.layers...) }

// Audio returns the clip's audio track, or nil when it is silent.
func (c *Clip) Audio() *media.AudioSource {
	if c.audio == nil {
		return nil
	}
	a := *c.audio
	return &a
}

// FrameCount returns the number of frames the clip yields.
func (c *Clip) FrameCount() int {
	return int(math.Round(c.duration * c.fps))
}

// SetFPS conforms the clip to fps frames per second.
func (c *Clip) SetFPS(fps float64) *Clip {
	n := c.clone()
	n.fps = fps
	return n
}

// Loop repeats the source as often as needed and cuts it at exactly seconds.
func (c *Clip) Loop(seconds float64) *Clip {
	n := c.clone()
	n.loop = true
	n.duration = seconds
	if n.audio != nil {
		n.audio.Loop = true
	}
	return n
}

// Subclip keeps the range [start, end) seconds of the clip. end is clamped
// to the clip duration unless the clip loops. Layers are cut to the same
// range so they stay in step with the base.
func (c *Clip) Subclip(start, end float64) *Clip {
	if !c.loop && end > c.duration {
		end = c.duration
	}
	start = max(start, 0)
	end = max(end, start)

	n := c.clone()
	n.start = c.offset(start)
	n.duration = end - start
	if a := n.audio; a != nil {
		if a.Path == c.path && a.Start == c.start {
			a.Start = n.start
		} else {
			a.Start += start
		}
	}
	for i, l := range n.layers {
		n.layers[i].Clip = l.Clip.Subclip(start, end)
	}
	return n
}

// offset maps a position within the clip to a seek position in the source.
// Looping sources wrap, since a seek only applies to the first pass.
func (c *Clip) offset(t float64) float64 {
	pos := c.start + t
	if c.loop && c.srcDur > 0 {
		pos = math.Mod(pos, c.srcDur)
	}
	return pos
}

// Resize stretches frames to exactly w x h.
func (c *Clip) Resize(w, h int) *Clip {
	n := c.clone()
	n.size = image.Pt(w, h)
	n.fit = false
	return n
}

// FitToCanvas scales frames uniformly to fit inside w x h and centers them
// on black, so every frame is exactly w x h whatever the source aspect.
func (c *Clip) FitToCanvas(w, h int) *Clip {
	n := c.clone()
	n.size = image.Pt(w, h)
	n.fit = true
	return n
}

// Map appends a per-frame filter.
func (c *Clip) Map(f Filter) *Clip {
	n := c.clone()
	n.filters = append(n.filters, f)
	return n
}

// WithoutAudio drops the audio track.
func (c *Clip) WithoutAudio() *Clip {
	n := c.clone()
	n.audio = nil
	return n
}

// WithAudio replaces the audio track. A nil track makes the clip silent.
func (c *Clip) WithAudio(a *media.AudioSource) *Clip {
	n := c.clone()
	n.audio = nil
	if a != nil {
		cp := *a
		n.audio = &cp
	}
	return n
}

// Composite stacks layers above c, in order. Each layer must share c's
// output size and frame rate. The result has no audio track; callers choose
// one explicitly with WithAudio.
func (c *Clip) Composite(layers ...Layer) (*Clip, error) {
	for i, l := range layers {
		if l.Clip == nil {
			return nil, errors.Errorf("layer %d is nil", i)
		}
		if l.Clip.size != c.size || math.Abs(l.Clip.fps-c.fps) > 1e-6 {
			return nil, errors.Wrapf(ErrCanvasMismatch, "layer %d (%s) is %v@%g, base is %v@%g",
				i, l.Clip.path, l.Clip.size, l.Clip.fps, c.size, c.fps)
		}
		if l.Opacity < 0 || l.Opacity > 1 {
			return nil, errors.Errorf("layer %d opacity %g outside [0,1]", i, l.Opacity)
		}
	}
	n := c.clone()
	n.layers = append(n.layers, layers...)
	n.audio = nil
	return n, nil
}
