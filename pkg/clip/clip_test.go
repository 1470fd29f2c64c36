package clip

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xob0t/super8/pkg/canvas"
	"github.com/xob0t/super8/pkg/media"
	"github.com/xob0t/super8/pkg/tone"
)

type fakeProber map[string]*media.Info

func (p fakeProber) Probe(_ context.Context, path string) (*media.Info, error) {
	info, ok := p[filepath.Base(path)]
	if !ok {
		return nil, errors.New("invalid data found when processing input")
	}
	return info, nil
}

// fakeDecoder yields solid frames of a per-file color at the requested size.
type fakeDecoder struct {
	colors map[string]color.RGBA
	frames map[string]int // overrides duration*fps
	broken map[string]bool
	opts   map[string]media.DecodeOptions
	open   int
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{
		colors: map[string]color.RGBA{},
		frames: map[string]int{},
		broken: map[string]bool{},
		opts:   map[string]media.DecodeOptions{},
	}
}

func (d *fakeDecoder) Decode(_ context.Context, path string, opts media.DecodeOptions) (FrameSource, error) {
	name := filepath.Base(path)
	d.opts[name] = opts
	n, ok := d.frames[name]
	if !ok {
		n = int(math.Round(opts.Duration * opts.FPS))
	}
	d.open++
	return &solidSource{d: d, c: d.colors[name], w: opts.Width, h: opts.Height, left: n, broken: d.broken[name]}, nil
}

type solidSource struct {
	d      *fakeDecoder
	c      color.RGBA
	w, h   int
	left   int
	broken bool
	closed bool
}

func (s *solidSource) Next() (*image.RGBA, error) {
	if s.broken {
		return nil, errors.New("moov atom not found")
	}
	if s.left == 0 {
		return nil, io.EOF
	}
	s.left--
	return canvas.NewSolidImage(s.w, s.h, s.c), nil
}

func (s *solidSource) Close() error {
	if !s.closed {
		s.closed = true
		s.d.open--
	}
	return nil
}

var (
	white = color.RGBA{255, 255, 255, 255}
	red   = color.RGBA{255, 0, 0, 255}
)

func load(t *testing.T, p fakeProber, name string) *Clip {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("stub"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(context.Background(), p, path)
	if err != nil {
		t.Fatalf("Load(%s): %v", name, err)
	}
	return c
}

func TestLoad(t *testing.T) {
	p := fakeProber{
		"clip1.mov": {Width: 1920, Height: 1080, FPS: 29.97, Duration: 4, HasAudio: true},
		"mute.mp4":  {Width: 640, Height: 480, FPS: 24, Duration: 2},
	}

	c := load(t, p, "clip1.mov")
	if c.Size() != image.Pt(1920, 1080) || c.FPS() != 29.97 || c.Duration() != 4 {
		t.Errorf("clip = %v@%v for %vs", c.Size(), c.FPS(), c.Duration())
	}
	if a := c.Audio(); a == nil || a.Path != c.Path() {
		t.Errorf("audio = %+v, want the clip's own track", a)
	}
	if c.FrameCount() != 120 {
		t.Errorf("FrameCount = %d, want 120", c.FrameCount())
	}

	if m := load(t, p, "mute.mp4"); m.Audio() != nil {
		t.Error("clip without an audio stream reports audio")
	}
}

func TestLoad_Errors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := fakeProber{"empty.mov": {Width: 0, Height: 0}}

	if _, err := Load(ctx, p, filepath.Join(dir, "nope.mov")); !errors.Is(err, ErrMissingAsset) {
		t.Errorf("missing file: err = %v, want ErrMissingAsset", err)
	}
	if _, err := Load(ctx, p, dir); !errors.Is(err, ErrMissingAsset) {
		t.Errorf("directory: err = %v, want ErrMissingAsset", err)
	}

	for _, name := range []string{"garbage.mov", "empty.mov"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := Load(ctx, p, path)
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("%s: err = %v, want ErrUnsupportedFormat", name, err)
		}
	}
}

func TestOperations_DoNotMutate(t *testing.T) {
	p := fakeProber{"a.mov": {Width: 320, Height: 240, FPS: 30, Duration: 3, HasAudio: true}}
	base := load(t, p, "a.mov")

	looped := base.Loop(10)
	sub := looped.Subclip(1, 4)
	fit := sub.FitToCanvas(1440, 1080).SetFPS(24)
	silent := fit.WithoutAudio()
	mapped := silent.Map(func(img *image.RGBA) (*image.RGBA, error) { return img, nil })

	if base.Looping() || base.Duration() != 3 || base.Size() != image.Pt(320, 240) || base.Audio() == nil {
		t.Errorf("base changed: loop=%v dur=%v size=%v", base.Looping(), base.Duration(), base.Size())
	}
	if !looped.Looping() || looped.Duration() != 10 || !looped.Audio().Loop {
		t.Errorf("looped: loop=%v dur=%v", looped.Looping(), looped.Duration())
	}
	if sub.Start() != 1 || sub.Duration() != 3 || sub.Audio().Start != 1 {
		t.Errorf("subclip: start=%v dur=%v audio=%+v", sub.Start(), sub.Duration(), sub.Audio())
	}
	if fit.Size() != image.Pt(1440, 1080) || !fit.Letterboxed() || fit.FPS() != 24 {
		t.Errorf("fit: %v letterbox=%v fps=%v", fit.Size(), fit.Letterboxed(), fit.FPS())
	}
	if fit.Audio() == nil || silent.Audio() != nil {
		t.Error("WithoutAudio leaked into its receiver or kept the track")
	}
	if len(silent.filters) != 0 || len(mapped.filters) != 1 {
		t.Errorf("filters: silent=%d mapped=%d", len(silent.filters), len(mapped.filters))
	}
}

func TestSubclip_ClampsToDuration(t *testing.T) {
	p := fakeProber{"fx.mp4": {Width: 64, Height: 48, FPS: 24, Duration: 1.5}}
	c := load(t, p, "fx.mp4")

	if got := c.Subclip(0, 2).Duration(); got != 1.5 {
		t.Errorf("Subclip past the end: duration = %v, want 1.5", got)
	}
	if got := c.Loop(5).Subclip(0, 2).Duration(); got != 2 {
		t.Errorf("Subclip of looped clip: duration = %v, want 2", got)
	}
}

func TestSubclip_CutsLayersAndWrapsLoops(t *testing.T) {
	p := fakeProber{
		"base.mov":  {Width: 64, Height: 48, FPS: 24, Duration: 10, HasAudio: true},
		"grain.mp4": {Width: 64, Height: 48, FPS: 24, Duration: 3},
	}
	base := load(t, p, "base.mov")
	grain := load(t, p, "grain.mp4").Loop(base.Duration())
	comp, err := base.Composite(Layer{Clip: grain, Opacity: 0.35})
	if err != nil {
		t.Fatal(err)
	}
	comp = comp.WithAudio(base.Audio())

	cut := comp.Subclip(7, 8)
	if cut.Start() != 7 || cut.Duration() != 1 || cut.Audio().Start != 7 {
		t.Errorf("base: start=%v dur=%v audio=%+v", cut.Start(), cut.Duration(), cut.Audio())
	}
	l := cut.Layers()[0].Clip
	if l.Start() != 1 || l.Duration() != 1 || !l.Looping() {
		t.Errorf("layer: start=%v dur=%v loop=%v, want the looped source entered at 1s", l.Start(), l.Duration(), l.Looping())
	}
	if comp.Layers()[0].Clip.Start() != 0 {
		t.Error("Subclip modified the receiver's layer")
	}
}

func TestWithAudio_CopiesTrack(t *testing.T) {
	p := fakeProber{"a.mov": {Width: 64, Height: 48, FPS: 24, Duration: 1, HasAudio: true}}
	c := load(t, p, "a.mov")
	track := c.Audio()

	got := c.WithoutAudio().WithAudio(track)
	track.Start = 99
	if a := got.Audio(); a == nil || a.Start != 0 || a.Path != c.Path() {
		t.Errorf("audio = %+v, want an independent copy of the source track", a)
	}
	if c.WithAudio(nil).Audio() != nil {
		t.Error("WithAudio(nil) kept a track")
	}
}

func TestComposite(t *testing.T) {
	p := fakeProber{
		"base.mov":  {Width: 1920, Height: 1080, FPS: 30, Duration: 2, HasAudio: true},
		"grain.mp4": {Width: 1280, Height: 720, FPS: 25, Duration: 1},
	}
	base := load(t, p, "base.mov").FitToCanvas(1440, 1080).SetFPS(24)
	grain := load(t, p, "grain.mp4").FitToCanvas(1440, 1080).SetFPS(24).Loop(base.Duration())

	out, err := base.Composite(Layer{Clip: grain, Opacity: 0.35})
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}
	if len(out.Layers()) != 1 || out.Audio() != nil {
		t.Errorf("layers = %d audio = %v", len(out.Layers()), out.Audio())
	}
	if len(base.Layers()) != 0 {
		t.Error("Composite modified its receiver")
	}

	tests := []struct {
		name  string
		layer Layer
		want  error
	}{
		{"size", Layer{Clip: grain.FitToCanvas(1920, 1080), Opacity: 0.1}, ErrCanvasMismatch},
		{"fps", Layer{Clip: grain.SetFPS(30), Opacity: 0.1}, ErrCanvasMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := base.Composite(tt.layer); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := base.Composite(Layer{Clip: grain, Opacity: 1.5}); err == nil {
		t.Error("opacity above 1 accepted")
	}
	if _, err := base.Composite(Layer{}); err == nil {
		t.Error("nil layer accepted")
	}
}

func near(got, want uint8) bool {
	d := int(got) - int(want)
	return d >= -2 && d <= 2
}

func TestOpen_LetterboxesAndBlends(t *testing.T) {
	p := fakeProber{
		"base.mov": {Width: 32, Height: 18, FPS: 24, Duration: 0.25},
		"leak.mp4": {Width: 8, Height: 8, FPS: 24, Duration: 0.1},
	}
	dec := newFakeDecoder()
	dec.colors["base.mov"] = white
	dec.colors["leak.mp4"] = red

	base := load(t, p, "base.mov").FitToCanvas(32, 24).SetFPS(24)
	leak := load(t, p, "leak.mp4").FitToCanvas(32, 24).SetFPS(24).Loop(base.Duration())
	comp, err := base.Composite(Layer{Clip: leak, Opacity: 0.5})
	if err != nil {
		t.Fatal(err)
	}

	s, err := comp.Open(context.Background(), dec)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if o := dec.opts["leak.mp4"]; !o.Loop || o.Duration != 0.25 || o.Width != 8 || o.FPS != 24 {
		t.Errorf("leak decode options = %+v", o)
	}

	n := 0
	for {
		img, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("frame %d: %v", n, err)
		}
		if img.Bounds().Size() != image.Pt(32, 24) {
			t.Fatalf("frame %d is %v", n, img.Bounds().Size())
		}
		checks := []struct {
			x, y    int
			r, g, b uint8
		}{
			{16, 1, 128, 0, 0},      // black bar under red
			{1, 12, 128, 128, 128},  // white content under the layer's bar
			{16, 12, 255, 128, 128}, // white under red
		}
		for _, c := range checks {
			got := img.RGBAAt(c.x, c.y)
			if !near(got.R, c.r) || !near(got.G, c.g) || !near(got.B, c.b) || got.A != 255 {
				t.Errorf("frame %d (%d,%d) = %v, want ~(%d,%d,%d)", n, c.x, c.y, got, c.r, c.g, c.b)
			}
		}
		n++
	}
	if n != comp.FrameCount() {
		t.Errorf("got %d frames, want %d", n, comp.FrameCount())
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if dec.open != 0 {
		t.Errorf("%d decoders left open", dec.open)
	}
}

func TestOpen_ExhaustedLayerLeavesBase(t *testing.T) {
	p := fakeProber{
		"base.mov":  {Width: 16, Height: 16, FPS: 10, Duration: 0.5},
		"grain.mp4": {Width: 16, Height: 16, FPS: 10, Duration: 0.5},
	}
	dec := newFakeDecoder()
	dec.colors["base.mov"] = white
	dec.colors["grain.mp4"] = canvas.Black
	dec.frames["grain.mp4"] = 2

	base := load(t, p, "base.mov")
	grain := load(t, p, "grain.mp4")
	comp, err := base.Composite(Layer{Clip: grain, Opacity: 1})
	if err != nil {
		t.Fatal(err)
	}
	s, err := comp.Open(context.Background(), dec)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var got []uint8
	for {
		img, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, img.RGBAAt(8, 8).R)
	}
	want := []uint8{0, 0, 255, 255, 255}
	if len(got) != len(want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d red = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestOpen_FiltersRunBeforeLayers(t *testing.T) {
	p := fakeProber{"a.mov": {Width: 8, Height: 8, FPS: 10, Duration: 0.1}}
	dec := newFakeDecoder()
	dec.colors["a.mov"] = white

	blacken := func(img *image.RGBA) (*image.RGBA, error) {
		return canvas.NewSolidImage(img.Bounds().Dx(), img.Bounds().Dy(), canvas.Black), nil
	}
	base := load(t, p, "a.mov").Map(blacken)
	over := load(t, p, "a.mov")
	comp, err := base.Composite(Layer{Clip: over, Opacity: 0.5})
	if err != nil {
		t.Fatal(err)
	}

	s, err := comp.Open(context.Background(), dec)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	img, err := s.Next()
	if err != nil {
		t.Fatal(err)
	}
	if got := img.RGBAAt(4, 4); !near(got.R, 128) {
		t.Errorf("pixel = %v, want filter output blended with white at half opacity", got)
	}
}

func TestOpen_DecodeFailureIsUnsupported(t *testing.T) {
	p := fakeProber{"bad.mov": {Width: 8, Height: 8, FPS: 24, Duration: 1}}
	dec := newFakeDecoder()
	dec.broken["bad.mov"] = true

	s, err := load(t, p, "bad.mov").Open(context.Background(), dec)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	_, err = s.Next()
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
	var de *DecodeError
	if !errors.As(err, &de) || filepath.Base(de.Path) != "bad.mov" {
		t.Errorf("err = %v does not name the file", err)
	}
}

func TestOpen_ResizeStretches(t *testing.T) {
	p := fakeProber{"grain.mp4": {Width: 8, Height: 8, FPS: 25, Duration: 1}}
	dec := newFakeDecoder()
	dec.colors["grain.mp4"] = red

	c := load(t, p, "grain.mp4").Resize(16, 12).SetFPS(10)
	if c.Letterboxed() || c.Size() != image.Pt(16, 12) {
		t.Fatalf("resized clip: %v letterbox=%v", c.Size(), c.Letterboxed())
	}
	s, err := c.Open(context.Background(), dec)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if o := dec.opts["grain.mp4"]; o.Width != 8 || o.Height != 8 {
		t.Errorf("decoded at %dx%d, want source size", o.Width, o.Height)
	}
	img, err := s.Next()
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Size() != image.Pt(16, 12) {
		t.Fatalf("frame is %v", img.Bounds().Size())
	}
	for _, pt := range []image.Point{{0, 0}, {8, 0}, {15, 11}} {
		if got := img.RGBAAt(pt.X, pt.Y); !near(got.R, 255) || got.G > 2 || !near(got.A, 255) {
			t.Errorf("pixel %v = %v, want red edge to edge", pt, got)
		}
	}
}

func TestOpen_FilterErrorAbortsStream(t *testing.T) {
	p := fakeProber{"a.mov": {Width: 8, Height: 8, FPS: 10, Duration: 1}}
	dec := newFakeDecoder()

	truncate := func(img *image.RGBA) (*image.RGBA, error) {
		out := *img
		out.Pix = img.Pix[:len(img.Pix)/2]
		return &out, nil
	}
	c := load(t, p, "a.mov").Map(truncate).Map(tone.Parallel(2))

	s, err := c.Open(context.Background(), dec)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Next()
	if !errors.Is(err, tone.ErrInvalidFrameShape) {
		t.Errorf("err = %v, want ErrInvalidFrameShape", err)
	}
	if err == nil || !strings.Contains(err.Error(), "a.mov frame 0") {
		t.Errorf("err = %v does not name the file and frame", err)
	}
	s.Close()
	if dec.open != 0 {
		t.Errorf("%d decoders left open", dec.open)
	}
}
