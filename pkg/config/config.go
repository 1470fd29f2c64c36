// Package config holds the render settings: canvas, frame rate, segment
// lengths, overlay opacities, asset names and encoder parameters.
//
// Settings start from Default and may be overridden by a YAML file. A Config
// is passed by value; nothing mutates it once the run has started.
package config

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/xob0t/super8/pkg/media"
)

// Presets maps canvas preset names to [width, height].
var Presets = map[string][2]int{
	"super8":     {1440, 1080},
	"super8_720": {960, 720},
	"720p":       {1280, 720},
	"1080p":      {1920, 1080},
	"4k":         {3840, 2160},
	"square":     {1080, 1080},
	"vertical":   {1080, 1920},
}

var x264Presets = map[string]struct{}{
	"ultrafast": {},
	"superfast": {},
	"veryfast":  {},
	"faster":    {},
	"fast":      {},
	"medium":    {},
	"slow":      {},
	"slower":    {},
	"veryslow":  {},
	"placebo":   {},
}

// Config is the complete set of render settings.
type Config struct {
	Canvas   Canvas   `yaml:"canvas"`
	FPS      float64  `yaml:"fps"`
	Segments Segments `yaml:"segments"`
	Overlay  Overlay  `yaml:"overlay"`
	Assets   Assets   `yaml:"assets"`
	Encoding Encoding `yaml:"encoding"`
	Output   string   `yaml:"output"`
	Workers  int      `yaml:"workers"` // tone-mapping goroutines per frame; 0 = GOMAXPROCS
}

// Canvas selects the output frame size, either by preset name or as an
// aspect ratio applied to a height.
type Canvas struct {
	Preset string `yaml:"preset,omitempty"`
	Aspect string `yaml:"aspect"`
	Height int    `yaml:"height"`
}

// Segments are the effect segment lengths in seconds.
type Segments struct {
	Intro float64 `yaml:"intro"`
	Mid   float64 `yaml:"mid"`
	Outro float64 `yaml:"outro"`
}

// Overlay holds the opacity of each overlay layer.
type Overlay struct {
	Grain float64 `yaml:"grain"`
	Leak  float64 `yaml:"leak"`
}

// Assets names the overlay and effect files inside Dir.
type Assets struct {
	Dir    string `yaml:"dir"`
	Grain  string `yaml:"grain"`
	Leak   string `yaml:"leak"`
	Effect string `yaml:"effect"`
}

// Encoding holds output codec settings.
type Encoding struct {
	VideoCodec string `yaml:"video_codec"`
	AudioCodec string `yaml:"audio_codec"`
	Bitrate    string `yaml:"bitrate"`
	Preset     string `yaml:"preset"`
	Threads    int    `yaml:"threads"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

// Default returns the Kodak 50D look: a 4:3 1080-line canvas at 24 fps.
func Default() Config {
	out := "Kodak50D_super8mm.mp4"
	if home, err := os.UserHomeDir(); err == nil {
		out = filepath.Join(home, "super8_output", out)
	}
	return Config{
		Canvas:   Canvas{Aspect: "4:3", Height: 1080},
		FPS:      24,
		Segments: Segments{Intro: 2, Mid: 1, Outro: 2},
		Overlay:  Overlay{Grain: 0.35, Leak: 0.10},
		Assets: Assets{
			Dir:    "assets",
			Grain:  "Super 8 Grain.mp4",
			Leak:   "Film Light Leak.mp4",
			Effect: "Super 8 24fps.mp4",
		},
		Encoding: Encoding{
			VideoCodec: "libx264",
			AudioCodec: "aac",
			Bitrate:    "8M",
			Preset:     "medium",
			Threads:    4,
			SampleRate: 48000,
			Channels:   2,
		},
		Output: out,
	}
}

// Load reads a YAML file over Default. An empty path returns the defaults.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Marshal renders the config as YAML.
func (c Config) Marshal() ([]byte, error) {
	buf, err := yaml.Marshal(&c)
	if err != nil {
		return nil, errors.Wrap(err, "marshal config")
	}
	return buf, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	w, h, err := c.Canvas.Size()
	if err != nil {
		return err
	}
	if w%2 != 0 || h%2 != 0 {
		return errors.Errorf("canvas %dx%d: yuv420p output needs even dimensions", w, h)
	}
	if c.FPS <= 0 {
		return errors.Errorf("fps must be positive, got %g", c.FPS)
	}
	for name, v := range map[string]float64{"intro": c.Segments.Intro, "mid": c.Segments.Mid, "outro": c.Segments.Outro} {
		if v <= 0 {
			return errors.Errorf("segments.%s must be positive, got %g", name, v)
		}
	}
	for name, v := range map[string]float64{"grain": c.Overlay.Grain, "leak": c.Overlay.Leak} {
		if v < 0 || v > 1 {
			return errors.Errorf("overlay.%s opacity %g outside [0,1]", name, v)
		}
	}
	if c.Assets.Grain == "" || c.Assets.Leak == "" || c.Assets.Effect == "" {
		return errors.New("assets: grain, leak and effect file names are required")
	}
	if c.Encoding.VideoCodec == "" || c.Encoding.AudioCodec == "" {
		return errors.New("encoding: video_codec and audio_codec are required")
	}
	if _, ok := x264Presets[c.Encoding.Preset]; !ok {
		return errors.Errorf("encoding.preset %q is not an x264 preset", c.Encoding.Preset)
	}
	if c.Encoding.Threads < 0 || c.Encoding.SampleRate <= 0 || c.Encoding.Channels < 1 || c.Encoding.Channels > 2 {
		return errors.Errorf("encoding: threads=%d sample_rate=%d channels=%d out of range",
			c.Encoding.Threads, c.Encoding.SampleRate, c.Encoding.Channels)
	}
	if c.Output == "" {
		return errors.New("output path is required")
	}
	if c.Workers < 0 {
		return errors.Errorf("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

// Size resolves the canvas to pixels. A known preset wins over aspect and
// height.
func (c Canvas) Size() (int, int, error) {
	if c.Preset != "" {
		dims, ok := Presets[c.Preset]
		if !ok {
			return 0, 0, errors.Errorf("unknown canvas preset %q", c.Preset)
		}
		return dims[0], dims[1], nil
	}
	num, den, err := ParseAspect(c.Aspect)
	if err != nil {
		return 0, 0, err
	}
	if c.Height <= 0 {
		return 0, 0, errors.Errorf("canvas height must be positive, got %d", c.Height)
	}
	return int(float64(c.Height) * num / den), c.Height, nil
}

// ParseAspect parses "W:H" into its two positive terms.
func ParseAspect(s string) (float64, float64, error) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, errors.Errorf("aspect %q: want W:H", s)
	}
	num, err1 := strconv.ParseFloat(strings.TrimSpace(a), 64)
	den, err2 := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if err1 != nil || err2 != nil || !(num > 0) || !(den > 0) || math.IsInf(num, 0) || math.IsInf(den, 0) {
		return 0, 0, errors.Errorf("aspect %q: want two positive numbers", s)
	}
	return num, den, nil
}

// AssetPath returns the full path of an asset file name.
func (c Config) AssetPath(name string) string {
	return filepath.Join(c.Assets.Dir, name)
}

// SegmentEncoding converts the encoder settings for the media layer.
func (c Config) SegmentEncoding() media.Encoding {
	e := c.Encoding
	return media.Encoding{
		VideoCodec: e.VideoCodec,
		AudioCodec: e.AudioCodec,
		Bitrate:    e.Bitrate,
		Preset:     e.Preset,
		Threads:    e.Threads,
		SampleRate: e.SampleRate,
		Channels:   e.Channels,
	}
}
