// Package tone implements the Kodak 50D "fade" color transform applied to
// every frame of a styled clip.
//
// The transform is per pixel and per channel: shadows are lifted and
// highlights softened, contrast is eased around the midpoint, and a warm
// daylight bias is applied. It has no parameters and no state, so it can be
// mapped over pixels or frames in any order.
package tone

import (
	"image"
	"image/draw"

	"github.com/pkg/errors"
)

// ErrInvalidFrameShape is returned when a frame does not carry exactly three
// channels per pixel or its buffer does not match its dimensions.
var ErrInvalidFrameShape = errors.New("invalid frame shape")

// Fade and contrast curve.
const (
	fadeGain     = 0.88
	fadeLift     = 0.06
	contrastGain = 1.02
	midpoint     = 0.5
)

// Daylight channel bias.
const (
	redGain   = 1.05
	redLift   = 0.02
	greenGain = 1.03
	greenLift = 0.01
	blueGain  = 0.97
)

// Frame is a normalized RGB frame: Pix holds Width*Height*Channels values in
// [0,1], row-major with interleaved channels.
type Frame struct {
	Width    int
	Height   int
	Channels int
	Pix      []float64
}

// Pixel applies the transform to one normalized pixel.
func Pixel(r, g, b float64) (float64, float64, float64) {
	r, g, b = curve(r), curve(g), curve(b)
	return clamp(r*redGain + redLift), clamp(g*greenGain + greenLift), clamp(b * blueGain)
}

func curve(v float64) float64 {
	v = v*fadeGain + fadeLift
	return (v-midpoint)*contrastGain + midpoint
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Apply returns a new frame with the transform applied. The input is not
// modified.
func Apply(f Frame) (Frame, error) {
	if f.Channels != 3 || f.Width < 0 || f.Height < 0 || len(f.Pix) != f.Width*f.Height*f.Channels {
		return Frame{}, errors.Wrapf(ErrInvalidFrameShape,
			"%dx%d with %d channels and %d values", f.Width, f.Height, f.Channels, len(f.Pix))
	}

	out := Frame{Width: f.Width, Height: f.Height, Channels: 3, Pix: make([]float64, len(f.Pix))}
	for i := 0; i < len(f.Pix); i += 3 {
		out.Pix[i], out.Pix[i+1], out.Pix[i+2] = Pixel(f.Pix[i], f.Pix[i+1], f.Pix[i+2])
	}
	return out, nil
}

// lut maps an 8-bit input level to the 8-bit output level for each channel.
// Built once by running a gray ramp through Apply; never written afterwards.
var lut = buildLUT()

func buildLUT() (t [3][256]uint8) {
	ramp := Frame{Width: 256, Height: 1, Channels: 3, Pix: make([]float64, 256*3)}
	for i := 0; i < 256; i++ {
		v := float64(i) / 255
		ramp.Pix[3*i], ramp.Pix[3*i+1], ramp.Pix[3*i+2] = v, v, v
	}
	out, err := Apply(ramp)
	if err != nil {
		panic(err)
	}
	for i := 0; i < 256; i++ {
		// Truncate when rescaling, as a float->uint8 cast does.
		t[0][i] = uint8(out.Pix[3*i] * 255)
		t[1][i] = uint8(out.Pix[3*i+1] * 255)
		t[2][i] = uint8(out.Pix[3*i+2] * 255)
	}
	return t
}

// Image returns a transformed copy of src as an 8-bit RGBA image with the
// same bounds. Alpha is carried through unchanged.
func Image(src image.Image) *image.RGBA {
	in := toRGBA(src)
	out := image.NewRGBA(in.Bounds())
	mapRows(out, in, 0, in.Bounds().Dy())
	return out
}

// toRGBA returns src itself when it already is an *image.RGBA, otherwise a
// converted copy.
func toRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok {
		return rgba
	}
	b := src.Bounds()
	rgba := image.NewRGBA(b)
	draw.Draw(rgba, b, src, b.Min, draw.Src)
	return rgba
}

// checkShape rejects frames whose buffer cannot hold their bounds at four
// bytes per pixel.
func checkShape(img *image.RGBA) error {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil
	}
	if img.Stride < 4*b.Dx() || len(img.Pix) < (b.Dy()-1)*img.Stride+4*b.Dx() {
		return errors.Wrapf(ErrInvalidFrameShape,
			"%v RGBA frame with stride %d and %d bytes", b.Size(), img.Stride, len(img.Pix))
	}
	return nil
}

// mapRows transforms rows [y0, y1) (relative to the image bounds) of src
// into dst. dst and src must share bounds.
func mapRows(dst, src *image.RGBA, y0, y1 int) {
	w := src.Bounds().Dx() * 4
	for y := y0; y < y1; y++ {
		s := src.Pix[y*src.Stride : y*src.Stride+w]
		d := dst.Pix[y*dst.Stride : y*dst.Stride+w]
		for i := 0; i < w; i += 4 {
			d[i] = lut[0][s[i]]
			d[i+1] = lut[1][s[i+1]]
			d[i+2] = lut[2][s[i+2]]
			d[i+3] = s[i+3]
		}
	}
}
