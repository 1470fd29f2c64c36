// Package canvas holds the frame geometry shared by every clip: fitting a
// source into the fixed output canvas, letterboxing onto black, and blending
// overlay layers at reduced opacity.
package canvas

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
)

// Black is the letterbox fill.
var Black = color.RGBA{0, 0, 0, 255}

// Fit returns the rectangle, inside a dstW x dstH canvas, that a srcW x srcH
// source occupies when scaled uniformly to fit and centered. One side of the
// rectangle always spans the canvas; the other is padded equally on both
// sides (the far side takes the extra pixel when the remainder is odd).
func Fit(srcW, srcH, dstW, dstH int) image.Rectangle {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return image.Rectangle{}
	}
	scale := math.Min(float64(dstH)/float64(srcH), float64(dstW)/float64(srcW))

	w := min(max(int(math.Round(float64(srcW)*scale)), 1), dstW)
	h := min(max(int(math.Round(float64(srcH)*scale)), 1), dstH)

	x := (dstW - w) / 2
	y := (dstH - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// NewSolidImage creates a uniform solid-color image.
func NewSolidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	return img
}

// Letterbox scales src uniformly into a w x h black canvas, centered. The
// result is always exactly w x h regardless of the source aspect ratio.
func Letterbox(src image.Image, w, h int) *image.RGBA {
	dst := NewSolidImage(w, h, Black)
	sb := src.Bounds()
	r := Fit(sb.Dx(), sb.Dy(), w, h)
	if r.Empty() {
		return dst
	}
	if r.Dx() == sb.Dx() && r.Dy() == sb.Dy() {
		draw.Draw(dst, r, src, sb.Min, draw.Src)
		return dst
	}
	xdraw.ApproxBiLinear.Scale(dst, r, src, sb, draw.Src, nil)
	return dst
}

// Resize stretches src to exactly w x h.
func Resize(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	sb := src.Bounds()
	if sb.Dx() == w && sb.Dy() == h {
		draw.Draw(dst, dst.Bounds(), src, sb.Min, draw.Src)
		return dst
	}
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)
	return dst
}

// Blend draws src over dst at the given opacity in [0,1]. Both images are
// expected to have the same size; src is aligned to dst's origin.
func Blend(dst *image.RGBA, src image.Image, opacity float64) {
	if opacity <= 0 {
		return
	}
	mask := &image.Uniform{color.Alpha16{A: uint16(math.Round(math.Min(opacity, 1) * 0xffff))}}
	draw.DrawMask(dst, dst.Bounds(), src, src.Bounds().Min, mask, image.Point{}, draw.Over)
}
