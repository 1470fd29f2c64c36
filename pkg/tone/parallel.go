package tone

import (
	"image"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// minBandRows keeps bands large enough that goroutine overhead stays small
// next to the per-row work.
const minBandRows = 32

// Parallel returns a frame filter equivalent to Image that splits each frame
// into horizontal bands transformed concurrently. workers <= 0 means
// GOMAXPROCS. Frames whose pixel buffer does not match their bounds fail
// with ErrInvalidFrameShape.
func Parallel(workers int) func(*image.RGBA) (*image.RGBA, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return func(src *image.RGBA) (*image.RGBA, error) {
		if err := checkShape(src); err != nil {
			return nil, err
		}
		rows := src.Bounds().Dy()
		band := max((rows+workers-1)/workers, minBandRows)
		if band >= rows {
			return Image(src), nil
		}

		out := image.NewRGBA(src.Bounds())
		var g errgroup.Group
		g.SetLimit(workers)
		for y0 := 0; y0 < rows; y0 += band {
			y0 := y0
			y1 := min(y0+band, rows)
			g.Go(func() error {
				mapRows(out, src, y0, y1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil
	}
}
