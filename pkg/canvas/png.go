// PNG still writer used by the preview command.

package canvas

import (
	"image"
	"image/png"
	"os"

	"github.com/pkg/errors"
)

// WritePNG encodes img to a PNG file at the given path.
func WritePNG(output string, img image.Image) error {
	f, err := os.Create(output)
	if err != nil {
		return errors.Wrapf(err, "create %s", output)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return errors.Wrap(err, "encode PNG")
	}
	return f.Sync()
}
