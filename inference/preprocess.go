package inference

import (
	"image"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-tensorbox/common"
	"github.com/nvr-ai/go-tensorbox/images"
)

// PrepareInput resizes img to the model resolution and lays its pixels out as an
// height x width x 3 RGB tensor of raw 0-255 values. Alpha is dropped.
//
// Arguments:
//   - img: The image to prepare.
//   - size: The model input resolution.
//
// Returns:
//   - *tensor.Dense: The input tensor.
//   - error: ErrInvalidParameter for a nil image or non-positive size.
//
// @example
// input, err := PrepareInput(img, images.Size{Width: 640, Height: 480})
func PrepareInput(img image.Image, size images.Size) (*tensor.Dense, error) {
	if err := size.Validate(); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, errors.Wrap(common.ErrInvalidParameter, "nil image")
	}
	if images.SizeOf(img) != size {
		resized, err := images.ResizeTo(img, size)
		if err != nil {
			return nil, err
		}
		img = resized
	}

	data := make([]float32, size.Height*size.Width*3)
	origin := img.Bounds().Min
	i := 0
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			r, g, b, _ := img.At(origin.X+x, origin.Y+y).RGBA()
			data[i] = float32(r >> 8)
			data[i+1] = float32(g >> 8)
			data[i+2] = float32(b >> 8)
			i += 3
		}
	}
	return tensor.New(tensor.WithShape(size.Height, size.Width, 3), tensor.WithBacking(data)), nil
}
