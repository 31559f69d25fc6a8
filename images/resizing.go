package images

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-tensorbox/common"
)

// SizeOf returns the resolution of img.
func SizeOf(img image.Image) Size {
	b := img.Bounds()
	return Size{Width: b.Dx(), Height: b.Dy()}
}

// ResizeTo resizes img to the given resolution with bicubic interpolation, the filter
// the detector's preprocessing was trained with.
//
// Arguments:
//   - img: The source image.
//   - size: The target resolution.
//
// Returns:
//   - image.Image: The resized image.
//   - error: ErrInvalidParameter for non-positive sizes.
//
// @example
// resized, err := ResizeTo(img, Size{Width: 640, Height: 480})
func ResizeTo(img image.Image, size Size) (image.Image, error) {
	if err := size.Validate(); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, errors.Wrap(common.ErrInvalidParameter, "nil image")
	}
	return resize.Resize(uint(size.Width), uint(size.Height), img, resize.Bicubic), nil
}
