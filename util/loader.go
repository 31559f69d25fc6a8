// Package util - Image file loading for training and prediction.
package util

import (
	"image"
	"image/color"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder

	"github.com/nvr-ai/go-tensorbox/common"
)

// ImageLoader resolves an image path to decoded pixels.
type ImageLoader interface {
	Load(path string) (image.Image, error)
}

// ImageLoaderFunc adapts a function to the ImageLoader interface.
type ImageLoaderFunc func(path string) (image.Image, error)

// Load calls f(path).
func (f ImageLoaderFunc) Load(path string) (image.Image, error) {
	return f(path)
}

// FileLoader reads images from disk.
type FileLoader struct{}

// Load opens and decodes the image at path.
//
// Arguments:
//   - path: The image file path.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: ErrImageLoadFailure if the file is unreadable, cannot be decoded or has
//     no color channels.
func (FileLoader) Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, common.LoadFailure(err, "open %s", path)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, common.LoadFailure(err, "decode %s", path)
	}
	if err := CheckChannels(img); err != nil {
		return nil, errors.Wrapf(err, "%s image %s", format, path)
	}
	return img, nil
}

// CheckChannels rejects images that do not carry three color channels. Single channel
// models (gray, alpha) cannot feed an RGB input.
func CheckChannels(img image.Image) error {
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model, color.AlphaModel, color.Alpha16Model:
		return errors.Wrap(common.ErrImageLoadFailure, "expected 3 color channels")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return errors.Wrap(common.ErrImageLoadFailure, "empty image")
	}
	return nil
}
