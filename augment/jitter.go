// Package augment - Training sample stream with reshuffling and geometric jitter.
package augment

import (
	"image"
	"image/color"
	"math/rand/v2"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-tensorbox/common"
	"github.com/nvr-ai/go-tensorbox/images"
)

// JitterOptions bound the random perturbation applied to a sample.
type JitterOptions struct {
	// MinScale and MaxScale bound the uniform zoom factor.
	MinScale float32 `json:"min_scale"     yaml:"min_scale"`
	MaxScale float32 `json:"max_scale"     yaml:"max_scale"`
	// MaxTranslate is the largest shift in pixels along each axis.
	MaxTranslate int `json:"max_translate" yaml:"max_translate"`
	// FlipProb is the probability of a horizontal flip.
	FlipProb float32 `json:"flip_prob"     yaml:"flip_prob"`
	// MaxBlur is the largest Gaussian blur sigma. Zero disables blurring.
	MaxBlur float64 `json:"max_blur"      yaml:"max_blur"`
}

// DefaultJitter returns the perturbation ranges used for training.
func DefaultJitter() JitterOptions {
	return JitterOptions{MinScale: 0.9, MaxScale: 1.1, MaxTranslate: 20, FlipProb: 0.5}
}

// Validate reports ErrInvalidParameter for empty or inverted ranges.
func (o JitterOptions) Validate() error {
	if !(o.MinScale > 0 && o.MinScale <= o.MaxScale) {
		return errors.Wrapf(common.ErrInvalidParameter, "jitter scale range [%v, %v]", o.MinScale, o.MaxScale)
	}
	if o.MaxTranslate < 0 {
		return errors.Wrapf(common.ErrInvalidParameter, "jitter max_translate %d", o.MaxTranslate)
	}
	if !(o.FlipProb >= 0 && o.FlipProb <= 1) {
		return errors.Wrapf(common.ErrInvalidParameter, "jitter flip_prob %v", o.FlipProb)
	}
	if !(o.MaxBlur >= 0) {
		return errors.Wrapf(common.ErrInvalidParameter, "jitter max_blur %v", o.MaxBlur)
	}
	return nil
}

// Jitter zooms, flips and shifts img and its rectangles by the same random transform,
// then optionally blurs the pixels. The output keeps the resolution of img; regions
// shifted in from outside are black.
// Rectangles are clipped to the output, and those left without area are dropped.
//
// Arguments:
//   - img: The sample image, already at model resolution.
//   - rects: Rectangles in img coordinates. The slice is not modified.
//   - opts: Perturbation ranges.
//   - rng: The random source. Draws happen in a fixed order so a seeded source
//     reproduces the same transform.
//
// Returns:
//   - image.Image: The perturbed image.
//   - []images.Rect: The surviving rectangles, each satisfying X1 < X2 and Y1 < Y2.
//   - int: The number of dropped rectangles.
//
// @example
// out, rects, dropped := Jitter(img, rects, DefaultJitter(), rand.New(rand.NewPCG(1, 2)))
func Jitter(img image.Image, rects []images.Rect, opts JitterOptions, rng *rand.Rand) (image.Image, []images.Rect, int) {
	size := images.SizeOf(img)

	scale := opts.MinScale + rng.Float32()*(opts.MaxScale-opts.MinScale)
	flip := rng.Float32() < opts.FlipProb
	dx, dy := shift(rng, opts.MaxTranslate), shift(rng, opts.MaxTranslate)

	w := max(1, int(float32(size.Width)*scale+0.5))
	h := max(1, int(float32(size.Height)*scale+0.5))
	var sigma float64
	if opts.MaxBlur > 0 {
		sigma = rng.Float64() * opts.MaxBlur
	}

	zoomed := imaging.Resize(img, w, h, imaging.Linear)
	if flip {
		zoomed = imaging.FlipH(zoomed)
	}

	// Center the zoomed image, then shift it.
	ox := (size.Width-w)/2 + dx
	oy := (size.Height-h)/2 + dy
	canvas := imaging.New(size.Width, size.Height, color.Black)
	canvas = imaging.Paste(canvas, zoomed, image.Pt(ox, oy))
	if sigma > 0 {
		canvas = imaging.Blur(canvas, sigma)
	}

	sx := float32(w) / float32(size.Width)
	sy := float32(h) / float32(size.Height)
	out := make([]images.Rect, 0, len(rects))
	dropped := 0
	for _, r := range rects {
		r = images.Scale{X: sx, Y: sy}.Apply(r)
		if flip {
			r.X1, r.X2 = float32(w)-r.X2, float32(w)-r.X1
		}
		r = r.Translate(float32(ox), float32(oy)).ClipTo(float32(size.Width), float32(size.Height))
		if !r.Valid() {
			dropped++
			continue
		}
		out = append(out, r)
	}
	return canvas, out, dropped
}

func shift(rng *rand.Rand, limit int) int {
	if limit == 0 {
		return 0
	}
	return rng.IntN(2*limit+1) - limit
}
