package images

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-tensorbox/common"
)

// Size is the pixel resolution of an image coordinate system.
type Size struct {
	Width  int `json:"width"  yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Validate reports ErrInvalidParameter for non-positive dimensions.
func (s Size) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return errors.Wrapf(common.ErrInvalidParameter, "size %dx%d", s.Width, s.Height)
	}
	return nil
}

// Scale holds independent per-axis factors that map one coordinate system onto another.
type Scale struct {
	X, Y float32
}

// NewScale returns the factors that map from onto to.
//
// Arguments:
//   - from: The source resolution.
//   - to: The target resolution.
//
// Returns:
//   - Scale: to.Width/from.Width and to.Height/from.Height.
//   - error: ErrInvalidParameter if either size is non-positive.
func NewScale(from, to Size) (Scale, error) {
	if err := from.Validate(); err != nil {
		return Scale{}, err
	}
	if err := to.Validate(); err != nil {
		return Scale{}, err
	}
	return Scale{
		X: float32(to.Width) / float32(from.Width),
		Y: float32(to.Height) / float32(from.Height),
	}, nil
}

// Inverse returns the reciprocal scale.
func (s Scale) Inverse() Scale {
	return Scale{X: 1 / s.X, Y: 1 / s.Y}
}

// Apply scales both corners of r. Positive factors keep X1 < X2 and Y1 < Y2.
func (s Scale) Apply(r Rect) Rect {
	r.X1 *= s.X
	r.X2 *= s.X
	r.Y1 *= s.Y
	r.Y2 *= s.Y
	return r
}

// Rescale maps r from one image resolution to another.
//
// Arguments:
//   - r: The rectangle in from coordinates.
//   - from: The resolution r is expressed in.
//   - to: The resolution to map into.
//
// Returns:
//   - Rect: The rectangle in to coordinates, score and class unchanged.
//   - error: ErrInvalidParameter for non-positive sizes.
//
// @example
// r, _ := Rescale(Rect{X1: 10, Y1: 10, X2: 20, Y2: 20}, Size{100, 100}, Size{640, 480})
// // r == (64, 48)-(128, 96)
func Rescale(r Rect, from, to Size) (Rect, error) {
	s, err := NewScale(from, to)
	if err != nil {
		return Rect{}, err
	}
	return s.Apply(r), nil
}

// RescaleAll maps every rectangle from one resolution to another into a new slice.
func RescaleAll(rects []Rect, from, to Size) ([]Rect, error) {
	s, err := NewScale(from, to)
	if err != nil {
		return nil, err
	}
	out := make([]Rect, len(rects))
	for i, r := range rects {
		out[i] = s.Apply(r)
	}
	return out, nil
}
