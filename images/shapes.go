// Package images - Rectangle geometry, coordinate rescaling and pixel resizing.
package images

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-tensorbox/common"
)

// Rect is an axis aligned box in pixel coordinates with its confidence score and
// class index. A valid Rect always satisfies X1 < X2 and Y1 < Y2.
type Rect struct {
	X1, Y1, X2, Y2 float32
	// Score is the confidence of the rectangle (1 for ground truth unless stated).
	Score float32
	// Class is the predicted or annotated class index.
	Class int
}

// NewRect builds a rectangle and rejects degenerate geometry.
//
// Arguments:
//   - x1, y1: The top-left corner.
//   - x2, y2: The bottom-right corner.
//
// Returns:
//   - Rect: The rectangle with Score 1 and Class 0.
//   - error: ErrInvalidGeometry if x1 >= x2 or y1 >= y2.
//
// @example
// r, err := NewRect(4, 4, 8, 8) // r.Center() == (6, 6)
func NewRect(x1, y1, x2, y2 float32) (Rect, error) {
	r := Rect{X1: x1, Y1: y1, X2: x2, Y2: y2, Score: 1}
	if err := r.Validate(); err != nil {
		return Rect{}, err
	}
	return r, nil
}

// Validate reports ErrInvalidGeometry when the rectangle is degenerate or carries NaN.
func (r Rect) Validate() error {
	// Written as negations so that NaN coordinates fail as well.
	if !(r.X1 < r.X2) || !(r.Y1 < r.Y2) {
		return errors.Wrapf(common.ErrInvalidGeometry, "rect %s", r.String())
	}
	return nil
}

// Valid is Validate as a boolean.
func (r Rect) Valid() bool {
	return r.Validate() == nil
}

// Width returns X2 - X1.
func (r Rect) Width() float32 {
	return r.X2 - r.X1
}

// Height returns Y2 - Y1.
func (r Rect) Height() float32 {
	return r.Y2 - r.Y1
}

// Area returns Width * Height.
func (r Rect) Area() float32 {
	return r.Width() * r.Height()
}

// Center returns the midpoint of the rectangle.
func (r Rect) Center() (float32, float32) {
	return (r.X1 + r.X2) / 2, (r.Y1 + r.Y2) / 2
}

// Intersects reports whether the two rectangles share a region of positive area.
// Touching edges do not intersect.
func (r Rect) Intersects(o Rect) bool {
	return r.Intersection(o) > 0
}

// Intersection returns the area shared by r and o, or 0.
func (r Rect) Intersection(o Rect) float32 {
	w := math32.Min(r.X2, o.X2) - math32.Max(r.X1, o.X1)
	h := math32.Min(r.Y2, o.Y2) - math32.Max(r.Y1, o.Y1)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU returns the intersection over union of r and o, a value in [0, 1].
func (r Rect) IoU(o Rect) float32 {
	return CalculateIoU(r, o)
}

// CenterDistance returns the Euclidean distance between the centers of r and o.
func (r Rect) CenterDistance(o Rect) float32 {
	rx, ry := r.Center()
	ox, oy := o.Center()
	dx, dy := rx-ox, ry-oy
	return math32.Sqrt(dx*dx + dy*dy)
}

// Translate returns the rectangle moved by (dx, dy).
func (r Rect) Translate(dx, dy float32) Rect {
	r.X1 += dx
	r.X2 += dx
	r.Y1 += dy
	r.Y2 += dy
	return r
}

// ClipTo returns the rectangle clipped to [0, width] x [0, height]. The result may be
// degenerate and must be validated by the caller.
func (r Rect) ClipTo(width, height float32) Rect {
	r.X1 = math32.Max(0, math32.Min(r.X1, width))
	r.X2 = math32.Max(0, math32.Min(r.X2, width))
	r.Y1 = math32.Max(0, math32.Min(r.Y1, height))
	r.Y2 = math32.Max(0, math32.Min(r.Y2, height))
	return r
}

func (r Rect) String() string {
	return fmt.Sprintf("(%.2f, %.2f)-(%.2f, %.2f) score=%.3f class=%d",
		r.X1, r.Y1, r.X2, r.Y2, r.Score, r.Class)
}

// CalculateIoU measures how much two rectangles overlap:
//
//	IoU = Area of Intersection / Area of Union
//
// 1 means identical rectangles, 0 means no overlap. The union uses
// inclusion-exclusion so the shared region is not counted twice.
//
// Arguments:
//   - r: The first rectangle.
//   - o: The other rectangle to compare against.
//
// Returns:
//   - float32: A value between 0.0 and 1.0.
//
// @example
// rect1 := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
// rect2 := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
// CalculateIoU(rect1, rect2) // 25 / 175 = 0.142857
func CalculateIoU(r, o Rect) float32 {
	inter := r.Intersection(o)
	if inter == 0 {
		return 0
	}
	union := r.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
