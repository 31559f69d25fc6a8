package postprocess

import (
	"github.com/chewxy/math32"

	"github.com/nvr-ai/go-tensorbox/images"
)

// OverlapFunc measures how strongly other duplicates anchor. A candidate is
// suppressed (or merged) when the value exceeds tau.
type OverlapFunc func(anchor, other images.Rect) float32

// IoUOverlap is the intersection over union of the two boxes.
func IoUOverlap(anchor, other images.Rect) float32 {
	return images.CalculateIoU(anchor, other)
}

// CenterOverlap is 1 - d/s clamped to [0, 1], where d is the distance between the box
// centers and s is the mean side length of both boxes. Concentric boxes score 1.
func CenterOverlap(anchor, other images.Rect) float32 {
	side := (anchor.Width() + anchor.Height() + other.Width() + other.Height()) / 4
	if side <= 0 {
		return 0
	}
	v := 1 - anchor.CenterDistance(other)/side
	return math32.Max(0, math32.Min(1, v))
}

// CombinedOverlap gates on center distance, then measures IoU. Boxes whose centers are
// further apart than (wa+wb)/1.5 horizontally or (ha+hb)/2 vertically never overlap.
// This is the default metric.
func CombinedOverlap(anchor, other images.Rect) float32 {
	ax, ay := anchor.Center()
	ox, oy := other.Center()
	if math32.Abs(ax-ox) > (anchor.Width()+other.Width())/1.5 {
		return 0
	}
	if math32.Abs(ay-oy) > (anchor.Height()+other.Height())/2 {
		return 0
	}
	return images.CalculateIoU(anchor, other)
}
