package common

import "fmt"

// BoundingBox is one record of the prediction output: a detection in original
// image pixel coordinates.
type BoundingBox struct {
	X1    float32 `json:"x1"    yaml:"x1"`
	Y1    float32 `json:"y1"    yaml:"y1"`
	X2    float32 `json:"x2"    yaml:"x2"`
	Y2    float32 `json:"y2"    yaml:"y2"`
	Score float32 `json:"score" yaml:"score"`
}

func (b *BoundingBox) String() string {
	return fmt.Sprintf("Object (confidence %f): (%f, %f), (%f, %f)",
		b.Score, b.X1, b.Y1, b.X2, b.Y2)
}

// FilterByScore returns the boxes whose score is strictly above minConf, in order.
func FilterByScore(boxes []BoundingBox, minConf float32) []BoundingBox {
	out := make([]BoundingBox, 0, len(boxes))
	for _, b := range boxes {
		if b.Score > minConf {
			out = append(out, b)
		}
	}
	return out
}

// Diameter estimates the size of a round object enclosed by the box: the mean of its
// half width and half height, multiplied by scale (world units per pixel).
func (b *BoundingBox) Diameter(scale float32) float32 {
	return ((b.X2-b.X1)/2 + (b.Y2-b.Y1)/2) / 2 * scale
}
