// Package postprocess - Turns per-cell model outputs into a de-duplicated detection list.
package postprocess

import "github.com/nvr-ai/go-tensorbox/images"

// Result represents a single candidate or final detection.
type Result struct {
	// The bounding box of the result, in model input coordinates.
	Box images.Rect
	// The confidence score of the result.
	Score float32
	// The predicted class index of the result.
	Class int
	// Index is the flat candidate index, cell*slotCount + slot. It breaks score ties.
	Index int
	// Members is the number of candidates fused into this result (1 if none were).
	Members int
}
