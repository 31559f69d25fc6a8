// Package inference - Prediction service around an opaque grid detector model.
package inference

import (
	"context"

	"gorgonia.org/tensor"
)

// Outputs holds the raw model outputs for one image.
type Outputs struct {
	// Boxes holds cell-relative box offsets, gridHeight x gridWidth x slotCount x 4.
	Boxes *tensor.Dense
	// Confidences holds class probabilities, cellCount x slotCount x numClasses.
	Confidences *tensor.Dense
	// RezoomLogits holds the rezoom layer's unnormalized class scores with the shape of
	// Confidences. Only read when rezoom is enabled.
	RezoomLogits *tensor.Dense
	// BoxDeltas holds the rezoom re-regression offsets with the shape of Boxes. Only
	// read when rezoom and reregress are enabled.
	BoxDeltas *tensor.Dense
}

// Model is a trained detector that maps an imageHeight x imageWidth x 3 input to
// per-cell outputs.
type Model interface {
	Predict(ctx context.Context, input *tensor.Dense) (*Outputs, error)
	Close() error
}
