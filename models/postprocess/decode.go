package postprocess

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-tensorbox/grid"
)

// Candidates flattens the model outputs into one candidate per cell slot.
//
// A slot's score is its best non-background class probability (index 0 is
// background); Class is that index. Boxes are decoded from their cell-relative
// offsets into model input coordinates. Slots with degenerate boxes are skipped.
//
// Arguments:
//   - boxes: gridHeight x gridWidth x slotCount x 4 (or cellCount x slotCount x 4) offsets.
//   - confidences: cellCount x slotCount x numClasses class probabilities.
//   - cfg: The grid geometry.
//
// Returns:
//   - []Result: Candidates in flat index order.
//   - error: ErrInvalidParameter for bad configurations or shapes.
func Candidates(boxes, confidences *tensor.Dense, cfg grid.Config) ([]Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	boxData, err := grid.Float32s(boxes, cfg.BoxShape()...)
	if err != nil {
		return nil, errors.Wrap(err, "boxes")
	}
	confData, err := grid.Float32s(confidences, cfg.ConfidenceShape()...)
	if err != nil {
		return nil, errors.Wrap(err, "confidences")
	}

	results := make([]Result, 0, cfg.CellCount()*cfg.SlotCount)
	for row := 0; row < cfg.GridHeight; row++ {
		for col := 0; col < cfg.GridWidth; col++ {
			cell := cfg.CellIndex(row, col)
			for slot := 0; slot < cfg.SlotCount; slot++ {
				idx := cell*cfg.SlotCount + slot
				probs := confData[idx*cfg.NumClasses : (idx+1)*cfg.NumClasses]
				class, score := 1, probs[1]
				for c := 2; c < cfg.NumClasses; c++ {
					if probs[c] > score {
						class, score = c, probs[c]
					}
				}

				box := cfg.DecodeOffset(boxData[idx*grid.BoxDims:(idx+1)*grid.BoxDims], row, col)
				if !box.Valid() {
					continue
				}
				box.Score, box.Class = score, class
				results = append(results, Result{Box: box, Score: score, Class: class, Index: idx, Members: 1})
			}
		}
	}
	return results, nil
}

// Decode flattens the model outputs and stitches them.
func Decode(boxes, confidences *tensor.Dense, cfg grid.Config, config StitchConfig) (*Output, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	candidates, err := Candidates(boxes, confidences, cfg)
	if err != nil {
		return nil, err
	}
	return Stitch(candidates, config)
}

// Softmax normalizes cellCount x slotCount x numClasses logits over the class axis.
func Softmax(logits *tensor.Dense, cfg grid.Config) (*tensor.Dense, error) {
	data, err := grid.Float32s(logits, cfg.ConfidenceShape()...)
	if err != nil {
		return nil, err
	}
	out := grid.NewTensor(cfg.ConfidenceShape()...)
	probs := out.Data().([]float32)

	for off := 0; off < len(data); off += cfg.NumClasses {
		row := data[off : off+cfg.NumClasses]
		top := row[0]
		for _, v := range row[1:] {
			top = math32.Max(top, v)
		}
		var sum float32
		for c, v := range row {
			e := math32.Exp(v - top)
			probs[off+c] = e
			sum += e
		}
		for c := range row {
			probs[off+c] /= sum
		}
	}
	return out, nil
}

// AddBoxDeltas returns boxes + deltas, the rezoom re-regression of predicted boxes.
func AddBoxDeltas(boxes, deltas *tensor.Dense, cfg grid.Config) (*tensor.Dense, error) {
	boxData, err := grid.Float32s(boxes, cfg.BoxShape()...)
	if err != nil {
		return nil, errors.Wrap(err, "boxes")
	}
	deltaData, err := grid.Float32s(deltas, cfg.BoxShape()...)
	if err != nil {
		return nil, errors.Wrap(err, "box deltas")
	}

	out := grid.NewTensor(cfg.BoxShape()...)
	sum := out.Data().([]float32)
	for i := range boxData {
		sum[i] = boxData[i] + deltaData[i]
	}
	return out, nil
}
