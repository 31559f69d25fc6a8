package grid

import (
	"github.com/chewxy/math32"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-tensorbox/images"
)

// Encoding is the dense representation of one annotation.
type Encoding struct {
	// Boxes has shape gridHeight x gridWidth x slotCount x 4.
	Boxes *tensor.Dense
	// Flags has shape gridHeight x gridWidth x slotCount x 1, 1 for occupied slots.
	Flags *tensor.Dense
	// Saturated counts rectangles dropped because their cell had no free slot.
	Saturated int
	// OutOfRange counts rectangles dropped because their center fell outside the grid.
	OutOfRange int
}

// CellOf returns the cell whose region contains the center of r, using
// floor(center / regionSize). A center exactly on a boundary belongs to the cell
// with the higher index.
//
// Returns:
//   - row, col: The cell coordinates.
//   - ok: false if the center lies outside the grid.
func (c Config) CellOf(r images.Rect) (row, col int, ok bool) {
	cx, cy := r.Center()
	region := float32(c.RegionSize)
	col = int(math32.Floor(cx / region))
	row = int(math32.Floor(cy / region))
	if math32.IsNaN(cx) || math32.IsNaN(cy) ||
		col < 0 || col >= c.GridWidth || row < 0 || row >= c.GridHeight {
		return 0, 0, false
	}
	return row, col, true
}

// CellReference returns the reference point (the cell center) that box offsets in
// cell (row, col) are relative to.
func (c Config) CellReference(row, col int) (float32, float32) {
	region := float32(c.RegionSize)
	return (float32(col) + 0.5) * region, (float32(row) + 0.5) * region
}

// EncodeOffset returns the box values stored for r in cell (row, col).
func (c Config) EncodeOffset(r images.Rect, row, col int) [BoxDims]float32 {
	refX, refY := c.CellReference(row, col)
	cx, cy := r.Center()
	return [BoxDims]float32{cx - refX, cy - refY, r.Width(), r.Height()}
}

// DecodeOffset reconstructs the absolute rectangle for box values stored in cell
// (row, col). The result is not validated.
func (c Config) DecodeOffset(box []float32, row, col int) images.Rect {
	refX, refY := c.CellReference(row, col)
	cx, cy := refX+box[0], refY+box[1]
	w, h := box[2], box[3]
	return images.Rect{X1: cx - w/2, Y1: cy - h/2, X2: cx + w/2, Y2: cy + h/2}
}

// Encode converts a sparse rectangle list into the dense per-cell tensors.
//
// Rectangles are assigned to the cell containing their center and packed into the
// next free slot. When a cell saturates, the first SlotCount rectangles in input order
// are kept and the rest are dropped; rectangles centered outside the grid are dropped
// as well. Both are counted on the returned Encoding. Invalid rectangles are dropped
// as out of range.
//
// Arguments:
//   - rects: The rectangles in model input coordinates.
//   - cfg: The grid geometry.
//
// Returns:
//   - *Encoding: The box and flag tensors.
//   - error: ErrInvalidParameter for an invalid configuration.
//
// @example
// cfg := Config{ImageWidth: 20, ImageHeight: 20, GridWidth: 2, GridHeight: 2, RegionSize: 10, SlotCount: 1, NumClasses: 2}
// enc, _ := Encode([]images.Rect{{X1: 4, Y1: 4, X2: 8, Y2: 8}}, cfg)
// // flag at cell (0, 0) slot 0 is 1, box is (1, 1, 4, 4)
func Encode(rects []images.Rect, cfg Config) (*Encoding, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	enc := &Encoding{
		Boxes: NewTensor(cfg.BoxShape()...),
		Flags: NewTensor(cfg.FlagShape()...),
	}
	boxes := enc.Boxes.Data().([]float32)
	flags := enc.Flags.Data().([]float32)
	used := make([]int, cfg.CellCount())

	for _, r := range rects {
		if !r.Valid() {
			enc.OutOfRange++
			continue
		}
		row, col, ok := cfg.CellOf(r)
		if !ok {
			enc.OutOfRange++
			continue
		}
		cell := cfg.CellIndex(row, col)
		slot := used[cell]
		if slot >= cfg.SlotCount {
			enc.Saturated++
			continue
		}
		used[cell]++

		slotIdx := cell*cfg.SlotCount + slot
		offset := cfg.EncodeOffset(r, row, col)
		copy(boxes[slotIdx*BoxDims:(slotIdx+1)*BoxDims], offset[:])
		flags[slotIdx] = 1
	}

	return enc, nil
}

// Decode is the structural inverse of Encode: it returns the absolute rectangle of
// every occupied slot (flag >= 0.5), in cell-major, slot-minor order. Slots whose
// stored box is degenerate are skipped.
//
// Arguments:
//   - boxes: A gridHeight x gridWidth x slotCount x 4 tensor.
//   - flags: A gridHeight x gridWidth x slotCount x 1 tensor.
//   - cfg: The grid geometry.
//
// Returns:
//   - []images.Rect: The rectangles, with Score set to the flag value.
//   - error: ErrInvalidParameter for an invalid configuration or mismatched shapes.
func Decode(boxes, flags *tensor.Dense, cfg Config) ([]images.Rect, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	boxData, err := Float32s(boxes, cfg.BoxShape()...)
	if err != nil {
		return nil, err
	}
	flagData, err := Float32s(flags, cfg.FlagShape()...)
	if err != nil {
		return nil, err
	}

	var rects []images.Rect
	for row := 0; row < cfg.GridHeight; row++ {
		for col := 0; col < cfg.GridWidth; col++ {
			cell := cfg.CellIndex(row, col)
			for slot := 0; slot < cfg.SlotCount; slot++ {
				slotIdx := cell*cfg.SlotCount + slot
				if flagData[slotIdx] < 0.5 {
					continue
				}
				r := cfg.DecodeOffset(boxData[slotIdx*BoxDims:(slotIdx+1)*BoxDims], row, col)
				if !r.Valid() {
					continue
				}
				r.Score = flagData[slotIdx]
				rects = append(rects, r)
			}
		}
	}
	return rects, nil
}
