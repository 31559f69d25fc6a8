// Package grid - Dense per-cell tensor encoding of sparse rectangle lists.
//
// An image of ImageWidth x ImageHeight pixels is divided into GridWidth x GridHeight
// cells of RegionSize pixels. Every cell holds SlotCount box slots; a slot carries a
// box offset (cx - refX, cy - refY, width, height) relative to the cell center and an
// occupancy flag.
package grid

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-tensorbox/common"
	"github.com/nvr-ai/go-tensorbox/images"
)

// BoxDims is the number of values stored per box slot.
const BoxDims = 4

// Config describes the grid geometry shared by the encoder, the decoder and the model.
type Config struct {
	// ImageWidth is the model input width in pixels.
	ImageWidth int `json:"image_width"  yaml:"image_width"`
	// ImageHeight is the model input height in pixels.
	ImageHeight int `json:"image_height" yaml:"image_height"`
	// GridWidth is the number of cell columns.
	GridWidth int `json:"grid_width"   yaml:"grid_width"`
	// GridHeight is the number of cell rows.
	GridHeight int `json:"grid_height"  yaml:"grid_height"`
	// RegionSize is the side of one cell in pixels.
	RegionSize int `json:"region_size"  yaml:"region_size"`
	// SlotCount is the maximum number of rectangles one cell can represent (rnn_len).
	SlotCount int `json:"rnn_len"      yaml:"rnn_len"`
	// NumClasses is the number of confidence classes, background included.
	NumClasses int `json:"num_classes"  yaml:"num_classes"`
}

// Validate reports ErrInvalidParameter for non-positive dimensions, slot counts or
// fewer than two classes.
func (c Config) Validate() error {
	fields := []struct {
		name  string
		value int
	}{
		{"image_width", c.ImageWidth},
		{"image_height", c.ImageHeight},
		{"grid_width", c.GridWidth},
		{"grid_height", c.GridHeight},
		{"region_size", c.RegionSize},
		{"rnn_len", c.SlotCount},
	}
	for _, f := range fields {
		if f.value <= 0 {
			return errors.Wrapf(common.ErrInvalidParameter, "%s must be positive, got %d", f.name, f.value)
		}
	}
	if c.NumClasses < 2 {
		return errors.Wrapf(common.ErrInvalidParameter, "num_classes must be at least 2, got %d", c.NumClasses)
	}
	return nil
}

// CellCount returns GridWidth * GridHeight.
func (c Config) CellCount() int {
	return c.GridWidth * c.GridHeight
}

// ImageSize returns the model input resolution.
func (c Config) ImageSize() images.Size {
	return images.Size{Width: c.ImageWidth, Height: c.ImageHeight}
}

// CellIndex returns the flat index of the cell at (row, col).
func (c Config) CellIndex(row, col int) int {
	return row*c.GridWidth + col
}

// BoxShape returns gridHeight x gridWidth x slotCount x 4.
func (c Config) BoxShape() []int {
	return []int{c.GridHeight, c.GridWidth, c.SlotCount, BoxDims}
}

// FlagShape returns gridHeight x gridWidth x slotCount x 1.
func (c Config) FlagShape() []int {
	return []int{c.GridHeight, c.GridWidth, c.SlotCount, 1}
}

// LabelShape returns cellCount x numClasses.
func (c Config) LabelShape() []int {
	return []int{c.CellCount(), c.NumClasses}
}

// ConfidenceShape returns cellCount x slotCount x numClasses.
func (c Config) ConfidenceShape() []int {
	return []int{c.CellCount(), c.SlotCount, c.NumClasses}
}
