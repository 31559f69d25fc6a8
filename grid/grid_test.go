package grid

import (
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-tensorbox/common"
	"github.com/nvr-ai/go-tensorbox/images"
)

func smallConfig(slots int) Config {
	return Config{
		ImageWidth:  20,
		ImageHeight: 20,
		GridWidth:   2,
		GridHeight:  2,
		RegionSize:  10,
		SlotCount:   slots,
		NumClasses:  2,
	}
}

func rect(x1, y1, x2, y2 float32) images.Rect {
	return images.Rect{X1: x1, Y1: y1, X2: x2, Y2: y2, Score: 1}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, smallConfig(1).Validate())

	mutations := map[string]func(*Config){
		"image width":  func(c *Config) { c.ImageWidth = 0 },
		"image height": func(c *Config) { c.ImageHeight = -1 },
		"grid width":   func(c *Config) { c.GridWidth = 0 },
		"grid height":  func(c *Config) { c.GridHeight = 0 },
		"region size":  func(c *Config) { c.RegionSize = 0 },
		"slot count":   func(c *Config) { c.SlotCount = 0 },
		"num classes":  func(c *Config) { c.NumClasses = 1 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := smallConfig(1)
			mutate(&cfg)
			assert.True(t, errors.Is(cfg.Validate(), common.ErrInvalidParameter))
		})
	}
}

func TestEncodeSingleRect(t *testing.T) {
	cfg := smallConfig(1)
	enc, err := Encode([]images.Rect{rect(4, 4, 8, 8)}, cfg)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2, 1, 4}, []int(enc.Boxes.Shape()))
	assert.Equal(t, []int{2, 2, 1, 1}, []int(enc.Flags.Shape()))

	flag, err := enc.Flags.At(0, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, float32(1), flag)
	for _, cell := range [][2]int{{0, 1}, {1, 0}, {1, 1}} {
		v, err := enc.Flags.At(cell[0], cell[1], 0, 0)
		require.NoError(t, err)
		assert.Equal(t, float32(0), v, "cell %v", cell)
	}

	boxes := enc.Boxes.Data().([]float32)
	assert.Equal(t, []float32{1, 1, 4, 4}, boxes[:4])

	decoded, err := Decode(enc.Boxes, enc.Flags, cfg)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, rect(4, 4, 8, 8), decoded[0])
}

func TestCellBoundaryUsesFloor(t *testing.T) {
	cfg := smallConfig(1)

	// Center (10, 5) lies on the boundary between columns 0 and 1.
	row, col, ok := cfg.CellOf(rect(8, 3, 12, 7))
	require.True(t, ok)
	assert.Equal(t, 0, row)
	assert.Equal(t, 1, col)

	// Center (9.999, 9.999) stays in cell (0, 0).
	row, col, ok = cfg.CellOf(rect(8, 8, 11.998, 11.998))
	require.True(t, ok)
	assert.Equal(t, 0, row)
	assert.Equal(t, 0, col)
}

func TestEncodeDropsOutOfRange(t *testing.T) {
	cfg := smallConfig(2)
	rects := []images.Rect{
		rect(-8, 2, -2, 6),  // center x = -5
		rect(18, 18, 24, 24), // center (21, 21)
		rect(2, 2, 6, 6),
		{X1: 5, Y1: 5, X2: 5, Y2: 9}, // degenerate
	}
	enc, err := Encode(rects, cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, enc.OutOfRange)
	assert.Equal(t, 0, enc.Saturated)

	decoded, err := Decode(enc.Boxes, enc.Flags, cfg)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, rect(2, 2, 6, 6), decoded[0])
}

func TestEncodeDecodeSetEquivalence(t *testing.T) {
	cfg := Config{
		ImageWidth: 64, ImageHeight: 48, GridWidth: 4, GridHeight: 3,
		RegionSize: 16, SlotCount: 3, NumClasses: 2,
	}
	rects := []images.Rect{
		rect(1, 1, 9, 11),
		rect(2.5, 3.25, 12, 14),
		rect(0, 0, 30, 30),
		rect(40, 20, 60, 44),
		rect(17, 33, 31, 47),
		rect(50.5, 1, 63.5, 7),
	}

	enc, err := Encode(rects, cfg)
	require.NoError(t, err)
	require.Equal(t, 0, enc.Saturated)

	decoded, err := Decode(enc.Boxes, enc.Flags, cfg)
	require.NoError(t, err)
	require.Len(t, decoded, len(rects))

	sortRects(rects)
	sortRects(decoded)
	for i := range rects {
		assert.InDelta(t, rects[i].X1, decoded[i].X1, 1e-4)
		assert.InDelta(t, rects[i].Y1, decoded[i].Y1, 1e-4)
		assert.InDelta(t, rects[i].X2, decoded[i].X2, 1e-4)
		assert.InDelta(t, rects[i].Y2, decoded[i].Y2, 1e-4)
	}
}

func sortRects(rs []images.Rect) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].X1 != rs[j].X1 {
			return rs[i].X1 < rs[j].X1
		}
		return rs[i].Y1 < rs[j].Y1
	})
}

func TestSaturationKeepsFirstSeen(t *testing.T) {
	cfg := smallConfig(2)
	rects := []images.Rect{
		rect(1, 1, 5, 5),
		rect(2, 2, 6, 6),
		rect(3, 3, 7, 7),
		rect(4, 4, 8, 8),
	}

	first, err := Encode(rects, cfg)
	require.NoError(t, err)
	second, err := Encode(rects, cfg)
	require.NoError(t, err)

	assert.Equal(t, 2, first.Saturated)
	assert.Equal(t, first.Boxes.Data(), second.Boxes.Data())
	assert.Equal(t, first.Flags.Data(), second.Flags.Data())

	decoded, err := Decode(first.Boxes, first.Flags, cfg)
	require.NoError(t, err)
	assert.Equal(t, []images.Rect{rect(1, 1, 5, 5), rect(2, 2, 6, 6)}, decoded)
}

func TestDecodeShapeMismatch(t *testing.T) {
	cfg := smallConfig(1)
	enc, err := Encode(nil, cfg)
	require.NoError(t, err)

	_, err = Decode(NewTensor(2, 2, 2, 4), enc.Flags, cfg)
	assert.True(t, errors.Is(err, common.ErrInvalidParameter))

	_, err = Decode(enc.Boxes, nil, cfg)
	assert.True(t, errors.Is(err, common.ErrInvalidParameter))
}

func TestMakeClassVector(t *testing.T) {
	v, err := MakeClassVector(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, v)

	v, err = MakeClassVector(1, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, v)

	v, err = MakeClassVector(2, 4)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1, 0}, v)

	for _, flag := range []int{-1, 2} {
		_, err = MakeClassVector(flag, 2)
		assert.True(t, errors.Is(err, common.ErrInvalidLabel), "flag %d", flag)
	}
}

func TestConfidenceLabels(t *testing.T) {
	cfg := smallConfig(1)
	enc, err := Encode([]images.Rect{rect(4, 4, 8, 8), rect(14, 14, 18, 18)}, cfg)
	require.NoError(t, err)

	labels, err := ConfidenceLabels(enc.Flags, cfg)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2}, []int(labels.Shape()))
	assert.Equal(t, []float32{
		0, 1, // cell (0, 0)
		1, 0,
		1, 0,
		0, 1, // cell (1, 1)
	}, labels.Data())
}
