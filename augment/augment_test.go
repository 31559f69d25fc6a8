package augment

import (
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-tensorbox/annotations"
	"github.com/nvr-ai/go-tensorbox/common"
	"github.com/nvr-ai/go-tensorbox/grid"
	"github.com/nvr-ai/go-tensorbox/images"
	"github.com/nvr-ai/go-tensorbox/util"
)

func smallGrid() grid.Config {
	return grid.Config{
		ImageWidth:  20,
		ImageHeight: 20,
		GridWidth:   2,
		GridHeight:  2,
		RegionSize:  10,
		SlotCount:   1,
		NumClasses:  2,
	}
}

// memoryLoader serves solid images of fixed sizes and fails for unknown paths.
func memoryLoader(sizes map[string]images.Size) util.ImageLoader {
	return util.ImageLoaderFunc(func(path string) (image.Image, error) {
		size, ok := sizes[path]
		if !ok {
			return nil, errors.Wrapf(fs.ErrNotExist, "no such image %s", path)
		}
		return imaging.New(size.Width, size.Height, color.White), nil
	})
}

func dataset(n int) ([]annotations.Annotation, map[string]images.Size) {
	annos := make([]annotations.Annotation, n)
	sizes := make(map[string]images.Size, n)
	for i := range annos {
		name := fmt.Sprintf("img-%02d.png", i)
		annos[i] = annotations.Annotation{
			ImagePath: name,
			Rects:     []images.Rect{{X1: 2, Y1: 2, X2: 9, Y2: 9, Score: 1}, {X1: 11, Y1: 12, X2: 19, Y2: 18, Score: 1}},
		}
		sizes[name] = images.Size{Width: 20, Height: 20}
	}
	return annos, sizes
}

func pullNames(t *testing.T, s *Stream, n int) []string {
	t.Helper()
	names := make([]string, n)
	for i := range names {
		sample, err := s.Next()
		require.NoError(t, err)
		names[i] = sample.ImageName
	}
	return names
}

func TestNewStreamErrors(t *testing.T) {
	annos, _ := dataset(2)

	_, err := NewStream(nil, smallGrid(), Options{})
	assert.True(t, errors.Is(err, common.ErrInvalidParameter))

	bad := smallGrid()
	bad.RegionSize = 0
	_, err = NewStream(annos, bad, Options{})
	assert.True(t, errors.Is(err, common.ErrInvalidParameter))

	_, err = NewStream(annos, smallGrid(), Options{Jitter: &JitterOptions{MinScale: 1.2, MaxScale: 1.1}})
	assert.True(t, errors.Is(err, common.ErrInvalidParameter))

	_, err = NewStream(annos, smallGrid(), Options{Jitter: &JitterOptions{MinScale: 1, MaxScale: 1, FlipProb: 2}})
	assert.True(t, errors.Is(err, common.ErrInvalidParameter))
}

func TestStreamReproducible(t *testing.T) {
	annos, sizes := dataset(8)
	jitter := DefaultJitter()
	opts := Options{Seed: 42, Jitter: &jitter, Loader: memoryLoader(sizes)}

	a, err := NewStream(annos, smallGrid(), opts)
	require.NoError(t, err)
	b, err := NewStream(annos, smallGrid(), opts)
	require.NoError(t, err)

	for i := 0; i < 24; i++ {
		sa, err := a.Next()
		require.NoError(t, err)
		sb, err := b.Next()
		require.NoError(t, err)
		assert.Equal(t, sa.ImageName, sb.ImageName)
		assert.Equal(t, sa.Rects, sb.Rects)
		assert.Equal(t, sa.Boxes.Data(), sb.Boxes.Data())
	}

	opts.Seed = 43
	c, err := NewStream(annos, smallGrid(), opts)
	require.NoError(t, err)
	a, err = NewStream(annos, smallGrid(), Options{Seed: 42, Loader: memoryLoader(sizes)})
	require.NoError(t, err)
	assert.NotEqual(t, pullNames(t, a, 24), pullNames(t, c, 24))
}

func TestStreamVisitsEveryAnnotationOncePerPass(t *testing.T) {
	annos, sizes := dataset(7)
	s, err := NewStream(annos, smallGrid(), Options{Seed: 3, Loader: memoryLoader(sizes)})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Pass())

	var want []string
	for _, a := range annos {
		want = append(want, a.ImagePath)
	}
	for pass := 1; pass <= 3; pass++ {
		got := pullNames(t, s, len(annos))
		sort.Strings(got)
		assert.Equal(t, want, got, "pass %d", pass)
		assert.Equal(t, pass, s.Pass())
	}
}

func TestStreamWithoutJitterPassesThrough(t *testing.T) {
	pixels := imaging.New(20, 20, color.White)
	rects := []images.Rect{{X1: 4, Y1: 4, X2: 8, Y2: 8, Score: 1}}
	annos := []annotations.Annotation{{ImagePath: "a.png", Rects: rects}}
	loader := util.ImageLoaderFunc(func(string) (image.Image, error) { return pixels, nil })

	s, err := NewStream(annos, smallGrid(), Options{Loader: loader})
	require.NoError(t, err)
	sample, err := s.Next()
	require.NoError(t, err)

	assert.Same(t, pixels, sample.Image)
	assert.Equal(t, rects, sample.Rects)

	flags := sample.Flags.Data().([]float32)
	assert.Equal(t, []float32{1, 0, 0, 0}, flags)
	assert.Equal(t, []float32{0, 1, 1, 0, 1, 0, 1, 0}, sample.Confs.Data().([]float32))

	decoded, err := grid.Decode(sample.Boxes, sample.Flags, smallGrid())
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, float32(4), decoded[0].X1)
	assert.Equal(t, float32(4), decoded[0].Y1)
	assert.Equal(t, float32(8), decoded[0].X2)
	assert.Equal(t, float32(8), decoded[0].Y2)
}

func TestStreamRescalesToModelResolution(t *testing.T) {
	annos := []annotations.Annotation{{
		ImagePath: "wide.png",
		Rects:     []images.Rect{{X1: 8, Y1: 4, X2: 16, Y2: 8, Score: 1}},
	}}
	loader := memoryLoader(map[string]images.Size{"wide.png": {Width: 40, Height: 20}})

	s, err := NewStream(annos, smallGrid(), Options{Loader: loader})
	require.NoError(t, err)
	sample, err := s.Next()
	require.NoError(t, err)

	assert.Equal(t, images.Size{Width: 20, Height: 20}, images.SizeOf(sample.Image))
	require.Len(t, sample.Rects, 1)
	assert.InDelta(t, 4, sample.Rects[0].X1, 1e-5)
	assert.InDelta(t, 8, sample.Rects[0].X2, 1e-5)
	assert.Equal(t, float32(8), annos[0].Rects[0].X1, "input annotations are not modified")
}

func TestStreamSurfacesLoadFailure(t *testing.T) {
	annos, sizes := dataset(4)
	delete(sizes, annos[2].ImagePath)

	s, err := NewStream(annos, smallGrid(), Options{Seed: 9, Loader: memoryLoader(sizes)})
	require.NoError(t, err)

	for pass := 0; pass < 2; pass++ {
		failures := 0
		for i := 0; i < len(annos); i++ {
			_, err := s.Next()
			if err != nil {
				assert.True(t, errors.Is(err, common.ErrImageLoadFailure))
				assert.True(t, errors.Is(err, fs.ErrNotExist))
				failures++
			}
		}
		assert.Equal(t, 1, failures, "pass %d", pass)
	}
}

func TestJitterKeepsRectanglesValid(t *testing.T) {
	annos := []annotations.Annotation{{
		ImagePath: "edge.png",
		Rects: []images.Rect{
			{X1: 0, Y1: 0, X2: 2, Y2: 2, Score: 1},
			{X1: 18, Y1: 18, X2: 20, Y2: 20, Score: 1},
			{X1: 0, Y1: 9, X2: 20, Y2: 11, Score: 1},
			{X1: 5, Y1: 5, X2: 15, Y2: 15, Score: 1},
		},
	}}
	loader := memoryLoader(map[string]images.Size{"edge.png": {Width: 20, Height: 20}})
	jitter := JitterOptions{MinScale: 0.5, MaxScale: 1.5, MaxTranslate: 15, FlipProb: 0.5}

	s, err := NewStream(annos, smallGrid(), Options{Seed: 1, Jitter: &jitter, Loader: loader})
	require.NoError(t, err)

	for i := 0; i < 500; i++ {
		sample, err := s.Next()
		require.NoError(t, err)
		assert.Equal(t, images.Size{Width: 20, Height: 20}, images.SizeOf(sample.Image))
		for _, r := range sample.Rects {
			require.NoError(t, r.Validate())
			assert.True(t, r.X1 >= 0 && r.Y1 >= 0 && r.X2 <= 20 && r.Y2 <= 20, "rect %s", r)
		}
	}
}

func TestJitterFlip(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}
	blue := color.NRGBA{B: 255, A: 255}
	img := imaging.New(20, 10, red)
	img = imaging.Paste(img, imaging.New(10, 10, blue), image.Pt(10, 0))

	opts := JitterOptions{MinScale: 1, MaxScale: 1, FlipProb: 1}
	rects := []images.Rect{{X1: 2, Y1: 3, X2: 6, Y2: 8, Score: 0.5}}
	out, got, dropped := Jitter(img, rects, opts, rand.New(rand.NewPCG(1, 1)))

	assert.Equal(t, 0, dropped)
	require.Len(t, got, 1)
	assert.Equal(t, images.Rect{X1: 14, Y1: 3, X2: 18, Y2: 8, Score: 0.5}, got[0])
	assert.Equal(t, float32(2), rects[0].X1)

	assert.Equal(t, blue, color.NRGBAModel.Convert(out.At(0, 5)))
	assert.Equal(t, red, color.NRGBAModel.Convert(out.At(19, 5)))
}

func TestJitterTranslateMovesPixelsAndRects(t *testing.T) {
	img := imaging.New(20, 20, color.Black)
	img = imaging.Paste(img, imaging.New(4, 4, color.White), image.Pt(8, 8))
	rects := []images.Rect{{X1: 8, Y1: 8, X2: 12, Y2: 12}}
	opts := JitterOptions{MinScale: 1, MaxScale: 1, MaxTranslate: 5}

	rng := rand.New(rand.NewPCG(5, 5))
	for i := 0; i < 50; i++ {
		out, got, dropped := Jitter(img, rects, opts, rng)
		require.Equal(t, 0, dropped)
		require.Len(t, got, 1)

		r := got[0]
		assert.Equal(t, float32(4), r.Width())
		assert.Equal(t, float32(4), r.Height())
		assert.LessOrEqual(t, math32Abs(r.X1-8), float32(5))
		assert.LessOrEqual(t, math32Abs(r.Y1-8), float32(5))

		// The white square moves with its rectangle.
		inside := color.NRGBAModel.Convert(out.At(int(r.X1)+1, int(r.Y1)+1)).(color.NRGBA)
		outside := color.NRGBAModel.Convert(out.At(int(r.X1)-1, int(r.Y1)-1)).(color.NRGBA)
		assert.Equal(t, uint8(255), inside.R)
		assert.Equal(t, uint8(0), outside.R)
	}
}

func math32Abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func TestJitterDropsRectanglesPushedOut(t *testing.T) {
	img := imaging.New(20, 20, color.White)
	rects := []images.Rect{{X1: 0, Y1: 0, X2: 3, Y2: 3}, {X1: 17, Y1: 17, X2: 20, Y2: 20}}
	opts := JitterOptions{MinScale: 1, MaxScale: 1, MaxTranslate: 10}

	rng := rand.New(rand.NewPCG(2, 2))
	total := 0
	for i := 0; i < 200; i++ {
		_, got, dropped := Jitter(img, rects, opts, rng)
		assert.Equal(t, len(rects), len(got)+dropped)
		total += dropped
	}
	assert.Positive(t, total)
}

func TestJitterBlurKeepsGeometry(t *testing.T) {
	img := imaging.New(20, 20, color.Black)
	img = imaging.Paste(img, imaging.New(10, 20, color.White), image.Pt(10, 0))
	rects := []images.Rect{{X1: 2, Y1: 2, X2: 12, Y2: 12}}
	opts := JitterOptions{MinScale: 1, MaxScale: 1, MaxBlur: 3}

	rng := rand.New(rand.NewPCG(4, 4))
	softened := false
	for i := 0; i < 20; i++ {
		out, got, dropped := Jitter(img, rects, opts, rng)
		require.Equal(t, 0, dropped)
		assert.Equal(t, rects, got)

		edge := color.NRGBAModel.Convert(out.At(10, 10)).(color.NRGBA)
		if edge.R > 0 && edge.R < 255 {
			softened = true
		}
	}
	assert.True(t, softened)
}
