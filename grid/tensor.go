package grid

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-tensorbox/common"
)

// NewTensor allocates a zero filled float32 tensor of the given shape.
func NewTensor(shape ...int) *tensor.Dense {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(make([]float32, n)))
}

// Float32s returns the backing slice of a float32 tensor after checking that it has
// the expected number of elements. Tensors of shape (a, b, c) and (a*b, c) are
// interchangeable, only the volume is enforced.
//
// Arguments:
//   - t: The tensor to read.
//   - shape: The expected shape.
//
// Returns:
//   - []float32: The row-major backing data (not a copy).
//   - error: ErrInvalidParameter for nil tensors, other dtypes or wrong volumes.
func Float32s(t *tensor.Dense, shape ...int) ([]float32, error) {
	if t == nil {
		return nil, errors.Wrap(common.ErrInvalidParameter, "nil tensor")
	}
	if t.Dtype() != tensor.Float32 {
		return nil, errors.Wrapf(common.ErrInvalidParameter, "tensor dtype %v, want float32", t.Dtype())
	}
	want := 1
	for _, d := range shape {
		want *= d
	}
	data, ok := t.Data().([]float32)
	if !ok || len(data) != want {
		return nil, errors.Wrapf(common.ErrInvalidParameter, "tensor shape %v, want %v", t.Shape(), shape)
	}
	return data, nil
}
