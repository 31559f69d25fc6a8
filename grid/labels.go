package grid

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-tensorbox/common"
)

// MakeClassVector returns the one-hot vector of length numClasses with position flag
// set to 1.
//
// Returns:
//   - []float32: The one-hot vector.
//   - error: ErrInvalidLabel if flag is outside [0, numClasses).
//
// @example
// v, _ := MakeClassVector(1, 2) // [0, 1]
func MakeClassVector(flag, numClasses int) ([]float32, error) {
	if numClasses <= 0 {
		return nil, errors.Wrapf(common.ErrInvalidParameter, "num_classes %d", numClasses)
	}
	if flag < 0 || flag >= numClasses {
		return nil, errors.Wrapf(common.ErrInvalidLabel, "flag %d outside [0, %d)", flag, numClasses)
	}
	v := make([]float32, numClasses)
	v[flag] = 1
	return v, nil
}

// ConfidenceLabels builds the cellCount x numClasses one-hot training labels from the
// slot-0 occupancy flag of every cell.
func ConfidenceLabels(flags *tensor.Dense, cfg Config) (*tensor.Dense, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	flagData, err := Float32s(flags, cfg.FlagShape()...)
	if err != nil {
		return nil, err
	}

	labels := NewTensor(cfg.LabelShape()...)
	data := labels.Data().([]float32)
	for cell := 0; cell < cfg.CellCount(); cell++ {
		flag := 0
		if flagData[cell*cfg.SlotCount] >= 0.5 {
			flag = 1
		}
		v, err := MakeClassVector(flag, cfg.NumClasses)
		if err != nil {
			return nil, err
		}
		copy(data[cell*cfg.NumClasses:], v)
	}
	return labels, nil
}
