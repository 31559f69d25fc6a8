// Package config - Hyperparameter file loading and validation.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-tensorbox/common"
	"github.com/nvr-ai/go-tensorbox/grid"
)

// Evaluate parametrizes decoding and stitching at prediction time.
type Evaluate struct {
	// MinConf is the minimum confidence for a candidate to be considered.
	MinConf float32 `json:"min_conf" yaml:"min_conf"`
	// Tau is the overlap threshold for suppression and merging.
	Tau float32 `json:"tau"      yaml:"tau"`
	// GPU selects the device of the model runtime; negative means CPU.
	GPU int `json:"gpu"      yaml:"gpu"`
}

// Validate reports ErrInvalidParameter when MinConf or Tau is outside [0, 1].
func (e Evaluate) Validate() error {
	if !(e.MinConf >= 0 && e.MinConf <= 1) {
		return errors.Wrapf(common.ErrInvalidParameter, "min_conf %v outside [0, 1]", e.MinConf)
	}
	if !(e.Tau >= 0 && e.Tau <= 1) {
		return errors.Wrapf(common.ErrInvalidParameter, "tau %v outside [0, 1]", e.Tau)
	}
	return nil
}

// DefaultEvaluate returns the command line defaults of the prediction tool.
func DefaultEvaluate() Evaluate {
	return Evaluate{MinConf: 0.2, Tau: 0.25, GPU: 0}
}

// EvaluateOverrides replaces individual evaluate keys. Nil fields keep the file value.
type EvaluateOverrides struct {
	MinConf *float32
	Tau     *float32
	GPU     *int
}

// Hypes is the validated hyperparameter set.
type Hypes struct {
	Grid     grid.Config
	Evaluate Evaluate
	// UseRezoom selects the rezoom confidence output of the model.
	UseRezoom bool
	// Reregress adds the rezoom box deltas to the predicted boxes.
	Reregress bool
}

// rawHypes mirrors the file. Pointers distinguish absent keys from zero values.
type rawHypes struct {
	ImageWidth  *int         `json:"image_width"  yaml:"image_width"`
	ImageHeight *int         `json:"image_height" yaml:"image_height"`
	GridWidth   *int         `json:"grid_width"   yaml:"grid_width"`
	GridHeight  *int         `json:"grid_height"  yaml:"grid_height"`
	RegionSize  *int         `json:"region_size"  yaml:"region_size"`
	RnnLen      *int         `json:"rnn_len"      yaml:"rnn_len"`
	NumClasses  *int         `json:"num_classes"  yaml:"num_classes"`
	UseRezoom   bool         `json:"use_rezoom"   yaml:"use_rezoom"`
	Reregress   bool         `json:"reregress"    yaml:"reregress"`
	Evaluate    *rawEvaluate `json:"evaluate"     yaml:"evaluate"`
}

type rawEvaluate struct {
	MinConf *float32 `json:"min_conf" yaml:"min_conf"`
	Tau     *float32 `json:"tau"      yaml:"tau"`
	GPU     *int     `json:"gpu"      yaml:"gpu"`
}

// Load reads, overrides and validates the hyperparameter file at path.
//
// Arguments:
//   - path: A ".json", ".yaml" or ".yml" file.
//   - overrides: Optional replacements for evaluate keys; may be nil.
//
// Returns:
//   - *Hypes: The validated hyperparameters.
//   - error: ErrMissingConfigKey for absent keys, ErrInvalidParameter for bad values.
//
// @example
// tau := float32(0.3)
// hypes, err := config.Load("hypes.json", &config.EvaluateOverrides{Tau: &tau})
func Load(path string, overrides *EvaluateOverrides) (*Hypes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read hypes")
	}
	hypes, err := Parse(data, filepath.Ext(path), overrides)
	if err != nil {
		return nil, errors.Wrapf(err, "hypes %s", path)
	}
	return hypes, nil
}

// Parse decodes and validates hyperparameters. ext selects YAML for ".yaml"/".yml"
// and JSON otherwise.
func Parse(data []byte, ext string, overrides *EvaluateOverrides) (*Hypes, error) {
	var raw rawHypes
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrap(err, "decode yaml")
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrap(err, "decode json")
		}
	}
	return raw.resolve(overrides)
}

// requiredKey binds a mandatory integer key to its destination field.
type requiredKey struct {
	key   string
	value *int
	dst   *int
}

func (raw rawHypes) resolve(overrides *EvaluateOverrides) (*Hypes, error) {
	var cfg grid.Config
	required := []requiredKey{
		{"image_width", raw.ImageWidth, &cfg.ImageWidth},
		{"image_height", raw.ImageHeight, &cfg.ImageHeight},
		{"grid_width", raw.GridWidth, &cfg.GridWidth},
		{"grid_height", raw.GridHeight, &cfg.GridHeight},
		{"region_size", raw.RegionSize, &cfg.RegionSize},
		{"rnn_len", raw.RnnLen, &cfg.SlotCount},
		{"num_classes", raw.NumClasses, &cfg.NumClasses},
	}
	for _, r := range required {
		if r.value == nil {
			return nil, errors.Wrapf(common.ErrMissingConfigKey, "%q", r.key)
		}
		*r.dst = *r.value
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eval, err := raw.resolveEvaluate(overrides)
	if err != nil {
		return nil, err
	}

	return &Hypes{
		Grid:      cfg,
		Evaluate:  eval,
		UseRezoom: raw.UseRezoom,
		Reregress: raw.Reregress,
	}, nil
}

// resolveEvaluate applies overrides on top of the file's evaluate block. Without a
// block, all three keys must be overridden.
func (raw rawHypes) resolveEvaluate(overrides *EvaluateOverrides) (Evaluate, error) {
	src := raw.Evaluate
	if src == nil {
		src = &rawEvaluate{}
		if overrides == nil {
			return Evaluate{}, errors.Wrapf(common.ErrMissingConfigKey, "%q", "evaluate")
		}
	}
	merged := *src
	if overrides != nil {
		if overrides.MinConf != nil {
			merged.MinConf = overrides.MinConf
		}
		if overrides.Tau != nil {
			merged.Tau = overrides.Tau
		}
		if overrides.GPU != nil {
			merged.GPU = overrides.GPU
		}
	}

	if merged.MinConf == nil {
		return Evaluate{}, errors.Wrapf(common.ErrMissingConfigKey, "%q", "evaluate.min_conf")
	}
	if merged.Tau == nil {
		return Evaluate{}, errors.Wrapf(common.ErrMissingConfigKey, "%q", "evaluate.tau")
	}
	eval := Evaluate{MinConf: *merged.MinConf, Tau: *merged.Tau, GPU: DefaultEvaluate().GPU}
	if merged.GPU != nil {
		eval.GPU = *merged.GPU
	}
	if err := eval.Validate(); err != nil {
		return Evaluate{}, err
	}
	return eval, nil
}
