package inference

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-tensorbox/common"
	"github.com/nvr-ai/go-tensorbox/config"
	"github.com/nvr-ai/go-tensorbox/images"
	"github.com/nvr-ai/go-tensorbox/models/postprocess"
	"github.com/nvr-ai/go-tensorbox/util"
)

// PredictorOptions configure a Predictor.
type PredictorOptions struct {
	// Loader reads images for HotPredict. Defaults to util.FileLoader.
	Loader util.ImageLoader
	// Logger receives per-prediction debug output.
	Logger *logrus.Entry
	// Overlap replaces the stitching overlap metric.
	Overlap postprocess.OverlapFunc
}

// Predictor turns images into detections with a loaded model. It is created once and
// reused for many predictions.
type Predictor struct {
	hypes   *config.Hypes
	model   Model
	loader  util.ImageLoader
	logger  *logrus.Entry
	overlap postprocess.OverlapFunc
}

// NewPredictor binds a model to its hyperparameters.
//
// Arguments:
//   - hypes: The validated hyperparameters, including the evaluate options.
//   - model: The loaded model. The predictor takes ownership and closes it in Close.
//   - opts: Optional loader, logger and overlap metric.
//
// Returns:
//   - *Predictor: The predictor.
//   - error: ErrInvalidParameter for missing arguments or invalid hyperparameters.
//
// @example
// predictor, err := inference.NewPredictor(hypes, model, inference.PredictorOptions{})
// boxes, err := predictor.HotPredict(ctx, "image.png")
func NewPredictor(hypes *config.Hypes, model Model, opts PredictorOptions) (*Predictor, error) {
	if hypes == nil {
		return nil, errors.Wrap(common.ErrInvalidParameter, "nil hyperparameters")
	}
	if model == nil {
		return nil, errors.Wrap(common.ErrInvalidParameter, "nil model")
	}
	if err := hypes.Grid.Validate(); err != nil {
		return nil, err
	}
	if err := hypes.Evaluate.Validate(); err != nil {
		return nil, err
	}
	loader := opts.Loader
	if loader == nil {
		loader = util.FileLoader{}
	}
	return &Predictor{
		hypes:   hypes,
		model:   model,
		loader:  loader,
		logger:  common.LoggerOrDefault(opts.Logger).WithField("component", "predictor"),
		overlap: opts.Overlap,
	}, nil
}

// HotPredict loads the image at imagePath and predicts its detections.
func (p *Predictor) HotPredict(ctx context.Context, imagePath string) ([]common.BoundingBox, error) {
	img, err := p.loader.Load(imagePath)
	if err != nil {
		return nil, common.LoadFailure(err, "load %s", imagePath)
	}
	boxes, err := p.Predict(ctx, img)
	if err != nil {
		return nil, errors.Wrapf(err, "predict %s", imagePath)
	}
	return boxes, nil
}

// Predict runs the model on img and returns the stitched detections in img's pixel
// coordinates with score above min_conf.
//
// Arguments:
//   - ctx: Checked before the model runs.
//   - img: The image at any resolution.
//
// Returns:
//   - []common.BoundingBox: The detections, by descending score.
//   - error: From the model, or ErrInvalidParameter for malformed model outputs.
func (p *Predictor) Predict(ctx context.Context, img image.Image) ([]common.BoundingBox, error) {
	if img == nil {
		return nil, errors.Wrap(common.ErrInvalidParameter, "nil image")
	}
	if err := util.CheckChannels(img); err != nil {
		return nil, err
	}
	native := images.SizeOf(img)
	target := p.hypes.Grid.ImageSize()

	input, err := PrepareInput(img, target)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := p.model.Predict(ctx, input)
	if err != nil {
		return nil, errors.Wrap(err, "model")
	}
	boxes, confidences, err := p.selectOutputs(out)
	if err != nil {
		return nil, err
	}

	eval := p.hypes.Evaluate
	decoded, err := postprocess.Decode(boxes, confidences, p.hypes.Grid, postprocess.StitchConfig{
		MinConf:      eval.MinConf,
		Tau:          eval.Tau,
		UseStitching: true,
		Overlap:      p.overlap,
	})
	if err != nil {
		return nil, err
	}

	scale, err := images.NewScale(target, native)
	if err != nil {
		return nil, err
	}
	results := make([]common.BoundingBox, 0, len(decoded.Detections))
	for _, det := range decoded.Detections {
		if !det.Box.Valid() {
			continue
		}
		r := scale.Apply(det.Box)
		results = append(results, common.BoundingBox{X1: r.X1, Y1: r.Y1, X2: r.X2, Y2: r.Y2, Score: det.Score})
	}
	results = common.FilterByScore(results, eval.MinConf)

	p.logger.WithFields(logrus.Fields{
		"width":      native.Width,
		"height":     native.Height,
		"detections": len(results),
	}).Debug("prediction complete")
	return results, nil
}

// selectOutputs picks the box and confidence tensors according to the rezoom options.
func (p *Predictor) selectOutputs(out *Outputs) (*tensor.Dense, *tensor.Dense, error) {
	if out == nil {
		return nil, nil, errors.Wrap(common.ErrInvalidParameter, "model returned no outputs")
	}
	if !p.hypes.UseRezoom {
		return out.Boxes, out.Confidences, nil
	}

	if out.RezoomLogits == nil {
		return nil, nil, errors.Wrap(common.ErrInvalidParameter, "use_rezoom set but model has no rezoom logits")
	}
	confidences, err := postprocess.Softmax(out.RezoomLogits, p.hypes.Grid)
	if err != nil {
		return nil, nil, errors.Wrap(err, "rezoom logits")
	}
	boxes := out.Boxes
	if p.hypes.Reregress {
		if out.BoxDeltas == nil {
			return nil, nil, errors.Wrap(common.ErrInvalidParameter, "reregress set but model has no box deltas")
		}
		if boxes, err = postprocess.AddBoxDeltas(out.Boxes, out.BoxDeltas, p.hypes.Grid); err != nil {
			return nil, nil, err
		}
	}
	return boxes, confidences, nil
}

// Close releases the model.
func (p *Predictor) Close() error {
	return p.model.Close()
}
