package inference

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-tensorbox/common"
	"github.com/nvr-ai/go-tensorbox/config"
	"github.com/nvr-ai/go-tensorbox/grid"
)

// ONNXConfig describes an exported detector graph.
type ONNXConfig struct {
	// ModelPath is the .onnx file.
	ModelPath string `json:"model_path"         yaml:"model_path"`
	// LibraryPath is the ONNX Runtime shared library. Defaults to SharedLibraryPath().
	LibraryPath string `json:"library_path"       yaml:"library_path"`
	// Node names. Empty names take the defaults of DefaultONNXConfig.
	InputName        string `json:"input_name"         yaml:"input_name"`
	BoxesName        string `json:"boxes_name"         yaml:"boxes_name"`
	ConfidencesName  string `json:"confidences_name"   yaml:"confidences_name"`
	RezoomLogitsName string `json:"rezoom_logits_name" yaml:"rezoom_logits_name"`
	BoxDeltasName    string `json:"box_deltas_name"    yaml:"box_deltas_name"`
	// Logger receives runtime diagnostics.
	Logger *logrus.Entry `json:"-"                  yaml:"-"`
}

// DefaultONNXConfig returns the node names of a graph exported from the training
// network.
func DefaultONNXConfig(modelPath string) ONNXConfig {
	return ONNXConfig{
		ModelPath:        modelPath,
		InputName:        "x_in",
		BoxesName:        "pred_boxes",
		ConfidencesName:  "pred_confidences",
		RezoomLogitsName: "pred_confs_deltas",
		BoxDeltasName:    "pred_boxes_deltas",
	}
}

func (c *ONNXConfig) applyDefaults() {
	def := DefaultONNXConfig(c.ModelPath)
	orDefault(&c.InputName, def.InputName)
	orDefault(&c.BoxesName, def.BoxesName)
	orDefault(&c.ConfidencesName, def.ConfidencesName)
	orDefault(&c.RezoomLogitsName, def.RezoomLogitsName)
	orDefault(&c.BoxDeltasName, def.BoxDeltasName)
	orDefault(&c.LibraryPath, SharedLibraryPath())
}

func orDefault(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

// ONNXModel runs an exported detector with ONNX Runtime. Tensors are preallocated;
// concurrent Predict calls are serialized.
type ONNXModel struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
	grid    grid.Config
	rezoom  bool
	deltas  bool
	logger  *logrus.Entry

	mu        sync.Mutex
	runs      int64
	totalTime time.Duration
}

// NewONNXModel loads the graph described by cfg for the given hyperparameters.
//
// Order of operations:
//  1. Library check and one-time environment initialization.
//  2. Tensor allocation for the input and every output the hyperparameters need.
//  3. Session options, with the CUDA provider on device hypes.Evaluate.GPU when it is
//     non-negative. If CUDA cannot be enabled the CPU provider is used and a warning
//     is logged.
//  4. Session creation.
//
// Arguments:
//   - cfg: Paths and node names.
//   - hypes: The hyperparameters that fix tensor shapes and the rezoom outputs.
//
// Returns:
//   - *ONNXModel: The model. Close releases its native resources.
//   - error: If the runtime or the graph cannot be loaded.
func NewONNXModel(cfg ONNXConfig, hypes *config.Hypes) (*ONNXModel, error) {
	if hypes == nil {
		return nil, errors.Wrap(common.ErrInvalidParameter, "nil hyperparameters")
	}
	if err := hypes.Grid.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	logger := common.LoggerOrDefault(cfg.Logger).WithField("component", "onnx")

	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	g := hypes.Grid
	m := &ONNXModel{
		grid:   g,
		rezoom: hypes.UseRezoom,
		deltas: hypes.UseRezoom && hypes.Reregress,
		logger: logger,
	}

	var err error
	m.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(g.ImageHeight), int64(g.ImageWidth), 3))
	if err != nil {
		return nil, errors.Wrap(err, "input tensor")
	}

	boxShape := ort.NewShape(int64(g.CellCount()), int64(g.SlotCount), grid.BoxDims)
	confShape := ort.NewShape(int64(g.CellCount()), int64(g.SlotCount), int64(g.NumClasses))
	outputNames := []string{cfg.BoxesName, cfg.ConfidencesName}
	shapes := []ort.Shape{boxShape, confShape}
	if m.rezoom {
		outputNames = append(outputNames, cfg.RezoomLogitsName)
		shapes = append(shapes, confShape)
	}
	if m.deltas {
		outputNames = append(outputNames, cfg.BoxDeltasName)
		shapes = append(shapes, boxShape)
	}
	for _, shape := range shapes {
		t, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			m.destroyTensors()
			return nil, errors.Wrap(err, "output tensor")
		}
		m.outputs = append(m.outputs, t)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		m.destroyTensors()
		return nil, errors.Wrap(err, "session options")
	}
	defer options.Destroy()

	if gpu := hypes.Evaluate.GPU; gpu >= 0 {
		if cuda, err := appendCUDA(options, gpu); err != nil {
			logger.WithError(err).WithField("gpu", gpu).Warn("CUDA unavailable, running on CPU")
		} else {
			defer cuda.Destroy()
		}
	}

	outputs := make([]ort.Value, len(m.outputs))
	for i, t := range m.outputs {
		outputs[i] = t
	}
	m.session, err = ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		outputNames,
		[]ort.Value{m.input},
		outputs,
		options,
	)
	if err != nil {
		m.destroyTensors()
		return nil, errors.Wrapf(err, "load model %s", cfg.ModelPath)
	}
	logger.WithFields(logrus.Fields{"model": cfg.ModelPath, "outputs": outputNames}).Info("model loaded")
	return m, nil
}

func initEnvironment(libPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "ONNX Runtime library %s (set %s)", libPath, LibraryPathEnv)
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "initialize ONNX Runtime")
	}
	return nil
}

func appendCUDA(options *ort.SessionOptions, device int) (*ort.CUDAProviderOptions, error) {
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, err
	}
	if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(device)}); err != nil {
		cuda.Destroy()
		return nil, err
	}
	if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
		cuda.Destroy()
		return nil, err
	}
	return cuda, nil
}

// Predict copies input into the session, runs it and copies the outputs out.
func (m *ONNXModel) Predict(ctx context.Context, input *tensor.Dense) (*Outputs, error) {
	data, err := grid.Float32s(input, m.grid.ImageHeight, m.grid.ImageWidth, 3)
	if err != nil {
		return nil, errors.Wrap(err, "model input")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, errors.Wrap(common.ErrInvalidParameter, "model is closed")
	}

	copy(m.input.GetData(), data)
	start := time.Now()
	if err := m.session.Run(); err != nil {
		return nil, errors.Wrap(err, "run session")
	}
	m.runs++
	m.totalTime += time.Since(start)

	out := &Outputs{
		Boxes:       m.copyOut(0, m.grid.BoxShape()),
		Confidences: m.copyOut(1, m.grid.ConfidenceShape()),
	}
	next := 2
	if m.rezoom {
		out.RezoomLogits = m.copyOut(next, m.grid.ConfidenceShape())
		next++
	}
	if m.deltas {
		out.BoxDeltas = m.copyOut(next, m.grid.BoxShape())
	}
	return out, nil
}

func (m *ONNXModel) copyOut(i int, shape []int) *tensor.Dense {
	t := grid.NewTensor(shape...)
	copy(t.Data().([]float32), m.outputs[i].GetData())
	return t
}

// Close releases the session and its tensors and logs the mean run time.
func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runs > 0 {
		m.logger.WithFields(logrus.Fields{
			"runs":    m.runs,
			"mean_ms": float64(m.totalTime.Microseconds()) / 1000 / float64(m.runs),
		}).Debug("closing model")
	}
	var err error
	if m.session != nil {
		err = m.session.Destroy()
		m.session = nil
	}
	m.destroyTensors()
	if err != nil {
		return errors.Wrap(err, "destroy session")
	}
	return nil
}

func (m *ONNXModel) destroyTensors() {
	if m.input != nil {
		m.input.Destroy()
		m.input = nil
	}
	for _, t := range m.outputs {
		t.Destroy()
	}
	m.outputs = nil
}
