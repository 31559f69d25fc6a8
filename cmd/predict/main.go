package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-tensorbox/common"
	"github.com/nvr-ai/go-tensorbox/config"
	"github.com/nvr-ai/go-tensorbox/inference"
)

const (
	// DefaultDiameterScale is the ground size of one pixel used for diameter output.
	DefaultDiameterScale = 0.01
	// DefaultDiameterMinScore is the score a detection needs to be listed in the
	// diameter file.
	DefaultDiameterMinScore = 0.8
)

// options holds the parsed command line.
type options struct {
	imagePath  string
	modelPath  string
	hypesPath  string
	gpu        int
	tau        float64
	minConf    float64
	outputDir  string
	libPath    string
	logLevel   string
	diamScale  float64
	diamScore  float64
	writeDiams bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, err := common.NewLogger(opts.logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(context.Background(), opts, log.WithField("cmd", "predict")); err != nil {
		log.WithError(err).Fatal("prediction failed")
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: predict [options] <image> <model> <hypes>")
		fs.PrintDefaults()
	}
	def := config.DefaultEvaluate()
	fs.IntVar(&opts.gpu, "gpu", def.GPU, "GPU device for the model runtime, negative for CPU")
	fs.Float64Var(&opts.tau, "tau", float64(def.Tau), "Overlap threshold for stitching")
	fs.Float64Var(&opts.minConf, "min_conf", float64(def.MinConf), "Minimum detection confidence")
	fs.StringVar(&opts.outputDir, "output", "", "Directory for result files; results go to stdout when empty")
	fs.StringVar(&opts.libPath, "onnx-lib", "", "ONNX Runtime shared library (default $"+inference.LibraryPathEnv+")")
	fs.StringVar(&opts.logLevel, "log-level", "info", "Log level")
	fs.BoolVar(&opts.writeDiams, "diameters", false, "Also write the diameters of confident detections")
	fs.Float64Var(&opts.diamScale, "diam_scale", DefaultDiameterScale, "Ground units per pixel for diameters")
	fs.Float64Var(&opts.diamScore, "diam_min_score", DefaultDiameterMinScore, "Minimum score for the diameter file")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() < 3 {
		fs.Usage()
		return opts, errors.Wrap(common.ErrInvalidParameter, "provide image, model and hypes paths")
	}
	opts.imagePath, opts.modelPath, opts.hypesPath = fs.Arg(0), fs.Arg(1), fs.Arg(2)
	return opts, nil
}

func run(ctx context.Context, opts options, log *logrus.Entry) error {
	minConf, tau := float32(opts.minConf), float32(opts.tau)
	hypes, err := config.Load(opts.hypesPath, &config.EvaluateOverrides{
		MinConf: &minConf,
		Tau:     &tau,
		GPU:     &opts.gpu,
	})
	if err != nil {
		return err
	}

	onnxCfg := inference.DefaultONNXConfig(opts.modelPath)
	onnxCfg.LibraryPath = opts.libPath
	onnxCfg.Logger = log
	model, err := inference.NewONNXModel(onnxCfg, hypes)
	if err != nil {
		return err
	}
	predictor, err := inference.NewPredictor(hypes, model, inference.PredictorOptions{Logger: log})
	if err != nil {
		model.Close()
		return err
	}
	defer predictor.Close()

	boxes, err := predictor.HotPredict(ctx, opts.imagePath)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"image": opts.imagePath, "detections": len(boxes)}).Info("prediction complete")

	if opts.outputDir == "" {
		return json.NewEncoder(os.Stdout).Encode(boxes)
	}
	path, err := writeResults(opts.outputDir, opts.imagePath, boxes)
	if err != nil {
		return err
	}
	log.WithField("path", path).Info("results saved")

	if opts.writeDiams {
		path, err := writeDiameters(opts.outputDir, opts.imagePath, boxes, float32(opts.diamScale), float32(opts.diamScore))
		if err != nil {
			return err
		}
		log.WithField("path", path).Info("diameters saved")
	}
	return nil
}

// resultPath returns dir/result-<image base name><ext>.
func resultPath(dir, imagePath, ext string) string {
	return filepath.Join(dir, "result-"+filepath.Base(imagePath)+ext)
}

// writeResults saves boxes as JSON next to the other results for imagePath.
func writeResults(dir, imagePath string, boxes []common.BoundingBox) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create output directory")
	}
	if boxes == nil {
		boxes = []common.BoundingBox{}
	}
	data, err := json.MarshalIndent(boxes, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encode results")
	}
	path := resultPath(dir, imagePath, ".json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", errors.Wrap(err, "write results")
	}
	return path, nil
}

// writeDiameters saves one diameter per line for every box scoring above minScore.
func writeDiameters(dir, imagePath string, boxes []common.BoundingBox, scale, minScore float32) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create output directory")
	}
	var sb strings.Builder
	for _, b := range boxes {
		if b.Score > minScore {
			fmt.Fprintf(&sb, "%g\n", b.Diameter(scale))
		}
	}
	path := resultPath(dir, imagePath, ".txt")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return "", errors.Wrap(err, "write diameters")
	}
	return path, nil
}
