package augment

import (
	"image"
	"math/rand/v2"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-tensorbox/annotations"
	"github.com/nvr-ai/go-tensorbox/common"
	"github.com/nvr-ai/go-tensorbox/grid"
	"github.com/nvr-ai/go-tensorbox/images"
	"github.com/nvr-ai/go-tensorbox/util"
)

// Sample is one encoded training example.
type Sample struct {
	// ImageName is the path the image was loaded from.
	ImageName string
	// Image holds the pixels at model resolution, jittered if enabled.
	Image image.Image
	// Rects are the rectangles the tensors were encoded from, in Image coordinates.
	Rects []images.Rect
	// Boxes has shape gridHeight x gridWidth x slotCount x 4.
	Boxes *tensor.Dense
	// Flags has shape gridHeight x gridWidth x slotCount x 1.
	Flags *tensor.Dense
	// Confs has shape cellCount x numClasses.
	Confs *tensor.Dense
}

// Options configure a Stream.
type Options struct {
	// Seed initializes the stream's random source. Independent workers need distinct seeds.
	Seed uint64
	// Jitter enables geometric perturbation when non-nil.
	Jitter *JitterOptions
	// Loader reads images. Defaults to util.FileLoader.
	Loader util.ImageLoader
	// Logger receives debug output about dropped rectangles.
	Logger *logrus.Entry
}

// Stream is an endless, reshuffled sequence of encoded samples. It owns its
// annotations, random state and cursor, and is not safe for concurrent use.
type Stream struct {
	annotations []annotations.Annotation
	cfg         grid.Config
	jitter      *JitterOptions
	loader      util.ImageLoader
	logger      *logrus.Entry

	rng    *rand.Rand
	order  []int
	cursor int
	pass   int
}

// NewStream creates a stream over annos.
//
// Arguments:
//   - annos: The annotations to sample from. They are deep-copied.
//   - cfg: The grid geometry samples are encoded for.
//   - opts: Seed, jitter, loader and logger.
//
// Returns:
//   - *Stream: The stream, positioned before its first pass.
//   - error: ErrInvalidParameter for an empty annotation list or invalid configuration.
//
// @example
// stream, err := augment.NewStream(store.Annotations, hypes.Grid, augment.Options{Seed: 0})
// sample, err := stream.Next()
func NewStream(annos []annotations.Annotation, cfg grid.Config, opts Options) (*Stream, error) {
	if len(annos) == 0 {
		return nil, errors.Wrap(common.ErrInvalidParameter, "no annotations to sample")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Jitter != nil {
		if err := opts.Jitter.Validate(); err != nil {
			return nil, err
		}
	}
	loader := opts.Loader
	if loader == nil {
		loader = util.FileLoader{}
	}

	s := &Stream{
		annotations: make([]annotations.Annotation, len(annos)),
		cfg:         cfg,
		jitter:      opts.Jitter,
		loader:      loader,
		logger:      common.LoggerOrDefault(opts.Logger).WithField("component", "augment"),
		rng:         rand.New(rand.NewPCG(opts.Seed, opts.Seed)),
		order:       make([]int, len(annos)),
	}
	for i, a := range annos {
		s.annotations[i] = a.Clone()
		s.order[i] = i
	}
	s.cursor = len(s.order)
	return s, nil
}

// Pass returns the number of passes started so far.
func (s *Stream) Pass() int {
	return s.pass
}

// Next produces the next sample. Each pass visits every annotation once in a new
// random order. A load failure is returned for that pull and the annotation counts
// as visited; the following pull continues with the next one.
//
// Returns:
//   - *Sample: The encoded sample.
//   - error: ErrImageLoadFailure if the image could not be read.
func (s *Stream) Next() (*Sample, error) {
	if s.cursor >= len(s.order) {
		s.reshuffle()
	}
	anno := s.annotations[s.order[s.cursor]].Clone()
	s.cursor++

	img, err := s.loader.Load(anno.ImagePath)
	if err != nil {
		return nil, common.LoadFailure(err, "load %s", anno.ImagePath)
	}

	target := s.cfg.ImageSize()
	native := images.SizeOf(img)
	rects, err := images.RescaleAll(anno.Rects, native, target)
	if err != nil {
		return nil, errors.Wrapf(err, "rescale %s", anno.ImagePath)
	}
	if native != target {
		if img, err = images.ResizeTo(img, target); err != nil {
			return nil, err
		}
	}

	if s.jitter != nil {
		var dropped int
		img, rects, dropped = Jitter(img, rects, *s.jitter, s.rng)
		if dropped > 0 {
			s.logger.WithFields(logrus.Fields{"image": anno.ImagePath, "dropped": dropped}).
				Debug("jitter left rectangles without area")
		}
	}

	enc, err := grid.Encode(rects, s.cfg)
	if err != nil {
		return nil, err
	}
	if enc.Saturated > 0 || enc.OutOfRange > 0 {
		s.logger.WithFields(logrus.Fields{
			"image":        anno.ImagePath,
			"saturated":    enc.Saturated,
			"out_of_range": enc.OutOfRange,
		}).Debug("rectangles not encoded")
	}
	confs, err := grid.ConfidenceLabels(enc.Flags, s.cfg)
	if err != nil {
		return nil, err
	}

	return &Sample{
		ImageName: anno.ImagePath,
		Image:     img,
		Rects:     rects,
		Boxes:     enc.Boxes,
		Flags:     enc.Flags,
		Confs:     confs,
	}, nil
}

func (s *Stream) reshuffle() {
	s.rng.Shuffle(len(s.order), func(i, j int) {
		s.order[i], s.order[j] = s.order[j], s.order[i]
	})
	s.cursor = 0
	s.pass++
}
