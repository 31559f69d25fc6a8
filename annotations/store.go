// Package annotations - The annotation store: image paths with their ground-truth
// rectangles.
//
// The store file is a JSON (or YAML) list of records:
//
//	[{"image_path": "a.png", "rects": [{"x1": 4, "y1": 4, "x2": 8, "y2": 8}]}]
//
// Image paths are resolved relative to the directory holding the store file.
package annotations

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-tensorbox/common"
	"github.com/nvr-ai/go-tensorbox/images"
)

// Annotation is one image with its rectangles. The store owns its annotations; use
// Clone before mutating coordinates.
type Annotation struct {
	ImagePath string
	Rects     []images.Rect
}

// Clone returns a deep copy that shares no memory with a.
func (a Annotation) Clone() Annotation {
	rects := make([]images.Rect, len(a.Rects))
	copy(rects, a.Rects)
	return Annotation{ImagePath: a.ImagePath, Rects: rects}
}

// RectRecord is the on-disk form of a rectangle. Score is optional and defaults to 1.
type RectRecord struct {
	X1    float32  `json:"x1"              yaml:"x1"`
	Y1    float32  `json:"y1"              yaml:"y1"`
	X2    float32  `json:"x2"              yaml:"x2"`
	Y2    float32  `json:"y2"              yaml:"y2"`
	Score *float32 `json:"score,omitempty" yaml:"score,omitempty"`
}

// Record is the on-disk form of an annotation.
type Record struct {
	ImagePath string       `json:"image_path" yaml:"image_path"`
	Rects     []RectRecord `json:"rects"      yaml:"rects"`
}

// Store is the parsed annotation list.
type Store struct {
	// Annotations in file order.
	Annotations []Annotation
	// Dropped counts rectangles rejected for invalid geometry while loading.
	Dropped int
}

// Options configure Load.
type Options struct {
	// Logger receives warnings about dropped rectangles. Defaults to the standard logger.
	Logger *logrus.Entry
}

// Load parses the store at path. Rectangles with invalid geometry are dropped from
// their annotation and counted rather than failing the whole store.
//
// Arguments:
//   - path: The store file, ".json", ".yaml" or ".yml".
//   - opts: Optional logging configuration.
//
// Returns:
//   - *Store: The annotations with absolute image paths.
//   - error: If the file cannot be read or parsed.
//
// @example
// store, err := annotations.Load("data/train.json", annotations.Options{})
func Load(path string, opts Options) (*Store, error) {
	log := common.LoggerOrDefault(opts.Logger).WithField("store", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read annotation store")
	}
	records, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, errors.Wrapf(err, "parse annotation store %s", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "resolve annotation store path")
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	store := FromRecords(records, filepath.Dir(abs))
	if store.Dropped > 0 {
		log.WithField("dropped", store.Dropped).Warn("dropped rectangles with invalid geometry")
	}
	log.WithField("annotations", len(store.Annotations)).Debug("loaded annotation store")
	return store, nil
}

// Parse decodes store records. ext selects the format: ".yaml" and ".yml" are YAML,
// everything else is JSON.
func Parse(data []byte, ext string) ([]Record, error) {
	var records []Record
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &records); err != nil {
			return nil, errors.Wrap(err, "decode yaml")
		}
	default:
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, errors.Wrap(err, "decode json")
		}
	}
	return records, nil
}

// FromRecords converts records to annotations, resolving relative image paths
// against baseDir and dropping invalid rectangles.
func FromRecords(records []Record, baseDir string) *Store {
	store := &Store{Annotations: make([]Annotation, 0, len(records))}
	for _, rec := range records {
		imagePath := rec.ImagePath
		if !filepath.IsAbs(imagePath) {
			imagePath = filepath.Join(baseDir, imagePath)
		}

		anno := Annotation{ImagePath: imagePath, Rects: make([]images.Rect, 0, len(rec.Rects))}
		for _, rr := range rec.Rects {
			r, err := images.NewRect(rr.X1, rr.Y1, rr.X2, rr.Y2)
			if err != nil {
				store.Dropped++
				continue
			}
			if rr.Score != nil {
				r.Score = *rr.Score
			}
			anno.Rects = append(anno.Rects, r)
		}
		store.Annotations = append(store.Annotations, anno)
	}
	return store
}

// ToRecords is the inverse of FromRecords, with image paths made relative to baseDir
// where possible.
func ToRecords(annos []Annotation, baseDir string) []Record {
	records := make([]Record, 0, len(annos))
	for _, a := range annos {
		imagePath := a.ImagePath
		if rel, err := filepath.Rel(baseDir, imagePath); err == nil && !strings.HasPrefix(rel, "..") {
			imagePath = rel
		}
		rec := Record{ImagePath: imagePath, Rects: make([]RectRecord, 0, len(a.Rects))}
		for _, r := range a.Rects {
			score := r.Score
			rec.Rects = append(rec.Rects, RectRecord{X1: r.X1, Y1: r.Y1, X2: r.X2, Y2: r.Y2, Score: &score})
		}
		records = append(records, rec)
	}
	return records
}
