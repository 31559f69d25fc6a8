package postprocess

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/nvr-ai/go-tensorbox/common"
	"github.com/nvr-ai/go-tensorbox/images"
)

// StitchConfig defines parameters for suppression and stitching.
type StitchConfig struct {
	MinConf        float32     // Candidates scoring below this are discarded before sorting.
	Tau            float32     // Overlap threshold for suppression/merging.
	UseStitching   bool        // If true, merge overlapping candidates instead of dropping them.
	ShowSuppressed bool        // If true, also return the candidates that were suppressed/merged.
	ClassAware     bool        // If true, suppress only within the same class.
	Overlap        OverlapFunc // Overlap metric; CombinedOverlap when nil.
}

// Validate reports ErrInvalidParameter when MinConf or Tau is outside [0, 1].
func (c StitchConfig) Validate() error {
	if !(c.MinConf >= 0 && c.MinConf <= 1) {
		return errors.Wrapf(common.ErrInvalidParameter, "min_conf %v outside [0, 1]", c.MinConf)
	}
	if !(c.Tau >= 0 && c.Tau <= 1) {
		return errors.Wrapf(common.ErrInvalidParameter, "tau %v outside [0, 1]", c.Tau)
	}
	return nil
}

// Output holds the result of one stitching pass.
type Output struct {
	// Detections are the kept (and, when stitching, merged) results by descending
	// score of their anchor candidate.
	Detections []Result
	// Suppressed holds every candidate that did not become a detection of its own,
	// only populated when ShowSuppressed is set.
	Suppressed []Result
}

// Stitch collapses overlapping candidates into a non-redundant detection list.
//
// Candidates scoring below MinConf (or with degenerate boxes) are discarded. The rest
// are sorted by descending score, ties broken by lower Index. In that order each
// candidate not yet suppressed becomes a detection and suppresses every later
// candidate whose overlap with it exceeds Tau. With UseStitching the suppressed
// candidates are fused into the detection by score-weighted averaging of coordinates
// and scores, and the pass repeats over the fused detections until none of them
// overlap; otherwise they are dropped (greedy non-maximum suppression).
//
// Arguments:
//   - candidates: The candidates in any order. The slice is not modified.
//   - config: Thresholds and mode.
//
// Returns:
//   - *Output: The detections, and the suppressed candidates if requested.
//   - error: ErrInvalidParameter for thresholds outside [0, 1].
//
// @example
// out, err := Stitch(candidates, StitchConfig{MinConf: 0.5, Tau: 0.3, UseStitching: true})
func Stitch(candidates []Result, config StitchConfig) (*Output, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	overlap := config.Overlap
	if overlap == nil {
		overlap = CombinedOverlap
	}

	groups := make([]group, 0, len(candidates))
	for _, c := range candidates {
		if c.Score >= config.MinConf && c.Box.Valid() {
			members := []Result{c}
			groups = append(groups, group{members: members, fused: merge(members)})
		}
	}
	out := &Output{}
	if len(groups) == 0 {
		return out, nil
	}

	for {
		sortGroups(groups)
		var changed bool
		groups, changed = suppress(groups, config, overlap, out)
		if !changed || !config.UseStitching {
			break
		}
	}

	out.Detections = make([]Result, len(groups))
	for i, g := range groups {
		out.Detections[i] = g.fused
	}
	return out, nil
}

// group is a detection together with the original candidates fused into it.
type group struct {
	members []Result
	fused   Result
}

func sortGroups(groups []group) {
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i].fused, groups[j].fused
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Index < b.Index
	})
}

// suppress runs one greedy pass over groups sorted by score. Each surviving group
// absorbs (stitching) or drops every later group whose box overlaps its own by more
// than Tau. It reports whether any group was absorbed or dropped.
func suppress(groups []group, config StitchConfig, overlap OverlapFunc, out *Output) ([]group, bool) {
	used := make([]bool, len(groups))
	next := make([]group, 0, len(groups))
	changed := false

	for i := range groups {
		if used[i] {
			continue
		}
		anchor := groups[i]
		used[i] = true
		absorbed := false

		for j := i + 1; j < len(groups); j++ {
			if used[j] {
				continue
			}
			if config.ClassAware && groups[j].fused.Class != anchor.fused.Class {
				continue
			}
			if overlap(anchor.fused.Box, groups[j].fused.Box) > config.Tau {
				used[j] = true
				changed = true
				if config.UseStitching {
					anchor.members = append(anchor.members, groups[j].members...)
					absorbed = true
				}
				if config.ShowSuppressed {
					out.Suppressed = append(out.Suppressed, groups[j].members[0])
				}
			}
		}

		if absorbed {
			anchor.fused = merge(anchor.members)
		}
		next = append(next, anchor)
	}
	return next, changed
}

// merge fuses members into their first element by score-weighted averaging. When
// every member scores zero the plain mean is used.
func merge(members []Result) Result {
	head := members[0]
	head.Members = 0
	for _, m := range members {
		head.Members += max(m.Members, 1)
	}
	if len(members) == 1 {
		head.Box.Score = head.Score
		return head
	}

	n := len(members)
	weights := make([]float64, n)
	x1s, y1s := make([]float64, n), make([]float64, n)
	x2s, y2s := make([]float64, n), make([]float64, n)
	scores := make([]float64, n)
	var total float64
	for i, m := range members {
		weights[i] = float64(m.Score)
		total += weights[i]
		scores[i] = float64(m.Score)
		x1s[i], y1s[i] = float64(m.Box.X1), float64(m.Box.Y1)
		x2s[i], y2s[i] = float64(m.Box.X2), float64(m.Box.Y2)
	}
	if total == 0 {
		weights = nil
	}

	head.Score = float32(stat.Mean(scores, weights))
	head.Box = images.Rect{
		X1:    float32(stat.Mean(x1s, weights)),
		Y1:    float32(stat.Mean(y1s, weights)),
		X2:    float32(stat.Mean(x2s, weights)),
		Y2:    float32(stat.Mean(y2s, weights)),
		Score: head.Score,
		Class: head.Class,
	}
	return head
}
