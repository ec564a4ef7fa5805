package logging

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/NexoWatt/nexowatt-ems/core/model"
)

// SourceStats aggregates the records produced by one source.
type SourceStats struct {
	Source  string  `json:"source"`
	Count   int     `json:"count"`
	MeanW   float64 `json:"mean_w"`
	StdDevW float64 `json:"stddev_w"`
}

// Summary describes the stability of a sequence of cycles.
type Summary struct {
	Records     int           `json:"records"`
	MeanFinalW  float64       `json:"mean_final_w"`
	StdDevW     float64       `json:"stddev_w"`
	BySource    []SourceStats `json:"by_source"`
	SignLocks   int           `json:"sign_locks"`
	NotApplied  int           `json:"not_applied"`
	Gated       int           `json:"gated"`
	Reversals   int           `json:"reversals"`
	DirectFlips int           `json:"direct_flips"`
	// OscillationIndexW is the mean absolute change between consecutive
	// cycles of the same unit.
	OscillationIndexW float64 `json:"oscillation_index_w"`
}

// Summarize computes per-source statistics and stability indicators.
// Reversals count charge/discharge direction changes, DirectFlips those that
// happened without an intervening zero cycle.
func Summarize(recs []LogRecord) Summary {
	sum := Summary{Records: len(recs)}
	if len(recs) == 0 {
		return sum
	}
	sorted := make([]LogRecord, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	all := make([]float64, 0, len(sorted))
	bySource := map[model.Source][]float64{}
	type unitTrack struct {
		prev    int
		hasPrev bool
		lastDir int
	}
	units := map[string]*unitTrack{}
	var deltas []float64

	for _, r := range sorted {
		w := float64(r.FinalW)
		all = append(all, w)
		bySource[r.Source] = append(bySource[r.Source], w)
		if r.SignLocked {
			sum.SignLocks++
		}
		if !r.Applied {
			sum.NotApplied++
		}
		if r.Gated {
			sum.Gated++
		}

		u, ok := units[r.UnitID]
		if !ok {
			u = &unitTrack{}
			units[r.UnitID] = u
		}
		if u.hasPrev {
			deltas = append(deltas, math.Abs(float64(r.FinalW-u.prev)))
			if u.prev != 0 && r.FinalW != 0 && (u.prev > 0) != (r.FinalW > 0) {
				sum.DirectFlips++
			}
		}
		if dir := sign(r.FinalW); dir != 0 {
			if u.lastDir != 0 && dir != u.lastDir {
				sum.Reversals++
			}
			u.lastDir = dir
		}
		u.prev = r.FinalW
		u.hasPrev = true
	}

	sum.MeanFinalW, sum.StdDevW = meanStd(all)
	if len(deltas) > 0 {
		sum.OscillationIndexW = stat.Mean(deltas, nil)
	}
	for _, src := range model.Sources {
		vals, ok := bySource[src]
		if !ok {
			continue
		}
		m, s := meanStd(vals)
		sum.BySource = append(sum.BySource, SourceStats{Source: src.String(), Count: len(vals), MeanW: m, StdDevW: s})
	}
	return sum
}

func meanStd(x []float64) (float64, float64) {
	if len(x) < 2 {
		if len(x) == 1 {
			return x[0], 0
		}
		return 0, 0
	}
	return stat.MeanStdDev(x, nil)
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
