// Package spatial scores how well a touch trace matches a sequence of keys.
//
// All distances are expressed in key widths so parameters carry over between
// layouts of different pixel sizes. A Model is immutable and safe for
// concurrent use.
package spatial

import (
	"math"

	"github.com/verte-zerg/glide/internal/model"
)

// Params tunes the cost model. Distances are in key widths.
type Params struct {
	// SampleSpacing is the arc length between resampled trace points.
	SampleSpacing float64
	// Radius bounds how far a sample may be from a key center for the key to
	// be considered traversed.
	Radius float64
	// Tolerance is the distance from the straight key-to-key segment that a
	// sample may stray without penalty.
	Tolerance float64
	// DeviationWeight scales the overshoot/undershoot penalty.
	DeviationWeight float64
}

// DefaultParams returns tuned defaults for phone-sized layouts.
func DefaultParams() Params {
	return Params{
		SampleSpacing:   0.25,
		Radius:          1.0,
		Tolerance:       0.35,
		DeviationWeight: 1.0,
	}
}

// Model is a spatial cost model bound to one key geometry.
type Model struct {
	geo    *model.KeyGeometry
	params Params
	unit   float64
}

// New binds params to a geometry. Non-positive params fall back to defaults.
func New(geo *model.KeyGeometry, params Params) *Model {
	def := DefaultParams()
	if params.SampleSpacing <= 0 {
		params.SampleSpacing = def.SampleSpacing
	}
	if params.Radius <= 0 {
		params.Radius = def.Radius
	}
	if params.Tolerance < 0 {
		params.Tolerance = def.Tolerance
	}
	if params.DeviationWeight <= 0 {
		params.DeviationWeight = def.DeviationWeight
	}
	return &Model{geo: geo, params: params, unit: geo.KeyWidth()}
}

// Params returns the effective parameters.
func (m *Model) Params() Params { return m.params }

// KeyFor returns the key center for a letter.
func (m *Model) KeyFor(r rune) (model.Point, bool) {
	k, ok := m.geo.KeyForRune(r)
	if !ok {
		return model.Point{}, false
	}
	return k.Center, true
}

// PathLength returns the trace length in key widths.
func (m *Model) PathLength(trace []model.TouchPoint) float64 {
	total := 0.0
	for i := 1; i < len(trace); i++ {
		total += model.Distance(trace[i-1].Point(), trace[i].Point())
	}
	return total / m.unit
}

// Resample returns points spaced SampleSpacing apart along the trace. The
// first and last points are always kept. Traces with fewer than two points
// or zero length resample to nil.
func (m *Model) Resample(trace []model.TouchPoint) []model.Point {
	if len(trace) < 2 || m.PathLength(trace) == 0 {
		return nil
	}
	step := m.params.SampleSpacing * m.unit
	out := []model.Point{trace[0].Point()}
	prev := trace[0].Point()
	carried := 0.0
	for i := 1; i < len(trace); i++ {
		cur := trace[i].Point()
		seg := model.Distance(prev, cur)
		for seg > 0 && carried+seg >= step {
			t := (step - carried) / seg
			prev = model.Point{X: prev.X + t*(cur.X-prev.X), Y: prev.Y + t*(cur.Y-prev.Y)}
			out = append(out, prev)
			seg = model.Distance(prev, cur)
			carried = 0
		}
		carried += seg
		prev = cur
	}
	last := trace[len(trace)-1].Point()
	if out[len(out)-1] != last {
		out = append(out, last)
	}
	return out
}

// PointCost is the distance from p to a key center.
func (m *Model) PointCost(p, center model.Point) float64 {
	return model.Distance(p, center) / m.unit
}

// Plausible reports whether p is close enough to center to traverse the key.
func (m *Model) Plausible(p, center model.Point) bool {
	return m.PointCost(p, center) <= m.params.Radius
}

// SampleDeviation is the penalty for one sample lying off the from→to segment.
func (m *Model) SampleDeviation(p, from, to model.Point) float64 {
	d := distToSegment(p, from, to)/m.unit - m.params.Tolerance
	if d <= 0 {
		return 0
	}
	return d * m.params.DeviationWeight
}

// SegmentCost sums SampleDeviation over samples.
func (m *Model) SegmentCost(samples []model.Point, from, to model.Point) float64 {
	total := 0.0
	for _, p := range samples {
		total += m.SampleDeviation(p, from, to)
	}
	return total
}

// KeySequence maps a word to key centers. Letters without a key are skipped
// and runs of the same key collapse to one. ok is false if no letter has a key.
func (m *Model) KeySequence(word string) ([]model.Point, bool) {
	var keys []model.Point
	for _, r := range word {
		c, ok := m.KeyFor(r)
		if !ok {
			continue
		}
		if len(keys) > 0 && keys[len(keys)-1] == c {
			continue
		}
		keys = append(keys, c)
	}
	return keys, len(keys) > 0
}

// Cost returns the cost of the best monotonic alignment of word onto the
// resampled trace: the first key at the first sample, the last key at the
// last sample, every key plausible where it is aligned. ok is false when no
// such alignment exists.
func (m *Model) Cost(samples []model.Point, word string) (float64, bool) {
	n := len(samples)
	if n == 0 {
		return 0, false
	}
	keys, ok := m.KeySequence(word)
	if !ok {
		return 0, false
	}
	first, last := samples[0], samples[n-1]
	if !m.Plausible(first, keys[0]) || !m.Plausible(last, keys[len(keys)-1]) {
		return 0, false
	}
	if len(keys) == 1 {
		k := keys[0]
		cost := m.PointCost(first, k) + m.PointCost(last, k)
		if n > 2 {
			cost += m.SegmentCost(samples[1:n-1], k, k)
		}
		return cost, true
	}

	inf := math.Inf(1)
	prev := make([]float64, n)
	cur := make([]float64, n)
	for i := range prev {
		prev[i] = inf
	}
	prev[0] = m.PointCost(first, keys[0])

	for k := 1; k < len(keys); k++ {
		from, to := keys[k-1], keys[k]
		for i := 0; i < n; i++ {
			cur[i] = inf
			if !m.Plausible(samples[i], to) {
				continue
			}
			best := inf
			seg := 0.0
			for j := i; j >= 0; j-- {
				if j+1 <= i-1 {
					seg += m.SampleDeviation(samples[j+1], from, to)
				}
				if prev[j] == inf {
					continue
				}
				if c := prev[j] + seg; c < best {
					best = c
				}
			}
			if best < inf {
				cur[i] = best + m.PointCost(samples[i], to)
			}
		}
		prev, cur = cur, prev
	}
	if prev[n-1] == inf {
		return 0, false
	}
	return prev[n-1], true
}

func distToSegment(p, a, b model.Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return model.Distance(p, a)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	return model.Distance(p, model.Point{X: a.X + t*dx, Y: a.Y + t*dy})
}
