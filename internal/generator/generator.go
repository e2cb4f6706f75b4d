// Package generator builds synthetic gesture traces and word samples.
package generator

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/verte-zerg/glide/internal/model"
)

// Generator produces randomized traces. It is not safe for concurrent use.
type Generator struct {
	rnd *rand.Rand
}

// New returns a Generator. A zero seed uses the current time.
func New(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{rnd: rand.New(rand.NewSource(seed))}
}

// TraceOptions shapes a synthetic trace.
type TraceOptions struct {
	// Jitter is the standard deviation of per-point noise in key widths.
	Jitter float64
	// Steps is the number of points per key-to-key segment.
	Steps int
	// Interval is the time between consecutive points.
	Interval time.Duration
}

// DefaultTraceOptions returns a light-noise trace shape.
func DefaultTraceOptions() TraceOptions {
	return TraceOptions{Jitter: 0.1, Steps: 6, Interval: 8 * time.Millisecond}
}

// Trace returns a trace that passes through the key center of every letter
// of word. Letters without a key are skipped; a word with fewer than one
// keyed letter is an error. Endpoints are not jittered.
func (g *Generator) Trace(word string, geo *model.KeyGeometry, opts TraceOptions) ([]model.TouchPoint, error) {
	if opts.Steps <= 0 {
		opts.Steps = 1
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Millisecond
	}
	var centers []model.Point
	for _, r := range word {
		k, ok := geo.KeyForRune(r)
		if !ok {
			continue
		}
		centers = append(centers, k.Center)
	}
	if len(centers) == 0 {
		return nil, fmt.Errorf("no keys for %q on layout %q", word, geo.Layout)
	}
	if len(centers) == 1 {
		// A tap-like gesture: a short wiggle on one key.
		c := centers[0]
		w := geo.KeyWidth() * 0.2
		centers = []model.Point{c, {X: c.X + w, Y: c.Y}, c}
	}

	unit := geo.KeyWidth()
	trace := []model.TouchPoint{{X: centers[0].X, Y: centers[0].Y}}
	for i := 1; i < len(centers); i++ {
		from, to := centers[i-1], centers[i]
		for s := 1; s <= opts.Steps; s++ {
			t := float64(s) / float64(opts.Steps)
			p := model.Point{X: from.X + t*(to.X-from.X), Y: from.Y + t*(to.Y-from.Y)}
			last := i == len(centers)-1 && s == opts.Steps
			if !last && opts.Jitter > 0 {
				p.X += g.rnd.NormFloat64() * opts.Jitter * unit
				p.Y += g.rnd.NormFloat64() * opts.Jitter * unit
			}
			trace = append(trace, model.TouchPoint{
				X:    p.X,
				Y:    p.Y,
				Time: time.Duration(len(trace)) * opts.Interval,
			})
		}
	}
	return trace, nil
}

// Words selects count words with probability proportional to frequency.
func (g *Generator) Words(entries []model.LexiconEntry, count int) []string {
	if len(entries) == 0 || count <= 0 {
		return nil
	}
	weights := make([]float64, len(entries))
	total := 0.0
	for i, e := range entries {
		w := float64(e.Frequency)
		if w <= 0 {
			w = 1
		}
		weights[i] = w
		total += w
	}

	result := make([]string, 0, count)
	for i := 0; i < count; i++ {
		r := g.rnd.Float64() * total
		acc := 0.0
		idx := len(entries) - 1
		for j, w := range weights {
			acc += w
			if r <= acc {
				idx = j
				break
			}
		}
		result = append(result, entries[idx].Word)
	}
	return result
}
