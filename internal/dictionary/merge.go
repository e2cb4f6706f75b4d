package dictionary

import (
	"math"
	"sort"

	"github.com/verte-zerg/glide/internal/model"
)

// Blend modes.
const (
	BlendSum = "sum"
	BlendMax = "max"
)

// Hit is one word found in one store.
type Hit struct {
	Word        string
	Frequency   uint32
	Source      model.SourceKind
	Priority    int
	SpatialCost float64
	// Boost is added to the blended score once, e.g. for bigram context.
	Boost float64
}

// Scorer turns a frequency and a spatial cost into a ranking value. The
// recognizer implements it so its weights carry through to merged results.
type Scorer interface {
	Score(freq uint32, cost float64) float64
}

type defaultScorer struct {
	spatialWeight float64
}

func (s defaultScorer) Score(freq uint32, cost float64) float64 {
	return math.Log1p(float64(freq)) - s.spatialWeight*cost
}

type ranked struct {
	model.Candidate
	priority int
}

// Merge folds hits into one candidate per word. The highest-priority source
// supplies the reported source and frequency; the other sources add their
// weighted score scaled by SecondaryWeight (zero in max mode). Results are
// sorted by score, source priority, then word and truncated to MaxResults.
func Merge(cfg Config, hits []Hit) []model.Candidate {
	return MergeWith(cfg, defaultScorer{spatialWeight: cfg.SpatialWeight}, hits)
}

// MergeWith is Merge with frequency and spatial cost weighted by s.
func MergeWith(cfg Config, s Scorer, hits []Hit) []model.Candidate {
	if len(hits) == 0 {
		return nil
	}
	groups := make(map[string][]Hit, len(hits))
	order := make([]string, 0, len(hits))
	for _, h := range hits {
		if _, ok := groups[h.Word]; !ok {
			order = append(order, h.Word)
		}
		groups[h.Word] = append(groups[h.Word], h)
	}

	secondary := cfg.SecondaryWeight
	if cfg.Blend == BlendMax {
		secondary = 0
	}

	out := make([]ranked, 0, len(order))
	for _, word := range order {
		g := groups[word]
		sort.SliceStable(g, func(i, j int) bool { return g[i].Priority > g[j].Priority })
		top := g[0]
		score := cfg.weight(top.Source) * s.Score(top.Frequency, 0)
		boost := top.Boost
		for _, h := range g[1:] {
			score += secondary * cfg.weight(h.Source) * s.Score(h.Frequency, 0)
			boost = math.Max(boost, h.Boost)
		}
		score += boost
		score += s.Score(0, top.SpatialCost)
		out = append(out, ranked{
			Candidate: model.Candidate{
				Word:        word,
				Score:       score,
				Source:      top.Source,
				Frequency:   top.Frequency,
				SpatialCost: top.SpatialCost,
			},
			priority: top.Priority,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		return a.Word < b.Word
	})
	if cfg.MaxResults > 0 && len(out) > cfg.MaxResults {
		out = out[:cfg.MaxResults]
	}
	cands := make([]model.Candidate, len(out))
	for i := range out {
		cands[i] = out[i].Candidate
	}
	return cands
}
