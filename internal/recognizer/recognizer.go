// Package recognizer turns a touch trace into ranked word hypotheses by
// walking lexicon tries with a spatial cost model.
package recognizer

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/verte-zerg/glide/internal/lexicon"
	"github.com/verte-zerg/glide/internal/model"
	"github.com/verte-zerg/glide/internal/spatial"
)

// Config tunes the beam search and the final ranking.
type Config struct {
	BeamWidth       int
	BatchSize       int
	MaxResults      int
	SpatialWeight   float64
	FrequencyWeight float64
	Spatial         spatial.Params
}

// DefaultConfig returns the defaults used by the CLI and the gesture engine.
func DefaultConfig() Config {
	return Config{
		BeamWidth:       32,
		BatchSize:       16,
		MaxResults:      20,
		SpatialWeight:   1.0,
		FrequencyWeight: 0.3,
		Spatial:         spatial.DefaultParams(),
	}
}

// Result holds ranked candidates. Partial is set when the context expired
// before the whole trace was consumed.
type Result struct {
	Candidates []model.Candidate
	Partial    bool
}

// Recognizer is stateless apart from its configuration and is safe for
// concurrent use.
type Recognizer struct {
	cfg    Config
	logger *zap.Logger
}

// New returns a recognizer. A nil logger discards output.
func New(cfg Config, logger *zap.Logger) *Recognizer {
	def := DefaultConfig()
	if cfg.BeamWidth <= 0 {
		cfg.BeamWidth = def.BeamWidth
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.SpatialWeight <= 0 {
		cfg.SpatialWeight = def.SpatialWeight
	}
	if cfg.FrequencyWeight < 0 {
		cfg.FrequencyWeight = def.FrequencyWeight
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recognizer{cfg: cfg, logger: logger}
}

// Config returns the effective configuration.
func (r *Recognizer) Config() Config { return r.cfg }

// Score combines frequency and spatial cost into one ranking value.
func (r *Recognizer) Score(freq uint32, cost float64) float64 {
	return r.cfg.FrequencyWeight*math.Log1p(float64(freq)) - r.cfg.SpatialWeight*cost
}

// Recognize searches every store for words the trace could spell. Each
// store contributes at most MaxResults candidates; the same word may appear
// once per store. Candidates are ranked with Rank.
func (r *Recognizer) Recognize(ctx context.Context, trace []model.TouchPoint, geo *model.KeyGeometry, stores []*lexicon.Store) Result {
	if geo == nil || geo.Empty() || len(trace) < 2 {
		return Result{}
	}
	m := spatial.New(geo, r.cfg.Spatial)
	samples := m.Resample(trace)
	if len(samples) < 2 {
		return Result{}
	}

	start := time.Now()
	var res Result
	for _, s := range stores {
		var (
			cands   []model.Candidate
			partial bool
		)
		s.Read(func(t *lexicon.Trie) {
			cands, partial = r.search(ctx, m, samples, t, s.Kind())
		})
		res.Candidates = append(res.Candidates, cands...)
		if partial {
			res.Partial = true
			break
		}
	}
	Rank(res.Candidates)
	r.logger.Debug("recognized trace",
		zap.Int("points", len(trace)),
		zap.Int("samples", len(samples)),
		zap.Int("candidates", len(res.Candidates)),
		zap.Bool("partial", res.Partial),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res
}

func (r *Recognizer) search(ctx context.Context, m *spatial.Model, samples []model.Point, t *lexicon.Trie, kind model.SourceKind) ([]model.Candidate, bool) {
	b := newBeam(m, t, samples, r.cfg.BeamWidth)
	b.seed()
	partial := false
	consumed := len(samples)
	for i := 1; i < len(samples); i++ {
		if i%r.cfg.BatchSize == 0 && ctx.Err() != nil {
			partial = true
			consumed = i
			break
		}
		b.step(i)
		if len(b.live) == 0 {
			break
		}
	}

	hyps := b.words()
	out := make([]model.Candidate, 0, len(hyps))
	for _, h := range hyps {
		cost := h.cost
		if consumed == len(samples) {
			c, ok := m.Cost(samples, h.entry.Word)
			if !ok {
				continue
			}
			cost = c
		}
		out = append(out, model.Candidate{
			Word:        h.entry.Word,
			Score:       r.Score(h.entry.Frequency, cost),
			Source:      kind,
			Frequency:   h.entry.Frequency,
			SpatialCost: cost,
		})
	}
	Rank(out)
	if len(out) > r.cfg.MaxResults {
		out = out[:r.cfg.MaxResults]
	}
	return out, partial
}

// Rank sorts candidates by score, then higher frequency, then shorter word,
// then word.
func Rank(c []model.Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		a, b := c[i], c[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Frequency != b.Frequency {
			return a.Frequency > b.Frequency
		}
		if len(a.Word) != len(b.Word) {
			return len(a.Word) < len(b.Word)
		}
		return a.Word < b.Word
	})
}
