// Package dictionary manages the active set of lexicon stores for a locale:
// loading and hot-swapping them, answering suggestion queries across all
// stores, and recording what the user types.
package dictionary

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verte-zerg/glide/internal/lexicon"
	"github.com/verte-zerg/glide/internal/model"
	"github.com/verte-zerg/glide/internal/recognizer"
)

// ErrFacilitatorClosed is returned by every operation after Close.
var ErrFacilitatorClosed = errors.New("dictionary: facilitator closed")

// Config tunes ranking, caching and loading.
type Config struct {
	MaxResults      int
	Blend           string
	SecondaryWeight float64
	SpatialWeight   float64
	BigramWeight    float64
	SourceWeights   map[model.SourceKind]float64
	CacheSize       int
	LoadTimeout     time.Duration
}

// DefaultConfig returns the default ranking configuration.
func DefaultConfig() Config {
	return Config{
		MaxResults:      20,
		Blend:           BlendSum,
		SecondaryWeight: 0.5,
		SpatialWeight:   1.0,
		BigramWeight:    0.5,
		SourceWeights: map[model.SourceKind]float64{
			model.SourceMain:           1.0,
			model.SourceContacts:       1.1,
			model.SourceUserDictionary: 1.2,
			model.SourceUserHistory:    1.5,
		},
		CacheSize:   256,
		LoadTimeout: 30 * time.Second,
	}
}

func (c Config) weight(kind model.SourceKind) float64 {
	if w, ok := c.SourceWeights[kind]; ok {
		return w
	}
	return 1.0
}

// Recognizer turns a trace into per-store candidates.
type Recognizer interface {
	Recognize(ctx context.Context, trace []model.TouchPoint, geo *model.KeyGeometry, stores []*lexicon.Store) recognizer.Result
}

// Query is a suggestion request. A non-empty Trace takes precedence over
// Prefix.
type Query struct {
	Prefix       string
	Trace        []model.TouchPoint
	Geometry     *model.KeyGeometry
	PreviousWord string
}

// Diagnostic reports a source that failed to load.
type Diagnostic struct {
	Source string
	Kind   model.SourceKind
	Locale string
	Err    error
}

// LoadReport describes the outcome of one LoadDictionariesForLocale call.
type LoadReport struct {
	Locale     string
	Generation uint64
	Words      map[model.SourceKind]int
	Failed     []Diagnostic
	// Superseded is set when a newer load request replaced this one before
	// it was published.
	Superseded bool
	Err        error
}

// Snapshot is an immutable store set for one locale. Individual stores
// still accept learning updates under their own locks.
type Snapshot struct {
	Locale     string
	Generation uint64

	stores    []*lexicon.Store
	history   *lexicon.Store
	persister Persister
}

// Stores returns the stores ordered by descending priority.
func (s *Snapshot) Stores() []*lexicon.Store {
	out := make([]*lexicon.Store, len(s.stores))
	copy(out, s.stores)
	return out
}

// Option configures a Facilitator.
type Option func(*Facilitator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Facilitator) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithRecognizer replaces the default gesture recognizer.
func WithRecognizer(r Recognizer) Option {
	return func(f *Facilitator) { f.rec = r }
}

// learnedUpdate is a learning result recorded while a load is in flight.
// Counts are absolute, so applying one the load already read is harmless.
type learnedUpdate struct {
	locale string
	prev   string // empty for word updates
	word   string
	count  uint32
}

type cacheKey struct {
	generation uint64
	learned    uint64
	prefix     string
	previous   string
}

// Facilitator owns the active store set. Queries read a published Snapshot
// without locking; learning updates are serialized by writeMu.
type Facilitator struct {
	cfg     Config
	sources []Source
	logger  *zap.Logger
	rec     Recognizer

	current atomic.Pointer[Snapshot]
	loadSeq atomic.Uint64
	gen     atomic.Uint64
	learned atomic.Uint64
	closed  atomic.Bool

	writeMu sync.Mutex
	loading int             // guarded by writeMu
	journal []learnedUpdate // guarded by writeMu
	cache   *lru.Cache[cacheKey, []model.Candidate]
	diags   chan Diagnostic

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New builds a facilitator over sources. No store is active until the first
// LoadDictionariesForLocale publishes.
func New(cfg Config, sources []Source, opts ...Option) (*Facilitator, error) {
	def := DefaultConfig()
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.Blend == "" {
		cfg.Blend = def.Blend
	}
	if cfg.SourceWeights == nil {
		cfg.SourceWeights = def.SourceWeights
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = def.LoadTimeout
	}
	cache, err := lru.New[cacheKey, []model.Candidate](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &Facilitator{
		cfg:     cfg,
		sources: sources,
		logger:  zap.NewNop(),
		cache:   cache,
		diags:   make(chan Diagnostic, 64),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.rec == nil {
		rc := recognizer.DefaultConfig()
		rc.MaxResults = cfg.MaxResults
		f.rec = recognizer.New(rc, f.logger.Named("recognizer"))
	}
	return f, nil
}

// Snapshot returns the active store set or nil before the first load.
func (f *Facilitator) Snapshot() *Snapshot {
	return f.current.Load()
}

// Diagnostics delivers source load failures. The channel is closed by Close.
// Failures are dropped when nobody drains it; they are always logged.
func (f *Facilitator) Diagnostics() <-chan Diagnostic {
	return f.diags
}

// GetSuggestions ranks words matching a prefix or a gesture trace across all
// active stores. A locale other than the active one yields no words.
func (f *Facilitator) GetSuggestions(ctx context.Context, q Query, locale string) (model.SuggestedWords, error) {
	if f.closed.Load() {
		return model.SuggestedWords{}, ErrFacilitatorClosed
	}
	if err := ctx.Err(); err != nil {
		return model.SuggestedWords{}, err
	}
	snap := f.current.Load()
	if snap == nil || snap.Locale != locale {
		return model.SuggestedWords{}, nil
	}
	if len(q.Trace) > 0 {
		return f.recognize(ctx, snap, q), nil
	}

	key := cacheKey{
		generation: snap.Generation,
		learned:    f.learned.Load(),
		prefix:     q.Prefix,
		previous:   q.PreviousWord,
	}
	if words, ok := f.cache.Get(key); ok {
		return model.SuggestedWords{Words: words}, nil
	}
	var hits []Hit
	for _, s := range snap.stores {
		for _, e := range s.PrefixLookup(q.Prefix, f.cfg.MaxResults*2) {
			if e.Shortcut && e.Word != q.Prefix {
				continue
			}
			hits = append(hits, Hit{
				Word:      e.Word,
				Frequency: e.Frequency,
				Source:    s.Kind(),
				Priority:  s.Priority(),
			})
		}
	}
	f.boost(snap, q.PreviousWord, hits)
	words := Merge(f.cfg, hits)
	f.cache.Add(key, words)
	return model.SuggestedWords{Words: words}, nil
}

func (f *Facilitator) recognize(ctx context.Context, snap *Snapshot, q Query) model.SuggestedWords {
	res := f.rec.Recognize(ctx, q.Trace, q.Geometry, snap.stores)
	prio := make(map[model.SourceKind]int, len(snap.stores))
	for _, s := range snap.stores {
		prio[s.Kind()] = s.Priority()
	}
	hits := make([]Hit, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		hits = append(hits, Hit{
			Word:        c.Word,
			Frequency:   c.Frequency,
			Source:      c.Source,
			Priority:    prio[c.Source],
			SpatialCost: c.SpatialCost,
		})
	}
	f.boost(snap, q.PreviousWord, hits)
	var s Scorer = defaultScorer{spatialWeight: f.cfg.SpatialWeight}
	if rs, ok := f.rec.(Scorer); ok {
		s = rs
	}
	return model.SuggestedWords{Words: MergeWith(f.cfg, s, hits), Partial: res.Partial}
}

// boost adds bigram context from every store to hits.
func (f *Facilitator) boost(snap *Snapshot, previous string, hits []Hit) {
	if previous == "" || f.cfg.BigramWeight <= 0 {
		return
	}
	for i := range hits {
		var count uint32
		for _, s := range snap.stores {
			count += s.Bigram(previous, hits[i].Word)
		}
		if count > 0 {
			hits[i].Boost = f.cfg.BigramWeight * math.Log1p(float64(count))
		}
	}
}

// IsValidWord reports whether any active store holds word.
func (f *Facilitator) IsValidWord(word, locale string) (bool, error) {
	if f.closed.Load() {
		return false, ErrFacilitatorClosed
	}
	snap := f.current.Load()
	if snap == nil || snap.Locale != locale || word == "" {
		return false, nil
	}
	for _, s := range snap.stores {
		if _, ok := s.Lookup(word); ok {
			return true, nil
		}
	}
	return false, nil
}

// AddOrBumpWord counts one use of word in user history, adding it when
// absent. It is a no-op when no writable history store is active for locale.
func (f *Facilitator) AddOrBumpWord(ctx context.Context, word, locale string) error {
	word = strings.TrimSpace(word)
	if word == "" {
		return nil
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if f.closed.Load() {
		return ErrFacilitatorClosed
	}
	snap := f.current.Load()
	if snap == nil || snap.Locale != locale || snap.history == nil {
		return nil
	}
	entry, err := snap.history.Bump(word, 1)
	if err != nil {
		if errors.Is(err, lexicon.ErrReadOnly) {
			return nil
		}
		return err
	}
	f.learned.Add(1)
	f.recordLocked(learnedUpdate{locale: locale, word: entry.Word, count: entry.Frequency})
	if snap.persister != nil {
		if err := snap.persister.PersistWord(ctx, locale, entry.Word, entry.Frequency); err != nil {
			f.report(Diagnostic{Source: "history", Kind: model.SourceUserHistory, Locale: locale, Err: err})
		}
	}
	return nil
}

// LearnBigram counts word following previous in user history.
func (f *Facilitator) LearnBigram(ctx context.Context, previous, word, locale string) error {
	previous, word = strings.TrimSpace(previous), strings.TrimSpace(word)
	if previous == "" || word == "" {
		return nil
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if f.closed.Load() {
		return ErrFacilitatorClosed
	}
	snap := f.current.Load()
	if snap == nil || snap.Locale != locale || snap.history == nil {
		return nil
	}
	count, err := snap.history.BumpBigram(previous, word, 1)
	if err != nil {
		if errors.Is(err, lexicon.ErrReadOnly) {
			return nil
		}
		return err
	}
	f.learned.Add(1)
	f.recordLocked(learnedUpdate{locale: locale, prev: previous, word: word, count: count})
	if snap.persister != nil {
		if err := snap.persister.PersistBigram(ctx, locale, previous, word, count); err != nil {
			f.report(Diagnostic{Source: "history", Kind: model.SourceUserHistory, Locale: locale, Err: err})
		}
	}
	return nil
}

// recordLocked journals u while a load may publish a history store that
// has not seen it.
func (f *Facilitator) recordLocked(u learnedUpdate) {
	if f.loading > 0 {
		f.journal = append(f.journal, u)
	}
}

// OnGestureSuggestions records the top gesture hypothesis as used.
func (f *Facilitator) OnGestureSuggestions(ctx context.Context, locale string, words model.SuggestedWords, region model.ComposingRegion) error {
	first, ok := words.First()
	if !ok {
		return nil
	}
	f.logger.Debug("gesture suggestions",
		zap.String("locale", locale),
		zap.String("word", first.Word),
		zap.Int("candidates", words.Len()),
		zap.Int("composing_start", region.Start),
		zap.Int("composing_length", region.Length),
	)
	return f.AddOrBumpWord(ctx, first.Word, locale)
}

// LoadDictionariesForLocale loads every source for locale in the background
// and publishes the new store set atomically. The previous set stays active
// until then, and learning is never blocked by a load. The returned channel
// yields exactly one report.
func (f *Facilitator) LoadDictionariesForLocale(locale string) <-chan LoadReport {
	ch := make(chan LoadReport, 1)
	f.writeMu.Lock()
	if f.closed.Load() {
		f.writeMu.Unlock()
		ch <- LoadReport{Locale: locale, Err: ErrFacilitatorClosed}
		close(ch)
		return ch
	}
	seq := f.loadSeq.Add(1)
	f.loading++
	f.wg.Add(1)
	f.writeMu.Unlock()
	go func() {
		defer f.wg.Done()
		defer close(ch)
		defer f.loadDone()
		ch <- f.load(seq, locale)
	}()
	return ch
}

func (f *Facilitator) load(seq uint64, locale string) LoadReport {
	report := LoadReport{Locale: locale, Words: map[model.SourceKind]int{}}
	ctx, cancel := context.WithTimeout(f.ctx, f.cfg.LoadTimeout)
	defer cancel()

	start := time.Now()
	stores := make([]*lexicon.Store, len(f.sources))
	failed := make([]*Diagnostic, len(f.sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range f.sources {
		g.Go(func() error {
			stores[i], failed[i] = f.loadSource(gctx, src, locale)
			return nil
		})
	}
	_ = g.Wait()

	if f.loadSeq.Load() != seq {
		report.Superseded = true
		return report
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if f.closed.Load() {
		report.Err = ErrFacilitatorClosed
		return report
	}
	if f.loadSeq.Load() != seq {
		report.Superseded = true
		return report
	}
	var (
		history   *lexicon.Store
		persister Persister
	)
	for i, src := range f.sources {
		p, ok := src.(Persister)
		if !ok || failed[i] != nil || src.Kind() != model.SourceUserHistory {
			continue
		}
		history, persister = stores[i], p
		break
	}
	if history != nil {
		f.replayLocked(history, locale)
	}

	snap := &Snapshot{
		Locale:     locale,
		Generation: f.gen.Add(1),
		stores:     stores,
		history:    history,
		persister:  persister,
	}
	sort.SliceStable(snap.stores, func(i, j int) bool {
		return snap.stores[i].Priority() > snap.stores[j].Priority()
	})
	f.current.Store(snap)
	f.cache.Purge()

	report.Generation = snap.Generation
	for _, s := range stores {
		report.Words[s.Kind()] += s.Len()
	}
	for _, d := range failed {
		if d != nil {
			report.Failed = append(report.Failed, *d)
		}
	}
	f.logger.Info("dictionaries published",
		zap.String("locale", locale),
		zap.Uint64("generation", snap.Generation),
		zap.Int("stores", len(stores)),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return report
}

// replayLocked applies learning journaled while history was loading.
func (f *Facilitator) replayLocked(history *lexicon.Store, locale string) {
	for _, u := range f.journal {
		if u.locale != locale {
			continue
		}
		if u.prev != "" {
			history.SetBigrams(map[[2]string]uint32{{u.prev, u.word}: u.count})
			continue
		}
		if err := history.SetFrequency(u.word, u.count); err != nil {
			f.logger.Warn("failed to replay learned word", zap.String("word", u.word), zap.Error(err))
		}
	}
}

// loadDone drops the journal once no load is left to replay it.
func (f *Facilitator) loadDone() {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	f.loading--
	if f.loading == 0 {
		f.journal = nil
	}
}

// loadSource never fails: a broken source becomes an empty read-only store
// and a diagnostic. Learning is disabled for it so counts it could not read
// are never overwritten.
func (f *Facilitator) loadSource(ctx context.Context, src Source, locale string) (*lexicon.Store, *Diagnostic) {
	contents, err := src.Load(ctx, locale)
	if err != nil {
		d := Diagnostic{Source: src.Name(), Kind: src.Kind(), Locale: locale, Err: err}
		f.report(d)
		return lexicon.New(src.Kind(), nil), &d
	}
	var opts []lexicon.Option
	if _, ok := src.(Persister); ok {
		opts = append(opts, lexicon.Writable())
	}
	s := lexicon.New(src.Kind(), contents.Entries, opts...)
	if len(contents.Bigrams) > 0 {
		s.SetBigrams(contents.Bigrams)
	}
	return s, nil
}

func (f *Facilitator) report(d Diagnostic) {
	f.logger.Warn("dictionary source failed",
		zap.String("source", d.Source),
		zap.Stringer("kind", d.Kind),
		zap.String("locale", d.Locale),
		zap.Error(d.Err),
	)
	if f.closed.Load() {
		return
	}
	select {
	case f.diags <- d:
	default:
	}
}

// Close stops background loads and releases the active stores. It is
// idempotent; every other operation fails with ErrFacilitatorClosed
// afterwards.
func (f *Facilitator) Close() error {
	f.closeOnce.Do(func() {
		f.writeMu.Lock()
		f.closed.Store(true)
		f.writeMu.Unlock()
		f.cancel()
		f.wg.Wait()
		f.current.Store(nil)
		f.cache.Purge()
		close(f.diags)
	})
	return nil
}
