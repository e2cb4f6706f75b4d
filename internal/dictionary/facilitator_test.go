package dictionary

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/verte-zerg/glide/internal/generator"
	"github.com/verte-zerg/glide/internal/layout"
	"github.com/verte-zerg/glide/internal/lexicon"
	"github.com/verte-zerg/glide/internal/model"
	"github.com/verte-zerg/glide/internal/recognizer"
	"github.com/verte-zerg/glide/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memHistory is a writable history source that records persisted values.
type memHistory struct {
	mu      sync.Mutex
	words   map[string]uint32
	bigrams map[[2]string]uint32
	failErr error
}

func newMemHistory() *memHistory {
	return &memHistory{words: map[string]uint32{}, bigrams: map[[2]string]uint32{}}
}

func (h *memHistory) Name() string           { return "mem-history" }
func (h *memHistory) Kind() model.SourceKind { return model.SourceUserHistory }

func (h *memHistory) Load(_ context.Context, _ string) (Contents, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var entries []model.LexiconEntry
	for w, f := range h.words {
		entries = append(entries, model.LexiconEntry{Word: w, Frequency: f})
	}
	bigrams := map[[2]string]uint32{}
	for k, v := range h.bigrams {
		bigrams[k] = v
	}
	return Contents{Entries: entries, Bigrams: bigrams}, nil
}

func (h *memHistory) PersistWord(_ context.Context, _, word string, freq uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failErr != nil {
		return h.failErr
	}
	h.words[word] = freq
	return nil
}

func (h *memHistory) PersistBigram(_ context.Context, _, prev, next string, freq uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bigrams[[2]string{prev, next}] = freq
	return nil
}

func (h *memHistory) frequency(word string) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.words[word]
}

func staticMain(locales map[string][]model.LexiconEntry) *StaticSource {
	return &StaticSource{SourceKind: model.SourceMain, Locales: locales}
}

func englishMain() *StaticSource {
	return staticMain(map[string][]model.LexiconEntry{
		"en": {
			{Word: "the", Frequency: 100},
			{Word: "there", Frequency: 70},
			{Word: "then", Frequency: 50},
			{Word: "more", Frequency: 80},
			{Word: "morning", Frequency: 20},
		},
		"fr": {
			{Word: "bonjour", Frequency: 40},
		},
	})
}

func newFacilitator(t *testing.T, sources []Source, opts ...Option) *Facilitator {
	t.Helper()
	f, err := New(DefaultConfig(), sources, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func load(t *testing.T, f *Facilitator, locale string) LoadReport {
	t.Helper()
	select {
	case r := <-f.LoadDictionariesForLocale(locale):
		return r
	case <-time.After(5 * time.Second):
		t.Fatalf("load of %s timed out", locale)
		return LoadReport{}
	}
}

func TestGetSuggestionsPrefix(t *testing.T) {
	f := newFacilitator(t, []Source{englishMain()})
	report := load(t, f, "en")
	require.NoError(t, report.Err)
	assert.Equal(t, 5, report.Words[model.SourceMain])

	words, err := f.GetSuggestions(context.Background(), Query{Prefix: "the"}, "en")
	require.NoError(t, err)
	assert.Equal(t, []string{"the", "there", "then"}, words.Strings())

	// Cached path returns the same ranking.
	again, err := f.GetSuggestions(context.Background(), Query{Prefix: "the"}, "en")
	require.NoError(t, err)
	assert.Equal(t, words, again)
}

func TestGetSuggestionsLocaleMismatch(t *testing.T) {
	f := newFacilitator(t, []Source{englishMain()})

	words, err := f.GetSuggestions(context.Background(), Query{Prefix: "t"}, "en")
	require.NoError(t, err)
	assert.Zero(t, words.Len(), "nothing is active before the first load")

	load(t, f, "en")
	words, err = f.GetSuggestions(context.Background(), Query{Prefix: "t"}, "de")
	require.NoError(t, err)
	assert.Zero(t, words.Len())

	ok, err := f.IsValidWord("the", "en")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.IsValidWord("zzz", "en")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMergeAcrossStoresOneCandidate(t *testing.T) {
	hist := newMemHistory()
	hist.words["the"] = 5
	f := newFacilitator(t, []Source{englishMain(), hist})
	load(t, f, "en")

	words, err := f.GetSuggestions(context.Background(), Query{Prefix: "the"}, "en")
	require.NoError(t, err)
	count := 0
	for _, c := range words.Words {
		if c.Word == "the" {
			count++
			assert.Equal(t, model.SourceUserHistory, c.Source)
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, "the", words.Strings()[0])
}

func TestCorruptSourceDegrades(t *testing.T) {
	broken := &StaticSource{SourceKind: model.SourceContacts, Err: errors.New("corrupt")}
	hist := newMemHistory()
	hist.words["thesis"] = 3
	f := newFacilitator(t, []Source{englishMain(), broken, hist})

	report := load(t, f, "en")
	require.NoError(t, report.Err)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, model.SourceContacts, report.Failed[0].Kind)

	select {
	case d := <-f.Diagnostics():
		assert.Equal(t, model.SourceContacts, d.Kind)
		assert.EqualError(t, d.Err, "corrupt")
	case <-time.After(time.Second):
		t.Fatal("expected a diagnostic")
	}

	words, err := f.GetSuggestions(context.Background(), Query{Prefix: "the"}, "en")
	require.NoError(t, err)
	assert.Contains(t, words.Strings(), "the")
	assert.Contains(t, words.Strings(), "thesis")
	assert.Len(t, f.Snapshot().Stores(), 3)
}

func TestAddOrBumpWordPersists(t *testing.T) {
	hist := newMemHistory()
	f := newFacilitator(t, []Source{englishMain(), hist})
	load(t, f, "en")
	ctx := context.Background()

	before, err := f.GetSuggestions(ctx, Query{Prefix: "gl"}, "en")
	require.NoError(t, err)
	assert.Zero(t, before.Len())

	require.NoError(t, f.AddOrBumpWord(ctx, "glide", "en"))
	require.NoError(t, f.AddOrBumpWord(ctx, "glide", "en"))
	assert.Equal(t, uint32(2), hist.frequency("glide"))

	after, err := f.GetSuggestions(ctx, Query{Prefix: "gl"}, "en")
	require.NoError(t, err)
	require.Equal(t, 1, after.Len(), "learning must invalidate cached suggestions")
	assert.Equal(t, model.SourceUserHistory, after.Words[0].Source)
	assert.Equal(t, uint32(2), after.Words[0].Frequency)

	// Wrong locale and empty words are ignored.
	require.NoError(t, f.AddOrBumpWord(ctx, "glide", "fr"))
	require.NoError(t, f.AddOrBumpWord(ctx, "  ", "en"))
	assert.Equal(t, uint32(2), hist.frequency("glide"))
}

func TestAddOrBumpWordWithoutHistory(t *testing.T) {
	f := newFacilitator(t, []Source{englishMain()})
	load(t, f, "en")
	require.NoError(t, f.AddOrBumpWord(context.Background(), "glide", "en"))
	ok, err := f.IsValidWord("glide", "en")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersistFailureIsDiagnostic(t *testing.T) {
	hist := newMemHistory()
	hist.failErr = errors.New("disk full")
	f := newFacilitator(t, []Source{englishMain(), hist})
	load(t, f, "en")

	require.NoError(t, f.AddOrBumpWord(context.Background(), "glide", "en"))
	select {
	case d := <-f.Diagnostics():
		assert.Equal(t, model.SourceUserHistory, d.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a diagnostic")
	}
	ok, err := f.IsValidWord("glide", "en")
	require.NoError(t, err)
	assert.True(t, ok, "in-memory learning survives persistence failure")
}

func TestBigramContextBoost(t *testing.T) {
	hist := newMemHistory()
	f := newFacilitator(t, []Source{englishMain(), hist})
	load(t, f, "en")
	ctx := context.Background()

	words, err := f.GetSuggestions(ctx, Query{Prefix: "mor", PreviousWord: "good"}, "en")
	require.NoError(t, err)
	assert.Equal(t, []string{"more", "morning"}, words.Strings())

	for i := 0; i < 20; i++ {
		require.NoError(t, f.LearnBigram(ctx, "good", "morning", "en"))
	}
	words, err = f.GetSuggestions(ctx, Query{Prefix: "mor", PreviousWord: "good"}, "en")
	require.NoError(t, err)
	assert.Equal(t, []string{"morning", "more"}, words.Strings())
	assert.Equal(t, uint32(20), hist.bigrams[[2]string{"good", "morning"}])
}

func TestOnGestureSuggestionsBumpsTopWord(t *testing.T) {
	hist := newMemHistory()
	f := newFacilitator(t, []Source{englishMain(), hist})
	load(t, f, "en")

	words := model.SuggestedWords{Words: []model.Candidate{{Word: "there"}, {Word: "the"}}}
	require.NoError(t, f.OnGestureSuggestions(context.Background(), "en", words, model.ComposingRegion{Start: 3, Length: 5}))
	assert.Equal(t, uint32(1), hist.frequency("there"))
	assert.Zero(t, hist.frequency("the"))
	require.NoError(t, f.OnGestureSuggestions(context.Background(), "en", model.SuggestedWords{}, model.ComposingRegion{}))
}

// slowHistory reads its contents, then holds the load until gate closes.
type slowHistory struct {
	*memHistory
	gate    chan struct{}
	entered chan struct{}
}

func (h *slowHistory) Load(ctx context.Context, locale string) (Contents, error) {
	contents, err := h.memHistory.Load(ctx, locale)
	if h.gate == nil {
		return contents, err
	}
	close(h.entered)
	select {
	case <-h.gate:
	case <-ctx.Done():
		return Contents{}, ctx.Err()
	}
	return contents, err
}

func TestLearningDoesNotWaitForHistoryLoad(t *testing.T) {
	hist := &slowHistory{memHistory: newMemHistory()}
	hist.words["glide"] = 50
	f := newFacilitator(t, []Source{englishMain(), hist})
	load(t, f, "en")

	hist.gate = make(chan struct{})
	hist.entered = make(chan struct{})
	reload := f.LoadDictionariesForLocale("en")
	<-hist.entered

	learned := make(chan error, 1)
	go func() {
		ctx := context.Background()
		if err := f.AddOrBumpWord(ctx, "glide", "en"); err != nil {
			learned <- err
			return
		}
		learned <- f.LearnBigram(ctx, "the", "glide", "en")
	}()
	select {
	case err := <-learned:
		require.NoError(t, err)
	case <-time.After(time.Second):
		close(hist.gate)
		<-reload
		t.Fatal("learning blocked on history load")
	}
	assert.Equal(t, uint32(51), hist.frequency("glide"))

	close(hist.gate)
	report := <-reload
	require.NoError(t, report.Err)
	require.Empty(t, report.Failed)

	snap := f.Snapshot()
	require.NotNil(t, snap.history)
	e, ok := snap.history.Lookup("glide")
	require.True(t, ok)
	assert.Equal(t, uint32(51), e.Frequency, "learning during the load survives publication")
	assert.Equal(t, uint32(1), snap.history.Bigram("the", "glide"))

	require.NoError(t, f.AddOrBumpWord(context.Background(), "glide", "en"))
	assert.Equal(t, uint32(52), hist.frequency("glide"))
}

// failingHistory cannot be read but would accept writes.
type failingHistory struct {
	*memHistory
}

func (h failingHistory) Load(context.Context, string) (Contents, error) {
	return Contents{}, errors.New("database is locked")
}

func TestFailedHistoryLoadDisablesLearning(t *testing.T) {
	hist := failingHistory{newMemHistory()}
	hist.words["glide"] = 50
	f := newFacilitator(t, []Source{englishMain(), hist})
	report := load(t, f, "en")
	require.Len(t, report.Failed, 1)
	assert.Equal(t, model.SourceUserHistory, report.Failed[0].Kind)

	ctx := context.Background()
	require.NoError(t, f.AddOrBumpWord(ctx, "glide", "en"))
	require.NoError(t, f.LearnBigram(ctx, "the", "glide", "en"))
	require.NoError(t, f.OnGestureSuggestions(ctx, "en", model.SuggestedWords{Words: []model.Candidate{{Word: "glide"}}}, model.ComposingRegion{}))

	assert.Equal(t, uint32(50), hist.frequency("glide"), "stored count must not be overwritten")
	hist.mu.Lock()
	assert.Empty(t, hist.bigrams)
	hist.mu.Unlock()
	ok, err := f.IsValidWord("glide", "en")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, f.Snapshot().persister)
}

func TestFrequencyWeightOrdersTraceSuggestions(t *testing.T) {
	main := staticMain(map[string][]model.LexiconEntry{
		"en": {
			{Word: "the", Frequency: 1},
			{Word: "tge", Frequency: 1_000_000},
		},
	})
	geo := layout.QWERTY()
	trace, err := generator.New(1).Trace("the", geo, generator.TraceOptions{Steps: 6, Interval: 8 * time.Millisecond})
	require.NoError(t, err)

	top := func(freqWeight float64) []string {
		cfg := recognizer.DefaultConfig()
		cfg.FrequencyWeight = freqWeight
		f := newFacilitator(t, []Source{main}, WithRecognizer(recognizer.New(cfg, nil)))
		load(t, f, "en")
		words, err := f.GetSuggestions(context.Background(), Query{Trace: trace, Geometry: geo}, "en")
		require.NoError(t, err)
		return words.Strings()
	}

	spatialOnly := top(0)
	require.Len(t, spatialOnly, 2)
	assert.Equal(t, "the", spatialOnly[0])

	frequent := top(1)
	require.Len(t, frequent, 2)
	assert.Equal(t, "tge", frequent[0])
}

// blockingRecognizer reports every word of the stores it was handed and
// waits for release before returning.
type blockingRecognizer struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingRecognizer) Recognize(_ context.Context, _ []model.TouchPoint, _ *model.KeyGeometry, stores []*lexicon.Store) recognizer.Result {
	b.once.Do(func() {
		close(b.started)
		<-b.release
	})
	var res recognizer.Result
	for _, s := range stores {
		for _, e := range s.Entries() {
			res.Candidates = append(res.Candidates, model.Candidate{Word: e.Word, Frequency: e.Frequency, Source: s.Kind()})
		}
	}
	return res
}

func TestInFlightRecognitionKeepsOldSet(t *testing.T) {
	rec := &blockingRecognizer{started: make(chan struct{}), release: make(chan struct{})}
	f := newFacilitator(t, []Source{englishMain()}, WithRecognizer(rec))
	load(t, f, "en")

	trace := []model.TouchPoint{{X: 0, Y: 0}, {X: 10, Y: 0, Time: time.Millisecond}}
	type result struct {
		words model.SuggestedWords
		err   error
	}
	done := make(chan result, 1)
	go func() {
		w, err := f.GetSuggestions(context.Background(), Query{Trace: trace}, "en")
		done <- result{w, err}
	}()
	<-rec.started

	report := load(t, f, "fr")
	require.NoError(t, report.Err)
	assert.Equal(t, "fr", f.Snapshot().Locale)

	close(rec.release)
	r := <-done
	require.NoError(t, r.err)
	assert.Contains(t, r.words.Strings(), "the")
	assert.NotContains(t, r.words.Strings(), "bonjour")

	fr, err := f.GetSuggestions(context.Background(), Query{Trace: trace}, "fr")
	require.NoError(t, err)
	assert.Equal(t, []string{"bonjour"}, fr.Strings())
}

// gatedSource blocks loads of one locale until released.
type gatedSource struct {
	*StaticSource
	locale  string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSource) Load(ctx context.Context, locale string) (Contents, error) {
	if locale == g.locale {
		close(g.entered)
		select {
		case <-g.release:
		case <-ctx.Done():
			return Contents{}, ctx.Err()
		}
	}
	return g.StaticSource.Load(ctx, locale)
}

func TestNewerLoadSupersedesOlder(t *testing.T) {
	src := &gatedSource{
		StaticSource: englishMain(),
		locale:       "en",
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	f := newFacilitator(t, []Source{src})

	slow := f.LoadDictionariesForLocale("en")
	<-src.entered
	fast := load(t, f, "fr")
	require.NoError(t, fast.Err)
	close(src.release)

	old := <-slow
	assert.True(t, old.Superseded)
	assert.Equal(t, "fr", f.Snapshot().Locale)
	assert.Equal(t, fast.Generation, f.Snapshot().Generation)
}

func TestCloseFailsLaterCalls(t *testing.T) {
	f, err := New(DefaultConfig(), []Source{englishMain()})
	require.NoError(t, err)
	load(t, f, "en")

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	_, err = f.GetSuggestions(context.Background(), Query{Prefix: "t"}, "en")
	assert.ErrorIs(t, err, ErrFacilitatorClosed)
	_, err = f.IsValidWord("the", "en")
	assert.ErrorIs(t, err, ErrFacilitatorClosed)
	assert.ErrorIs(t, f.AddOrBumpWord(context.Background(), "x", "en"), ErrFacilitatorClosed)
	assert.ErrorIs(t, f.Watch(context.Background()), ErrFacilitatorClosed)
	report := <-f.LoadDictionariesForLocale("en")
	assert.ErrorIs(t, report.Err, ErrFacilitatorClosed)
	assert.Nil(t, f.Snapshot())

	_, open := <-f.Diagnostics()
	assert.False(t, open)
}

func TestHistorySourceRoundTrip(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()

	f := newFacilitator(t, []Source{englishMain(), NewHistorySource(db)})
	load(t, f, "en")
	require.NoError(t, f.AddOrBumpWord(ctx, "glide", "en"))
	require.NoError(t, f.AddOrBumpWord(ctx, "glide", "en"))
	require.NoError(t, f.LearnBigram(ctx, "the", "glide", "en"))
	require.NoError(t, f.Close())

	again := newFacilitator(t, []Source{englishMain(), NewHistorySource(db)})
	load(t, again, "en")
	entry, ok := again.Snapshot().history.Lookup("glide")
	require.True(t, ok)
	assert.Equal(t, uint32(2), entry.Frequency)
	assert.Equal(t, uint32(1), again.Snapshot().history.Bigram("the", "glide"))
}

func TestWatchReloadsChangedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "en.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha 10\n"), 0o644))

	f := newFacilitator(t, []Source{NewFileSource(dir, model.SourceMain)})
	load(t, f, "en")
	gen := f.Snapshot().Generation

	ctx, cancel := context.WithCancel(context.Background())
	watchDone := make(chan error, 1)
	go func() { watchDone <- f.Watch(ctx) }()
	defer func() {
		cancel()
		<-watchDone
	}()

	var lastWrite time.Time
	require.Eventually(t, func() bool {
		// The watcher registers asynchronously, so rewrite now and then.
		if time.Since(lastWrite) > time.Second {
			_ = os.WriteFile(path, []byte("alpha 10\nbeta 20\n"), 0o644)
			lastWrite = time.Now()
		}
		snap := f.Snapshot()
		return snap.Generation > gen && snap.Stores()[0].Len() == 2
	}, 5*time.Second, 100*time.Millisecond)
}
