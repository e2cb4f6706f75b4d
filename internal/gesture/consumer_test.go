package gesture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/verte-zerg/glide/internal/dictionary"
	"github.com/verte-zerg/glide/internal/generator"
	"github.com/verte-zerg/glide/internal/layout"
	"github.com/verte-zerg/glide/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSuggester struct {
	mu       sync.Mutex
	calls    int
	traces   [][]model.TouchPoint
	deadline []bool
	words    model.SuggestedWords
	// block, when set, holds each call until it is closed or ctx ends.
	block   chan struct{}
	started chan struct{}
}

func (f *fakeSuggester) GetSuggestions(ctx context.Context, q dictionary.Query, _ string) (model.SuggestedWords, error) {
	f.mu.Lock()
	f.calls++
	f.traces = append(f.traces, q.Trace)
	_, ok := ctx.Deadline()
	f.deadline = append(f.deadline, ok)
	block, started := f.block, f.started
	f.mu.Unlock()
	if started != nil {
		close(started)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return model.SuggestedWords{}, ctx.Err()
		}
	}
	return f.words, nil
}

func (f *fakeSuggester) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLearner struct {
	mu     sync.Mutex
	words  []model.SuggestedWords
	region []model.ComposingRegion
}

func (l *fakeLearner) OnGestureSuggestions(_ context.Context, _ string, words model.SuggestedWords, region model.ComposingRegion) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.words = append(l.words, words)
	l.region = append(l.region, region)
	return nil
}

type fakeSink struct {
	mu   sync.Mutex
	cmds []PrivateCommand
}

func (s *fakeSink) PerformPrivateCommand(cmd PrivateCommand) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)
	return true
}

type fixedEditor model.ComposingRegion

func (e fixedEditor) ComposingRegion() model.ComposingRegion { return model.ComposingRegion(e) }

func feedLine(c Consumer, n int) {
	for i := 0; i < n; i++ {
		c.OnTouch(model.TouchPoint{X: float64(100 + 20*i), Y: 75, Time: time.Duration(i+1) * time.Millisecond})
	}
}

func TestDisabledConsumerIsNoop(t *testing.T) {
	c := New(Disabled, Deps{Suggester: &fakeSuggester{}})
	assert.False(t, c.WillConsume())
	c.OnInit("en", layout.QWERTY())
	assert.False(t, c.WillConsume())
	require.NoError(t, c.OnGestureStarted("", nil))
	feedLine(c, 3)
	c.OnGestureCanceled()
	words, err := c.OnGestureCompleted(context.Background())
	require.NoError(t, err)
	assert.Zero(t, words.Len())
	c.OnImeSuggestionsProcessed(context.Background(), words, 0, 0, &fakeLearner{})

	assert.IsType(t, disabledConsumer{}, New(Enabled, Deps{}), "enabled without suggester degrades")
}

func TestCompleteRecognizesOnce(t *testing.T) {
	sug := &fakeSuggester{words: model.SuggestedWords{Words: []model.Candidate{{Word: "the"}, {Word: "tie"}}}}
	learner := &fakeLearner{}
	sink := &fakeSink{}
	c := New(Enabled, Deps{
		Suggester: sug,
		Learner:   learner,
		Sink:      sink,
		Editor:    fixedEditor{Start: 4, Length: 3},
	})
	c.OnInit("en", layout.QWERTY())
	assert.True(t, c.WillConsume())

	require.NoError(t, c.OnGestureStarted("en", layout.QWERTY()))
	feedLine(c, 5)
	words, err := c.OnGestureCompleted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"the", "tie"}, words.Strings())

	assert.Equal(t, 1, sug.callCount())
	require.Len(t, sug.traces[0], 5)
	require.Len(t, learner.words, 1)
	assert.Equal(t, model.ComposingRegion{Start: 4, Length: 3}, learner.region[0])
	require.Len(t, sink.cmds, 1)
	assert.Equal(t, ActionGestureCompleted, sink.cmds[0].Action)
	assert.Equal(t, []string{"the", "tie"}, sink.cmds[0].Words)

	// Back to idle: a second completion has no gesture.
	_, err = c.OnGestureCompleted(context.Background())
	assert.ErrorIs(t, err, ErrStaleSession)
	assert.Equal(t, 1, sug.callCount())
}

func TestCancelNeverRecognizes(t *testing.T) {
	sug := &fakeSuggester{}
	c := New(Enabled, Deps{Suggester: sug})
	require.NoError(t, c.OnGestureStarted("en", layout.QWERTY()))
	feedLine(c, 5)
	c.OnGestureCanceled()
	c.OnGestureCanceled()

	_, err := c.OnGestureCompleted(context.Background())
	assert.ErrorIs(t, err, ErrStaleSession)
	assert.Zero(t, sug.callCount())
}

func TestTouchTimestampsMustIncrease(t *testing.T) {
	sug := &fakeSuggester{}
	c := New(Enabled, Deps{Suggester: sug})
	c.OnTouch(model.TouchPoint{X: 1, Time: 1}) // before start: dropped
	require.NoError(t, c.OnGestureStarted("en", layout.QWERTY()))
	for _, ms := range []int{10, 20, 20, 5, 30} {
		c.OnTouch(model.TouchPoint{X: float64(ms), Time: time.Duration(ms) * time.Millisecond})
	}
	_, err := c.OnGestureCompleted(context.Background())
	require.NoError(t, err)
	require.Len(t, sug.traces, 1)
	assert.Len(t, sug.traces[0], 3)
}

func TestInvalidLayout(t *testing.T) {
	c := New(Enabled, Deps{Suggester: &fakeSuggester{}})

	err := c.OnGestureStarted("en", nil)
	require.ErrorIs(t, err, ErrInvalidLayout)

	empty := model.NewKeyGeometry("blank", nil)
	err = c.OnGestureStarted("en", empty)
	var layoutErr *InvalidLayoutError
	require.True(t, errors.As(err, &layoutErr))
	assert.Equal(t, "blank", layoutErr.Layout)

	assert.ErrorIs(t, c.OnGestureStarted("", layout.QWERTY()), ErrInvalidLayout)

	// The failed starts left the consumer idle.
	_, err = c.OnGestureCompleted(context.Background())
	assert.ErrorIs(t, err, ErrStaleSession)
}

func TestCancelDiscardsInFlightRecognition(t *testing.T) {
	sug := &fakeSuggester{
		words:   model.SuggestedWords{Words: []model.Candidate{{Word: "late"}}},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	learner := &fakeLearner{}
	sink := &fakeSink{}
	c := New(Enabled, Deps{Suggester: sug, Learner: learner, Sink: sink})
	require.NoError(t, c.OnGestureStarted("en", layout.QWERTY()))
	feedLine(c, 5)

	errc := make(chan error, 1)
	go func() {
		_, err := c.OnGestureCompleted(context.Background())
		errc <- err
	}()
	<-sug.started
	c.OnGestureCanceled()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrStaleSession)
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not stop recognition")
	}
	assert.Empty(t, learner.words)
	assert.Empty(t, sink.cmds)
}

func TestRestartSupersedesCompletion(t *testing.T) {
	sug := &fakeSuggester{block: make(chan struct{}), started: make(chan struct{})}
	c := New(Enabled, Deps{Suggester: sug})
	require.NoError(t, c.OnGestureStarted("en", layout.QWERTY()))
	feedLine(c, 3)

	errc := make(chan error, 1)
	go func() {
		_, err := c.OnGestureCompleted(context.Background())
		errc <- err
	}()
	<-sug.started
	require.NoError(t, c.OnGestureStarted("en", layout.QWERTY()))
	assert.ErrorIs(t, <-errc, ErrStaleSession)

	sug.mu.Lock()
	sug.block, sug.started = nil, nil
	sug.mu.Unlock()
	feedLine(c, 3)
	_, err := c.OnGestureCompleted(context.Background())
	require.NoError(t, err)
}

func TestLongTraceRunsWithTimeout(t *testing.T) {
	sug := &fakeSuggester{}
	c := New(Enabled, Deps{Suggester: sug, Config: Config{SyncThreshold: 4, Timeout: time.Second}})

	require.NoError(t, c.OnGestureStarted("en", layout.QWERTY()))
	feedLine(c, 3)
	_, err := c.OnGestureCompleted(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.OnGestureStarted("en", layout.QWERTY()))
	feedLine(c, 10)
	_, err = c.OnGestureCompleted(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []bool{false, true}, sug.deadline)
	c.(*activeConsumer).wait()
}

// deadlineSuggester runs until its deadline passes and then reports the
// words found so far, the way the recognizer stops between batches.
type deadlineSuggester struct {
	best model.SuggestedWords
}

func (d deadlineSuggester) GetSuggestions(ctx context.Context, _ dictionary.Query, _ string) (model.SuggestedWords, error) {
	<-ctx.Done()
	words := d.best
	words.Partial = true
	return words, nil
}

func TestLongTraceTimeoutReturnsBestSoFar(t *testing.T) {
	sug := deadlineSuggester{best: model.SuggestedWords{Words: []model.Candidate{{Word: "the"}, {Word: "tie"}}}}
	learner := &fakeLearner{}
	sink := &fakeSink{}
	timeout := 20 * time.Millisecond
	c := New(Enabled, Deps{
		Suggester: sug,
		Learner:   learner,
		Sink:      sink,
		Config:    Config{SyncThreshold: 2, Timeout: timeout},
	})

	require.NoError(t, c.OnGestureStarted("en", layout.QWERTY()))
	feedLine(c, 10)
	start := time.Now()
	words, err := c.OnGestureCompleted(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), timeout)
	assert.True(t, words.Partial)
	assert.Equal(t, []string{"the", "tie"}, words.Strings())

	require.Len(t, learner.words, 1)
	assert.True(t, learner.words[0].Partial)
	require.Len(t, sink.cmds, 1)
	assert.Equal(t, []string{"the", "tie"}, sink.cmds[0].Words)
	c.(*activeConsumer).wait()
}

func TestImeSuggestionsProcessed(t *testing.T) {
	sink := &fakeSink{}
	learner := &fakeLearner{}
	c := New(Enabled, Deps{Suggester: &fakeSuggester{}, Sink: sink})
	c.OnInit("en", layout.QWERTY())

	words := model.SuggestedWords{Words: []model.Candidate{{Word: "hello"}}}
	c.OnImeSuggestionsProcessed(context.Background(), words, 7, 5, learner)
	require.Len(t, sink.cmds, 1)
	assert.Equal(t, ActionSuggestionsProcessed, sink.cmds[0].Action)
	assert.Equal(t, model.ComposingRegion{Start: 7, Length: 5}, sink.cmds[0].Region)
	assert.Equal(t, "en", sink.cmds[0].Locale)
	require.Len(t, learner.words, 1)
	c.OnImeSuggestionsProcessed(context.Background(), words, 0, 0, nil)
}

func TestRecognitionThroughFacilitator(t *testing.T) {
	src := &dictionary.StaticSource{
		SourceKind: model.SourceMain,
		Locales: map[string][]model.LexiconEntry{"en": {
			{Word: "the", Frequency: 100},
			{Word: "then", Frequency: 100},
			{Word: "tie", Frequency: 50},
		}},
	}
	f, err := dictionary.New(dictionary.DefaultConfig(), []dictionary.Source{src})
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, (<-f.LoadDictionariesForLocale("en")).Err)

	geo := layout.QWERTY()
	c := New(Enabled, Deps{Suggester: f, Learner: f})

	require.NoError(t, c.OnGestureStarted("en", geo))
	c.OnTouch(model.TouchPoint{X: 450, Y: 75})
	words, err := c.OnGestureCompleted(context.Background())
	require.NoError(t, err)
	assert.Zero(t, words.Len(), "a single point recognizes nothing")

	trace, err := generator.New(1).Trace("the", geo, generator.TraceOptions{Steps: 6})
	require.NoError(t, err)
	require.NoError(t, c.OnGestureStarted("en", geo))
	for _, p := range trace {
		c.OnTouch(p)
	}
	words, err = c.OnGestureCompleted(context.Background())
	require.NoError(t, err)
	first, ok := words.First()
	require.True(t, ok)
	assert.Equal(t, "the", first.Word)
}
