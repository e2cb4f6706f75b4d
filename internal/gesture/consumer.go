// Package gesture drives one gesture at a time from start to completion:
// it collects touch points, runs recognition once per completed gesture and
// reports the result to the editor and the learning hook.
package gesture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verte-zerg/glide/internal/dictionary"
	"github.com/verte-zerg/glide/internal/model"
)

var (
	// ErrInvalidLayout is wrapped by InvalidLayoutError.
	ErrInvalidLayout = errors.New("gesture: invalid layout")
	// ErrStaleSession is returned when a gesture was canceled or replaced
	// before its recognition finished.
	ErrStaleSession = errors.New("gesture: stale session")
	// ErrUnknownSession is returned for handles the engine does not know.
	ErrUnknownSession = errors.New("gesture: unknown session")
)

// InvalidLayoutError names the layout a gesture could not start on.
type InvalidLayoutError struct {
	Layout string
	Locale string
	Reason string
}

func (e *InvalidLayoutError) Error() string {
	return fmt.Sprintf("gesture: invalid layout %q for locale %q: %s", e.Layout, e.Locale, e.Reason)
}

// Unwrap returns ErrInvalidLayout.
func (e *InvalidLayoutError) Unwrap() error { return ErrInvalidLayout }

// Capability selects the consumer variant.
type Capability int

const (
	Disabled Capability = iota
	Enabled
)

// Private command actions sent to the CommandSink.
const (
	ActionGestureCompleted     = "glide.gesture.completed"
	ActionSuggestionsProcessed = "glide.suggestions.processed"
)

// PrivateCommand is an out-of-band message to the editor.
type PrivateCommand struct {
	Action string
	Locale string
	Words  []string
	Region model.ComposingRegion
}

// CommandSink receives private commands. It reports whether the command was
// handled.
type CommandSink interface {
	PerformPrivateCommand(cmd PrivateCommand) bool
}

// Editor exposes the composing region of the connected text field.
type Editor interface {
	ComposingRegion() model.ComposingRegion
}

// Suggester answers trace queries.
type Suggester interface {
	GetSuggestions(ctx context.Context, q dictionary.Query, locale string) (model.SuggestedWords, error)
}

// Learner receives completed gesture suggestions.
type Learner interface {
	OnGestureSuggestions(ctx context.Context, locale string, words model.SuggestedWords, region model.ComposingRegion) error
}

// Config bounds recognition dispatch.
type Config struct {
	// SyncThreshold is the largest trace, in points, recognized on the
	// calling goroutine.
	SyncThreshold int
	// Timeout bounds recognition of longer traces.
	Timeout time.Duration
}

// DefaultConfig returns the dispatch defaults.
func DefaultConfig() Config {
	return Config{SyncThreshold: 64, Timeout: 150 * time.Millisecond}
}

// Deps are the collaborators of an enabled consumer. Suggester is required;
// the rest may be nil.
type Deps struct {
	Suggester Suggester
	Learner   Learner
	Editor    Editor
	Sink      CommandSink
	Logger    *zap.Logger
	Config    Config
}

// Consumer is the gesture lifecycle seen by the input thread.
type Consumer interface {
	WillConsume() bool
	OnInit(locale string, geo *model.KeyGeometry)
	OnGestureStarted(locale string, geo *model.KeyGeometry) error
	OnTouch(p model.TouchPoint)
	OnGestureCanceled()
	OnGestureCompleted(ctx context.Context) (model.SuggestedWords, error)
	OnImeSuggestionsProcessed(ctx context.Context, words model.SuggestedWords, composingStart, composingLength int, learner Learner)
}

// New returns the consumer for capability. Enabled without a Suggester
// falls back to Disabled.
func New(capability Capability, deps Deps) Consumer {
	if capability != Enabled || deps.Suggester == nil {
		return disabledConsumer{}
	}
	return newActiveConsumer(deps)
}

// disabledConsumer ignores every call.
type disabledConsumer struct{}

func (disabledConsumer) WillConsume() bool                                 { return false }
func (disabledConsumer) OnInit(string, *model.KeyGeometry)                 {}
func (disabledConsumer) OnGestureStarted(string, *model.KeyGeometry) error { return nil }
func (disabledConsumer) OnTouch(model.TouchPoint)                          {}
func (disabledConsumer) OnGestureCanceled()                                {}
func (disabledConsumer) OnGestureCompleted(context.Context) (model.SuggestedWords, error) {
	return model.SuggestedWords{}, nil
}
func (disabledConsumer) OnImeSuggestionsProcessed(context.Context, model.SuggestedWords, int, int, Learner) {
}

type state int

const (
	stateIdle state = iota
	stateActive
	stateCompleting
)

func (s state) String() string {
	switch s {
	case stateActive:
		return "active"
	case stateCompleting:
		return "completing"
	default:
		return "idle"
	}
}

type activeConsumer struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	mu         sync.Mutex
	state      state
	initLocale string
	initGeo    *model.KeyGeometry
	locale     string
	geo        *model.KeyGeometry
	trace      []model.TouchPoint
	generation uint64
	stop       context.CancelFunc

	workers sync.WaitGroup
}

func newActiveConsumer(deps Deps) *activeConsumer {
	cfg := deps.Config
	def := DefaultConfig()
	if cfg.SyncThreshold <= 0 {
		cfg.SyncThreshold = def.SyncThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &activeConsumer{deps: deps, cfg: cfg, logger: logger}
}

func (c *activeConsumer) WillConsume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initGeo != nil && !c.initGeo.Empty()
}

func (c *activeConsumer) OnInit(locale string, geo *model.KeyGeometry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initLocale, c.initGeo = locale, geo
}

func (c *activeConsumer) OnGestureStarted(locale string, geo *model.KeyGeometry) error {
	if err := validate(locale, geo); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abortLocked()
	c.generation++
	c.state = stateActive
	c.locale, c.geo = locale, geo
	c.trace = make([]model.TouchPoint, 0, 128)
	return nil
}

func validate(locale string, geo *model.KeyGeometry) error {
	switch {
	case geo == nil:
		return &InvalidLayoutError{Locale: locale, Reason: "no geometry"}
	case geo.Empty():
		return &InvalidLayoutError{Layout: geo.Layout, Locale: locale, Reason: "no keys"}
	case locale == "":
		return &InvalidLayoutError{Layout: geo.Layout, Reason: "no locale"}
	}
	return nil
}

// OnTouch drops points outside a gesture and points whose time does not
// advance.
func (c *activeConsumer) OnTouch(p model.TouchPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateActive {
		return
	}
	if n := len(c.trace); n > 0 && p.Time <= c.trace[n-1].Time {
		return
	}
	c.trace = append(c.trace, p)
}

func (c *activeConsumer) OnGestureCanceled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateIdle {
		return
	}
	c.abortLocked()
	c.generation++
	c.state = stateIdle
	c.trace = nil
}

// abortLocked stops an in-flight recognition.
func (c *activeConsumer) abortLocked() {
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
}

func (c *activeConsumer) OnGestureCompleted(ctx context.Context) (model.SuggestedWords, error) {
	c.mu.Lock()
	if c.state != stateActive {
		c.mu.Unlock()
		return model.SuggestedWords{}, ErrStaleSession
	}
	c.state = stateCompleting
	gen := c.generation
	locale, geo, trace := c.locale, c.geo, c.trace
	c.trace = nil
	rctx, stop := context.WithCancel(ctx)
	c.stop = stop
	c.mu.Unlock()
	defer stop()

	var (
		words model.SuggestedWords
		err   error
	)
	if len(trace) > 0 {
		words, err = c.recognize(rctx, trace, locale, geo)
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		c.logger.Debug("discarding stale recognition", zap.Uint64("generation", gen))
		return model.SuggestedWords{}, ErrStaleSession
	}
	c.state = stateIdle
	c.stop = nil
	c.mu.Unlock()
	if err != nil {
		return model.SuggestedWords{}, err
	}

	region := c.region()
	if c.deps.Learner != nil {
		if lerr := c.deps.Learner.OnGestureSuggestions(ctx, locale, words, region); lerr != nil {
			c.logger.Warn("learning hook failed", zap.Error(lerr))
		}
	}
	c.send(PrivateCommand{Action: ActionGestureCompleted, Locale: locale, Words: words.Strings(), Region: region})
	c.logger.Debug("gesture completed",
		zap.String("locale", locale),
		zap.Int("points", len(trace)),
		zap.Int("words", words.Len()),
		zap.Bool("partial", words.Partial),
	)
	return words, nil
}

// recognize runs short traces inline and longer ones on a worker bounded by
// the configured timeout. The recognizer returns best-so-far words at the
// deadline.
func (c *activeConsumer) recognize(ctx context.Context, trace []model.TouchPoint, locale string, geo *model.KeyGeometry) (model.SuggestedWords, error) {
	q := dictionary.Query{Trace: trace, Geometry: geo}
	if len(trace) <= c.cfg.SyncThreshold {
		return c.deps.Suggester.GetSuggestions(ctx, q, locale)
	}

	wctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	type outcome struct {
		words model.SuggestedWords
		err   error
	}
	done := make(chan outcome, 1)
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		defer cancel()
		words, err := c.deps.Suggester.GetSuggestions(wctx, q, locale)
		done <- outcome{words, err}
	}()
	select {
	case o := <-done:
		return o.words, o.err
	case <-ctx.Done():
		return model.SuggestedWords{}, ctx.Err()
	}
}

func (c *activeConsumer) region() model.ComposingRegion {
	if c.deps.Editor == nil {
		return model.ComposingRegion{}
	}
	return c.deps.Editor.ComposingRegion()
}

func (c *activeConsumer) send(cmd PrivateCommand) {
	if c.deps.Sink == nil {
		return
	}
	if !c.deps.Sink.PerformPrivateCommand(cmd) {
		c.logger.Debug("private command not handled", zap.String("action", cmd.Action))
	}
}

func (c *activeConsumer) OnImeSuggestionsProcessed(ctx context.Context, words model.SuggestedWords, composingStart, composingLength int, learner Learner) {
	c.mu.Lock()
	locale := c.initLocale
	c.mu.Unlock()
	region := model.ComposingRegion{Start: composingStart, Length: composingLength}
	c.send(PrivateCommand{Action: ActionSuggestionsProcessed, Locale: locale, Words: words.Strings(), Region: region})
	if learner == nil {
		return
	}
	if err := learner.OnGestureSuggestions(ctx, locale, words, region); err != nil {
		c.logger.Warn("learning hook failed", zap.Error(err))
	}
}

// wait blocks until background recognition workers have exited.
func (c *activeConsumer) wait() {
	c.workers.Wait()
}
