package gesture

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/verte-zerg/glide/internal/model"
)

// Handle identifies one session.
type Handle uuid.UUID

func (h Handle) String() string { return uuid.UUID(h).String() }

// Engine runs independent gesture sessions addressed by handle. Each session
// owns its own consumer; a handle is forgotten once completed or canceled.
type Engine struct {
	deps   Deps
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[Handle]*activeConsumer
	closed   bool
}

// NewEngine returns an engine whose sessions share deps.
func NewEngine(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{deps: deps, logger: logger, sessions: map[Handle]*activeConsumer{}}
}

// NewSession starts a gesture for locale on geo.
func (e *Engine) NewSession(locale string, geo *model.KeyGeometry) (Handle, error) {
	c := newActiveConsumer(e.deps)
	c.OnInit(locale, geo)
	if err := c.OnGestureStarted(locale, geo); err != nil {
		return Handle{}, err
	}
	h := Handle(uuid.New())

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return Handle{}, ErrStaleSession
	}
	e.sessions[h] = c
	e.logger.Debug("session started", zap.Stringer("handle", h), zap.String("locale", locale))
	return h, nil
}

func (e *Engine) session(h Handle) (*activeConsumer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.sessions[h]
	return c, ok
}

// Feed appends a touch point. Unknown handles are ignored.
func (e *Engine) Feed(h Handle, p model.TouchPoint) {
	if c, ok := e.session(h); ok {
		c.OnTouch(p)
	}
}

// Cancel discards a session. Unknown handles are ignored.
func (e *Engine) Cancel(h Handle) {
	e.mu.Lock()
	c, ok := e.sessions[h]
	delete(e.sessions, h)
	e.mu.Unlock()
	if ok {
		c.OnGestureCanceled()
	}
}

// Complete recognizes the session's trace and forgets the handle.
func (e *Engine) Complete(ctx context.Context, h Handle) (model.SuggestedWords, error) {
	c, ok := e.session(h)
	if !ok {
		return model.SuggestedWords{}, ErrUnknownSession
	}
	words, err := c.OnGestureCompleted(ctx)
	e.mu.Lock()
	if e.sessions[h] == c {
		delete(e.sessions, h)
	}
	e.mu.Unlock()
	return words, err
}

// Active returns the number of open sessions.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Close cancels every open session and waits for their workers.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	sessions := e.sessions
	e.sessions = map[Handle]*activeConsumer{}
	e.mu.Unlock()
	for _, c := range sessions {
		c.OnGestureCanceled()
		c.wait()
	}
}
