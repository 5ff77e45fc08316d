package session

import (
	"errors"
	"sync"
	"time"

	"webterm/internal/identity"

	"go.uber.org/zap"
)

// Controller drives one Session through its state machine. Every transition
// happens under the controller lock; listener callbacks run after it is released.
type Controller struct {
	mu       sync.Mutex
	session  Session
	surface  Surface
	clock    Clock
	timeout  time.Duration
	listener Listener
	logger   *zap.Logger
}

func newController(tabID string, id *identity.Identity, clock Clock, timeout time.Duration, listener Listener, logger *zap.Logger) *Controller {
	return &Controller{
		session: Session{
			tabID:     tabID,
			state:     StateUnavailable,
			identity:  id,
			createdAt: clock.Now(),
		},
		clock:    clock,
		timeout:  timeout,
		listener: listener,
		logger:   logger.With(zap.String("tab", tabID)),
	}
}

// TabID returns the tab this controller belongs to.
func (c *Controller) TabID() string {
	return c.session.tabID
}

// Identity returns the client identity the session was opened with.
func (c *Controller) Identity() *identity.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.identity
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.snapshot()
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.state
}

func (c *Controller) attach(s Surface) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.surface = s
}

// RequestLoad starts loading url. Any outstanding attempt is superseded.
func (c *Controller) RequestLoad(url string) error {
	c.mu.Lock()
	if c.session.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	c.session.url = url
	c.session.retries = 0
	c.session.deadline = c.clock.Now().Add(c.timeout)
	c.logger.Info("Loading terminal", zap.String("url", url), zap.Duration("timeout", c.timeout))
	notify := c.startAttemptLocked(false)
	c.mu.Unlock()

	notify()
	return nil
}

// Reload asks the surface to reload the current url, with a fresh deadline.
func (c *Controller) Reload() error {
	c.mu.Lock()
	if c.session.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if c.session.url == "" {
		c.mu.Unlock()
		return ErrNoURL
	}
	c.session.retries = 0
	c.session.deadline = c.clock.Now().Add(c.timeout)
	c.logger.Info("Reloading terminal", zap.String("url", c.session.url))
	notify := c.startAttemptLocked(true)
	c.mu.Unlock()

	notify()
	return nil
}

// startAttemptLocked moves to Started under a new sequence number, arms the
// timer against the session deadline and asks the surface to navigate.
// The returned func must be called once the lock is released.
func (c *Controller) startAttemptLocked(reload bool) func() {
	s := &c.session
	s.state = StateStarted
	s.seq++
	s.committed = false
	s.lastErr = nil
	c.armLocked()

	if c.surface == nil {
		return c.failLocked(&NavigationError{Kind: KindUnknown, URL: s.url, Err: errors.New("no terminal surface attached")})
	}

	attempt := Attempt{Seq: s.seq, URL: s.url}
	var err error
	if reload {
		err = c.surface.Reload(attempt)
	} else {
		err = c.surface.Navigate(attempt)
	}
	if err != nil {
		return c.failLocked(&NavigationError{Kind: KindUnknown, URL: s.url, Err: err})
	}
	return func() {}
}

// failLocked moves to Error and returns the single notification for err.
func (c *Controller) failLocked(err error) func() {
	c.disarmLocked()
	c.session.state = StateError
	c.session.lastErr = err
	snap := c.session.snapshot()

	if IsFatal(err) {
		c.logger.Error("Terminal session failed fatally", zap.Error(err))
		return func() { c.listener.SessionFatal(snap, err) }
	}
	c.logger.Warn("Terminal session failed", zap.Error(err))
	return func() { c.listener.SessionFailed(snap, err) }
}

// NavigationStarted records that the surface began loading. The session is
// already Started by the time this arrives, so nothing changes.
func (c *Controller) NavigationStarted(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Debug("Navigation started", zap.String("url", url), zap.Stringer("state", c.session.state))
}

// NavigationError handles a failed navigation. Retryable kinds re-request the
// same url at once; anything else ends the attempt in Error.
func (c *Controller) NavigationError(kind ErrorKind, url string, cause error) {
	c.mu.Lock()
	s := &c.session
	if s.closed || s.state != StateStarted {
		c.logger.Debug("Ignoring navigation error outside Started",
			zap.Stringer("state", s.state), zap.Stringer("kind", kind), zap.String("url", url))
		c.mu.Unlock()
		return
	}

	err := &NavigationError{Kind: kind, URL: url, Err: cause}
	var notify func()
	if kind.Retryable() {
		s.retries++
		c.logger.Debug("Retrying navigation",
			zap.Stringer("kind", kind),
			zap.Uint64("retry", s.retries),
			zap.NamedError("cause", cause))
		notify = c.startAttemptLocked(false)
	} else {
		notify = c.failLocked(err)
	}
	c.mu.Unlock()

	notify()
}

// NavigationCommitted records that the server answered. The session keeps
// waiting for the first paint.
func (c *Controller) NavigationCommitted(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.closed || c.session.state != StateStarted {
		return
	}
	c.session.committed = true
	c.logger.Debug("Navigation committed", zap.String("url", url), zap.Uint64("attempt", c.session.seq))
}

// VisualPaintComplete marks the session Loaded if seq belongs to the latest
// attempt. Paints from superseded attempts are dropped.
func (c *Controller) VisualPaintComplete(seq uint64) {
	c.mu.Lock()
	s := &c.session
	if s.closed || s.state != StateStarted {
		c.mu.Unlock()
		return
	}
	if seq != s.seq {
		c.logger.Debug("Ignoring stale paint", zap.Uint64("paint", seq), zap.Uint64("attempt", s.seq))
		c.mu.Unlock()
		return
	}
	c.disarmLocked()
	s.state = StateLoaded
	snap := s.snapshot()
	c.mu.Unlock()

	c.logger.Info("Terminal loaded", zap.Uint64("attempt", seq), zap.Uint64("retries", snap.Retries))
	c.listener.SessionLoaded(snap)
}

// TitleChanged stores the page title with the login command stripped.
func (c *Controller) TitleChanged(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.title = DisplayTitle(title)
}

// CloseRequested forwards the page's request to close its tab.
func (c *Controller) CloseRequested() {
	c.mu.Lock()
	if c.session.closed {
		c.mu.Unlock()
		return
	}
	snap := c.session.snapshot()
	c.mu.Unlock()

	c.logger.Info("Terminal asked to close its tab")
	c.listener.SessionCloseRequested(snap)
}

// Close tears the session down: the timer is disarmed before Close returns
// and the surface is released. Safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.session.closed {
		c.mu.Unlock()
		return nil
	}
	c.session.closed = true
	c.disarmLocked()
	surface := c.surface
	c.surface = nil
	c.mu.Unlock()

	c.logger.Debug("Session closed")
	if surface == nil {
		return nil
	}
	return surface.Close()
}

func (c *Controller) armLocked() {
	c.disarmLocked()
	remaining := c.session.deadline.Sub(c.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	token := c.session.timerToken
	c.session.timer = c.clock.AfterFunc(remaining, func() { c.timeoutElapsed(token) })
}

// disarmLocked stops the timer and invalidates any callback already in
// flight, so a timeout can never land after the transition that disarmed it.
func (c *Controller) disarmLocked() {
	if c.session.timer != nil {
		c.session.timer.Stop()
		c.session.timer = nil
	}
	c.session.timerToken++
}

func (c *Controller) timeoutElapsed(token uint64) {
	c.mu.Lock()
	s := &c.session
	if s.closed || token != s.timerToken || s.state != StateStarted {
		c.mu.Unlock()
		return
	}
	s.timer = nil
	s.timerToken++
	s.state = StateError
	err := &TimeoutError{TabID: s.tabID, URL: s.url, Timeout: c.timeout}
	s.lastErr = err
	snap := s.snapshot()
	c.mu.Unlock()

	c.logger.Error("Terminal server unresponsive", zap.Error(err), zap.Uint64("retries", snap.Retries))
	c.listener.SessionFatal(snap, err)
}
