package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"webterm/internal/identity"
)

// fakeClock fires timers only when Advance moves past their deadline.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

// Advance moves time forward and runs every timer that came due, in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// Active counts timers that are neither stopped nor fired.
func (c *fakeClock) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fakeSurface records what the controller asked of it.
type fakeSurface struct {
	mu          sync.Mutex
	navigations []Attempt
	reloads     []Attempt
	closed      int
	navErr      error
}

func (s *fakeSurface) Navigate(a Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigations = append(s.navigations, a)
	return s.navErr
}

func (s *fakeSurface) Reload(a Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloads = append(s.reloads, a)
	return nil
}

func (s *fakeSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSurface) Navigations() []Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Attempt(nil), s.navigations...)
}

func (s *fakeSurface) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type recordedEvent struct {
	kind string
	snap Snapshot
	err  error
}

// recordingListener captures every notification.
type recordingListener struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (l *recordingListener) add(kind string, s Snapshot, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, recordedEvent{kind: kind, snap: s, err: err})
}

func (l *recordingListener) SessionLoaded(s Snapshot)         { l.add("loaded", s, nil) }
func (l *recordingListener) SessionFailed(s Snapshot, e error) { l.add("failed", s, e) }
func (l *recordingListener) SessionFatal(s Snapshot, e error)  { l.add("fatal", s, e) }
func (l *recordingListener) SessionCloseRequested(s Snapshot) { l.add("close", s, nil) }

func (l *recordingListener) Events(kind string) []recordedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []recordedEvent
	for _, e := range l.events {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (l *recordingListener) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

type fakeIdentities struct {
	id  *identity.Identity
	err error
}

func (f fakeIdentities) GetOrCreate(context.Context) (*identity.Identity, error) {
	return f.id, f.err
}

// harness wires a registry to fakes and keeps a handle on every surface it creates.
type harness struct {
	clock    *fakeClock
	listener *recordingListener
	registry *Registry

	mu       sync.Mutex
	surfaces map[string]*fakeSurface
}

func newHarness(opts ...func(*Options)) *harness {
	h := &harness{
		clock:    newFakeClock(),
		listener: &recordingListener{},
		surfaces: make(map[string]*fakeSurface),
	}
	o := Options{
		Clock:    h.clock,
		Listener: h.listener,
		Timeout:  DefaultLoadTimeout,
		Surfaces: func(_ context.Context, tabID string, _ Events) (Surface, error) {
			s := &fakeSurface{}
			h.mu.Lock()
			h.surfaces[tabID] = s
			h.mu.Unlock()
			return s, nil
		},
	}
	for _, fn := range opts {
		fn(&o)
	}
	h.registry = NewRegistry(o)
	return h
}

func (h *harness) surface(tabID string) *fakeSurface {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.surfaces[tabID]
}

var errRefused = errors.New("dial tcp 127.0.0.1:7681: connect: connection refused")
