package surface

import (
	"context"
	"net/http"
	"sync"
	"time"

	"webterm/internal/logging"
	"webterm/internal/session"
	"webterm/internal/trust"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
	"go.uber.org/zap"
)

const (
	titleBinding = "__webtermTitle"
	closeBinding = "__webtermCloseTab"

	// Resolves after the second animation frame, i.e. once the first frame
	// with the loaded document has been presented.
	paintProbeJS = `() => new Promise(resolve =>
		requestAnimationFrame(() => requestAnimationFrame(() => resolve(true))))`

	titleObserverJS = `(() => {
		const report = () => { try { window.` + titleBinding + `(document.title) } catch (e) {} };
		const watch = () => {
			report();
			const target = document.querySelector('title') || document.head || document.documentElement;
			new MutationObserver(report).observe(target, { subtree: true, childList: true, characterData: true });
		};
		if (document.readyState === 'loading') {
			document.addEventListener('DOMContentLoaded', watch);
		} else {
			watch();
		}
	})()`

	terminalAppJS = `window.TerminalApp = { closeTab: () => window.` + closeBinding + `(null) };`
)

type pageOptions struct {
	tabID     string
	raw       *rod.Page
	incognito *rod.Browser
	events    session.Events
	client    *http.Client
	slow      time.Duration
	logger    *zap.Logger
	onClose   func()
}

// Page is one tab's browser page. It implements session.Surface.
type Page struct {
	tabID     string
	raw       *rod.Page
	page      *rod.Page // bound to ctx
	incognito *rod.Browser
	events    session.Events
	client    *http.Client
	router    *rod.HijackRouter
	slow      time.Duration
	logger    *zap.Logger
	onClose   func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	stops  []func() error

	mu           sync.Mutex
	current      session.Attempt
	timer        *logging.Timer
	transportErr error
	transportSeq uint64 // attempt transportErr belongs to
	statusFailed uint64
	committed    uint64
	closed       bool
}

func newPage(opts pageOptions) (*Page, error) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Page{
		tabID:     opts.tabID,
		raw:       opts.raw,
		page:      opts.raw.Context(ctx),
		incognito: opts.incognito,
		events:    opts.events,
		client:    opts.client,
		slow:      opts.slow,
		logger:    opts.logger,
		onClose:   opts.onClose,
		ctx:       ctx,
		cancel:    cancel,
	}

	if err := p.installBindings(); err != nil {
		p.teardown()
		return nil, err
	}

	p.router = p.page.HijackRequests()
	if err := p.router.Add("*", "", p.serve); err != nil {
		p.teardown()
		return nil, err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.router.Run()
	}()

	p.startEventStream()
	return p, nil
}

func (p *Page) installBindings() error {
	stopTitle, err := p.page.Expose(titleBinding, func(j gson.JSON) (interface{}, error) {
		p.events.TitleChanged(j.Str())
		return nil, nil
	})
	if err != nil {
		return err
	}
	p.stops = append(p.stops, stopTitle)

	stopClose, err := p.page.Expose(closeBinding, func(gson.JSON) (interface{}, error) {
		p.events.CloseRequested()
		return nil, nil
	})
	if err != nil {
		return err
	}
	p.stops = append(p.stops, stopClose)

	for _, js := range []string{titleObserverJS, terminalAppJS} {
		remove, err := p.page.EvalOnNewDocument(js)
		if err != nil {
			return err
		}
		p.stops = append(p.stops, remove)
	}
	return nil
}

// Navigate starts loading a.URL and returns at once.
func (p *Page) Navigate(a session.Attempt) error {
	return p.begin(a, false)
}

// Reload reloads the current document under attempt a and returns at once.
func (p *Page) Reload(a session.Attempt) error {
	return p.begin(a, true)
}

func (p *Page) begin(a session.Attempt, reload bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return session.ErrSessionClosed
	}
	p.current = a
	p.transportErr = nil
	p.timer = logging.StartTimer(logging.CategorySurface, "terminal load")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		var err error
		if reload {
			err = proto.PageReload{IgnoreCache: true}.Call(p.page)
		} else {
			err = p.page.Navigate(a.URL)
		}
		if err != nil {
			p.navigationFailed(a, err)
		}
	}()
	return nil
}

// isCurrentLocked reports whether seq is still the latest attempt. Callers hold mu.
func (p *Page) isCurrentLocked(seq uint64) bool {
	return !p.closed && p.current.Seq == seq
}

func (p *Page) currentAttempt() session.Attempt {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// recordTransportError keeps err as the cause of attempt seq's failure.
// Errors from superseded attempts are dropped.
func (p *Page) recordTransportError(seq uint64, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.isCurrentLocked(seq) {
		return false
	}
	p.transportErr = err
	p.transportSeq = seq
	return true
}

func (p *Page) transportErrorLocked(seq uint64) error {
	if p.transportSeq != seq {
		return nil
	}
	return p.transportErr
}

// claimStatusFailure marks attempt seq as failed by an HTTP status. It
// returns false if seq is stale or was already claimed.
func (p *Page) claimStatusFailure(seq uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.isCurrentLocked(seq) || p.statusFailed == seq {
		return false
	}
	p.statusFailed = seq
	return true
}

func (p *Page) navigationFailed(a session.Attempt, err error) {
	p.mu.Lock()
	if !p.isCurrentLocked(a.Seq) || p.statusFailed == a.Seq {
		p.mu.Unlock()
		return
	}
	transportErr := p.transportErrorLocked(a.Seq)
	p.mu.Unlock()

	kind := classifyNavigation(err, transportErr)
	cause := err
	if transportErr != nil {
		cause = transportErr
	}
	p.logger.Debug("Navigation failed",
		zap.Uint64("attempt", a.Seq),
		zap.Stringer("kind", kind),
		zap.Error(cause))
	p.events.NavigationError(kind, a.URL, cause)
}

// serve answers requests for the loopback server through the trust client.
// Everything else continues untouched, with the browser's normal checks.
func (p *Page) serve(h *rod.Hijack) {
	u := h.Request.URL()
	if u == nil || !trust.IsLoopbackHost(u.Hostname()) || (u.Scheme != "http" && u.Scheme != "https") {
		h.ContinueRequest(&proto.FetchContinueRequest{})
		return
	}

	// A navigation belongs to the attempt that was current when it was issued.
	navigation := h.Request.IsNavigation()
	var a session.Attempt
	if navigation {
		a = p.currentAttempt()
	}

	err := h.LoadResponse(p.client, true)
	if err != nil {
		kind := trust.Classify(err)
		if navigation {
			p.recordTransportError(a.Seq, err)
		}
		p.logger.Debug("Loopback request failed",
			zap.String("url", u.String()),
			zap.Stringer("kind", kind),
			zap.Error(err))
		h.Response.Fail(FailureReason(kind))
		return
	}

	if navigation && h.Response.RawResponse != nil && h.Response.RawResponse.StatusCode >= http.StatusBadRequest {
		if p.claimStatusFailure(a.Seq) {
			p.events.NavigationError(session.KindHTTPStatus, a.URL,
				&StatusError{URL: u.String(), Code: h.Response.RawResponse.StatusCode})
		}
	}
}

func (p *Page) startEventStream() {
	wait := p.page.EachEvent(
		func(ev *proto.PageFrameStartedLoading) {
			if ev.FrameID != p.page.FrameID {
				return
			}
			p.mu.Lock()
			url := p.current.URL
			p.mu.Unlock()
			p.events.NavigationStarted(url)
		},
		func(ev *proto.PageFrameNavigated) {
			if ev.Frame == nil || ev.Frame.ParentID != "" {
				return
			}
			p.frameNavigated(ev.Frame)
		},
		func(ev *proto.PageLoadEventFired) {
			p.loadFired()
		},
	)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		wait()
	}()
}

func (p *Page) frameNavigated(frame *proto.PageFrame) {
	if isErrorPage(frame) {
		p.logger.Debug("Error page committed", zap.String("unreachable", frame.UnreachableURL))
		return
	}
	p.mu.Lock()
	seq := p.current.Seq
	if p.closed || p.statusFailed == seq {
		p.mu.Unlock()
		return
	}
	p.committed = seq
	p.mu.Unlock()

	p.events.NavigationCommitted(frame.URL)
}

// loadFired probes for the first paint of the committed attempt.
func (p *Page) loadFired() {
	p.mu.Lock()
	seq := p.current.Seq
	timer := p.timer
	if p.closed || p.committed != seq || p.statusFailed == seq {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if _, err := p.page.Eval(paintProbeJS); err != nil {
			p.logger.Debug("Paint probe failed", zap.Uint64("attempt", seq), zap.Error(err))
			return
		}
		p.mu.Lock()
		current := p.isCurrentLocked(seq)
		p.mu.Unlock()
		if !current {
			return
		}
		if timer != nil {
			timer.StopWithThreshold(p.slow)
		}
		p.events.VisualPaintComplete(seq)
	}()
}

// Close stops event delivery and disposes of the page and its browser context.
// It waits for in-flight event callbacks, so it must not be called from one.
func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.teardown()
	if p.onClose != nil {
		p.onClose()
	}
	return err
}

func (p *Page) teardown() error {
	for _, stop := range p.stops {
		_ = stop()
	}
	if p.router != nil {
		_ = p.router.Stop()
	}
	p.cancel()
	p.wg.Wait()
	if p.client != nil {
		p.client.CloseIdleConnections()
	}

	err := p.raw.Close()
	if p.incognito != nil {
		if cerr := p.incognito.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
