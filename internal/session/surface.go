package session

import "context"

// Attempt is one navigation request. Seq increases by one for every attempt
// a session makes and is echoed back with the paint notification.
type Attempt struct {
	Seq uint64
	URL string
}

// Surface is the page that renders the terminal. Navigate and Reload must
// return without waiting for the load and must not call back into the
// controller before returning; lifecycle events arrive later through Events.
type Surface interface {
	Navigate(a Attempt) error
	Reload(a Attempt) error
	Close() error
}

// Events is what a Surface reports about its page.
type Events interface {
	NavigationStarted(url string)
	NavigationError(kind ErrorKind, url string, cause error)
	NavigationCommitted(url string)
	VisualPaintComplete(seq uint64)
	TitleChanged(title string)
	CloseRequested()
}

// SurfaceFactory creates the surface for a tab, wired to deliver events to ev.
type SurfaceFactory func(ctx context.Context, tabID string, ev Events) (Surface, error)

// Listener receives the notifications a session surfaces. Each failure is
// reported exactly once, through SessionFailed or SessionFatal, never both.
// Callbacks run without the session lock held.
type Listener interface {
	SessionLoaded(s Snapshot)
	SessionFailed(s Snapshot, err error)
	SessionFatal(s Snapshot, err error)
	SessionCloseRequested(s Snapshot)
}

// NopListener ignores every notification. Embed it to implement a subset.
type NopListener struct{}

func (NopListener) SessionLoaded(Snapshot)         {}
func (NopListener) SessionFailed(Snapshot, error)  {}
func (NopListener) SessionFatal(Snapshot, error)   {}
func (NopListener) SessionCloseRequested(Snapshot) {}
