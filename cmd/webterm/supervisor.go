package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"webterm/internal/session"

	"go.uber.org/zap"
)

type eventKind int

const (
	eventLoaded eventKind = iota
	eventFailed
	eventFatal
	eventCloseRequested
)

type tabEvent struct {
	kind eventKind
	snap session.Snapshot
	err  error
}

// supervisor is the Listener for every tab opened by `run`. Notifications
// are queued and handled on the Run goroutine, never on the caller's.
type supervisor struct {
	out    io.Writer
	logger *zap.Logger

	events chan tabEvent
	done   chan struct{}
	once   sync.Once
}

func newSupervisor(out io.Writer, logger *zap.Logger) *supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &supervisor{
		out:    out,
		logger: logger,
		events: make(chan tabEvent, 64),
		done:   make(chan struct{}),
	}
}

func (s *supervisor) post(ev tabEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *supervisor) SessionLoaded(snap session.Snapshot) {
	s.post(tabEvent{kind: eventLoaded, snap: snap})
}

func (s *supervisor) SessionFailed(snap session.Snapshot, err error) {
	s.post(tabEvent{kind: eventFailed, snap: snap, err: err})
}

func (s *supervisor) SessionFatal(snap session.Snapshot, err error) {
	s.post(tabEvent{kind: eventFatal, snap: snap, err: err})
}

func (s *supervisor) SessionCloseRequested(snap session.Snapshot) {
	s.post(tabEvent{kind: eventCloseRequested, snap: snap})
}

// Run opens tabs sessions loading url, then handles their notifications until
// ctx ends, the last tab closes or one fails fatally. reloads triggers a reload
// of every tab. Every session is closed before Run returns.
func (s *supervisor) Run(ctx context.Context, reg *session.Registry, tabs int, url string, reloads <-chan struct{}) error {
	defer func() {
		s.once.Do(func() { close(s.done) })
		if err := reg.CloseAll(context.Background()); err != nil {
			s.logger.Warn("Failed to close sessions", zap.Error(err))
		}
	}()

	for i := 0; i < tabs; i++ {
		ctrl, err := reg.Open(ctx, reg.NewTabID())
		if err != nil {
			return fmt.Errorf("failed to open tab: %w", err)
		}
		// Every tab shares the installation identity.
		if id := ctrl.Identity(); i == 0 && id != nil {
			fmt.Fprintln(s.out, renderFields(
				"certificate", id.Fingerprint(),
				"valid until", id.NotAfter.Format(time.RFC3339),
			))
		}
		if err := ctrl.RequestLoad(url); err != nil {
			return fmt.Errorf("failed to load tab %s: %w", ctrl.TabID(), err)
		}
		fmt.Fprintln(s.out, renderSnapshot(ctrl.Snapshot()))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Shutting down", zap.Int("tabs", reg.Len()))
			return nil

		case <-reloads:
			s.reloadAll(reg)

		case ev := <-s.events:
			fmt.Fprintln(s.out, renderSnapshot(ev.snap))
			switch ev.kind {
			case eventFatal:
				return fmt.Errorf("tab %s: %w", ev.snap.TabID, ev.err)
			case eventCloseRequested:
				if err := reg.Close(ev.snap.TabID); err != nil {
					s.logger.Warn("Failed to close tab", zap.String("tab", ev.snap.TabID), zap.Error(err))
				}
				if reg.Len() == 0 {
					s.logger.Info("Last tab closed")
					return nil
				}
			}
		}
	}
}

func (s *supervisor) reloadAll(reg *session.Registry) {
	for _, snap := range reg.List() {
		ctrl, ok := reg.Get(snap.TabID)
		if !ok {
			continue
		}
		if err := ctrl.Reload(); err != nil {
			s.logger.Warn("Reload failed", zap.String("tab", snap.TabID), zap.Error(err))
		}
	}
}

// loadAll points every open tab at url.
func loadAll(reg *session.Registry, url string, logger *zap.Logger) {
	for _, snap := range reg.List() {
		ctrl, ok := reg.Get(snap.TabID)
		if !ok {
			continue
		}
		if err := ctrl.RequestLoad(url); err != nil {
			logger.Warn("Failed to load new server url", zap.String("tab", snap.TabID), zap.Error(err))
		}
	}
}
