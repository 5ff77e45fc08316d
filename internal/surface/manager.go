// Package surface renders terminal tabs in a Chromium browser driven over
// the DevTools protocol. Every tab gets its own incognito page; requests to
// the loopback terminal server are fetched through the trust policy's client
// so the page authenticates with the provisioned client certificate.
package surface

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"webterm/internal/session"
	"webterm/internal/trust"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Config holds browser configuration.
type Config struct {
	DebuggerURL       string
	Bin               string
	Headless          bool
	Flags             []string
	SlowLoadThreshold time.Duration
	ViewportWidth     int
	ViewportHeight    int
}

// GetSlowLoadThreshold returns the slow load warning threshold.
func (c Config) GetSlowLoadThreshold() time.Duration {
	if c.SlowLoadThreshold <= 0 {
		return 2 * time.Second
	}
	return c.SlowLoadThreshold
}

// Manager owns the browser and the pages opened in it.
type Manager struct {
	cfg    Config
	policy *trust.Policy
	logger *zap.Logger

	mu         sync.RWMutex
	browser    *rod.Browser
	cancel     context.CancelFunc // ends the browser connection context
	launcher   *launcher.Launcher
	controlURL string
	pages      map[string]*Page
}

// NewManager creates a manager. Nothing is launched until Start or the
// first page is opened.
func NewManager(cfg Config, policy *trust.Policy, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:    cfg,
		policy: policy,
		logger: logger,
		pages:  make(map[string]*Page),
	}
}

// Start connects to an existing browser or launches a new one. ctx bounds
// only the start itself; the connection lives until Shutdown.
func (m *Manager) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// If we already have a browser, verify it's still alive
	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.logger.Warn("Stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		m.cancel()
		m.browser = nil
		m.cancel = nil
		m.controlURL = ""
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		l := m.newLauncher()
		url, err := l.Launch()
		if err != nil && len(m.cfg.Flags) > 0 {
			// Fallback without the extra flags
			m.logger.Warn("Browser launch failed, retrying without custom flags", zap.Error(err))
			l = launcher.New().Headless(m.cfg.Headless)
			if m.cfg.Bin != "" {
				l = l.Bin(m.cfg.Bin)
			}
			url, err = l.Launch()
		}
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		controlURL = url
		m.launcher = l
	}

	if err := ctx.Err(); err != nil {
		m.cleanupLauncher()
		return err
	}

	browserCtx, cancel := context.WithCancel(context.Background())
	browser := rod.New().ControlURL(controlURL).Context(browserCtx)
	if err := browser.Connect(); err != nil {
		cancel()
		m.cleanupLauncher()
		return fmt.Errorf("connect to browser: %w", err)
	}

	m.browser = browser
	m.cancel = cancel
	m.controlURL = controlURL
	m.logger.Info("Browser connected", zap.Bool("launched", m.launcher != nil))
	return nil
}

// cleanupLauncher stops a browser launched by a Start that did not finish.
func (m *Manager) cleanupLauncher() {
	if m.launcher != nil && m.browser == nil {
		m.launcher.Kill()
		m.launcher.Cleanup()
		m.launcher = nil
	}
}

func (m *Manager) newLauncher() *launcher.Launcher {
	l := launcher.New().Headless(m.cfg.Headless)
	if m.cfg.Bin != "" {
		l = l.Bin(m.cfg.Bin)
	}
	for _, rawFlag := range m.cfg.Flags {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l
}

func (m *Manager) ensureStarted(ctx context.Context) (*rod.Browser, error) {
	m.mu.RLock()
	b := m.browser
	m.mu.RUnlock()
	if b != nil {
		return b, nil
	}
	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser, nil
}

// ControlURL returns the WebSocket debugger URL.
func (m *Manager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is connected.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Factory adapts the manager to session.SurfaceFactory.
func (m *Manager) Factory() session.SurfaceFactory {
	return func(ctx context.Context, tabID string, ev session.Events) (session.Surface, error) {
		p, err := m.OpenPage(ctx, tabID, ev)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// OpenPage creates the page for tabID and wires its events to ev.
func (m *Manager) OpenPage(ctx context.Context, tabID string, ev session.Events) (*Page, error) {
	if m.policy == nil {
		return nil, errors.New("surface: no trust policy configured")
	}
	browser, err := m.ensureStarted(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	_, exists := m.pages[tabID]
	m.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("surface: tab %s already has a page", tabID)
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	raw, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	if m.cfg.ViewportWidth > 0 && m.cfg.ViewportHeight > 0 {
		if err := (proto.EmulationSetDeviceMetricsOverride{
			Width:             m.cfg.ViewportWidth,
			Height:            m.cfg.ViewportHeight,
			DeviceScaleFactor: 1.0,
		}).Call(raw); err != nil {
			m.logger.Warn("Failed to set viewport", zap.Error(err))
		}
	}

	client, err := m.policy.HTTPClient()
	if err != nil {
		_ = incognito.Close()
		return nil, err
	}

	p, err := newPage(pageOptions{
		tabID:     tabID,
		raw:       raw,
		incognito: incognito,
		events:    ev,
		client:    client,
		slow:      m.cfg.GetSlowLoadThreshold(),
		logger:    m.logger.With(zap.String("tab", tabID)),
		onClose:   func() { m.forget(tabID) },
	})
	if err != nil {
		return nil, fmt.Errorf("prepare page: %w", err)
	}

	m.mu.Lock()
	m.pages[tabID] = p
	m.mu.Unlock()
	return p, nil
}

func (m *Manager) forget(tabID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pages, tabID)
}

// Shutdown closes every page and the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	pages := make([]*Page, 0, len(m.pages))
	for _, p := range m.pages {
		pages = append(pages, p)
	}
	m.mu.Unlock()

	for _, p := range pages {
		if err := p.Close(); err != nil {
			m.logger.Debug("Page close failed", zap.String("tab", p.tabID), zap.Error(err))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	// An attached browser belongs to someone else; only close what we launched.
	if m.browser != nil && m.launcher != nil {
		err = m.browser.Close()
		m.launcher.Cleanup()
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.browser = nil
	m.cancel = nil
	m.launcher = nil
	m.controlURL = ""
	return err
}
