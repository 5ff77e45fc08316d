package config

import (
	"fmt"
	"sync"

	"webterm/internal/trust"
)

// Preferences is the live, file-backed view of the user-editable settings.
// Reads are cheap; writes persist to disk before subscribers are told.
type Preferences struct {
	mu   sync.RWMutex
	path string
	cfg  *Config

	subsMu sync.Mutex
	subs   []func(*Config)
}

// OpenPreferences loads path (defaults if it does not exist).
func OpenPreferences(path string) (*Preferences, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Preferences{path: path, cfg: cfg}, nil
}

// Path returns the backing file.
func (p *Preferences) Path() string {
	return p.path
}

// Config returns a copy of the current configuration.
func (p *Preferences) Config() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Clone()
}

// ServerURL returns the terminal server url new loads should use.
func (p *Preferences) ServerURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Server.URL
}

// SetServerURL validates, persists and publishes a new server url.
func (p *Preferences) SetServerURL(url string) error {
	if err := trust.CheckTarget(url); err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}

	p.mu.Lock()
	if p.cfg.Server.URL == url {
		p.mu.Unlock()
		return nil
	}
	next := p.cfg.Clone()
	next.Server.URL = url
	if err := next.Save(p.path); err != nil {
		p.mu.Unlock()
		return err
	}
	p.cfg = next
	snapshot := next.Clone()
	p.mu.Unlock()

	p.publish(snapshot)
	return nil
}

// Reload re-reads the backing file. Subscribers hear about it only if the
// server url changed. An invalid file leaves the current settings in place.
func (p *Preferences) Reload() (changed bool, err error) {
	next, err := Load(p.path)
	if err != nil {
		return false, err
	}
	if err := next.Validate(); err != nil {
		return false, err
	}

	p.mu.Lock()
	changed = next.Server.URL != p.cfg.Server.URL
	p.cfg = next
	snapshot := next.Clone()
	p.mu.Unlock()

	if changed {
		p.publish(snapshot)
	}
	return changed, nil
}

// OnChange registers fn to run after every server url change.
func (p *Preferences) OnChange(fn func(*Config)) {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	p.subs = append(p.subs, fn)
}

func (p *Preferences) publish(cfg *Config) {
	p.subsMu.Lock()
	subs := append([]func(*Config){}, p.subs...)
	p.subsMu.Unlock()
	for _, fn := range subs {
		fn(cfg)
	}
}
