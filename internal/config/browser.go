package config

import (
	"fmt"
	"time"
)

// BrowserConfig configures the browser that hosts terminal pages.
type BrowserConfig struct {
	// DebuggerURL attaches to a running browser instead of launching one.
	DebuggerURL string `yaml:"debugger_url,omitempty"`
	// Bin overrides the browser binary; empty lets the launcher find or download one.
	Bin      string   `yaml:"bin,omitempty"`
	Headless bool     `yaml:"headless"`
	Flags    []string `yaml:"flags,omitempty"`
	// Tabs is how many tabs `run` opens when --tabs is not given.
	Tabs int `yaml:"tabs"`
	// SlowLoadThreshold logs a warning for loads that take longer.
	SlowLoadThreshold string `yaml:"slow_load_threshold"`
}

// DefaultBrowserConfig returns the default browser settings.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless:          false,
		Tabs:              1,
		SlowLoadThreshold: "2s",
	}
}

// GetSlowLoadThreshold returns the slow load warning threshold.
func (b BrowserConfig) GetSlowLoadThreshold() time.Duration {
	d, err := time.ParseDuration(b.SlowLoadThreshold)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// Validate checks the browser settings.
func (b BrowserConfig) Validate() error {
	if b.Tabs < 1 {
		return fmt.Errorf("browser.tabs must be at least 1, got %d", b.Tabs)
	}
	return nil
}
