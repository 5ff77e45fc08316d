// Package logging provides categorized zap loggers for webterm.
// When a log directory is configured each category writes to its own
// date-prefixed file under it; otherwise everything goes to stderr.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup, config, shutdown
	CategorySession  Category = "session"  // Tab lifecycle, retries, timeouts
	CategoryIdentity Category = "identity" // Client key pair and certificate
	CategoryKeystore Category = "keystore" // Sealed key storage
	CategoryTrust    Category = "trust"    // TLS policy, client certificate requests
	CategorySurface  Category = "surface"  // Browser pages, DOM events
)

// Config mirrors config.LoggingConfig to avoid circular imports.
type Config struct {
	Level      string          // debug, info, warn, error
	JSON       bool            // JSON encoder instead of console
	Dir        string          // per-category files; empty means stderr
	Categories map[string]bool // nil enables every category
}

var (
	loggers   = make(map[Category]*zap.Logger)
	files     []*os.File
	loggersMu sync.RWMutex

	config   Config
	level    = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	configMu sync.RWMutex
)

// Initialize applies cfg. Loggers handed out earlier keep their old sinks,
// so call it once at startup before any Get.
func Initialize(cfg Config) error {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return fmt.Errorf("failed to create logs directory: %w", err)
		}
	}

	CloseAll()

	configMu.Lock()
	config = cfg
	level.SetLevel(lvl)
	configMu.Unlock()

	boot := Get(CategoryBoot)
	boot.Debug("Logging initialized",
		zap.Stringer("level", lvl),
		zap.Bool("json", cfg.JSON),
		zap.String("dir", cfg.Dir))
	return nil
}

// ParseLevel accepts the level names used in config files. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "":
		return zapcore.InfoLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	}
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// SetLevel changes the level of every category logger at once.
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if config.Categories == nil {
		return true
	}
	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true // Enable by default if not specified
	}
	return enabled
}

// Get returns (or creates) the logger for the given category.
// Returns a no-op logger if the category is disabled.
func Get(category Category) *zap.Logger {
	if !IsCategoryEnabled(category) {
		return zap.NewNop()
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	l := newLogger(category)
	loggers[category] = l
	return l
}

// newLogger builds a category logger. Callers hold loggersMu.
func newLogger(category Category) *zap.Logger {
	configMu.RLock()
	cfg := config
	configMu.RUnlock()

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if cfg.JSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	sink := zapcore.Lock(os.Stderr)
	if cfg.Dir != "" {
		// Create log file with date prefix for easy rotation
		date := time.Now().Format("2006-01-02")
		logPath := filepath.Join(cfg.Dir, fmt.Sprintf("%s_%s.log", date, category))
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		} else {
			files = append(files, f)
			sink = zapcore.AddSync(f)
		}
	}

	return zap.New(zapcore.NewCore(enc, sink, level)).Named(string(category))
}

// CloseAll flushes and closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		_ = l.Sync()
	}
	for _, f := range files {
		f.Close()
	}
	files = nil
	loggers = make(map[Category]*zap.Logger)
}

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithThreshold logs a warning if the duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn(t.op+" was slow",
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", threshold))
	} else {
		Get(t.category).Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	}
	return elapsed
}
