package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"webterm/internal/trust"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultServerURL is where the bundled terminal server listens.
	DefaultServerURL = "http://127.0.0.1:7681"

	configFileName = "config.yaml"
)

// Config holds all webterm configuration.
type Config struct {
	// Terminal server
	Server ServerConfig `yaml:"server"`

	// Client certificate
	Identity IdentityConfig `yaml:"identity"`

	// Where keys and exported certificates live
	Storage StorageConfig `yaml:"storage"`

	// Browser that renders the terminal pages
	Browser BrowserConfig `yaml:"browser"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the terminal server each tab loads.
type ServerConfig struct {
	URL         string `yaml:"url"`
	LoadTimeout string `yaml:"load_timeout"`
}

// IdentityConfig configures the client identity.
type IdentityConfig struct {
	Alias      string `yaml:"alias"`
	Validity   string `yaml:"validity"`
	ExportPath string `yaml:"export_path"` // relative to the state dir
}

// StorageConfig configures on-disk state.
type StorageConfig struct {
	StateDir     string `yaml:"state_dir"`
	Backend      string `yaml:"backend"`       // sqlite, memory
	KeystorePath string `yaml:"keystore_path"` // relative to the state dir
}

// ValidBackends lists the supported key store backends.
var ValidBackends = []string{"sqlite", "memory"}

// DefaultStateDir returns the per-user state directory.
func DefaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".webterm"
	}
	return filepath.Join(dir, "webterm")
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	if dir := os.Getenv("WEBTERM_STATE_DIR"); dir != "" {
		return filepath.Join(dir, configFileName)
	}
	return filepath.Join(DefaultStateDir(), configFileName)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:         DefaultServerURL,
			LoadTimeout: "5s",
		},
		Identity: IdentityConfig{
			Alias:      "ttyd",
			Validity:   "87600h",
			ExportPath: "ca.crt",
		},
		Storage: StorageConfig{
			StateDir:     DefaultStateDir(),
			Backend:      "sqlite",
			KeystorePath: "keystore.db",
		},
		Browser: DefaultBrowserConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Defaults if config file doesn't exist
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	if c.Logging.Categories != nil {
		out.Logging.Categories = make(map[string]bool, len(c.Logging.Categories))
		for k, v := range c.Logging.Categories {
			out.Logging.Categories[k] = v
		}
	}
	if c.Browser.Flags != nil {
		out.Browser.Flags = append([]string(nil), c.Browser.Flags...)
	}
	return &out
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("WEBTERM_URL"); url != "" {
		c.Server.URL = url
	}
	if dir := os.Getenv("WEBTERM_STATE_DIR"); dir != "" {
		c.Storage.StateDir = dir
	}
	if url := os.Getenv("WEBTERM_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
	if level := os.Getenv("WEBTERM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// GetLoadTimeout returns the navigation load deadline.
func (c *Config) GetLoadTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.LoadTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// GetValidity returns how long a generated certificate is valid.
func (c *Config) GetValidity() time.Duration {
	d, err := time.ParseDuration(c.Identity.Validity)
	if err != nil || d <= 0 {
		return 10 * 365 * 24 * time.Hour
	}
	return d
}

// resolve anchors relative paths at the state dir.
func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Storage.StateDir, p)
}

// KeystorePath returns the absolute key store location.
func (c *Config) KeystorePath() string {
	return c.resolve(c.Storage.KeystorePath)
}

// CertificateExportPath returns where the PEM certificate is exported.
func (c *Config) CertificateExportPath() string {
	return c.resolve(c.Identity.ExportPath)
}

// LogDir returns the directory for category log files, or "" for stderr.
func (c *Config) LogDir() string {
	return c.resolve(c.Logging.Dir)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := trust.CheckTarget(c.Server.URL); err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	if c.Server.LoadTimeout != "" {
		if d, err := time.ParseDuration(c.Server.LoadTimeout); err != nil || d <= 0 {
			return fmt.Errorf("invalid load_timeout: %q", c.Server.LoadTimeout)
		}
	}
	if c.Identity.Alias == "" {
		return fmt.Errorf("identity alias must not be empty")
	}
	if c.Storage.StateDir == "" {
		return fmt.Errorf("state_dir must not be empty")
	}

	validBackend := false
	for _, b := range ValidBackends {
		if c.Storage.Backend == b {
			validBackend = true
			break
		}
	}
	if !validBackend {
		return fmt.Errorf("invalid storage backend: %s (valid: %v)", c.Storage.Backend, ValidBackends)
	}

	if err := c.Browser.Validate(); err != nil {
		return err
	}
	return c.Logging.Validate()
}
