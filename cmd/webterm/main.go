package main

import (
	"fmt"
	"os"

	"webterm/internal/config"
	"webterm/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose    bool
	configPath string

	prefs  *config.Preferences
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "webterm",
	Short: "webterm - browser tabs for a local terminal server",
	Long: `webterm opens terminal tabs against a terminal server on this machine
(ttyd by default) and keeps each tab's connection alive while the server
starts up. Tabs authenticate with a client certificate webterm provisions
on first use.

Only loopback servers are accepted.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		p, err := config.OpenPreferences(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg := p.Config()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", path, err)
		}

		opts := cfg.LoggingOptions()
		if verbose {
			opts.Level = "debug"
		}
		if err := logging.Initialize(opts); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		prefs = p
		logger = logging.Get(logging.CategoryBoot)
		logger.Debug("Config loaded", zap.String("path", path))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $WEBTERM_STATE_DIR/config.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keystoreCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
