package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"webterm/internal/config"
	"webterm/internal/logging"
	"webterm/internal/session"
	"webterm/internal/surface"
	"webterm/internal/trust"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runTabs int

// runCmd opens terminal tabs and supervises them
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open terminal tabs against the configured server",
	Long: `Opens terminal tabs in a browser and keeps them connected to the
terminal server. Tabs retry while the server is starting and give up once
the load timeout passes.

Editing the config file's server url reloads every tab; SIGHUP reloads
them in place. A fatal error (no client identity, server unresponsive)
ends the command with a non-zero exit status.`,
	RunE: runTerminals,
}

func init() {
	runCmd.Flags().IntVar(&runTabs, "tabs", 0, "Number of tabs to open (default: browser.tabs from config)")
}

func runTerminals(cmd *cobra.Command, args []string) error {
	cfg := prefs.Config()
	tabs := runTabs
	if tabs <= 0 {
		tabs = cfg.Browser.Tabs
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	keys, err := openKeyStore(cfg)
	if err != nil {
		return err
	}
	defer keys.Close()
	ids := newIdentityStore(cfg, keys)

	policy := trust.NewPolicy(ids, logging.Get(logging.CategoryTrust))
	mgr := surface.NewManager(surfaceConfig(cfg), policy, logging.Get(logging.CategorySurface))
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := mgr.Shutdown(context.Background()); err != nil {
			logger.Warn("Browser shutdown failed", zap.Error(err))
		}
	}()

	sup := newSupervisor(cmd.OutOrStdout(), logger)
	reg := session.NewRegistry(session.Options{
		Identities: ids,
		Surfaces:   mgr.Factory(),
		Listener:   sup,
		Timeout:    cfg.GetLoadTimeout(),
		Logger:     logging.Get(logging.CategorySession),
	})

	watcher, err := config.NewWatcher(prefs)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()
	prefs.OnChange(func(c *config.Config) {
		logger.Info("Server url changed", zap.String("url", c.Server.URL))
		loadAll(reg, c.Server.URL, logger)
	})

	reloads := make(chan struct{}, 1)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				select {
				case reloads <- struct{}{}:
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	logger.Info("Opening terminal tabs", zap.Int("tabs", tabs), zap.String("url", prefs.ServerURL()))
	if err := sup.Run(ctx, reg, tabs, prefs.ServerURL(), reloads); err != nil {
		return fmt.Errorf("terminal session failed: %w", err)
	}
	return nil
}
