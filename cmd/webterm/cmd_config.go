package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE:  configShow,
}

var configSetURLCmd = &cobra.Command{
	Use:   "set-url [url]",
	Short: "Point tabs at a different loopback terminal server",
	Long: `Stores a new terminal server url. Running 'webterm run' processes pick
the change up and reload their tabs.

Example:
  webterm config set-url https://127.0.0.1:7681`,
	Args: cobra.ExactArgs(1),
	RunE: configSetURL,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetURLCmd)
}

func configShow(cmd *cobra.Command, args []string) error {
	data, err := yaml.Marshal(prefs.Config())
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", prefs.Path(), data)
	return nil
}

func configSetURL(cmd *cobra.Command, args []string) error {
	if err := prefs.SetServerURL(args[0]); err != nil {
		return err
	}
	logger.Info("Server url updated", zap.String("url", args[0]))
	fmt.Fprintln(cmd.OutOrStdout(), renderFields(
		"server", strconv.Quote(prefs.ServerURL()),
		"config", prefs.Path(),
	))
	return nil
}
