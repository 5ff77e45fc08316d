package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"webterm/internal/keystore"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var keystoreCmd = &cobra.Command{
	Use:   "keystore",
	Short: "Inspect the key store",
}

var keystoreListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored aliases",
	RunE:  keystoreList,
}

var keystoreDeleteCmd = &cobra.Command{
	Use:   "delete <alias>",
	Short: "Remove a stored key pair",
	Long: `Removes the entry for alias. Deleting the identity alias makes the next
run provision a new client certificate.`,
	Args: cobra.ExactArgs(1),
	RunE: keystoreDelete,
}

func init() {
	keystoreCmd.AddCommand(keystoreListCmd)
	keystoreCmd.AddCommand(keystoreDeleteCmd)
}

func keystoreList(cmd *cobra.Command, args []string) error {
	cfg := prefs.Config()
	keys, err := openKeyStore(cfg)
	if err != nil {
		return err
	}
	defer keys.Close()

	ctx := context.Background()
	aliases, err := keys.List(ctx)
	if err != nil {
		return err
	}
	if len(aliases) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), labelStyle.Render("no entries"))
		return nil
	}

	var pairs []string
	for _, alias := range aliases {
		entry, err := keys.Get(ctx, alias)
		switch {
		case errors.Is(err, keystore.ErrCorrupt):
			pairs = append(pairs, alias, errorStyle.Render("corrupt"))
		case err != nil:
			return err
		default:
			pairs = append(pairs, alias, "created "+entry.CreatedAt.Format(time.RFC3339))
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderFields(pairs...))
	return nil
}

func keystoreDelete(cmd *cobra.Command, args []string) error {
	keys, err := openKeyStore(prefs.Config())
	if err != nil {
		return err
	}
	defer keys.Close()

	alias := args[0]
	if err := keys.Delete(context.Background(), alias); err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			return fmt.Errorf("no entry for alias %q", alias)
		}
		return err
	}
	logger.Info("Key entry deleted", zap.String("alias", alias))
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", alias)
	return nil
}
