package main

import (
	"context"
	"fmt"
	"time"

	"webterm/internal/identity"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Inspect and manage the client certificate",
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the client identity, provisioning it if needed",
	RunE:  identityShow,
}

var identityExportCmd = &cobra.Command{
	Use:   "export [path]",
	Short: "Write the client certificate as PEM (stdout when no path is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  identityExport,
}

var identityRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Replace the client key pair and certificate",
	Long: `Generates a new key pair and certificate under the configured alias.
The terminal server must be given the new certificate before tabs can
authenticate again.`,
	RunE: identityRotate,
}

func init() {
	identityCmd.AddCommand(identityShowCmd)
	identityCmd.AddCommand(identityExportCmd)
	identityCmd.AddCommand(identityRotateCmd)
}

// withIdentityStore opens the configured key store for the duration of fn.
func withIdentityStore(fn func(*identity.Store) error) error {
	cfg := prefs.Config()
	keys, err := openKeyStore(cfg)
	if err != nil {
		return err
	}
	defer keys.Close()
	return fn(newIdentityStore(cfg, keys))
}

func printIdentity(cmd *cobra.Command, id *identity.Identity) {
	fmt.Fprintln(cmd.OutOrStdout(), renderFields(
		"alias", id.Alias,
		"subject", id.Certificate.Subject.String(),
		"fingerprint", id.Fingerprint(),
		"not before", id.NotBefore.Format(time.RFC3339),
		"not after", id.NotAfter.Format(time.RFC3339),
		"export", prefs.Config().CertificateExportPath(),
	))
}

func identityShow(cmd *cobra.Command, args []string) error {
	return withIdentityStore(func(s *identity.Store) error {
		id, err := s.GetOrCreate(context.Background())
		if err != nil {
			return err
		}
		printIdentity(cmd, id)
		return nil
	})
}

func identityExport(cmd *cobra.Command, args []string) error {
	return withIdentityStore(func(s *identity.Store) error {
		id, err := s.GetOrCreate(context.Background())
		if err != nil {
			return err
		}
		if len(args) == 0 {
			data, err := identity.ExportCertificatePEM(id)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := identity.WriteCertificateFile(id, args[0]); err != nil {
			return err
		}
		logger.Info("Certificate exported", zap.String("path", args[0]))
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", args[0])
		return nil
	})
}

func identityRotate(cmd *cobra.Command, args []string) error {
	return withIdentityStore(func(s *identity.Store) error {
		id, err := s.Rotate(context.Background())
		if err != nil {
			return err
		}
		logger.Info("Identity rotated", zap.String("fingerprint", id.Fingerprint()))
		printIdentity(cmd, id)
		return nil
	})
}
