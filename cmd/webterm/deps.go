package main

import (
	"webterm/internal/config"
	"webterm/internal/identity"
	"webterm/internal/keystore"
	"webterm/internal/logging"
	"webterm/internal/surface"
)

// openKeyStore opens the configured key store backend.
func openKeyStore(cfg *config.Config) (keystore.KeyStore, error) {
	if cfg.Storage.Backend == "memory" {
		return keystore.NewMemoryStore(), nil
	}
	return keystore.OpenSQLite(cfg.KeystorePath(), logging.Get(logging.CategoryKeystore))
}

func newIdentityStore(cfg *config.Config, keys keystore.KeyStore) *identity.Store {
	return identity.NewStore(keys, identity.Options{
		Alias:      cfg.Identity.Alias,
		Validity:   cfg.GetValidity(),
		ExportPath: cfg.CertificateExportPath(),
		Logger:     logging.Get(logging.CategoryIdentity),
	})
}

func surfaceConfig(cfg *config.Config) surface.Config {
	return surface.Config{
		DebuggerURL:       cfg.Browser.DebuggerURL,
		Bin:               cfg.Browser.Bin,
		Headless:          cfg.Browser.Headless,
		Flags:             cfg.Browser.Flags,
		SlowLoadThreshold: cfg.Browser.GetSlowLoadThreshold(),
	}
}
