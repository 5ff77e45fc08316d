package identity

import (
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ExportCertificatePEM encodes the identity certificate as a single PEM
// CERTIFICATE block with the body wrapped at 64 columns.
func ExportCertificatePEM(id *Identity) ([]byte, error) {
	if id == nil || id.Certificate == nil || len(id.Certificate.Raw) == 0 {
		return nil, errors.New("no certificate to export")
	}
	out := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: id.Certificate.Raw})
	if out == nil {
		return nil, errors.New("certificate PEM encoding failed")
	}
	return out, nil
}

// WriteCertificateFile writes the PEM certificate to path, replacing any
// previous file in one rename so the terminal server never reads a partial file.
func WriteCertificateFile(id *Identity, path string) error {
	data, err := ExportCertificatePEM(id)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create certificate directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ca-*.crt")
	if err != nil {
		return fmt.Errorf("failed to create temp certificate: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to set certificate permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to install certificate: %w", err)
	}
	return nil
}
