// Package certs loads TLS certificate material for the encrypted listeners.
// A missing certificate or key file is a valid, handled state: the listener
// that needed it simply does not start.
package certs

import (
	"crypto/tls"
	"fmt"
	"os"

	"github.com/tlsdns/tlsdnsd/internal/dns/common/log"
)

// Provider supplies a PEM certificate/key pair, or reports it absent.
type Provider interface {
	// Load returns the certificate for the given paths. ok is false when
	// either file does not exist; err is reserved for unreadable or
	// mismatched material.
	Load(certFile, keyFile string) (cert tls.Certificate, ok bool, err error)
}

// FileProvider reads certificate pairs from the filesystem.
type FileProvider struct {
	logger log.Logger
}

// NewFileProvider creates a FileProvider using the provided logger.
func NewFileProvider(logger log.Logger) *FileProvider {
	return &FileProvider{logger: logger}
}

// Load reads and parses the certificate pair at the given paths.
func (p *FileProvider) Load(certFile, keyFile string) (tls.Certificate, bool, error) {
	for _, path := range []string{certFile, keyFile} {
		if path == "" {
			return tls.Certificate{}, false, nil
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			p.logger.Debug(map[string]any{
				"path": path,
			}, "Certificate material not present")
			return tls.Certificate{}, false, nil
		} else if err != nil {
			return tls.Certificate{}, false, fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, false, fmt.Errorf("failed to load certificate pair: %w", err)
	}
	return cert, true, nil
}

var _ Provider = &FileProvider{}
