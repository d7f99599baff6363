// Package tls builds the API server's TLS configuration, optionally
// generating a self-signed certificate for local setups.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/poppa/pike-lsp-sub000/internal/config"
)

const (
	certName   = "tls.crt"
	keyName    = "tls.key"
	caCertName = "tls_ca.crt"
)

// Setup returns the TLS config for the server section, or nil when TLS is
// disabled.
func Setup(server config.ServerConfig) (*tls.Config, error) {
	if server.TLS == nil || !server.TLS.Enabled {
		return nil, nil
	}

	minVer, maxVer := resolveVersions(server)

	if server.TLS.CertFile != "" && server.TLS.KeyFile != "" {
		return dynamicConfig(server.TLS.CertFile, server.TLS.KeyFile, minVer, maxVer), nil
	}

	if server.TLS.Dir != "" {
		certPath := filepath.Join(server.TLS.Dir, certName)
		keyPath := filepath.Join(server.TLS.Dir, keyName)
		if server.TLS.AutoGenerate && !filesExist(certPath, keyPath) {
			if err := generate(server.TLS, server.TLS.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		return dynamicConfig(certPath, keyPath, minVer, maxVer), nil
	}

	return nil, errors.New("tls enabled but no certificate configuration found")
}

func parseVersion(ver string) (uint16, bool) {
	switch ver {
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

func resolveVersions(cfg config.ServerConfig) (minVer uint16, maxVer uint16) {
	minVer = tls.VersionTLS13
	maxVer = tls.VersionTLS13
	if v, ok := parseVersion(cfg.TLSMinVersion); ok {
		minVer = v
	}
	if v, ok := parseVersion(cfg.TLSMaxVersion); ok {
		maxVer = v
	}
	return
}

// dynamicConfig reloads the key pair on every handshake so rotated
// certificates take effect without a restart.
func dynamicConfig(certPath, keyPath string, minVer, maxVer uint16) *tls.Config {
	baseDir := filepath.Dir(certPath)
	// #nosec G402 minimum version resolved above
	return &tls.Config{
		MinVersion: minVer,
		MaxVersion: maxVer,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			certPEM, err := safeReadFile(baseDir, certPath)
			if err != nil {
				return nil, err
			}
			keyPEM, err := safeReadFile(baseDir, keyPath)
			if err != nil {
				return nil, err
			}
			cert, err := tls.X509KeyPair(certPEM, keyPEM)
			return &cert, err
		},
	}
}

// safeReadFile rejects paths escaping the certificate directory.
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of certificate directory")
		}
	}
	return os.ReadFile(clean)
}

func filesExist(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
