// Package tls terminates HTTPS for the server, from certificate files or
// from Let's Encrypt via ACME.
package tls

import (
	"context"
	cryptotls "crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
)

// Modes.
const (
	ModeOff  = "off"
	ModeFile = "file"
	ModeACME = "acme"
)

const (
	// LetsEncrypt staging directory (for testing)
	letsEncryptStaging = "https://acme-staging-v02.api.letsencrypt.org/directory"
)

// Config selects how certificates are obtained.
type Config struct {
	Mode     string
	CertFile string
	KeyFile  string

	Domains  []string // ACME: hosts allowed to request certificates; "*.example.com" matches subdomains
	Email    string
	CacheDir string // ACME: account keys and issued certificates
	Staging  bool
}

// Setup is the result of configuring TLS.
type Setup struct {
	// Config is nil when TLS is off.
	Config *cryptotls.Config

	// Challenge answers ACME HTTP-01 challenges and redirects everything
	// else to HTTPS. It is nil unless the mode is ACME.
	Challenge http.Handler
}

// Enabled reports whether the server should listen with TLS.
func (s Setup) Enabled() bool {
	return s.Config != nil
}

// Configure builds the TLS setup for cfg.
func Configure(cfg Config, logger zerolog.Logger) (Setup, error) {
	switch cfg.Mode {
	case "", ModeOff:
		return Setup{}, nil

	case ModeFile:
		cert, err := cryptotls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return Setup{}, fmt.Errorf("load certificate: %w", err)
		}
		logger.Info().Str("cert", cfg.CertFile).Msg("tls enabled from certificate files")
		return Setup{Config: &cryptotls.Config{
			Certificates: []cryptotls.Certificate{cert},
			MinVersion:   cryptotls.VersionTLS12,
		}}, nil

	case ModeACME:
		if len(cfg.Domains) == 0 {
			return Setup{}, errors.New("acme requires at least one domain")
		}
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Cache:      autocert.DirCache(cfg.CacheDir),
			HostPolicy: hostPolicy(cfg.Domains, logger),
			Email:      cfg.Email,
		}
		if cfg.Staging {
			m.Client = &acme.Client{DirectoryURL: letsEncryptStaging}
		}
		logger.Info().
			Strs("domains", cfg.Domains).
			Bool("staging", cfg.Staging).
			Str("cache", cfg.CacheDir).
			Msg("tls enabled via acme")

		tlsCfg := m.TLSConfig()
		tlsCfg.MinVersion = cryptotls.VersionTLS12
		return Setup{Config: tlsCfg, Challenge: m.HTTPHandler(nil)}, nil

	default:
		return Setup{}, fmt.Errorf("unknown tls mode %q", cfg.Mode)
	}
}

// hostPolicy allows exact domains and "*." wildcard suffixes.
func hostPolicy(domains []string, logger zerolog.Logger) autocert.HostPolicy {
	return func(_ context.Context, host string) error {
		for _, d := range domains {
			if d == host {
				return nil
			}
			if strings.HasPrefix(d, "*.") && strings.HasSuffix(host, d[1:]) && len(host) > len(d)-1 {
				return nil
			}
		}
		logger.Warn().Str("host", host).Msg("certificate requested for unknown host")
		return fmt.Errorf("host %q not in allowed domains", host)
	}
}
