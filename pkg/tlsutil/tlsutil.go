// Package tlsutil builds TLS configurations for the bridge's HTTP clients and
// servers, including trust pinning for remote services that present
// self-signed certificates.
package tlsutil

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
)

// ServerConfig configures a TLS listener.
type ServerConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	CertFile   string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty" yaml:"min_version,omitempty"` // "1.2" or "1.3"
}

// ClientConfig configures outbound TLS. The system CA bundle is always
// trusted; CAFiles are additional.
type ClientConfig struct {
	CAFiles            []string `json:"ca_files,omitempty" yaml:"ca_files,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"` // DEV/TEST ONLY
	MinVersion         string   `json:"min_version,omitempty" yaml:"min_version,omitempty"`
	CertFile           string   `json:"cert_file,omitempty" yaml:"cert_file,omitempty"` // mTLS client certificate
	KeyFile            string   `json:"key_file,omitempty" yaml:"key_file,omitempty"`
}

// LoadServerTLSConfig creates a tls.Config for a server. It returns nil when
// TLS is disabled.
func LoadServerTLSConfig(cfg ServerConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerTLSConfig", "load certificate")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}, nil
}

// LoadClientTLSConfig creates a tls.Config for HTTP clients.
func LoadClientTLSConfig(cfg ClientConfig) (*tls.Config, error) {
	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	for _, caFile := range cfg.CAFiles {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", fmt.Sprintf("read CA file %s", caFile))
		}
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, errors.WrapFatal(fmt.Errorf("invalid PEM data"), "tlsutil", "LoadClientTLSConfig",
				fmt.Sprintf("parse CA certificate from %s", caFile))
		}
	}

	tlsConfig := &tls.Config{
		RootCAs:            rootCAs,
		MinVersion:         parseTLSVersion(cfg.MinVersion),
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		clientCert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}
	return tlsConfig, nil
}

// parseTLSVersion converts version string to crypto/tls constant
// Returns tls.VersionTLS12 if empty or invalid
func parseTLSVersion(version string) uint16 {
	if version == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

// Fingerprint is the hex SHA-256 of a DER certificate.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// PinSet trusts specific leaf certificates per host in addition to the
// normal chain verification. Hosts are "host:port" as seen by the dialer.
type PinSet struct {
	mu   sync.RWMutex
	pins map[string]map[string]struct{}
}

// NewPinSet creates an empty pin set.
func NewPinSet() *PinSet {
	return &PinSet{pins: make(map[string]map[string]struct{})}
}

// Pin trusts the certificate with the given fingerprint for host.
func (p *PinSet) Pin(host, fingerprint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pins[host] == nil {
		p.pins[host] = make(map[string]struct{})
	}
	p.pins[host][fingerprint] = struct{}{}
}

// Unpin forgets every pin for host.
func (p *PinSet) Unpin(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pins, host)
}

// Pinned reports whether fingerprint is trusted for host.
func (p *PinSet) Pinned(host, fingerprint string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.pins[host][fingerprint]
	return ok
}

// DialTLSContext returns a dialer for http.Transport.DialTLSContext. A
// connection is accepted when the peer chain verifies against base.RootCAs
// for the dialed host, or when the leaf certificate is pinned for the dialed
// address. base is cloned on every dial, so later changes to it (such as
// ALPN protocols added for HTTP/2) take effect.
func (p *PinSet) DialTLSContext(base *tls.Config) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		cfg := base.Clone()
		if cfg == nil {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		if !cfg.InsecureSkipVerify {
			roots := cfg.RootCAs
			serverName := cfg.ServerName
			cfg.InsecureSkipVerify = true
			cfg.VerifyConnection = func(cs tls.ConnectionState) error {
				return p.verify(addr, serverName, roots, cs.PeerCertificates)
			}
		}

		dialer := &tls.Dialer{Config: cfg}
		return dialer.DialContext(ctx, network, addr)
	}
}

func (p *PinSet) verify(addr, serverName string, roots *x509.CertPool, certs []*x509.Certificate) error {
	if len(certs) == 0 {
		return fmt.Errorf("tlsutil: no peer certificate")
	}
	opts := x509.VerifyOptions{
		Roots:         roots,
		DNSName:       serverName,
		Intermediates: x509.NewCertPool(),
	}
	for _, c := range certs[1:] {
		opts.Intermediates.AddCert(c)
	}
	_, verifyErr := certs[0].Verify(opts)
	if verifyErr == nil {
		return nil
	}
	if p.Pinned(addr, Fingerprint(certs[0].Raw)) {
		return nil
	}
	return verifyErr
}
