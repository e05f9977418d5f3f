package aasclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sort"
	"sync"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/aas"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/pkg/tlsutil"
)

// CertificateProbe returns the fingerprint of the leaf certificate served
// at addr ("host:port") without verifying it.
type CertificateProbe func(ctx context.Context, addr string) (string, error)

// Registry tracks the services the bridge synchronizes. With self-signed
// certificates allowed, registering an https service pins the certificate
// it currently presents.
type Registry struct {
	pins            *tlsutil.PinSet
	allowSelfSigned bool
	probe           CertificateProbe
	logger          *slog.Logger

	mu       sync.RWMutex
	services map[string]aas.Service
	pinned   map[string]string // service key -> pinned addr
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// AllowSelfSigned pins the certificate of every https service on Register.
func AllowSelfSigned(allow bool) RegistryOption {
	return func(r *Registry) { r.allowSelfSigned = allow }
}

// WithProbe replaces how certificates are fetched for pinning.
func WithProbe(p CertificateProbe) RegistryOption {
	return func(r *Registry) {
		if p != nil {
			r.probe = p
		}
	}
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates a registry pinning into pins, normally the pin set
// of the Client that fetches from the registered services.
func NewRegistry(pins *tlsutil.PinSet, opts ...RegistryOption) *Registry {
	r := &Registry{
		pins:     pins,
		probe:    ProbeCertificate,
		logger:   slog.Default(),
		services: make(map[string]aas.Service),
		pinned:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "aas-registry")
	return r
}

// Register adds the service at rawURL.
func (r *Registry) Register(ctx context.Context, rawURL string) error {
	if err := aas.ValidateURL(rawURL); err != nil {
		return errors.WrapInvalid(err, "Registry", "Register", "validate url")
	}
	svc := aas.NewService(rawURL)

	var addr string
	if r.allowSelfSigned {
		var err error
		if addr, err = r.pin(ctx, svc); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.services[svc.Key()] = svc
	if addr != "" {
		r.pinned[svc.Key()] = addr
	}
	r.mu.Unlock()

	r.logger.Info("Service registered", "url", svc.AccessURL(), "pinned", addr != "")
	return nil
}

func (r *Registry) pin(ctx context.Context, svc aas.Service) (string, error) {
	u, err := url.Parse(svc.AccessURL())
	if err != nil || u.Scheme != "https" {
		return "", nil
	}
	addr := hostPort(u)
	fingerprint, err := r.probe(ctx, addr)
	if err != nil {
		return "", errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrServiceUnreachable, err),
			"Registry", "Register", "fetch certificate of "+addr)
	}
	r.pins.Pin(addr, fingerprint)
	return addr, nil
}

// Unregister removes the service at rawURL. Its pin is dropped unless
// another registered service shares the address.
func (r *Registry) Unregister(_ context.Context, rawURL string) error {
	key := aas.NewService(rawURL).Key()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[key]; !ok {
		return fmt.Errorf("service %s: %w", rawURL, errors.ErrNotFound)
	}
	delete(r.services, key)

	addr, ok := r.pinned[key]
	if !ok {
		return nil
	}
	delete(r.pinned, key)
	for _, other := range r.pinned {
		if other == addr {
			return nil
		}
	}
	r.pins.Unpin(addr)
	return nil
}

// Services lists the registered services ordered by access URL.
func (r *Registry) Services() []aas.Service {
	r.mu.RLock()
	out := make([]aas.Service, 0, len(r.services))
	for _, svc := range r.services {
		out = append(out, svc)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AccessURL() < out[j].AccessURL() })
	return out
}

// ProbeCertificate connects to addr without verification and returns the
// leaf certificate's fingerprint.
func ProbeCertificate(ctx context.Context, addr string) (string, error) {
	host, _, _ := net.SplitHostPort(addr)
	dialer := &tls.Dialer{Config: &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true, //nolint:gosec // certificate is only read for pinning
		MinVersion:         tls.VersionTLS12,
	}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return "", fmt.Errorf("no certificate presented by %s", addr)
	}
	return tlsutil.Fingerprint(certs[0].Raw), nil
}

func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	port := "443"
	if u.Scheme == "http" {
		port = "80"
	}
	return net.JoinHostPort(u.Hostname(), port)
}
