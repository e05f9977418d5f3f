// Package aasclient talks to remote AAS services over HTTP: it fetches
// their environments and keeps the registry of known services, pinning
// self-signed certificates when allowed.
package aasclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/aas"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/pkg/retry"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/pkg/tlsutil"
)

const maxPages = 1000

// Client fetches environments from AAS services.
type Client struct {
	http    *http.Client
	retry   retry.Config
	logger  *slog.Logger
	tls     tlsutil.ClientConfig
	pins    *tlsutil.PinSet
	timeout time.Duration
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithTLS sets the trust roots and client certificate.
func WithTLS(cfg tlsutil.ClientConfig) Option {
	return func(c *Client) { c.tls = cfg }
}

// WithPins trusts certificates pinned in pins in addition to the roots.
func WithPins(pins *tlsutil.PinSet) Option {
	return func(c *Client) { c.pins = pins }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit caps requests per second across all services. A
// non-positive rps leaves requests unlimited.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithRetry replaces the retry policy for transient failures.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient builds a client with an HTTP/2 capable transport.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		retry:   retry.DefaultConfig(),
		logger:  slog.Default(),
		pins:    tlsutil.NewPinSet(),
		timeout: 30 * time.Second,
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "aasclient")

	tlsConfig, err := tlsutil.LoadClientTLSConfig(c.tls)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "NewClient", "load tls configuration")
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     tlsConfig,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, errors.WrapFatal(err, "Client", "NewClient", "enable http2")
	}
	transport.DialTLSContext = c.pins.DialTLSContext(transport.TLSClientConfig)

	c.http = &http.Client{Transport: transport, Timeout: c.timeout}
	return c, nil
}

// Pins returns the pin set consulted for self-signed services.
func (c *Client) Pins() *tlsutil.PinSet {
	return c.pins
}

// FetchEnvironment reads the shells, submodels and concept descriptions of
// svc. Submodels are required; a service that does not serve shells or
// concept descriptions (404) yields empty lists for them.
func (c *Client) FetchEnvironment(ctx context.Context, svc aas.Service) (*aas.Environment, error) {
	submodelsURL, err := svc.SubmodelsURL()
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "FetchEnvironment", "build submodels url")
	}

	env := aas.NewEnvironment()
	if env.Submodels, err = fetchAll[*aas.Submodel](ctx, c, submodelsURL); err != nil {
		return nil, err
	}
	for _, sm := range env.Submodels {
		if sm == nil {
			continue
		}
		if err := expandElements(sm.Elements); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "FetchEnvironment", "decode submodel "+sm.ID)
		}
	}

	if shellsURL, err := svc.ShellsURL(); err == nil {
		if env.Shells, err = fetchOptional[*aas.Shell](ctx, c, shellsURL); err != nil {
			return nil, err
		}
	}
	if cdURL, err := svc.ConceptDescriptionsURL(); err == nil {
		if env.ConceptDescriptions, err = fetchOptional[*aas.ConceptDescription](ctx, c, cdURL); err != nil {
			return nil, err
		}
	}
	return env, nil
}

func fetchOptional[T any](ctx context.Context, c *Client, resource string) ([]T, error) {
	items, err := fetchAll[T](ctx, c, resource)
	if stderrors.Is(err, errors.ErrNotFound) {
		c.logger.Debug("Resource not served", "url", resource)
		return []T{}, nil
	}
	return items, err
}

// fetchAll follows paging cursors until the last page.
func fetchAll[T any](ctx context.Context, c *Client, resource string) ([]T, error) {
	all := []T{}
	cursor := ""
	for i := 0; i < maxPages; i++ {
		target := resource
		if cursor != "" {
			u, err := url.Parse(resource)
			if err != nil {
				return nil, errors.WrapInvalid(err, "Client", "FetchEnvironment", "add cursor")
			}
			q := u.Query()
			q.Set("cursor", cursor)
			u.RawQuery = q.Encode()
			target = u.String()
		}

		data, err := c.get(ctx, target)
		if err != nil {
			return nil, err
		}
		items, next, err := decodePage[T](data)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Client", "FetchEnvironment", "decode "+resource)
		}
		all = append(all, items...)
		if next == "" || next == cursor {
			return all, nil
		}
		cursor = next
	}
	return nil, errors.WrapInvalid(fmt.Errorf("%w: more than %d pages at %s", errors.ErrInvalidData, maxPages, resource),
		"Client", "FetchEnvironment", "follow cursor")
}

func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	cfg := c.retry
	cfg.OnRetry = func(attempt int, err error) {
		c.logger.Debug("Retrying request", "url", target, "attempt", attempt, "error", err)
	}
	return retry.DoWithResult(ctx, cfg, func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, retry.NonRetryable(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, retry.NonRetryable(errors.WrapInvalid(err, "Client", "get", "build request"))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrServiceUnreachable, err),
				"Client", "get", target)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.WrapTransient(err, "Client", "get", "read "+target)
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, retry.NonRetryable(fmt.Errorf("%s: %w", target, errors.ErrNotFound))
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, errors.WrapInvalid(fmt.Errorf("%s returned %s", target, resp.Status), "Client", "get", "authorize")
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return nil, errors.WrapTransient(fmt.Errorf("%w: %s returned %s", errors.ErrServiceUnreachable, target, resp.Status),
				"Client", "get", target)
		case resp.StatusCode >= 300:
			return nil, retry.NonRetryable(fmt.Errorf("%s returned %s", target, resp.Status))
		}
		return data, nil
	})
}
