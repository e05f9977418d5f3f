// Package natsclient manages the NATS connection used for durable state and
// exposes JetStream key/value buckets with compare-and-swap helpers.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// Client owns one NATS connection and its JetStream context. Repeated
// failures open a circuit that rejects calls until the backoff has passed.
type Client struct {
	url    string
	status atomic.Value // ConnectionStatus
	logger *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream

	failures         atomic.Int32
	circuitThreshold int32
	backoff          time.Duration
	maxBackoff       time.Duration
	openedAt         atomic.Value // time.Time

	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	clientName    string
	username      string
	password      string
	token         string

	onHealthChange func(bool)
	onReconnect    func()
	onCircuit      func(open bool)

	mu     sync.RWMutex
	closed atomic.Bool
}

// NewClient creates a client for url. No connection is made until Connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default().With("component", "natsclient"),
		circuitThreshold: 5,
		backoff:          time.Second,
		maxBackoff:       time.Minute,
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		timeout:          5 * time.Second,
		drainTimeout:     10 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.openedAt.Store(time.Time{})
	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	return c.status.Load().(ConnectionStatus)
}

// IsHealthy returns true if the connection is healthy
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.status.Store(s)
}

// recordFailure counts a failure and opens the circuit at the threshold.
func (c *Client) recordFailure() {
	if c.failures.Add(1) < c.circuitThreshold {
		return
	}
	if c.Status() != StatusCircuitOpen {
		c.setStatus(StatusCircuitOpen)
		c.openedAt.Store(time.Now())
		c.logger.Warn("Circuit breaker opened", "url", c.url, "backoff", c.backoff)
		c.notifyCircuit(true)
	}
}

func (c *Client) resetCircuit() {
	c.failures.Store(0)
	if c.Status() == StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
		c.notifyCircuit(false)
	}
}

// circuitAllows reports whether a call may proceed, half-opening the circuit
// once the backoff has elapsed.
func (c *Client) circuitAllows() bool {
	if c.Status() != StatusCircuitOpen {
		return true
	}
	opened := c.openedAt.Load().(time.Time)
	if time.Since(opened) < c.backoff {
		return false
	}
	c.mu.Lock()
	c.backoff = min(c.backoff*2, c.maxBackoff)
	c.mu.Unlock()
	c.failures.Store(0)
	c.setStatus(StatusDisconnected)
	c.notifyCircuit(false)
	return true
}

func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.setStatus(StatusReconnecting)
			c.logger.Warn("NATS disconnected", "error", err)
			c.notifyHealth(false)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.setStatus(StatusConnected)
			c.resetCircuit()
			c.logger.Info("NATS reconnected", "url", c.url)
			if c.onReconnect != nil {
				go c.onReconnect()
			}
			c.notifyHealth(true)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.setStatus(StatusDisconnected)
			c.notifyHealth(false)
		}),
	}
	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	return opts
}

func (c *Client) notifyCircuit(open bool) {
	if c.onCircuit != nil {
		go c.onCircuit(open)
	}
}

func (c *Client) notifyHealth(healthy bool) {
	if c.onHealthChange != nil {
		go c.onHealthChange(healthy)
	}
}

// Connect establishes the connection and JetStream context.
func (c *Client) Connect(ctx context.Context) error {
	if !c.circuitAllows() {
		return ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.connectionOptions()...)
		done <- result{conn: conn, err: err}
	}()

	var conn *nats.Conn
	select {
	case r := <-done:
		if r.err != nil {
			c.setStatus(StatusDisconnected)
			c.recordFailure()
			return errors.WrapTransient(r.err, "Client", "Connect", "establish connection")
		}
		conn = r.conn
	case <-ctx.Done():
		c.setStatus(StatusDisconnected)
		c.recordFailure()
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "initialize jetstream")
	}

	c.mu.Lock()
	c.conn = conn
	c.js = js
	c.mu.Unlock()

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("Connected to NATS", "url", c.url)
	c.notifyHealth(true)
	return nil
}

// Close drains and closes the connection. It is safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.username, c.password, c.token = "", "", ""
	c.mu.Unlock()

	if conn == nil {
		c.setStatus(StatusDisconnected)
		return nil
	}

	drained := make(chan error, 1)
	go func() { drained <- conn.Drain() }()

	var err error
	select {
	case err = <-drained:
		if err != nil {
			err = errors.Wrap(err, "Client", "Close", "drain connection")
		}
	case <-ctx.Done():
		err = errors.Wrap(ctx.Err(), "Client", "Close", "drain connection")
	}
	conn.Close()
	c.setStatus(StatusDisconnected)
	return err
}

// WaitForConnection blocks until the client is connected or ctx ends.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("connection timeout: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Publish sends data on subject.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", fmt.Sprintf("publish to %s", subject))
	}
	return nil
}

// Subscribe calls handler for every message on subject until the returned
// unsubscribe function is called or the connection closes. Each handler call
// gets a context derived from ctx.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (func() error, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return nil, ErrNotConnected
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Subscribe", fmt.Sprintf("subscribe to %s", subject))
	}
	return sub.Unsubscribe, nil
}

// JetStream returns the JetStream context
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return c.js, nil
}

// CreateKeyValueBucket returns the bucket named in cfg, creating it when it
// does not exist yet.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	if !c.circuitAllows() {
		return nil, ErrCircuitOpen
	}
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	if bucket, err := js.KeyValue(ctx, cfg.Bucket); err == nil {
		c.logger.Debug("Using existing KV bucket", "bucket", cfg.Bucket)
		c.resetCircuit()
		return bucket, nil
	}

	bucket, err := js.CreateKeyValue(ctx, cfg)
	if err != nil {
		if !isAlreadyExistsError(err) {
			c.recordFailure()
			return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket",
				fmt.Sprintf("create bucket %s", cfg.Bucket))
		}
		// Lost a creation race; the bucket is there now.
		bucket, err = js.KeyValue(ctx, cfg.Bucket)
		if err != nil {
			c.recordFailure()
			return nil, errors.Wrap(err, "Client", "CreateKeyValueBucket",
				fmt.Sprintf("access existing bucket %s", cfg.Bucket))
		}
	}

	c.logger.Info("KV bucket ready", "bucket", cfg.Bucket)
	c.resetCircuit()
	return bucket, nil
}

func isAlreadyExistsError(err error) bool {
	if stderrors.Is(err, jetstream.ErrBucketExists) || stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "already in use") || strings.Contains(msg, "already exists")
}
