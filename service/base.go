// Package service runs the bridge's long-lived loops with a shared
// lifecycle: start, graceful stop with a timeout, and status reporting.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/health"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/metric"
)

// Status represents the current status of a service
type Status int

// Possible service statuses
const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Info holds runtime information for a service
type Info struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Uptime    time.Duration `json:"uptime"`
	StartTime time.Time     `json:"start_time"`
}

// Service is the contract the runtime drives.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Status() Status
	Health() health.Status
}

// Option is a functional option for configuring BaseService
type Option func(*BaseService)

// WithMetrics records status transitions in the registry's core metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *BaseService) {
		s.metricsRegistry = registry
	}
}

// WithLogger sets a custom logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *BaseService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// BaseService owns the lifecycle shared by every service. Concrete
// services embed it and launch their loops with Go.
type BaseService struct {
	name            string
	metricsRegistry *metric.MetricsRegistry
	logger          *slog.Logger

	status    atomic.Value // Status
	startTime atomic.Value // time.Time

	done      chan struct{}
	waitGroup sync.WaitGroup
	mu        sync.Mutex
}

// NewBaseService creates a stopped service.
func NewBaseService(name string, opts ...Option) *BaseService {
	s := &BaseService{
		name:   name,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("service", name)
	s.startTime.Store(time.Time{})
	s.setStatus(StatusStopped)
	return s
}

func (s *BaseService) setStatus(st Status) {
	s.status.Store(st)
	if s.metricsRegistry != nil {
		s.metricsRegistry.CoreMetrics().RecordServiceStatus(s.name, int(st))
	}
}

// Name returns the service name
func (s *BaseService) Name() string {
	return s.name
}

// Logger returns the service logger.
func (s *BaseService) Logger() *slog.Logger {
	return s.logger
}

// Status returns the current service status
func (s *BaseService) Status() Status {
	return s.status.Load().(Status)
}

// Done is closed when the service begins stopping.
func (s *BaseService) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Health maps the lifecycle state onto a health status.
func (s *BaseService) Health() health.Status {
	switch st := s.Status(); st {
	case StatusRunning:
		return health.NewStatus(s.name, health.StateHealthy, "")
	case StatusStarting, StatusStopping:
		return health.NewStatus(s.name, health.StateDegraded, "service is "+st.String())
	default:
		return health.NewStatus(s.name, health.StateUnhealthy, fmt.Sprintf("service is %s", st))
	}
}

// Start marks the service running. Cancelling ctx signals the managed
// goroutines; Stop still waits for them. Starting a running service is a
// no-op.
func (s *BaseService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.Status(); st == StatusRunning || st == StatusStarting {
		return nil
	}
	s.setStatus(StatusStarting)
	s.done = make(chan struct{})
	s.startTime.Store(time.Now())

	done := s.done
	s.waitGroup.Add(1)
	go func() {
		defer s.waitGroup.Done()
		select {
		case <-ctx.Done():
			s.closeDone()
		case <-done:
		}
	}()

	s.setStatus(StatusRunning)
	return nil
}

// Go runs fn as a managed goroutine. Stop closes the channel fn receives
// and waits for fn to return.
func (s *BaseService) Go(fn func(done <-chan struct{})) error {
	s.mu.Lock()
	done := s.done
	if done == nil {
		s.mu.Unlock()
		return errors.ErrNotStarted
	}
	s.waitGroup.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.waitGroup.Done()
		fn(done)
	}()
	return nil
}

func (s *BaseService) closeDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		return
	}
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Stop signals every managed goroutine and waits up to timeout for them.
// A zero timeout waits five seconds.
func (s *BaseService) Stop(timeout time.Duration) error {
	if st := s.Status(); st == StatusStopped || st == StatusStopping {
		return nil
	}
	s.setStatus(StatusStopping)
	s.closeDone()

	if timeout == 0 {
		timeout = 5 * time.Second
	}
	finished := make(chan struct{})
	go func() {
		s.waitGroup.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-time.After(timeout):
		err = fmt.Errorf("service %s: stop timed out after %s", s.name, timeout)
		s.logger.Warn("Goroutines still running after stop timeout", "timeout", timeout)
	}

	s.setStatus(StatusStopped)
	return err
}

// GetStatus returns the current service information
func (s *BaseService) GetStatus() Info {
	start := s.startTime.Load().(time.Time)
	var uptime time.Duration
	if !start.IsZero() && s.Status() == StatusRunning {
		uptime = time.Since(start)
	}
	return Info{Name: s.name, Status: s.Status(), Uptime: uptime, StartTime: start}
}
