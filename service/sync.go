package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/health"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/selfdesc"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/synchronizer"
)

// Synchronizer runs one reconciliation pass over every stored service.
type Synchronizer interface {
	Synchronize(ctx context.Context) error
}

// SyncConfig drives the pass schedule.
type SyncConfig struct {
	Period       time.Duration
	InitialDelay time.Duration
	// Locations are registered in the store at start.
	Locations []string
}

// SyncStats summarizes the passes run so far.
type SyncStats struct {
	Passes    int64
	Skipped   int64
	LastPass  time.Time
	LastError string
}

// SyncService runs synchronization passes at a fixed rate. A tick that
// arrives while a pass is still running is skipped.
type SyncService struct {
	*BaseService

	config   SyncConfig
	store    selfdesc.Store
	syncer   Synchronizer
	registry synchronizer.ServiceRegistry
	monitor  *health.Monitor

	busy    atomic.Bool
	passes  atomic.Int64
	skipped atomic.Int64
	last    atomic.Value // SyncStats
}

// NewSyncService wires the runtime. monitor may be nil.
func NewSyncService(cfg SyncConfig, store selfdesc.Store, syncer Synchronizer,
	registry synchronizer.ServiceRegistry, monitor *health.Monitor, opts ...Option) *SyncService {

	if cfg.Period <= 0 {
		cfg.Period = 5 * time.Second
	}
	if monitor == nil {
		monitor = health.NewMonitor()
	}
	s := &SyncService{
		BaseService: NewBaseService("sync", opts...),
		config:      cfg,
		store:       store,
		syncer:      syncer,
		registry:    registry,
		monitor:     monitor,
	}
	s.last.Store(SyncStats{})
	return s
}

// Start re-registers stored services with the registry, adds configured
// locations to the store, and begins the pass schedule.
func (s *SyncService) Start(ctx context.Context) error {
	if s.Status() == StatusRunning {
		return nil
	}
	if err := s.BaseService.Start(ctx); err != nil {
		return err
	}

	s.restore(ctx)
	for _, loc := range s.config.Locations {
		if err := s.store.Create(ctx, loc); err != nil {
			s.Logger().Error("Failed to register configured service", "url", loc, "error", err)
		}
	}

	return s.Go(func(done <-chan struct{}) { s.loop(ctx, done) })
}

// restore registers services that survived a restart in a persistent store.
func (s *SyncService) restore(ctx context.Context) {
	urls, err := s.store.List(ctx)
	if err != nil {
		s.Logger().Error("Failed to list stored services", "error", err)
		return
	}
	for _, url := range urls {
		if err := s.registry.Register(ctx, url); err != nil {
			s.Logger().Warn("Failed to re-register stored service", "url", url, "error", err)
		}
	}
}

func (s *SyncService) loop(ctx context.Context, done <-chan struct{}) {
	passCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	go func() {
		select {
		case <-done:
			cancel()
		case <-passCtx.Done():
		}
	}()

	timer := time.NewTimer(s.config.InitialDelay)
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-timer.C:
	}

	ticker := time.NewTicker(s.config.Period)
	defer ticker.Stop()
	for {
		s.tick(passCtx)
		select {
		case <-done:
			return
		case <-ticker.C:
		}
	}
}

// tick starts a pass unless one is running.
func (s *SyncService) tick(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.Logger().Debug("Skipping tick, previous pass still running")
		return
	}
	if err := s.Go(func(<-chan struct{}) {
		defer s.busy.Store(false)
		s.RunPass(ctx)
	}); err != nil {
		s.busy.Store(false)
		s.Logger().Debug("Pass not started", "error", err)
	}
}

// RunPass runs one pass synchronously and records its outcome.
func (s *SyncService) RunPass(ctx context.Context) {
	err := s.syncer.Synchronize(ctx)
	s.passes.Add(1)

	stats := SyncStats{LastPass: time.Now()}
	if err != nil {
		stats.LastError = err.Error()
		if s.metricsRegistry != nil {
			s.metricsRegistry.CoreMetrics().RecordError(s.Name(), errors.Classify(err).String())
		}
		s.monitor.Update("sync", health.NewStatus("sync", health.StateDegraded, health.Sanitize(err.Error())))
	} else {
		s.monitor.Update("sync", health.NewStatus("sync", health.StateHealthy, ""))
	}
	s.last.Store(stats)
}

// AddService registers url for synchronization.
func (s *SyncService) AddService(ctx context.Context, url string) error {
	return s.store.Create(ctx, url)
}

// RemoveService stops synchronizing url and withdraws its resources.
func (s *SyncService) RemoveService(ctx context.Context, url string) error {
	return s.store.Remove(ctx, url)
}

// Stats returns pass counters.
func (s *SyncService) Stats() SyncStats {
	st := s.last.Load().(SyncStats)
	st.Passes = s.passes.Load()
	st.Skipped = s.skipped.Load()
	return st
}

// Health reports the lifecycle state together with the last pass.
func (s *SyncService) Health() health.Status {
	subs := []health.Status{s.BaseService.Health()}
	if last, ok := s.monitor.Get("sync"); ok {
		subs = append(subs, last)
	}
	return health.Aggregate(s.Name(), subs)
}
