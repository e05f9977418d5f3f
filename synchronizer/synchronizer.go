// Package synchronizer keeps the local resource index in step with the
// remote AAS services registered in the self-description store.
//
// Each pass fetches a service's environment, carries resource and agreement
// ids over from the last-known tree for every element that still exists
// (matched by idShort), registers whatever has no ids yet and stores the
// result. Elements that disappeared remotely are left alone; their
// resources are only removed when the whole service is de-registered.
package synchronizer

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/aas"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/catalog"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/mapping"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/metric"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/pipeline"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/selfdesc"
)

// Fetcher retrieves the current environment of a remote service.
type Fetcher interface {
	FetchEnvironment(ctx context.Context, svc aas.Service) (*aas.Environment, error)
}

// ResourceController mutates the local resource index.
type ResourceController interface {
	CreateResource(ctx context.Context, r catalog.Resource) (resourceID, agreementID string, err error)
	DeleteResource(ctx context.Context, resourceID string) error
}

// ServiceRegistry tracks the remote services the bridge talks to.
type ServiceRegistry interface {
	Register(ctx context.Context, url string) error
	Unregister(ctx context.Context, url string) error
}

// Report summarizes one service synchronization.
type Report struct {
	URL string
	// Registered counts elements that received ids in this pass.
	Registered int
	// Carried counts elements whose ids were taken over from the old tree.
	Carried int
	// Failed counts registrations that failed; they are retried next pass.
	Failed int
	// Warnings are non-fatal mapping problems. When set without a stored
	// update the previous tree was kept.
	Warnings []string
	// Kept is true when the previous tree was kept unchanged.
	Kept bool
	// Skipped is true when the service was removed before the pass got to it.
	Skipped bool
}

// Synchronizer reconciles services with the resource index. It implements
// selfdesc.Listener.
type Synchronizer struct {
	store       selfdesc.Store
	fetcher     Fetcher
	resources   ResourceController
	registry    ServiceRegistry
	mapper      *mapping.Mapper
	serviceOpts []aas.ServiceOption
	logger      *slog.Logger
	metrics     *metric.SyncMetrics

	// mu serializes work on the store so a registration-triggered sync
	// never interleaves with a timer pass.
	mu sync.Mutex
	// removed holds services whose resources were released by Removed. The
	// store deletes the record only after Removed returns, so a pass queued
	// on mu could otherwise still load it. Guarded by mu.
	removed map[string]struct{}
}

var _ selfdesc.Listener = (*Synchronizer)(nil)

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithMapper replaces the default mapper, e.g. to enable submodels-only mode.
func WithMapper(m *mapping.Mapper) Option {
	return func(s *Synchronizer) {
		if m != nil {
			s.mapper = m
		}
	}
}

// WithServiceOptions applies path overrides to every service built from a
// stored url.
func WithServiceOptions(opts ...aas.ServiceOption) Option {
	return func(s *Synchronizer) { s.serviceOpts = append(s.serviceOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records pass and registration metrics.
func WithMetrics(m *metric.SyncMetrics) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

// New wires a Synchronizer. It does not register itself as a store
// listener; callers do that explicitly.
func New(store selfdesc.Store, fetcher Fetcher, resources ResourceController, registry ServiceRegistry, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:     store,
		fetcher:   fetcher,
		resources: resources,
		registry:  registry,
		mapper:    mapping.NewMapper(),
		logger:    slog.Default(),
		removed:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "synchronizer")
	return s
}

// Synchronize runs one pass over every registered service. A failing
// service does not stop the pass; all failures are joined into the
// returned error.
func (s *Synchronizer) Synchronize(ctx context.Context) error {
	start := time.Now()
	urls, err := s.store.List(ctx)
	if err != nil {
		return errors.WrapTransient(err, "Synchronizer", "Synchronize", "list services")
	}

	var errs []error
	for _, url := range urls {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		report, err := s.SynchronizeService(ctx, url)
		if err != nil {
			s.logger.Warn("Service synchronization failed", "url", url, "error", err,
				"class", errors.Classify(err).String())
			errs = append(errs, err)
			continue
		}
		if report.Skipped {
			s.logger.Debug("Service removed before its turn", "url", url)
			continue
		}
		s.logger.Debug("Service synchronized", "url", url, "registered", report.Registered,
			"carried", report.Carried, "failed", report.Failed, "kept", report.Kept)
	}

	s.metrics.RecordPass(time.Since(start), len(urls))
	return stderrors.Join(errs...)
}

// SynchronizeService reconciles a single service.
func (s *Synchronizer) SynchronizeService(ctx context.Context, url string) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, err := s.synchronize(ctx, url)
	switch {
	case report.Skipped:
	case err != nil:
		s.metrics.RecordService("failed")
	case len(report.Warnings) > 0:
		s.metrics.RecordService("warning")
	default:
		s.metrics.RecordService("success")
	}
	return report, err
}

func (s *Synchronizer) synchronize(ctx context.Context, url string) (Report, error) {
	svc := aas.NewService(url, s.serviceOpts...)
	report := Report{URL: svc.AccessURL()}
	if _, gone := s.removed[svc.AccessURL()]; gone {
		report.Skipped = true
		return report, nil
	}

	env, err := s.fetcher.FetchEnvironment(ctx, svc)
	if err != nil {
		return report, errors.WrapTransient(err, "Synchronizer", "SynchronizeService",
			fmt.Sprintf("fetch environment of %s", svc.AccessURL()))
	}

	result := s.mapper.Map(&svc, env)
	report.Warnings = result.Messages()
	if result.Failed() {
		if result.Severity() == pipeline.Fatal {
			return report, errors.WrapFatal(result.Failure(), "Synchronizer", "SynchronizeService", "map environment")
		}
		s.logger.Warn("Keeping last-known tree", "url", report.URL, "warnings", report.Warnings)
		report.Kept = true
		return report, nil
	}
	tree, _ := result.Value()
	if tree.Environment == nil {
		s.logger.Warn("Keeping last-known tree", "url", report.URL, "warnings", report.Warnings)
		report.Kept = true
		return report, nil
	}

	old, err := s.store.Get(ctx, svc.AccessURL())
	if err != nil {
		if stderrors.Is(err, errors.ErrNotFound) {
			return report, errors.WrapInvalid(err, "Synchronizer", "SynchronizeService", "load last-known tree")
		}
		return report, errors.WrapTransient(err, "Synchronizer", "SynchronizeService", "load last-known tree")
	}
	oldEnv := old.Environment
	if oldEnv == nil {
		oldEnv = aas.NewEnvironment()
	}

	newEnv := tree.Environment
	if result.Recoverable() {
		// Shells and concept descriptions could not be addressed this time;
		// keep the last-known ones instead of dropping their registrations.
		kept := oldEnv.Clone()
		newEnv.Shells = kept.Shells
		newEnv.ConceptDescriptions = kept.ConceptDescriptions
	} else {
		report.Carried += carryShells(newEnv, oldEnv)
		report.Carried += carryConceptDescriptions(newEnv, oldEnv)
	}
	report.Carried += carrySubmodels(newEnv, oldEnv)

	s.registerNew(ctx, newEnv, &report)

	if err := s.store.Update(ctx, svc.AccessURL(), newEnv); err != nil {
		return report, errors.WrapTransient(err, "Synchronizer", "SynchronizeService", "store reconciled tree")
	}
	return report, nil
}

// registerNew registers every node that lacks a resource or agreement id
// and stamps the returned ids onto it.
func (s *Synchronizer) registerNew(ctx context.Context, env *aas.Environment, report *Report) {
	for _, el := range aas.AllElements(env) {
		n := el.Base()
		if !n.IsNew() {
			continue
		}
		resourceID, agreementID, err := s.resources.CreateResource(ctx, catalog.Resource{
			ID:        n.StableID,
			SourceURL: n.SourceURL(),
			Path:      n.DataAddress.Path,
			Method:    n.DataAddress.Method,
			Name:      n.IDShort,
		})
		if err != nil {
			report.Failed++
			s.metrics.RecordRegistrationFailure()
			s.logger.Warn("Element registration failed", "url", report.URL, "id_short", n.IDShort, "error", err)
			continue
		}
		n.ResourceID, n.AgreementID = resourceID, agreementID
		report.Registered++
	}
	s.metrics.RecordRegistered(report.Registered)
}

// Created registers the service with the registry and synchronizes it.
func (s *Synchronizer) Created(ctx context.Context, url string) error {
	s.mu.Lock()
	delete(s.removed, s.key(url))
	s.mu.Unlock()

	if err := s.registry.Register(ctx, url); err != nil {
		return errors.WrapTransient(err, "Synchronizer", "Created", fmt.Sprintf("register %s", url))
	}
	_, err := s.SynchronizeService(ctx, url)
	return err
}

// Removed deletes the resource of every registered element of the service's
// last-known tree and unregisters the service.
func (s *Synchronizer) Removed(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sd, err := s.store.Get(ctx, url)
	if err != nil {
		return errors.Wrap(err, "Synchronizer", "Removed", "load last-known tree")
	}

	var errs []error
	deleted := 0
	for _, el := range aas.AllElements(sd.Environment) {
		n := el.Base()
		if n.ResourceID == "" {
			continue
		}
		if err := s.resources.DeleteResource(ctx, n.ResourceID); err != nil {
			errs = append(errs, errors.Wrap(err, "Synchronizer", "Removed", "delete resource "+n.ResourceID))
			continue
		}
		deleted++
	}
	s.removed[s.key(url)] = struct{}{}
	s.metrics.RecordDeleted(deleted)
	s.logger.Info("Service removed", "url", url, "resources_deleted", deleted)

	if err := s.registry.Unregister(ctx, url); err != nil {
		errs = append(errs, errors.Wrap(err, "Synchronizer", "Removed", "unregister "+url))
	}
	return stderrors.Join(errs...)
}

func (s *Synchronizer) key(url string) string {
	return aas.NewService(url, s.serviceOpts...).AccessURL()
}
