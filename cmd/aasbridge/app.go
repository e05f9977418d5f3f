package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/aasclient"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/agreement"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/catalog"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/config"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/health"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/mapping"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/metric"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/natsclient"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/negotiation"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/pkg/tlsutil"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/policy"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/selfdesc"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/service"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/synchronizer"
)

const healthInterval = 15 * time.Second

// app holds every wired component of a running bridge.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metric.MetricsRegistry
	monitor *health.Monitor
	checks  map[string]health.Check

	nats       *natsclient.Client
	store      selfdesc.Store
	resources  *catalog.ResourceController
	agreements agreement.Store
	closers    []func() error

	bus        *negotiation.EventBus
	inMemory   *negotiation.InMemoryManager
	management *negotiation.ManagementManager
	negotiator *negotiation.Negotiator
	stopRelay  func() error

	sync   *service.SyncService
	server *metric.Server
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metric.NewMetricsRegistry(),
		monitor: health.NewMonitor(),
		checks:  make(map[string]health.Check),
	}
	core := a.metrics.CoreMetrics()
	a.monitor.Observe(func(s health.Status) {
		core.RecordHealthStatus(s.Component, s.State != health.StateUnhealthy)
	})

	if err := a.setupNATS(ctx); err != nil {
		return nil, err
	}
	if err := a.setupStores(ctx); err != nil {
		_ = a.close(time.Second)
		return nil, err
	}
	if err := a.setupSync(); err != nil {
		_ = a.close(time.Second)
		return nil, err
	}
	if err := a.setupNegotiation(); err != nil {
		_ = a.close(time.Second)
		return nil, err
	}

	if cfg.HTTP.MetricsPort > 0 {
		a.server = metric.NewServer(cfg.HTTP.MetricsPort, cfg.HTTP.MetricsPath, a.metrics,
			cfg.Security.TLS.Server, a.monitor.Healthy)
	}
	return a, nil
}

func (a *app) setupNATS(ctx context.Context) error {
	n := a.cfg.NATS
	if !n.Enabled() {
		return nil
	}

	core := a.metrics.CoreMetrics()
	opts := []natsclient.ClientOption{
		natsclient.WithClientName(n.ClientName),
		natsclient.WithMaxReconnects(n.MaxReconnects),
		natsclient.WithReconnectWait(n.ReconnectWait.Std()),
		natsclient.WithLogger(a.logger),
		natsclient.WithHealthChangeCallback(core.RecordNATSStatus),
		natsclient.WithReconnectCallback(core.RecordNATSReconnect),
		natsclient.WithCircuitBreakerCallback(core.RecordCircuitBreakerState),
	}
	if n.Username != "" {
		opts = append(opts, natsclient.WithCredentials(n.Username, n.Password))
	}
	if n.Token != "" {
		opts = append(opts, natsclient.WithToken(n.Token))
	}

	client, err := natsclient.NewClient(strings.Join(n.URLs, ","), opts...)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	a.logger.Info("Connecting to NATS", "servers", len(n.URLs))
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(ctx)
		return fmt.Errorf("NATS connection timeout: %w", err)
	}

	a.nats = client
	a.checks["nats"] = func(context.Context) error {
		if !client.IsHealthy() {
			return natsclient.ErrNotConnected
		}
		return nil
	}
	return nil
}

func (a *app) setupStores(ctx context.Context) error {
	switch a.cfg.Storage.Mode {
	case config.StorageModeKV:
		kv, err := selfdesc.NewKVStoreFromClient(ctx, a.nats, a.cfg.Storage.Bucket, a.logger)
		if err != nil {
			return fmt.Errorf("open self-description bucket: %w", err)
		}
		a.store = kv
	default:
		a.store = selfdesc.NewMemoryStore()
	}

	switch a.cfg.Agreements.Driver {
	case config.AgreementDriverSQLite, config.AgreementDriverPostgres:
		driver := agreement.DriverSQLite
		if a.cfg.Agreements.Driver == config.AgreementDriverPostgres {
			driver = agreement.DriverPostgres
		}
		store, err := agreement.OpenSQLStore(ctx, driver, a.cfg.Agreements.DSN)
		if err != nil {
			return fmt.Errorf("open agreement store: %w", err)
		}
		a.agreements = store
		a.closers = append(a.closers, store.Close)
		a.checks["agreements"] = store.Ping
	default:
		a.agreements = agreement.NewMemoryStore()
	}
	return nil
}

func (a *app) setupSync() error {
	a.resources = catalog.NewResourceController(catalog.NewAssetIndex(), catalog.NewContractDefinitionStore(),
		catalog.NewPolicyDefinitionStore(), catalog.WithLogger(a.logger))

	pins := tlsutil.NewPinSet()
	client, err := aasclient.NewClient(
		aasclient.WithTLS(a.cfg.Security.TLS.Client),
		aasclient.WithPins(pins),
		aasclient.WithTimeout(a.cfg.Sync.FetchTimeout.Std()),
		aasclient.WithRateLimit(a.cfg.Sync.RequestsPerSecond, 4),
		aasclient.WithLogger(a.logger),
	)
	if err != nil {
		return fmt.Errorf("create AAS client: %w", err)
	}
	registry := aasclient.NewRegistry(pins,
		aasclient.AllowSelfSigned(a.cfg.Sync.AllowSelfSigned),
		aasclient.WithRegistryLogger(a.logger))

	syncMetrics, err := metric.NewSyncMetrics(a.metrics)
	if err != nil {
		return fmt.Errorf("register sync metrics: %w", err)
	}
	syncer := synchronizer.New(a.store, client, a.resources, registry,
		synchronizer.WithMapper(mapping.NewMapper(
			mapping.WithOnlySubmodels(a.cfg.Sync.OnlySubmodels),
			mapping.WithLogger(a.logger))),
		synchronizer.WithLogger(a.logger),
		synchronizer.WithMetrics(syncMetrics))
	a.store.RegisterListener(syncer)

	a.sync = service.NewSyncService(service.SyncConfig{
		Period:       a.cfg.Sync.Period.Std(),
		InitialDelay: a.cfg.Sync.InitialDelay.Std(),
		Locations:    a.cfg.Sync.RemoteAASLocations,
	}, a.store, syncer, registry, a.monitor,
		service.WithMetrics(a.metrics), service.WithLogger(a.logger))
	return nil
}

func (a *app) setupNegotiation() error {
	nc := a.cfg.Negotiation
	a.bus = negotiation.NewEventBus(
		negotiation.WithBusMetrics(a.metrics),
		negotiation.WithBusLogger(a.logger))

	// With NATS, terminal events travel over the subject so every bridge
	// instance sharing the connector sees them.
	var events negotiation.Publisher = a.bus
	if a.nats != nil {
		events = negotiation.NewNATSPublisher(a.nats, nc.Subject)
	}

	negMetrics, err := metric.NewNegotiationMetrics(a.metrics)
	if err != nil {
		return fmt.Errorf("register negotiation metrics: %w", err)
	}
	opts := []negotiation.Option{
		negotiation.WithTimeout(nc.WaitForAgreementTimeout.Std()),
		negotiation.WithLogger(a.logger),
		negotiation.WithMetrics(negMetrics),
	}

	var manager negotiation.Manager
	if nc.ManagementURL != "" {
		httpClient, err := a.managementClient()
		if err != nil {
			return err
		}
		a.management = negotiation.NewManagementManager(nc.ManagementURL, events, a.agreements,
			negotiation.WithPolling(nc.PollInterval.Std(), nc.WaitForAgreementTimeout.Std()),
			negotiation.WithHTTPClient(httpClient),
			negotiation.WithManagementLogger(a.logger))
		manager = a.management

		policies := policy.NewService(
			policy.NewManagementCatalogClient(nc.ManagementURL, httpClient),
			policy.NewAcceptedPolicies(),
			policy.Config{
				CatalogTimeout:  nc.WaitForCatalogTimeout.Std(),
				AcceptAllOffers: nc.AcceptAllProviderOffers,
			}, a.logger)
		opts = append(opts, negotiation.WithPolicyService(policies))
	} else {
		a.inMemory = negotiation.NewInMemoryManager(a.cfg.ParticipantID, events, a.agreements)
		manager = a.inMemory
	}

	a.negotiator = negotiation.NewNegotiator(manager, a.agreements, opts...)
	a.bus.Subscribe(a.negotiator.Handle)
	return nil
}

func (a *app) managementClient() (*http.Client, error) {
	tlsConfig, err := tlsutil.LoadClientTLSConfig(a.cfg.Security.TLS.Client)
	if err != nil {
		return nil, fmt.Errorf("load management TLS config: %w", err)
	}
	return &http.Client{
		Timeout:   a.cfg.Negotiation.WaitForCatalogTimeout.Std(),
		Transport: &http.Transport{TLSClientConfig: tlsConfig, Proxy: http.ProxyFromEnvironment},
	}, nil
}

// start brings the bridge up: event delivery first, then the metrics
// listener, health checks, and finally the synchronization schedule.
func (a *app) start(ctx context.Context) error {
	if err := a.bus.Start(ctx); err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}
	if a.nats != nil {
		stop, err := negotiation.Relay(ctx, a.nats, a.cfg.Negotiation.Subject, a.bus, a.logger)
		if err != nil {
			return fmt.Errorf("subscribe to negotiation events: %w", err)
		}
		a.stopRelay = stop
	}

	if a.server != nil {
		go func() {
			if err := a.server.Start(); err != nil {
				a.logger.Error("Metrics server failed", "error", err)
				a.monitor.Report("metrics-server", err)
			}
		}()
		a.logger.Info("Serving metrics", "address", a.server.Address())
	}
	go a.monitor.Run(ctx, healthInterval, a.checks)

	if err := a.sync.Start(ctx); err != nil {
		return fmt.Errorf("start synchronization: %w", err)
	}
	return nil
}

// negotiateOnce runs one negotiation and returns the agreement.
func (a *app) negotiateOnce(ctx context.Context, f NegotiateFlags) (agreement.Agreement, error) {
	return a.negotiator.Negotiate(ctx, negotiation.Request{
		CounterpartyID:  f.CounterpartyID,
		CounterpartyURL: f.CounterpartyURL,
		AssetID:         f.AssetID,
		OfferID:         f.OfferID,
	})
}

// close stops everything in reverse start order.
func (a *app) close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if a.sync != nil {
		errs = append(errs, a.sync.Stop(timeout))
	}
	if a.server != nil {
		errs = append(errs, a.server.Stop(ctx))
	}
	if a.management != nil {
		a.management.Close()
	}
	if a.stopRelay != nil {
		errs = append(errs, a.stopRelay())
	}
	if a.bus != nil {
		errs = append(errs, a.bus.Stop(timeout))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	if a.nats != nil {
		errs = append(errs, a.nats.Close(ctx))
	}
	return stderrors.Join(errs...)
}
