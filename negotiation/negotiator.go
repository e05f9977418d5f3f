package negotiation

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/agreement"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/metric"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/policy"
)

// DefaultTimeout bounds the wait for a negotiation outcome.
const DefaultTimeout = 10 * time.Second

// PolicyService picks the offer to accept when a request names none.
type PolicyService interface {
	AcceptablePolicy(ctx context.Context, counterpartyID, counterpartyURL, assetID string) (policy.Offer, error)
}

// Negotiator returns an agreement for a request, negotiating only when no
// stored agreement covers the asset and provider.
type Negotiator struct {
	manager    Manager
	agreements agreement.Store
	waiters    *Waiters
	policies   PolicyService
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metric.NegotiationMetrics

	inflight singleflight.Group
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithTimeout sets how long Negotiate waits for an outcome.
func WithTimeout(d time.Duration) Option {
	return func(n *Negotiator) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithPolicyService enables offer selection for requests without an offer.
func WithPolicyService(p PolicyService) Option {
	return func(n *Negotiator) { n.policies = p }
}

// WithWaiters replaces the default waiter registry.
func WithWaiters(w *Waiters) Option {
	return func(n *Negotiator) {
		if w != nil {
			n.waiters = w
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Negotiator) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithMetrics records outcomes and wait times.
func WithMetrics(m *metric.NegotiationMetrics) Option {
	return func(n *Negotiator) { n.metrics = m }
}

// NewNegotiator creates a Negotiator. Outcomes must be fed to Handle,
// usually by subscribing it to the EventBus the manager publishes on.
func NewNegotiator(manager Manager, agreements agreement.Store, opts ...Option) *Negotiator {
	n := &Negotiator{
		manager:    manager,
		agreements: agreements,
		waiters:    NewWaiters(0, 0),
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "negotiator")
	return n
}

// Handle routes a negotiation outcome to its waiter. It is a Handler.
func (n *Negotiator) Handle(_ context.Context, ev Event) error {
	if !n.waiters.Deliver(ev) {
		n.logger.Debug("No waiter for negotiation event", "negotiation_id", ev.NegotiationID, "type", ev.Type)
	}
	return nil
}

// Negotiate returns an agreement for req. Concurrent calls for the same
// asset and provider share one negotiation. The shared negotiation is not
// tied to any caller: a caller whose ctx ends only abandons its own wait.
func (n *Negotiator) Negotiate(ctx context.Context, req Request) (agreement.Agreement, error) {
	key := req.CounterpartyID + "\x00" + req.AssetID
	shared := context.WithoutCancel(ctx)
	ch := n.inflight.DoChan(key, func() (any, error) {
		return n.negotiate(shared, req)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return agreement.Agreement{}, res.Err
		}
		return res.Val.(agreement.Agreement), nil
	case <-ctx.Done():
		return agreement.Agreement{}, errors.WrapTransient(ctx.Err(), "Negotiator", "Negotiate", "wait for agreement")
	}
}

// negotiate runs detached from callers. Everything before the wait is
// bounded by the negotiation timeout; the wait has its own.
func (n *Negotiator) negotiate(ctx context.Context, req Request) (agreement.Agreement, error) {
	setupCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if existing, ok, err := n.existing(setupCtx, req); err != nil || ok {
		if ok {
			n.metrics.RecordOutcome(metric.OutcomeReused)
		}
		return existing, err
	}

	if req.OfferID == "" {
		if n.policies == nil {
			return agreement.Agreement{}, errors.WrapInvalid(errors.ErrNoAcceptablePolicy,
				"Negotiator", "Negotiate", "request names no offer")
		}
		offer, err := n.policies.AcceptablePolicy(setupCtx, req.CounterpartyID, req.CounterpartyURL, req.AssetID)
		if err != nil {
			n.metrics.RecordOutcome(metric.OutcomeFailed)
			return agreement.Agreement{}, errors.Wrap(err, "Negotiator", "Negotiate", "select offer")
		}
		req.OfferID, req.Policy = offer.ID, offer.Policy
	}

	id, err := n.manager.Initiate(setupCtx, req)
	if err != nil {
		n.metrics.RecordOutcome(metric.OutcomeRejected)
		if !stderrors.Is(err, errors.ErrNegotiationRejected) {
			err = fmt.Errorf("%w: %w", errors.ErrNegotiationRejected, err)
		}
		return agreement.Agreement{}, errors.WrapInvalid(err, "Negotiator", "Negotiate", "initiate negotiation")
	}
	n.logger.Debug("Negotiation initiated", "negotiation_id", id, "asset_id", req.AssetID,
		"provider_id", req.CounterpartyID)

	return n.await(ctx, id, req)
}

func (n *Negotiator) existing(ctx context.Context, req Request) (agreement.Agreement, bool, error) {
	found, err := n.agreements.Query(ctx, agreement.Filter{AssetID: req.AssetID, ProviderID: req.CounterpartyID})
	if err != nil {
		return agreement.Agreement{}, false, errors.WrapTransient(err, "Negotiator", "Negotiate", "query agreements")
	}
	if len(found) == 0 {
		return agreement.Agreement{}, false, nil
	}
	return found[0], true, nil
}

func (n *Negotiator) await(ctx context.Context, id string, req Request) (agreement.Agreement, error) {
	start := time.Now()
	n.metrics.SetPending(n.waiters.Pending() + 1)
	ev, err := n.waiters.Wait(ctx, id, n.timeout)
	n.metrics.ObserveWait(time.Since(start))
	n.metrics.SetPending(n.waiters.Pending())

	if err != nil {
		outcome := metric.OutcomeFailed
		if stderrors.Is(err, errors.ErrNegotiationTimeout) {
			outcome = metric.OutcomeTimeout
		}
		n.metrics.RecordOutcome(outcome)
		return agreement.Agreement{}, errors.WrapTransient(err, "Negotiator", "Negotiate", "wait for agreement")
	}

	switch ev.Type {
	case EventConfirmed:
		if ev.Agreement != nil {
			n.metrics.RecordOutcome(metric.OutcomeAgreed)
			return *ev.Agreement, nil
		}
		// The event carried no agreement; the manager stored it.
		if a, ok, err := n.existing(ctx, req); err != nil || ok {
			if ok {
				n.metrics.RecordOutcome(metric.OutcomeAgreed)
			}
			return a, err
		}
		n.metrics.RecordOutcome(metric.OutcomeFailed)
		return agreement.Agreement{}, errors.WrapFatal(
			fmt.Errorf("negotiation %s confirmed without an agreement: %w", id, errors.ErrNotFound),
			"Negotiator", "Negotiate", "resolve agreement")
	default:
		n.metrics.RecordOutcome(metric.OutcomeTerminated)
		return agreement.Agreement{}, errors.WrapInvalid(&TerminatedError{NegotiationID: id, Reason: ev.Reason},
			"Negotiator", "Negotiate", "wait for agreement")
	}
}
