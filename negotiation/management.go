package negotiation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/agreement"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/pkg/retry"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/policy"
)

const (
	edcNamespace    = "https://w3id.org/edc/v0.0.1/ns/"
	dspProtocolHTTP = "dataspace-protocol-http"

	stateFinalized  = "FINALIZED"
	stateTerminated = "TERMINATED"
)

// ManagementManager negotiates through a connector's management API and
// polls the negotiation state until it ends.
type ManagementManager struct {
	managementURL string
	http          *http.Client
	retry         retry.Config
	events        Publisher
	agreements    agreement.Store
	pollInterval  time.Duration
	pollTimeout   time.Duration
	logger        *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// ManagementOption configures a ManagementManager.
type ManagementOption func(*ManagementManager)

// WithPolling sets the state poll interval and how long a negotiation is
// watched before giving up.
func WithPolling(interval, timeout time.Duration) ManagementOption {
	return func(m *ManagementManager) {
		if interval > 0 {
			m.pollInterval = interval
		}
		if timeout > 0 {
			m.pollTimeout = timeout
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) ManagementOption {
	return func(m *ManagementManager) {
		if c != nil {
			m.http = c
		}
	}
}

// WithManagementLogger sets the logger.
func WithManagementLogger(l *slog.Logger) ManagementOption {
	return func(m *ManagementManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManagementManager creates a manager for managementURL, e.g.
// "http://localhost:8181/management". Agreements are saved to agreements
// before their event is published.
func NewManagementManager(managementURL string, events Publisher, agreements agreement.Store, opts ...ManagementOption) *ManagementManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &ManagementManager{
		managementURL: strings.TrimRight(managementURL, "/"),
		http:          http.DefaultClient,
		retry:         retry.DefaultConfig(),
		events:        events,
		agreements:    agreements,
		pollInterval:  500 * time.Millisecond,
		pollTimeout:   time.Minute,
		logger:        slog.Default(),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "management-negotiation")
	return m
}

type contractRequest struct {
	Context             map[string]string `json:"@context"`
	Type                string            `json:"@type"`
	CounterPartyAddress string            `json:"counterPartyAddress"`
	Protocol            string            `json:"protocol"`
	Policy              map[string]any    `json:"policy"`
}

// Initiate implements Manager. Watching the negotiation continues in the
// background after Initiate returns.
func (m *ManagementManager) Initiate(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(contractRequest{
		Context:             map[string]string{"@vocab": edcNamespace},
		Type:                "ContractRequest",
		CounterPartyAddress: req.CounterpartyURL,
		Protocol:            dspProtocolHTTP,
		Policy:              policy.EncodeOffer(req.OfferID, req.CounterpartyID, req.AssetID, req.Policy),
	})
	if err != nil {
		return "", errors.WrapInvalid(err, "ManagementManager", "Initiate", "encode request")
	}

	data, err := m.send(ctx, http.MethodPost, "/v3/contractnegotiations", body)
	if err != nil {
		return "", err
	}
	doc, err := decodeObject(data)
	if err != nil {
		return "", errors.WrapInvalid(err, "ManagementManager", "Initiate", "decode response")
	}
	id := text(doc, "@id")
	if id == "" {
		return "", errors.WrapInvalid(fmt.Errorf("%w: response carries no negotiation id", errors.ErrNegotiationRejected),
			"ManagementManager", "Initiate", "decode response")
	}

	m.wg.Add(1)
	go m.watch(id, req)
	return id, nil
}

// Close stops every watcher and waits for them to exit.
func (m *ManagementManager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *ManagementManager) watch(id string, req Request) {
	defer m.wg.Done()
	ctx, cancel := context.WithTimeout(m.ctx, m.pollTimeout)
	defer cancel()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("Stopped watching negotiation", "negotiation_id", id, "reason", ctx.Err())
			return
		case <-ticker.C:
		}

		data, err := m.send(ctx, http.MethodGet, "/v3/contractnegotiations/"+id, nil)
		if err != nil {
			m.logger.Debug("Polling negotiation failed", "negotiation_id", id, "error", err)
			continue
		}
		doc, err := decodeObject(data)
		if err != nil {
			m.logger.Warn("Undecodable negotiation state", "negotiation_id", id, "error", err)
			continue
		}

		switch strings.ToUpper(text(doc, "state", "edc:state")) {
		case stateFinalized:
			m.finalize(ctx, id, text(doc, "contractAgreementId", "edc:contractAgreementId"), req)
			return
		case stateTerminated:
			m.publish(ctx, Event{Type: EventTerminated, NegotiationID: id,
				Reason: text(doc, "errorDetail", "edc:errorDetail")})
			return
		}
	}
}

func (m *ManagementManager) finalize(ctx context.Context, id, agreementID string, req Request) {
	a, err := m.fetchAgreement(ctx, agreementID)
	if err != nil {
		m.logger.Warn("Fetching agreement failed", "negotiation_id", id, "agreement_id", agreementID, "error", err)
		m.publish(ctx, Event{Type: EventTerminated, NegotiationID: id, Reason: err.Error()})
		return
	}
	if a.AssetID == "" {
		a.AssetID = req.AssetID
	}
	if a.ProviderID == "" {
		a.ProviderID = req.CounterpartyID
	}
	if err := m.agreements.Save(ctx, a); err != nil {
		m.logger.Warn("Saving agreement failed", "agreement_id", a.ID, "error", err)
	}
	m.publish(ctx, Event{Type: EventConfirmed, NegotiationID: id, Agreement: &a})
}

func (m *ManagementManager) fetchAgreement(ctx context.Context, id string) (agreement.Agreement, error) {
	if id == "" {
		return agreement.Agreement{}, fmt.Errorf("finalized negotiation carries no agreement id: %w", errors.ErrNotFound)
	}
	data, err := m.send(ctx, http.MethodGet, "/v3/contractagreements/"+id, nil)
	if err != nil {
		return agreement.Agreement{}, err
	}
	doc, err := decodeObject(data)
	if err != nil {
		return agreement.Agreement{}, err
	}

	a := agreement.Agreement{
		ID:         text(doc, "@id"),
		AssetID:    text(doc, "assetId", "edc:assetId"),
		ProviderID: text(doc, "providerId", "edc:providerId"),
		ConsumerID: text(doc, "consumerId", "edc:consumerId"),
		SignedAt:   time.Now().UTC(),
	}
	var signed int64
	if raw := pick(doc, "contractSigningDate", "edc:contractSigningDate"); raw != nil && json.Unmarshal(raw, &signed) == nil {
		a.SignedAt = time.Unix(signed, 0).UTC()
	}
	if raw := pick(doc, "policy", "edc:policy"); raw != nil {
		if a.Policy, err = policy.DecodePolicy(raw); err != nil {
			return agreement.Agreement{}, err
		}
	}
	return a, nil
}

func (m *ManagementManager) publish(ctx context.Context, ev Event) {
	if err := m.events.Publish(ctx, ev); err != nil {
		m.logger.Warn("Publishing negotiation outcome failed", "negotiation_id", ev.NegotiationID, "error", err)
	}
}

// send performs one management API call, retrying server errors.
func (m *ManagementManager) send(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	return retry.DoWithResult(ctx, m.retry, func() ([]byte, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, m.managementURL+path, reader)
		if err != nil {
			return nil, retry.NonRetryable(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := m.http.Do(req)
		if err != nil {
			return nil, errors.WrapTransient(err, "ManagementManager", method, path)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.WrapTransient(err, "ManagementManager", method, "read response")
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %s %s returned %s", errors.ErrServiceUnreachable, method, path, resp.Status)
		}
		if resp.StatusCode >= 300 {
			return nil, retry.NonRetryable(fmt.Errorf("%w: %s %s returned %s: %s", errors.ErrNegotiationRejected,
				method, path, resp.Status, strings.TrimSpace(string(data))))
		}
		return data, nil
	})
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
	}
	return doc, nil
}

func pick(doc map[string]json.RawMessage, names ...string) json.RawMessage {
	for _, name := range names {
		if v, ok := doc[name]; ok {
			return v
		}
	}
	return nil
}

func text(doc map[string]json.RawMessage, names ...string) string {
	var s string
	if raw := pick(doc, names...); raw != nil && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}
