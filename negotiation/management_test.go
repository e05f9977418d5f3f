package negotiation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/agreement"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
)

// connector imitates the management API of a consumer connector. The
// negotiation reports REQUESTED once before reaching finalState.
func connector(t *testing.T, finalState string) (*httptest.Server, *atomic.Value) {
	t.Helper()
	var polls atomic.Int32
	body := &atomic.Value{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /management/v3/contractnegotiations", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body.Store(data)
		_, _ = w.Write([]byte(`{"@type":"IdResponse","@id":"neg-1"}`))
	})
	mux.HandleFunc("GET /management/v3/contractnegotiations/neg-1", func(w http.ResponseWriter, _ *http.Request) {
		state := "REQUESTED"
		if polls.Add(1) > 1 {
			state = finalState
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"@id": "neg-1", "state": state, "contractAgreementId": "agr-1", "errorDetail": "provider declined",
		})
	})
	mux.HandleFunc("GET /management/v3/contractagreements/agr-1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"@id": "agr-1",
			"assetId": "asset-1",
			"providerId": "provider",
			"consumerId": "consumer",
			"contractSigningDate": 1767225600,
			"policy": {"odrl:permission": {"odrl:action": {"@id": "odrl:use"}}}
		}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, body
}

func TestManagementManager_Finalized(t *testing.T) {
	srv, body := connector(t, "FINALIZED")
	events := &recorder{}
	store := agreement.NewMemoryStore()
	m := NewManagementManager(srv.URL+"/management/", events, store, WithPolling(5*time.Millisecond, time.Second))
	defer m.Close()

	id, err := m.Initiate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "neg-1", id)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(body.Load().([]byte), &sent))
	assert.Equal(t, "ContractRequest", sent["@type"])
	assert.Equal(t, "http://provider/protocol", sent["counterPartyAddress"])
	assert.Equal(t, "offer-1", sent["policy"].(map[string]any)["@id"])

	require.Eventually(t, func() bool { return len(events.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	ev := events.snapshot()[0]
	assert.Equal(t, EventConfirmed, ev.Type)
	require.NotNil(t, ev.Agreement)
	assert.Equal(t, "agr-1", ev.Agreement.ID)
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), ev.Agreement.SignedAt)
	assert.Equal(t, "use", ev.Agreement.Policy.Permissions[0].Action)

	stored, err := store.Query(context.Background(), agreement.Filter{AssetID: "asset-1", ProviderID: "provider"})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestManagementManager_Terminated(t *testing.T) {
	srv, _ := connector(t, "TERMINATED")
	events := &recorder{}
	m := NewManagementManager(srv.URL+"/management", events, agreement.NewMemoryStore(),
		WithPolling(5*time.Millisecond, time.Second))
	defer m.Close()

	_, err := m.Initiate(context.Background(), request())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(events.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	ev := events.snapshot()[0]
	assert.Equal(t, EventTerminated, ev.Type)
	assert.Equal(t, "provider declined", ev.Reason)
}

func TestManagementManager_RejectedRequestIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown offer", http.StatusBadRequest)
	}))
	defer srv.Close()

	m := NewManagementManager(srv.URL, &recorder{}, agreement.NewMemoryStore())
	defer m.Close()

	_, err := m.Initiate(context.Background(), request())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNegotiationRejected)
	assert.Contains(t, err.Error(), "unknown offer")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNegotiator_WithManagementManager(t *testing.T) {
	srv, _ := connector(t, "FINALIZED")
	store := agreement.NewMemoryStore()
	bus := NewEventBus()
	m := NewManagementManager(srv.URL+"/management", bus, store, WithPolling(5*time.Millisecond, time.Second))
	defer m.Close()

	n := NewNegotiator(m, store, WithTimeout(2*time.Second))
	bus.Subscribe(n.Handle)
	require.NoError(t, bus.Start(context.Background()))
	defer func() { _ = bus.Stop(time.Second) }()

	a, err := n.Negotiate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "agr-1", a.ID)

	// A second request is served from the store.
	again, err := n.Negotiate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, a.ID, again.ID)
}
