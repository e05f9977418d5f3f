package policy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `{
  "@id": "catalog-1",
  "@type": "dcat:Catalog",
  "dcat:dataset": {
    "@id": "asset-1",
    "odrl:hasPolicy": [
      {
        "@id": "offer-1",
        "odrl:permission": {
          "odrl:action": {"@id": "odrl:use"},
          "odrl:constraint": [{
            "odrl:leftOperand": {"@id": "purpose"},
            "odrl:operator": {"@id": "odrl:eq"},
            "odrl:rightOperand": "research"
          }]
        },
        "odrl:prohibition": [],
        "odrl:obligation": []
      },
      {
        "@id": "offer-2",
        "odrl:permission": [{"odrl:action": "http://www.w3.org/ns/odrl/2/use"}]
      }
    ]
  }
}`

func TestDecodeCatalog(t *testing.T) {
	catalog, err := DecodeCatalog([]byte(sampleCatalog))
	require.NoError(t, err)

	assert.Equal(t, "catalog-1", catalog.ID)
	require.Len(t, catalog.Datasets, 1)
	ds := catalog.Datasets[0]
	assert.Equal(t, "asset-1", ds.ID)
	require.Len(t, ds.Offers, 2)

	assert.Equal(t, "offer-1", ds.Offers[0].ID)
	assert.True(t, ds.Offers[0].Policy.Equivalent(restricted))
	assert.Equal(t, "offer-2", ds.Offers[1].ID)
	assert.True(t, ds.Offers[1].Policy.Equivalent(UsePermission()))
}

func TestDecodeCatalog_EmptyAndInvalid(t *testing.T) {
	catalog, err := DecodeCatalog([]byte(`{"@id":"c","dcat:dataset":[]}`))
	require.NoError(t, err)
	assert.Empty(t, catalog.Datasets)

	_, err = DecodeCatalog([]byte(`not json`))
	assert.Error(t, err)
}

func TestManagementCatalogClient_RequestCatalog(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/management/v3/catalog/request", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		body, _ := io.ReadAll(r.Body)
		var req catalogRequest
		if assert.NoError(t, json.Unmarshal(body, &req)) {
			assert.Equal(t, "http://provider/api/dsp", req.CounterPartyAddress)
			assert.Equal(t, "provider", req.CounterPartyID)
			assert.Equal(t, dspProtocolHTTP, req.Protocol)
			require.Len(t, req.QuerySpec.FilterExpression, 1)
			assert.Equal(t, "asset-1", req.QuerySpec.FilterExpression[0].OperandRight)
		}

		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(sampleCatalog))
	}))
	defer srv.Close()

	client := NewManagementCatalogClient(srv.URL+"/management/", srv.Client())
	catalog, err := client.RequestCatalog(context.Background(), "provider", "http://provider/api/dsp", "asset-1")
	require.NoError(t, err)
	assert.Len(t, catalog.Datasets, 1)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestManagementCatalogClient_ClientErrorIsNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewManagementCatalogClient(srv.URL, srv.Client())
	_, err := client.RequestCatalog(context.Background(), "provider", "http://provider", "asset-1")
	assert.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}
