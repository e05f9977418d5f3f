package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/aas"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/config"
)

func TestParseFlags(t *testing.T) {
	var out bytes.Buffer
	cli, _, err := parseFlags([]string{
		"-c", "base.json", "--config", "site.yaml",
		"--log-level", "debug",
		"--negotiate-asset", "pump-1", "--counterparty-id", "provider", "--counterparty-url", "http://p:8282/protocol",
	}, &out)
	require.NoError(t, err)

	assert.Equal(t, []string{"base.json", "site.yaml"}, cli.ConfigPaths)
	assert.Equal(t, "debug", cli.LogLevel)
	assert.Equal(t, 30*time.Second, cli.ShutdownTimeout)
	assert.Equal(t, "pump-1", cli.Negotiate.AssetID)
}

func TestParseFlags_Invalid(t *testing.T) {
	tests := map[string][]string{
		"log level":            {"--log-level", "loud"},
		"log format":           {"--log-format", "xml"},
		"shutdown timeout":     {"--shutdown-timeout", "0s"},
		"negotiate incomplete": {"--negotiate-asset", "pump-1"},
		"unknown flag":         {"--frobnicate"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := parseFlags(args, &bytes.Buffer{})
			assert.Error(t, err)
		})
	}
}

func TestRun_VersionAndHelp(t *testing.T) {
	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--version"}, &stdout, &bytes.Buffer{}))
	assert.Contains(t, stdout.String(), Version)

	stdout.Reset()
	require.NoError(t, run(context.Background(), []string{"--help"}, &stdout, &bytes.Buffer{}))
	assert.Contains(t, stdout.String(), "--negotiate-asset")
}

func TestRun_Validate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("sync:\n  period: 1m\n"), 0o600))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("storage:\n  mode: disk\n"), 0o600))

	var stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-c", good, "--validate", "--log-format", "text"}, &bytes.Buffer{}, &stderr))
	assert.Contains(t, stderr.String(), "Configuration is valid")

	assert.Error(t, run(context.Background(), []string{"-c", bad, "--validate"}, &bytes.Buffer{}, &bytes.Buffer{}))
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"service":"aasbridge"`)
}

func remoteAAS(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/shells", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"modelType":"AssetAdministrationShell","id":"urn:shell:pump","idShort":"pump"}]`))
	})
	mux.HandleFunc("GET /api/submodels", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":[{"modelType":"Submodel","id":"urn:sm:technical","idShort":"technical",
			"submodelElements":[{"modelType":"Property","idShort":"pressure","value":"4.2"}]}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, locations ...string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Sync.Period = config.Duration(10 * time.Millisecond)
	cfg.Sync.InitialDelay = 0
	cfg.Sync.RemoteAASLocations = locations
	cfg.Negotiation.WaitForAgreementTimeout = config.Duration(time.Second)
	cfg.Agreements.Driver = config.AgreementDriverSQLite
	cfg.Agreements.DSN = filepath.Join(t.TempDir(), "agreements.db")
	cfg.HTTP.MetricsPort = 0
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestApp_SynchronizesConfiguredService(t *testing.T) {
	srv := remoteAAS(t)
	location := srv.URL + "/api"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, testConfig(t, location), setupLogger(&bytes.Buffer{}, "error", "json"))
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.close(time.Second)) }()
	require.NoError(t, a.start(ctx))

	require.Eventually(t, func() bool {
		sd, err := a.store.Get(ctx, location)
		if err != nil || sd.Environment == nil {
			return false
		}
		elements := aas.AllElements(sd.Environment)
		if len(elements) != 3 {
			return false
		}
		for _, e := range elements {
			if e.Base().IsNew() {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond, "shell, submodel and property are registered")

	assert.True(t, a.monitor.Healthy())
	assert.Positive(t, a.sync.Stats().Passes)
}

func TestApp_NegotiatesInProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, testConfig(t), setupLogger(&bytes.Buffer{}, "error", "json"))
	require.NoError(t, err)
	defer func() { _ = a.close(time.Second) }()
	require.NoError(t, a.start(ctx))
	require.NotNil(t, a.inMemory)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
			for _, id := range a.inMemory.Pending() {
				_, _ = a.inMemory.Confirm(ctx, id)
			}
		}
	}()

	agr, err := a.negotiateOnce(ctx, NegotiateFlags{
		CounterpartyID:  "provider",
		CounterpartyURL: "http://provider:8282/protocol",
		AssetID:         "pump-1",
		OfferID:         "offer-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pump-1", agr.AssetID)
	assert.Equal(t, "provider", agr.ProviderID)

	again, err := a.negotiateOnce(ctx, NegotiateFlags{CounterpartyID: "provider", AssetID: "pump-1", CounterpartyURL: "x"})
	require.NoError(t, err)
	assert.Equal(t, agr.ID, again.ID, "stored agreement is reused")
}
