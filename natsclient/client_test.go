package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "circuit_open", StatusCircuitOpen.String())
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}

func TestNewClient_Options(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithTimeout(time.Second), WithClientName("aasbridge"))
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())

	_, err = NewClient("nats://localhost:4222", WithTimeout(0))
	assert.Error(t, err)

	_, err = NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(0))
	assert.Error(t, err)
}

func TestClient_CircuitBreaker(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(2))
	require.NoError(t, err)

	c.recordFailure()
	assert.Equal(t, StatusDisconnected, c.Status())
	c.recordFailure()
	assert.Equal(t, StatusCircuitOpen, c.Status())
	assert.False(t, c.circuitAllows())

	err = c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)

	c.openedAt.Store(time.Now().Add(-time.Hour))
	assert.True(t, c.circuitAllows())
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestClient_NotConnected(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = c.JetStream()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, c.Close(context.Background()))
	assert.NoError(t, c.Close(context.Background()))
}
