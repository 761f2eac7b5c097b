package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gqlpool/errors"
	"github.com/c360/gqlpool/metric"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestNewClient_InvalidOption(t *testing.T) {
	_, err := NewClient("nats://localhost:4222", WithTimeout(0))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	client, err := NewClient("nats://invalid:4222")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		client.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, errors.IsTransient(err))
}

func TestCircuitBreaker_Reset(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(2))
	require.NoError(t, err)

	client.recordFailure()
	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())

	client.resetCircuit()
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestCircuitBreaker_ExponentialBackoff(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithMaxBackoff(3*time.Second))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 2*time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 3*time.Second, client.Backoff(), "backoff is capped")
}

func TestConnectionStatus_String(t *testing.T) {
	tests := map[ConnectionStatus]string{
		StatusDisconnected:    "disconnected",
		StatusConnecting:      "connecting",
		StatusConnected:       "connected",
		StatusReconnecting:    "reconnecting",
		StatusCircuitOpen:     "circuit_open",
		ConnectionStatus(42):  "unknown",
	}
	for status, want := range tests {
		assert.Equal(t, want, status.String())
	}
}

func TestClient_NotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, client.Publish(ctx, "gqlpool.get", []byte("{}")), ErrNotConnected)

	_, err = client.Request(ctx, "gqlpool.get", []byte("{}"))
	assert.ErrorIs(t, err, ErrNotConnected)

	err = client.QueueSubscribe(ctx, "gqlpool.get", "gqlpool", func(context.Context, []byte, func(Reply) error) {})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_ConnectCancelled(t *testing.T) {
	// Reserved TEST-NET address; the dial never completes before the deadline.
	client, err := NewClient("nats://192.0.2.1:4222", WithTimeout(5*time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, int32(1), client.Failures())
}

func TestClient_CloseIdempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithCredentials("user", "secret"))
	require.NoError(t, err)

	require.NoError(t, client.Close(context.Background()))
	require.NoError(t, client.Close(context.Background()))
	assert.Empty(t, client.password, "credentials are cleared on close")

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, errors.ErrConnectionClosed)
}

func TestClient_HealthCallbacksAndMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()

	client, err := NewClient("nats://localhost:4222", WithMetrics(metrics))
	require.NoError(t, err)

	changes := make(chan bool, 4)
	client.OnHealthChange(func(healthy bool) { changes <- healthy })

	client.handleReconnect(nil)
	assert.Equal(t, StatusConnected, client.Status())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NATSReconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NATSConnected))
	assert.True(t, <-changes)

	client.handleDisconnect(nil, nil)
	assert.Equal(t, StatusReconnecting, client.Status())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.NATSConnected))
	assert.False(t, <-changes)

	client.handleClosed(nil)
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, <-changes)
}
