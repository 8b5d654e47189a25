package opensearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/Opposition-Intelligence/pkg/errors"
)

func newTestServer(statusCode int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(statusCode)
	}))
}

func TestValidateConfig(t *testing.T) {
	assert.NoError(t, ValidateConfig(ClientConfig{Addresses: []string{"http://localhost:9200"}}))
	assert.Equal(t, ErrInvalidConfig, ValidateConfig(ClientConfig{}))
	assert.Error(t, ValidateConfig(ClientConfig{Addresses: []string{"x"}, MaxRetries: -1}))
	assert.Error(t, ValidateConfig(ClientConfig{Addresses: []string{"x"}, RequestTimeout: -time.Second}))
	assert.Error(t, ValidateConfig(ClientConfig{Addresses: []string{"x"}, TLSEnabled: true}))
}

func TestApplyDefaults(t *testing.T) {
	cfg := ClientConfig{}
	applyDefaults(&cfg)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval)
}

func TestNewClient_Success(t *testing.T) {
	server := newTestServer(http.StatusOK)
	defer server.Close()

	c, err := NewClient(ClientConfig{Addresses: []string{server.URL}, RequestTimeout: time.Second}, logging.NewNopLogger())
	require.NoError(t, err)
	defer c.Close()
	assert.True(t, c.IsHealthy())
}

func TestNewClient_PingFails(t *testing.T) {
	server := newTestServer(http.StatusInternalServerError)
	defer server.Close()

	_, err := NewClient(ClientConfig{Addresses: []string{server.URL}, MaxRetries: 0, RequestTimeout: time.Second}, logging.NewNopLogger())
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
}

func TestPing_TracksHealth(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	c, err := newClientWith([]string{server.URL}, nil)
	require.NoError(t, err)

	require.NoError(t, c.Ping(context.Background()))
	assert.True(t, c.IsHealthy())

	status.Store(http.StatusServiceUnavailable)
	assert.Error(t, c.Ping(context.Background()))
	assert.False(t, c.IsHealthy())
}
