package logger

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestNewLogger_Levels(t *testing.T) {
	l, err := NewLogger(&LoggerConfig{Debug: true})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = NewLogger(nil)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
}

func TestHttpClientLogger_LogsResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	client := &http.Client{Transport: HttpClientLogger(nil, zap.New(core))}

	resp, err := client.Get(server.URL + "/sign")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, "/sign", fields["path"])
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
}

func TestHttpClientLogger_LogsTransportError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	client := &http.Client{Transport: HttpClientLogger(failingTransport{}, zap.New(core))}

	_, err := client.Get("http://paymaster.invalid/getPaymasterAddress")
	require.Error(t, err)

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, "paymaster.invalid", fields["host"])
	assert.Equal(t, "connection refused", fields["error"])
}
