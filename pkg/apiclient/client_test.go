package apiclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelopeJSON(status string, data any) []byte {
	out, _ := json.Marshal(map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"data":      data,
	})
	return out
}

func TestWithToken(t *testing.T) {
	client := New("http://localhost:8080")
	tokenClient := client.WithToken("test-token")

	assert.Empty(t, client.token)
	assert.Equal(t, "test-token", tokenClient.token)
	assert.Equal(t, "http://localhost:8080", tokenClient.baseURL)
}

func TestAuthHeaderSent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_, _ = w.Write(envelopeJSON("healthy", map[string]string{"service": "arcadia"}))
	}))
	defer server.Close()

	_, err := New(server.URL).WithToken("test-token").Health()
	require.NoError(t, err)
}

func TestLockStatsDecoded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/stats/lock", r.URL.Path)
		_, _ = w.Write(envelopeJSON("ok", map[string]any{
			"acquired": 12, "active": 3, "avg_wait_ms": 0.4,
		}))
	}))
	defer server.Close()

	st, err := New(server.URL).LockStats()
	require.NoError(t, err)
	assert.Equal(t, int64(12), st.Acquired)
	assert.Equal(t, 3, st.Active)
	assert.InDelta(t, 0.4, st.AvgWaitMs, 1e-9)
}

func TestAPIErrorFromEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status":"error","error":"Invalid or expired token"}`))
	}))
	defer server.Close()

	_, err := New(server.URL).LockStats()
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsAuthError())
	assert.Contains(t, apiErr.Message, "Invalid or expired token")
}

func TestAPIErrorFromPlainBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("Authorization header required\n"))
	}))
	defer server.Close()

	_, err := New(server.URL).Health()
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestStatusToleratesUnconfigured(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/stats/lock":
			_, _ = w.Write(envelopeJSON("ok", map[string]any{"acquired": 2}))
		case "/v1/stats/sessions":
			_, _ = w.Write(envelopeJSON("ok", map[string]any{"count": 4}))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":"error","error":"subsystem not configured"}`))
		}
	}))
	defer server.Close()

	report, err := New(server.URL).Status()
	require.NoError(t, err)
	require.NotNil(t, report.Lock)
	assert.Equal(t, int64(2), report.Lock.Acquired)
	require.NotNil(t, report.Sessions)
	assert.Equal(t, 4, report.Sessions.Count)
	assert.Nil(t, report.Cache)
	assert.Nil(t, report.Txn)
}
