package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct {
	token string
}

func (s staticTokens) BearerToken() (string, bool) {
	return s.token, s.token != ""
}

func TestEndpoint_Formatting(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		endpoint string
		expected string
	}{
		{
			name:     "api gateway host gets version prefix",
			baseURL:  "https://x.execute-api.region.amazonaws.com/",
			endpoint: "add_stream",
			expected: "https://x.execute-api.region.amazonaws.com/v1/add_stream",
		},
		{
			name:     "api gateway host without trailing slash",
			baseURL:  "https://x.execute-api.region.amazonaws.com",
			endpoint: "add_stream",
			expected: "https://x.execute-api.region.amazonaws.com/v1/add_stream",
		},
		{
			name:     "direct backend appends endpoint",
			baseURL:  "http://localhost:8000",
			endpoint: "add_stream",
			expected: "http://localhost:8000/add_stream",
		},
		{
			name:     "direct backend trailing slashes normalized",
			baseURL:  "http://localhost:8000///",
			endpoint: "get_stream_subscriptions",
			expected: "http://localhost:8000/get_stream_subscriptions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(Config{BaseURL: tt.baseURL}, staticTokens{})
			assert.Equal(t, tt.expected, client.Endpoint(tt.endpoint))
		})
	}
}

func TestCall_DefaultsToPost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, staticTokens{})
	result, err := client.Call(context.Background(), "add_stream", CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
}

func TestCall_AttachesBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-abc", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, staticTokens{token: "token-abc"})
	_, err := client.Call(context.Background(), "add_stream", CallOptions{})
	require.NoError(t, err)
}

func TestCall_UnauthenticatedWhenNoToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, staticTokens{})
	_, err := client.Call(context.Background(), "get_stream_subscriptions", CallOptions{Method: http.MethodGet})
	require.NoError(t, err)
}

func TestCall_CallerHeadersOverrideDefaults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, staticTokens{})
	_, err := client.Call(context.Background(), "add_stream", CallOptions{
		Headers: map[string]string{"Content-Type": "text/plain"},
	})
	require.NoError(t, err)
}

func TestCall_SendsJSONBodyAndQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u1", r.URL.Query().Get("user_id"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://example.com/a", body["url"])

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, staticTokens{})
	query := map[string][]string{"user_id": {"u1"}}
	_, err := client.Call(context.Background(), "add_stream", CallOptions{
		Body:  map[string]string{"url": "https://example.com/a"},
		Query: query,
	})
	require.NoError(t, err)
}

func TestCall_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad input"))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, staticTokens{})
	_, err := client.Call(context.Background(), "add_stream", CallOptions{})
	require.Error(t, err)

	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusBadRequest, gwErr.Status)
	assert.Equal(t, "bad input", gwErr.Body)
	assert.False(t, gwErr.Transport())
}

func TestCall_TransportFailure(t *testing.T) {
	// Point at a server that is already closed.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	server.Close()

	client := NewClient(Config{BaseURL: server.URL}, staticTokens{})
	_, err := client.Call(context.Background(), "add_stream", CallOptions{})
	require.Error(t, err)

	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.True(t, gwErr.Transport())
	assert.Zero(t, gwErr.Status)
}

func TestResult_DecodeAndTextFallback(t *testing.T) {
	jsonResult := &Result{StatusCode: 200, Body: []byte(`{"status":"created"}`)}

	var decoded struct {
		Status string `json:"status"`
	}
	require.NoError(t, jsonResult.Decode(&decoded))
	assert.Equal(t, "created", decoded.Status)

	textResult := &Result{StatusCode: 200, Body: []byte("plain response")}
	require.Error(t, textResult.Decode(&decoded))
	assert.Equal(t, "plain response", textResult.Text())
}
