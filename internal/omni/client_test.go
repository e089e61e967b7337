package omni

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/vitalisomni/internal/config"
)

func newClient(url string) *Client {
	return NewClient(&ClientConfig{BaseURL: url, Timeout: 5 * time.Second}, zerolog.Nop())
}

func TestClient_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, ChatPath, r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Equal(t, "open labs & records", r.FormValue("message"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response": "<<NAVIGATE:labs>> Opening labs view."}`))
	}))
	defer srv.Close()

	reply, err := newClient(srv.URL).Chat(context.Background(), "open labs & records")
	require.NoError(t, err)
	assert.Equal(t, "<<NAVIGATE:labs>> Opening labs view.", reply)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "boom", wantErr: "500 - boom"},
		{name: "not found", status: http.StatusNotFound, body: "", wantErr: "404"},
		{name: "malformed json", status: http.StatusOK, body: "<html>", wantErr: "decode"},
		{name: "missing response", status: http.StatusOK, body: `{"reply": "hi"}`, wantErr: ErrMissingResponse.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newClient(srv.URL).Chat(context.Background(), "hello")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestClient_EmptyResponseIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response": ""}`))
	}))
	defer srv.Close()

	reply, err := newClient(srv.URL).Chat(context.Background(), "hello")
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newClient(url).Chat(context.Background(), "hello")
	assert.Error(t, err)
}

func TestClient_Endpoint(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8000/omni/chat/", NewClient(nil, zerolog.Nop()).Endpoint())
	assert.Equal(t, "http://vitalis.local/omni/chat/", newClient("http://vitalis.local/").Endpoint())
}

func TestClientConfigFrom(t *testing.T) {
	assert.Equal(t, DefaultClientConfig(), ClientConfigFrom(config.EndpointConfig{}))

	cfg := ClientConfigFrom(config.EndpointConfig{URL: "http://10.0.0.2:9000", Timeout: time.Second})
	assert.Equal(t, "http://10.0.0.2:9000", cfg.BaseURL)
	assert.Equal(t, time.Second, cfg.Timeout)
}
