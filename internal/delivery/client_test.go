package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atonsvc/internal/secom"
	"atonsvc/pkg/platform/sentinel"
)

func TestHTTPClientDeliver(t *testing.T) {
	var received secom.SignedEnvelope
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(time.Second)
	envelope := secom.SignedEnvelope{Data: "payload", Digest: "abc", Algorithm: "hmac-sha256"}

	require.NoError(t, client.Deliver(context.Background(), server.URL, envelope))
	assert.Equal(t, envelope, received)
}

func TestHTTPClientDeliverNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(time.Second)
	err := client.Deliver(context.Background(), server.URL, secom.SignedEnvelope{Data: "payload"})
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestHTTPClientDeliverUnreachable(t *testing.T) {
	client := NewHTTPClient(200 * time.Millisecond)
	err := client.Deliver(context.Background(), "http://127.0.0.1:1", secom.SignedEnvelope{Data: "payload"})
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestStaticDirectory(t *testing.T) {
	directory := StaticDirectory{"urn:mrn:grad:org:client-a": "https://client-a.example/v1/object"}

	endpoint, err := directory.ResolveEndpoint(context.Background(), "urn:mrn:grad:org:client-a")
	require.NoError(t, err)
	assert.Equal(t, "https://client-a.example/v1/object", endpoint)

	_, err = directory.ResolveEndpoint(context.Background(), "urn:mrn:grad:org:nobody")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
