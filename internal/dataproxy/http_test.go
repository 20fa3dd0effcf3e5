package dataproxy

import (
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	nodePub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, proxyPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	resolver, err := NewSecretResolver(proxyPriv, nodePub)
	require.NoError(t, err)
	return NewServer(resolver)
}

func TestSecretHandlerRejectsNonGet(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/secret?access_key=x.1", nil)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSecretHandlerRequiresAccessKey(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/secret", nil)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSecretHandlerReturnsSecretForValidKey(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/secret?access_key=01HZYABCDEF0123456789ABCD.1", nil)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp secretResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Error)
	require.NotEmpty(t, resp.SecretKey)
}

func TestSecretHandlerRejectsMalformedKey(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/secret?access_key=malformed", nil)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
