package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpfed/gateway/pkg/cache"
	"github.com/mcpfed/gateway/pkg/oauth"
)

func newTestOAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-123","refresh_token":"rt-123","token_type":"Bearer","expires_in":3600}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandleOAuthAuthorizeRedirects(t *testing.T) {
	authSrv := newTestOAuthServer(t)
	mgr := oauth.NewManager(oauth.NewTokenStore(cache.NewMemoryCache()))
	mgr.RegisterProvider(oauth.ProviderConfig{
		Name:                  "notion",
		ClientID:              "client-1",
		AuthorizationEndpoint: authSrv.URL + "/authorize",
		TokenEndpoint:         authSrv.URL + "/token",
	})
	g := &Gateway{OAuth: mgr}

	req := httptest.NewRequest(http.MethodGet, "/oauth/notion/authorize", nil)
	rec := httptest.NewRecorder()
	g.handleOAuth(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), authSrv.URL+"/authorize")
}

func TestHandleOAuthAuthorizeUnknownProvider(t *testing.T) {
	mgr := oauth.NewManager(oauth.NewTokenStore(cache.NewMemoryCache()))
	g := &Gateway{OAuth: mgr}

	req := httptest.NewRequest(http.MethodGet, "/oauth/ghost/authorize", nil)
	rec := httptest.NewRecorder()
	g.handleOAuth(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleOAuthCallbackExchangesCodeAndStartsRefresh(t *testing.T) {
	authSrv := newTestOAuthServer(t)
	mgr := oauth.NewManager(oauth.NewTokenStore(cache.NewMemoryCache()))
	mgr.RegisterProvider(oauth.ProviderConfig{
		Name:                  "notion",
		ClientID:              "client-1",
		AuthorizationEndpoint: authSrv.URL + "/authorize",
		TokenEndpoint:         authSrv.URL + "/token",
	})
	t.Cleanup(mgr.Stop)
	g := &Gateway{OAuth: mgr}

	_, state, _, err := mgr.BuildAuthorizationURL(context.Background(), "notion", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/oauth/notion/callback?code=abc&state="+state, nil)
	rec := httptest.NewRecorder()
	g.handleOAuth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	token, ok := mgr.CurrentAccessToken("notion")
	require.True(t, ok)
	assert.Equal(t, "at-123", token)
}

func TestHandleOAuthCallbackMissingCodeOrState(t *testing.T) {
	mgr := oauth.NewManager(oauth.NewTokenStore(cache.NewMemoryCache()))
	g := &Gateway{OAuth: mgr}

	req := httptest.NewRequest(http.MethodGet, "/oauth/notion/callback", nil)
	rec := httptest.NewRecorder()
	g.handleOAuth(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleOAuthMalformedPath(t *testing.T) {
	mgr := oauth.NewManager(oauth.NewTokenStore(cache.NewMemoryCache()))
	g := &Gateway{OAuth: mgr}

	req := httptest.NewRequest(http.MethodGet, "/oauth/notion", nil)
	rec := httptest.NewRecorder()
	g.handleOAuth(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
