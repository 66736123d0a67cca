package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/mcpfed/gateway/pkg/cache"
)

func newTestAuthServer(t *testing.T) *httptest.Server {
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

func TestManagerBuildAuthorizationURLAndExchangeCode(t *testing.T) {
	srv := newTestAuthServer(t)
	store := NewTokenStore(cache.NewMemoryCache())
	mgr := NewManager(store)
	mgr.RegisterProvider(ProviderConfig{
		Name:                  "notion",
		ClientID:              "client-1",
		AuthorizationEndpoint: srv.URL + "/authorize",
		TokenEndpoint:         srv.URL + "/token",
		RedirectURL:           "http://localhost:5000/callback",
	})

	authURL, state, verifier, err := mgr.BuildAuthorizationURL(context.Background(), "notion", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, authURL)
	assert.NotEmpty(t, state)
	assert.NotEmpty(t, verifier)

	require.NoError(t, mgr.ExchangeCode(context.Background(), "some-code", state))

	token, err := store.Retrieve(context.Background(), ProviderKey{AuthorizationEndpoint: srv.URL + "/authorize", ProviderName: "notion"})
	require.NoError(t, err)
	assert.Equal(t, "at-123", token.AccessToken)
}

func TestManagerExchangeCodeRejectsUnknownState(t *testing.T) {
	mgr := NewManager(NewTokenStore(cache.NewMemoryCache()))
	err := mgr.ExchangeCode(context.Background(), "code", "bogus-state")
	assert.Error(t, err)
}

func TestManagerBuildAuthorizationURLRejectsUnregisteredProvider(t *testing.T) {
	mgr := NewManager(NewTokenStore(cache.NewMemoryCache()))
	_, _, _, err := mgr.BuildAuthorizationURL(context.Background(), "ghost", nil)
	assert.Error(t, err)
}

func TestManagerCurrentAccessTokenReturnsStoredToken(t *testing.T) {
	store := NewTokenStore(cache.NewMemoryCache())
	mgr := NewManager(store)
	config := ProviderConfig{Name: "notion", AuthorizationEndpoint: "https://auth.example.com"}
	mgr.RegisterProvider(config)

	_, ok := mgr.CurrentAccessToken("notion")
	assert.False(t, ok, "no token exchanged yet")

	require.NoError(t, store.Save(context.Background(), config.key(), &oauth2.Token{AccessToken: "at-123"}))
	token, ok := mgr.CurrentAccessToken("notion")
	require.True(t, ok)
	assert.Equal(t, "at-123", token)
}

func TestManagerCurrentAccessTokenUnregisteredProvider(t *testing.T) {
	mgr := NewManager(NewTokenStore(cache.NewMemoryCache()))
	_, ok := mgr.CurrentAccessToken("ghost")
	assert.False(t, ok)
}

func TestManagerRevokeTokenStopsRefreshAndDeletesToken(t *testing.T) {
	store := NewTokenStore(cache.NewMemoryCache())
	mgr := NewManager(store)
	config := ProviderConfig{Name: "notion", AuthorizationEndpoint: "https://auth.example.com"}
	mgr.RegisterProvider(config)

	ctx := context.Background()
	token := &oauth2.Token{AccessToken: "at", RefreshToken: "rt", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, store.Save(ctx, config.key(), token))

	require.NoError(t, mgr.StartRefresh(ctx, "notion"))
	require.NoError(t, mgr.RevokeToken(ctx, "notion"))

	_, err := store.Retrieve(ctx, config.key())
	assert.Error(t, err)
}
