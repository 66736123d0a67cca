package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/mcpfed/gateway/pkg/cache"
)

func TestTokenStoreSaveRetrieveDelete(t *testing.T) {
	store := NewTokenStore(cache.NewMemoryCache())
	ctx := context.Background()
	key := ProviderKey{AuthorizationEndpoint: "https://auth.example.com", ProviderName: "notion"}

	token := &oauth2.Token{AccessToken: "at", RefreshToken: "rt", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, store.Save(ctx, key, token))

	got, err := store.Retrieve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "at", got.AccessToken)
	assert.Equal(t, "rt", got.RefreshToken)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Retrieve(ctx, key)
	assert.Error(t, err)
}

func TestTokenStoreRetrieveMissingReturnsError(t *testing.T) {
	store := NewTokenStore(cache.NewMemoryCache())
	_, err := store.Retrieve(context.Background(), ProviderKey{ProviderName: "ghost"})
	assert.Error(t, err)
}
