package oauth

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/mcpfed/gateway/pkg/cache"
	"github.com/mcpfed/gateway/pkg/log"
)

// ProviderKey identifies the OAuth provider a token belongs to: the
// gateway entity (by authorization endpoint) and the logical provider name
// a Gateway's auth_config names (spec.md §3 "auth_config").
type ProviderKey struct {
	AuthorizationEndpoint string
	ProviderName          string
}

func (k ProviderKey) cacheKey() string {
	return fmt.Sprintf("oauth_token:%s/%s", k.AuthorizationEndpoint, k.ProviderName)
}

// TokenStore is the token cache contract C6 calls into when dispatching to
// a Gateway entity whose auth_config.type == oauth: save/retrieve/delete by
// ProviderKey, backed by the same cache used for session/pool ownership
// rather than a local credential helper (this gateway is a server process
// with no desktop keychain to defer to).
type TokenStore struct {
	cache cache.Cache
}

func NewTokenStore(c cache.Cache) *TokenStore {
	return &TokenStore{cache: c}
}

func (t *TokenStore) Save(ctx context.Context, key ProviderKey, token *oauth2.Token) error {
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshalling token: %w", err)
	}
	if err := t.cache.Set(ctx, key.cacheKey(), string(tokenJSON), 0); err != nil {
		return fmt.Errorf("storing token for %s: %w", key.ProviderName, err)
	}
	log.Logf("- Stored OAuth token for %s", key.ProviderName)
	return nil
}

func (t *TokenStore) Retrieve(ctx context.Context, key ProviderKey) (*oauth2.Token, error) {
	raw, found, err := t.cache.Get(ctx, key.cacheKey())
	if err != nil {
		return nil, fmt.Errorf("retrieving token for %s: %w", key.ProviderName, err)
	}
	if !found {
		return nil, fmt.Errorf("token not found for %s", key.ProviderName)
	}
	var token oauth2.Token
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return nil, fmt.Errorf("unmarshalling token for %s: %w", key.ProviderName, err)
	}
	return &token, nil
}

func (t *TokenStore) Delete(ctx context.Context, key ProviderKey) error {
	if err := t.cache.Del(ctx, key.cacheKey()); err != nil {
		return fmt.Errorf("deleting token for %s: %w", key.ProviderName, err)
	}
	log.Logf("- Deleted OAuth token for %s", key.ProviderName)
	return nil
}
