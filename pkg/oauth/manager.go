package oauth

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcpfed/gateway/pkg/log"
)

// DefaultRedirectURI is the OAuth callback endpoint used when a Gateway's
// auth_config doesn't override it.
const DefaultRedirectURI = "http://localhost:5000/callback"

// Manager orchestrates OAuth flows for the Gateway entities configured with
// auth_config.type == oauth (spec.md §3), keyed by provider name.
type Manager struct {
	mu           sync.RWMutex
	providers    map[string]ProviderConfig
	running      map[string]*Provider
	tokenStore   *TokenStore
	stateManager *StateManager
	redirectURI  string
}

func NewManager(store *TokenStore) *Manager {
	return &Manager{
		providers:    make(map[string]ProviderConfig),
		running:      make(map[string]*Provider),
		tokenStore:   store,
		stateManager: NewStateManager(),
		redirectURI:  DefaultRedirectURI,
	}
}

func (m *Manager) SetRedirectURI(uri string) {
	m.redirectURI = uri
}

// RegisterProvider adds (or replaces) the OAuth configuration for a Gateway
// entity. Call before BuildAuthorizationURL/ExchangeCode for that provider.
func (m *Manager) RegisterProvider(config ProviderConfig) {
	if config.RedirectURL == "" {
		config.RedirectURL = m.redirectURI
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[config.Name] = config
}

func (m *Manager) provider(name string) (ProviderConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	config, ok := m.providers[name]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("no OAuth provider registered for %s", name)
	}
	return config, nil
}

// BuildAuthorizationURL generates the OAuth authorization URL with PKCE for
// the named provider. Returns authURL, state, verifier.
func (m *Manager) BuildAuthorizationURL(_ context.Context, providerName string, scopes []string) (string, string, string, error) {
	config, err := m.provider(providerName)
	if err != nil {
		return "", "", "", err
	}
	if len(scopes) > 0 {
		config.Scopes = scopes
	}

	state := m.stateManager.Generate(providerName, "")
	authURL, verifier := config.AuthCodeURL(state)
	m.stateManager.updateVerifier(state, verifier)

	log.Logf("- Generated authorization URL for %s with PKCE", providerName)
	return authURL, state, verifier, nil
}

// ExchangeCode exchanges an authorization code for an access token and
// persists it to the token store, keyed by the provider identified in state.
func (m *Manager) ExchangeCode(ctx context.Context, code, state string) error {
	providerName, verifier, err := m.stateManager.Validate(state)
	if err != nil {
		return fmt.Errorf("invalid state parameter: %w", err)
	}

	config, err := m.provider(providerName)
	if err != nil {
		return err
	}

	log.Logf("- Exchanging authorization code for %s", providerName)
	token, err := config.Exchange(ctx, code, verifier)
	if err != nil {
		return fmt.Errorf("token exchange failed for %s: %w", providerName, err)
	}

	if err := m.tokenStore.Save(ctx, config.key(), token); err != nil {
		return fmt.Errorf("failed to store token for %s: %w", providerName, err)
	}

	log.Logf("- Token exchanged for %s (access: %v, refresh: %v)",
		providerName, token.AccessToken != "", token.RefreshToken != "")
	return nil
}

// CurrentAccessToken returns providerName's stored access token, for
// attaching an Authorization header on outbound dispatch to a Gateway
// entity whose auth_config.type == oauth (spec.md §3). ok is false if the
// provider is unregistered or no token has been exchanged yet.
func (m *Manager) CurrentAccessToken(providerName string) (token string, ok bool) {
	config, err := m.provider(providerName)
	if err != nil {
		return "", false
	}
	t, err := m.tokenStore.Retrieve(context.Background(), config.key())
	if err != nil {
		return "", false
	}
	return t.AccessToken, true
}

// RevokeToken deletes the stored token for a provider and stops its
// background refresh loop, if running.
func (m *Manager) RevokeToken(ctx context.Context, providerName string) error {
	config, err := m.provider(providerName)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if running, ok := m.running[providerName]; ok {
		running.Stop()
		delete(m.running, providerName)
	}
	m.mu.Unlock()

	return m.tokenStore.Delete(ctx, config.key())
}

// StartRefresh launches the background refresh loop for a provider whose
// token is already stored (post ExchangeCode). Safe to call once per
// provider per process lifetime; subsequent calls are no-ops while a loop
// is already running.
func (m *Manager) StartRefresh(ctx context.Context, providerName string) error {
	config, err := m.provider(providerName)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.running[providerName]; ok {
		return nil
	}
	p := NewProvider(config, m.tokenStore)
	m.running[providerName] = p
	go p.Run(ctx)
	return nil
}

// Stop halts every running background refresh loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, p := range m.running {
		p.Stop()
		delete(m.running, name)
	}
}
