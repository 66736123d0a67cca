package oauth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/mcpfed/gateway/pkg/log"
)

// ProviderConfig describes one OAuth-protected Gateway entity's auth_config
// (spec.md §3). Public-client + PKCE, matching the gateway's existing
// authorization-code flow shape, generalized from a dynamically registered
// client to any statically configured one.
type ProviderConfig struct {
	Name                  string
	ClientID              string
	ClientSecret          string
	AuthorizationEndpoint string
	TokenEndpoint         string
	RedirectURL           string
	Scopes                []string
}

func (c ProviderConfig) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.AuthorizationEndpoint,
			TokenURL: c.TokenEndpoint,
		},
		Scopes: c.Scopes,
	}
}

func (c ProviderConfig) key() ProviderKey {
	return ProviderKey{AuthorizationEndpoint: c.AuthorizationEndpoint, ProviderName: c.Name}
}

// AuthCodeURL builds the authorization-redirect URL with a fresh PKCE
// verifier; the verifier must be retained (via StateManager) until the
// callback exchanges the code.
func (c ProviderConfig) AuthCodeURL(state string) (url, verifier string) {
	verifier = oauth2.GenerateVerifier()
	url = c.oauth2Config().AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	return url, verifier
}

// Exchange trades an authorization code for a token using the PKCE
// verifier generated alongside the original AuthCodeURL call.
func (c ProviderConfig) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	return c.oauth2Config().Exchange(ctx, code, oauth2.VerifierOption(verifier))
}

const maxRefreshRetries = 7

// Provider runs a background refresh loop for one ProviderConfig, reusing
// the oauth2 library's TokenSource refresh mechanism and persisting the
// result back to TokenStore on every successful refresh.
type Provider struct {
	config ProviderConfig
	store  *TokenStore

	stopOnce sync.Once
	stopChan chan struct{}

	lastRefreshExpiry time.Time
	refreshRetryCount int
}

func NewProvider(config ProviderConfig, store *TokenStore) *Provider {
	return &Provider{config: config, store: store, stopChan: make(chan struct{})}
}

// Run polls the stored token's expiry and refreshes ahead of it, backing
// off exponentially (30s, 1m, 2m, ...) when expiry fails to advance across
// attempts, matching the gateway's existing refresh-retry shape.
func (p *Provider) Run(ctx context.Context) {
	log.Logf("- Started OAuth provider loop for %s", p.config.Name)
	defer log.Logf("- Stopped OAuth provider loop for %s", p.config.Name)

	for {
		token, err := p.store.Retrieve(ctx, p.config.key())
		if err != nil {
			log.Logf("! Unable to load token for %s: %v", p.config.Name, err)
			return
		}

		var wait time.Duration
		refreshDue := time.Until(token.Expiry) < 30*time.Second
		if refreshDue {
			expiryUnchanged := !p.lastRefreshExpiry.IsZero() && token.Expiry.Equal(p.lastRefreshExpiry)
			if expiryUnchanged {
				p.refreshRetryCount++
			} else {
				p.refreshRetryCount = 1
			}
			if p.refreshRetryCount > maxRefreshRetries {
				log.Logf("! Token expiry unchanged after %d refresh attempts for %s", maxRefreshRetries, p.config.Name)
				return
			}
			wait = time.Duration(30*(1<<(p.refreshRetryCount-1))) * time.Second
			p.lastRefreshExpiry = token.Expiry

			if err := p.refresh(ctx, token); err != nil {
				log.Logf("! Token refresh failed for %s: %v", p.config.Name, err)
			}
		} else {
			wait = time.Until(token.Expiry) - 10*time.Second
		}

		timer := time.NewTimer(max(wait, time.Second))
		select {
		case <-timer.C:
		case <-p.stopChan:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (p *Provider) refresh(ctx context.Context, token *oauth2.Token) error {
	refreshed, err := p.config.oauth2Config().TokenSource(ctx, token).Token()
	if err != nil {
		return fmt.Errorf("refreshing token: %w", err)
	}
	if err := p.store.Save(ctx, p.config.key(), refreshed); err != nil {
		return fmt.Errorf("saving refreshed token: %w", err)
	}
	log.Logf("- Successfully refreshed token for %s", p.config.Name)
	return nil
}

func (p *Provider) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
}
