// Package identity implements C1: turning raw authentication material into a
// UserContext, propagating it to upstream servers as headers/_meta, and
// scrubbing client-supplied identity headers so they can never be spoofed.
package identity

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/mcpfed/gateway/pkg/gwerrors"
)

type contextKey struct{}

// WithUserContext attaches uc to ctx for downstream handlers/dispatchers.
func WithUserContext(ctx context.Context, uc *UserContext) context.Context {
	return context.WithValue(ctx, contextKey{}, uc)
}

// FromContext retrieves the UserContext attached by WithUserContext, if any.
func FromContext(ctx context.Context) (*UserContext, bool) {
	uc, ok := ctx.Value(contextKey{}).(*UserContext)
	return uc, ok
}

// UserContext is the full identity record populated on every authenticated
// request (spec.md §3).
type UserContext struct {
	UserID           string            `json:"user_id"`
	Email            string            `json:"email"`
	FullName         string            `json:"full_name,omitempty"`
	IsAdmin          bool              `json:"is_admin"`
	Groups           []string          `json:"groups,omitempty"`
	Roles            []string          `json:"roles,omitempty"`
	TeamID           string            `json:"team_id,omitempty"`
	Teams            []string          `json:"teams,omitempty"`
	Department       string            `json:"department,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	AuthMethod       string            `json:"auth_method"`
	AuthenticatedAt  time.Time         `json:"authenticated_at"`
	ServiceAccount   bool              `json:"service_account,omitempty"`
	DelegationChain  []string          `json:"delegation_chain,omitempty"`
}

// Credentials resolved from a request, in precedence order bearer > api_key
// > basic > sso_proxy.
const (
	AuthMethodBearer   = "bearer"
	AuthMethodAPIKey   = "api_key"
	AuthMethodBasic    = "basic"
	AuthMethodSSOProxy = "sso_proxy"
)

// Verifier validates a raw credential of a given method and returns the
// resolved UserContext fields. A deployment wires a concrete Verifier
// (backed by its own user store/IdP); the gateway core only orchestrates
// precedence and failure mapping.
type Verifier interface {
	VerifyBearer(token string) (*UserContext, error)
	VerifyAPIKey(key string) (*UserContext, error)
	VerifyBasic(user, pass string) (*UserContext, error)
	VerifySSOProxyHeaders(h http.Header) (*UserContext, error)
}

// Authenticator runs C1's authenticate operation against incoming requests.
type Authenticator struct {
	Verifier        Verifier
	AllowAnonymous  bool
	SSOProxyHeader  string // header name carrying the SSO-asserted principal
}

// Authenticate reads bearer token, API key, basic auth, or SSO proxy headers
// in that precedence order and returns the resolved UserContext.
func (a *Authenticator) Authenticate(r *http.Request) (*UserContext, error) {
	if tok, ok := bearerToken(r.Header); ok {
		uc, err := a.Verifier.VerifyBearer(tok)
		return a.finish(uc, AuthMethodBearer, err)
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		uc, err := a.Verifier.VerifyAPIKey(key)
		return a.finish(uc, AuthMethodAPIKey, err)
	}
	if user, pass, ok := r.BasicAuth(); ok {
		uc, err := a.Verifier.VerifyBasic(user, pass)
		return a.finish(uc, AuthMethodBasic, err)
	}
	if a.SSOProxyHeader != "" && r.Header.Get(a.SSOProxyHeader) != "" {
		uc, err := a.Verifier.VerifySSOProxyHeaders(r.Header)
		return a.finish(uc, AuthMethodSSOProxy, err)
	}
	if a.AllowAnonymous {
		return &UserContext{UserID: "anonymous", AuthMethod: "anonymous", AuthenticatedAt: time.Now()}, nil
	}
	return nil, gwerrors.New(gwerrors.AuthRequired, "no credential presented")
}

func (a *Authenticator) finish(uc *UserContext, method string, err error) (*UserContext, error) {
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.AuthInvalid, err, "credential verification failed")
	}
	uc.AuthMethod = method
	uc.AuthenticatedAt = time.Now()
	return uc, nil
}

func bearerToken(h http.Header) (string, bool) {
	const prefix = "Bearer "
	v := h.Get("Authorization")
	if len(v) > len(prefix) && strings.EqualFold(v[:len(prefix)], prefix) {
		return v[len(prefix):], true
	}
	return "", false
}

// IdentityHash computes C1's stable digest over a subset of auth headers,
// used by C5 as part of the pool key. Absent credentials hash to the
// literal "anonymous".
func IdentityHash(h http.Header) string {
	parts := []string{
		h.Get("Authorization"),
		h.Get("X-Tenant-ID"),
		h.Get("X-User-ID"),
		h.Get("X-API-Key"),
		h.Get("Cookie"),
	}
	joined := strings.Join(parts, "\x00")
	if strings.Trim(joined, "\x00") == "" {
		return "anonymous"
	}
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEqual reports whether a and b are equal using a constant-time
// comparison, for use by bearer-token style verifiers to avoid timing leaks.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
