package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpfed/gateway/pkg/gwerrors"
)

type fakeVerifier struct {
	bearerUC *UserContext
	bearerErr error
}

func (f *fakeVerifier) VerifyBearer(token string) (*UserContext, error) {
	if f.bearerErr != nil {
		return nil, f.bearerErr
	}
	return f.bearerUC, nil
}
func (f *fakeVerifier) VerifyAPIKey(key string) (*UserContext, error)              { return &UserContext{UserID: "apikey"}, nil }
func (f *fakeVerifier) VerifyBasic(user, pass string) (*UserContext, error)        { return &UserContext{UserID: user}, nil }
func (f *fakeVerifier) VerifySSOProxyHeaders(h http.Header) (*UserContext, error)  { return &UserContext{UserID: "sso"}, nil }

func TestAuthenticatePrecedence(t *testing.T) {
	v := &fakeVerifier{bearerUC: &UserContext{UserID: "bearer-user"}}
	a := &Authenticator{Verifier: v}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer tok123")
	r.Header.Set("X-API-Key", "should-be-ignored")

	uc, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "bearer-user", uc.UserID)
	assert.Equal(t, AuthMethodBearer, uc.AuthMethod)
}

func TestAuthenticateNoCredentialFails(t *testing.T) {
	a := &Authenticator{Verifier: &fakeVerifier{}}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := a.Authenticate(r)
	require.Error(t, err)
	assert.Equal(t, gwerrors.AuthRequired, gwerrors.KindOf(err))
}

func TestAuthenticateAnonymousAllowed(t *testing.T) {
	a := &Authenticator{Verifier: &fakeVerifier{}, AllowAnonymous: true}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	uc, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "anonymous", uc.UserID)
}

func TestIdentityHashAbsentIsAnonymous(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, "anonymous", IdentityHash(h))
}

func TestIdentityHashStableAndDistinct(t *testing.T) {
	h1 := http.Header{"Authorization": []string{"Bearer a"}}
	h2 := http.Header{"Authorization": []string{"Bearer a"}}
	h3 := http.Header{"Authorization": []string{"Bearer b"}}

	assert.Equal(t, IdentityHash(h1), IdentityHash(h2))
	assert.NotEqual(t, IdentityHash(h1), IdentityHash(h3))
}

func TestBuildIdentityHeadersSigning(t *testing.T) {
	uc := &UserContext{Email: "alice@example.com", IsAdmin: false, Teams: []string{"eng"}, AuthMethod: "bearer"}
	cfg := PropagationConfig{Enabled: true, Mode: ModeBoth, SignClaims: true, SigningSecret: "s3cret"}

	headers := BuildIdentityHeaders(uc, cfg)
	require.NotNil(t, headers)
	assert.Equal(t, "alice@example.com", headers[headerEmail])
	assert.Equal(t, "false", headers[headerAdmin])
	assert.Equal(t, "eng", headers[headerTeams])
	assert.NotEmpty(t, headers[headerSignature])

	meta := BuildIdentityMeta(uc, cfg)
	require.NotNil(t, meta)
	assert.Equal(t, "alice@example.com", meta.Email)
}

func TestBuildIdentityHeadersDisabled(t *testing.T) {
	uc := &UserContext{Email: "a@b.com"}
	assert.Nil(t, BuildIdentityHeaders(uc, PropagationConfig{Enabled: false}))
}

func TestScrubRequestHeadersRemovesSpoofedIdentity(t *testing.T) {
	h := http.Header{}
	h.Set("X-Forwarded-User-Email", "attacker@evil.com")
	h.Set("X-Forwarded-User-Admin", "true")
	h.Set("X-Correlation-ID", "abc")
	h.Set("X-Custom-Deny", "value")
	h.Set("Authorization", "Bearer keep-me")

	ScrubRequestHeaders(h, []string{"X-Custom-Deny"})

	assert.Empty(t, h.Get("X-Forwarded-User-Email"))
	assert.Empty(t, h.Get("X-Forwarded-User-Admin"))
	assert.Empty(t, h.Get("X-Correlation-ID"))
	assert.Empty(t, h.Get("X-Custom-Deny"))
	assert.Equal(t, "Bearer keep-me", h.Get("Authorization"))
}
