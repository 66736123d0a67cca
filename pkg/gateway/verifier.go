package gateway

import (
	"net/http"

	"github.com/mcpfed/gateway/pkg/config"
	"github.com/mcpfed/gateway/pkg/gwerrors"
	"github.com/mcpfed/gateway/pkg/identity"
)

// staticVerifier resolves bearer tokens and API keys against the
// operator-provisioned config.APIKeys table — generalizing the teacher's
// own single-hardcoded-bearer-token comparison (auth.go) into a lookup
// table, the minimal reference Verifier this gateway ships without
// requiring a deployment to wire a full IdP.
type staticVerifier struct {
	keys map[string]config.APIKeyIdentity
}

func newStaticVerifier(keys map[string]config.APIKeyIdentity) *staticVerifier {
	return &staticVerifier{keys: keys}
}

func (v *staticVerifier) resolve(token string) (*identity.UserContext, error) {
	entry, ok := v.keys[token]
	if !ok {
		return nil, gwerrors.New(gwerrors.AuthInvalid, "unrecognized credential")
	}
	return &identity.UserContext{
		UserID:  entry.UserID,
		Email:   entry.Email,
		TeamID:  entry.TeamID,
		IsAdmin: entry.IsAdmin,
	}, nil
}

func (v *staticVerifier) VerifyBearer(token string) (*identity.UserContext, error) {
	return v.resolve(token)
}

func (v *staticVerifier) VerifyAPIKey(key string) (*identity.UserContext, error) {
	return v.resolve(key)
}

func (v *staticVerifier) VerifyBasic(_, _ string) (*identity.UserContext, error) {
	return nil, gwerrors.New(gwerrors.AuthInvalid, "basic auth not configured")
}

func (v *staticVerifier) VerifySSOProxyHeaders(_ http.Header) (*identity.UserContext, error) {
	return nil, gwerrors.New(gwerrors.AuthInvalid, "sso proxy auth not configured")
}
