package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// PropagationMode selects where identity is carried toward the upstream.
type PropagationMode string

const (
	ModeHeaders PropagationMode = "headers"
	ModeMeta    PropagationMode = "meta"
	ModeBoth    PropagationMode = "both"
)

// PropagationConfig is a gateway entity's identity_propagation block.
type PropagationConfig struct {
	Enabled            bool
	Mode               PropagationMode
	AllowedAttributes  []string // allowlist; empty means none are propagated
	SensitiveAttributes []string // never emitted regardless of allowlist
	SignClaims         bool
	SigningSecret      string
}

const (
	headerUserID      = "X-Forwarded-User-Id"
	headerEmail       = "X-Forwarded-User-Email"
	headerTeams       = "X-Forwarded-User-Teams"
	headerRoles       = "X-Forwarded-User-Roles"
	headerAdmin       = "X-Forwarded-User-Admin"
	headerAuthMethod  = "X-Forwarded-User-Auth-Method"
	headerDelegation  = "X-Forwarded-User-Delegation-Chain"
	headerSignature   = "X-Forwarded-User-Signature"
)

// propagatedHeaderOrder lists the headers covered by the HMAC signature;
// canonicalHeaderString sorts them by name before signing.
var propagatedHeaderOrder = []string{
	headerUserID, headerEmail, headerTeams, headerRoles, headerAdmin, headerAuthMethod, headerDelegation,
}

func filteredAttributes(uc *UserContext, cfg PropagationConfig) map[string]string {
	if len(cfg.AllowedAttributes) == 0 {
		return nil
	}
	sensitive := make(map[string]bool, len(cfg.SensitiveAttributes))
	for _, s := range cfg.SensitiveAttributes {
		sensitive[strings.ToLower(s)] = true
	}
	out := make(map[string]string)
	for _, k := range cfg.AllowedAttributes {
		if sensitive[strings.ToLower(k)] {
			continue
		}
		if v, ok := uc.Attributes[k]; ok {
			out[k] = v
		}
	}
	return out
}

// BuildIdentityHeaders produces the X-Forwarded-User-* header set per
// spec.md §4.1/§6. Returns nil if propagation is disabled or mode excludes
// headers.
func BuildIdentityHeaders(uc *UserContext, cfg PropagationConfig) map[string]string {
	if !cfg.Enabled || uc == nil {
		return nil
	}
	if cfg.Mode != ModeHeaders && cfg.Mode != ModeBoth {
		return nil
	}
	h := map[string]string{
		headerUserID:     uc.UserID,
		headerEmail:      uc.Email,
		headerTeams:      strings.Join(uc.Teams, ","),
		headerRoles:      strings.Join(uc.Roles, ","),
		headerAdmin:      strconv.FormatBool(uc.IsAdmin),
		headerAuthMethod: uc.AuthMethod,
	}
	if len(uc.DelegationChain) > 0 {
		h[headerDelegation] = strings.Join(uc.DelegationChain, ",")
	}
	if cfg.SignClaims && cfg.SigningSecret != "" {
		h[headerSignature] = signCanonicalHeaders(h, cfg.SigningSecret)
	}
	return h
}

// canonicalHeaderString joins the propagated headers in a fixed order, the
// same string both the signer and any verifier compute the HMAC over.
func canonicalHeaderString(h map[string]string) string {
	var b strings.Builder
	keys := append([]string(nil), propagatedHeaderOrder...)
	sort.Strings(keys) // deterministic regardless of map iteration, fixed relative order
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(h[k])
		b.WriteByte('\n')
	}
	return b.String()
}

func signCanonicalHeaders(h map[string]string, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonicalHeaderString(h)))
	return hex.EncodeToString(mac.Sum(nil))
}

// IdentityMeta is the JSON-RPC _meta.user object mirrored alongside headers
// when mode is meta or both.
type IdentityMeta struct {
	UserID          string            `json:"user_id"`
	Email           string            `json:"email"`
	Teams           []string          `json:"teams,omitempty"`
	Roles           []string          `json:"roles,omitempty"`
	IsAdmin         bool              `json:"is_admin"`
	AuthMethod      string            `json:"auth_method"`
	DelegationChain []string          `json:"delegation_chain,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// BuildIdentityMeta produces the _meta.user object. Returns nil if
// propagation is disabled or mode excludes meta.
func BuildIdentityMeta(uc *UserContext, cfg PropagationConfig) *IdentityMeta {
	if !cfg.Enabled || uc == nil {
		return nil
	}
	if cfg.Mode != ModeMeta && cfg.Mode != ModeBoth {
		return nil
	}
	return &IdentityMeta{
		UserID:          uc.UserID,
		Email:           uc.Email,
		Teams:           uc.Teams,
		Roles:           uc.Roles,
		IsAdmin:         uc.IsAdmin,
		AuthMethod:      uc.AuthMethod,
		DelegationChain: uc.DelegationChain,
		Attributes:      filteredAttributes(uc, cfg),
	}
}

// scrubbedHeaders are removed unconditionally from any request before pool
// acquire or outbound dispatch — they are produced only by this package.
var scrubbedPrefixes = []string{"X-Forwarded-User-"}

var scrubbedExact = []string{"X-Correlation-ID"}

// ScrubRequestHeaders deletes client-supplied identity and correlation
// headers in place, plus any header named in denyList. This runs before
// every pool acquire and outbound dispatch (spec.md §4.1, testable property
// "Identity scrubbing").
func ScrubRequestHeaders(h http.Header, denyList []string) {
	for k := range h {
		for _, p := range scrubbedPrefixes {
			if strings.HasPrefix(http.CanonicalHeaderKey(k), http.CanonicalHeaderKey(p)) {
				h.Del(k)
			}
		}
	}
	for _, k := range scrubbedExact {
		h.Del(k)
	}
	for _, k := range denyList {
		h.Del(k)
	}
}
