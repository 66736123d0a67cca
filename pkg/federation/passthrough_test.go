package federation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpfed/gateway/pkg/gwerrors"
)

func TestHostAllowedExactAndSuffix(t *testing.T) {
	allow := []string{"api.example.com", "*.trusted.io"}
	assert.True(t, HostAllowed("api.example.com", allow))
	assert.True(t, HostAllowed("sub.trusted.io", allow))
	assert.False(t, HostAllowed("evil.com", allow))
}

func TestIsPrivateAddressBlocksLinkLocalMetadata(t *testing.T) {
	assert.True(t, IsPrivateAddress("169.254.169.254"))
	assert.True(t, IsPrivateAddress("127.0.0.1"))
	assert.True(t, IsPrivateAddress("10.1.2.3"))
}

func TestGuardBlocksSSRFToMetadataEndpoint(t *testing.T) {
	spec := &RESTSpec{ExposePassthrough: true, Allowlist: []string{"169.254.169.254"}}
	_, err := Guard(spec, "http://169.254.169.254/latest/meta-data", false)
	require.Error(t, err)
	assert.Equal(t, gwerrors.SSRFBlocked, gwerrors.KindOf(err))
}

func TestGuardRejectsDisabledPassthrough(t *testing.T) {
	spec := &RESTSpec{ExposePassthrough: false}
	_, err := Guard(spec, "http://api.example.com/x", false)
	require.Error(t, err)
	assert.Equal(t, gwerrors.Forbidden, gwerrors.KindOf(err))
}

func TestGuardRejectsHostNotInAllowlist(t *testing.T) {
	spec := &RESTSpec{ExposePassthrough: true, Allowlist: []string{"api.example.com"}}
	_, err := Guard(spec, "http://evil.com/x", false)
	require.Error(t, err)
	assert.Equal(t, gwerrors.AllowlistViolation, gwerrors.KindOf(err))
}

func TestRedactHeadersForAudit(t *testing.T) {
	h := map[string][]string{"Authorization": {"Bearer secret"}, "X-Other": {"value"}}
	redacted := RedactHeadersForAudit(h)
	assert.Equal(t, "[REDACTED]", redacted.Get("Authorization"))
	assert.Equal(t, "value", redacted.Get("X-Other"))
}
