package grpccall

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpfed/gateway/pkg/federation"
	"github.com/mcpfed/gateway/pkg/gwerrors"
)

// Exercising a real gRPC+reflection round trip would need a live server in
// this test binary; what's checked here is the failure path every caller
// hits first: an unreachable target must surface as a taxonomy error
// (UpstreamUnavailable or UpstreamError) rather than a raw dial error, so
// the JSON-RPC mapping in pkg/gateway/dispatch.go has a Kind to translate.
func TestCallFailsClosedOnUnreachableTarget(t *testing.T) {
	c := &Caller{}
	spec := &federation.GRPCSpec{Target: "127.0.0.1:0", Method: "pkg.Service/Method"}
	_, err := c.Call(context.Background(), spec, map[string]any{})
	require.Error(t, err)
	kind := gwerrors.KindOf(err)
	assert.Contains(t, []gwerrors.Kind{gwerrors.UpstreamUnavailable, gwerrors.UpstreamError}, kind)
}
