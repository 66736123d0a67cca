package upstream

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpfed/gateway/pkg/pool"
)

func TestTransportForRejectsUnknownTransportType(t *testing.T) {
	c := &Connector{}
	_, err := c.transportFor(pool.Key{URL: "http://example.com", TransportType: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}

func TestTransportForBuildsSSEAndStreamableWithoutDialing(t *testing.T) {
	c := &Connector{}

	sse, err := c.transportFor(pool.Key{URL: "http://example.com/sse", TransportType: "sse"}, http.Header{})
	require.NoError(t, err)
	assert.NotNil(t, sse)

	streamable, err := c.transportFor(pool.Key{URL: "http://example.com/mcp", TransportType: "streamable_http"}, http.Header{})
	require.NoError(t, err)
	assert.NotNil(t, streamable)
}

func TestHeaderInjectingTransportAddsHeadersToOutboundRequests(t *testing.T) {
	var seen http.Header
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer upstreamSrv.Close()

	headers := http.Header{}
	headers.Set("X-Forwarded-User-Id", "user-1")
	client := httpClientWithHeaders(headers)

	req, err := http.NewRequest(http.MethodGet, upstreamSrv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "user-1", seen.Get("X-Forwarded-User-Id"))
}
