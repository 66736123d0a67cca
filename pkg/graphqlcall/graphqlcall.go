// Package graphqlcall implements the GraphQL half of C6's dispatch
// (spec.md §4.6 step 4 "GraphQL": POST { query, variables } to tool.url).
//
// No GraphQL client library appears anywhere in the retrieved examples
// pack, so this is a thin net/http POST plus the operation/variables-
// mapping translation spec.md names, the same net/http-direct approach
// pkg/federation/passthrough.go's REST caller already uses.
package graphqlcall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mcpfed/gateway/pkg/federation"
	"github.com/mcpfed/gateway/pkg/gwerrors"
)

const defaultTimeout = 10 * time.Second

type requestBody struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type responseBody struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Caller implements federation.GraphQLCaller.
type Caller struct {
	Client *http.Client
}

func (c *Caller) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return &http.Client{Timeout: defaultTimeout}
}

// Call posts spec.Operation as the GraphQL query, mapping args to variables
// per spec.VariablesMapping, and returns { data } or an UpstreamError
// carrying the GraphQL error list when the response reports one.
func (c *Caller) Call(ctx context.Context, spec *federation.GraphQLSpec, args map[string]any) (map[string]any, error) {
	variables := make(map[string]any, len(spec.VariablesMapping))
	for from, to := range spec.VariablesMapping {
		if v, ok := args[from]; ok {
			variables[to] = v
		}
	}

	payload, err := json.Marshal(requestBody{Query: spec.Operation, Variables: variables})
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "marshal graphql request")
	}

	reqCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, spec.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "build graphql request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.UpstreamUnavailable, err, "graphql request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.UpstreamUnavailable, err, "read graphql response")
	}
	if resp.StatusCode >= 400 {
		return nil, gwerrors.New(gwerrors.UpstreamError, fmt.Sprintf("graphql upstream returned status %d", resp.StatusCode)).WithDetail(map[string]any{"status_code": resp.StatusCode})
	}

	var parsed responseBody
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, gwerrors.Wrap(gwerrors.UpstreamError, err, "parse graphql response")
	}
	if len(parsed.Errors) > 0 {
		msgs := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, gwerrors.New(gwerrors.UpstreamError, "graphql upstream returned errors").WithDetail(map[string]any{"errors": msgs})
	}

	var out map[string]any
	if len(parsed.Data) > 0 {
		if err := json.Unmarshal(parsed.Data, &out); err != nil {
			out = map[string]any{"raw": string(parsed.Data)}
		}
	}
	return map[string]any{"data": out}, nil
}
