// Package federation implements C6: the gateway registry, tool/resource/
// prompt resolution, and RPC dispatch by integration type. Dispatch is
// modeled as a closed tagged variant switched on IntegrationType, per
// spec.md §9's re-architecture guidance (no runtime monkey-patching).
package federation

import "time"

// Visibility scopes an entity's discoverability.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityTeam    Visibility = "team"
	VisibilityPrivate Visibility = "private"
)

// TransportType is the upstream gateway's wire transport.
type TransportType string

const (
	TransportSSE            TransportType = "sse"
	TransportStreamableHTTP TransportType = "streamable_http"
	TransportStdio          TransportType = "stdio"
)

// AuthConfig describes how this gateway authenticates to the upstream.
type AuthConfig struct {
	Type     string // bearer | basic | oauth | headers
	Token    string
	Headers  map[string]string
	Provider string // oauth provider name, set when Type == "oauth"
}

// Gateway is a registered upstream MCP server (spec.md §3).
type Gateway struct {
	ID                  string
	URL                 string
	Transport           TransportType
	Auth                AuthConfig
	IdentityPropagation IdentityPropagationRef
	TeamID              string
	Visibility          Visibility
	Enabled             bool
	Reachable           bool
	LastSeen            time.Time
}

// IdentityPropagationRef points at the identity.PropagationConfig this
// gateway entity uses; kept as a plain struct here (rather than importing
// pkg/identity) to avoid a model<->transport dependency cycle — the
// dispatcher resolves it when building outbound headers.
type IdentityPropagationRef struct {
	Enabled    bool
	Mode       string
	SignClaims bool
}

// IntegrationType is the closed tagged variant C6 dispatches on.
type IntegrationType string

const (
	IntegrationMCP          IntegrationType = "MCP"
	IntegrationREST         IntegrationType = "REST"
	IntegrationGraphQL      IntegrationType = "GRAPHQL"
	IntegrationGRPC         IntegrationType = "GRPC"
	IntegrationPassthrough  IntegrationType = "PASSTHROUGH"
	IntegrationCodeExecution IntegrationType = "CODE_EXECUTION"
)

// RESTSpec is the per-integration config for IntegrationREST/Passthrough.
type RESTSpec struct {
	BaseURL         string
	PathTemplate    string
	QueryMapping    map[string]string
	HeaderMapping   map[string]string
	Allowlist       []string
	TimeoutMS       int
	ExposePassthrough bool
}

// GraphQLSpec is the per-integration config for IntegrationGraphQL.
type GraphQLSpec struct {
	URL               string
	Operation         string
	VariablesMapping  map[string]string
}

// GRPCSpec is the per-integration config for IntegrationGRPC.
type GRPCSpec struct {
	Target string
	Method string
}

// Entity is the common shape of Tool / Resource / Prompt (spec.md §3).
type Entity struct {
	ID              string
	GatewayID       string // empty for locally-registered entities
	TeamID          string
	Name            string
	IntegrationType IntegrationType
	Schema          map[string]any
	Tags            []string
	Visibility      Visibility
	Enabled         bool

	RemoteName string // tool name as known to the upstream MCP server, for IntegrationMCP
	REST       *RESTSpec
	GraphQL    *GraphQLSpec
	GRPC       *GRPCSpec
}

// VirtualServer is a curated bundle of tools/resources/prompts (spec.md §3).
type VirtualServer struct {
	ID                    string
	Name                  string
	ServerType            string // "" or "code_execution"
	SandboxPolicy         map[string]any
	MountRules            map[string]any
	Tokenization          map[string]any
	SkillsScope           string
	SkillsRequireApproval bool
	AssociatedToolIDs     []string
	AssociatedResourceIDs []string
	AssociatedPromptIDs   []string
}
