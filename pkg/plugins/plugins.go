// Package plugins implements C2: ordered pre/post hook execution around
// tool, resource, and prompt invocations, with typed payloads and a
// violation policy per hook chain.
package plugins

import (
	"context"

	"github.com/mcpfed/gateway/pkg/gwerrors"
	"github.com/mcpfed/gateway/pkg/identity"
	"github.com/mcpfed/gateway/pkg/log"
)

// Hook names the six events a plugin chain can bind to.
type Hook string

const (
	HookPromptPreFetch   Hook = "prompt_pre_fetch"
	HookPromptPostFetch  Hook = "prompt_post_fetch"
	HookToolPreInvoke    Hook = "tool_pre_invoke"
	HookToolPostInvoke   Hook = "tool_post_invoke"
	HookResourcePreFetch Hook = "resource_pre_fetch"
	HookResourcePostFetch Hook = "resource_post_fetch"
)

// Mode governs how a chain reacts to a Violation or plugin error.
type Mode string

const (
	ModeEnforce            Mode = "enforce"
	ModeEnforceIgnoreError Mode = "enforce_ignore_error"
	ModePermissive         Mode = "permissive"
	ModeDisabled           Mode = "disabled"
)

// Severity of a reported Violation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Violation is returned by a plugin instead of a mutated payload when it
// rejects the request (spec.md §9's PluginOutcome variant).
type Violation struct {
	Plugin   string
	Severity Severity
	Reason   string
}

// Payload is any of the typed payload shapes below. Plugins MUST treat
// unknown fields as opaque and round-trip them — modeled here as every
// payload carrying an Extra map alongside its typed fields.
type Payload interface {
	isPayload()
}

type ToolPreInvokePayload struct {
	Name  string
	Args  map[string]any
	Extra map[string]any
}

type ToolPostInvokePayload struct {
	Name   string
	Result map[string]any
	Extra  map[string]any
}

type ResourcePreFetchPayload struct {
	URI    string
	Params map[string]any
	Extra  map[string]any
}

type ResourcePostFetchPayload struct {
	URI     string
	Content map[string]any
	Extra   map[string]any
}

type PromptPreFetchPayload struct {
	Name  string
	Args  map[string]any
	Extra map[string]any
}

type PromptPostFetchPayload struct {
	Name     string
	Rendered map[string]any
	Extra    map[string]any
}

func (ToolPreInvokePayload) isPayload()       {}
func (ToolPostInvokePayload) isPayload()      {}
func (ResourcePreFetchPayload) isPayload()    {}
func (ResourcePostFetchPayload) isPayload()   {}
func (PromptPreFetchPayload) isPayload()      {}
func (PromptPostFetchPayload) isPayload()     {}

// RequestContext carries the caller identity and chain-resolution
// information a Plugin needs.
type RequestContext struct {
	Context context.Context
	User    *identity.UserContext
	// EntityChains, when non-nil, are the plugin names configured directly
	// on the tool/resource/prompt record, taking precedence over the
	// global default chain for the hook.
	EntityChains map[Hook][]string
}

// Plugin is the unit of work in a chain. Implementations may be in-process
// Go code or remote MCP-provider-backed adapters (see Provider in
// provider.go); the chain only depends on this interface.
type Plugin interface {
	Name() string
	// Invoke runs the plugin against payload and returns either a mutated
	// payload or a Violation. Returning a non-nil error means the plugin
	// itself failed (distinct from rejecting via Violation).
	Invoke(ctx context.Context, hook Hook, payload Payload, rc *RequestContext) (Payload, *Violation, error)
}

// ChainConfig resolves, for a given hook, the ordered plugin chain and its
// Mode.
type ChainConfig struct {
	Mode    Mode
	Plugins []Plugin
}

// Registry resolves the chain to run for a hook, honoring entity-level
// overrides before falling back to the global default (spec.md §4.2 "Chain
// resolution").
type Registry struct {
	Default map[Hook]ChainConfig
	// Named holds alternate chains addressable by name, referenced from
	// RequestContext.EntityChains.
	Named map[string]ChainConfig
}

func (r *Registry) resolve(hook Hook, rc *RequestContext) ChainConfig {
	if rc != nil && rc.EntityChains != nil {
		if names, ok := rc.EntityChains[hook]; ok && len(names) > 0 {
			// The plugins of every matching named chain are concatenated
			// in declared order; the Mode of the last matching chain
			// applies to the combined chain.
			var plugins []Plugin
			mode := ModeEnforce
			for _, n := range names {
				if cc, ok := r.Named[n]; ok {
					plugins = append(plugins, cc.Plugins...)
					mode = cc.Mode
				}
			}
			if len(plugins) > 0 {
				return ChainConfig{Mode: mode, Plugins: plugins}
			}
		}
	}
	return r.Default[hook]
}

// RunPre runs the ordered pre-hook chain. It returns the (possibly
// mutated) payload, or a non-nil error if the mode dictates aborting.
func (r *Registry) RunPre(hook Hook, payload Payload, rc *RequestContext) (Payload, error) {
	return r.run(hook, payload, rc)
}

// RunPost runs the ordered post-hook chain, same semantics as RunPre.
func (r *Registry) RunPost(hook Hook, payload Payload, rc *RequestContext) (Payload, error) {
	return r.run(hook, payload, rc)
}

func (r *Registry) run(hook Hook, payload Payload, rc *RequestContext) (Payload, error) {
	chain := r.resolve(hook, rc)
	if chain.Mode == ModeDisabled || chain.Mode == "" {
		return payload, nil
	}
	ctx := context.Background()
	if rc != nil && rc.Context != nil {
		ctx = rc.Context
	}
	cur := payload
	for _, p := range chain.Plugins {
		next, violation, err := p.Invoke(ctx, hook, cur, rc)
		if err != nil {
			switch chain.Mode {
			case ModeEnforceIgnoreError:
				continue // proceed as if the plugin were absent
			default:
				return payload, gwerrors.Wrap(gwerrors.Internal, err, "plugin "+p.Name()+" failed")
			}
		}
		if violation != nil {
			switch chain.Mode {
			case ModeEnforce, ModeEnforceIgnoreError:
				return payload, gwerrors.New(gwerrors.PolicyViolation, violation.Reason).WithDetail(map[string]any{
					"plugin":   violation.Plugin,
					"severity": violation.Severity,
					"reason":   violation.Reason,
				})
			case ModePermissive:
				log.Logf("plugin %s reported a %s violation on %s (permissive, continuing): %s",
					violation.Plugin, violation.Severity, hook, violation.Reason)
				continue // log and continue with the unmutated payload from before this plugin
			}
			continue
		}
		cur = next
	}
	return cur, nil
}
