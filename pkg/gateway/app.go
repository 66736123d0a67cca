// Package gateway composes C1-C9 into one runnable process: the
// orchestrator's job is wiring, not policy. Grounded in the teacher's own
// pkg/gateway/run.go (NewGateway/Run shape: build dependencies, start
// background loops, serve transports, drain on shutdown), generalized from
// a single Docker-catalog gateway to this package's federation-of-gateways
// core.
package gateway

import (
	"fmt"
	"time"

	"github.com/mcpfed/gateway/pkg/cache"
	"github.com/mcpfed/gateway/pkg/cancellation"
	"github.com/mcpfed/gateway/pkg/codeexec"
	"github.com/mcpfed/gateway/pkg/config"
	"github.com/mcpfed/gateway/pkg/db"
	"github.com/mcpfed/gateway/pkg/federation"
	"github.com/mcpfed/gateway/pkg/graphqlcall"
	"github.com/mcpfed/gateway/pkg/grpccall"
	"github.com/mcpfed/gateway/pkg/health"
	"github.com/mcpfed/gateway/pkg/identity"
	"github.com/mcpfed/gateway/pkg/oauth"
	"github.com/mcpfed/gateway/pkg/plugins"
	"github.com/mcpfed/gateway/pkg/pool"
	"github.com/mcpfed/gateway/pkg/session"
	"github.com/mcpfed/gateway/pkg/transport"
	"github.com/mcpfed/gateway/pkg/upstream"
)

// Gateway is the fully wired process: every C1-C9 component plus the glue
// between them. It implements transport.Dispatcher directly (see
// dispatch.go) so it can be handed to transport.Server as-is.
type Gateway struct {
	Watcher      *config.Watcher
	DB           db.DAO
	Cache        cache.Cache
	Auth         *identity.Authenticator
	Plugins      *plugins.Registry
	Sessions     *session.Registry
	Cancellation *cancellation.Service
	Pool         *pool.Pool
	Federation   *federation.Dispatcher
	CodeExec     *codeexec.Manager
	OAuth        *oauth.Manager
	Health       *health.State
	Transport    *transport.Server
}

// New wires every component from a loaded configuration. It opens the
// database and constructs the pool/federation/transport stack, but does not
// yet accept connections or start background loops — call Run for that.
func New(watcher *config.Watcher) (*Gateway, error) {
	cfg := watcher.Current()

	dao, err := db.New(db.WithDatabaseFile(cfg.DatabaseFile))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	c := newCache(cfg)

	verifier := newStaticVerifier(cfg.APIKeys)
	auth := &identity.Authenticator{Verifier: verifier}

	pluginRegistry := buildPluginRegistry(cfg.Plugins)

	sessionTTL := time.Duration(cfg.SessionTTLSeconds) * time.Second
	sessions := session.NewRegistry(c, cfg.WorkerID, sessionTTL)
	cancelSvc := cancellation.NewService(c, &sessionNotifier{registry: sessions})

	connector := &upstream.Connector{ClientName: "mcp-gateway", ClientVersion: "1.0.0"}
	upstreamPool := pool.New(connector)
	applyPoolConfig(upstreamPool, cfg.Pool)
	upstreamPool.Cache = c
	upstreamPool.WorkerID = cfg.WorkerID

	store := newDBStore(dao)
	codeExecMgr := codeexec.NewManager(cfg.CodeExecution.BaseDir, c)
	codeExec := &codeExecDispatcher{manager: codeExecMgr}

	tokenStore := oauth.NewTokenStore(c)
	oauthMgr := oauth.NewManager(tokenStore)
	for _, p := range cfg.OAuthProviders {
		oauthMgr.RegisterProvider(oauth.ProviderConfig{
			Name:                  p.Name,
			ClientID:              p.ClientID,
			ClientSecret:          p.ClientSecret,
			AuthorizationEndpoint: p.AuthorizationEndpoint,
			TokenEndpoint:         p.TokenEndpoint,
			RedirectURL:           p.RedirectURL,
			Scopes:                p.Scopes,
		})
	}

	dispatcher := &federation.Dispatcher{
		Store:        store,
		Plugins:      pluginRegistry,
		Cancellation: cancelSvc,
		MCP:          &upstream.Caller{Pool: upstreamPool},
		REST:         federation.NewHTTPRESTCaller(),
		GraphQL:      &graphqlcall.Caller{},
		GRPC:         &grpccall.Caller{},
		CodeExec:     codeExec,
		IdentityHdrs: func(uc *identity.UserContext, gw *federation.Gateway) map[string]string {
			return buildIdentityHeaders(uc, gw, oauthMgr)
		},
		IdentityMeta: buildIdentityMeta,
		Pool:         upstreamPool,
		Forward: sessions,
	}
	// codeExec.InvokeTool (the sandbox tool-call bridge) calls back into this
	// same dispatcher, so the reference has to be completed after dispatcher
	// exists rather than at the literal above.
	codeExec.bridge = dispatcher

	healthState := health.NewState()

	g := &Gateway{
		Watcher:      watcher,
		DB:           dao,
		Cache:        c,
		Auth:         auth,
		Plugins:      pluginRegistry,
		Sessions:     sessions,
		Cancellation: cancelSvc,
		Pool:         upstreamPool,
		Federation:   dispatcher,
		CodeExec:     codeExecMgr,
		OAuth:        oauthMgr,
		Health:       healthState,
	}

	g.Transport = &transport.Server{
		Registry:       sessions,
		Dispatcher:     g,
		Auth:           auth,
		Health:         healthState,
		AllowedOrigins: cfg.AllowedOrigins,
	}

	return g, nil
}

func newCache(cfg *config.Config) cache.Cache {
	if cfg.CacheAddr == "" {
		return cache.NewMemoryCache()
	}
	return cache.NewRedisCache(cfg.CacheAddr, "", 0)
}

func applyPoolConfig(p *pool.Pool, cfg config.PoolConfig) {
	if cfg.MaxPerKey > 0 {
		p.MaxPerKey = cfg.MaxPerKey
	}
	if cfg.AcquireTimeout > 0 {
		p.AcquireTimeout = cfg.AcquireTimeout
	}
	if cfg.TransportTimeout > 0 {
		p.TransportTimeout = cfg.TransportTimeout
	}
	if cfg.HealthInterval > 0 {
		p.HealthInterval = cfg.HealthInterval
	}
	if cfg.CircuitThreshold > 0 {
		p.CircuitThreshold = cfg.CircuitThreshold
	}
	if cfg.CircuitResetTimeout > 0 {
		p.CircuitReset = cfg.CircuitResetTimeout
	}
	if cfg.IdleEviction > 0 {
		p.IdleEvictionAfter = cfg.IdleEviction
	}
}

// buildPluginRegistry constructs the default hook chains from config. Only
// the chain Mode is config-driven today; concrete Plugin instances (backed
// by plugins.NewMCPPlugin or an in-process implementation) are registered
// by a deployment via RegisterChain once it knows its provider endpoints —
// the gateway core ships the resolution/enforcement machinery, not a fixed
// plugin set.
func buildPluginRegistry(cfg config.PluginsConfig) *plugins.Registry {
	mode := plugins.Mode(cfg.Mode)
	if mode == "" {
		mode = plugins.ModeEnforce
	}
	def := make(map[plugins.Hook]plugins.ChainConfig, 6)
	for _, h := range []plugins.Hook{
		plugins.HookPromptPreFetch, plugins.HookPromptPostFetch,
		plugins.HookToolPreInvoke, plugins.HookToolPostInvoke,
		plugins.HookResourcePreFetch, plugins.HookResourcePostFetch,
	} {
		def[h] = plugins.ChainConfig{Mode: mode}
	}
	return &plugins.Registry{Default: def, Named: make(map[string]plugins.ChainConfig)}
}

// RegisterChain installs (or replaces) the plugin chain for hook, letting a
// deployment wire concrete Plugin implementations after New returns.
func (g *Gateway) RegisterChain(hook plugins.Hook, chain plugins.ChainConfig) {
	g.Plugins.Default[hook] = chain
}

// propagationConfigFor adapts a Gateway's stored identity-propagation
// config to identity.PropagationConfig, defaulting an unset mode to headers
// per spec.md §4.1.
func propagationConfigFor(gw *federation.Gateway) identity.PropagationConfig {
	cfg := identity.PropagationConfig{
		Enabled: gw.IdentityPropagation.Enabled,
		Mode:    identity.PropagationMode(gw.IdentityPropagation.Mode),
	}
	if cfg.Mode == "" {
		cfg.Mode = identity.ModeHeaders
	}
	return cfg
}

// buildIdentityHeaders adapts a Gateway's stored identity-propagation
// config to identity.BuildIdentityHeaders for the federation dispatcher,
// plus the Authorization header for bearer and OAuth auth_config types.
func buildIdentityHeaders(uc *identity.UserContext, gw *federation.Gateway, oauthMgr *oauth.Manager) map[string]string {
	h := identity.BuildIdentityHeaders(uc, propagationConfigFor(gw))
	switch {
	case gw.Auth.Type == "bearer" && gw.Auth.Token != "":
		if h == nil {
			h = make(map[string]string)
		}
		h["Authorization"] = "Bearer " + gw.Auth.Token
	case gw.Auth.Type == "oauth" && gw.Auth.Provider != "":
		if token, ok := oauthMgr.CurrentAccessToken(gw.Auth.Provider); ok {
			if h == nil {
				h = make(map[string]string)
			}
			h["Authorization"] = "Bearer " + token
		}
	}
	return h
}

// buildIdentityMeta mirrors buildIdentityHeaders for the `_meta.user` object
// mode/both carries alongside (or instead of) headers (spec.md §8 scenario
// 3). Returns nil whenever BuildIdentityMeta does (disabled, or mode
// excludes meta).
func buildIdentityMeta(uc *identity.UserContext, gw *federation.Gateway) *identity.IdentityMeta {
	return identity.BuildIdentityMeta(uc, propagationConfigFor(gw))
}
