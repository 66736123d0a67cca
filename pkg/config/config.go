// Package config implements C9's configuration loading: a YAML document
// describing gateways, plugin chains, pool/transport tuning, and identity
// propagation, validated with struct tags and hot-reloaded on change.
//
// Grounded on the gateway's existing yaml.v3 + go-playground/validator/v10
// dependency pair (already present for other record types) and the
// fsnotify-based reload loop the gateway's own reload.go performs for its
// catalog files, generalized to this gateway's top-level config document.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mcpfed/gateway/pkg/log"
)

// Config is the top-level gateway configuration document.
type Config struct {
	ListenAddr      string                `yaml:"listen_addr" validate:"required"`
	WorkerID        string                `yaml:"worker_id" validate:"required"`
	CacheAddr       string                `yaml:"cache_addr" validate:"required"`
	DatabaseFile    string                `yaml:"database_file"`
	// SessionTTLSeconds bounds a logical session's cache ownership lifetime
	// (spec.md §4.4/§6 `session_ttl_seconds`, default 300) — distinct from
	// Pool.HealthInterval, which only paces upstream health probes.
	SessionTTLSeconds int                   `yaml:"session_ttl_seconds" validate:"gte=0"`
	Pool              PoolConfig            `yaml:"pool"`
	Plugins           PluginsConfig         `yaml:"plugins"`
	CodeExecution     CodeExecutionConfig   `yaml:"code_execution"`
	AllowedOrigins    []string              `yaml:"allowed_origins"`
	APIKeys           map[string]APIKeyIdentity `yaml:"api_keys"`
	OAuthProviders    []OAuthProviderConfig `yaml:"oauth_providers"`
}

// OAuthProviderConfig is one statically configured OAuth provider a
// Gateway's auth_config.provider can reference when auth_config.type ==
// oauth (spec.md §3 "auth_config").
type OAuthProviderConfig struct {
	Name                  string   `yaml:"name" validate:"required"`
	ClientID              string   `yaml:"client_id" validate:"required"`
	ClientSecret          string   `yaml:"client_secret"`
	AuthorizationEndpoint string   `yaml:"authorization_endpoint" validate:"required"`
	TokenEndpoint         string   `yaml:"token_endpoint" validate:"required"`
	RedirectURL           string   `yaml:"redirect_url"`
	Scopes                []string `yaml:"scopes"`
}

// APIKeyIdentity is the identity a static API key or bearer token resolves
// to (spec.md §3 UserContext fields an operator can provision up front,
// without wiring a full IdP).
type APIKeyIdentity struct {
	UserID  string `yaml:"user_id"`
	Email   string `yaml:"email"`
	TeamID  string `yaml:"team_id"`
	IsAdmin bool   `yaml:"is_admin"`
}

type PoolConfig struct {
	MaxPerKey           int           `yaml:"max_per_key" validate:"gte=1"`
	AcquireTimeout      time.Duration `yaml:"acquire_timeout"`
	TransportTimeout    time.Duration `yaml:"transport_timeout"`
	HealthInterval      time.Duration `yaml:"health_interval"`
	CircuitThreshold    int           `yaml:"circuit_threshold" validate:"gte=1"`
	CircuitResetTimeout time.Duration `yaml:"circuit_reset_timeout"`
	IdleEviction        time.Duration `yaml:"idle_eviction"`
}

type PluginsConfig struct {
	Mode       string         `yaml:"mode" validate:"oneof=enforce enforce_ignore_error permissive disabled"`
	Chains     map[string]any `yaml:"chains"`
}

type CodeExecutionConfig struct {
	Enabled          bool          `yaml:"enabled"`
	BaseDir          string        `yaml:"base_dir"`
	SessionTTL       time.Duration `yaml:"session_ttl"`
	AllowRawHTTP     bool          `yaml:"allow_raw_http"`
	MaxRecursionDepth int          `yaml:"max_recursion_depth" validate:"gte=0"`
}

var validate = validator.New()

// Load reads and validates a YAML config document from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.SessionTTLSeconds == 0 {
		cfg.SessionTTLSeconds = 300
	}
	if cfg.Pool.MaxPerKey == 0 {
		cfg.Pool.MaxPerKey = 4
	}
	if cfg.Pool.CircuitThreshold == 0 {
		cfg.Pool.CircuitThreshold = 5
	}
	if cfg.Plugins.Mode == "" {
		cfg.Plugins.Mode = "enforce"
	}
	if cfg.CodeExecution.MaxRecursionDepth == 0 {
		cfg.CodeExecution.MaxRecursionDepth = 3
	}
}

// Watcher holds the current config and swaps it atomically on file change.
type Watcher struct {
	path string

	mu  sync.RWMutex
	cur *Config
}

func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, cur: cfg}, nil
}

func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

// Reload re-reads the file; on a parse/validation error the previous
// config is kept in place and the error is logged, never panicking a live
// gateway over a bad edit.
func (w *Watcher) Reload() {
	cfg, err := Load(w.path)
	if err != nil {
		log.Logf("config reload failed, keeping previous config: %v", err)
		return
	}
	w.mu.Lock()
	w.cur = cfg
	w.mu.Unlock()
}
