package config

import "time"

// Config represents the complete relayd configuration.
type Config struct {
	Include    []string              `yaml:"include,omitempty"`
	Service    ServiceConfig         `yaml:"service"`
	State      StateConfig           `yaml:"state"`
	API        APIConfig             `yaml:"api,omitempty"`
	Dispatch   DispatchConfig        `yaml:"dispatch"`
	PluginsDir string                `yaml:"plugins_dir"`
	Plugins    map[string]PluginConf `yaml:"plugins"`
	Chains     []ChainConfig         `yaml:"chains,omitempty"`
	Webhooks   *WebhooksConfig       `yaml:"webhooks,omitempty"`

	// ConfigDir is the directory holding the root config file.
	ConfigDir string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name              string        `yaml:"name"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"`
	TerminalRetention time.Duration `yaml:"terminal_retention"`
}

// StateConfig defines queue storage settings.
type StateConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// State drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// WebhooksConfig is the signed ingress that upstream packet watchers post to.
type WebhooksConfig struct {
	Listen    string            `yaml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookEndpoint is one signed POST path. Body "op" decodes the request as
// an operation tree; "leaf" enqueues the raw body as a leaf payload.
type WebhookEndpoint struct {
	Path            string `yaml:"path"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header,omitempty"`
	Body            string `yaml:"body,omitempty"`
	MaxBodySize     string `yaml:"max_body_size,omitempty"`
}

const (
	WebhookBodyOp   = "op"
	WebhookBodyLeaf = "leaf"
)

// DispatchConfig tunes the dispatch engine.
type DispatchConfig struct {
	BatchSize         int           `yaml:"batch_size"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
	MaxConcurrentExec int           `yaml:"max_concurrent_exec"`
}

// PluginConf defines configuration for a single plugin.
type PluginConf struct {
	Enabled        bool                  `yaml:"enabled"`
	Timeout        time.Duration         `yaml:"timeout,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker,omitempty"`
}

// CircuitBreakerConfig defines circuit breaker settings.
type CircuitBreakerConfig struct {
	Threshold  int           `yaml:"threshold"`
	ResetAfter time.Duration `yaml:"reset_after"`
}

// ChainConfig describes one chain relayd submits to.
type ChainConfig struct {
	Name       string        `yaml:"name"`
	RPCURL     string        `yaml:"rpc_url"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	MinBalance uint64        `yaml:"min_balance"`
	Denom      string        `yaml:"denom"`
	Keyring    KeyringConfig `yaml:"keyring"`
}

// KeyringConfig names the signing accounts for a chain.
type KeyringConfig struct {
	Name string      `yaml:"name"`
	Keys []KeyConfig `yaml:"keys"`
}

// KeyConfig is one signing account.
type KeyConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:              "relayd",
			TickInterval:      time.Second,
			LogLevel:          "info",
			LogFormat:         "json",
			TerminalRetention: 24 * time.Hour,
		},
		State: StateConfig{
			Driver: DriverSQLite,
			Path:   "./data/relayd.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Dispatch: DispatchConfig{
			BatchSize:         64,
			CallTimeout:       30 * time.Second,
			MaxConcurrentExec: 8,
		},
		PluginsDir: "./plugins",
		Plugins:    make(map[string]PluginConf),
	}
}

// DefaultPluginConf returns default plugin configuration.
func DefaultPluginConf() PluginConf {
	return PluginConf{
		Enabled: true,
		Timeout: 30 * time.Second,
		CircuitBreaker: &CircuitBreakerConfig{
			Threshold:  3,
			ResetAfter: time.Minute,
		},
	}
}

// DefaultChainTimeout bounds a single RPC to a chain.
const DefaultChainTimeout = 15 * time.Second
