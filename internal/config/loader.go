package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file.
// Supports both single-file mode and multi-file mode (via include array).
func Load(configPath string) (*Config, error) {
	absPath, err := resolveRoot(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.ConfigDir = filepath.Dir(absPath)

	visited := map[string]bool{absPath: true}
	if len(cfg.Include) > 0 {
		if err := loadIncludes(cfg, cfg.Include, cfg.ConfigDir, visited); err != nil {
			return nil, err
		}
	}

	cfg = applyConfigDefaults(cfg)

	// Hash-verify every file that contributed (root config + all includes).
	allPaths := make([]string, 0, len(visited))
	for path := range visited {
		allPaths = append(allPaths, path)
	}
	sort.Strings(allPaths)
	if err := verifyAllConfigHashes(allPaths); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	validator := &ConfigValidator{config: cfg}
	if err := validator.ValidateCrossReferences(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	for name, pluginConf := range cfg.Plugins {
		cfg.Plugins[name] = mergePluginDefaults(pluginConf)
	}
	for i := range cfg.Chains {
		if cfg.Chains[i].Timeout == 0 {
			cfg.Chains[i].Timeout = DefaultChainTimeout
		}
	}

	return cfg, nil
}

// resolveRoot turns a file or directory argument into the absolute path of
// the root config file.
func resolveRoot(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// DiscoverConfigDir finds the config directory by checking standard locations.
// Priority order: $RELAYD_CONFIG_DIR, ~/.config/relayd, /etc/relayd, ./config.yaml
func DiscoverConfigDir() (string, error) {
	if dir := os.Getenv("RELAYD_CONFIG_DIR"); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "relayd")
		if _, err := os.Stat(userConfigDir); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/relayd"
	if _, err := os.Stat(systemConfigDir); err == nil {
		return systemConfigDir, nil
	}

	localConfigPath := "./config.yaml"
	if _, err := os.Stat(localConfigPath); err == nil {
		return localConfigPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $RELAYD_CONFIG_DIR, ~/.config/relayd, /etc/relayd, ./config.yaml)")
}

// DiscoverAllConfigFiles returns absolute paths to all configuration files in the include tree.
func DiscoverAllConfigFiles(configPath string) ([]string, error) {
	absPath, err := resolveRoot(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{absPath: true}
	if len(cfg.Include) > 0 {
		if err := collectIncludes(cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	files := make([]string, 0, len(visited))
	for f := range visited {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

func resolveInclude(i int, includePath, baseDir string) (string, error) {
	includePath = interpolateEnv(includePath)
	resolvedPath := includePath
	if !filepath.IsAbs(includePath) {
		resolvedPath = filepath.Join(baseDir, includePath)
	}

	absPath, err := filepath.Abs(resolvedPath)
	if err != nil {
		return "", fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
	}

	if _, err := os.Stat(absPath); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("include[%d]: file not found: %s\n"+
				"Referenced from: %s\n"+
				"Hint: Check the path is correct and the file exists", i, absPath, baseDir)
		}
		return "", fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
	}
	return absPath, nil
}

func collectIncludes(includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		absPath, err := resolveInclude(i, includePath, baseDir)
		if err != nil {
			return err
		}
		if visited[absPath] {
			continue
		}
		visited[absPath] = true

		included, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		if len(included.Include) > 0 {
			if err := collectIncludes(included.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		absPath, err := resolveInclude(i, includePath, baseDir)
		if err != nil {
			return err
		}

		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		visited[absPath] = true

		includedCfg, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}

		deepMergeConfig(cfg, includedCfg)

		if len(includedCfg.Include) > 0 {
			if err := loadIncludes(cfg, includedCfg.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}

	return nil
}

// loadConfigFile loads and parses a single config file without defaults.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &cfg, nil
}

// deepMergeConfig merges src into dst, with src taking precedence for non-zero values.
func deepMergeConfig(dst, src *Config) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.TickInterval != 0 {
		dst.Service.TickInterval = src.Service.TickInterval
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.Service.LogFormat != "" {
		dst.Service.LogFormat = src.Service.LogFormat
	}
	if src.Service.TerminalRetention != 0 {
		dst.Service.TerminalRetention = src.Service.TerminalRetention
	}

	if src.State.Driver != "" {
		dst.State.Driver = src.State.Driver
	}
	if src.State.Path != "" {
		dst.State.Path = src.State.Path
	}

	if src.API.Enabled {
		dst.API.Enabled = src.API.Enabled
	}
	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	if src.API.Auth.APIKey != "" {
		dst.API.Auth.APIKey = src.API.Auth.APIKey
	}
	if len(src.API.Auth.Tokens) > 0 {
		dst.API.Auth.Tokens = append(dst.API.Auth.Tokens, src.API.Auth.Tokens...)
	}

	if src.Dispatch.BatchSize != 0 {
		dst.Dispatch.BatchSize = src.Dispatch.BatchSize
	}
	if src.Dispatch.CallTimeout != 0 {
		dst.Dispatch.CallTimeout = src.Dispatch.CallTimeout
	}
	if src.Dispatch.MaxConcurrentExec != 0 {
		dst.Dispatch.MaxConcurrentExec = src.Dispatch.MaxConcurrentExec
	}

	if src.PluginsDir != "" {
		dst.PluginsDir = src.PluginsDir
	}

	// Plugins are additive; a later file overrides an earlier one by name.
	if src.Plugins != nil {
		if dst.Plugins == nil {
			dst.Plugins = make(map[string]PluginConf)
		}
		for name, plugin := range src.Plugins {
			dst.Plugins[name] = plugin
		}
	}

	if len(src.Chains) > 0 {
		dst.Chains = append(dst.Chains, src.Chains...)
	}

	if src.Webhooks != nil {
		if dst.Webhooks == nil {
			dst.Webhooks = &WebhooksConfig{}
		}
		if src.Webhooks.Listen != "" {
			dst.Webhooks.Listen = src.Webhooks.Listen
		}
		dst.Webhooks.Endpoints = append(dst.Webhooks.Endpoints, src.Webhooks.Endpoints...)
	}
}

func verifyAllConfigHashes(paths []string) error {
	dirToFiles := make(map[string][]string)
	for _, path := range paths {
		dir := filepath.Dir(path)
		dirToFiles[dir] = append(dirToFiles[dir], path)
	}

	for dir, files := range dirToFiles {
		checksums, err := LoadChecksums(dir)
		if err != nil {
			// No .checksums in this directory: nothing to verify against.
			continue
		}

		for _, path := range files {
			basename := filepath.Base(path)
			expectedHash, ok := checksums.Hashes[basename]
			if !ok {
				return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
					"Run: relayd config lock --config %s", basename, dir, dir)
			}

			if err := VerifyFileHash(path, expectedHash); err != nil {
				return fmt.Errorf("config verification failed for %s: %w\n"+
					"This indicates tampering or unauthorized modification.\n"+
					"If you edited this file intentionally, run: relayd config lock --config %s", path, err, dir)
			}
		}
	}

	return nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.TickInterval == 0 {
		cfg.Service.TickInterval = defaults.Service.TickInterval
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.TerminalRetention == 0 {
		cfg.Service.TerminalRetention = defaults.Service.TerminalRetention
	}

	if cfg.State.Driver == "" {
		cfg.State.Driver = defaults.State.Driver
	}
	if cfg.State.Path == "" && cfg.State.Driver == DriverSQLite {
		cfg.State.Path = defaults.State.Path
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = defaults.Dispatch.BatchSize
	}
	if cfg.Dispatch.CallTimeout == 0 {
		cfg.Dispatch.CallTimeout = defaults.Dispatch.CallTimeout
	}
	if cfg.Dispatch.MaxConcurrentExec == 0 {
		cfg.Dispatch.MaxConcurrentExec = defaults.Dispatch.MaxConcurrentExec
	}

	if cfg.PluginsDir == "" {
		cfg.PluginsDir = defaults.PluginsDir
	}
	if cfg.Plugins == nil {
		cfg.Plugins = make(map[string]PluginConf)
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.Service.TickInterval <= 0 {
		return fmt.Errorf("service.tick_interval must be positive")
	}
	if cfg.Service.TerminalRetention < 0 {
		return fmt.Errorf("service.terminal_retention must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	switch cfg.State.Driver {
	case DriverSQLite:
		if cfg.State.Path == "" {
			return fmt.Errorf("state.path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("state.driver must be %s or %s (got %q)", DriverSQLite, DriverMemory, cfg.State.Driver)
	}

	if cfg.Dispatch.BatchSize < 0 || cfg.Dispatch.MaxConcurrentExec < 0 || cfg.Dispatch.CallTimeout < 0 {
		return fmt.Errorf("dispatch settings must not be negative")
	}

	if cfg.PluginsDir == "" {
		return fmt.Errorf("plugins_dir is required")
	}

	if cfg.API.Enabled {
		if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d].token", i)
			if tok.Token == "" {
				return fmt.Errorf("%s is required", field)
			}
			if err := unresolved(field, tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.enabled requires api.auth.api_key or api.auth.tokens")
		}
	}

	for name, plugin := range cfg.Plugins {
		if plugin.Timeout < 0 {
			return fmt.Errorf("plugin %q: timeout must not be negative", name)
		}
		if cb := plugin.CircuitBreaker; cb != nil && (cb.Threshold < 0 || cb.ResetAfter < 0) {
			return fmt.Errorf("plugin %q: circuit_breaker settings must not be negative", name)
		}
	}

	for i, ch := range cfg.Chains {
		if ch.Name == "" {
			return fmt.Errorf("chains[%d].name is required", i)
		}
		if err := unresolved(fmt.Sprintf("chains[%d].rpc_url", i), ch.RPCURL); err != nil {
			return err
		}
		u, err := url.Parse(ch.RPCURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("chain %q: rpc_url must be an http(s) URL (got %q)", ch.Name, ch.RPCURL)
		}
		if ch.Denom == "" {
			return fmt.Errorf("chain %q: denom is required", ch.Name)
		}
		if len(ch.Keyring.Keys) == 0 {
			return fmt.Errorf("chain %q: keyring.keys must be non-empty", ch.Name)
		}
		for j, k := range ch.Keyring.Keys {
			if k.Address == "" {
				return fmt.Errorf("chain %q: keyring.keys[%d].address is required", ch.Name, j)
			}
			if err := unresolved(fmt.Sprintf("chain %q keyring.keys[%d].address", ch.Name, j), k.Address); err != nil {
				return err
			}
		}
	}

	return validateWebhooks(cfg.Webhooks)
}

func validateWebhooks(wc *WebhooksConfig) error {
	if wc == nil {
		return nil
	}
	if len(wc.Endpoints) > 0 && wc.Listen == "" {
		return fmt.Errorf("webhooks.listen is required when endpoints are configured")
	}
	paths := make(map[string]int, len(wc.Endpoints))
	for i, ep := range wc.Endpoints {
		field := fmt.Sprintf("webhooks.endpoints[%d]", i)
		if !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("%s.path must start with / (got %q)", field, ep.Path)
		}
		normalized := strings.TrimSuffix(ep.Path, "/")
		if prev, dup := paths[normalized]; dup {
			return fmt.Errorf("%s.path %q conflicts with webhooks.endpoints[%d]", field, ep.Path, prev)
		}
		paths[normalized] = i
		if ep.Secret == "" {
			return fmt.Errorf("%s.secret is required", field)
		}
		if err := unresolved(field+".secret", ep.Secret); err != nil {
			return err
		}
		switch ep.Body {
		case "", WebhookBodyOp, WebhookBodyLeaf:
		default:
			return fmt.Errorf("%s.body must be %s or %s (got %q)", field, WebhookBodyOp, WebhookBodyLeaf, ep.Body)
		}
	}
	return nil
}

// unresolved reports a ${VAR} placeholder left in value after interpolation.
func unresolved(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

// mergePluginDefaults applies default values to plugin config where not specified.
func mergePluginDefaults(plugin PluginConf) PluginConf {
	defaults := DefaultPluginConf()

	if plugin.Timeout == 0 {
		plugin.Timeout = defaults.Timeout
	}

	if plugin.CircuitBreaker == nil {
		plugin.CircuitBreaker = defaults.CircuitBreaker
	} else {
		cb := *plugin.CircuitBreaker
		if cb.Threshold == 0 {
			cb.Threshold = defaults.CircuitBreaker.Threshold
		}
		if cb.ResetAfter == 0 {
			cb.ResetAfter = defaults.CircuitBreaker.ResetAfter
		}
		plugin.CircuitBreaker = &cb
	}

	return plugin
}
