// Package doctor cross-checks a loaded relayd configuration against the
// plugins discovered on disk. The loader rejects malformed config outright;
// doctor reports the problems that only show up once plugins are known, and
// the settings that load fine but are probably not what the operator meant.
package doctor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/auth"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/config"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/plugin"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []Issue  `json:"errors"`
	Warnings []Issue  `json:"warnings"`
	Plugins  []string `json:"plugins,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

func (i Issue) String() string {
	if i.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", i.Category, i.Field, i.Message)
	}
	return fmt.Sprintf("[%s] %s", i.Category, i.Message)
}

// NewResult returns an empty, valid result.
func NewResult() *Result {
	return &Result{Valid: true, Errors: []Issue{}, Warnings: []Issue{}}
}

func (r *Result) AddError(category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
	r.Valid = false
}

func (r *Result) AddWarning(category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// Doctor validates configuration against discovered plugin definitions.
type Doctor struct {
	cfg  *config.Config
	defs map[string]*plugin.Definition
}

// New creates a Doctor from a loaded config and the plugin definitions
// found in its plugins_dir.
func New(cfg *config.Config, defs []*plugin.Definition) *Doctor {
	byName := make(map[string]*plugin.Definition, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
	}
	return &Doctor{cfg: cfg, defs: byName}
}

// Validate runs every check into r.
func (d *Doctor) Validate(r *Result) {
	d.validatePluginRefs(r)
	d.warnUnusedPlugins(r)
	d.warnPluginTimeouts(r)
	d.validateAPI(r)
	d.validateWebhooks(r)
	d.validateChains(r)
	d.warnVolatileState(r)

	for name := range d.defs {
		r.Plugins = append(r.Plugins, name)
	}
	sort.Strings(r.Plugins)
}

// validatePluginRefs checks that every enabled plugin was discovered and
// can do something.
func (d *Doctor) validatePluginRefs(r *Result) {
	for _, name := range sortedPluginNames(d.cfg) {
		pc := d.cfg.Plugins[name]
		if !pc.Enabled {
			continue
		}
		field := "plugins." + name
		def, ok := d.defs[name]
		if !ok {
			r.AddError("plugins", field,
				fmt.Sprintf("plugin %q is enabled but not found in %s", name, d.cfg.PluginsDir))
			continue
		}
		if !def.Capabilities.Filter {
			r.AddWarning("plugins", field,
				fmt.Sprintf("plugin %q has no filter capability and will never claim operations", name))
		}
	}

	var enabled int
	for _, pc := range d.cfg.Plugins {
		if pc.Enabled {
			enabled++
		}
	}
	if len(d.cfg.Plugins) > 0 && enabled == 0 {
		r.AddWarning("plugins", "plugins", "every configured plugin is disabled; enqueued leaves will stay fresh")
	}
}

// warnUnusedPlugins warns about discovered plugins config never mentions.
func (d *Doctor) warnUnusedPlugins(r *Result) {
	names := make([]string, 0, len(d.defs))
	for name := range d.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := d.cfg.Plugins[name]; !ok {
			r.AddWarning("unused", "",
				fmt.Sprintf("plugin %q discovered but not referenced in config", name))
		}
	}
}

// warnPluginTimeouts flags plugin timeouts the dispatch call timeout cuts short.
func (d *Doctor) warnPluginTimeouts(r *Result) {
	callTimeout := d.cfg.Dispatch.CallTimeout
	for _, name := range sortedPluginNames(d.cfg) {
		pc := d.cfg.Plugins[name]
		if !pc.Enabled || callTimeout <= 0 {
			continue
		}
		if pc.Timeout > callTimeout {
			r.AddWarning("timeouts", fmt.Sprintf("plugins.%s.timeout", name),
				fmt.Sprintf("timeout %s exceeds dispatch.call_timeout %s; calls are cut at %s", pc.Timeout, callTimeout, callTimeout))
		}
		if cb := pc.CircuitBreaker; cb != nil && cb.ResetAfter > 0 && cb.ResetAfter < d.cfg.Service.TickInterval {
			r.AddWarning("circuit_breaker", fmt.Sprintf("plugins.%s.circuit_breaker.reset_after", name),
				fmt.Sprintf("reset_after %s is shorter than service.tick_interval %s", cb.ResetAfter, d.cfg.Service.TickInterval))
		}
	}
}

// validateAPI checks that a usable credential exists for each API surface.
func (d *Doctor) validateAPI(r *Result) {
	apiCfg := d.cfg.API
	if !apiCfg.Enabled {
		return
	}
	if apiCfg.Listen == "" {
		r.AddError("api", "api.listen", "api.listen is required when the API is enabled")
	}

	if apiCfg.Auth.APIKey != "" {
		if len(apiCfg.Auth.Tokens) > 0 {
			r.AddWarning("api", "api.auth", "both api_key and tokens configured; prefer tokens only")
		} else {
			r.AddWarning("api", "api.auth.api_key", "api_key grants every scope; prefer scoped tokens")
		}
		return
	}

	var canWrite, canWatch bool
	for _, tok := range apiCfg.Auth.Tokens {
		scopes := auth.NewScopeSet(tok.Scopes...)
		canWrite = canWrite || scopes.Allows(auth.ScopeOpsWrite)
		canWatch = canWatch || scopes.Allows(auth.ScopeEventsRO)
	}
	if !canWrite {
		r.AddWarning("api", "api.auth.tokens", "no token grants ops:rw; operations cannot be enqueued over HTTP")
	}
	if !canWatch {
		r.AddWarning("api", "api.auth.tokens", "no token grants events:ro; the event stream is unreachable")
	}
}

// validateWebhooks checks the ingress has its own listener and usable secrets.
func (d *Doctor) validateWebhooks(r *Result) {
	wc := d.cfg.Webhooks
	if wc == nil || len(wc.Endpoints) == 0 {
		return
	}
	if d.cfg.API.Enabled && wc.Listen == d.cfg.API.Listen {
		r.AddError("webhooks", "webhooks.listen",
			fmt.Sprintf("webhooks.listen %s is also api.listen", wc.Listen))
	}
	for i, ep := range wc.Endpoints {
		if len(ep.Secret) < 16 {
			r.AddWarning("webhooks", fmt.Sprintf("webhooks.endpoints[%d].secret", i),
				fmt.Sprintf("secret for %s is shorter than 16 bytes", ep.Path))
		}
	}
}

// validateChains checks that each chain's keyring is usable.
func (d *Doctor) validateChains(r *Result) {
	if len(d.cfg.Chains) == 0 {
		r.AddWarning("chains", "chains", "no chains configured; claimed operations cannot execute")
		return
	}
	for _, ch := range d.cfg.Chains {
		names := make(map[string]bool, len(ch.Keyring.Keys))
		for j, k := range ch.Keyring.Keys {
			if k.Name == "" {
				continue
			}
			if names[k.Name] {
				r.AddError("chains", fmt.Sprintf("chains.%s.keyring.keys[%d].name", ch.Name, j),
					fmt.Sprintf("key name %q is repeated", k.Name))
			}
			names[k.Name] = true
		}
		if ch.Keyring.Name == "" {
			r.AddWarning("chains", fmt.Sprintf("chains.%s.keyring.name", ch.Name), "keyring has no name")
		}
	}
}

// warnVolatileState reminds the operator the memory driver loses the queue.
func (d *Doctor) warnVolatileState(r *Result) {
	if d.cfg.State.Driver == config.DriverMemory {
		r.AddWarning("state", "state.driver",
			"memory driver keeps the queue in process; it is lost on restart and the op commands cannot reach it")
	}
}

func sortedPluginNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Plugins))
	for name := range cfg.Plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case !r.Valid:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	case len(r.Warnings) > 0:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		b.WriteString("Configuration valid.\n")
	}

	for _, e := range r.Errors {
		fmt.Fprintf(&b, "  ERROR %s\n", e)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "  WARN  %s\n", w)
	}
	if len(r.Plugins) > 0 {
		fmt.Fprintf(&b, "Plugins discovered: %d\n", len(r.Plugins))
		for _, name := range r.Plugins {
			fmt.Fprintf(&b, "  - %s\n", name)
		}
	}
	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
