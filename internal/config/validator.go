package config

import (
	"fmt"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/auth"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/tag"
)

// ConfigValidator validates references that span sections, and so span
// files in multi-file mode.
type ConfigValidator struct {
	config *Config
}

// ValidateCrossReferences checks that all cross-section references are valid.
func (v *ConfigValidator) ValidateCrossReferences() error {
	if err := v.validatePluginNames(); err != nil {
		return err
	}
	if err := v.validateChains(); err != nil {
		return err
	}
	return v.validateTokenScopes()
}

// validatePluginNames checks that every configured plugin name can own a tag namespace.
func (v *ConfigValidator) validatePluginNames() error {
	for name := range v.config.Plugins {
		if err := tag.ValidatePluginName(name); err != nil {
			return fmt.Errorf("plugins.%s: %w", name, err)
		}
	}
	return nil
}

// validateChains checks that chain names are unique and that no signing
// address is shared between two chains' keyrings.
func (v *ConfigValidator) validateChains() error {
	names := make(map[string]int, len(v.config.Chains))
	for i, ch := range v.config.Chains {
		if prev, dup := names[ch.Name]; dup {
			return fmt.Errorf("chains[%d]: name %q already used by chains[%d]", i, ch.Name, prev)
		}
		names[ch.Name] = i

		seen := make(map[string]bool, len(ch.Keyring.Keys))
		for j, k := range ch.Keyring.Keys {
			if seen[k.Address] {
				return fmt.Errorf("chain %q: keyring.keys[%d] repeats address %s", ch.Name, j, k.Address)
			}
			seen[k.Address] = true
		}
	}
	return nil
}

// validateTokenScopes checks API tokens only name scopes the API understands.
func (v *ConfigValidator) validateTokenScopes() error {
	tokens := make(map[string]int, len(v.config.API.Auth.Tokens))
	for i, tok := range v.config.API.Auth.Tokens {
		if prev, dup := tokens[tok.Token]; dup && tok.Token != "" {
			return fmt.Errorf("api.auth.tokens[%d]: token duplicates api.auth.tokens[%d]", i, prev)
		}
		tokens[tok.Token] = i
		for _, s := range tok.Scopes {
			if !auth.KnownScope(s) {
				return fmt.Errorf("api.auth.tokens[%d]: unknown scope %q", i, s)
			}
		}
	}
	return nil
}
