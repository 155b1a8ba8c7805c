package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// GetPath retrieves a value from the configuration using a dot-notation path.
// Paths of the form type:name address a plugin or chain entry directly.
func (c *Config) GetPath(path string) (any, error) {
	if strings.Contains(path, ":") {
		entity, rest, _ := strings.Cut(path, ".")
		v, err := c.GetEntity(entity)
		if err != nil || rest == "" {
			return v, err
		}
		m, err := toMap(v)
		if err != nil {
			return nil, err
		}
		return getValue(m, rest)
	}

	m, err := toMap(c)
	if err != nil {
		return nil, err
	}
	return getValue(m, path)
}

// GetEntity retrieves a first-class entity by type:name. A name of * returns
// every entity of that type.
func (c *Config) GetEntity(address string) (any, error) {
	entityType, name, ok := strings.Cut(address, ":")
	if !ok || name == "" {
		return nil, fmt.Errorf("invalid entity address format %q (expected type:name)", address)
	}

	switch entityType {
	case "plugin":
		if name == "*" {
			return c.Plugins, nil
		}
		p, ok := c.Plugins[name]
		if !ok {
			return nil, fmt.Errorf("plugin %q not found", name)
		}
		return p, nil

	case "chain":
		if name == "*" {
			return c.Chains, nil
		}
		for _, ch := range c.Chains {
			if ch.Name == name {
				return ch, nil
			}
		}
		return nil, fmt.Errorf("chain %q not found", name)

	case "webhook":
		if c.Webhooks == nil {
			return nil, fmt.Errorf("webhook %q not found", name)
		}
		if name == "*" {
			return c.Webhooks.Endpoints, nil
		}
		for _, ep := range c.Webhooks.Endpoints {
			if ep.Path == name || strings.TrimPrefix(ep.Path, "/") == name {
				return ep, nil
			}
		}
		return nil, fmt.Errorf("webhook %q not found", name)

	default:
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}
}

// toMap round-trips v through YAML so lookups use the config's own key names.
func toMap(v any) (map[string]any, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

func getValue(m map[string]any, path string) (any, error) {
	var current any = m

	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}

		val, exists := m[part]
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}

	return current, nil
}
