package plugin

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	CapabilityFilter  = "filter"
	CapabilityProcess = "process"
)

// CapabilityList is the manifest form of Capabilities.
//
// Accepted formats:
//   - sequence: capabilities: [filter, process]
//   - mapping:  capabilities: {filter: true, process: false}
type CapabilityList []string

func (c *CapabilityList) UnmarshalYAML(n *yaml.Node) error {
	if n == nil {
		*c = nil
		return nil
	}

	var out []string
	switch n.Kind {
	case yaml.SequenceNode:
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("invalid capability entry (must be a string)")
			}
			out = append(out, strings.ToLower(strings.TrimSpace(item.Value)))
		}
	case yaml.MappingNode:
		var m map[string]bool
		if err := n.Decode(&m); err != nil {
			return fmt.Errorf("invalid capability map: %w", err)
		}
		for _, name := range []string{CapabilityFilter, CapabilityProcess} {
			if m[name] {
				out = append(out, name)
			}
		}
		for name := range m {
			if name != CapabilityFilter && name != CapabilityProcess {
				return fmt.Errorf("unknown capability %q", name)
			}
		}
	default:
		return fmt.Errorf("capabilities must be a sequence or mapping")
	}

	*c = out
	return nil
}

// Capabilities converts the list to its runtime form.
func (c CapabilityList) Capabilities() Capabilities {
	var out Capabilities
	for _, name := range c {
		switch name {
		case CapabilityFilter:
			out.Filter = true
		case CapabilityProcess:
			out.Process = true
		}
	}
	return out
}

// Manifest defines the structure of a plugin's manifest.yaml file.
type Manifest struct {
	Name         string         `yaml:"name"`
	Version      string         `yaml:"version"`
	Protocol     int            `yaml:"protocol"`
	Entrypoint   string         `yaml:"entrypoint"`
	Description  string         `yaml:"description,omitempty"`
	Capabilities CapabilityList `yaml:"capabilities"`
}

// Definition is a discovered and validated out-of-process plugin.
type Definition struct {
	Name         string // Plugin name from manifest
	Path         string // Absolute path to plugin directory
	Entrypoint   string // Absolute path to entrypoint executable
	Protocol     int
	Version      string
	Description  string
	Capabilities Capabilities
}
