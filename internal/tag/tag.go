// Package tag implements the plugin claim namespace.
//
// A tag is rendered "<pluginName>@<localKey>". It is both a claim on one queued
// operation and the address used to route processOps back to the plugin that
// created it. Only the documented split on the first '@' is interpreted.
package tag

import (
	"errors"
	"fmt"
	"strings"
)

const separator = "@"

var (
	// ErrInvalid is returned for malformed tags and plugin names.
	ErrInvalid = errors.New("invalid tag")
	// ErrConflict is returned when a claim collides with an existing binding.
	ErrConflict = errors.New("tag conflict")
)

// Tag is a namespaced claim key.
type Tag struct {
	Plugin string
	Key    string
}

// ValidatePluginName checks a plugin name can be used as a tag namespace.
func ValidatePluginName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: plugin name is empty", ErrInvalid)
	}
	if strings.Contains(name, separator) {
		return fmt.Errorf("%w: plugin name %q contains %q", ErrInvalid, name, separator)
	}
	return nil
}

// New builds a tag for plugin with a plugin-local key.
func New(plugin, key string) (Tag, error) {
	if err := ValidatePluginName(plugin); err != nil {
		return Tag{}, err
	}
	if key == "" {
		return Tag{}, fmt.Errorf("%w: key is empty", ErrInvalid)
	}
	return Tag{Plugin: plugin, Key: key}, nil
}

// Parse splits s on its first '@'.
func Parse(s string) (Tag, error) {
	plugin, key, ok := strings.Cut(s, separator)
	if !ok {
		return Tag{}, fmt.Errorf("%w: %q has no %q", ErrInvalid, s, separator)
	}
	return New(plugin, key)
}

func (t Tag) String() string {
	return t.Plugin + separator + t.Key
}

func (t Tag) IsZero() bool {
	return t.Plugin == "" && t.Key == ""
}
