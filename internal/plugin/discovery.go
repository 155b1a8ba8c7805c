package plugin

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/protocol"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/tag"
)

const manifestFilename = "manifest.yaml"

// Discover scans a single pluginsDir for plugins with manifest.yaml and validates them.
func Discover(pluginsDir string, logger func(level, msg string, args ...any)) ([]*Definition, error) {
	return DiscoverMany([]string{pluginsDir}, logger)
}

// DiscoverMany scans plugin roots for manifest.yaml files and validates plugins.
// Roots are processed in input order and each root is walked lexically, which
// fixes registration order. Duplicate names keep the first discovered plugin.
// Invalid plugins are logged but not fatal.
func DiscoverMany(pluginRoots []string, logger func(level, msg string, args ...any)) ([]*Definition, error) {
	if logger == nil {
		logger = func(level, msg string, args ...any) {}
	}

	absRoots, err := resolveRoots(pluginRoots)
	if err != nil {
		return nil, err
	}

	var (
		defs []*Definition
		seen = make(map[string]*Definition)
	)
	for _, root := range absRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || d.Name() != manifestFilename {
				return nil
			}

			pluginPath := filepath.Dir(path)
			def, err := loadDefinition(pluginPath, absRoots)
			if err != nil {
				logger("warn", "failed to load plugin", "root", root, "path", pluginPath, "error", err.Error())
				return nil
			}

			if existing, ok := seen[def.Name]; ok {
				logger(
					"warn",
					"duplicate plugin ignored (keeping first discovered)",
					"plugin", def.Name,
					"ignored_path", def.Path,
					"kept_path", existing.Path,
				)
				return nil
			}
			seen[def.Name] = def
			defs = append(defs, def)

			logger("info", "discovered plugin", "plugin", def.Name, "path", def.Path, "version", def.Version,
				"filter", def.Capabilities.Filter, "process", def.Capabilities.Process)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan plugin root %s: %w", root, err)
		}
	}

	return defs, nil
}

func resolveRoots(pluginRoots []string) ([]string, error) {
	absRoots := make([]string, 0, len(pluginRoots))
	seenRoots := make(map[string]struct{}, len(pluginRoots))
	for _, root := range pluginRoots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve plugin root %q: %w", root, err)
		}
		info, err := os.Stat(absRoot)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("plugin root does not exist: %s", absRoot)
			}
			return nil, fmt.Errorf("failed to stat plugin root %s: %w", absRoot, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("plugin root is not a directory: %s", absRoot)
		}
		if _, ok := seenRoots[absRoot]; ok {
			continue
		}
		seenRoots[absRoot] = struct{}{}
		absRoots = append(absRoots, absRoot)
	}
	if len(absRoots) == 0 {
		return nil, fmt.Errorf("at least one plugin root is required")
	}
	return absRoots, nil
}

// loadDefinition reads and validates a single plugin directory.
func loadDefinition(pluginPath string, roots []string) (*Definition, error) {
	data, err := os.ReadFile(filepath.Join(pluginPath, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if err := validateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	entrypointPath := filepath.Join(pluginPath, manifest.Entrypoint)
	if err := validateTrustInRoots(entrypointPath, pluginPath, roots); err != nil {
		return nil, fmt.Errorf("trust validation failed: %w", err)
	}

	return &Definition{
		Name:         manifest.Name,
		Path:         pluginPath,
		Entrypoint:   entrypointPath,
		Protocol:     manifest.Protocol,
		Version:      manifest.Version,
		Description:  manifest.Description,
		Capabilities: manifest.Capabilities.Capabilities(),
	}, nil
}

// validateManifest checks required manifest fields.
func validateManifest(m *Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if err := tag.ValidatePluginName(m.Name); err != nil {
		return err
	}

	if m.Protocol == 0 {
		return fmt.Errorf("protocol version is required")
	}
	if m.Protocol != protocol.Version {
		return fmt.Errorf("unsupported protocol version %d (supported: %d)", m.Protocol, protocol.Version)
	}

	if m.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}
	if strings.Contains(m.Entrypoint, "..") {
		return fmt.Errorf("entrypoint contains path traversal: %s", m.Entrypoint)
	}

	if len(m.Capabilities) == 0 {
		return fmt.Errorf("at least one capability must be declared")
	}
	for _, c := range m.Capabilities {
		if c != CapabilityFilter && c != CapabilityProcess {
			return fmt.Errorf("invalid capability %q (valid: filter, process)", c)
		}
	}

	return nil
}

func validateTrustInRoots(entrypointPath, pluginPath string, pluginRoots []string) error {
	if len(pluginRoots) == 0 {
		return fmt.Errorf("no plugin roots configured")
	}

	resolvedEntrypoint, err := filepath.EvalSymlinks(entrypointPath)
	if err != nil {
		return fmt.Errorf("failed to resolve entrypoint symlink: %w", err)
	}
	resolvedPluginPath, err := filepath.EvalSymlinks(pluginPath)
	if err != nil {
		return fmt.Errorf("failed to resolve plugin path symlink: %w", err)
	}

	inApprovedRoot := false
	for _, root := range pluginRoots {
		resolvedRoot, err := filepath.EvalSymlinks(root)
		if err != nil {
			return fmt.Errorf("failed to resolve plugin root symlink %s: %w", root, err)
		}
		if strings.HasPrefix(resolvedEntrypoint, resolvedRoot+string(os.PathSeparator)) {
			inApprovedRoot = true
			break
		}
	}
	if !inApprovedRoot {
		return fmt.Errorf("entrypoint %s is not under any configured plugin root", resolvedEntrypoint)
	}

	if !strings.HasPrefix(resolvedEntrypoint, resolvedPluginPath+string(os.PathSeparator)) {
		return fmt.Errorf("entrypoint %s is not under plugin directory %s", resolvedEntrypoint, resolvedPluginPath)
	}

	info, err := os.Stat(resolvedEntrypoint)
	if err != nil {
		return fmt.Errorf("entrypoint not found: %w", err)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("entrypoint is not executable: %s", resolvedEntrypoint)
	}

	pluginInfo, err := os.Stat(resolvedPluginPath)
	if err != nil {
		return fmt.Errorf("plugin directory not found: %w", err)
	}
	if pluginInfo.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("plugin directory is world-writable: %s", resolvedPluginPath)
	}

	return nil
}
