package config

import (
	"fmt"
	"path/filepath"
)

// IntegrityResult collects the outcome of checking config files against
// their .checksums manifests.
type IntegrityResult struct {
	Passed   bool
	Warnings []string
	Errors   []string
}

// VerifyIntegrity checks every file in the include tree rooted at configPath.
// Unlike Load it does not stop at the first problem, so `config check` can
// report them all. A directory without a manifest is only a warning.
func VerifyIntegrity(configPath string) (*IntegrityResult, error) {
	files, err := DiscoverAllConfigFiles(configPath)
	if err != nil {
		return nil, err
	}

	result := &IntegrityResult{Passed: true}
	manifests := make(map[string]*ChecksumManifest)
	missing := make(map[string]bool)

	for _, path := range files {
		dir := filepath.Dir(path)
		if missing[dir] {
			continue
		}
		manifest, ok := manifests[dir]
		if !ok {
			manifest, err = LoadChecksums(dir)
			if err != nil {
				missing[dir] = true
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("no .checksums manifest in %s; run 'relayd config lock' to enable integrity verification", dir))
				continue
			}
			manifests[dir] = manifest
		}

		expectedHash, inManifest := manifest.Hashes[filepath.Base(path)]
		if !inManifest {
			result.Passed = false
			result.Errors = append(result.Errors, fmt.Sprintf("file %s not in .checksums manifest", path))
			continue
		}
		if err := VerifyFileHash(path, expectedHash); err != nil {
			result.Passed = false
			result.Errors = append(result.Errors, err.Error())
		}
	}

	return result, nil
}
