package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// errProbeUnsupported means the platform cannot name filesystems.
var errProbeUnsupported = errors.New("filesystem detection is unsupported on this platform")

// fsTypeProbe names the filesystem holding path.
type fsTypeProbe func(path string) (string, error)

// remoteFilesystems break SQLite's POSIX locking, which the CAS on
// revision depends on.
var remoteFilesystems = map[string]struct{}{
	"9p":         {},
	"afpfs":      {},
	"ceph":       {},
	"cifs":       {},
	"fuse.sshfs": {},
	"glusterfs":  {},
	"lustre":     {},
	"nfs":        {},
	"smb2":       {},
	"smbfs":      {},
	"webdav":     {},
}

func checkQueueFilesystem(path string) error {
	return checkLocalFilesystem(path, probeFilesystem)
}

func checkLocalFilesystem(path string, probe fsTypeProbe) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	existing, err := closestExisting(path)
	if err != nil {
		return fmt.Errorf("resolve queue path %q: %w", path, err)
	}

	fsType, err := probe(existing)
	if errors.Is(err, errProbeUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}

	if remoteFilesystem(fsType) {
		return fmt.Errorf(
			"queue path %q is on remote filesystem %q; SQLite requires a local filesystem for reliable locking. Set state.path to a local file or use state.driver: memory",
			path,
			fsType,
		)
	}
	return nil
}

// closestExisting walks up from path to the first component that exists,
// so a queue file that has not been created yet is checked by its directory.
func closestExisting(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	for candidate := abs; ; {
		_, err := os.Stat(candidate)
		switch {
		case err == nil:
			return candidate, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
		candidate = parent
	}
}

func remoteFilesystem(fsType string) bool {
	_, ok := remoteFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
	return ok
}
