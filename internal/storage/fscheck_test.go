package storage

import (
	"path/filepath"
	"strings"
	"testing"
)

func fixedProbe(fsType string) fsTypeProbe {
	return func(string) (string, error) { return fsType, nil }
}

func TestCheckLocalFilesystemAllowsLocalFS(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "relayd.db")
	for _, fs := range []string{"ext4", "apfs", "0xef53"} {
		if err := checkLocalFilesystem(dbPath, fixedProbe(fs)); err != nil {
			t.Fatalf("expected %s to pass, got: %v", fs, err)
		}
	}
}

func TestCheckLocalFilesystemRejectsRemoteFS(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "relayd.db")
	for _, fs := range []string{"smbfs", "9p", "nfs"} {
		err := checkLocalFilesystem(dbPath, fixedProbe(fs))
		if err == nil {
			t.Fatalf("expected %s to be rejected", fs)
		}
		for _, want := range []string{fs, "SQLite requires a local filesystem", "state.driver: memory"} {
			if !strings.Contains(err.Error(), want) {
				t.Fatalf("expected error to contain %q, got %q", want, err.Error())
			}
		}
	}
}

func TestCheckLocalFilesystemProbesClosestExistingDir(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dbPath := filepath.Join(root, "nested", "dir", "relayd.db")

	var probed string
	err := checkLocalFilesystem(dbPath, func(path string) (string, error) {
		probed = path
		return "ext4", nil
	})
	if err != nil {
		t.Fatalf("expected local filesystem to pass, got: %v", err)
	}
	if probed != root {
		t.Fatalf("expected probe of %q, got %q", root, probed)
	}
}

func TestCheckLocalFilesystemRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	if err := checkLocalFilesystem("", fixedProbe("ext4")); err == nil {
		t.Fatal("expected empty path to be rejected")
	}
}

func TestCheckLocalFilesystemSkipsUnsupportedProbe(t *testing.T) {
	t.Parallel()

	err := checkLocalFilesystem(filepath.Join(t.TempDir(), "relayd.db"), func(string) (string, error) {
		return "", errProbeUnsupported
	})
	if err != nil {
		t.Fatalf("unsupported probe should not block the queue, got: %v", err)
	}
}

func TestRemoteFilesystem(t *testing.T) {
	t.Parallel()

	cases := []struct {
		fs   string
		want bool
	}{
		{fs: "nfs", want: true},
		{fs: "SMBFS", want: true},
		{fs: " 9p ", want: true},
		{fs: "fuse.sshfs", want: true},
		{fs: "apfs", want: false},
		{fs: "0x6969", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.fs, func(t *testing.T) {
			t.Parallel()
			if got := remoteFilesystem(tc.fs); got != tc.want {
				t.Fatalf("remoteFilesystem(%q)=%v, want %v", tc.fs, got, tc.want)
			}
		})
	}
}
