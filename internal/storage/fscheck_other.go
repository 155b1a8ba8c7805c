//go:build !darwin && !linux

package storage

// probeFilesystem has no statfs on this platform; the remote check is skipped.
func probeFilesystem(string) (string, error) {
	return "", errProbeUnsupported
}
