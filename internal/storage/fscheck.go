package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// ErrNetworkFilesystem is returned when the state database would live on a
// network mount, where SQLite locking is unreliable.
var ErrNetworkFilesystem = errors.New("state database is on a network filesystem")

var networkFilesystems = map[string]struct{}{
	"9p":         {},
	"afpfs":      {},
	"cifs":       {},
	"fuse.sshfs": {},
	"nfs":        {},
	"nfs4":       {},
	"smb2":       {},
	"smb3":       {},
	"smbfs":      {},
	"sshfs":      {},
	"webdav":     {},
}

type detector func(path string) (string, error)

// ValidateLocalFilesystem rejects a database path on a network mount. When
// the mount table cannot be read the path is assumed local.
func ValidateLocalFilesystem(path string) error {
	return validateFilesystem(path, func(p string) (string, error) {
		fsType, err := detectFilesystemType(p)
		if err != nil {
			return "", nil
		}
		return fsType, nil
	})
}

// FilesystemType reports the filesystem type under path, looking at the
// nearest existing ancestor when path does not exist yet.
func FilesystemType(path string) (string, error) {
	existing, err := nearestExistingPath(path)
	if err != nil {
		return "", err
	}
	return detectFilesystemType(existing)
}

func validateFilesystem(path string, detect detector) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}
	existing, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}
	fsType, err := detect(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if isNetworkFilesystem(fsType) {
		return fmt.Errorf("%w: %q is on %q; script history needs local disk for reliable locking, point state.path elsewhere",
			ErrNetworkFilesystem, path, fsType)
	}
	return nil
}

func detectFilesystemType(path string) (string, error) {
	parts, err := disk.Partitions(true)
	if err != nil {
		return "", fmt.Errorf("read mount table: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	part, ok := mountFor(path, parts)
	if !ok {
		return "", fmt.Errorf("no mount found for %q", path)
	}
	return part.Fstype, nil
}

// mountFor picks the partition with the longest mountpoint containing path.
func mountFor(path string, parts []disk.PartitionStat) (disk.PartitionStat, bool) {
	var best disk.PartitionStat
	found := false
	for _, p := range parts {
		if !within(path, p.Mountpoint) {
			continue
		}
		if !found || len(p.Mountpoint) > len(best.Mountpoint) {
			best, found = p, true
		}
	}
	return best, found
}

func within(path, mountpoint string) bool {
	if mountpoint == "/" {
		return strings.HasPrefix(path, "/")
	}
	return path == mountpoint || strings.HasPrefix(path, mountpoint+string(filepath.Separator))
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.TrimSpace(strings.ToLower(fsType))]
	return found
}
