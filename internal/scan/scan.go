// Package scan lists eligible scripts in the configured folders and bridges
// filesystem change notifications to a rescan callback.
package scan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattjoyce/scriptsrunner/internal/log"
	"github.com/mattjoyce/scriptsrunner/internal/profile"
)

// ScriptExt is the file suffix that marks a script.
const ScriptExt = ".sh"

// ErrNoReadableFolder is returned when folders were configured but none of
// them could be read.
var ErrNoReadableFolder = errors.New("no configured folder is readable")

// IsEligible reports whether a directory entry name looks like a script.
func IsEligible(name string) bool {
	return !strings.HasPrefix(name, ".") &&
		strings.HasSuffix(name, ScriptExt) &&
		len(name) > len(ScriptExt)
}

// Scan returns the sorted, de-duplicated absolute paths of eligible scripts
// directly inside each folder. Missing or unreadable folders are skipped.
func Scan(folders []string) ([]string, error) {
	logger := log.WithComponent("scan")

	seen := make(map[string]struct{})
	readable := 0
	for _, folder := range folders {
		dir, err := profile.ExpandPath(folder)
		if err != nil {
			logger.Warn("skipping folder", "folder", folder, "error", err)
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				logger.Warn("cannot read folder", "folder", dir, "error", err)
			}
			continue
		}
		readable++

		for _, e := range entries {
			if !IsEligible(e.Name()) {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if !isRegularFile(e, path) {
				continue
			}
			seen[path] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)

	if len(folders) > 0 && readable == 0 {
		return out, fmt.Errorf("%w (checked %d)", ErrNoReadableFolder, len(folders))
	}
	return out, nil
}

// isRegularFile follows symlinks so linked scripts are listed too.
func isRegularFile(e os.DirEntry, path string) bool {
	if e.Type().IsRegular() {
		return true
	}
	if e.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
