// Package profile resolves per-folder defaults (arguments, environment,
// timeout) for a script and combines them with script-level overrides.
package profile

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// FolderProfile holds defaults applied to every script under Path.
type FolderProfile struct {
	Path           string            `yaml:"path" json:"path"`
	DefaultArgs    string            `yaml:"default_args,omitempty" json:"default_args,omitempty"`
	Env            map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	EnvFile        string            `yaml:"env_file,omitempty" json:"env_file,omitempty"`
	Tags           []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	TimeoutSeconds int               `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Overrides are the script-level values that take precedence over a profile.
type Overrides struct {
	Args           string
	Env            map[string]string
	Tags           []string
	TimeoutSeconds int
}

// Params are the values actually used for one run.
type Params struct {
	Args    string
	Env     map[string]string
	Tags    []string
	Timeout time.Duration
}

// ExpandPath resolves "~" and "~/..." against the user's home directory and
// returns a cleaned absolute path. Other inputs are made absolute as-is.
func ExpandPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("path is empty")
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("absolute path for %q: %w", p, err)
	}
	return abs, nil
}

// Resolve returns the profile whose expanded path is the nearest ancestor
// directory of scriptPath. Matching is done on whole path segments, so a
// profile for /a/scripts never claims /a/scripts2/x.sh.
func Resolve(scriptPath string, profiles []FolderProfile) (*FolderProfile, bool) {
	script := filepath.Clean(scriptPath)

	var (
		best    *FolderProfile
		bestLen = -1
	)
	for i := range profiles {
		dir, err := ExpandPath(profiles[i].Path)
		if err != nil {
			continue
		}
		if !withinDir(script, dir) {
			continue
		}
		if len(dir) > bestLen {
			best = &profiles[i]
			bestLen = len(dir)
		}
	}
	return best, best != nil
}

func withinDir(path, dir string) bool {
	if dir == string(filepath.Separator) {
		return strings.HasPrefix(path, dir)
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

// Effective computes run parameters with the precedence
// script override > folder profile > global default.
//
// Environment layering, lowest first: profile env file, profile env, script env.
// A profile env file that cannot be read is ignored; the returned error
// reports it so callers can log it.
func Effective(o Overrides, p *FolderProfile, defaultTimeoutSeconds int) (Params, error) {
	out := Params{Env: map[string]string{}}
	var envFileErr error

	if p != nil {
		if p.EnvFile != "" {
			vars, err := loadEnvFile(p.EnvFile)
			if err != nil {
				envFileErr = err
			} else {
				maps.Copy(out.Env, vars)
			}
		}
		maps.Copy(out.Env, p.Env)
	}
	maps.Copy(out.Env, o.Env)

	switch {
	case o.Args != "":
		out.Args = o.Args
	case p != nil:
		out.Args = p.DefaultArgs
	}

	seconds := defaultTimeoutSeconds
	switch {
	case o.TimeoutSeconds > 0:
		seconds = o.TimeoutSeconds
	case p != nil && p.TimeoutSeconds > 0:
		seconds = p.TimeoutSeconds
	}
	if seconds > 0 {
		out.Timeout = time.Duration(seconds) * time.Second
	}

	var profileTags []string
	if p != nil {
		profileTags = p.Tags
	}
	out.Tags = unionTags(profileTags, o.Tags)

	return out, envFileErr
}

func loadEnvFile(path string) (map[string]string, error) {
	abs, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}
	vars, err := godotenv.Read(abs)
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", abs, err)
	}
	return vars, nil
}

func unionTags(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, tag := range append(append([]string{}, a...), b...) {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		seen[tag] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
