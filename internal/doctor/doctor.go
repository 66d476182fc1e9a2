// Package doctor validates scriptsrunner configuration and the host setup it
// depends on: script folders, folder profiles, the shell and terminal
// commands, and the state database location.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/mattjoyce/scriptsrunner/internal/config"
	"github.com/mattjoyce/scriptsrunner/internal/profile"
	"github.com/mattjoyce/scriptsrunner/internal/scan"
	"github.com/mattjoyce/scriptsrunner/internal/state"
	"github.com/mattjoyce/scriptsrunner/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Scripts  int     `json:"scripts"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded config together with the effective settings.
type Doctor struct {
	cfg      *config.Config
	settings state.Settings

	lookPath func(string) (string, error)
	fsType   func(string) (string, error)
}

// New creates a Doctor. settings are the effective settings, which may be
// the stored copy rather than cfg.Settings.
func New(cfg *config.Config, settings state.Settings) *Doctor {
	return &Doctor{
		cfg:      cfg,
		settings: settings,
		lookPath: exec.LookPath,
		fsType:   storage.FilesystemType,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateService(r)
	d.validateSettings(r)
	d.validateFolders(r)
	d.validateProfiles(r)
	d.validateRunner(r)
	d.validateAPI(r)
	d.validateStateLocation(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateService(r *Result) {
	if d.cfg.State.Path == "" {
		d.addError(r, "service", "state.path", "state.path is required")
	}
	switch strings.ToLower(d.cfg.Service.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		d.addWarning(r, "service", "service.log_level",
			fmt.Sprintf("unknown log level %q, INFO will be used", d.cfg.Service.LogLevel))
	}
}

func (d *Doctor) validateSettings(r *Result) {
	if err := d.settings.Validate(); err != nil {
		d.addError(r, "settings", "settings", err.Error())
	}
}

// validateFolders checks every folder can be listed and counts the scripts
// they hold.
func (d *Doctor) validateFolders(r *Result) {
	if len(d.settings.Folders) == 0 {
		d.addWarning(r, "folders", "settings.folders", "no script folders configured")
		return
	}

	readable := 0
	for i, folder := range d.settings.Folders {
		field := fmt.Sprintf("settings.folders[%d]", i)
		dir, err := profile.ExpandPath(folder)
		if err != nil {
			d.addError(r, "folders", field, err.Error())
			continue
		}
		info, err := os.Stat(dir)
		switch {
		case os.IsNotExist(err):
			d.addWarning(r, "folders", field, fmt.Sprintf("folder %s does not exist", dir))
			continue
		case err != nil:
			d.addWarning(r, "folders", field, fmt.Sprintf("cannot stat %s: %v", dir, err))
			continue
		case !info.IsDir():
			d.addError(r, "folders", field, fmt.Sprintf("%s is not a directory", dir))
			continue
		}
		if _, err := os.ReadDir(dir); err != nil {
			d.addWarning(r, "folders", field, fmt.Sprintf("folder %s is not readable: %v", dir, err))
			continue
		}
		readable++
	}

	if readable == 0 {
		d.addError(r, "folders", "settings.folders", "none of the configured folders can be read")
		return
	}

	scripts, _ := scan.Scan(d.settings.Folders)
	r.Scripts = len(scripts)
	if len(scripts) == 0 {
		d.addWarning(r, "folders", "settings.folders",
			fmt.Sprintf("no %s scripts found in the configured folders", scan.ScriptExt))
	}
}

// validateProfiles flags duplicate profiles, profiles outside every folder
// and env files that cannot be read.
func (d *Doctor) validateProfiles(r *Result) {
	var folders []string
	for _, f := range d.settings.Folders {
		if dir, err := profile.ExpandPath(f); err == nil {
			folders = append(folders, dir)
		}
	}

	seen := make(map[string]int)
	for i, p := range d.settings.Profiles {
		field := fmt.Sprintf("settings.profiles[%d]", i)
		dir, err := profile.ExpandPath(p.Path)
		if err != nil {
			d.addError(r, "profiles", field+".path", err.Error())
			continue
		}
		if prev, dup := seen[dir]; dup {
			d.addError(r, "profiles", field+".path",
				fmt.Sprintf("profile for %s duplicates settings.profiles[%d]", dir, prev))
		}
		seen[dir] = i

		if !coversAny(dir, folders) {
			d.addWarning(r, "profiles", field+".path",
				fmt.Sprintf("profile %s does not cover any configured folder", dir))
		}

		if p.EnvFile != "" {
			envFile, err := profile.ExpandPath(p.EnvFile)
			if err == nil {
				_, err = os.Stat(envFile)
			}
			if err != nil {
				d.addWarning(r, "profiles", field+".env_file",
					fmt.Sprintf("env file %s cannot be read; it will be ignored", p.EnvFile))
			}
		}
	}
}

// coversAny reports whether a profile at dir applies to any script directly
// inside one of folders.
func coversAny(dir string, folders []string) bool {
	probe := make([]profile.FolderProfile, 1)
	probe[0].Path = dir
	for _, f := range folders {
		if _, ok := profile.Resolve(f+string(os.PathSeparator)+"x"+scan.ScriptExt, probe); ok {
			return true
		}
	}
	return false
}

func (d *Doctor) validateRunner(r *Result) {
	if _, err := d.lookPath(d.cfg.Runner.Shell); err != nil {
		d.addError(r, "runner", "runner.shell",
			fmt.Sprintf("shell %q not found: %v", d.cfg.Runner.Shell, err))
	}

	d.checkCommand(r, "runner.terminal_command", d.cfg.Runner.TerminalCommand,
		"terminal launches will fail")
	if d.cfg.Runner.NotifyCommand != "" {
		d.checkCommand(r, "runner.notify_command", d.cfg.Runner.NotifyCommand,
			"desktop notifications will fail")
	}
}

func (d *Doctor) checkCommand(r *Result, field, command, consequence string) {
	if strings.TrimSpace(command) == "" {
		d.addWarning(r, "runner", field, "not configured; "+consequence)
		return
	}
	argv, err := shellquote.Split(command)
	if err != nil {
		d.addError(r, "runner", field, fmt.Sprintf("cannot parse %q: %v", command, err))
		return
	}
	if _, err := d.lookPath(argv[0]); err != nil {
		d.addWarning(r, "runner", field,
			fmt.Sprintf("%q not found on PATH; %s", argv[0], consequence))
	}
}

func (d *Doctor) validateAPI(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if d.cfg.API.Auth.APIKey == "" && !isLoopback(host) {
		d.addWarning(r, "api", "api.auth.api_key",
			fmt.Sprintf("API listens on %s without an api_key; anyone who can reach it can run scripts", d.cfg.API.Listen))
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (d *Doctor) validateStateLocation(r *Result) {
	if d.cfg.State.Path == "" {
		return
	}
	if err := storage.ValidateLocalFilesystem(d.cfg.State.Path); err != nil {
		d.addError(r, "state", "state.path", err.Error())
		return
	}
	if fs, err := d.fsType(d.cfg.State.Path); err == nil && fs == "tmpfs" {
		d.addWarning(r, "state", "state.path",
			fmt.Sprintf("%s is on tmpfs; history will not survive a reboot", d.cfg.State.Path))
	}
}

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// warnMissingEnvVars warns about ${VAR} references left in profile env values.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	for i, p := range d.settings.Profiles {
		for k, v := range p.Env {
			for _, m := range envVarRe.FindAllStringSubmatch(v, -1) {
				d.addWarning(r, "env_vars", fmt.Sprintf("settings.profiles[%d].env.%s", i, k),
					fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		fmt.Fprintf(&b, "Configuration valid (%d script(s) found).\n", r.Scripts)
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		fmt.Fprintf(&b, "Configuration valid (%d script(s) found, %d warning(s))\n", r.Scripts, len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
