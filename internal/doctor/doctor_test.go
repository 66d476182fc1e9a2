package doctor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/scriptsrunner/internal/config"
	"github.com/mattjoyce/scriptsrunner/internal/profile"
	"github.com/mattjoyce/scriptsrunner/internal/state"
)

func validSetup(t *testing.T) (*config.Config, state.Settings) {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "backup.sh"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := config.Defaults()
	cfg.State.Path = filepath.Join(t.TempDir(), "state.db")
	cfg.Runner.TerminalCommand = "xterm -e"

	settings := state.DefaultSettings()
	settings.Folders = []string{dir}
	return cfg, settings
}

// newDoctor stubs PATH lookups and filesystem detection so results do not
// depend on the host.
func newDoctor(cfg *config.Config, settings state.Settings, missing ...string) *Doctor {
	d := New(cfg, settings)
	d.lookPath = func(name string) (string, error) {
		for _, m := range missing {
			if m == name {
				return "", errors.New("executable file not found in $PATH")
			}
		}
		return "/usr/bin/" + filepath.Base(name), nil
	}
	d.fsType = func(string) (string, error) { return "ext4", nil }
	return d
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	cfg, settings := validSetup(t)
	r := newDoctor(cfg, settings).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
	if r.Scripts != 1 {
		t.Fatalf("Scripts = %d, want 1", r.Scripts)
	}
}

func TestValidate_MissingStatePath(t *testing.T) {
	t.Parallel()
	cfg, settings := validSetup(t)
	cfg.State.Path = ""
	r := newDoctor(cfg, settings).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "service", "state.path")
}

func TestValidate_InvalidSettings(t *testing.T) {
	t.Parallel()
	cfg, settings := validSetup(t)
	settings.MaxConcurrent = 0
	r := newDoctor(cfg, settings).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "settings", "max_concurrent")
}

func TestValidate_NoReadableFolder(t *testing.T) {
	t.Parallel()
	cfg, settings := validSetup(t)
	settings.Folders = []string{filepath.Join(t.TempDir(), "gone")}
	r := newDoctor(cfg, settings).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasWarning(t, r, "folders", "does not exist")
	assertHasError(t, r, "folders", "none of the configured folders")
}

func TestValidate_FolderIsFile(t *testing.T) {
	t.Parallel()
	cfg, settings := validSetup(t)
	file := filepath.Join(settings.Folders[0], "backup.sh")
	settings.Folders = append(settings.Folders, file)
	r := newDoctor(cfg, settings).Validate()
	assertHasError(t, r, "folders", "not a directory")
}

func TestValidate_EmptyFolderWarns(t *testing.T) {
	t.Parallel()
	cfg, settings := validSetup(t)
	settings.Folders = []string{t.TempDir()}
	r := newDoctor(cfg, settings).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "folders", "no .sh scripts")
}

func TestValidate_Profiles(t *testing.T) {
	t.Parallel()
	cfg, settings := validSetup(t)
	folder := settings.Folders[0]
	settings.Profiles = []profile.FolderProfile{
		{Path: folder, EnvFile: filepath.Join(folder, "missing.env")},
		{Path: folder},
		{Path: filepath.Join(t.TempDir(), "elsewhere")},
		{Path: filepath.Dir(folder), Env: map[string]string{"TOKEN": "${SCRIPTSRUNNER_UNSET_VAR}"}},
	}
	r := newDoctor(cfg, settings).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "profiles", "duplicates settings.profiles[0]")
	assertHasWarning(t, r, "profiles", "cannot be read")
	assertHasWarning(t, r, "profiles", "does not cover any configured folder")
	assertHasWarning(t, r, "env_vars", "SCRIPTSRUNNER_UNSET_VAR")

	for _, w := range r.Warnings {
		if w.Field == "settings.profiles[3].path" {
			t.Fatalf("parent-directory profile should cover the folder: %v", w)
		}
	}
}

func TestValidate_Runner(t *testing.T) {
	t.Parallel()
	cfg, settings := validSetup(t)
	cfg.Runner.NotifyCommand = "notify-send -u low"
	r := newDoctor(cfg, settings, "/bin/sh", "xterm", "notify-send").Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "runner", "shell")
	assertHasWarning(t, r, "runner", "terminal launches will fail")
	assertHasWarning(t, r, "runner", "notifications will fail")
}

func TestValidate_UnparseableTerminalCommand(t *testing.T) {
	t.Parallel()
	cfg, settings := validSetup(t)
	cfg.Runner.TerminalCommand = `xterm -e "unterminated`
	r := newDoctor(cfg, settings).Validate()
	assertHasError(t, r, "runner", "cannot parse")
}

func TestValidate_APIExposedWithoutKey(t *testing.T) {
	t.Parallel()
	cfg, settings := validSetup(t)
	cfg.API.Listen = "0.0.0.0:8765"
	r := newDoctor(cfg, settings).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "api", "without an api_key")

	cfg.API.Auth.APIKey = "secret"
	r = newDoctor(cfg, settings).Validate()
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings with api_key, got %v", r.Warnings)
	}
}

func TestValidate_APIBadListen(t *testing.T) {
	t.Parallel()
	cfg, settings := validSetup(t)
	cfg.API.Listen = "8765"
	r := newDoctor(cfg, settings).Validate()
	assertHasError(t, r, "api", "invalid listen address")
}

func TestValidate_StateOnTmpfsWarns(t *testing.T) {
	t.Parallel()
	cfg, settings := validSetup(t)
	d := newDoctor(cfg, settings)
	d.fsType = func(string) (string, error) { return "tmpfs", nil }
	r := d.Validate()
	assertHasWarning(t, r, "state", "tmpfs")
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	out := FormatHuman(&Result{Valid: true, Scripts: 3})
	if !strings.Contains(out, "valid") || !strings.Contains(out, "3 script(s)") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "broken") {
		t.Fatalf("expected error in output, got: %s", out)
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	out, err := FormatJSON(&Result{Valid: true, Warnings: []Issue{{Category: "api", Message: "m"}}})
	if err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}
	if !strings.Contains(out, `"valid": true`) || !strings.Contains(out, `"category": "api"`) {
		t.Fatalf("unexpected json: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
