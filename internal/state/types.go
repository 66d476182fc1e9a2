package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/scriptsrunner/internal/profile"
)

type Mode string

const (
	ModeBackground Mode = "background"
	ModeTerminal   Mode = "terminal"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeBackground || m == ModeTerminal
}

var (
	ErrInvalidSettings = errors.New("invalid settings")
	ErrRecordNotFound  = errors.New("script record not found")
	ErrInvalidMeta     = errors.New("invalid script metadata")
)

// ExecutionEntry is one completed background run, or one terminal launch.
// ExitCode is nil only for terminal launches, whose outcome is never observed.
type ExecutionEntry struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	ExitCode   *int      `json:"exit_code"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	TimedOut   bool      `json:"timed_out"`
	Canceled   bool      `json:"canceled,omitempty"`
	Args       string    `json:"args"`
	Mode       Mode      `json:"mode"`
	ScriptHash string    `json:"script_hash,omitempty"`
}

// Success mirrors the supervisor's rule: exit code 0 and not timed out.
func (e ExecutionEntry) Success() bool {
	return e.ExitCode != nil && *e.ExitCode == 0 && !e.TimedOut
}

// LastExecution mirrors History[0].
type LastExecution struct {
	At         time.Time `json:"at"`
	DurationMs int64     `json:"duration_ms"`
	ExitCode   *int      `json:"exit_code"`
	TimedOut   bool      `json:"timed_out"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
}

// ScriptRecord is the durable per-script metadata and history, keyed by
// absolute path. Last is recomputed from History by the store on every load
// and every mutation; values written to it directly are discarded.
type ScriptRecord struct {
	Path           string            `json:"path"`
	Favorite       bool              `json:"favorite"`
	Icon           string            `json:"icon,omitempty"`
	RunCount       int               `json:"run_count"`
	Args           string            `json:"args"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Tags           []string          `json:"tags,omitempty"`
	EnvVars        map[string]string `json:"env_vars,omitempty"`
	History        []ExecutionEntry  `json:"history"`
	Last           *LastExecution    `json:"last,omitempty"`
}

// Overrides returns the script-level values used by profile.Effective.
func (r ScriptRecord) Overrides() profile.Overrides {
	return profile.Overrides{
		Args:           r.Args,
		Env:            r.EnvVars,
		Tags:           r.Tags,
		TimeoutSeconds: r.TimeoutSeconds,
	}
}

func (r *ScriptRecord) syncLast() {
	if r.History == nil {
		r.History = []ExecutionEntry{}
	}
	if len(r.History) == 0 {
		r.Last = nil
		return
	}
	head := r.History[0]
	r.Last = &LastExecution{
		At:         head.StartedAt,
		DurationMs: head.DurationMs,
		ExitCode:   head.ExitCode,
		TimedOut:   head.TimedOut,
		Stdout:     head.Stdout,
		Stderr:     head.Stderr,
	}
}

// prepend adds entry as the newest history item and trims to limit (0 = unlimited).
func (r *ScriptRecord) prepend(entry ExecutionEntry, limit int) {
	history := make([]ExecutionEntry, 0, len(r.History)+1)
	history = append(history, entry)
	history = append(history, r.History...)
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	r.History = history
	r.RunCount++
	r.syncLast()
}

// MetaPatch updates user-editable script fields. Nil fields are left alone.
type MetaPatch struct {
	Favorite       *bool              `json:"favorite,omitempty"`
	Icon           *string            `json:"icon,omitempty"`
	Args           *string            `json:"args,omitempty"`
	TimeoutSeconds *int               `json:"timeout_seconds,omitempty"`
	Tags           *[]string          `json:"tags,omitempty"`
	EnvVars        *map[string]string `json:"env_vars,omitempty"`
}

func (p MetaPatch) apply(r *ScriptRecord) error {
	if p.TimeoutSeconds != nil && *p.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: timeout_seconds must be >= 0 (got %d)", ErrInvalidMeta, *p.TimeoutSeconds)
	}
	if p.Favorite != nil {
		r.Favorite = *p.Favorite
	}
	if p.Icon != nil {
		r.Icon = *p.Icon
	}
	if p.Args != nil {
		r.Args = *p.Args
	}
	if p.TimeoutSeconds != nil {
		r.TimeoutSeconds = *p.TimeoutSeconds
	}
	if p.Tags != nil {
		r.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.EnvVars != nil {
		env := make(map[string]string, len(*p.EnvVars))
		for k, v := range *p.EnvVars {
			env[k] = v
		}
		r.EnvVars = env
	}
	return nil
}

// Settings are the user-tunable orchestrator settings.
type Settings struct {
	MaxConcurrent         int                     `yaml:"max_concurrent" json:"max_concurrent"`
	DefaultTimeoutSeconds int                     `yaml:"default_timeout_seconds" json:"default_timeout_seconds"`
	HistoryLimit          int                     `yaml:"history_limit" json:"history_limit"`
	Folders               []string                `yaml:"folders" json:"folders"`
	Profiles              []profile.FolderProfile `yaml:"profiles,omitempty" json:"profiles,omitempty"`
}

// DefaultSettings returns the settings used before anything is configured.
func DefaultSettings() Settings {
	return Settings{
		MaxConcurrent:         3,
		DefaultTimeoutSeconds: 0,
		HistoryLimit:          20,
		Folders:               []string{"~/scripts"},
	}
}

// Validate checks the ranges documented for each field.
func (s Settings) Validate() error {
	if s.MaxConcurrent < 1 {
		return fmt.Errorf("%w: max_concurrent must be >= 1 (got %d)", ErrInvalidSettings, s.MaxConcurrent)
	}
	if s.DefaultTimeoutSeconds < 0 {
		return fmt.Errorf("%w: default_timeout_seconds must be >= 0 (got %d)", ErrInvalidSettings, s.DefaultTimeoutSeconds)
	}
	if s.HistoryLimit < 0 {
		return fmt.Errorf("%w: history_limit must be >= 0 (got %d)", ErrInvalidSettings, s.HistoryLimit)
	}
	for i, p := range s.Profiles {
		if p.Path == "" {
			return fmt.Errorf("%w: profiles[%d].path is required", ErrInvalidSettings, i)
		}
		if p.TimeoutSeconds < 0 {
			return fmt.Errorf("%w: profiles[%d].timeout_seconds must be >= 0", ErrInvalidSettings, i)
		}
	}
	return nil
}

// SettingsPatch is a partial settings update. Nil fields are left alone.
type SettingsPatch struct {
	MaxConcurrent         *int                     `json:"max_concurrent,omitempty"`
	DefaultTimeoutSeconds *int                     `json:"default_timeout_seconds,omitempty"`
	HistoryLimit          *int                     `json:"history_limit,omitempty"`
	Folders               *[]string                `json:"folders,omitempty"`
	Profiles              *[]profile.FolderProfile `json:"profiles,omitempty"`
}

// Apply returns s with the patch merged in; s itself is not modified.
func (s Settings) Apply(p SettingsPatch) Settings {
	out := s
	out.Folders = append([]string(nil), s.Folders...)
	out.Profiles = append([]profile.FolderProfile(nil), s.Profiles...)

	if p.MaxConcurrent != nil {
		out.MaxConcurrent = *p.MaxConcurrent
	}
	if p.DefaultTimeoutSeconds != nil {
		out.DefaultTimeoutSeconds = *p.DefaultTimeoutSeconds
	}
	if p.HistoryLimit != nil {
		out.HistoryLimit = *p.HistoryLimit
	}
	if p.Folders != nil {
		out.Folders = append([]string(nil), (*p.Folders)...)
	}
	if p.Profiles != nil {
		out.Profiles = append([]profile.FolderProfile(nil), (*p.Profiles)...)
	}
	return out
}
