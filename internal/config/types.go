package config

import (
	"time"

	"github.com/mattjoyce/scriptsrunner/internal/state"
)

// Config represents the complete scriptsrunner configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	State   StateConfig   `yaml:"state"`
	API     APIConfig     `yaml:"api,omitempty"`
	Runner  RunnerConfig  `yaml:"runner"`

	// Settings seed the durable settings on first start. After that the
	// stored copy wins and edits go through the state store.
	Settings state.Settings `yaml:"settings"`

	// SourcePath is the file the config was loaded from; empty for defaults.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name          string `yaml:"name"`
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	LogFile       string `yaml:"log_file,omitempty"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb,omitempty"`
	LogMaxBackups int    `yaml:"log_max_backups,omitempty"`
	LogMaxAgeDays int    `yaml:"log_max_age_days,omitempty"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
// An empty APIKey disables authentication (loopback use only).
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// RunnerConfig controls how scripts are spawned.
type RunnerConfig struct {
	Shell string `yaml:"shell"`
	// TerminalCommand opens a terminal window running the launcher script
	// passed as its final argument, e.g. "x-terminal-emulator -e".
	TerminalCommand string `yaml:"terminal_command"`
	// MaxOutputBytes caps captured stdout and stderr, each.
	MaxOutputBytes int `yaml:"max_output_bytes"`
	// KillGrace is how long a SIGTERM'd process tree gets before SIGKILL.
	// Zero kills immediately.
	KillGrace time.Duration `yaml:"kill_grace"`
	// NotifyCommand, when set, is run with a title and body after each
	// background run finishes, e.g. "notify-send".
	NotifyCommand string `yaml:"notify_command,omitempty"`
}

// Defaults returns a Config with the built-in defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:          "scriptsrunner",
			LogLevel:      "info",
			LogFormat:     "json",
			LogMaxSizeMB:  10,
			LogMaxBackups: 3,
			LogMaxAgeDays: 28,
		},
		State: StateConfig{
			Path: "~/.local/share/scriptsrunner/state.db",
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8765",
		},
		Runner: RunnerConfig{
			Shell:           "/bin/sh",
			TerminalCommand: "x-terminal-emulator -e",
			MaxOutputBytes:  256 * 1024,
		},
		Settings: state.DefaultSettings(),
	}
}
