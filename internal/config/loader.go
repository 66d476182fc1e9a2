package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/scriptsrunner/internal/profile"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ErrNoConfig is returned by DiscoverConfigPath when no config file exists.
var ErrNoConfig = errors.New("no config found")

// Load reads and parses configuration from a file (or a directory holding
// config.yaml), applies defaults and validates the result.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// Decode over the defaults so omitted keys keep their default values and
	// explicit zeros (history_limit: 0) survive.
	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.SourcePath = absPath

	cfg = applyConfigDefaults(cfg)
	if err := resolvePaths(cfg, filepath.Dir(absPath)); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads the config at path, or the discovered config when path
// is empty. With nothing to discover, the built-in defaults are returned.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		discovered, err := DiscoverConfigPath()
		if errors.Is(err, ErrNoConfig) {
			cfg := applyConfigDefaults(Defaults())
			if err := resolvePaths(cfg, ""); err != nil {
				return nil, err
			}
			return cfg, validate(cfg)
		}
		if err != nil {
			return nil, err
		}
		path = discovered
	}
	return Load(path)
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $SCRIPTSRUNNER_CONFIG_DIR, ~/.config/scriptsrunner/config.yaml, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if dir := os.Getenv("SCRIPTSRUNNER_CONFIG_DIR"); dir != "" {
		if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err == nil {
			return filepath.Join(dir, "config.yaml"), nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "scriptsrunner", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	if _, err := os.Stat("./config.yaml"); err == nil {
		return "./config.yaml", nil
	}

	return "", fmt.Errorf("%w (checked: $SCRIPTSRUNNER_CONFIG_DIR, ~/.config/scriptsrunner/config.yaml, ./config.yaml)", ErrNoConfig)
}

// applyConfigDefaults fills values that were explicitly blanked in the file.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.Runner.Shell == "" {
		cfg.Runner.Shell = defaults.Runner.Shell
	}
	if cfg.Runner.MaxOutputBytes <= 0 {
		cfg.Runner.MaxOutputBytes = defaults.Runner.MaxOutputBytes
	}
	if len(cfg.Settings.Folders) == 0 {
		cfg.Settings.Folders = defaults.Settings.Folders
	}
	return cfg
}

// resolvePaths expands "~" and makes relative paths absolute against baseDir
// (the config file's directory) or the working directory.
func resolvePaths(cfg *Config, baseDir string) error {
	resolve := func(p string) (string, error) {
		if baseDir != "" && p != "" && p[0] != '~' && !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		return profile.ExpandPath(p)
	}

	var err error
	if cfg.State.Path, err = resolve(cfg.State.Path); err != nil {
		return fmt.Errorf("state.path: %w", err)
	}
	if cfg.Service.LogFile != "" {
		if cfg.Service.LogFile, err = resolve(cfg.Service.LogFile); err != nil {
			return fmt.Errorf("service.log_file: %w", err)
		}
	}
	for i, folder := range cfg.Settings.Folders {
		if cfg.Settings.Folders[i], err = resolve(folder); err != nil {
			return fmt.Errorf("settings.folders[%d]: %w", i, err)
		}
	}
	return nil
}

func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Leave the placeholder; validation reports it where it matters.
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if envVarPattern.MatchString(cfg.API.Auth.APIKey) {
			matches := envVarPattern.FindStringSubmatch(cfg.API.Auth.APIKey)
			return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", matches[1])
		}
	}

	if cfg.Runner.KillGrace < 0 {
		return fmt.Errorf("runner.kill_grace must be >= 0")
	}

	if err := cfg.Settings.Validate(); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	for i, p := range cfg.Settings.Profiles {
		for k, v := range p.Env {
			if envVarPattern.MatchString(v) {
				matches := envVarPattern.FindStringSubmatch(v)
				return fmt.Errorf("settings.profiles[%d].env.%s: environment variable ${%s} is not set", i, k, matches[1])
			}
		}
	}
	return nil
}
