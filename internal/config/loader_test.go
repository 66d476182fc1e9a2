package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr bool
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
state:
  path: /tmp/scriptsrunner-test.db
settings:
  folders: [/opt/scripts]
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/tmp/scriptsrunner-test.db", cfg.State.Path)
				assert.Equal(t, []string{"/opt/scripts"}, cfg.Settings.Folders)
				assert.Equal(t, 3, cfg.Settings.MaxConcurrent)
				assert.Equal(t, 20, cfg.Settings.HistoryLimit)
				assert.Equal(t, "/bin/sh", cfg.Runner.Shell)
				assert.Equal(t, "info", cfg.Service.LogLevel)
			},
		},
		{
			name: "explicit zero history limit survives",
			yaml: `
settings:
  history_limit: 0
  default_timeout_seconds: 0
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 0, cfg.Settings.HistoryLimit)
			},
		},
		{
			name: "runner and profiles",
			yaml: `
runner:
  shell: /bin/bash
  kill_grace: 2s
  max_output_bytes: 1024
settings:
  max_concurrent: 1
  profiles:
    - path: /opt/scripts/db
      default_args: --verbose
      timeout_seconds: 30
      env:
        PGHOST: localhost
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/bin/bash", cfg.Runner.Shell)
				assert.Equal(t, 2*time.Second, cfg.Runner.KillGrace)
				assert.Equal(t, 1024, cfg.Runner.MaxOutputBytes)
				assert.Equal(t, 1, cfg.Settings.MaxConcurrent)
				require.Len(t, cfg.Settings.Profiles, 1)
				assert.Equal(t, "--verbose", cfg.Settings.Profiles[0].DefaultArgs)
				assert.Equal(t, "localhost", cfg.Settings.Profiles[0].Env["PGHOST"])
			},
		},
		{
			name: "env var interpolation",
			yaml: `
state:
  path: ${SR_TEST_DB_PATH}
api:
  enabled: true
  listen: 127.0.0.1:9999
  auth:
    api_key: ${SR_TEST_API_KEY}
`,
			env: map[string]string{
				"SR_TEST_DB_PATH": "/tmp/sr-env.db",
				"SR_TEST_API_KEY": "secret123",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/tmp/sr-env.db", cfg.State.Path)
				assert.Equal(t, "secret123", cfg.API.Auth.APIKey)
			},
		},
		{
			name: "missing env var in api key fails validation",
			yaml: `
api:
  enabled: true
  auth:
    api_key: ${SR_TEST_MISSING_VAR}
`,
			wantErr: true,
		},
		{
			name: "invalid log level",
			yaml: `
service:
  log_level: invalid
`,
			wantErr: true,
		},
		{
			name: "zero max concurrent",
			yaml: `
settings:
  max_concurrent: 0
`,
			wantErr: true,
		},
		{
			name: "negative kill grace",
			yaml: `
runner:
  kill_grace: -1s
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(writeConfig(t, tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.checkFn != nil && err == nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadResolvesRelativePathsAgainstConfigDir(t *testing.T) {
	path := writeConfig(t, `
state:
  path: data/state.db
settings:
  folders: [scripts]
`)
	dir := filepath.Dir(path)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data", "state.db"), cfg.State.Path)
	assert.Equal(t, []string{filepath.Join(dir, "scripts")}, cfg.Settings.Folders)
	assert.Equal(t, path, cfg.SourcePath)
}

func TestLoadAcceptsDirectory(t *testing.T) {
	path := writeConfig(t, "service:\n  log_level: debug\n")

	cfg, err := Load(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Service.LogLevel)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDiscoverConfigPathPrefersEnvDir(t *testing.T) {
	path := writeConfig(t, "{}\n")
	t.Setenv("SCRIPTSRUNNER_CONFIG_DIR", filepath.Dir(path))

	got, err := DiscoverConfigPath()
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestLoadOrDefaultWithoutConfig(t *testing.T) {
	t.Setenv("SCRIPTSRUNNER_CONFIG_DIR", "")
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Empty(t, cfg.SourcePath)
	assert.True(t, filepath.IsAbs(cfg.State.Path))
	require.Len(t, cfg.Settings.Folders, 1)
	assert.Equal(t, filepath.Join(os.Getenv("HOME"), "scripts"), cfg.Settings.Folders[0])
}
