package profile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLongestPrefixWins(t *testing.T) {
	profiles := []FolderProfile{
		{Path: "/a/scripts", DefaultArgs: "outer"},
		{Path: "/a/scripts/sub", DefaultArgs: "inner"},
	}

	got, ok := Resolve("/a/scripts/sub/x.sh", profiles)
	require.True(t, ok)
	assert.Equal(t, "inner", got.DefaultArgs)

	got, ok = Resolve("/a/scripts/y.sh", profiles)
	require.True(t, ok)
	assert.Equal(t, "outer", got.DefaultArgs)
}

func TestResolveMatchesOnSegmentBoundary(t *testing.T) {
	profiles := []FolderProfile{{Path: "/a/scripts"}}

	_, ok := Resolve("/a/scripts2/x.sh", profiles)
	assert.False(t, ok, "sibling directory sharing a string prefix must not match")

	_, ok = Resolve("/b/x.sh", profiles)
	assert.False(t, ok)
}

func TestResolveExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	profiles := []FolderProfile{{Path: "~/scripts", DefaultArgs: "home"}}

	got, ok := Resolve(filepath.Join(home, "scripts", "deploy.sh"), profiles)
	require.True(t, ok)
	assert.Equal(t, "home", got.DefaultArgs)
}

func TestEffectivePrecedence(t *testing.T) {
	p := &FolderProfile{
		DefaultArgs:    "--profile",
		Env:            map[string]string{"A": "profile", "B": "profile"},
		Tags:           []string{"ops"},
		TimeoutSeconds: 30,
	}

	tests := []struct {
		name        string
		overrides   Overrides
		profile     *FolderProfile
		global      int
		wantArgs    string
		wantTimeout time.Duration
		wantEnv     map[string]string
	}{
		{
			name:        "script beats profile",
			overrides:   Overrides{Args: "--script", TimeoutSeconds: 5, Env: map[string]string{"A": "script"}},
			profile:     p,
			global:      60,
			wantArgs:    "--script",
			wantTimeout: 5 * time.Second,
			wantEnv:     map[string]string{"A": "script", "B": "profile"},
		},
		{
			name:        "profile beats global",
			profile:     p,
			global:      60,
			wantArgs:    "--profile",
			wantTimeout: 30 * time.Second,
			wantEnv:     map[string]string{"A": "profile", "B": "profile"},
		},
		{
			name:        "global when nothing else",
			global:      60,
			wantArgs:    "",
			wantTimeout: 60 * time.Second,
			wantEnv:     map[string]string{},
		},
		{
			name:        "zero everywhere means no timeout",
			profile:     &FolderProfile{},
			wantTimeout: 0,
			wantEnv:     map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Effective(tt.overrides, tt.profile, tt.global)
			require.NoError(t, err)
			assert.Equal(t, tt.wantArgs, got.Args)
			assert.Equal(t, tt.wantTimeout, got.Timeout)
			assert.Equal(t, tt.wantEnv, got.Env)
		})
	}
}

func TestEffectiveEnvFileSitsBelowProfileEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("A=file\nC=file\n"), 0o644))

	p := &FolderProfile{EnvFile: envFile, Env: map[string]string{"A": "profile"}}
	got, err := Effective(Overrides{Env: map[string]string{"C": "script"}}, p, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "profile", "C": "script"}, got.Env)
}

func TestEffectiveMissingEnvFileIsReported(t *testing.T) {
	p := &FolderProfile{EnvFile: filepath.Join(t.TempDir(), "missing.env"), Env: map[string]string{"A": "1"}}
	got, err := Effective(Overrides{}, p, 0)
	assert.Error(t, err)
	assert.Equal(t, map[string]string{"A": "1"}, got.Env)
}

func TestEffectiveTagsUnion(t *testing.T) {
	got, err := Effective(Overrides{Tags: []string{"db", "ops"}}, &FolderProfile{Tags: []string{"ops", "nightly"}}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"db", "nightly", "ops"}, got.Tags)
}
