package state

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/scriptsrunner/internal/profile"
	"github.com/mattjoyce/scriptsrunner/internal/storage"
)

func openStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func entry(code int, out string) ExecutionEntry {
	c := code
	return ExecutionEntry{
		ID:         out,
		StartedAt:  time.Now().UTC(),
		DurationMs: 10,
		ExitCode:   &c,
		Stdout:     out,
		Mode:       ModeBackground,
	}
}

func TestStoreGetMissingReturnsEmptyRecord(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	rec, err := s.Get(context.Background(), "/scripts/a.sh")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	assert.Equal(t, "/scripts/a.sh", rec.Path)
	assert.Empty(t, rec.History)
	assert.Nil(t, rec.Last)
	assert.Zero(t, rec.RunCount)
}

func TestStoreRecordPrependsAndTrims(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)

	for i := 1; i <= 5; i++ {
		if _, err := s.Record(ctx, "/s/a.sh", entry(0, fmt.Sprintf("run-%d", i)), 3); err != nil {
			t.Fatalf("Record(%d): %v", i, err)
		}
	}

	rec, err := s.Get(ctx, "/s/a.sh")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.RunCount)
	require.Len(t, rec.History, 3)

	var outs []string
	for _, e := range rec.History {
		outs = append(outs, e.Stdout)
	}
	if diff := cmp.Diff([]string{"run-5", "run-4", "run-3"}, outs); diff != "" {
		t.Fatalf("history order mismatch (-want +got):\n%s", diff)
	}

	require.NotNil(t, rec.Last)
	assert.Equal(t, "run-5", rec.Last.Stdout)
	assert.Equal(t, 0, *rec.Last.ExitCode)
}

func TestStoreRecordUnlimitedHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)
	for i := 0; i < 25; i++ {
		_, err := s.Record(ctx, "/s/a.sh", entry(0, fmt.Sprint(i)), 0)
		require.NoError(t, err)
	}
	rec, err := s.Get(ctx, "/s/a.sh")
	require.NoError(t, err)
	assert.Len(t, rec.History, 25)
}

func TestStoreRecordRejectsUnknownMode(t *testing.T) {
	t.Parallel()

	e := entry(0, "x")
	e.Mode = "popup"
	_, err := openStore(t).Record(context.Background(), "/s/a.sh", e, 5)
	assert.Error(t, err)
}

func TestStoreClearKeepsRunCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)
	for i := 0; i < 4; i++ {
		_, err := s.Record(ctx, "/s/a.sh", entry(1, "fail"), 20)
		require.NoError(t, err)
	}

	rec, err := s.Clear(ctx, "/s/a.sh")
	require.NoError(t, err)
	assert.Empty(t, rec.History)
	assert.Nil(t, rec.Last)
	assert.Equal(t, 4, rec.RunCount)

	reloaded, err := s.Get(ctx, "/s/a.sh")
	require.NoError(t, err)
	assert.Equal(t, 4, reloaded.RunCount)
	assert.Nil(t, reloaded.Last)
}

func TestStoreLastIsDerivedFromHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)

	_, err := s.Record(ctx, "/s/a.sh", entry(0, "first"), 20)
	require.NoError(t, err)
	e := entry(2, "second")
	e.TimedOut = true
	rec, err := s.Record(ctx, "/s/a.sh", e, 20)
	require.NoError(t, err)

	require.NotNil(t, rec.Last)
	assert.Equal(t, "second", rec.Last.Stdout)
	assert.True(t, rec.Last.TimedOut)
	assert.Equal(t, 2, *rec.Last.ExitCode)
}

func TestStoreUpdateMeta(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)

	fav := true
	args := "--dry-run"
	timeout := 15
	tags := []string{"ops"}
	env := map[string]string{"K": "V"}
	rec, err := s.UpdateMeta(ctx, "/s/a.sh", MetaPatch{
		Favorite:       &fav,
		Args:           &args,
		TimeoutSeconds: &timeout,
		Tags:           &tags,
		EnvVars:        &env,
	})
	require.NoError(t, err)
	assert.True(t, rec.Favorite)

	o := rec.Overrides()
	assert.Equal(t, profile.Overrides{Args: "--dry-run", Env: env, Tags: tags, TimeoutSeconds: 15}, o)

	// A patch that touches nothing else leaves prior edits in place.
	icon := "rocket"
	rec, err = s.UpdateMeta(ctx, "/s/a.sh", MetaPatch{Icon: &icon})
	require.NoError(t, err)
	assert.Equal(t, "rocket", rec.Icon)
	assert.Equal(t, "--dry-run", rec.Args)
	assert.Zero(t, rec.RunCount)

	negative := -1
	_, err = s.UpdateMeta(ctx, "/s/a.sh", MetaPatch{TimeoutSeconds: &negative})
	assert.ErrorIs(t, err, ErrInvalidMeta)
}

func TestStoreListAndDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)
	for _, p := range []string{"/s/b.sh", "/s/a.sh"} {
		_, err := s.Record(ctx, p, entry(0, p), 20)
		require.NoError(t, err)
	}

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "/s/a.sh", list[0].Path)
	assert.Equal(t, "/s/b.sh", list[1].Path)

	require.NoError(t, s.Delete(ctx, "/s/a.sh"))
	list, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "/s/b.sh", list[0].Path)

	err = s.Delete(ctx, "/s/a.sh")
	assert.True(t, errors.Is(err, ErrRecordNotFound))
}

func TestStoreConcurrentRecordsDoNotLoseUpdates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Record(ctx, "/s/a.sh", entry(0, fmt.Sprint(i)), 0); err != nil {
				t.Errorf("Record: %v", err)
			}
		}(i)
	}
	wg.Wait()

	rec, err := s.Get(ctx, "/s/a.sh")
	require.NoError(t, err)
	assert.Equal(t, 10, rec.RunCount)
	assert.Len(t, rec.History, 10)
}

func TestStoreLoadSettingsSeedsOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)

	seed := DefaultSettings()
	seed.MaxConcurrent = 2
	got, err := s.LoadSettings(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MaxConcurrent)

	// A later seed does not overwrite what is stored.
	other := DefaultSettings()
	other.MaxConcurrent = 9
	got, err = s.LoadSettings(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MaxConcurrent)
}

func TestStoreSaveSettingsMergesPatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)
	_, err := s.LoadSettings(ctx, DefaultSettings())
	require.NoError(t, err)

	limit := 5
	folders := []string{"/opt/scripts"}
	saved, err := s.SaveSettings(ctx, SettingsPatch{HistoryLimit: &limit, Folders: &folders})
	require.NoError(t, err)

	want := DefaultSettings()
	want.HistoryLimit = 5
	want.Folders = folders
	if diff := cmp.Diff(want, saved); diff != "" {
		t.Fatalf("saved settings mismatch (-want +got):\n%s", diff)
	}

	reloaded, err := s.LoadSettings(ctx, DefaultSettings())
	require.NoError(t, err)
	if diff := cmp.Diff(want, reloaded); diff != "" {
		t.Fatalf("reloaded settings mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreSaveSettingsRejectsInvalid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)
	_, err := s.LoadSettings(ctx, DefaultSettings())
	require.NoError(t, err)

	zero := 0
	_, err = s.SaveSettings(ctx, SettingsPatch{MaxConcurrent: &zero})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSettings))

	got, err := s.LoadSettings(ctx, DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, 3, got.MaxConcurrent)
}

func TestSettingsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Settings) {}},
		{name: "zero concurrency", mutate: func(s *Settings) { s.MaxConcurrent = 0 }, wantErr: true},
		{name: "negative timeout", mutate: func(s *Settings) { s.DefaultTimeoutSeconds = -1 }, wantErr: true},
		{name: "negative history", mutate: func(s *Settings) { s.HistoryLimit = -1 }, wantErr: true},
		{name: "unlimited history", mutate: func(s *Settings) { s.HistoryLimit = 0 }},
		{name: "profile without path", mutate: func(s *Settings) { s.Profiles = []profile.FolderProfile{{}} }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
