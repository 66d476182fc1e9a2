package storage

import (
	"path/filepath"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedType(fsType string) detector {
	return func(string) (string, error) { return fsType, nil }
}

func TestValidateFilesystem(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "state.db")
	assert.NoError(t, validateFilesystem(dbPath, fixedType("ext4")))
	assert.NoError(t, validateFilesystem(dbPath, fixedType("")), "unknown types count as local")

	err := validateFilesystem(dbPath, fixedType("nfs4"))
	require.ErrorIs(t, err, ErrNetworkFilesystem)
	assert.Contains(t, err.Error(), "state.path")

	assert.Error(t, validateFilesystem("", fixedType("ext4")))
}

func TestValidateFilesystemInspectsNearestExistingParent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var inspected string
	err := validateFilesystem(filepath.Join(root, "a", "b", "state.db"), func(p string) (string, error) {
		inspected = p
		return "ext4", nil
	})
	require.NoError(t, err)
	assert.Equal(t, root, inspected)
}

func TestValidateLocalFilesystemOnTempDir(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateLocalFilesystem(filepath.Join(t.TempDir(), "state.db")))
}

func TestMountFor(t *testing.T) {
	t.Parallel()

	parts := []disk.PartitionStat{
		{Mountpoint: "/", Fstype: "ext4"},
		{Mountpoint: "/home", Fstype: "btrfs"},
		{Mountpoint: "/home/ann/nas", Fstype: "cifs"},
		{Mountpoint: "/tmp", Fstype: "tmpfs"},
	}
	cases := map[string]string{
		"/var/lib/x.db":            "ext4",
		"/home/ann/state.db":       "btrfs",
		"/home/ann/nas":            "cifs",
		"/home/ann/nas/db/state":   "cifs",
		"/home/ann/nasty/state.db": "btrfs",
		"/tmp/state.db":            "tmpfs",
	}
	for path, want := range cases {
		got, ok := mountFor(path, parts)
		require.True(t, ok, path)
		assert.Equal(t, want, got.Fstype, path)
	}

	_, ok := mountFor("/x", nil)
	assert.False(t, ok)
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	for fs, want := range map[string]bool{
		"nfs":        true,
		"NFS4":       true,
		"fuse.sshfs": true,
		"smbfs":      true,
		"ext4":       false,
		"tmpfs":      false,
		"apfs":       false,
	} {
		assert.Equal(t, want, isNetworkFilesystem(fs), fs)
	}
}
