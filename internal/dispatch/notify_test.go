package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationText(t *testing.T) {
	n := Notification{Name: "backup.sh", Kind: NotifyFailure, ExitCode: 3, Duration: 1500 * time.Millisecond}
	assert.Equal(t, "backup.sh failed", n.Title())
	assert.Equal(t, "exit code 3 after 1.5s", n.Body())

	n.Kind = NotifyTimeout
	assert.Equal(t, "backup.sh timed out", n.Title())
	assert.Equal(t, "after 1.5s", n.Body())
}

func TestCommandNotifierAppendsTitleAndBody(t *testing.T) {
	out := filepath.Join(t.TempDir(), "notified")
	n, err := NewCommandNotifier(`/bin/sh -c 'printf "%s|%s" "$0" "$1" > ` + out + `'`)
	require.NoError(t, err)

	err = n.Notify(context.Background(), Notification{Name: "a.sh", Kind: NotifySuccess, Duration: time.Second})
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "a.sh finished|after 1s", string(got))
}

func TestNewCommandNotifierRejectsBadCommands(t *testing.T) {
	_, err := NewCommandNotifier("   ")
	assert.Error(t, err)
	_, err = NewCommandNotifier(`notify-send "unterminated`)
	assert.Error(t, err)
}

type failingNotifier struct{ err error }

func (f failingNotifier) Notify(context.Context, Notification) error { return f.err }

func TestMultiNotifierJoinsErrors(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	m := MultiNotifier{LogNotifier{}, failingNotifier{errA}, failingNotifier{errB}}

	err := m.Notify(context.Background(), Notification{Name: "x.sh", Kind: NotifyCanceled})
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.NoError(t, MultiNotifier{LogNotifier{}}.Notify(context.Background(), Notification{}))
}
