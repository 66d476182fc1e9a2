package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/mattjoyce/scriptsrunner/internal/log"
)

type NotificationKind string

const (
	NotifySuccess  NotificationKind = "success"
	NotifyFailure  NotificationKind = "failure"
	NotifyTimeout  NotificationKind = "timeout"
	NotifyCanceled NotificationKind = "canceled"
)

// Notification describes a finished background run.
type Notification struct {
	Path     string
	Name     string
	Kind     NotificationKind
	ExitCode int
	Duration time.Duration
}

func (n Notification) Title() string {
	switch n.Kind {
	case NotifySuccess:
		return fmt.Sprintf("%s finished", n.Name)
	case NotifyTimeout:
		return fmt.Sprintf("%s timed out", n.Name)
	case NotifyCanceled:
		return fmt.Sprintf("%s was canceled", n.Name)
	default:
		return fmt.Sprintf("%s failed", n.Name)
	}
}

func (n Notification) Body() string {
	d := n.Duration.Round(time.Millisecond)
	if n.Kind == NotifyFailure {
		return fmt.Sprintf("exit code %d after %s", n.ExitCode, d)
	}
	return fmt.Sprintf("after %s", d)
}

//go:generate mockgen -destination=mocks/mock_notifier.go -package=mocks github.com/mattjoyce/scriptsrunner/internal/dispatch Notifier

// Notifier delivers completion notices. The orchestrator calls it off the
// completion path and only logs errors.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	log.WithComponent("notify").Info(n.Title(), "path", n.Path, "kind", string(n.Kind), "detail", n.Body())
	return nil
}

// CommandNotifier runs an external command (notify-send, terminal-notifier)
// with the title and body appended as the final two arguments.
type CommandNotifier struct {
	argv []string
}

func NewCommandNotifier(command string) (*CommandNotifier, error) {
	argv, err := shellquote.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse notify command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("notify command is empty")
	}
	return &CommandNotifier{argv: argv}, nil
}

func (c *CommandNotifier) Notify(ctx context.Context, n Notification) error {
	args := append(append([]string{}, c.argv[1:]...), n.Title(), n.Body())
	out, err := exec.CommandContext(ctx, c.argv[0], args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (output: %s)", c.argv[0], err, out)
	}
	return nil
}

// MultiNotifier fans out to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
