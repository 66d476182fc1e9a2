package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/mattjoyce/scriptsrunner/internal/log"
)

// LaunchTerminal opens the configured terminal running the script and returns
// without waiting. The script runs from a temporary launcher that removes
// itself once the user closes the window.
func (s *Supervisor) LaunchTerminal(path string, env map[string]string, args string) (time.Time, error) {
	started := time.Now().UTC()
	logger := log.WithScript(path)

	argv, err := shellquote.Split(s.opts.TerminalCommand)
	if err != nil {
		return started, fmt.Errorf("parse terminal command %q: %w", s.opts.TerminalCommand, err)
	}
	if len(argv) == 0 {
		return started, fmt.Errorf("terminal command is not configured")
	}

	if err := ensureExecutable(path); err != nil {
		return started, err
	}

	launcher, err := writeLauncher(s.opts.Shell, CommandLine(path, env, args))
	if err != nil {
		return started, err
	}

	argv = append(argv, launcher)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = filepath.Dir(path)
	if err := cmd.Start(); err != nil {
		_ = os.Remove(launcher)
		return started, fmt.Errorf("start terminal: %w", err)
	}
	logger.Info("launched in terminal", "terminal", argv[0], "pid", cmd.Process.Pid)

	// Reap the terminal process; its outcome is never observed.
	go func() { _ = cmd.Wait() }()
	return started, nil
}

func writeLauncher(shell, cmdline string) (string, error) {
	f, err := os.CreateTemp("", "scriptsrunner-*.sh")
	if err != nil {
		return "", fmt.Errorf("create launcher: %w", err)
	}
	defer f.Close()

	body := fmt.Sprintf(`#!%s
rm -f "$0"
%s
status=$?
echo
printf '[exited with status %%s] press Enter to close ' "$status"
read _
`, shell, cmdline)

	if _, err := f.WriteString(body); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write launcher: %w", err)
	}
	if err := f.Chmod(0o700); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("chmod launcher: %w", err)
	}
	return f.Name(), nil
}
