// Package supervisor spawns scripts under a shell, captures their output and
// enforces timeouts and cancellation.
//
// Spawn failures, timeouts and kill races never surface as errors: they are
// encoded in the Result (exit code -1, TimedOut, Canceled).
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/mattjoyce/scriptsrunner/internal/log"
)

const (
	// DefaultMaxOutputBytes caps captured stdout and stderr, each.
	DefaultMaxOutputBytes = 256 * 1024

	// pipeDrainDelay bounds how long Wait keeps reading pipes held open by
	// orphaned grandchildren after the shell itself has exited.
	pipeDrainDelay = 2 * time.Second
)

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Options configure a Supervisor.
type Options struct {
	Shell           string
	TerminalCommand string
	MaxOutputBytes  int
	KillGrace       time.Duration
}

// Request describes one background execution.
type Request struct {
	Path    string
	Env     map[string]string
	Args    string
	Timeout time.Duration // 0 = no timeout

	// OnLine, if set, receives each complete output line as it arrives.
	OnLine func(stream Stream, line string)
}

// Result is the outcome of one execution.
type Result struct {
	Success    bool
	ExitCode   int
	Stdout     string
	Stderr     string
	Duration   time.Duration
	TimedOut   bool
	Canceled   bool
	ScriptHash string
	StartedAt  time.Time
}

// Process is a registry snapshot of a live execution.
type Process struct {
	Path      string    `json:"path"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

type running struct {
	path      string
	pid       int
	startedAt time.Time
	done      chan struct{}
	timedOut  atomic.Bool
	canceled  atomic.Bool
	killOnce  sync.Once
}

func (p *running) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Supervisor runs scripts and tracks the live ones by path.
type Supervisor struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]*running
}

func New(opts Options) *Supervisor {
	if opts.Shell == "" {
		opts.Shell = "/bin/sh"
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return &Supervisor{
		opts:    opts,
		logger:  log.WithComponent("supervisor"),
		running: make(map[string]*running),
	}
}

// Execute runs the script at req.Path to completion. Cancelling ctx kills the
// process tree and marks the result Canceled.
func (s *Supervisor) Execute(ctx context.Context, req Request) Result {
	logger := log.WithScript(req.Path)
	started := time.Now()
	res := Result{ExitCode: -1, StartedAt: started.UTC(), ScriptHash: Fingerprint(req.Path)}

	if err := ensureExecutable(req.Path); err != nil {
		logger.Error("script cannot be executed", "error", err)
		res.Stderr = fmt.Sprintf("failed to spawn: %v", err)
		res.Duration = time.Since(started)
		return res
	}

	cmdline := CommandLine(req.Path, req.Env, req.Args)
	cmd := exec.Command(s.opts.Shell, "-c", cmdline)
	cmd.Dir = filepath.Dir(req.Path)
	cmd.WaitDelay = pipeDrainDelay

	stdout := newCapture(Stdout, s.opts.MaxOutputBytes, req.OnLine)
	stderr := newCapture(Stderr, s.opts.MaxOutputBytes, req.OnLine)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger.Debug("spawning script", "shell", s.opts.Shell, "timeout", req.Timeout)

	if err := cmd.Start(); err != nil {
		logger.Error("failed to spawn script", "error", err)
		res.Stderr = fmt.Sprintf("failed to spawn: %v", err)
		res.Duration = time.Since(started)
		return res
	}

	proc := &running{
		path:      req.Path,
		pid:       cmd.Process.Pid,
		startedAt: started,
		done:      make(chan struct{}),
	}
	s.register(proc)
	defer s.unregister(proc)

	var (
		timer   *time.Timer
		decided chan struct{}
	)
	if req.Timeout > 0 {
		decided = make(chan struct{})
		timer = time.AfterFunc(req.Timeout, func() {
			s.expire(proc, decided, req.Timeout, logger)
		})
	}

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			proc.canceled.Store(true)
			s.terminate(proc, logger)
		case <-stopWatch:
		}
	}()

	waitErr := cmd.Wait()
	close(proc.done)
	if timer != nil && !timer.Stop() {
		// Fired: wait until it has settled TimedOut.
		<-decided
	}

	stdout.flush()
	stderr.flush()

	res.Duration = time.Since(started)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.TimedOut = proc.timedOut.Load()
	res.Canceled = proc.canceled.Load()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if waitErr != nil && cmd.ProcessState == nil {
		logger.Warn("could not determine exit status", "error", waitErr)
	}
	res.Success = res.ExitCode == 0 && !res.TimedOut && !res.Canceled

	logger.Info("script finished",
		"exit_code", res.ExitCode,
		"duration", res.Duration,
		"timed_out", res.TimedOut,
		"canceled", res.Canceled,
	)
	return res
}

// Kill terminates the live execution of path. It reports false when nothing
// is registered for path or the process has already exited.
func (s *Supervisor) Kill(path string) bool {
	s.mu.Lock()
	proc, ok := s.running[path]
	s.mu.Unlock()
	if !ok || proc.exited() {
		return false
	}

	proc.canceled.Store(true)
	logger := log.WithScript(path)
	logger.Info("cancel requested, killing")
	go s.terminate(proc, logger)
	return true
}

// Running returns the live executions, ordered by path.
func (s *Supervisor) Running() []Process {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Process, 0, len(s.running))
	for _, p := range s.running {
		out = append(out, Process{Path: p.path, PID: p.pid, StartedAt: p.startedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (s *Supervisor) register(p *running) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[p.path] = p
}

func (s *Supervisor) unregister(p *running) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[p.path] == p {
		delete(s.running, p.path)
	}
}

// expire marks p timed out and kills it, unless the process has already
// exited. decided is closed once TimedOut is settled.
func (s *Supervisor) expire(p *running, decided chan<- struct{}, timeout time.Duration, logger *slog.Logger) {
	live := !p.exited()
	if live {
		p.timedOut.Store(true)
	}
	close(decided)
	if !live {
		return
	}
	logger.Warn("script timed out, killing", "timeout", timeout)
	s.terminate(p, logger)
}

// terminate kills the process tree at most once per execution. The pid is
// never signalled once Wait has reaped it.
func (s *Supervisor) terminate(p *running, logger *slog.Logger) {
	p.killOnce.Do(func() {
		if p.exited() {
			return
		}
		if s.opts.KillGrace <= 0 {
			killTree(p.pid, false, logger)
			return
		}

		killTree(p.pid, true, logger)
		grace := time.NewTimer(s.opts.KillGrace)
		defer grace.Stop()
		select {
		case <-p.done:
			logger.Info("script exited after SIGTERM")
		case <-grace.C:
			if p.exited() {
				return
			}
			logger.Warn("script did not exit after SIGTERM, sending SIGKILL")
			killTree(p.pid, false, logger)
		}
	})
}

// CommandLine builds the shell command that exports env and invokes path.
// Values are quoted; args are appended verbatim so the user's own quoting
// applies. Names that are not valid shell identifiers are skipped.
func CommandLine(path string, env map[string]string, args string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		if envNamePattern.MatchString(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s; ", k, shellquote.Join(env[k]))
	}
	b.WriteString(shellquote.Join(path))
	if args = strings.TrimSpace(args); args != "" {
		b.WriteByte(' ')
		b.WriteString(args)
	}
	return b.String()
}

// ensureExecutable fails when path is missing, not a regular file, or lacks
// the owner execute bit and cannot be given it.
func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat script: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	mode := info.Mode().Perm()
	if mode&0o100 != 0 {
		return nil
	}
	if err := os.Chmod(path, mode|0o111); err != nil {
		return fmt.Errorf("mark script executable: %w", err)
	}
	return nil
}
