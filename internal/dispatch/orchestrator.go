package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/scriptsrunner/internal/events"
	"github.com/mattjoyce/scriptsrunner/internal/log"
	"github.com/mattjoyce/scriptsrunner/internal/metrics"
	"github.com/mattjoyce/scriptsrunner/internal/profile"
	"github.com/mattjoyce/scriptsrunner/internal/queue"
	"github.com/mattjoyce/scriptsrunner/internal/scan"
	"github.com/mattjoyce/scriptsrunner/internal/state"
	"github.com/mattjoyce/scriptsrunner/internal/supervisor"
)

const notifyTimeout = 10 * time.Second

var (
	ErrUnknownScript = errors.New("unknown script")
	ErrInvalidMode   = errors.New("invalid run mode")
)

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/mattjoyce/scriptsrunner/internal/dispatch Runner

// Runner spawns and kills script processes.
type Runner interface {
	Execute(ctx context.Context, req supervisor.Request) supervisor.Result
	Kill(path string) bool
	LaunchTerminal(path string, env map[string]string, args string) (time.Time, error)
	Running() []supervisor.Process
}

// History is the durable record and settings store.
type History interface {
	Record(ctx context.Context, path string, entry state.ExecutionEntry, historyLimit int) (state.ScriptRecord, error)
	Clear(ctx context.Context, path string) (state.ScriptRecord, error)
	Get(ctx context.Context, path string) (state.ScriptRecord, error)
	List(ctx context.Context) ([]state.ScriptRecord, error)
	UpdateMeta(ctx context.Context, path string, patch state.MetaPatch) (state.ScriptRecord, error)
	LoadSettings(ctx context.Context, seed state.Settings) (state.Settings, error)
	SaveSettings(ctx context.Context, patch state.SettingsPatch) (state.Settings, error)
}

// Options carry the optional collaborators. Nil values get defaults.
type Options struct {
	Hub      *events.Hub
	Metrics  *metrics.Metrics
	Notifier Notifier

	// WatchDebounce <= 0 uses scan.DefaultDebounce.
	WatchDebounce time.Duration
	// DisableWatch turns off folder watching (one-shot CLI use, tests).
	DisableWatch bool
}

// RunOutcome reports what a run request did.
type RunOutcome struct {
	Path     string             `json:"path"`
	Decision queue.DecisionKind `json:"decision"`
	RunID    string             `json:"run_id,omitempty"`
	Position int                `json:"position,omitempty"`
	Status   queue.Status       `json:"status"`
}

// Orchestrator owns the queue state machine and drives the supervisor,
// history store, notifier and event hub from it. All run-state transitions
// go through the queue's single lock; the orchestrator only acts on the
// decisions it returns.
type Orchestrator struct {
	runner   Runner
	store    History
	queue    *queue.Queue
	hub      *events.Hub
	metrics  *metrics.Metrics
	notifier Notifier
	opts     Options
	logger   *slog.Logger

	runCtx     context.Context
	cancelRuns context.CancelFunc
	runs       sync.WaitGroup

	mu          sync.RWMutex
	settings    state.Settings
	scripts     []string
	lastScanErr error

	rescanMu sync.Mutex

	watchMu sync.Mutex
	watch   scan.Subscription
}

func New(runner Runner, store History, opts Options) *Orchestrator {
	if opts.Hub == nil {
		opts.Hub = events.NewHub(256)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{}
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		runner:     runner,
		store:      store,
		queue:      queue.New(state.DefaultSettings().MaxConcurrent),
		hub:        opts.Hub,
		metrics:    opts.Metrics,
		notifier:   opts.Notifier,
		opts:       opts,
		logger:     log.WithComponent("dispatch"),
		runCtx:     runCtx,
		cancelRuns: cancel,
		settings:   state.DefaultSettings(),
	}
}

// Init loads the durable settings (storing seed on first use), scans the
// folders and starts watching them.
func (o *Orchestrator) Init(ctx context.Context, seed state.Settings) error {
	settings, err := o.store.LoadSettings(ctx, seed)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	o.mu.Lock()
	o.settings = settings
	o.mu.Unlock()
	o.queue.SetMaxConcurrent(settings.MaxConcurrent)

	if err := o.Rescan(ctx); err != nil {
		o.logger.Warn("initial scan incomplete", "error", err)
	}
	o.restartWatch()
	o.logger.Info("orchestrator ready",
		"folders", settings.Folders,
		"max_concurrent", settings.MaxConcurrent,
		"history_limit", settings.HistoryLimit,
	)
	return nil
}

// Hub is the event hub the orchestrator publishes to.
func (o *Orchestrator) Hub() *events.Hub { return o.hub }

func (o *Orchestrator) Metrics() *metrics.Metrics { return o.metrics }

// Run requests a run of path. Background requests start or queue; terminal
// requests launch immediately and are recorded without an exit code.
func (o *Orchestrator) Run(ctx context.Context, path string, mode state.Mode) (RunOutcome, error) {
	if !mode.Valid() {
		return RunOutcome{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if !o.known(path) {
		return RunOutcome{}, fmt.Errorf("%w: %s", ErrUnknownScript, path)
	}

	d := o.queue.Request(path, mode)
	out := RunOutcome{Path: path, Decision: d.Kind}

	switch d.Kind {
	case queue.DecisionIgnored:
		o.logger.Debug("run request ignored, already active", "path", path)
	case queue.DecisionTerminal:
		if err := o.launchTerminal(ctx, path); err != nil {
			return RunOutcome{}, err
		}
	case queue.DecisionQueued:
		out.Position = d.Position
		o.publish(events.ScriptQueued, events.ScriptPayload{
			Path: path, Name: filepath.Base(path), Mode: string(mode), Position: d.Position,
		})
		log.WithScript(path).Info("script queued", "position", d.Position)
	case queue.DecisionStarted:
		out.RunID = d.Start.Token
		o.start(d.Start)
	}

	o.updateQueueMetrics()
	out.Status = o.queue.Status(path)
	return out, nil
}

// Cancel kills the live process of a running script. It reports false, and
// changes nothing, when the script is not running or its process is gone.
// The normal completion path records the outcome.
func (o *Orchestrator) Cancel(path string) bool {
	if o.queue.Status(path) != queue.StatusRunning {
		return false
	}
	return o.runner.Kill(path)
}

// ForceReset returns a running or queued script to idle without touching
// its process. A still-running process is detached: its completion is
// recorded in history but no longer affects run state.
func (o *Orchestrator) ForceReset(path string) bool {
	prev, ok := o.queue.ForceReset(path)
	if !ok {
		return false
	}

	logger := log.WithScript(path)
	if prev == queue.StatusRunning {
		for _, p := range o.runner.Running() {
			if p.Path == path && supervisor.Alive(p.PID) {
				logger.Warn("force-reset detached a live process", "pid", p.PID)
			}
		}
	}
	logger.Info("script force-reset", "previous", string(prev))

	o.publish(events.ScriptReset, events.ScriptPayload{
		Path: path, Name: filepath.Base(path), Previous: string(prev),
	})
	o.updateQueueMetrics()
	return true
}

// Dequeue removes a queued script without running it.
func (o *Orchestrator) Dequeue(path string) error {
	if err := o.queue.Dequeue(path); err != nil {
		return err
	}
	o.publish(events.ScriptDequeued, events.ScriptPayload{Path: path, Name: filepath.Base(path)})
	o.updateQueueMetrics()
	return nil
}

// Rescan re-reads the folders and reconciles the view and queue. Queued
// scripts that vanished are dropped; running ones keep their slot. The scan
// error, if any, is returned after the reconciliation is applied.
func (o *Orchestrator) Rescan(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.rescanMu.Lock()
	defer o.rescanMu.Unlock()

	paths, scanErr := scan.Scan(o.Settings().Folders)

	present := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		present[p] = struct{}{}
	}
	dropped := o.queue.Reconcile(present)
	for _, p := range dropped {
		o.publish(events.ScriptDequeued, events.ScriptPayload{Path: p, Name: filepath.Base(p), Reason: "removed"})
	}

	o.mu.Lock()
	o.scripts = paths
	o.lastScanErr = scanErr
	o.mu.Unlock()

	o.metrics.SetScripts(len(paths))
	o.updateQueueMetrics()

	payload := events.RescanPayload{Scripts: len(paths), Dropped: dropped}
	if scanErr != nil {
		payload.Error = scanErr.Error()
	}
	o.publish(events.ScriptsRescan, payload)
	o.logger.Debug("rescanned folders", "scripts", len(paths), "dropped", len(dropped))
	return scanErr
}

// LastScanError is the error from the most recent rescan, if any.
func (o *Orchestrator) LastScanError() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastScanErr
}

// Settings returns a copy of the current settings.
func (o *Orchestrator) Settings() state.Settings {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.settings.Apply(state.SettingsPatch{})
}

// SaveSettings persists patch and, once the write is committed, applies it:
// a raised ceiling promotes queued scripts and a changed folder list
// triggers a rescan and new watches.
func (o *Orchestrator) SaveSettings(ctx context.Context, patch state.SettingsPatch) (state.Settings, error) {
	saved, err := o.store.SaveSettings(ctx, patch)
	if err != nil {
		return state.Settings{}, err
	}

	o.mu.Lock()
	foldersChanged := !slices.Equal(o.settings.Folders, saved.Folders)
	o.settings = saved
	o.mu.Unlock()

	for _, s := range o.queue.SetMaxConcurrent(saved.MaxConcurrent) {
		o.start(s)
	}
	if foldersChanged {
		o.restartWatch()
		if err := o.Rescan(ctx); err != nil {
			o.logger.Warn("rescan after settings change incomplete", "error", err)
		}
	}

	o.updateQueueMetrics()
	o.publish(events.SettingsSaved, saved)
	o.logger.Info("settings saved", "max_concurrent", saved.MaxConcurrent, "history_limit", saved.HistoryLimit)
	return saved, nil
}

// ClearHistory empties a script's history. The run count is kept.
func (o *Orchestrator) ClearHistory(ctx context.Context, path string) (state.ScriptRecord, error) {
	return o.store.Clear(ctx, path)
}

// UpdateScript edits per-script metadata and overrides.
func (o *Orchestrator) UpdateScript(ctx context.Context, path string, patch state.MetaPatch) (state.ScriptRecord, error) {
	if !o.known(path) {
		return state.ScriptRecord{}, fmt.Errorf("%w: %s", ErrUnknownScript, path)
	}
	return o.store.UpdateMeta(ctx, path, patch)
}

// Snapshot is the current queue state.
func (o *Orchestrator) Snapshot() queue.Snapshot {
	return o.queue.Snapshot()
}

// Wait blocks until no runs are in flight.
func (o *Orchestrator) Wait() {
	o.runs.Wait()
}

// Shutdown stops watching, kills running scripts and waits for their
// completions to be recorded, or for ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.watchMu.Lock()
	if o.watch != nil {
		_ = o.watch.Close()
		o.watch = nil
	}
	o.watchMu.Unlock()

	o.cancelRuns()

	done := make(chan struct{})
	go func() {
		o.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running scripts: %w", ctx.Err())
	}
}

func (o *Orchestrator) start(s queue.Start) {
	if o.runCtx.Err() != nil {
		// Shutting down; leave promoted scripts idle.
		o.queue.ForceReset(s.Path)
		return
	}
	o.runs.Add(1)
	go o.execute(s)
}

func (o *Orchestrator) execute(s queue.Start) {
	defer o.runs.Done()

	logger := log.WithScript(s.Path).With("run_id", s.Token)
	settings := o.Settings()
	params := o.resolve(context.Background(), s.Path, settings, logger)

	if !s.EnqueuedAt.IsZero() {
		o.metrics.ObserveQueueWait(s.Waited())
	}
	o.publish(events.ScriptStarted, events.ScriptPayload{
		Path: s.Path, Name: filepath.Base(s.Path), RunID: s.Token, Mode: string(state.ModeBackground),
	})
	logger.Info("script started", "timeout", params.Timeout, "args", params.Args)

	res := o.runner.Execute(o.runCtx, supervisor.Request{
		Path:    s.Path,
		Env:     params.Env,
		Args:    params.Args,
		Timeout: params.Timeout,
		OnLine: func(stream supervisor.Stream, line string) {
			o.publish(events.ScriptOutput, events.OutputPayload{
				Path: s.Path, RunID: s.Token, Stream: string(stream), Line: line,
			})
		},
	})

	o.finish(s, params, res, settings.HistoryLimit, logger)
}

// finish records the result, then frees the slot and starts whatever the
// queue promotes. History is committed before any promoted run begins.
func (o *Orchestrator) finish(s queue.Start, params profile.Params, res supervisor.Result, historyLimit int, logger *slog.Logger) {
	code := res.ExitCode
	entry := state.ExecutionEntry{
		ID:         s.Token,
		StartedAt:  res.StartedAt,
		DurationMs: res.Duration.Milliseconds(),
		ExitCode:   &code,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		TimedOut:   res.TimedOut,
		Canceled:   res.Canceled,
		Args:       params.Args,
		Mode:       state.ModeBackground,
		ScriptHash: res.ScriptHash,
	}
	if _, err := o.store.Record(context.Background(), s.Path, entry, historyLimit); err != nil {
		o.metrics.HistoryWriteFailed()
		logger.Error("failed to record execution", "error", err)
	}

	next, attached := o.queue.Complete(s.Path, s.Token)
	if !attached {
		logger.Info("detached run finished after force-reset; history recorded, run state untouched")
	}
	for _, n := range next {
		o.start(n)
	}

	kind, eventType, outcome := classify(res)
	o.metrics.ObserveExecution(string(state.ModeBackground), outcome, res.Duration)
	o.updateQueueMetrics()

	o.publish(eventType, events.ScriptPayload{
		Path:       s.Path,
		Name:       filepath.Base(s.Path),
		RunID:      s.Token,
		Mode:       string(state.ModeBackground),
		ExitCode:   &code,
		DurationMs: entry.DurationMs,
		TimedOut:   res.TimedOut,
		Detached:   !attached,
	})

	n := Notification{
		Path:     s.Path,
		Name:     filepath.Base(s.Path),
		Kind:     kind,
		ExitCode: code,
		Duration: res.Duration,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := o.notifier.Notify(ctx, n); err != nil {
			logger.Warn("notification failed", "error", err)
		}
	}()
}

func (o *Orchestrator) launchTerminal(ctx context.Context, path string) error {
	logger := log.WithScript(path)
	settings := o.Settings()
	params := o.resolve(ctx, path, settings, logger)

	started, err := o.runner.LaunchTerminal(path, params.Env, params.Args)
	if err != nil {
		logger.Error("terminal launch failed", "error", err)
		return fmt.Errorf("launch %s in terminal: %w", filepath.Base(path), err)
	}

	entry := state.ExecutionEntry{
		ID:         uuid.NewString(),
		StartedAt:  started,
		Args:       params.Args,
		Mode:       state.ModeTerminal,
		ScriptHash: supervisor.Fingerprint(path),
	}
	if _, err := o.store.Record(ctx, path, entry, settings.HistoryLimit); err != nil {
		o.metrics.HistoryWriteFailed()
		return fmt.Errorf("record terminal launch: %w", err)
	}

	o.metrics.ObserveExecution(string(state.ModeTerminal), metrics.OutcomeLaunched, 0)
	o.publish(events.ScriptLaunched, events.ScriptPayload{
		Path: path, Name: filepath.Base(path), RunID: entry.ID, Mode: string(state.ModeTerminal),
	})
	return nil
}

// resolve computes the effective parameters for path. An unreadable profile
// env file is logged and otherwise ignored.
func (o *Orchestrator) resolve(ctx context.Context, path string, settings state.Settings, logger *slog.Logger) profile.Params {
	rec, err := o.store.Get(ctx, path)
	if err != nil {
		logger.Warn("could not read script overrides, using defaults", "error", err)
		rec = state.ScriptRecord{Path: path}
	}
	prof, _ := profile.Resolve(path, settings.Profiles)
	params, err := profile.Effective(rec.Overrides(), prof, settings.DefaultTimeoutSeconds)
	if err != nil {
		logger.Warn("profile env file ignored", "error", err)
	}
	return params
}

func (o *Orchestrator) known(path string) bool {
	o.mu.RLock()
	_, found := slices.BinarySearch(o.scripts, path)
	o.mu.RUnlock()
	return found || o.queue.Status(path) != queue.StatusIdle
}

func (o *Orchestrator) restartWatch() {
	o.watchMu.Lock()
	defer o.watchMu.Unlock()

	if o.watch != nil {
		_ = o.watch.Close()
		o.watch = nil
	}
	if o.opts.DisableWatch {
		return
	}
	o.watch = scan.WatchAll(o.Settings().Folders, func() {
		if err := o.Rescan(context.Background()); err != nil {
			o.logger.Warn("rescan after folder change incomplete", "error", err)
		}
	}, o.opts.WatchDebounce)
}

func (o *Orchestrator) updateQueueMetrics() {
	o.metrics.SetQueue(o.queue.RunningCount(), o.queue.QueueLen())
}

func (o *Orchestrator) publish(eventType string, data any) {
	o.hub.Publish(eventType, data)
}

func classify(res supervisor.Result) (NotificationKind, string, string) {
	switch {
	case res.TimedOut:
		return NotifyTimeout, events.ScriptTimedOut, metrics.OutcomeTimeout
	case res.Canceled:
		return NotifyCanceled, events.ScriptCanceled, metrics.OutcomeCanceled
	case res.Success:
		return NotifySuccess, events.ScriptCompleted, metrics.OutcomeSuccess
	default:
		return NotifyFailure, events.ScriptFailed, metrics.OutcomeFailure
	}
}
