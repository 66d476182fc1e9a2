// Package queue is the admission state machine for script runs: a running
// set bounded by a concurrency ceiling and a strict FIFO of waiting scripts.
//
// Every transition happens under one mutex, so completing a run and
// promoting the next queued script is a single atomic step. The queue never
// spawns anything itself; callers act on the Start values it hands back.
package queue

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/scriptsrunner/internal/state"
)

type runSlot struct {
	token     string
	startedAt time.Time
}

type waiting struct {
	path       string
	enqueuedAt time.Time
}

type Queue struct {
	mu      sync.Mutex
	max     int
	running map[string]runSlot
	queued  []waiting
	now     func() time.Time
}

// New returns an empty queue admitting at most maxConcurrent runs (minimum 1).
func New(maxConcurrent int) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Queue{
		max:     maxConcurrent,
		running: make(map[string]runSlot),
		now:     time.Now,
	}
}

// Request asks to run path. It is a no-op for a script that is already
// running or queued. Terminal launches bypass admission.
func (q *Queue) Request(path string, mode state.Mode) Decision {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.running[path]; ok {
		return Decision{Kind: DecisionIgnored}
	}
	if q.indexOf(path) >= 0 {
		return Decision{Kind: DecisionIgnored}
	}
	if mode == state.ModeTerminal {
		return Decision{Kind: DecisionTerminal}
	}

	if len(q.running) < q.max {
		return Decision{Kind: DecisionStarted, Start: q.admit(path, time.Time{})}
	}
	q.queued = append(q.queued, waiting{path: path, enqueuedAt: q.now()})
	return Decision{Kind: DecisionQueued, Position: len(q.queued)}
}

// Complete frees the slot held by (path, token) and promotes queue heads
// into the free capacity. attached is false when token no longer owns the
// slot (the run was force-reset); nothing changes in that case.
func (q *Queue) Complete(path, token string) (next []Start, attached bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	slot, ok := q.running[path]
	if !ok || slot.token != token {
		return nil, false
	}
	delete(q.running, path)
	return q.promote(), true
}

// ForceReset returns path to idle from either running or queued without
// touching any process, and reports the status it was in. It never
// promotes; a late completion for the detached run is ignored by Complete.
func (q *Queue) ForceReset(path string) (Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.running[path]; ok {
		delete(q.running, path)
		return StatusRunning, true
	}
	if i := q.indexOf(path); i >= 0 {
		q.removeAt(i)
		return StatusQueued, true
	}
	return StatusIdle, false
}

// Dequeue removes a queued script without running it.
func (q *Queue) Dequeue(path string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(path)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotQueued, path)
	}
	q.removeAt(i)
	return nil
}

// Reconcile drops queued scripts that are no longer present after a rescan
// and returns them. Running scripts keep their slot until they complete.
func (q *Queue) Reconcile(present map[string]struct{}) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var dropped []string
	kept := q.queued[:0]
	for _, w := range q.queued {
		if _, ok := present[w.path]; ok {
			kept = append(kept, w)
			continue
		}
		dropped = append(dropped, w.path)
	}
	q.queued = kept
	return dropped
}

// SetMaxConcurrent changes the ceiling. Raising it promotes queue heads
// immediately; lowering it lets running scripts finish.
func (q *Queue) SetMaxConcurrent(n int) []Start {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n < 1 {
		n = 1
	}
	q.max = n
	return q.promote()
}

// Status reports where path currently is.
func (q *Queue) Status(path string) Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.running[path]; ok {
		return StatusRunning
	}
	if q.indexOf(path) >= 0 {
		return StatusQueued
	}
	return StatusIdle
}

// RunToken returns the token of the live run for path.
func (q *Queue) RunToken(path string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	slot, ok := q.running[path]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotRunning, path)
	}
	return slot.token, nil
}

func (q *Queue) RunningCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.running)
}

func (q *Queue) QueueLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queued)
}

func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := Snapshot{
		MaxConcurrent: q.max,
		Running:       make([]RunningEntry, 0, len(q.running)),
		Queued:        make([]QueuedEntry, 0, len(q.queued)),
	}
	for path, slot := range q.running {
		snap.Running = append(snap.Running, RunningEntry{Path: path, Token: slot.token, StartedAt: slot.startedAt})
	}
	sort.Slice(snap.Running, func(i, j int) bool { return snap.Running[i].Path < snap.Running[j].Path })
	for i, w := range q.queued {
		snap.Queued = append(snap.Queued, QueuedEntry{Path: w.path, EnqueuedAt: w.enqueuedAt, Position: i + 1})
	}
	return snap
}

// promote must be called with q.mu held.
func (q *Queue) promote() []Start {
	var started []Start
	for len(q.running) < q.max && len(q.queued) > 0 {
		head := q.queued[0]
		q.removeAt(0)
		started = append(started, q.admit(head.path, head.enqueuedAt))
	}
	return started
}

// admit must be called with q.mu held.
func (q *Queue) admit(path string, enqueuedAt time.Time) Start {
	s := Start{
		Path:       path,
		Token:      uuid.NewString(),
		EnqueuedAt: enqueuedAt,
		StartedAt:  q.now(),
	}
	q.running[path] = runSlot{token: s.Token, startedAt: s.StartedAt}
	return s
}

func (q *Queue) indexOf(path string) int {
	for i, w := range q.queued {
		if w.path == path {
			return i
		}
	}
	return -1
}

func (q *Queue) removeAt(i int) {
	q.queued = append(q.queued[:i], q.queued[i+1:]...)
}
