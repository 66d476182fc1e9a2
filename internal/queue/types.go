package queue

import (
	"errors"
	"time"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
)

type DecisionKind string

const (
	// DecisionIgnored: the script was already running or queued.
	DecisionIgnored DecisionKind = "ignored"
	// DecisionTerminal: terminal launches bypass admission entirely.
	DecisionTerminal DecisionKind = "terminal"
	DecisionStarted  DecisionKind = "started"
	DecisionQueued   DecisionKind = "queued"
)

var (
	ErrNotRunning = errors.New("script is not running")
	ErrNotQueued  = errors.New("script is not queued")
)

// Start admits one background run. Token identifies the run; completions
// carrying any other token for the same path are ignored.
type Start struct {
	Path       string
	Token      string
	EnqueuedAt time.Time // zero when the run was admitted directly
	StartedAt  time.Time
}

// Waited is how long the run sat in the queue.
func (s Start) Waited() time.Duration {
	if s.EnqueuedAt.IsZero() {
		return 0
	}
	return s.StartedAt.Sub(s.EnqueuedAt)
}

// Decision is the outcome of Request.
type Decision struct {
	Kind     DecisionKind
	Start    Start // set when Kind == DecisionStarted
	Position int   // 1-based queue position when Kind == DecisionQueued
}

type RunningEntry struct {
	Path      string    `json:"path"`
	Token     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
}

type QueuedEntry struct {
	Path       string    `json:"path"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Position   int       `json:"position"`
}

// Snapshot is a consistent copy of the queue state.
type Snapshot struct {
	MaxConcurrent int            `json:"max_concurrent"`
	Running       []RunningEntry `json:"running"`
	Queued        []QueuedEntry  `json:"queued"`
}
